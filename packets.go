package raknet

import (
	"bytes"
	"fmt"
	"net"
)

// packetReader checks the packet ID and returns a reader positioned right
// after it.
func packetReader(b []byte, ids ...byte) (*reader, error) {
	r := newReader(b)
	id, err := r.u8()
	if err != nil {
		return nil, err
	}
	for _, expected := range ids {
		if id == expected {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownPacket, id)
}

func newPacket(id byte, size int) *bytes.Buffer {
	b := bytes.NewBuffer(make([]byte, 0, size))
	b.WriteByte(id)
	return b
}

type unconnectedPing struct {
	sendTime int64
	guid     uint64
}

func (p *unconnectedPing) encode() []byte {
	b := newPacket(idUnconnectedPing, 33)
	writeI64(b, p.sendTime)
	writeMagic(b)
	writeU64(b, p.guid)
	return b.Bytes()
}

func decodeUnconnectedPing(b []byte) (*unconnectedPing, error) {
	r, err := packetReader(b, idUnconnectedPing, idUnconnectedPingOpenConnections)
	if err != nil {
		return nil, err
	}
	p := &unconnectedPing{}
	if p.sendTime, err = r.i64(); err != nil {
		return nil, err
	}
	if err = r.magic(); err != nil {
		return nil, err
	}
	if p.guid, err = r.u64(); err != nil {
		return nil, err
	}
	return p, nil
}

type unconnectedPong struct {
	sendTime int64
	guid     uint64
	motd     string
}

func (p *unconnectedPong) encode() []byte {
	b := newPacket(idUnconnectedPong, 35+len(p.motd))
	writeI64(b, p.sendTime)
	writeU64(b, p.guid)
	writeMagic(b)
	writeString(b, p.motd)
	return b.Bytes()
}

func decodeUnconnectedPong(b []byte) (*unconnectedPong, error) {
	r, err := packetReader(b, idUnconnectedPong)
	if err != nil {
		return nil, err
	}
	p := &unconnectedPong{}
	if p.sendTime, err = r.i64(); err != nil {
		return nil, err
	}
	if p.guid, err = r.u64(); err != nil {
		return nil, err
	}
	if err = r.magic(); err != nil {
		return nil, err
	}
	if p.motd, err = r.str(); err != nil {
		return nil, err
	}
	return p, nil
}

// openConnectionRequest1 is padded so the whole datagram tests the MTU. The
// 28 missing bytes are the IP and UDP headers.
type openConnectionRequest1 struct {
	protocol byte
	mtu      uint16
}

func (p *openConnectionRequest1) encode() []byte {
	size := int(p.mtu) - 28
	if size < 18 {
		size = 18
	}
	b := newPacket(idOpenConnectionRequest1, size)
	writeMagic(b)
	b.WriteByte(p.protocol)
	b.Write(make([]byte, size-b.Len()))
	return b.Bytes()
}

func decodeOpenConnectionRequest1(b []byte) (*openConnectionRequest1, error) {
	r, err := packetReader(b, idOpenConnectionRequest1)
	if err != nil {
		return nil, err
	}
	if err = r.magic(); err != nil {
		return nil, err
	}
	p := &openConnectionRequest1{mtu: uint16(len(b) + 28)}
	if p.protocol, err = r.u8(); err != nil {
		return nil, err
	}
	return p, nil
}

type openConnectionReply1 struct {
	guid     uint64
	security bool
	mtu      uint16
}

func (p *openConnectionReply1) encode() []byte {
	b := newPacket(idOpenConnectionReply1, 28)
	writeMagic(b)
	writeU64(b, p.guid)
	b.WriteByte(boolByte(p.security))
	writeU16(b, p.mtu)
	return b.Bytes()
}

func decodeOpenConnectionReply1(b []byte) (*openConnectionReply1, error) {
	r, err := packetReader(b, idOpenConnectionReply1)
	if err != nil {
		return nil, err
	}
	if err = r.magic(); err != nil {
		return nil, err
	}
	p := &openConnectionReply1{}
	if p.guid, err = r.u64(); err != nil {
		return nil, err
	}
	security, err := r.u8()
	if err != nil {
		return nil, err
	}
	p.security = security != 0
	if p.mtu, err = r.u16(); err != nil {
		return nil, err
	}
	return p, nil
}

type openConnectionRequest2 struct {
	serverAddr *net.UDPAddr
	mtu        uint16
	guid       uint64
}

func (p *openConnectionRequest2) encode() []byte {
	b := newPacket(idOpenConnectionRequest2, 64)
	writeMagic(b)
	writeAddr(b, p.serverAddr)
	writeU16(b, p.mtu)
	writeU64(b, p.guid)
	return b.Bytes()
}

func decodeOpenConnectionRequest2(b []byte) (*openConnectionRequest2, error) {
	r, err := packetReader(b, idOpenConnectionRequest2)
	if err != nil {
		return nil, err
	}
	if err = r.magic(); err != nil {
		return nil, err
	}
	p := &openConnectionRequest2{}
	if p.serverAddr, err = r.addr(); err != nil {
		return nil, err
	}
	if p.mtu, err = r.u16(); err != nil {
		return nil, err
	}
	if p.guid, err = r.u64(); err != nil {
		return nil, err
	}
	return p, nil
}

type openConnectionReply2 struct {
	guid       uint64
	clientAddr *net.UDPAddr
	mtu        uint16
	encryption bool
}

func (p *openConnectionReply2) encode() []byte {
	b := newPacket(idOpenConnectionReply2, 64)
	writeMagic(b)
	writeU64(b, p.guid)
	writeAddr(b, p.clientAddr)
	writeU16(b, p.mtu)
	b.WriteByte(boolByte(p.encryption))
	return b.Bytes()
}

func decodeOpenConnectionReply2(b []byte) (*openConnectionReply2, error) {
	r, err := packetReader(b, idOpenConnectionReply2)
	if err != nil {
		return nil, err
	}
	if err = r.magic(); err != nil {
		return nil, err
	}
	p := &openConnectionReply2{}
	if p.guid, err = r.u64(); err != nil {
		return nil, err
	}
	if p.clientAddr, err = r.addr(); err != nil {
		return nil, err
	}
	if p.mtu, err = r.u16(); err != nil {
		return nil, err
	}
	encryption, err := r.u8()
	if err != nil {
		return nil, err
	}
	p.encryption = encryption != 0
	return p, nil
}

type connectionRequest struct {
	guid     uint64
	sendTime int64
	security bool
}

func (p *connectionRequest) encode() []byte {
	b := newPacket(idConnectionRequest, 18)
	writeU64(b, p.guid)
	writeI64(b, p.sendTime)
	b.WriteByte(boolByte(p.security))
	return b.Bytes()
}

func decodeConnectionRequest(b []byte) (*connectionRequest, error) {
	r, err := packetReader(b, idConnectionRequest)
	if err != nil {
		return nil, err
	}
	p := &connectionRequest{}
	if p.guid, err = r.u64(); err != nil {
		return nil, err
	}
	if p.sendTime, err = r.i64(); err != nil {
		return nil, err
	}
	security, err := r.u8()
	if err != nil {
		return nil, err
	}
	p.security = security != 0
	return p, nil
}

// connectionRequestAccepted carries 20 system addresses that nobody reads.
// Decoding jumps straight to the two trailing timestamps.
type connectionRequestAccepted struct {
	clientAddr   *net.UDPAddr
	systemIndex  uint16
	requestTime  int64
	acceptedTime int64
}

func (p *connectionRequestAccepted) encode() []byte {
	b := newPacket(idConnectionRequestAccepted, 64+29*systemAddresses)
	writeAddr(b, p.clientAddr)
	writeU16(b, p.systemIndex)
	for i := 0; i < systemAddresses; i++ {
		writeAddr(b, nil)
	}
	writeI64(b, p.requestTime)
	writeI64(b, p.acceptedTime)
	return b.Bytes()
}

func decodeConnectionRequestAccepted(b []byte) (*connectionRequestAccepted, error) {
	r, err := packetReader(b, idConnectionRequestAccepted)
	if err != nil {
		return nil, err
	}
	p := &connectionRequestAccepted{}
	if p.clientAddr, err = r.addr(); err != nil {
		return nil, err
	}
	if p.systemIndex, err = r.u16(); err != nil {
		return nil, err
	}
	if err = r.skipTo(len(b) - 16); err != nil {
		return nil, err
	}
	if p.requestTime, err = r.i64(); err != nil {
		return nil, err
	}
	if p.acceptedTime, err = r.i64(); err != nil {
		return nil, err
	}
	return p, nil
}

type newIncomingConnection struct {
	serverAddr   *net.UDPAddr
	requestTime  int64
	acceptedTime int64
}

func (p *newIncomingConnection) encode() []byte {
	b := newPacket(idNewIncomingConnection, 64+29*systemAddresses)
	writeAddr(b, p.serverAddr)
	for i := 0; i < systemAddresses; i++ {
		writeAddr(b, nil)
	}
	writeI64(b, p.requestTime)
	writeI64(b, p.acceptedTime)
	return b.Bytes()
}

func decodeNewIncomingConnection(b []byte) (*newIncomingConnection, error) {
	r, err := packetReader(b, idNewIncomingConnection)
	if err != nil {
		return nil, err
	}
	p := &newIncomingConnection{}
	if p.serverAddr, err = r.addr(); err != nil {
		return nil, err
	}
	if err = r.skipTo(len(b) - 16); err != nil {
		return nil, err
	}
	if p.requestTime, err = r.i64(); err != nil {
		return nil, err
	}
	if p.acceptedTime, err = r.i64(); err != nil {
		return nil, err
	}
	return p, nil
}

type incompatibleProtocolVersion struct {
	protocol byte
	guid     uint64
}

func (p *incompatibleProtocolVersion) encode() []byte {
	b := newPacket(idIncompatibleProtocolVersion, 26)
	b.WriteByte(p.protocol)
	writeMagic(b)
	writeU64(b, p.guid)
	return b.Bytes()
}

func decodeIncompatibleProtocolVersion(b []byte) (*incompatibleProtocolVersion, error) {
	r, err := packetReader(b, idIncompatibleProtocolVersion)
	if err != nil {
		return nil, err
	}
	p := &incompatibleProtocolVersion{}
	if p.protocol, err = r.u8(); err != nil {
		return nil, err
	}
	if err = r.magic(); err != nil {
		return nil, err
	}
	if p.guid, err = r.u64(); err != nil {
		return nil, err
	}
	return p, nil
}

// guidReply is the body shared by AlreadyConnected and ConnectionBanned.
type guidReply struct {
	id   byte
	guid uint64
}

func (p *guidReply) encode() []byte {
	b := newPacket(p.id, 25)
	writeMagic(b)
	writeU64(b, p.guid)
	return b.Bytes()
}

func decodeGUIDReply(b []byte) (*guidReply, error) {
	r, err := packetReader(b, idAlreadyConnected, idConnectionBanned)
	if err != nil {
		return nil, err
	}
	p := &guidReply{id: b[0]}
	if err = r.magic(); err != nil {
		return nil, err
	}
	if p.guid, err = r.u64(); err != nil {
		return nil, err
	}
	return p, nil
}

type connectedPing struct {
	sendTime int64
}

func (p *connectedPing) encode() []byte {
	b := newPacket(idConnectedPing, 9)
	writeI64(b, p.sendTime)
	return b.Bytes()
}

func decodeConnectedPing(b []byte) (*connectedPing, error) {
	r, err := packetReader(b, idConnectedPing)
	if err != nil {
		return nil, err
	}
	p := &connectedPing{}
	if p.sendTime, err = r.i64(); err != nil {
		return nil, err
	}
	return p, nil
}

type connectedPong struct {
	pingTime int64
	pongTime int64
}

func (p *connectedPong) encode() []byte {
	b := newPacket(idConnectedPong, 17)
	writeI64(b, p.pingTime)
	writeI64(b, p.pongTime)
	return b.Bytes()
}

func decodeConnectedPong(b []byte) (*connectedPong, error) {
	r, err := packetReader(b, idConnectedPong)
	if err != nil {
		return nil, err
	}
	p := &connectedPong{}
	if p.pingTime, err = r.i64(); err != nil {
		return nil, err
	}
	if p.pongTime, err = r.i64(); err != nil {
		return nil, err
	}
	return p, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
