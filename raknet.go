// Package raknet implements the RakNet reliable UDP transport as spoken by
// Minecraft: Bedrock Edition. It layers sessions, per message reliability,
// ordering and fragmentation on top of a plain net.PacketConn.
//
// A connection starts with an offline handshake. Offline packets carry a 16
// byte magic so they can be told apart from stray traffic.
//
//       client                                      server
//         |--- OpenConnectionRequest1 (padded) ------>|
//         |<-- OpenConnectionReply1 (guid, mtu) ------|
//         |--- OpenConnectionRequest2 (addr, mtu) --->|
//         |<-- OpenConnectionReply2 ------------------|  session created
//         |=== ConnectionRequest ====================>|
//         |<== ConnectionRequestAccepted =============|  server: Connected
//         |=== NewIncomingConnection ================>|  client: Connected
//
// Once the session exists every datagram is either an Ack, a Nack or a frame
// set. A frame set carries a 24 bit little endian sequence number followed by
// one or more frames.
//
//       -------------------------------------------------
//      |  flags(1)  |  sequence number(3)  |  frames ... |
//       -------------------------------------------------
//
// Each frame is prefixed by its reliability in the top three bits of the
// header and the payload size in bits. The index fields are only present when
// the reliability requires them.
//
//       ---------------------------------------------------------------------
//      |  header(1)  |  bits(2)  |  message index(3)  |  sequence index(3)  |
//       ---------------------------------------------------------------------
//      |  order index(3)  |  channel(1)  |  split info(10)  |  payload ...  |
//       ---------------------------------------------------------------------
//
// Acks and Nacks carry inclusive ranges of frame set sequence numbers.
//
//       -----------------------------------------------------------------
//      |  0xc0/0xa0  |  count(2)  |  single(1)  |  min(3)  |  [max(3)]  |
//       -----------------------------------------------------------------
//
// A frame set that is neither acked nor nacked within the resend interval is
// sent again under a fresh sequence number.
package raknet

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/getlantern/golog"
	"github.com/google/uuid"
)

const (
	// ProtocolVersion is the RakNet protocol version spoken by this package.
	ProtocolVersion byte = 10

	// DefaultMTU is the largest MTU a client proposes.
	DefaultMTU = 1492
	minMTU     = 576

	// frame set header plus UDP/IP overhead
	datagramHeadroom = 42
	// a message smaller than mtu - messageHeadroom is sent as a single frame
	messageHeadroom = 142
	// payload carried by every fragment of a split message
	fragmentHeadroom = 152

	maxSplitCount   = 2048
	maxSplitEntries = 64
	windowSize      = 2048
	systemAddresses = 20

	// event queue slots kept free for Connected and Disconnected
	reservedEvents = 2
)

const (
	idConnectedPing                  byte = 0x00
	idUnconnectedPing                byte = 0x01
	idUnconnectedPingOpenConnections byte = 0x02
	idConnectedPong                  byte = 0x03
	idOpenConnectionRequest1         byte = 0x05
	idOpenConnectionReply1           byte = 0x06
	idOpenConnectionRequest2         byte = 0x07
	idOpenConnectionReply2           byte = 0x08
	idConnectionRequest              byte = 0x09
	idConnectionRequestAccepted      byte = 0x10
	idAlreadyConnected               byte = 0x12
	idNewIncomingConnection          byte = 0x13
	idDisconnected                   byte = 0x15
	idConnectionBanned               byte = 0x17
	idIncompatibleProtocolVersion    byte = 0x19
	idUnconnectedPong                byte = 0x1c
	idNack                           byte = 0xa0
	idAck                            byte = 0xc0
)

const (
	flagDatagram       byte = 0x80
	flagAck            byte = 0x40
	flagNack           byte = 0x20
	flagContinuousSend byte = 0x08
	flagNeedsBAndAS    byte = 0x04
)

var offlineMagic = [16]byte{0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe, 0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78}

var (
	ErrClosed             = errors.New("closed connection")
	ErrNotConnected       = errors.New("not connected")
	ErrMessageTooLarge    = errors.New("message too large")
	ErrBadMagic           = errors.New("bad offline magic")
	ErrUnknownReliability = errors.New("unknown reliability")
	ErrEmptyFrame         = errors.New("empty frame")
	ErrUnknownPacket      = errors.New("unknown packet")
	log                   = golog.LoggerFor("raknet")
)

// newGUID returns a random 64 bit identifier for the local peer.
func newGUID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

// timestamp is the millisecond clock carried by pings and the connection
// handshake.
func timestamp() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
