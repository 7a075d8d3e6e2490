package raknet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// reader walks a received datagram. Every read fails with
// io.ErrUnexpectedEOF instead of panicking when the datagram is short.
type reader struct {
	b   []byte
	off int
}

func newReader(b []byte) *reader {
	return &reader{b: b}
}

func (r *reader) remaining() int {
	return len(r.b) - r.off
}

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.b[r.off : r.off+n]
	r.off += n
	return b, nil
}

// skipTo moves the cursor to an absolute offset, never backwards.
func (r *reader) skipTo(off int) error {
	if off < r.off || off > len(r.b) {
		return io.ErrUnexpectedEOF
	}
	r.off = off
	return nil
}

func (r *reader) u8() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// u24 reads the little endian 24 bit integers used for RakNet indices.
func (r *reader) u24() (uint32, error) {
	b, err := r.next(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *reader) magic() error {
	b, err := r.next(len(offlineMagic))
	if err != nil {
		return err
	}
	if !bytes.Equal(b, offlineMagic[:]) {
		return ErrBadMagic
	}
	return nil
}

func (r *reader) str() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	b, err := r.next(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) addr() (*net.UDPAddr, error) {
	version, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch version {
	case 4:
		b, err := r.next(4)
		if err != nil {
			return nil, err
		}
		ip := net.IPv4(^b[0], ^b[1], ^b[2], ^b[3])
		port, err := r.u16()
		if err != nil {
			return nil, err
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	case 6:
		// family
		if _, err := r.next(2); err != nil {
			return nil, err
		}
		port, err := r.u16()
		if err != nil {
			return nil, err
		}
		// flow info
		if _, err := r.next(4); err != nil {
			return nil, err
		}
		b, err := r.next(net.IPv6len)
		if err != nil {
			return nil, err
		}
		ip := make(net.IP, net.IPv6len)
		copy(ip, b)
		// scope id
		if _, err := r.next(4); err != nil {
			return nil, err
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	default:
		return nil, fmt.Errorf("unknown address version %d", version)
	}
}

func writeU16(b *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	b.Write(buf[:])
}

func writeU24(b *bytes.Buffer, v uint32) {
	b.WriteByte(byte(v))
	b.WriteByte(byte(v >> 8))
	b.WriteByte(byte(v >> 16))
}

func writeU32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func writeU64(b *bytes.Buffer, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	b.Write(buf[:])
}

func writeI64(b *bytes.Buffer, v int64) {
	writeU64(b, uint64(v))
}

func writeMagic(b *bytes.Buffer) {
	b.Write(offlineMagic[:])
}

func writeString(b *bytes.Buffer, s string) {
	writeU16(b, uint16(len(s)))
	b.WriteString(s)
}

// writeAddr encodes an address in RakNet form. A nil address is written as
// the unspecified IPv6 address, which is what peers expect in the unused
// system address slots.
func writeAddr(b *bytes.Buffer, addr *net.UDPAddr) {
	var ip net.IP
	port := 0
	if addr != nil {
		ip, port = addr.IP, addr.Port
	}
	if ip4 := ip.To4(); ip4 != nil {
		b.WriteByte(4)
		for _, o := range ip4 {
			b.WriteByte(^o)
		}
		writeU16(b, uint16(port))
		return
	}
	ip16 := ip.To16()
	if ip16 == nil {
		ip16 = net.IPv6zero
	}
	b.WriteByte(6)
	// AF_INET6, little endian
	b.WriteByte(23)
	b.WriteByte(0)
	writeU16(b, uint16(port))
	writeU32(b, 0)
	b.Write(ip16)
	writeU32(b, 0)
}
