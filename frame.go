package raknet

import (
	"bytes"
	"fmt"
)

const flagSplit byte = 0x10

type frame struct {
	reliability   Reliability
	messageIndex  uint32
	sequenceIndex uint32
	orderIndex    uint32
	orderChannel  byte

	split      bool
	splitCount uint32
	splitID    uint16
	splitIndex uint32

	payload []byte
}

// length is the exact number of bytes encode writes.
func (f *frame) length() int {
	n := 1 + 2 + len(f.payload)
	if f.reliability.reliable() {
		n += 3
	}
	if f.reliability.sequenced() {
		n += 3
	}
	if f.reliability.sequencedOrOrdered() {
		n += 4
	}
	if f.split {
		n += 10
	}
	return n
}

func (f *frame) encode(b *bytes.Buffer) {
	header := byte(f.reliability) << 5
	if f.split {
		header |= flagSplit
	}
	b.WriteByte(header)
	writeU16(b, uint16(len(f.payload)*8))
	if f.reliability.reliable() {
		writeU24(b, f.messageIndex)
	}
	if f.reliability.sequenced() {
		writeU24(b, f.sequenceIndex)
	}
	if f.reliability.sequencedOrOrdered() {
		writeU24(b, f.orderIndex)
		b.WriteByte(f.orderChannel)
	}
	if f.split {
		writeU32(b, f.splitCount)
		writeU16(b, f.splitID)
		writeU32(b, f.splitIndex)
	}
	b.Write(f.payload)
}

func decodeFrame(r *reader) (*frame, error) {
	header, err := r.u8()
	if err != nil {
		return nil, err
	}
	f := &frame{reliability: Reliability(header >> 5), split: header&flagSplit != 0}
	if !f.reliability.valid() {
		return nil, ErrUnknownReliability
	}
	bits, err := r.u16()
	if err != nil {
		return nil, err
	}
	size := (int(bits) + 7) / 8
	if size == 0 {
		return nil, ErrEmptyFrame
	}
	if f.reliability.reliable() {
		if f.messageIndex, err = r.u24(); err != nil {
			return nil, err
		}
	}
	if f.reliability.sequenced() {
		if f.sequenceIndex, err = r.u24(); err != nil {
			return nil, err
		}
	}
	if f.reliability.sequencedOrOrdered() {
		if f.orderIndex, err = r.u24(); err != nil {
			return nil, err
		}
		if f.orderChannel, err = r.u8(); err != nil {
			return nil, err
		}
	}
	if f.split {
		if f.splitCount, err = r.u32(); err != nil {
			return nil, err
		}
		if f.splitID, err = r.u16(); err != nil {
			return nil, err
		}
		if f.splitIndex, err = r.u32(); err != nil {
			return nil, err
		}
	}
	payload, err := r.next(size)
	if err != nil {
		return nil, fmt.Errorf("frame payload of %d bytes: %w", size, err)
	}
	// the datagram buffer goes back to the pool, keep our own copy
	f.payload = append([]byte(nil), payload...)
	return f, nil
}
