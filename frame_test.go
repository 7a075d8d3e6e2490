package raknet

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameLength(t *testing.T) {
	for r := Unreliable; r <= ReliableOrderedACKReceipt; r++ {
		for _, split := range []bool{false, true} {
			f := &frame{
				reliability:   r,
				messageIndex:  0x010203,
				sequenceIndex: 0x040506,
				orderIndex:    0x070809,
				orderChannel:  3,
				payload:       []byte("hello raknet"),
			}
			if split {
				f.split = true
				f.splitCount = 3
				f.splitID = 7
				f.splitIndex = 2
			}
			var b bytes.Buffer
			f.encode(&b)
			assert.Equal(t, f.length(), b.Len(), "%v split=%v", r, split)

			decoded, err := decodeFrame(newReader(b.Bytes()))
			if !assert.NoError(t, err, "%v split=%v", r, split) {
				continue
			}
			assert.Equal(t, r, decoded.reliability)
			assert.Equal(t, split, decoded.split)
			assert.Equal(t, f.payload, decoded.payload)
			if r.reliable() {
				assert.Equal(t, f.messageIndex, decoded.messageIndex)
			}
			if r.sequenced() {
				assert.Equal(t, f.sequenceIndex, decoded.sequenceIndex)
			}
			if r.sequencedOrOrdered() {
				assert.Equal(t, f.orderIndex, decoded.orderIndex)
				assert.Equal(t, f.orderChannel, decoded.orderChannel)
			}
			if split {
				assert.EqualValues(t, 3, decoded.splitCount)
				assert.EqualValues(t, 7, decoded.splitID)
				assert.EqualValues(t, 2, decoded.splitIndex)
			}
		}
	}
}

func TestReliabilityClasses(t *testing.T) {
	var reliable, ordered, sequenced []Reliability
	for r := Unreliable; r <= ReliableOrderedACKReceipt; r++ {
		if r.reliable() {
			reliable = append(reliable, r)
		}
		if r.ordered() {
			ordered = append(ordered, r)
		}
		if r.sequenced() {
			sequenced = append(sequenced, r)
		}
	}
	assert.Equal(t, []Reliability{Reliable, ReliableOrdered, ReliableSequenced, ReliableACKReceipt, ReliableOrderedACKReceipt}, reliable)
	assert.Equal(t, []Reliability{ReliableOrdered, ReliableOrderedACKReceipt}, ordered)
	assert.Equal(t, []Reliability{UnreliableSequenced, ReliableSequenced}, sequenced)
	assert.False(t, Reliability(8).valid())
}

func TestDecodeFrameErrors(t *testing.T) {
	f := &frame{reliability: ReliableOrdered, payload: []byte("abc")}
	var b bytes.Buffer
	f.encode(&b)
	data := b.Bytes()
	for n := 0; n < len(data); n++ {
		_, err := decodeFrame(newReader(data[:n]))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "truncated to %d", n)
	}

	_, err := decodeFrame(newReader([]byte{0x00, 0x00, 0x00}))
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestFrameBitLengthRoundsUp(t *testing.T) {
	// 17 bits means 3 bytes
	decoded, err := decodeFrame(newReader([]byte{0x00, 0x00, 0x11, 'a', 'b', 'c'}))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), decoded.payload)
}

func TestFrameSetHeader(t *testing.T) {
	set := newFrameSet(&frame{payload: []byte{1}})
	assert.Equal(t, byte(0x84), set.header)
	set = newFrameSet(&frame{payload: []byte{1}, split: true, splitCount: 2})
	assert.Equal(t, byte(0x8c), set.header)

	set.sequence = 0x123456
	decoded, err := decodeFrameSet(set.encode())
	require.NoError(t, err)
	assert.EqualValues(t, 0x123456, decoded.sequence)
	assert.Equal(t, byte(0x8c), decoded.header)
}
