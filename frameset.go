package raknet

import (
	"bytes"

	pool "github.com/libp2p/go-buffer-pool"
)

type frameSet struct {
	header   byte
	sequence uint32
	frames   []*frame
}

func newFrameSet(frames ...*frame) *frameSet {
	header := flagDatagram | flagNeedsBAndAS
	if len(frames) == 1 && frames[0].split {
		header |= flagContinuousSend
	}
	return &frameSet{header: header, frames: frames}
}

func (fs *frameSet) length() int {
	n := 4
	for _, f := range fs.frames {
		n += f.length()
	}
	return n
}

// encode writes the frame set into a buffer taken from the pool. The caller
// returns it with pool.Put once written to the wire.
func (fs *frameSet) encode() []byte {
	buf := pool.Get(fs.length())
	b := bytes.NewBuffer(buf[:0])
	b.WriteByte(fs.header)
	writeU24(b, fs.sequence)
	for _, f := range fs.frames {
		f.encode(b)
	}
	return b.Bytes()
}

func decodeFrameSet(b []byte) (*frameSet, error) {
	r := newReader(b)
	header, err := r.u8()
	if err != nil {
		return nil, err
	}
	seq, err := r.u24()
	if err != nil {
		return nil, err
	}
	fs := &frameSet{header: header, sequence: seq}
	for r.remaining() > 0 {
		f, err := decodeFrame(r)
		if err != nil {
			return nil, err
		}
		fs.frames = append(fs.frames, f)
	}
	return fs, nil
}
