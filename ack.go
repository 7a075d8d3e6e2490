package raknet

import (
	"bytes"
	"sort"
)

// ackRange is an inclusive range of frame set sequence numbers.
type ackRange struct {
	min uint32
	max uint32
}

type ackPacket struct {
	nack   bool
	ranges []ackRange
}

func (p *ackPacket) id() byte {
	if p.nack {
		return idNack
	}
	return idAck
}

func (p *ackPacket) encode() []byte {
	b := bytes.NewBuffer(make([]byte, 0, 3+7*len(p.ranges)))
	b.WriteByte(p.id())
	writeU16(b, uint16(len(p.ranges)))
	for _, r := range p.ranges {
		if r.min == r.max {
			b.WriteByte(1)
			writeU24(b, r.min)
		} else {
			b.WriteByte(0)
			writeU24(b, r.min)
			writeU24(b, r.max)
		}
	}
	return b.Bytes()
}

func decodeAckPacket(b []byte) (*ackPacket, error) {
	r, err := packetReader(b, idAck, idNack)
	if err != nil {
		return nil, err
	}
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	p := &ackPacket{nack: b[0] == idNack}
	for i := 0; i < int(count); i++ {
		single, err := r.u8()
		if err != nil {
			return nil, err
		}
		min, err := r.u24()
		if err != nil {
			return nil, err
		}
		max := min
		if single == 0 {
			if max, err = r.u24(); err != nil {
				return nil, err
			}
			if max < min {
				min, max = max, min
			}
		}
		p.ranges = append(p.ranges, ackRange{min, max})
	}
	return p, nil
}

// encodeAcks splits ranges over as many packets as needed to stay within
// the mtu.
func encodeAcks(nack bool, ranges []ackRange, mtu int) [][]byte {
	perPacket := (mtu - datagramHeadroom) / 7
	if perPacket < 1 {
		perPacket = 1
	}
	var out [][]byte
	for len(ranges) > 0 {
		n := len(ranges)
		if n > perPacket {
			n = perPacket
		}
		out = append(out, (&ackPacket{nack: nack, ranges: ranges[:n]}).encode())
		ranges = ranges[n:]
	}
	return out
}

// ackQueue tracks the frame set sequence numbers received from the peer. The
// ranges are kept sorted and coalesced until the next ack is flushed, while
// the missing set remembers gaps so late arrivals are accepted exactly once.
type ackQueue struct {
	ranges  []ackRange
	missing map[uint32]struct{}
	// next is one past the highest sequence number received so far
	next uint32
}

func newAckQueue() *ackQueue {
	return &ackQueue{missing: make(map[uint32]struct{})}
}

// add records seq. It reports whether seq was seen for the first time and
// returns the sequence numbers skipped over by it, which should be nacked.
func (q *ackQueue) add(seq uint32) (fresh bool, missing []uint32) {
	if seq < q.next {
		if _, found := q.missing[seq]; !found {
			return false, nil
		}
		delete(q.missing, seq)
	} else {
		if seq-q.next >= windowSize {
			log.Debugf("Dropping frame set #%d, too far ahead of #%d", seq, q.next)
			return false, nil
		}
		missing = q.advance(seq)
	}
	q.insert(seq)
	return true, missing
}

// skip moves past seq without recording it, so seq is neither acked nor
// nacked and the peer resends its frames once the resend interval passes.
// The numbers jumped over are returned as missing, like add does.
func (q *ackQueue) skip(seq uint32) []uint32 {
	if seq < q.next || seq-q.next >= windowSize {
		return nil
	}
	return q.advance(seq)
}

func (q *ackQueue) advance(seq uint32) []uint32 {
	var missing []uint32
	for s := q.next; s < seq; s++ {
		q.missing[s] = struct{}{}
		missing = append(missing, s)
	}
	q.next = seq + 1
	q.prune()
	return missing
}

func (q *ackQueue) prune() {
	if q.next <= windowSize {
		return
	}
	floor := q.next - windowSize
	for s := range q.missing {
		if s < floor {
			delete(q.missing, s)
		}
	}
}

func (q *ackQueue) insert(seq uint32) {
	n := len(q.ranges)
	i := sort.Search(n, func(i int) bool { return q.ranges[i].max+1 >= seq })
	switch {
	case i < n && q.ranges[i].min <= seq && seq <= q.ranges[i].max:
		return
	case i < n && q.ranges[i].max+1 == seq:
		q.ranges[i].max = seq
		if i+1 < n && q.ranges[i+1].min == seq+1 {
			q.ranges[i].max = q.ranges[i+1].max
			q.ranges = append(q.ranges[:i+1], q.ranges[i+2:]...)
		}
	case i < n && q.ranges[i].min == seq+1:
		q.ranges[i].min = seq
	default:
		q.ranges = append(q.ranges, ackRange{})
		copy(q.ranges[i+1:], q.ranges[i:])
		q.ranges[i] = ackRange{seq, seq}
	}
}

func (q *ackQueue) sendableAndClear() []ackRange {
	ranges := q.ranges
	q.ranges = nil
	return ranges
}

func (q *ackQueue) missingList() []uint32 {
	list := make([]uint32, 0, len(q.missing))
	for s := range q.missing {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

// toRanges coalesces sorted sequence numbers into ranges.
func toRanges(seqs []uint32) []ackRange {
	var ranges []ackRange
	for _, s := range seqs {
		if n := len(ranges); n > 0 && ranges[n-1].max+1 == s {
			ranges[n-1].max = s
			continue
		}
		ranges = append(ranges, ackRange{s, s})
	}
	return ranges
}
