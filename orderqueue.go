package raknet

// orderQueue holds the payloads of ordered frames of one channel until they
// can be delivered in order. It is maintained as a ring buffer with fixed
// size: a payload is placed at the position indexed by the remainder of its
// order index divided by the buffer size. Indices below min were already
// delivered and indices min+size or beyond don't fit, both are dropped.
type orderQueue struct {
	buf  [][]byte
	size uint32
	// min is the order index of the next payload to deliver
	min uint32
}

func newOrderQueue(size int) *orderQueue {
	return &orderQueue{
		buf:  make([][]byte, size),
		size: uint32(size),
	}
}

// fits reports whether index is already delivered or inside the window.
func (q *orderQueue) fits(index uint32) bool {
	return index < q.min || index-q.min < q.size
}

func (q *orderQueue) add(index uint32, payload []byte) bool {
	if index < q.min || index-q.min >= q.size {
		log.Tracef("Dropping ordered frame #%d outside of [%d, %d)", index, q.min, q.min+q.size)
		return false
	}
	idx := index % q.size
	if q.buf[idx] != nil {
		// retransmission, ignore
		return false
	}
	q.buf[idx] = payload
	return true
}

// take drains at most limit payloads of the contiguous run starting at min.
// Whatever is left stays queued in order.
func (q *orderQueue) take(limit int) [][]byte {
	var out [][]byte
	for len(out) < limit {
		idx := q.min % q.size
		if q.buf[idx] == nil {
			return out
		}
		out = append(out, q.buf[idx])
		q.buf[idx] = nil
		q.min++
	}
	return out
}

// sequencer passes sequenced frames of one channel through only if they are
// newer than anything delivered before. Nothing is buffered.
type sequencer struct {
	next uint32
}

func (s *sequencer) accept(index uint32) bool {
	if index < s.next {
		return false
	}
	s.next = index + 1
	return true
}
