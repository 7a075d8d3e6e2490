package raknet

import (
	"sort"
	"time"
)

type sendEntry struct {
	set      *frameSet
	sentAt   time.Time
	inFlight bool
}

// sendQueue batches outgoing frames into frame sets and keeps every frame
// set until the peer acks it. A frame set that is nacked or not acked within
// resendInterval is queued again under a new sequence number, the old number
// is forgotten.
type sendQueue struct {
	mtu            int
	resendInterval time.Duration

	nextSeq uint32
	// cursor is the first sequence number not yet handed out by getPackets
	cursor  uint32
	entries map[uint32]*sendEntry

	pending     []*frame
	pendingSize int
}

func newSendQueue(mtu int, resendInterval time.Duration) *sendQueue {
	return &sendQueue{
		mtu:            mtu,
		resendInterval: resendInterval,
		entries:        make(map[uint32]*sendEntry),
	}
}

func (q *sendQueue) budget() int {
	return q.mtu - datagramHeadroom
}

func (q *sendQueue) addFrame(f *frame) {
	if f.split {
		q.flush()
		q.push(newFrameSet(f))
		return
	}
	size := f.length()
	if len(q.pending) > 0 && q.pendingSize+size >= q.budget() {
		q.flush()
	}
	q.pending = append(q.pending, f)
	q.pendingSize += size
}

func (q *sendQueue) flush() {
	if len(q.pending) == 0 {
		return
	}
	q.push(newFrameSet(q.pending...))
	q.pending = nil
	q.pendingSize = 0
}

func (q *sendQueue) push(set *frameSet) {
	set.sequence = q.nextSeq
	q.entries[q.nextSeq] = &sendEntry{set: set}
	q.nextSeq++
}

func (q *sendQueue) requeue(seq uint32) {
	e, found := q.entries[seq]
	if !found {
		return
	}
	delete(q.entries, seq)
	q.push(e.set)
	log.Tracef("Resending frame set #%d as #%d", seq, e.set.sequence)
}

// getPackets returns every frame set due to be written at now.
func (q *sendQueue) getPackets(now time.Time) []*frameSet {
	q.flush()
	var expired []uint32
	for seq, e := range q.entries {
		if e.inFlight && now.Sub(e.sentAt) >= q.resendInterval {
			expired = append(expired, seq)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	for _, seq := range expired {
		q.requeue(seq)
	}
	var sets []*frameSet
	for ; q.cursor != q.nextSeq; q.cursor++ {
		e, found := q.entries[q.cursor]
		if !found {
			continue
		}
		e.inFlight = true
		e.sentAt = now
		sets = append(sets, e.set)
	}
	return sets
}

func (q *sendQueue) received(seq uint32) {
	delete(q.entries, seq)
}

func (q *sendQueue) receivedRange(r ackRange) {
	q.eachInRange(r, q.received)
}

func (q *sendQueue) resend(seq uint32) {
	q.requeue(seq)
}

func (q *sendQueue) resendRange(r ackRange) {
	q.eachInRange(r, q.resend)
}

// eachInRange walks whichever is smaller, the range or the table, so a bogus
// range from the peer can't cost millions of lookups.
func (q *sendQueue) eachInRange(r ackRange, fn func(uint32)) {
	if r.max < r.min {
		return
	}
	var seqs []uint32
	if uint64(r.max-r.min)+1 <= uint64(len(q.entries)) {
		for seq := r.min; ; seq++ {
			if _, found := q.entries[seq]; found {
				seqs = append(seqs, seq)
			}
			if seq == r.max {
				break
			}
		}
	} else {
		for seq := range q.entries {
			if seq >= r.min && seq <= r.max {
				seqs = append(seqs, seq)
			}
		}
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	}
	// collected first, fn may add entries
	for _, seq := range seqs {
		fn(seq)
	}
}

// len is the number of frame sets not yet acked.
func (q *sendQueue) len() int {
	return len(q.entries) + len(q.pending)
}
