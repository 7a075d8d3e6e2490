package raknet

import "bytes"

type splitEntry struct {
	// template carries the reliability and indices of the whole message
	template  frame
	fragments [][]byte
	received  uint32
}

// splitQueue reassembles split messages keyed by split ID.
type splitQueue struct {
	entries map[uint16]*splitEntry
}

func newSplitQueue() *splitQueue {
	return &splitQueue{entries: make(map[uint16]*splitEntry)}
}

// isNew reports whether f would start a new entry.
func (q *splitQueue) isNew(f *frame) bool {
	if f.splitCount == 0 || f.splitCount > maxSplitCount || f.splitIndex >= f.splitCount {
		return false
	}
	_, found := q.entries[f.splitID]
	return !found
}

// room is the number of entries that can still be started.
func (q *splitQueue) room() int {
	return maxSplitEntries - len(q.entries)
}

func (q *splitQueue) add(f *frame) {
	if f.splitCount == 0 || f.splitCount > maxSplitCount || f.splitIndex >= f.splitCount {
		log.Debugf("Dropping fragment %d/%d of split #%d", f.splitIndex, f.splitCount, f.splitID)
		return
	}
	e, found := q.entries[f.splitID]
	if !found {
		if len(q.entries) >= maxSplitEntries {
			log.Debugf("Too many split messages in flight, dropping split #%d", f.splitID)
			return
		}
		e = &splitEntry{template: *f, fragments: make([][]byte, f.splitCount)}
		q.entries[f.splitID] = e
	} else if e.template.splitCount != f.splitCount {
		log.Debugf("Split #%d changed fragment count from %d to %d", f.splitID, e.template.splitCount, f.splitCount)
		return
	}
	if e.fragments[f.splitIndex] != nil {
		return
	}
	e.fragments[f.splitIndex] = f.payload
	e.received++
}

// getAndClear returns every completely received message and forgets it.
func (q *splitQueue) getAndClear() []*frame {
	var out []*frame
	for id, e := range q.entries {
		if e.received != e.template.splitCount {
			continue
		}
		f := e.template
		f.split = false
		f.splitCount, f.splitID, f.splitIndex = 0, 0, 0
		f.payload = bytes.Join(e.fragments, nil)
		out = append(out, &f)
		delete(q.entries, id)
	}
	return out
}
