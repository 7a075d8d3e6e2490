package raknet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fragment(id uint16, index, count uint32, payload string) *frame {
	return &frame{
		reliability: ReliableOrdered,
		orderIndex:  9,
		split:       true,
		splitID:     id,
		splitIndex:  index,
		splitCount:  count,
		payload:     []byte(payload),
	}
}

func TestSplitQueue(t *testing.T) {
	q := newSplitQueue()
	q.add(fragment(1, 2, 3, "ghi"))
	q.add(fragment(1, 0, 3, "abc"))
	assert.Empty(t, q.getAndClear())
	// duplicate fragment
	q.add(fragment(1, 0, 3, "xxx"))
	q.add(fragment(1, 1, 3, "def"))

	frames := q.getAndClear()
	require.Len(t, frames, 1)
	f := frames[0]
	assert.Equal(t, "abcdefghi", string(f.payload))
	assert.False(t, f.split)
	assert.Equal(t, ReliableOrdered, f.reliability)
	assert.EqualValues(t, 9, f.orderIndex)
	assert.Empty(t, q.entries, "completed entry should be evicted")
	assert.Empty(t, q.getAndClear())
}

func TestSplitQueueRejects(t *testing.T) {
	q := newSplitQueue()
	q.add(fragment(1, 3, 3, "x"))
	q.add(fragment(2, 0, 0, "x"))
	q.add(fragment(3, 0, maxSplitCount+1, "x"))
	assert.Empty(t, q.entries)

	q.add(fragment(4, 0, 2, "a"))
	q.add(fragment(4, 1, 3, "b"))
	assert.EqualValues(t, 1, q.entries[4].received, "fragment count must not change")

	for i := 0; i < maxSplitEntries*2; i++ {
		q.add(fragment(uint16(100+i), 0, 2, "x"))
	}
	assert.Len(t, q.entries, maxSplitEntries)
}

func TestSplitQueueRoom(t *testing.T) {
	q := newSplitQueue()
	assert.Equal(t, maxSplitEntries, q.room())
	assert.True(t, q.isNew(fragment(1, 0, 2, "a")))
	q.add(fragment(1, 0, 2, "a"))
	assert.False(t, q.isNew(fragment(1, 1, 2, "b")))
	assert.False(t, q.isNew(fragment(2, 2, 2, "b")), "invalid fragments never start an entry")
	assert.Equal(t, maxSplitEntries-1, q.room())
}
