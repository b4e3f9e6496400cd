// Copyright (C) 2017-2026  Nexedi SA and Contributors.
//
// This program is free software: you can Use, Study, Modify and Redistribute
// it under the terms of the GNU General Public License version 3, or (at your
// option) any later version, as published by the Free Software Foundation.
//
// You can also Link and Combine this program with other software covered by
// the terms of any of the Free Software licenses or any of the Open Source
// Initiative approved licenses and Convey the resulting work. Corresponding
// source of such a combination shall include the source code for all other
// software used.
//
// This program is distributed WITHOUT ANY WARRANTY; without even the implied
// warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
//
// See COPYING file for full licensing terms.
// See https://www.nexedi.com/licensing for rationale and options.

package message_test

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"

	"lab.nexedi.com/kirr/meshbuf/internal/xtesting"
	. "lab.nexedi.com/kirr/meshbuf/message"
)

// tagged allocates message with datagram tag set to tag.
func tagged(pool *Pool, prio Priority, tag uint32) *Message {
	m := xtesting.MustAllocate(pool, prio, 0, nil)
	m.SetDatagramTag(tag)
	return m
}

func checkTags(t *testing.T, head *Message, want ...uint32) {
	t.Helper()
	if want == nil {
		want = []uint32{}
	}
	if diff := pretty.Compare(xtesting.Tags(head), want); diff != "" {
		t.Fatalf("queue order:\n%s", diff)
	}
}

func TestMessageQueue(t *testing.T) {
	assert := require.New(t)
	pool := xtesting.NewPool(8, 32)

	var q MessageQueue
	assert.True(q.IsEmpty())
	assert.Nil(q.Head())
	assert.Nil(q.Tail())
	assert.Equal(q.Len(), 0)

	a := tagged(pool, PriorityNormal, 'A')
	b := tagged(pool, PriorityNormal, 'B')
	c := tagged(pool, PriorityNormal, 'C')

	// [A,B,C] at tail -> A,B,C
	for _, m := range []*Message{a, b, c} {
		assert.NoError(q.Enqueue(m, QueueTail))
	}
	checkTags(t, q.Head(), 'A', 'B', 'C')
	assert.Equal(q.Tail(), c)
	assert.Equal(q.Len(), 3)
	assert.Nil(a.Prev())
	assert.Equal(b.Prev(), a)
	assert.Nil(c.Next())

	for _, want := range []*Message{a, b, c} {
		m := q.Head()
		assert.Equal(m, want)
		q.Dequeue(m)
		assert.False(m.IsQueued())
		assert.Nil(m.Next())
	}
	assert.True(q.IsEmpty())

	// C at head among [A,B] -> C,A,B
	assert.NoError(q.Enqueue(a, QueueTail))
	assert.NoError(q.Enqueue(b, QueueTail))
	assert.NoError(q.Enqueue(c, QueueHead))
	checkTags(t, q.Head(), 'C', 'A', 'B')

	// dequeue from the middle
	q.Dequeue(a)
	checkTags(t, q.Head(), 'C', 'B')
	assert.Equal(q.Tail(), b)

	q.DequeueAndFreeAll()
	assert.True(q.IsEmpty())
	a.Free()
	assert.Equal(pool.FreeBufferCount(), 8)
}

func TestQueueExclusive(t *testing.T) {
	assert := require.New(t)
	pool := xtesting.NewPool(4, 32)

	var qa, qb MessageQueue
	var pq PriorityQueue
	m := tagged(pool, PriorityNormal, 1)

	assert.NoError(qa.Enqueue(m, QueueTail))
	assert.Equal(qa.Enqueue(m, QueueTail), ErrInvalidState)
	assert.Equal(qb.Enqueue(m, QueueHead), ErrInvalidState)
	assert.Equal(pq.Enqueue(m), ErrInvalidState)
	assert.Panics(func() { qb.Dequeue(m) })
	assert.Panics(func() { pq.Dequeue(m) })
	checkTags(t, qa.Head(), 1)
	assert.True(qb.IsEmpty())

	qa.Dequeue(m)
	assert.Panics(func() { qa.Dequeue(m) })

	// can be queued again after dequeue
	assert.NoError(qb.Enqueue(m, QueueTail))
	qb.Dequeue(m)
	assert.NoError(pq.Enqueue(m))
	pq.DequeueAndFree(m)

	assert.Equal(pool.FreeBufferCount(), 4)
}

func TestQueueInfo(t *testing.T) {
	assert := require.New(t)
	pool := xtesting.NewPool(10, 32)

	var q MessageQueue
	m1 := xtesting.MustAllocate(pool, PriorityNormal, 0, make([]byte, 10))
	m2 := xtesting.MustAllocate(pool, PriorityNormal, 0, make([]byte, 70))
	m3 := xtesting.MustAllocate(pool, PriorityNormal, 32, nil)
	for _, m := range []*Message{m1, m2, m3} {
		assert.NoError(q.Enqueue(m, QueueTail))
	}

	assert.Equal(q.Info(), QueueInfo{NumMessages: 3, NumBuffers: 1 + 3 + 1, TotalBytes: 80})

	q.DequeueAndFree(m2)
	assert.Equal(q.Info(), QueueInfo{NumMessages: 2, NumBuffers: 2, TotalBytes: 10})
	q.DequeueAndFreeAll()
	assert.Equal(q.Info(), QueueInfo{})
	assert.Equal(pool.FreeBufferCount(), 10)
}
