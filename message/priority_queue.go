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

package message
// priority queue

import (
	"lab.nexedi.com/kirr/go123/xcontainer/list"
)

// PriorityQueue is queue of messages ordered by priority.
//
// Messages of higher priority come first (net, high, normal, low); messages
// of the same priority are kept in FIFO order. The last message of every
// priority level is tracked, so Enqueue and Dequeue are O(1).
//
// Zero value is an empty queue. Like MessageQueue it does not own messages.
type PriorityQueue struct {
	head  list.Head
	tails [NumPriorities]*Message // last message of each priority; nil if level is empty
}

func (q *PriorityQueue) sentinel() *list.Head {
	if q.head.Next() == nil {
		q.head.Init()
	}
	return &q.head
}

// findTailForPriorityOrHigher returns tail of the lowest non-empty priority
// level that is >= p, or nil if all such levels are empty.
func (q *PriorityQueue) findTailForPriorityOrHigher(p Priority) *Message {
	for ; p < NumPriorities; p++ {
		if tail := q.tails[p]; tail != nil {
			return tail
		}
	}
	return nil
}

// Enqueue adds m after last message of its priority.
//
// ErrInvalidState is returned if m is already in a queue.
func (q *PriorityQueue) Enqueue(m *Message) error {
	if m.queue != nil {
		return ErrInvalidState
	}

	s := q.sentinel()
	tail := q.findTailForPriorityOrHigher(m.priority)
	if tail != nil {
		m.link.MoveBefore(tail.link.Next())
	} else {
		m.link.MoveBefore(s.Next())
	}
	q.tails[m.priority] = m
	m.queue = q
	return nil
}

// Dequeue removes m from the queue.
//
// m must be in q.
func (q *PriorityQueue) Dequeue(m *Message) {
	if m.queue != queueOwner(q) {
		panic("message: dequeue of message not in this priority queue")
	}

	p := m.priority
	if q.tails[p] == m {
		prev := m.Prev()
		if prev != nil && prev.priority == p {
			q.tails[p] = prev
		} else {
			q.tails[p] = nil
		}
	}

	m.link.Delete()
	m.queue = nil
}

// DequeueAndFree removes m from the queue and frees it.
func (q *PriorityQueue) DequeueAndFree(m *Message) {
	q.Dequeue(m)
	m.Free()
}

// DequeueAndFreeAll frees all queued messages.
func (q *PriorityQueue) DequeueAndFreeAll() {
	for m := q.Head(); m != nil; m = q.Head() {
		q.DequeueAndFree(m)
	}
}

// Head returns first message - the oldest one of highest priority - or nil.
func (q *PriorityQueue) Head() *Message {
	s := q.sentinel()
	if s.Next() == s {
		return nil
	}
	return headToQueue(s.Next()).message()
}

// HeadForPriority returns first message of priority p, or nil if there is none.
func (q *PriorityQueue) HeadForPriority(p Priority) *Message {
	if !p.Valid() || q.tails[p] == nil {
		return nil
	}
	prevTail := q.findTailForPriorityOrHigher(p + 1)
	if prevTail == nil {
		return q.Head()
	}
	return prevTail.Next()
}

// Tail returns last message - the newest one of lowest priority - or nil.
func (q *PriorityQueue) Tail() *Message {
	return q.findTailForPriorityOrHigher(PriorityLow)
}

// TailForPriority returns last message of priority p, or nil.
func (q *PriorityQueue) TailForPriority(p Priority) *Message {
	if !p.Valid() {
		return nil
	}
	return q.tails[p]
}

func (q *PriorityQueue) IsEmpty() bool {
	return q.Tail() == nil
}

// Len returns number of queued messages.
func (q *PriorityQueue) Len() int {
	n := 0
	for m := q.Head(); m != nil; m = m.Next() {
		n++
	}
	return n
}

// Info returns aggregate information about queued messages.
func (q *PriorityQueue) Info() QueueInfo {
	var qi QueueInfo
	for m := q.Head(); m != nil; m = m.Next() {
		qi.add(m)
	}
	return qi
}
