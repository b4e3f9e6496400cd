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
// FIFO message queue

import (
	"unsafe"

	"lab.nexedi.com/kirr/go123/xcontainer/list"
)

// list head that knows it is in Message.link
type queueHead struct {
	list.Head
}

// XXX vvv strictly speaking -unsafe.Offsetof(h.Head)
func headToQueue(h *list.Head) *queueHead { return (*queueHead)(unsafe.Pointer(h)) }

// Message: .link -> .
func (h *queueHead) message() (m *Message) {
	um := unsafe.Pointer(uintptr(unsafe.Pointer(h)) - unsafe.Offsetof(m.link))
	return (*Message)(um)
}

// queueOwner is implemented by MessageQueue and PriorityQueue.
type queueOwner interface {
	// sentinel returns list head of the queue.
	sentinel() *list.Head
}

// Next returns message following m in its queue, or nil.
func (m *Message) Next() *Message {
	if m.queue == nil {
		return nil
	}
	h := m.link.Next()
	if h == m.queue.sentinel() {
		return nil
	}
	return headToQueue(h).message()
}

// Prev returns message preceding m in its queue, or nil.
func (m *Message) Prev() *Message {
	if m.queue == nil {
		return nil
	}
	h := m.link.Prev()
	if h == m.queue.sentinel() {
		return nil
	}
	return headToQueue(h).message()
}

// QueuePosition tells where MessageQueue.Enqueue puts a message.
type QueuePosition int

const (
	QueueTail QueuePosition = iota
	QueueHead
)

// QueueInfo is aggregate information about queued messages.
type QueueInfo struct {
	NumMessages int
	NumBuffers  int
	TotalBytes  int // sum of message lengths
}

func (qi *QueueInfo) add(m *Message) {
	qi.NumMessages++
	qi.NumBuffers += m.BufferCount()
	qi.TotalBytes += int(m.length)
}

// MessageQueue is FIFO of messages.
//
// The queue does not own its messages: whoever dequeues a message becomes
// responsible for freeing it. Zero value is an empty queue.
type MessageQueue struct {
	head list.Head
}

func (q *MessageQueue) sentinel() *list.Head {
	if q.head.Next() == nil {
		q.head.Init()
	}
	return &q.head
}

// Enqueue adds m to the tail or the head of the queue.
//
// ErrInvalidState is returned if m is already in a queue.
func (q *MessageQueue) Enqueue(m *Message, pos QueuePosition) error {
	if m.queue != nil {
		return ErrInvalidState
	}

	s := q.sentinel()
	switch pos {
	case QueueHead:
		m.link.MoveBefore(s.Next())
	default:
		m.link.MoveBefore(s)
	}
	m.queue = q
	return nil
}

// Dequeue removes m from the queue.
//
// m must be in q.
func (q *MessageQueue) Dequeue(m *Message) {
	if m.queue != queueOwner(q) {
		panic("message: dequeue of message not in this queue")
	}
	m.link.Delete()
	m.queue = nil
}

// DequeueAndFree removes m from the queue and frees it.
func (q *MessageQueue) DequeueAndFree(m *Message) {
	q.Dequeue(m)
	m.Free()
}

// DequeueAndFreeAll frees all queued messages.
func (q *MessageQueue) DequeueAndFreeAll() {
	for m := q.Head(); m != nil; m = q.Head() {
		q.DequeueAndFree(m)
	}
}

// Head returns first message in the queue, or nil.
func (q *MessageQueue) Head() *Message {
	s := q.sentinel()
	if s.Next() == s {
		return nil
	}
	return headToQueue(s.Next()).message()
}

// Tail returns last message in the queue, or nil.
func (q *MessageQueue) Tail() *Message {
	s := q.sentinel()
	if s.Prev() == s {
		return nil
	}
	return headToQueue(s.Prev()).message()
}

func (q *MessageQueue) IsEmpty() bool {
	return q.Head() == nil
}

// Len returns number of queued messages.
func (q *MessageQueue) Len() int {
	n := 0
	for m := q.Head(); m != nil; m = m.Next() {
		n++
	}
	return n
}

// Info returns aggregate information about queued messages.
//
// It walks whole queue.
func (q *MessageQueue) Info() QueueInfo {
	var qi QueueInfo
	for m := q.Head(); m != nil; m = m.Next() {
		qi.add(m)
	}
	return qi
}
