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

// Package forward provides send queue of a mesh forwarder.
//
// SendQueue orders outgoing messages by priority and, registered as a
// message.Reclaimer on the pool, gives buffers back under memory pressure by
// evicting queued messages.
package forward

import (
	"context"

	"lab.nexedi.com/kirr/meshbuf/internal/log"
	"lab.nexedi.com/kirr/meshbuf/message"
)

// SendQueue is queue of messages waiting to be transmitted.
//
// Messages are taken over by the queue on Send and are handed back to the
// caller by Next. Messages still queued when evicted or dropped are freed,
// which reports ErrDrop to their tx callback.
type SendQueue struct {
	pool   *message.Pool
	queue  message.PriorityQueue
	logctx context.Context

	// messages held for sleepy children: they are polled for and can be
	// dropped in favour of any other traffic.
	indirect map[*message.Message]struct{}

	nevict int
}

var _ message.Reclaimer = (*SendQueue)(nil)

// NewSendQueue creates new send queue for messages allocated from pool.
func NewSendQueue(pool *message.Pool) *SendQueue {
	return &SendQueue{
		pool:     pool,
		logctx:   log.WithTask(context.Background(), pool.Name()+": sendq"),
		indirect: make(map[*message.Message]struct{}),
	}
}

// Send queues m for transmission.
func (sq *SendQueue) Send(m *message.Message) error {
	if m.Pool() != sq.pool {
		return message.ErrInvalidArgs
	}
	return sq.queue.Enqueue(m)
}

// SendIndirect queues m for transmission to a sleepy child.
//
// Such message stays in the queue until the child polls for it, and is the
// first candidate for eviction regardless of its priority.
func (sq *SendQueue) SendIndirect(m *message.Message) error {
	err := sq.Send(m)
	if err != nil {
		return err
	}
	sq.indirect[m] = struct{}{}
	return nil
}

// IsIndirect returns whether m was queued via SendIndirect.
func (sq *SendQueue) IsIndirect(m *message.Message) bool {
	_, ok := sq.indirect[m]
	return ok
}

// Next dequeues message to be transmitted next, or returns nil if the queue
// is empty.
//
// The caller owns returned message and must report outcome via TxDone and
// free the message.
func (sq *SendQueue) Next() *message.Message {
	m := sq.queue.Head()
	if m == nil {
		return nil
	}
	sq.dequeue(m)
	return m
}

// Drop removes m from the queue and frees it.
func (sq *SendQueue) Drop(m *message.Message) {
	sq.dequeue(m)
	m.Free()
}

func (sq *SendQueue) dequeue(m *message.Message) {
	sq.queue.Dequeue(m)
	delete(sq.indirect, m)
}

// DropAll frees all queued messages.
func (sq *SendQueue) DropAll() {
	for m := sq.queue.Head(); m != nil; m = sq.queue.Head() {
		sq.Drop(m)
	}
}

// EvictMessage evicts one queued message to free buffers for an allocation
// of priority p.
//
// The tail of the queue - the newest message of the lowest priority - is
// evicted if its priority is lower than p and it is not marked do-not-evict.
// Otherwise the first indirect message of priority >= p is evicted.
// ErrNotFound is returned if there is nothing to evict.
func (sq *SendQueue) EvictMessage(p message.Priority) error {
	m := sq.queue.Tail()
	if m == nil {
		return message.ErrNotFound
	}

	if m.Priority() < p {
		if m.IsDoNotEvict() {
			return message.ErrNotFound
		}
		sq.evict(m, p)
		return nil
	}

	for ; p < message.NumPriorities; p++ {
		for m := sq.queue.HeadForPriority(p); m != nil && m.Priority() == p; m = m.Next() {
			if sq.IsIndirect(m) {
				sq.evict(m, p)
				return nil
			}
		}
	}
	return message.ErrNotFound
}

func (sq *SendQueue) evict(m *message.Message, p message.Priority) {
	log.Infof(sq.logctx, "evict %s for %s allocation", m, p)
	sq.nevict++
	sq.Drop(m)
}

// Reclaim implements message.Reclaimer.
func (sq *SendQueue) Reclaim(p message.Priority) error {
	return sq.EvictMessage(p)
}

// Len returns number of queued messages.
func (sq *SendQueue) Len() int { return sq.queue.Len() }

// Info returns aggregate information about queued messages.
func (sq *SendQueue) Info() message.QueueInfo { return sq.queue.Info() }

// Evictions returns how many messages were evicted so far.
func (sq *SendQueue) Evictions() int { return sq.nevict }
