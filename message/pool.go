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
// message pool

import (
	"context"

	"github.com/pkg/errors"

	"lab.nexedi.com/kirr/meshbuf/internal/log"
)

const (
	DefaultNumBuffers = 44
	DefaultBufferSize = 128

	// MaxLength is the limit for reserved+length of a message.
	MaxLength = 0xffff
)

// Config configures a Pool.
//
// Zero values mean defaults.
type Config struct {
	Name       string  // for logging
	NumBuffers int
	BufferSize int     // bytes of payload per buffer
	Backing    Backing
	Platform   Platform // buffer memory for BackingPlatform; BufferSize must match or be 0

	// Reclaimers are asked, in order, to free buffers when the pool is exhausted.
	Reclaimers []Reclaimer
}

func (cfg *Config) normalize() error {
	if cfg.Name == "" {
		cfg.Name = "pool"
	}
	if cfg.NumBuffers == 0 {
		cfg.NumBuffers = DefaultNumBuffers
	}
	if cfg.Backing == BackingPlatform {
		// buffer size is dictated by platform memory
		if cfg.Platform == nil {
			return errors.Wrap(ErrInvalidArgs, "platform backing without platform")
		}
		psize := cfg.Platform.BufferSize()
		if cfg.BufferSize == 0 {
			cfg.BufferSize = psize
		}
		if cfg.BufferSize != psize {
			return errors.Wrapf(ErrInvalidArgs, "buffer size %d != platform buffer size %d", cfg.BufferSize, psize)
		}
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	switch {
	case cfg.NumBuffers < 0:
		return errors.Wrapf(ErrInvalidArgs, "num buffers %d", cfg.NumBuffers)
	case cfg.BufferSize < 16 || cfg.BufferSize > MaxLength:
		return errors.Wrapf(ErrInvalidArgs, "buffer size %d", cfg.BufferSize)
	}

	switch cfg.Backing {
	case BackingArray, BackingHeap, BackingPlatform:
	default:
		return errors.Wrapf(ErrInvalidArgs, "backing %d", cfg.Backing)
	}
	return nil
}

// Reclaimer frees buffers on request when a pool is exhausted.
//
// Reclaim(p) must free at least one buffer belonging to a message of priority
// strictly lower than p and return nil, or return ErrNotFound if there is
// nothing eligible.
type Reclaimer interface {
	Reclaim(p Priority) error
}

// ReclaimFunc adapts ordinary function to Reclaimer.
type ReclaimFunc func(p Priority) error

func (f ReclaimFunc) Reclaim(p Priority) error { return f(p) }

// Pool is bounded allocator of message buffers.
//
// Pool and all messages allocated from it must be used from only one
// goroutine at a time - whole subsystem is run-to-completion. Reclaimers and
// tx callbacks are invoked synchronously from inside pool operations; they
// must not call back into the operation that triggered them.
type Pool struct {
	name     string
	store    Store
	bufSize  int
	reclaimv []Reclaimer
	logctx   context.Context

	reclaiming bool // reclamation in progress; no nested reclaim

	// statistics
	nmessage    int
	nused       int
	maxUsed     int
	nallocFail  int
	nreclaim    int
}

// PoolStats is snapshot of pool counters.
type PoolStats struct {
	Name           string
	NumBuffers     int // total capacity
	NumFree        int
	NumMessages    int // live messages
	MaxBuffersUsed int
	AllocFailures  int // NewBuffer failures after reclamation
	Reclaims       int // how many times reclamation was run
}

// NewPool creates new pool according to cfg.
func NewPool(cfg Config) (*Pool, error) {
	err := cfg.normalize()
	if err != nil {
		return nil, errors.Wrapf(err, "pool %s", cfg.Name)
	}

	p := &Pool{
		name:    cfg.Name,
		bufSize: cfg.BufferSize,
		logctx:  log.WithTask(context.Background(), cfg.Name),
	}
	p.reclaimv = append(p.reclaimv, cfg.Reclaimers...)

	switch cfg.Backing {
	case BackingArray:
		p.store = newArrayStore(cfg.NumBuffers, cfg.BufferSize)
	case BackingHeap:
		p.store = newHeapStore(cfg.NumBuffers, cfg.BufferSize)
	case BackingPlatform:
		p.store = newPlatformStore(cfg.Platform, cfg.BufferSize)
	}
	return p, nil
}

// NewPoolWithStore creates new pool with buffers provided by store.
//
// bufSize must match length of every buffer store hands out.
func NewPoolWithStore(name string, store Store, bufSize int) *Pool {
	return &Pool{
		name:    name,
		store:   store,
		bufSize: bufSize,
		logctx:  log.WithTask(context.Background(), name),
	}
}

// Name returns pool name.
func (p *Pool) Name() string { return p.name }

// BufferSize returns payload bytes per buffer.
func (p *Pool) BufferSize() int { return p.bufSize }

// RegisterReclaimer appends r to the end of reclaimers list.
//
// Reclaimers are consulted in registration order.
func (p *Pool) RegisterReclaimer(r Reclaimer) {
	p.reclaimv = append(p.reclaimv, r)
}

// Allocate allocates new message with zero length.
//
// reserveHeader bytes are reserved in front of the payload for later
// PrependBytes. ErrNoBufs is returned if there is no free buffer even after
// reclamation; ErrInvalidArgs if settings.Priority is invalid.
func (p *Pool) Allocate(typ Type, reserveHeader int, settings Settings) (*Message, error) {
	if !settings.Priority.Valid() || reserveHeader < 0 || reserveHeader > MaxLength {
		return nil, ErrInvalidArgs
	}

	buf, err := p.NewBuffer(settings.Priority)
	if err != nil {
		return nil, err
	}

	m := &buf.msg
	*m = Message{
		pool:         p,
		head:         buf,
		typ:          typ,
		reserved:     uint16(reserveHeader),
		priority:     settings.Priority,
		linkSecurity: settings.LinkSecurity,
	}
	m.link.Init()
	m.rss.Reset()
	m.lqi.Reset()
	p.nmessage++

	err = m.SetLength(0)
	if err != nil {
		p.Free(m)
		return nil, err
	}
	return m, nil
}

// Free releases message and all its buffers back to the pool.
//
// If message has tx callback pending, it is invoked with ErrDrop first.
// It is a bug to free message that is still in a queue.
func (p *Pool) Free(m *Message) {
	if m.pool != p {
		panic("message: free to wrong pool")
	}
	if m.queue != nil {
		panic("message: free of queued message")
	}

	m.TxDone(ErrDrop)
	if m.queue != nil {
		panic("message: tx callback enqueued message being freed")
	}

	head := m.head
	*m = Message{} // so that stale use crashes instead of corrupting
	p.nmessage--
	p.FreeBuffers(head)
}

// NewBuffer takes one buffer from backing store.
//
// If the store is exhausted, ReclaimBuffers(priority) is run and allocation is
// retried once. ErrNoBufs is returned if there is still no buffer.
func (p *Pool) NewBuffer(priority Priority) (*Buffer, error) {
	buf := p.store.NewBuffer()
	if buf == nil && p.ReclaimBuffers(priority) == nil {
		buf = p.store.NewBuffer()
	}

	if buf == nil {
		p.nallocFail++
		if log.V(1) {
			log.Infof(p.logctx, "no available message buffer (priority %s)", priority)
		}
		return nil, ErrNoBufs
	}

	buf.next = nil
	p.nused++
	if p.nused > p.maxUsed {
		p.maxUsed = p.nused
	}
	return buf, nil
}

// FreeBuffers frees whole buffer chain starting at buf.
func (p *Pool) FreeBuffers(buf *Buffer) {
	for buf != nil {
		next := buf.next
		buf.next = nil
		p.store.FreeBuffer(buf)
		p.nused--
		buf = next
	}
}

// ReclaimBuffers asks reclaimers, in order, to free buffers held by messages
// of priority strictly lower than priority.
//
// It returns nil as soon as there is a free buffer, or ErrNotFound if
// nothing could be reclaimed.
func (p *Pool) ReclaimBuffers(priority Priority) error {
	if p.reclaiming || len(p.reclaimv) == 0 {
		return ErrNotFound
	}
	p.reclaiming = true
	defer func() {
		p.reclaiming = false
	}()

	p.nreclaim++
	for _, r := range p.reclaimv {
		// every successful Reclaim frees at least one buffer; bound the
		// loop anyway against reclaimers that free nothing.
		for i := 0; p.store.NumFree() == 0 && i < p.store.NumTotal(); i++ {
			if r.Reclaim(priority) != nil {
				break
			}
		}
		if p.store.NumFree() > 0 {
			if log.V(2) {
				log.Infof(p.logctx, "reclaim for %s: %d buffers free", priority, p.store.NumFree())
			}
			return nil
		}
	}
	return ErrNotFound
}

// FreeBufferCount returns how many buffers can be allocated without reclamation.
func (p *Pool) FreeBufferCount() int { return p.store.NumFree() }

// TotalBufferCount returns pool capacity in buffers.
func (p *Pool) TotalBufferCount() int { return p.store.NumTotal() }

// Stats returns snapshot of pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Name:           p.name,
		NumBuffers:     p.store.NumTotal(),
		NumFree:        p.store.NumFree(),
		NumMessages:    p.nmessage,
		MaxBuffersUsed: p.maxUsed,
		AllocFailures:  p.nallocFail,
		Reclaims:       p.nreclaim,
	}
}
