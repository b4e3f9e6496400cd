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

// Package diagcache provides cache of diagnostic data collected from devices.
//
// Cached data is kept in messages allocated from the same pool as all other
// traffic and is the cheapest thing to give up when the pool runs out: Cache
// can be registered as message.Reclaimer to free least recently used entries.
package diagcache

import (
	"context"
	"fmt"
	"unsafe"

	"lab.nexedi.com/kirr/go123/xcontainer/list"

	"lab.nexedi.com/kirr/meshbuf/internal/log"
	"lab.nexedi.com/kirr/meshbuf/message"
)

// DeviceID identifies a device diagnostic data is cached for.
type DeviceID uint16

func (d DeviceID) String() string { return fmt.Sprintf("%04x", uint16(d)) }

// Cache keeps one diagnostic message per device, bounded in buffers.
//
// Entries are kept in LRU order; Put and Get mark an entry as recently used.
// Like the pool it uses, Cache must be used from only one goroutine.
type Cache struct {
	pool       *message.Pool
	maxBuffers int
	logctx     context.Context

	entryMap map[DeviceID]*entry
	lru      lruHead // entries in LRU order, least recently used first
	idle     map[DeviceID]bool
	nbuf     int     // buffers held by all entries

	locked bool // inside Range

	stats Stats
}

// Stats are cache eviction counters.
type Stats struct {
	IdleEvictions int // evictions of idle devices data
	AnyEvictions  int // evictions of non-idle devices data
	Errors        int // failed updates
}

type entry struct {
	dev      DeviceID
	msg      *message.Message
	nbuf     int  // msg buffers accounted in Cache.nbuf
	inLRU    lruHead
	updating bool // Append in progress; not evictable
}

var _ message.Reclaimer = (*Cache)(nil)

// New creates new cache holding at most maxBuffers buffers of pool.
func New(pool *message.Pool, maxBuffers int) *Cache {
	c := &Cache{
		pool:       pool,
		maxBuffers: maxBuffers,
		logctx:     log.WithTask(context.Background(), pool.Name()+": diagcache"),
		entryMap:   make(map[DeviceID]*entry),
		idle:       make(map[DeviceID]bool),
	}
	c.lru.Init()
	return c
}

// Put caches m for device dev.
//
// Cache takes ownership of m: previous data for dev is freed, and least
// recently used entries are evicted to stay within the buffer budget. If m
// alone does not fit, it is freed too and ErrNoBufs is returned. Putting the
// message already cached for dev only marks it as recently used.
func (c *Cache) Put(dev DeviceID, m *message.Message) error {
	if c.locked {
		return message.ErrInvalidState
	}
	if m.IsQueued() {
		return message.ErrInvalidState
	}

	e := c.entryMap[dev]
	if e == nil {
		e = &entry{dev: dev}
		e.inLRU.Init()
		c.entryMap[dev] = e
	} else if e.msg != nil && e.msg != m {
		e.msg.Free()
	}
	e.msg = m
	c.account(e)
	e.inLRU.MoveBefore(&c.lru.Head)

	c.trim()
	if c.entryMap[dev] != e {
		return message.ErrNoBufs
	}
	return nil
}

// Append appends length bytes of src at offset to data cached for dev.
//
// The entry is not evictable while data is being copied. If the copy fails -
// e.g. the pool is out of buffers - whole entry is dropped, so that partial
// data is never served.
func (c *Cache) Append(dev DeviceID, src *message.Message, offset, length int) (err error) {
	if c.locked {
		return message.ErrInvalidState
	}

	e := c.entryMap[dev]
	if e == nil {
		e = &entry{dev: dev}
		e.inLRU.Init()
		c.entryMap[dev] = e
	}
	e.inLRU.MoveBefore(&c.lru.Head)

	e.updating = true
	defer func() {
		e.updating = false
		if err == nil {
			c.account(e)
			c.trim()
			if c.entryMap[dev] != e {
				err = message.ErrNoBufs // did not fit into budget
			}
			return
		}

		c.stats.Errors++
		log.Warningf(c.logctx, "%s: update: %s", dev, err)
		c.remove(e)
	}()

	if e.msg == nil {
		e.msg, err = c.pool.Allocate(message.TypeOther, 0, message.Settings{Priority: message.PriorityLow})
		if err != nil {
			return err
		}
	}
	return e.msg.AppendBytesFromMessage(src, offset, length)
}

// account updates buffers accounting after e.msg changed.
func (c *Cache) account(e *entry) {
	n := 0
	if e.msg != nil {
		n = e.msg.BufferCount()
	}
	c.nbuf += n - e.nbuf
	e.nbuf = n
}

// trim evicts least recently used entries while cache is over budget.
func (c *Cache) trim() {
	for h := c.lru.Next(); c.nbuf > c.maxBuffers && h != &c.lru; {
		e := h.entry()
		h = h.Next()
		if e.updating {
			continue
		}
		c.remove(e)
	}
}

// Get returns data cached for dev, or nil.
//
// The message stays owned by the cache and must not be freed or queued.
func (c *Cache) Get(dev DeviceID) *message.Message {
	e := c.entryMap[dev]
	if e == nil || e.msg == nil {
		return nil
	}
	if !c.locked {
		e.inLRU.MoveBefore(&c.lru.Head)
	}
	return e.msg
}

// SetIdle marks device as idle or not.
//
// Idle devices keep their receiver on and respond to queries at once, so their
// cached data is evicted first.
func (c *Cache) SetIdle(dev DeviceID, idle bool) {
	if idle {
		c.idle[dev] = true
	} else {
		delete(c.idle, dev)
	}
}

// IsIdle returns whether dev was marked idle.
func (c *Cache) IsIdle(dev DeviceID) bool { return c.idle[dev] }

// Remove drops data cached for dev.
func (c *Cache) Remove(dev DeviceID) error {
	if c.locked {
		return message.ErrInvalidState
	}
	e := c.entryMap[dev]
	if e == nil {
		return message.ErrNotFound
	}
	c.remove(e)
	return nil
}

func (c *Cache) remove(e *entry) {
	e.inLRU.Delete()
	delete(c.entryMap, e.dev)
	if e.msg != nil {
		e.msg.Free()
		e.msg = nil
	}
	c.account(e)
}

// Range calls fn for every cached entry, least recently used first, until fn
// returns false.
//
// The cache is locked while Range runs: modifications and evictions fail
// with ErrInvalidState.
func (c *Cache) Range(fn func(dev DeviceID, m *message.Message) bool) {
	if c.locked {
		panic("diagcache: nested Range")
	}
	c.locked = true
	defer func() {
		c.locked = false
	}()

	for h := c.lru.Next(); h != &c.lru; h = h.Next() {
		e := h.entry()
		if e.msg == nil {
			continue
		}
		if !fn(e.dev, e.msg) {
			break
		}
	}
}

// Len returns number of cached entries.
func (c *Cache) Len() int { return len(c.entryMap) }

// BufferCount returns number of buffers held by cached data.
func (c *Cache) BufferCount() int { return c.nbuf }

// Info returns aggregate information about cached messages.
func (c *Cache) Info() message.QueueInfo {
	qi := message.QueueInfo{NumMessages: len(c.entryMap), NumBuffers: c.nbuf}
	for _, e := range c.entryMap {
		if e.msg != nil {
			qi.TotalBytes += e.msg.Length()
		}
	}
	return qi
}

// Stats returns eviction counters.
func (c *Cache) Stats() Stats { return c.stats }

// EvictCache frees least recently used entry.
//
// If onlyIdle, only entries of idle devices are considered; otherwise idle
// devices are still tried first. Entries being updated are skipped.
// ErrNotFound is returned if nothing could be evicted, ErrInvalidState if the
// cache is locked by Range.
func (c *Cache) EvictCache(onlyIdle bool) error {
	if c.locked {
		return message.ErrInvalidState
	}

	if e := c.oldest(true); e != nil {
		log.Infof(c.logctx, "evict %s (idle), %d buffers", e.dev, e.nbuf)
		c.stats.IdleEvictions++
		c.remove(e)
		return nil
	}
	if onlyIdle {
		return message.ErrNotFound
	}
	if e := c.oldest(false); e != nil {
		log.Infof(c.logctx, "evict %s, %d buffers", e.dev, e.nbuf)
		c.stats.AnyEvictions++
		c.remove(e)
		return nil
	}
	return message.ErrNotFound
}

// oldest returns least recently used evictable entry holding data.
func (c *Cache) oldest(onlyIdle bool) *entry {
	for h := c.lru.Next(); h != &c.lru; h = h.Next() {
		e := h.entry()
		if e.updating || e.msg == nil {
			continue
		}
		if onlyIdle && !c.idle[e.dev] {
			continue
		}
		return e
	}
	return nil
}

// Reclaim implements message.Reclaimer.
//
// Cached data is of low priority: nothing is freed for Low requesters. Net
// requesters may evict data of any device, others only of idle devices.
func (c *Cache) Reclaim(p message.Priority) error {
	if p <= message.PriorityLow {
		return message.ErrNotFound
	}
	return c.EvictCache(p < message.PriorityNet)
}


// list head that knows it is in entry.inLRU
type lruHead struct {
	list.Head
}

// XXX vvv strictly speaking -unsafe.Offsetof(h.Head)
func (h *lruHead) Next() *lruHead { return (*lruHead)(unsafe.Pointer(h.Head.Next())) }

// entry: .inLRU -> .
func (h *lruHead) entry() (e *entry) {
	ue := unsafe.Pointer(uintptr(unsafe.Pointer(h)) - unsafe.Offsetof(e.inLRU))
	return (*entry)(ue)
}
