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
// buffers and their backing storage

import (
	"fmt"

	"github.com/eapache/queue"

	"lab.nexedi.com/kirr/go123/mem"
)

// Buffer is one fixed-size allocation unit of a Pool.
//
// Buffers are chained via next into messages. The first buffer of a chain
// (head buffer) additionally carries the message metadata block - Message
// itself lives inside its head buffer, so a *Message stays the same for
// whole message lifetime and allocating a message costs exactly one buffer.
//
// A Buffer is owned by exactly one message or by the store free list at a time.
type Buffer struct {
	next *Buffer
	data []byte   // len = pool buffer size

	msg  Message  // valid only while the buffer heads a message

	mbuf *mem.Buf // memory data comes from, for heap backing
}

// Next returns next buffer in the chain, or nil.
func (b *Buffer) Next() *Buffer { return b.next }

// Bytes returns buffer memory.
func (b *Buffer) Bytes() []byte { return b.data }


// Store is backing storage message buffers are drawn from.
//
// NewBuffer returns nil when the storage is exhausted. A Store is used from
// only one goroutine - the one that owns the Pool.
type Store interface {
	NewBuffer() *Buffer
	FreeBuffer(*Buffer)
	NumFree() int
	NumTotal() int
}

// Backing selects which Store a Pool is created with.
type Backing int

const (
	BackingArray    Backing = iota // fixed in-process array (default)
	BackingHeap                    // buffers are allocated from heap on demand, up to the limit
	BackingPlatform                // buffers come from Config.Platform
)

func (b Backing) String() string {
	switch b {
	case BackingArray:
		return "array"
	case BackingHeap:
		return "heap"
	case BackingPlatform:
		return "platform"
	}
	return "?"
}

// Platform is buffer pool API supplied by a platform.
//
// New returns memory for one buffer, or nil if there is no free memory.
// Returned slices must all be BufferSize long.
type Platform interface {
	BufferSize() int
	New() []byte
	Free([]byte)
	NumFree() int
	NumTotal() int
}


// ---- array ----

// arrayStore carves all buffers from one contiguous slab allocated upfront.
//
// Free buffers are kept in a FIFO ring, so a just freed buffer is reused last.
type arrayStore struct {
	bufv []Buffer
	slab []byte
	free *queue.Queue // of *Buffer
}

func newArrayStore(n, size int) *arrayStore {
	s := &arrayStore{
		bufv: make([]Buffer, n),
		slab: make([]byte, n*size),
		free: queue.New(),
	}
	for i := range s.bufv {
		b := &s.bufv[i]
		b.data = s.slab[i*size : (i+1)*size : (i+1)*size]
		s.free.Add(b)
	}
	return s
}

func (s *arrayStore) NewBuffer() *Buffer {
	if s.free.Length() == 0 {
		return nil
	}
	return s.free.Remove().(*Buffer)
}

func (s *arrayStore) FreeBuffer(b *Buffer) { s.free.Add(b) }
func (s *arrayStore) NumFree() int         { return s.free.Length() }
func (s *arrayStore) NumTotal() int        { return len(s.bufv) }


// ---- heap ----

// heapStore allocates buffer memory from go123/mem freelists on demand.
type heapStore struct {
	size int
	max  int
	live int
}

func newHeapStore(n, size int) *heapStore {
	return &heapStore{size: size, max: n}
}

func (s *heapStore) NewBuffer() *Buffer {
	if s.live >= s.max {
		return nil
	}
	mbuf := mem.BufAlloc(s.size)
	s.live++
	return &Buffer{data: mbuf.Data, mbuf: mbuf}
}

func (s *heapStore) FreeBuffer(b *Buffer) {
	b.mbuf.Release()
	b.mbuf = nil
	b.data = nil
	s.live--
}

func (s *heapStore) NumFree() int  { return s.max - s.live }
func (s *heapStore) NumTotal() int { return s.max }


// ---- platform ----

// platformStore attaches memory provided by Platform to Buffer shells.
type platformStore struct {
	plat   Platform
	size   int
	shells *queue.Queue // of *Buffer with .data=nil
}

func newPlatformStore(plat Platform, size int) *platformStore {
	return &platformStore{plat: plat, size: size, shells: queue.New()}
}

func (s *platformStore) NewBuffer() *Buffer {
	data := s.plat.New()
	if data == nil {
		return nil
	}
	if len(data) != s.size {
		s.plat.Free(data)
		panic(fmt.Sprintf("message: platform buffer of %d bytes; want %d", len(data), s.size))
	}
	var b *Buffer
	if s.shells.Length() > 0 {
		b = s.shells.Remove().(*Buffer)
	} else {
		b = &Buffer{}
	}
	b.data = data
	return b
}

func (s *platformStore) FreeBuffer(b *Buffer) {
	s.plat.Free(b.data)
	b.data = nil
	s.shells.Add(b)
}

func (s *platformStore) NumFree() int  { return s.plat.NumFree() }
func (s *platformStore) NumTotal() int { return s.plat.NumTotal() }
