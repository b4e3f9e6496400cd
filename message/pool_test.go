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

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"lab.nexedi.com/kirr/meshbuf/internal/xtesting"
	. "lab.nexedi.com/kirr/meshbuf/message"
)

func TestPoolConfig(t *testing.T) {
	assert := require.New(t)

	pool, err := NewPool(Config{})
	assert.NoError(err)
	assert.Equal(pool.TotalBufferCount(), DefaultNumBuffers)
	assert.Equal(pool.FreeBufferCount(), DefaultNumBuffers)
	assert.Equal(pool.BufferSize(), DefaultBufferSize)
	assert.Equal(pool.Name(), "pool")

	for _, cfg := range []Config{
		{NumBuffers: -1},
		{BufferSize: 8},
		{BufferSize: MaxLength + 1},
		{Backing: BackingPlatform},
		{Backing: Backing(77)},
	} {
		_, err := NewPool(cfg)
		assert.Error(err, "%+v", cfg)
		assert.Equal(errors.Cause(err), ErrInvalidArgs, "%+v", cfg)
	}
}

func TestAllocateFree(t *testing.T) {
	assert := require.New(t)
	pool := xtesting.NewPool(4, 32)

	_, err := pool.Allocate(TypeIp6, 0, Settings{Priority: NumPriorities})
	assert.Equal(err, ErrInvalidArgs)
	assert.Equal(pool.FreeBufferCount(), 4)

	m, err := pool.Allocate(Type6lowpan, 16, DefaultSettings)
	assert.NoError(err)
	assert.Equal(m.Length(), 0)
	assert.Equal(m.Reserved(), 16)
	assert.Equal(m.Offset(), 0)
	assert.Equal(m.Type(), Type6lowpan)
	assert.Equal(m.Priority(), PriorityNormal)
	assert.True(m.IsLinkSecurityEnabled())
	assert.False(m.IsQueued())
	assert.Equal(m.BufferCount(), 1)
	assert.Equal(m.Rss().Average(), int8(InvalidRss))
	assert.Equal(pool.FreeBufferCount(), 3)

	// reserved header bigger than one buffer
	m2, err := pool.Allocate(TypeIp6, 40, DefaultSettings)
	assert.NoError(err)
	assert.Equal(m2.BufferCount(), 2)
	assert.Equal(pool.FreeBufferCount(), 1)

	// not enough buffers for reserved header -> nothing is leaked
	_, err = pool.Allocate(TypeIp6, 40, DefaultSettings)
	assert.Equal(err, ErrNoBufs)
	assert.Equal(pool.FreeBufferCount(), 1)

	st := pool.Stats()
	assert.Equal(st.NumMessages, 2)
	assert.Equal(st.MaxBuffersUsed, 4)
	assert.Equal(st.AllocFailures, 1)

	m.Free()
	m2.Free()
	assert.Equal(pool.FreeBufferCount(), 4)
	assert.Equal(pool.Stats().NumMessages, 0)

	// exhaustion
	var mv []*Message
	for i := 0; i < 4; i++ {
		m, err := pool.Allocate(TypeIp6, 0, DefaultSettings)
		assert.NoError(err)
		mv = append(mv, m)
	}
	_, err = pool.Allocate(TypeIp6, 0, DefaultSettings)
	assert.Equal(err, ErrNoBufs)
	assert.Equal(pool.FreeBufferCount(), 0)
	for _, m := range mv {
		m.Free()
	}
	assert.Equal(pool.FreeBufferCount(), 4)
}

func TestFreeTxCallback(t *testing.T) {
	assert := require.New(t)
	pool := xtesting.NewPool(4, 32)

	var calls []error
	cb := func(m *Message, err error) {
		calls = append(calls, err)
	}

	// freed unsent -> ErrDrop
	m := xtesting.MustAllocate(pool, PriorityNormal, 0, []byte("hello"))
	m.SetTxCallback(cb)
	m.Free()
	assert.Equal(calls, []error{ErrDrop})

	// sent -> callback invoked only once
	calls = nil
	m = xtesting.MustAllocate(pool, PriorityNormal, 0, []byte("world"))
	m.SetTxCallback(cb)
	m.TxDone(nil)
	assert.True(m.IsTxSuccess())
	m.TxDone(nil)
	m.Free()
	assert.Equal(calls, []error{nil})
}

func TestFreeQueued(t *testing.T) {
	pool := xtesting.NewPool(4, 32)
	m := xtesting.MustAllocate(pool, PriorityNormal, 0, nil)

	var q MessageQueue
	require.NoError(t, q.Enqueue(m, QueueTail))
	require.Panics(t, func() { m.Free() })

	q.Dequeue(m)
	m.Free()
	require.Equal(t, pool.FreeBufferCount(), 4)
}

func TestFreeForeign(t *testing.T) {
	pool1 := xtesting.NewPool(2, 32)
	pool2 := xtesting.NewPool(2, 32)
	m := xtesting.MustAllocate(pool1, PriorityNormal, 0, nil)
	require.Panics(t, func() { pool2.Free(m) })
	m.Free()
}

// exercise every backing store with the same workload.
func TestBackings(t *testing.T) {
	mmap, err := NewMmapPlatform(6, 64)
	if err == ErrNotSupported {
		mmap = nil
	} else if err != nil {
		t.Fatal(err)
	}

	cfgv := map[string]Config{
		"array": {NumBuffers: 6, BufferSize: 64, Backing: BackingArray},
		"heap":  {NumBuffers: 6, BufferSize: 64, Backing: BackingHeap},
	}
	if mmap != nil {
		defer func() {
			require.NoError(t, mmap.Close())
		}()
		cfgv["mmap"] = Config{BufferSize: 64, Backing: BackingPlatform, Platform: mmap}
	}

	for name, cfg := range cfgv {
		t.Run(name, func(t *testing.T) {
			assert := require.New(t)
			cfg.Name = name
			pool, err := NewPool(cfg)
			assert.NoError(err)
			assert.Equal(pool.TotalBufferCount(), 6)

			data := xtesting.Payload(7, 5*64)
			m, err := pool.Allocate(TypeIp6, 0, DefaultSettings)
			assert.NoError(err)
			assert.NoError(m.AppendBytes(data))
			assert.Equal(m.BufferCount(), 5)
			assert.Equal(pool.FreeBufferCount(), 1)
			xtesting.CheckChain(t, m, data)

			// one more than pool capacity
			assert.Equal(m.AppendBytes(make([]byte, 65)), ErrNoBufs)
			xtesting.CheckChain(t, m, data)

			m2, err := m.CloneAll()
			assert.Equal(err, ErrNoBufs)
			assert.Nil(m2)
			assert.Equal(pool.FreeBufferCount(), 1)

			m.Free()
			assert.Equal(pool.FreeBufferCount(), 6)

			// buffers are reusable after free
			m, err = pool.Allocate(TypeIp6, 0, DefaultSettings)
			assert.NoError(err)
			assert.NoError(m.AppendBytes(data))
			xtesting.CheckChain(t, m, data)
			m.Free()
			assert.Equal(pool.FreeBufferCount(), 6)
		})
	}
}

// fakePlatform hands out segments of fixed length, regardless of what it reports.
type fakePlatform struct {
	report int
	ntotal int
	free   [][]byte
}

func newFakePlatform(n, report, actual int) *fakePlatform {
	p := &fakePlatform{report: report, ntotal: n}
	for i := 0; i < n; i++ {
		p.free = append(p.free, make([]byte, actual))
	}
	return p
}

func (p *fakePlatform) BufferSize() int { return p.report }
func (p *fakePlatform) NumFree() int    { return len(p.free) }
func (p *fakePlatform) NumTotal() int   { return p.ntotal }
func (p *fakePlatform) Free(b []byte)   { p.free = append(p.free, b) }
func (p *fakePlatform) New() []byte {
	l := len(p.free)
	if l == 0 {
		return nil
	}
	b := p.free[l-1]
	p.free = p.free[:l-1]
	return b
}

// pool buffer size must agree with platform memory.
func TestPlatformBufferSize(t *testing.T) {
	assert := require.New(t)

	plat := newFakePlatform(6, 64, 64)
	_, err := NewPool(Config{Backing: BackingPlatform, Platform: plat, BufferSize: DefaultBufferSize})
	assert.Equal(errors.Cause(err), ErrInvalidArgs)

	// buffer size is taken from platform
	pool, err := NewPool(Config{Backing: BackingPlatform, Platform: plat})
	assert.NoError(err)
	assert.Equal(pool.BufferSize(), 64)

	data := xtesting.Payload(3, 100)
	m, err := pool.Allocate(TypeIp6, 0, DefaultSettings)
	assert.NoError(err)
	assert.NoError(m.AppendBytes(data))
	assert.Equal(m.BufferCount(), 2)
	xtesting.CheckChain(t, m, data)
	m.Free()
	assert.Equal(pool.FreeBufferCount(), 6)

	// platform that lies about its buffer size
	pool, err = NewPool(Config{Backing: BackingPlatform, Platform: newFakePlatform(6, 128, 64)})
	assert.NoError(err)
	assert.Panics(func() { pool.Allocate(TypeIp6, 0, DefaultSettings) })

	mmap, err := NewMmapPlatform(6, 64)
	if err == ErrNotSupported {
		return
	}
	assert.NoError(err)
	defer mmap.Close()
	_, err = NewPool(Config{Backing: BackingPlatform, Platform: mmap})
	assert.NoError(err)
	_, err = NewPool(Config{Backing: BackingPlatform, Platform: mmap, BufferSize: 128})
	assert.Equal(errors.Cause(err), ErrInvalidArgs)
}
