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

//go:build linux

package message
// platform buffer pool over anonymous memory mapping

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MmapPlatform is Platform whose buffers are carved from one anonymous
// memory mapping, outside of Go heap.
//
// Call Close to unmap the memory after the pool using it is no longer used.
type MmapPlatform struct {
	mem  []byte
	size int
	free []int // indices of free segments, used as stack
}

var _ Platform = (*MmapPlatform)(nil)

// NewMmapPlatform maps memory for n buffers of size bytes each.
func NewMmapPlatform(n, size int) (_ *MmapPlatform, err error) {
	if n <= 0 || size <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgs, "mmap platform: n=%d size=%d", n, size)
	}
	mem, err := unix.Mmap(-1, 0, n*size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "mmap platform")
	}

	p := &MmapPlatform{mem: mem, size: size, free: make([]int, n)}
	for i := range p.free {
		p.free[i] = n - 1 - i // so that segment 0 is handed out first
	}
	return p, nil
}

func (p *MmapPlatform) BufferSize() int { return p.size }

func (p *MmapPlatform) New() []byte {
	l := len(p.free)
	if l == 0 {
		return nil
	}
	i := p.free[l-1]
	p.free = p.free[:l-1]
	return p.mem[i*p.size : (i+1)*p.size : (i+1)*p.size]
}

func (p *MmapPlatform) Free(b []byte) {
	// segment index from its position inside the mapping
	off := int(uintptr(unsafe.Pointer(&b[0])) - uintptr(unsafe.Pointer(&p.mem[0])))
	if len(b) != p.size || off < 0 || off >= len(p.mem) || off%p.size != 0 {
		panic("mmap platform: free of foreign memory")
	}
	p.free = append(p.free, off/p.size)
}

func (p *MmapPlatform) NumFree() int  { return len(p.free) }
func (p *MmapPlatform) NumTotal() int { return len(p.mem) / p.size }

// Close unmaps the memory.
func (p *MmapPlatform) Close() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}
