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

//go:build !linux

package message

// MmapPlatform is not available on this OS.
type MmapPlatform struct{}

var _ Platform = (*MmapPlatform)(nil)

// NewMmapPlatform returns ErrNotSupported on this OS.
func NewMmapPlatform(n, size int) (*MmapPlatform, error) {
	return nil, ErrNotSupported
}

func (p *MmapPlatform) BufferSize() int { return 0 }
func (p *MmapPlatform) New() []byte    { return nil }
func (p *MmapPlatform) Free([]byte)    {}
func (p *MmapPlatform) NumFree() int   { return 0 }
func (p *MmapPlatform) NumTotal() int  { return 0 }
func (p *MmapPlatform) Close() error   { return nil }
