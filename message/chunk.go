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
// chunk-wise scatter/gather I/O

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
)

// chunk is contiguous span of message payload inside one buffer.
//
// It does not own memory and is valid only during the call that obtained it.
type chunk struct {
	data []byte
	buf  *Buffer
}

// clamp limits chunk to *length bytes and charges *length for it.
func (c *chunk) clamp(length *int) {
	if len(c.data) > *length {
		c.data = c.data[:*length]
	}
	*length -= len(c.data)
}

// firstChunk returns chunk that covers payload starting at offset.
//
// *length is limited to what is left in the message after offset and is
// then decreased by returned chunk length. Empty chunk is returned if offset
// is at or past message end.
func (m *Message) firstChunk(offset int, length *int) chunk {
	if offset >= int(m.length) {
		return chunk{}
	}
	if offset+*length > int(m.length) {
		*length = int(m.length) - offset
	}

	bs := m.pool.bufSize
	pos := int(m.reserved) + offset
	b := m.head
	for pos >= bs {
		b = b.next
		if b == nil {
			panic("message: chunk walk past end of buffer chain")
		}
		pos -= bs
	}

	c := chunk{data: b.data[pos:], buf: b}
	c.clamp(length)
	return c
}

// nextChunk advances c to the following buffer.
//
// c becomes empty when *length reaches 0.
func (m *Message) nextChunk(length *int, c *chunk) {
	if *length == 0 {
		c.data = nil
		return
	}
	c.buf = c.buf.next
	if c.buf == nil {
		panic("message: chunk walk past end of buffer chain")
	}
	c.data = c.buf.data
	c.clamp(length)
}

// ForEachChunk calls fn for every contiguous span of payload [offset, offset+length).
//
// Spans alias message buffers. If fn returns an error, iteration stops and
// the error is returned. ErrParse is returned if the range exceeds message.
func (m *Message) ForEachChunk(offset, length int, fn func(data []byte) error) error {
	if offset < 0 || length < 0 || offset+length > int(m.length) {
		return ErrParse
	}
	c := m.firstChunk(offset, &length)
	for len(c.data) > 0 {
		err := fn(c.data)
		if err != nil {
			return err
		}
		m.nextChunk(&length, &c)
	}
	return nil
}

// writeBytes copies data into payload at offset.
//
// [offset, offset+len(data)) must be within message.
func (m *Message) writeBytes(offset int, data []byte) {
	n := len(data)
	c := m.firstChunk(offset, &n)
	for len(c.data) > 0 {
		k := copy(c.data, data)
		data = data[k:]
		m.nextChunk(&n, &c)
	}
}

// WriteBytes overwrites payload at offset with data.
func (m *Message) WriteBytes(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > int(m.length) {
		return ErrInvalidArgs
	}
	m.writeBytes(offset, data)
	return nil
}

// ReadBytes reads payload at offset into buf.
//
// It returns number of bytes read, which is less than len(buf) if message
// ends earlier.
func (m *Message) ReadBytes(offset int, buf []byte) int {
	if offset < 0 {
		return 0
	}
	n := len(buf)
	c := m.firstChunk(offset, &n)
	nread := 0
	for len(c.data) > 0 {
		nread += copy(buf[nread:], c.data)
		m.nextChunk(&n, &c)
	}
	return nread
}

// Read reads exactly len(buf) bytes of payload at offset.
//
// ErrParse is returned if message does not have that many bytes.
func (m *Message) Read(offset int, buf []byte) error {
	if m.ReadBytes(offset, buf) != len(buf) {
		return ErrParse
	}
	return nil
}

// writeFromMessage copies length bytes of src payload at readOffset into m
// payload at writeOffset. Both ranges must be valid.
func (m *Message) writeFromMessage(writeOffset int, src *Message, readOffset, length int) {
	if src != m || readOffset >= writeOffset {
		c := src.firstChunk(readOffset, &length)
		for len(c.data) > 0 {
			m.writeBytes(writeOffset, c.data)
			writeOffset += len(c.data)
			src.nextChunk(&length, &c)
		}
		return
	}

	// copy forward within the same message: go from end of the range
	// backward so that bytes are not overwritten before they are read.
	var buf [32]byte
	writeOffset += length
	readOffset += length
	for length > 0 {
		n := len(buf)
		if length < n {
			n = length
		}
		length -= n
		readOffset -= n
		writeOffset -= n
		m.ReadBytes(readOffset, buf[:n])
		m.writeBytes(writeOffset, buf[:n])
	}
}

// WriteBytesFromMessage copies length bytes of src payload at readOffset into
// m payload at writeOffset.
//
// src can be m itself and the ranges may overlap.
func (m *Message) WriteBytesFromMessage(writeOffset int, src *Message, readOffset, length int) error {
	if readOffset < 0 || length < 0 || readOffset+length > int(src.length) {
		return ErrParse
	}
	if writeOffset < 0 || writeOffset+length > int(m.length) {
		return ErrInvalidArgs
	}
	m.writeFromMessage(writeOffset, src, readOffset, length)
	return nil
}

// AppendBytesFromMessage appends length bytes of src payload at offset.
func (m *Message) AppendBytesFromMessage(src *Message, offset, length int) error {
	if offset < 0 || length < 0 || offset+length > int(src.length) {
		return ErrParse
	}
	old := int(m.length)
	err := m.SetLength(old + length)
	if err != nil {
		return err
	}
	m.writeFromMessage(old, src, offset, length)
	return nil
}

// CopyTo copies up to length bytes of payload at srcOffset into dst payload at
// dstOffset.
//
// dst is not grown: the copy is limited to what fits into both messages.
// Number of copied bytes is returned.
func (m *Message) CopyTo(srcOffset, dstOffset, length int, dst *Message) int {
	if srcOffset < 0 || dstOffset < 0 || length < 0 {
		return 0
	}
	if n := int(m.length) - srcOffset; length > n {
		length = n
	}
	if n := int(dst.length) - dstOffset; length > n {
		length = n
	}
	if length <= 0 {
		return 0
	}
	dst.writeFromMessage(dstOffset, m, srcOffset, length)
	return length
}

// WriteTo writes whole payload to w.
//
// Payload chunks are handed to w as one vector without copying them into
// contiguous memory; for network connections this results in writev.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	var bufv net.Buffers
	length := int(m.length)
	c := m.firstChunk(0, &length)
	for len(c.data) > 0 {
		bufv = append(bufv, c.data)
		m.nextChunk(&length, &c)
	}
	return bufv.WriteTo(w)
}


// ByteMatcher compares spans of equal length.
type ByteMatcher func(a, b []byte) bool

// MatchExact matches bytes exactly.
func MatchExact(a, b []byte) bool { return bytes.Equal(a, b) }

// MatchMasked returns matcher that compares only bits set in mask.
func MatchMasked(mask byte) ByteMatcher {
	return func(a, b []byte) bool {
		for i := range a {
			if a[i]&mask != b[i]&mask {
				return false
			}
		}
		return true
	}
}

// MatchIgnoringCase matches ASCII bytes case-insensitively.
func MatchIgnoringCase(a, b []byte) bool {
	for i := range a {
		if lower(a[i]) != lower(b[i]) {
			return false
		}
	}
	return true
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		c += 'a' - 'A'
	}
	return c
}

// CompareBytes returns whether payload at offset matches data.
//
// nil match means MatchExact. false is returned if message is shorter than
// offset+len(data).
func (m *Message) CompareBytes(offset int, data []byte, match ByteMatcher) bool {
	if match == nil {
		match = MatchExact
	}
	if offset < 0 || offset+len(data) > int(m.length) {
		return false
	}

	n := len(data)
	c := m.firstChunk(offset, &n)
	for len(c.data) > 0 {
		k := len(c.data)
		if !match(c.data, data[:k]) {
			return false
		}
		data = data[k:]
		m.nextChunk(&n, &c)
	}
	return true
}

// CompareBytesFromMessage returns whether length bytes of payload at offset
// match length bytes of other payload at otherOffset.
func (m *Message) CompareBytesFromMessage(offset int, other *Message, otherOffset, length int, match ByteMatcher) bool {
	if offset < 0 || otherOffset < 0 || length < 0 ||
		offset+length > int(m.length) || otherOffset+length > int(other.length) {
		return false
	}

	c := other.firstChunk(otherOffset, &length)
	for len(c.data) > 0 {
		if !m.CompareBytes(offset, c.data, match) {
			return false
		}
		offset += len(c.data)
		other.nextChunk(&length, &c)
	}
	return true
}


// ---- typed fields, big-endian ----

func (m *Message) AppendUint8(v uint8) error {
	return m.AppendBytes([]byte{v})
}

func (m *Message) AppendUint16(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return m.AppendBytes(b[:])
}

func (m *Message) AppendUint32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return m.AppendBytes(b[:])
}

func (m *Message) ReadUint8(offset int) (uint8, error) {
	var b [1]byte
	err := m.Read(offset, b[:])
	return b[0], err
}

func (m *Message) ReadUint16(offset int) (uint16, error) {
	var b [2]byte
	err := m.Read(offset, b[:])
	return binary.BigEndian.Uint16(b[:]), err
}

func (m *Message) ReadUint32(offset int) (uint32, error) {
	var b [4]byte
	err := m.Read(offset, b[:])
	return binary.BigEndian.Uint32(b[:]), err
}
