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

// Package xtesting provides infrastructure for meshbuf testing.
package xtesting

import (
	"bytes"
	"fmt"
	"testing"

	"lab.nexedi.com/kirr/go123/exc"

	"lab.nexedi.com/kirr/meshbuf/message"
)

// FatalIf returns function that aborts current test if its argument is
// non-nil error.
//
// use like
//
//	X := xtesting.FatalIf(t)
//	m, err := pool.Allocate(...); X(err)
func FatalIf(t testing.TB) func(error) {
	return func(err error) {
		if err != nil {
			t.Helper()
			t.Fatal(err)
		}
	}
}

// Payload returns n bytes of deterministic test data derived from seed.
//
// Different seeds give different data, so that misplaced bytes are detected.
func Payload(seed, n int) []byte {
	b := make([]byte, n)
	x := uint32(seed)*2654435761 + 1
	for i := range b {
		x = x*1103515245 + 12345
		b[i] = byte(x >> 16)
	}
	return b
}

// NewPool creates array-backed pool for tests.
//
// It panics on error, which can only be due to a bug in the test itself.
func NewPool(numBuffers, bufSize int, reclaimv ...message.Reclaimer) *message.Pool {
	pool, err := message.NewPool(message.Config{
		Name:       "test",
		NumBuffers: numBuffers,
		BufferSize: bufSize,
		Reclaimers: reclaimv,
	})
	exc.Raiseif(err)
	return pool
}

// MustAllocate allocates message of given priority with data as payload.
func MustAllocate(pool *message.Pool, prio message.Priority, reserve int, data []byte) *message.Message {
	m, err := pool.Allocate(message.TypeIp6, reserve, message.Settings{Priority: prio})
	exc.Raiseif(err)
	err = m.AppendBytes(data)
	if err != nil {
		m.Free()
		exc.Raisef("append %d bytes: %s", len(data), err)
	}
	return m
}

// Bytes returns whole payload of m.
func Bytes(m *message.Message) []byte {
	b := make([]byte, m.Length())
	m.ReadBytes(0, b)
	return b
}

// CheckChain verifies that m buffer chain is consistent with its length, and
// that its payload is want.
func CheckChain(t testing.TB, m *message.Message, want []byte) {
	t.Helper()
	err := chainError(m)
	if err != nil {
		t.Fatalf("%s: %s", m, err)
	}
	if want != nil {
		got := Bytes(m)
		if !bytes.Equal(got, want) {
			t.Fatalf("%s: payload:\nhave: %x\nwant: %x", m, got, want)
		}
	}
}

func chainError(m *message.Message) error {
	bs := m.Pool().BufferSize()
	total := m.Reserved() + m.Length()
	nbuf := (total + bs - 1) / bs
	if nbuf == 0 {
		nbuf = 1
	}
	if n := m.BufferCount(); n != nbuf {
		return fmt.Errorf("reserved+length=%d requires %d buffers; chain has %d", total, nbuf, n)
	}
	if m.Offset() > m.Length() {
		return fmt.Errorf("offset %d > length %d", m.Offset(), m.Length())
	}
	return nil
}

// Tags returns datagram tags of messages from mhead to the end of its queue.
func Tags(mhead *message.Message) []uint32 {
	tagv := []uint32{}
	for m := mhead; m != nil; m = m.Next() {
		tagv = append(tagv, m.DatagramTag())
	}
	return tagv
}
