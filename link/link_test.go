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

package link

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"lab.nexedi.com/kirr/meshbuf/internal/xtesting"
	"lab.nexedi.com/kirr/meshbuf/message"
)

type frame struct {
	typ  message.Type
	prio message.Priority
	data []byte
}

func (f frame) alloc(t *testing.T, pool *message.Pool) *message.Message {
	t.Helper()
	X := xtesting.FatalIf(t)
	m, err := pool.Allocate(f.typ, 0, message.Settings{Priority: f.prio}); X(err)
	X(m.AppendBytes(f.data))
	return m
}

func (f frame) check(t *testing.T, m *message.Message) {
	t.Helper()
	if m.Type() != f.typ || m.Priority() != f.prio {
		t.Fatalf("%s: want type %s priority %s", m, f.typ, f.prio)
	}
	xtesting.CheckChain(t, m, f.data)
}

var testFrames = []frame{
	{message.TypeIp6, message.PriorityNormal, xtesting.Payload(1, 40)},
	{message.TypeOther, message.PriorityLow, []byte{}},
	{message.Type6lowpan, message.PriorityNet, xtesting.Payload(2, 100)},
	{message.TypeIp4, message.PriorityHigh, xtesting.Payload(3, 5000)}, // > initial scratch
	{message.TypeSupervision, message.PriorityNet, xtesting.Payload(4, 3)},
}

// all frames are put into one buffer, so that receiver gets several frames per read.
func TestLinkBuffered(t *testing.T) {
	X := xtesting.FatalIf(t)
	txpool := xtesting.NewPool(64, 128)
	rxpool := xtesting.NewPool(64, 128)

	var stream bytes.Buffer
	tx := NewLink(&stream, txpool)
	for _, f := range testFrames {
		m := f.alloc(t, txpool)
		X(tx.SendMessage(m))
		m.Free()
	}
	require.Equal(t, txpool.FreeBufferCount(), 64)

	rx := NewLink(&stream, rxpool)
	for _, f := range testFrames {
		m, err := rx.RecvMessage(); X(err)
		f.check(t, m)
		m.Free()
	}
	require.Equal(t, rxpool.FreeBufferCount(), 64)

	_, err := rx.RecvMessage()
	require.IsType(t, &LinkError{}, err)
	require.Equal(t, errors.Cause(err), io.EOF)
}

func TestLinkPipe(t *testing.T) {
	txpool := xtesting.NewPool(64, 128)
	rxpool := xtesting.NewPool(64, 128)
	c1, c2 := net.Pipe()
	tx := NewLink(c1, txpool)
	rx := NewLink(c2, rxpool)

	wg := errgroup.Group{}
	wg.Go(func() error {
		defer c1.Close()
		for _, f := range testFrames {
			m := f.alloc(t, txpool)
			err := tx.SendMessage(m)
			m.Free()
			if err != nil {
				return err
			}
		}
		return nil
	})

	for _, f := range testFrames {
		m, err := rx.RecvMessage()
		if err != nil {
			t.Fatal(err)
		}
		f.check(t, m)
		m.Free()
	}
	_, err := rx.RecvMessage()
	require.Equal(t, errors.Cause(err), io.EOF)

	if err := wg.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestLinkNoBufs(t *testing.T) {
	X := xtesting.FatalIf(t)
	assert := require.New(t)
	txpool := xtesting.NewPool(16, 32)
	rxpool := xtesting.NewPool(2, 32)

	var stream bytes.Buffer
	tx := NewLink(&stream, txpool)
	big := frame{message.TypeIp6, message.PriorityNormal, xtesting.Payload(5, 100)}
	small := frame{message.TypeIp6, message.PriorityLow, xtesting.Payload(6, 10)}
	for _, f := range []frame{big, small} {
		m := f.alloc(t, txpool)
		X(tx.SendMessage(m))
		m.Free()
	}

	rx := NewLink(&stream, rxpool)
	_, err := rx.RecvMessage()
	assert.Error(err)
	assert.Equal(errors.Cause(err), message.ErrNoBufs)
	assert.Equal(rxpool.FreeBufferCount(), 2)

	// the frame was consumed as whole; stream stays in sync
	m, err := rx.RecvMessage(); X(err)
	small.check(t, m)
	m.Free()
}

func TestLinkBadFrame(t *testing.T) {
	assert := require.New(t)
	pool := xtesting.NewPool(4, 32)

	// truncated payload
	rx := NewLink(bytes.NewBuffer([]byte{0, 10, 0, 1, 'a', 'b', 'c'}), pool)
	_, err := rx.RecvMessage()
	assert.Equal(errors.Cause(err), io.ErrUnexpectedEOF)

	// truncated header
	rx = NewLink(bytes.NewBuffer([]byte{0, 10}), pool)
	_, err = rx.RecvMessage()
	assert.Equal(errors.Cause(err), io.ErrUnexpectedEOF)

	// invalid priority
	rx = NewLink(bytes.NewBuffer([]byte{0, 1, 0, 7, 'x'}), pool)
	_, err = rx.RecvMessage()
	assert.True(errors.Is(err, message.ErrParse), "%v", err)

	// frame too big
	rx = NewLink(bytes.NewBuffer([]byte{0xff, 0xff, 0, 1}), pool)
	_, err = rx.RecvMessage()
	assert.Equal(errors.Cause(err), ErrFrameTooBig)

	assert.Equal(pool.FreeBufferCount(), 4)
}
