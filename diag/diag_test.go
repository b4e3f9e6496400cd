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

package diag

import (
	"bytes"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/pkg/errors"
	"github.com/shamaton/msgpack"
	"github.com/stretchr/testify/require"
	"github.com/tinylib/msgp/msgp"

	"lab.nexedi.com/kirr/meshbuf/internal/xtesting"
	"lab.nexedi.com/kirr/meshbuf/message"
)

// setup returns snapshot of pool with 3 messages in 2 queues.
func setup(t *testing.T) (*message.Pool, *Snapshot) {
	X := xtesting.FatalIf(t)
	pool := xtesting.NewPool(16, 32)

	fifo := &message.MessageQueue{}
	prio := &message.PriorityQueue{}
	X(fifo.Enqueue(xtesting.MustAllocate(pool, message.PriorityLow, 0, xtesting.Payload(1, 10)), message.QueueTail))
	X(fifo.Enqueue(xtesting.MustAllocate(pool, message.PriorityLow, 0, xtesting.Payload(2, 40)), message.QueueTail))
	X(prio.Enqueue(xtesting.MustAllocate(pool, message.PriorityNet, 0, nil)))

	s := Take(pool, NamedQueue{"fifo", fifo}, NamedQueue{"prio", prio})
	return pool, s
}

func TestTake(t *testing.T) {
	_, s := setup(t)
	want := &Snapshot{
		Name:           "test",
		Buffers:        16,
		FreeBuffers:    12,
		Messages:       3,
		MaxBuffersUsed: 4,
		Queues: []QueueStat{
			{Name: "fifo", Messages: 2, Buffers: 3, Bytes: 50},
			{Name: "prio", Messages: 1, Buffers: 1, Bytes: 0},
		},
	}
	if diff := pretty.Compare(s, want); diff != "" {
		t.Fatalf("snapshot:\n%s", diff)
	}
	require.Equal(t, s.UsedBuffers(), 4)
}

func TestMsgpack(t *testing.T) {
	X := xtesting.FatalIf(t)
	_, s := setup(t)
	s.AllocFailures = 300 // not a fixint
	s.Reclaims = 70000

	data := s.AppendMsgpack(nil)

	s2, err := Decode(data); X(err)
	if diff := pretty.Compare(s2, s); diff != "" {
		t.Fatalf("decode:\n%s", diff)
	}

	// layout is a map, understandable without knowing Snapshot type
	var raw map[string]interface{}
	X(msgpack.Decode(data, &raw))
	require.Len(t, raw, 8)
	require.Equal(t, raw["Name"], "test")
	require.Len(t, raw["Queues"], 2)

	// array of snapshots, as served over HTTP
	s3 := *s
	s3.Name = "other"
	s3.Queues = s.Queues[:1]
	all := msgp.AppendArrayHeader(nil, 2)
	all = s.AppendMsgpack(all)
	all = s3.AppendMsgpack(all)
	sv, err := DecodeAll(all); X(err)
	if diff := pretty.Compare(sv, []*Snapshot{s, &s3}); diff != "" {
		t.Fatalf("decode all:\n%s", diff)
	}
}

// malformed input gives ErrParse, never a crash.
func TestDecodeMalformed(t *testing.T) {
	X := xtesting.FatalIf(t)
	_, s := setup(t)
	data := s.AppendMsgpack(nil)
	all := msgp.AppendArrayHeader(nil, 2)
	all = s.AppendMsgpack(all)
	all = s.AppendMsgpack(all)

	for i := 0; i < len(data); i++ {
		_, err := Decode(data[:i])
		if errors.Cause(err) != message.ErrParse {
			t.Fatalf("decode %d/%d bytes: err = %v", i, len(data), err)
		}
	}
	for i := 0; i < len(all); i++ {
		_, err := DecodeAll(all[:i])
		if errors.Cause(err) != message.ErrParse {
			t.Fatalf("decode all %d/%d bytes: err = %v", i, len(all), err)
		}
	}

	for _, bad := range [][]byte{
		{0x91, 0x88, 0xa4, 'N'},            // string past end
		{0xdd, 0xff, 0xff, 0xff, 0xff},     // huge array, no elements
		{0x81, 0xa4, 'N', 'a', 'm', 'e', 1}, // Name is not a string
		{0x81, 0x01, 0x01},                  // key is not a string
		append(data[:len(data):len(data)], 0), // trailing byte
	} {
		_, err := Decode(bad)
		require.Equal(t, errors.Cause(err), message.ErrParse, "%x", bad)
		_, err = DecodeAll(bad)
		require.Equal(t, errors.Cause(err), message.ErrParse, "%x", bad)
	}

	// unknown keys are skipped
	b := msgp.AppendMapHeader(nil, 2)
	b = msgp.AppendString(b, "Uptime")
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendInt(b, 1)
	b = msgp.AppendString(b, "x")
	b = msgp.AppendString(b, "Buffers")
	b = msgp.AppendInt(b, 7)
	s2, err := Decode(b); X(err)
	require.Equal(t, s2, &Snapshot{Buffers: 7})

	// payload cut short inside a message
	pool := xtesting.NewPool(8, 32)
	m := xtesting.MustAllocate(pool, message.PriorityLow, 0, data[:len(data)-3])
	_, err = DecodeFrom(m, 0)
	require.Equal(t, errors.Cause(err), message.ErrParse)
	m.Free()
}

func TestAppendTo(t *testing.T) {
	X := xtesting.FatalIf(t)
	pool, s := setup(t)

	m, err := pool.Allocate(message.TypeOther, 0, message.DefaultSettings); X(err)
	X(m.AppendUint8(0x42))
	X(s.AppendTo(m))
	require.True(t, m.BufferCount() > 1)

	s2, err := DecodeFrom(m, 1); X(err)
	if diff := pretty.Compare(s2, s); diff != "" {
		t.Fatalf("decode from message:\n%s", diff)
	}

	_, err = DecodeFrom(m, m.Length()+1)
	require.Equal(t, err, message.ErrParse)
	m.Free()
}

func TestWriteText(t *testing.T) {
	X := xtesting.FatalIf(t)
	_, s := setup(t)

	var buf bytes.Buffer
	X(s.WriteText(&buf))
	text := buf.String()
	require.Contains(t, text, "test: buffers 4/16 used (max 4), messages 3")
	require.Contains(t, text, "fifo")
	require.Contains(t, text, "   50 bytes")
}
