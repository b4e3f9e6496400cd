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

// Package diag takes snapshots of pool and queue usage.
//
// A snapshot can be rendered as text or encoded as msgpack map, either into
// plain bytes or directly into a message payload, e.g. to answer a network
// diagnostic query.
package diag

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"

	"lab.nexedi.com/kirr/meshbuf/message"
)

// Queue is anything that can report aggregate information about messages it holds.
//
// message.MessageQueue, message.PriorityQueue, forward.SendQueue and
// diagcache.Cache all fit.
type Queue interface {
	Info() message.QueueInfo
}

// NamedQueue is a Queue to be included into snapshot under Name.
type NamedQueue struct {
	Name  string
	Queue Queue
}

// QueueStat is usage of one queue.
type QueueStat struct {
	Name     string
	Messages int
	Buffers  int
	Bytes    int
}

// Snapshot is usage of one pool and queues drawing from it.
type Snapshot struct {
	Name           string
	Buffers        int
	FreeBuffers    int
	Messages       int
	MaxBuffersUsed int
	AllocFailures  int
	Reclaims       int
	Queues         []QueueStat
}

// Take takes snapshot of pool and queues.
func Take(pool *message.Pool, queues ...NamedQueue) *Snapshot {
	st := pool.Stats()
	s := &Snapshot{
		Name:           st.Name,
		Buffers:        st.NumBuffers,
		FreeBuffers:    st.NumFree,
		Messages:       st.NumMessages,
		MaxBuffersUsed: st.MaxBuffersUsed,
		AllocFailures:  st.AllocFailures,
		Reclaims:       st.Reclaims,
	}
	for _, q := range queues {
		qi := q.Queue.Info()
		s.Queues = append(s.Queues, QueueStat{
			Name:     q.Name,
			Messages: qi.NumMessages,
			Buffers:  qi.NumBuffers,
			Bytes:    qi.TotalBytes,
		})
	}
	return s
}

// UsedBuffers returns how many pool buffers are in use.
func (s *Snapshot) UsedBuffers() int { return s.Buffers - s.FreeBuffers }

// AppendMsgpack appends msgpack encoding of s to b.
//
// s is encoded as map keyed by field names, queues as array of such maps.
func (s *Snapshot) AppendMsgpack(b []byte) []byte {
	b = msgp.AppendMapHeader(b, 8)
	b = msgp.AppendString(b, "Name")
	b = msgp.AppendString(b, s.Name)
	b = appendInt(b, "Buffers", s.Buffers)
	b = appendInt(b, "FreeBuffers", s.FreeBuffers)
	b = appendInt(b, "Messages", s.Messages)
	b = appendInt(b, "MaxBuffersUsed", s.MaxBuffersUsed)
	b = appendInt(b, "AllocFailures", s.AllocFailures)
	b = appendInt(b, "Reclaims", s.Reclaims)

	b = msgp.AppendString(b, "Queues")
	b = msgp.AppendArrayHeader(b, uint32(len(s.Queues)))
	for i := range s.Queues {
		q := &s.Queues[i]
		b = msgp.AppendMapHeader(b, 4)
		b = msgp.AppendString(b, "Name")
		b = msgp.AppendString(b, q.Name)
		b = appendInt(b, "Messages", q.Messages)
		b = appendInt(b, "Buffers", q.Buffers)
		b = appendInt(b, "Bytes", q.Bytes)
	}
	return b
}

func appendInt(b []byte, key string, v int) []byte {
	b = msgp.AppendString(b, key)
	return msgp.AppendInt(b, v)
}

// AppendTo appends msgpack encoding of s to payload of m.
//
// On error, m payload is left unchanged.
func (s *Snapshot) AppendTo(m *message.Message) error {
	return m.AppendBytes(s.AppendMsgpack(nil))
}

// Decode decodes snapshot from its msgpack encoding.
//
// Malformed or truncated data, or data with trailing bytes, gives ErrParse.
func Decode(data []byte) (*Snapshot, error) {
	s := &Snapshot{}
	rest, err := s.decodeMsgpack(data)
	if err == nil && len(rest) != 0 {
		err = errors.Errorf("%d trailing bytes", len(rest))
	}
	if err != nil {
		return nil, decodeErr(err)
	}
	return s, nil
}

// DecodeAll decodes msgpack array of snapshots.
func DecodeAll(data []byte) ([]*Snapshot, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(data)
	if err != nil {
		return nil, decodeErr(err)
	}

	var sv []*Snapshot // not preallocated: n comes from the wire
	for i := uint32(0); i < n; i++ {
		s := &Snapshot{}
		b, err = s.decodeMsgpack(b)
		if err != nil {
			return nil, decodeErr(errors.Wrapf(err, "snapshot %d", i))
		}
		sv = append(sv, s)
	}
	if len(b) != 0 {
		return nil, decodeErr(errors.Errorf("%d trailing bytes", len(b)))
	}
	return sv, nil
}

func decodeErr(err error) error {
	return errors.Wrapf(message.ErrParse, "diag: decode: %s", err)
}

// decodeMsgpack decodes s from the front of b and returns what is left.
//
// Unknown keys are skipped.
func (s *Snapshot) decodeMsgpack(b []byte) (_ []byte, err error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var key string
		key, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, err
		}

		switch key {
		case "Name":
			s.Name, b, err = msgp.ReadStringBytes(b)
		case "Buffers":
			s.Buffers, b, err = msgp.ReadIntBytes(b)
		case "FreeBuffers":
			s.FreeBuffers, b, err = msgp.ReadIntBytes(b)
		case "Messages":
			s.Messages, b, err = msgp.ReadIntBytes(b)
		case "MaxBuffersUsed":
			s.MaxBuffersUsed, b, err = msgp.ReadIntBytes(b)
		case "AllocFailures":
			s.AllocFailures, b, err = msgp.ReadIntBytes(b)
		case "Reclaims":
			s.Reclaims, b, err = msgp.ReadIntBytes(b)
		case "Queues":
			var nq uint32
			nq, b, err = msgp.ReadArrayHeaderBytes(b)
			s.Queues = nil
			for j := uint32(0); err == nil && j < nq; j++ {
				var q QueueStat
				b, err = q.decodeMsgpack(b)
				s.Queues = append(s.Queues, q)
			}
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s", key)
		}
	}
	return b, nil
}

func (q *QueueStat) decodeMsgpack(b []byte) (_ []byte, err error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var key string
		key, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, err
		}

		switch key {
		case "Name":
			q.Name, b, err = msgp.ReadStringBytes(b)
		case "Messages":
			q.Messages, b, err = msgp.ReadIntBytes(b)
		case "Buffers":
			q.Buffers, b, err = msgp.ReadIntBytes(b)
		case "Bytes":
			q.Bytes, b, err = msgp.ReadIntBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "queue %s", key)
		}
	}
	return b, nil
}

// DecodeFrom decodes snapshot from payload of m starting at offset.
func DecodeFrom(m *message.Message, offset int) (*Snapshot, error) {
	if offset < 0 || offset > m.Length() {
		return nil, message.ErrParse
	}
	data := make([]byte, m.Length()-offset)
	m.ReadBytes(offset, data)
	return Decode(data)
}

// WriteText writes s in human readable form to w.
func (s *Snapshot) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s: buffers %d/%d used (max %d), messages %d, alloc failures %d, reclaims %d\n",
		s.Name, s.UsedBuffers(), s.Buffers, s.MaxBuffersUsed, s.Messages, s.AllocFailures, s.Reclaims)
	for _, q := range s.Queues {
		if err != nil {
			break
		}
		_, err = fmt.Fprintf(w, "\t%-12s %4d msgs %4d bufs %6d bytes\n", q.Name, q.Messages, q.Buffers, q.Bytes)
	}
	return err
}
