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

// Package link provides framing of messages over a byte stream.
//
// Every frame is
//
//	len:uint16be | type:uint8 | priority:uint8 | payload[len]
//
// and carries one message. The stream is e.g. a radio driver, UART or TCP
// connection.
package link

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
	"github.com/someonegg/gocontainer/rbuf"

	"lab.nexedi.com/kirr/go123/xbytes"

	"lab.nexedi.com/kirr/meshbuf/message"
)

const (
	HeaderLen    = 4
	MaxFrameSize = 0xffff // header included
	MaxPayload   = MaxFrameSize - HeaderLen
)

var ErrFrameTooBig = errors.New("frame too big")

// Link sends and receives messages over rw.
//
// Received messages are allocated from the link's pool. RecvMessage and
// SendMessage can be used from different goroutines provided that pool is
// only used by the receiving one.
type Link struct {
	rw    io.ReadWriter
	pool  *message.Pool
	rxbuf rbuf.RingBuf // data read from rw past end of previous frame
	rxdat []byte       // scratch for receiving frames

	txhdr [HeaderLen]byte
}

// LinkError is returned by Link operations.
type LinkError struct {
	Link *Link
	Op   string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Link, e.Op, e.Err)
}

func (e *LinkError) Cause() error { return e.Err }
func (e *LinkError) Unwrap() error { return e.Err }

func (l *Link) err(op string, e error) error {
	if e == nil {
		return nil
	}
	return &LinkError{Link: l, Op: op, Err: e}
}

// NewLink creates new link over rw whose received messages come from pool.
func NewLink(rw io.ReadWriter, pool *message.Pool) *Link {
	return &Link{rw: rw, pool: pool, rxdat: make([]byte, 0, 4096)}
}

func (l *Link) String() string {
	if conn, ok := l.rw.(net.Conn); ok {
		return fmt.Sprintf("%s - %s", conn.LocalAddr(), conn.RemoteAddr())
	}
	return "link"
}

// RecvMessage receives next frame and returns it as message.
//
// The caller owns returned message. Errors are *LinkError; io.EOF is returned
// there if the stream ended cleanly at frame boundary.
func (l *Link) RecvMessage() (*message.Message, error) {
	data, err := l.recvFrame()
	if err != nil {
		return nil, l.err("recv", err)
	}

	prio := message.Priority(data[3])
	if !prio.Valid() {
		return nil, l.err("recv", errors.Wrapf(message.ErrParse, "invalid priority %d", data[3]))
	}
	m, err := l.pool.Allocate(message.Type(data[2]), 0, message.Settings{Priority: prio})
	if err != nil {
		return nil, l.err("recv", err)
	}
	err = m.AppendBytes(data[HeaderLen:])
	if err != nil {
		m.Free()
		return nil, l.err("recv", err)
	}
	return m, nil
}

// recvFrame reads one whole frame into l.rxdat.
//
// Returned data is valid until next call.
func (l *Link) recvFrame() ([]byte, error) {
	// use all scratch space to buffer reads
	data := l.rxdat[:cap(l.rxdat)]

	n := 0 // number of frame bytes obtained so far

	// next frame could be already prefetched in part by previous read
	if l.rxbuf.Len() > 0 {
		δn, _ := l.rxbuf.Read(data[:HeaderLen])
		n += δn
	}

	// first read to read header and hopefully rest of frame in 1 syscall
	if n < HeaderLen {
		δn, err := io.ReadAtLeast(l.rw, data[n:], HeaderLen-n)
		if err != nil {
			if n > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		n += δn
	}

	payloadLen := int(binary.BigEndian.Uint16(data[0:]))
	if payloadLen > MaxPayload {
		return nil, ErrFrameTooBig
	}
	frameLen := HeaderLen + payloadLen

	// resize data if we don't have enough room in it
	data = xbytes.Resize(data, frameLen)
	data = data[:cap(data)]

	// we might have more data already prefetched in rxbuf
	if l.rxbuf.Len() > 0 && n < frameLen {
		δn, _ := l.rxbuf.Read(data[n:frameLen])
		n += δn
	}

	// read rest of frame, if we need to
	if n < frameLen {
		δn, err := io.ReadAtLeast(l.rw, data[n:], frameLen-n)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		n += δn
	}

	// put overread data into rxbuf for next reader
	if n > frameLen {
		l.rxbuf.Write(data[frameLen:n])
	}

	l.rxdat = data[:0]
	return data[:frameLen], nil
}

// SendMessage sends whole payload of m as one frame.
//
// m is not freed and its tx callback is not invoked - that is left to the
// caller, which knows whether the transmission is final.
func (l *Link) SendMessage(m *message.Message) error {
	if m.Length() > MaxPayload {
		return l.err("send", ErrFrameTooBig)
	}

	h := l.txhdr[:]
	binary.BigEndian.PutUint16(h[0:], uint16(m.Length()))
	h[2] = byte(m.Type())
	h[3] = byte(m.Priority())

	// NOTE Write writes data in full, or it is error
	_, err := l.rw.Write(h)
	if err == nil {
		_, err = m.WriteTo(l.rw)
	}
	return l.err("send", err)
}
