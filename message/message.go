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
// message: buffer chain viewed as byte stream

import (
	"fmt"
)

// Message is a chain of buffers viewed as one logical datagram.
//
// The chain holds reserved+length bytes: reserved header room first, then
// the visible payload. Offset is read cursor into the payload and always
// satisfies offset <= length.
//
// A Message is created by Pool.Allocate and lives inside its head buffer
// until Free. It can be linked into at most one MessageQueue or
// PriorityQueue at a time.
type Message struct {
	pool *Pool
	head *Buffer

	link  queueHead  // in queue; Init'ed when not queued
	queue queueOwner // queue message is in; nil if not queued

	reserved uint16
	length   uint16
	offset   uint16

	typ      Type
	subType  SubType
	priority Priority

	linkSecurity bool
	doNotEvict   bool
	directTx     bool
	txSuccess    bool

	channel     uint8
	panID       uint16
	datagramTag uint32
	timestamp   uint64

	rss RssAverager
	lqi LqiAverager

	txCallback func(*Message, error)
}

func (m *Message) Pool() *Pool    { return m.pool }
func (m *Message) Length() int    { return int(m.length) }
func (m *Message) Reserved() int  { return int(m.reserved) }
func (m *Message) Offset() int    { return int(m.offset) }
func (m *Message) IsQueued() bool { return m.queue != nil }

// Head returns head buffer of message chain.
func (m *Message) Head() *Buffer { return m.head }

// BufferCount returns number of buffers in message chain.
func (m *Message) BufferCount() int {
	n := 0
	for b := m.head; b != nil; b = b.next {
		n++
	}
	return n
}

// buffersFor returns how many buffers are needed to hold total bytes.
func (m *Message) buffersFor(total int) int {
	bs := m.pool.bufSize
	n := (total + bs - 1) / bs
	if n == 0 {
		n = 1 // head is always there
	}
	return n
}

// newChain allocates n buffers linked together.
//
// Either all n buffers are allocated, or none.
func (m *Message) newChain(n int) (*Buffer, error) {
	var first, last *Buffer
	for i := 0; i < n; i++ {
		b, err := m.pool.NewBuffer(m.priority)
		if err != nil {
			m.pool.FreeBuffers(first)
			return nil, err
		}
		if first == nil {
			first = b
		} else {
			last.next = b
		}
		last = b
	}
	return first, nil
}

// SetOffset sets read cursor.
func (m *Message) SetOffset(offset int) error {
	if offset < 0 || offset > int(m.length) {
		return ErrInvalidArgs
	}
	m.offset = uint16(offset)
	return nil
}

// MoveOffset moves read cursor by delta bytes.
func (m *Message) MoveOffset(delta int) error {
	return m.SetOffset(int(m.offset) + delta)
}

// SetLength sets payload length growing or shrinking buffer chain as needed.
//
// On growth new tail buffers are allocated; if there are not enough buffers
// message is left unchanged and ErrNoBufs is returned. On shrink excess tail
// buffers are freed. Offset is clamped to new length.
func (m *Message) SetLength(length int) error {
	if length < 0 || int(m.reserved)+length > MaxLength {
		return ErrInvalidArgs
	}

	need := m.buffersFor(int(m.reserved) + length)
	have := 1
	last := m.head
	for have < need && last.next != nil {
		last = last.next
		have++
	}

	if have < need {
		chain, err := m.newChain(need - have)
		if err != nil {
			return err
		}
		last.next = chain
	} else if last.next != nil {
		m.pool.FreeBuffers(last.next)
		last.next = nil
	}

	m.length = uint16(length)
	if m.offset > m.length {
		m.offset = m.length
	}
	return nil
}

// AppendBytes appends data to the end of message.
func (m *Message) AppendBytes(data []byte) error {
	old := int(m.length)
	err := m.SetLength(old + len(data))
	if err != nil {
		return err
	}
	m.writeBytes(old, data)
	return nil
}

// PrependBytes prepends data in front of message payload.
//
// Reserved header room is used first. If it is not enough, new buffers are
// spliced in right after the head buffer. Offset is moved forward by
// len(data) so that it keeps pointing to the same payload byte.
func (m *Message) PrependBytes(data []byte) error {
	err := m.prepend(len(data))
	if err != nil {
		return err
	}
	m.writeBytes(0, data)
	return nil
}

// prepend grows payload by n uninitialized bytes at front.
func (m *Message) prepend(n int) error {
	if n < 0 || int(m.length)+n > MaxLength {
		return ErrInvalidArgs
	}

	bs := m.pool.bufSize
	reserved := int(m.reserved)
	if n > reserved && reserved+int(m.length) == 0 {
		reserved = bs // empty message: whole head buffer is free room
	}
	if n > reserved {
		k := (n - reserved + bs - 1) / bs
		if reserved+k*bs+int(m.length) > MaxLength {
			return ErrInvalidArgs
		}
		chain, err := m.newChain(k)
		if err != nil {
			return err
		}

		// every new buffer goes right after head and takes over what
		// the head was holding; the head becomes all reserved.
		for chain != nil {
			b := chain
			chain = chain.next

			b.next = m.head.next
			m.head.next = b
			if reserved < bs {
				copy(b.data[reserved:], m.head.data[reserved:])
			}
			reserved += bs
		}
	}

	m.reserved = uint16(reserved - n)
	m.length += uint16(n)
	m.offset += uint16(n)
	return nil
}

// RemoveHeader removes n bytes from the front of payload.
//
// Removed bytes become reserved header room. No buffer is freed and nothing
// is copied.
func (m *Message) RemoveHeader(n int) error {
	if n < 0 || n > int(m.length) {
		return ErrInvalidArgs
	}
	m.removeHeader(n)
	return nil
}

func (m *Message) removeHeader(n int) {
	m.reserved += uint16(n)
	m.length -= uint16(n)
	if int(m.offset) > n {
		m.offset -= uint16(n)
	} else {
		m.offset = 0
	}
}

// RemoveHeaderAt removes n bytes located at offset.
//
// The offset bytes in front of the removed span are shifted forward by n
// and then removed from the front via RemoveHeader.
func (m *Message) RemoveHeaderAt(offset, n int) error {
	if offset < 0 || n < 0 || offset+n > int(m.length) {
		return ErrInvalidArgs
	}
	m.writeFromMessage(n, m, 0, offset)
	m.removeHeader(n)
	return nil
}

// InsertHeader inserts n uninitialized bytes at offset.
//
// The payload is grown in front and first offset bytes are shifted back so
// that the hole is left at offset.
func (m *Message) InsertHeader(offset, n int) error {
	if offset < 0 || offset > int(m.length) {
		return ErrInvalidArgs
	}
	err := m.prepend(n)
	if err != nil {
		return err
	}
	m.writeFromMessage(0, m, n, offset)
	return nil
}

// ResizeRegion changes size of region [offset, offset+oldLen) to newLen.
//
// Bytes after the region are shifted accordingly. When the region grows the
// added bytes are uninitialized. On ErrNoBufs message is left unchanged.
func (m *Message) ResizeRegion(offset, oldLen, newLen int) error {
	if offset < 0 || oldLen < 0 || newLen < 0 || offset+oldLen > int(m.length) {
		return ErrInvalidArgs
	}

	length := int(m.length)
	tail := length - (offset + oldLen)
	switch {
	case newLen > oldLen:
		err := m.SetLength(length + newLen - oldLen)
		if err != nil {
			return err
		}
		m.writeFromMessage(offset+newLen, m, offset+oldLen, tail)

	case newLen < oldLen:
		m.writeFromMessage(offset+newLen, m, offset+oldLen, tail)
		m.SetLength(length - (oldLen - newLen)) // shrinking cannot fail
	}
	return nil
}

// Clone creates copy of message with payload limited to lengthLimit bytes.
//
// Reserved header size, settings, offset (clamped), subtype, timestamp and
// link information are copied. Tx callback is not.
func (m *Message) Clone(lengthLimit int) (*Message, error) {
	n := int(m.length)
	if lengthLimit < n {
		n = lengthLimit
	}
	if n < 0 {
		return nil, ErrInvalidArgs
	}

	settings := Settings{LinkSecurity: m.linkSecurity, Priority: m.priority}
	c, err := m.pool.Allocate(m.typ, int(m.reserved), settings)
	if err != nil {
		return nil, err
	}

	err = c.AppendBytesFromMessage(m, 0, n)
	if err != nil {
		c.Free()
		return nil, err
	}

	off := int(m.offset)
	if off > n {
		off = n
	}
	c.offset = uint16(off)
	c.subType = m.subType
	c.timestamp = m.timestamp
	c.panID = m.panID
	c.channel = m.channel
	c.rss = m.rss
	c.lqi = m.lqi
	return c, nil
}

// CloneAll is Clone without length limit.
func (m *Message) CloneAll() (*Message, error) {
	return m.Clone(int(m.length))
}

// Free returns message to its pool. See Pool.Free.
func (m *Message) Free() {
	m.pool.Free(m)
}


// ---- metadata ----

func (m *Message) Type() Type            { return m.typ }
func (m *Message) SetType(t Type)        { m.typ = t }
func (m *Message) SubType() SubType      { return m.subType }
func (m *Message) SetSubType(st SubType) { m.subType = st }

func (m *Message) Priority() Priority { return m.priority }

// SetPriority changes message priority.
//
// If the message is in a PriorityQueue it is moved to the tail of its new
// priority level.
func (m *Message) SetPriority(p Priority) error {
	if !p.Valid() {
		return ErrInvalidArgs
	}
	if p == m.priority {
		return nil
	}

	pq, inpq := m.queue.(*PriorityQueue)
	if !inpq {
		m.priority = p
		return nil
	}

	pq.Dequeue(m)
	m.priority = p
	return pq.Enqueue(m)
}

func (m *Message) IsLinkSecurityEnabled() bool   { return m.linkSecurity }
func (m *Message) SetLinkSecurityEnabled(v bool) { m.linkSecurity = v }

// IsDoNotEvict returns whether message must not be evicted on buffer reclamation.
func (m *Message) IsDoNotEvict() bool   { return m.doNotEvict }
func (m *Message) SetDoNotEvict(v bool) { m.doNotEvict = v }

func (m *Message) IsDirectTransmission() bool   { return m.directTx }
func (m *Message) SetDirectTransmission(v bool) { m.directTx = v }

// IsTxSuccess returns whether last transmission of message succeeded.
func (m *Message) IsTxSuccess() bool { return m.txSuccess }

func (m *Message) Channel() uint8            { return m.channel }
func (m *Message) SetChannel(ch uint8)       { m.channel = ch }
func (m *Message) PanID() uint16             { return m.panID }
func (m *Message) SetPanID(id uint16)        { m.panID = id }
func (m *Message) DatagramTag() uint32       { return m.datagramTag }
func (m *Message) SetDatagramTag(tag uint32) { m.datagramTag = tag }
func (m *Message) Timestamp() uint64         { return m.timestamp }
func (m *Message) SetTimestamp(t uint64)     { m.timestamp = t }

// Rss returns averager of received signal strength.
func (m *Message) Rss() *RssAverager { return &m.rss }

// Lqi returns averager of link quality.
func (m *Message) Lqi() *LqiAverager { return &m.lqi }

// SetTxCallback registers callback to be invoked once when transmission of
// the message completes.
//
// If message is freed before TxDone, callback is invoked with ErrDrop.
func (m *Message) SetTxCallback(cb func(*Message, error)) {
	m.txCallback = cb
}

// TxDone reports transmission outcome.
//
// Registered tx callback, if any, is invoked and unregistered.
func (m *Message) TxDone(err error) {
	m.txSuccess = (err == nil)
	cb := m.txCallback
	if cb == nil {
		return
	}
	m.txCallback = nil
	cb(m, err)
}

func (m *Message) String() string {
	q := ""
	if m.queue != nil {
		q = " queued"
	}
	return fmt.Sprintf("msg(%s/%s len:%d off:%d rsv:%d bufs:%d%s)",
		m.typ, m.priority, m.length, m.offset, m.reserved, m.BufferCount(), q)
}
