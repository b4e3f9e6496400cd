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


package main
// meshbuf send - client for meshbuf serve

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"lab.nexedi.com/kirr/go123/prog"
	"lab.nexedi.com/kirr/go123/xnet"

	"lab.nexedi.com/kirr/meshbuf/diag"
	"lab.nexedi.com/kirr/meshbuf/internal/log"
	"lab.nexedi.com/kirr/meshbuf/link"
	"lab.nexedi.com/kirr/meshbuf/message"
)

const sendSummary = "send frames to echo service and verify replies"

func sendUsage(w io.Writer) {
	fmt.Fprintf(w,
`Usage: meshbuf send [options] <addr>
Send frames to "meshbuf serve" running at <addr> and verify echoed replies.

See "meshbuf help pool" for pool options.
`)
}

func sendMain(argv []string) {
	flags := flag.NewFlagSet("", flag.ExitOnError)
	flags.Usage = func() { sendUsage(os.Stderr); flags.PrintDefaults() }
	newPool := poolFlags(flags)
	n := flags.Int("n", 100, "number of frames")
	length := flags.Int("len", 100, "payload length (>= 4)")
	prio := flags.String("priority", "normal", "low | normal | high | net")
	flags.Parse(argv[1:])

	argv = flags.Args()
	if len(argv) < 1 || *length < 4 {
		flags.Usage()
		prog.Exit(2)
	}

	p, err := message.ParsePriority(*prio)
	if err != nil {
		prog.Fatal(err)
	}
	pool, err := newPool("send")
	if err != nil {
		prog.Fatal(err)
	}

	ctx := context.Background()
	t0 := time.Now()
	err = send(ctx, xnet.NetPlain("tcp"), argv[0], pool, *n, *length, p)
	δt := time.Since(t0)
	if err != nil {
		prog.Fatal(err)
	}

	printSnapshot(os.Stdout, diag.Take(pool))
	fmt.Printf("# %d frames echoed in %s\n", *n, δt)
}

// send sends n frames of length bytes to addr one by one and verifies that
// each is echoed back unchanged.
func send(ctx context.Context, net xnet.Networker, addr string, pool *message.Pool, n, length int, p message.Priority) (err error) {
	defer log.Runningf(&ctx, "send %s", addr)(&err)

	conn, err := net.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	l := link.NewLink(conn, pool)

	payload := make([]byte, length-4)
	for i := range payload {
		payload[i] = byte(i)
	}

	for i := 0; i < n; i++ {
		m, err := pool.Allocate(message.TypeIp6, 0, message.Settings{Priority: p})
		if err != nil {
			return err
		}
		err = m.AppendUint32(uint32(i))
		if err == nil {
			err = m.AppendBytes(payload)
		}
		if err == nil {
			err = l.SendMessage(m)
		}
		m.Free()
		if err != nil {
			return err
		}

		reply, err := l.RecvMessage()
		if err != nil {
			return err
		}
		err = checkEcho(reply, uint32(i), payload)
		reply.Free()
		if err != nil {
			return err
		}
	}
	return nil
}

func checkEcho(m *message.Message, seq uint32, payload []byte) error {
	rseq, err := m.ReadUint32(0)
	if err != nil {
		return errors.Wrapf(err, "reply %d", seq)
	}
	if rseq != seq || m.Length() != 4+len(payload) || !m.CompareBytes(4, payload, message.MatchExact) {
		return errors.Errorf("reply %d: corrupt: %s", seq, m)
	}
	return nil
}
