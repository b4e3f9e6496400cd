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
// routines common to several subcommands

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	stdnet "net"
	"net/http"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"

	"lab.nexedi.com/kirr/go123/xnet"

	"lab.nexedi.com/kirr/meshbuf/diag"
	"lab.nexedi.com/kirr/meshbuf/internal/log"
	"lab.nexedi.com/kirr/meshbuf/link"
	"lab.nexedi.com/kirr/meshbuf/message"

	_ "net/http/pprof"
)

const poolSummary = "configuring message pools"

const poolHelp =
`Commands that create message pools accept the following options:

	-buffers <n>	number of buffers in the pool
	-bufsize <n>	payload bytes per buffer
	-backing <b>	where buffer memory comes from:

	- array		one slab allocated upfront (default)
	- heap		buffers are allocated on demand up to the limit
	- mmap		buffers live in anonymous memory mapping (linux only)

When a pool is exhausted, lower priority data is reclaimed: first the
diagnostic cache, then the send queue tail.
`

// poolFlags registers pool options on flags.
//
// The returned function creates pool named name according to parsed options.
func poolFlags(flags *flag.FlagSet) func(name string) (*message.Pool, error) {
	nbuf := flags.Int("buffers", message.DefaultNumBuffers, "number of buffers in a pool")
	bufsize := flags.Int("bufsize", message.DefaultBufferSize, "payload bytes per buffer")
	backing := flags.String("backing", "array", "array | heap | mmap")

	return func(name string) (_ *message.Pool, err error) {
		cfg := message.Config{Name: name, NumBuffers: *nbuf, BufferSize: *bufsize}
		switch *backing {
		case "array":
			cfg.Backing = message.BackingArray
		case "heap":
			cfg.Backing = message.BackingHeap
		case "mmap":
			cfg.Backing = message.BackingPlatform
			cfg.Platform, err = message.NewMmapPlatform(*nbuf, *bufsize)
			if err != nil {
				return nil, errors.Wrapf(err, "pool %s", name)
			}
		default:
			return nil, fmt.Errorf("invalid backing %q", *backing)
		}
		return message.NewPool(cfg)
	}
}

// printSnapshot prints s to w with highlighting.
func printSnapshot(w io.Writer, s *diag.Snapshot) {
	bold := color.New(color.Bold).SprintFunc()
	warn := color.New(color.FgRed, color.Bold).SprintFunc()
	dim := color.New(color.FgCyan).SprintFunc()

	used := fmt.Sprintf("%d/%d", s.UsedBuffers(), s.Buffers)
	if s.FreeBuffers == 0 {
		used = warn(used)
	}
	fails := fmt.Sprint(s.AllocFailures)
	if s.AllocFailures != 0 {
		fails = warn(fails)
	}

	fmt.Fprintf(w, "%s: buffers %s used (max %d), messages %d, alloc failures %s, reclaims %d\n",
		bold(s.Name), used, s.MaxBuffersUsed, s.Messages, fails, s.Reclaims)
	for _, q := range s.Queues {
		fmt.Fprintf(w, "\t%s %4d msgs %4d bufs %6d bytes\n", dim(fmt.Sprintf("%-12s", q.Name)), q.Messages, q.Buffers, q.Bytes)
	}
}

// frameMatch tells whether incoming stream starts like a link frame header.
func frameMatch(r io.Reader) bool {
	var b [link.HeaderLen]byte
	n, _ := io.ReadFull(r, b[:])
	if n < link.HeaderLen {
		return false
	}

	// len | type | priority; HTTP methods are ASCII and never match
	return int(binary.BigEndian.Uint16(b[:])) <= link.MaxPayload &&
		message.Type(b[2]) <= message.TypeOther &&
		message.Priority(b[3]).Valid()
}

// listenAndServe runs service on laddr.
//
// It starts listening, multiplexes incoming connection to link frames and
// HTTP, passes frame connections to serve and HTTP connections to default
// HTTP mux.
//
// default HTTP mux can be assumed to contain /debug/pprof and /stats.
func listenAndServe(ctx context.Context, net xnet.Networker, laddr string, serve func(ctx context.Context, l stdnet.Listener) error) (err error) {
	defer log.Running(&ctx, "listen")(&err)

	l, err := net.Listen(laddr)
	if err != nil {
		return err
	}

	log.Infof(ctx, "listening at %s ...", l.Addr())
	log.Flush()

	mux := cmux.New(l)
	frameL := mux.Match(frameMatch)
	httpL := mux.Match(cmux.HTTP1())
	miscL := mux.Match(cmux.Any())

	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return mux.Serve()
	})

	wg.Go(func() error {
		return serve(ctx, frameL)
	})

	wg.Go(func() error {
		return http.Serve(httpL, nil)
	})

	wg.Go(func() error {
		for {
			conn, err := miscL.Accept()
			if err != nil {
				return err
			}

			// got something unexpected - grab the header (which we
			// already have read), log it and reject the connection.
			b := make([]byte, 64)
			// must not block as some data is already there in cmux buffer
			n, _ := conn.Read(b)
			log.Infof(ctx, "strange connection from %s: peer sent %q", conn.RemoteAddr(), b[:n])
			conn.Close()
		}
	})

	wg.Go(func() error {
		<-ctx.Done()
		l.Close()
		return ctx.Err()
	})

	return wg.Wait()
}
