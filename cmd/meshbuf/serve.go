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
// meshbuf serve - frame echo service

import (
	"context"
	"flag"
	"fmt"
	"io"
	stdnet "net"
	"net/http"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"

	"lab.nexedi.com/kirr/go123/prog"
	"lab.nexedi.com/kirr/go123/xnet"

	"lab.nexedi.com/kirr/meshbuf/diag"
	"lab.nexedi.com/kirr/meshbuf/forward"
	"lab.nexedi.com/kirr/meshbuf/internal/log"
	"lab.nexedi.com/kirr/meshbuf/link"
	"lab.nexedi.com/kirr/meshbuf/message"
)

const serveSummary = "run frame echo service"

func serveUsage(w io.Writer) {
	fmt.Fprintf(w,
`Usage: meshbuf serve [options] <bind>
Run service that echoes back every received frame.

Every connection gets its own message pool. Frames and HTTP are served on the
same address; HTTP provides

	/stats		pool snapshots of all connections (?format=text|msgpack)
	/debug/pprof	Go profiling

See "meshbuf help pool" for pool options.
`)
}

// statsRegistry keeps latest snapshot of every connection.
//
// Pools are used only from their connection goroutine, so connections publish
// snapshots here instead of HTTP handlers reading pools directly.
type statsRegistry struct {
	mu    sync.Mutex
	statv map[string]*diag.Snapshot
}

var stats = &statsRegistry{statv: make(map[string]*diag.Snapshot)}

func (r *statsRegistry) publish(s *diag.Snapshot) {
	r.mu.Lock()
	r.statv[s.Name] = s
	r.mu.Unlock()
}

func (r *statsRegistry) forget(name string) {
	r.mu.Lock()
	delete(r.statv, name)
	r.mu.Unlock()
}

// all returns published snapshots ordered by name.
func (r *statsRegistry) all() []*diag.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	sv := make([]*diag.Snapshot, 0, len(r.statv))
	for _, s := range r.statv {
		sv = append(sv, s)
	}
	sort.Slice(sv, func(i, j int) bool { return sv[i].Name < sv[j].Name })
	return sv
}

func (r *statsRegistry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	sv := r.all()
	switch format := req.URL.Query().Get("format"); format {
	case "", "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, s := range sv {
			s.WriteText(w)
		}

	case "msgpack":
		b := msgp.AppendArrayHeader(nil, uint32(len(sv)))
		for _, s := range sv {
			b = s.AppendMsgpack(b)
		}
		w.Header().Set("Content-Type", "application/msgpack")
		w.Write(b)

	default:
		http.Error(w, fmt.Sprintf("invalid format %q", format), http.StatusBadRequest)
	}
}

func serveMain(argv []string) {
	flags := flag.NewFlagSet("", flag.ExitOnError)
	flags.Usage = func() { serveUsage(os.Stderr); flags.PrintDefaults() }
	newPool := poolFlags(flags)
	flags.Parse(argv[1:])

	argv = flags.Args()
	if len(argv) < 1 {
		flags.Usage()
		prog.Exit(2)
	}
	bind := argv[0]

	http.Handle("/stats", stats)

	net := xnet.NetPlain("tcp")
	ctx := context.Background()

	err := listenAndServe(ctx, net, bind, func(ctx context.Context, l stdnet.Listener) error {
		for nconn := 0; ; nconn++ {
			conn, err := l.Accept()
			if err != nil {
				return err
			}

			pool, err := newPool(fmt.Sprintf("conn%d", nconn))
			if err != nil {
				conn.Close()
				return err
			}

			go func() {
				err := serveConn(ctx, conn, pool)
				if err != nil && errors.Cause(err) != io.EOF {
					log.Error(ctx, err)
				}
			}()
		}
	})
	if err != nil {
		prog.Fatal(err)
	}
}

// serveConn echoes frames received on conn back to peer.
//
// Received messages are queued for transmission; when the pool runs out the
// send queue tail is evicted in favour of higher priority frames.
func serveConn(ctx context.Context, conn stdnet.Conn, pool *message.Pool) (err error) {
	defer log.Runningf(&ctx, "serve %s", conn.RemoteAddr())(&err)
	defer conn.Close()
	defer stats.forget(pool.Name())

	sq := forward.NewSendQueue(pool)
	pool.RegisterReclaimer(sq)
	defer sq.DropAll()

	l := link.NewLink(conn, pool)
	for {
		m, err := l.RecvMessage()
		if err != nil {
			if errors.Cause(err) == message.ErrNoBufs {
				// frame was consumed; peer sees the drop from missing echo
				log.Warning(ctx, err)
				continue
			}
			return err
		}

		err = sq.Send(m)
		if err != nil {
			m.Free()
			return err
		}

		// flush send queue before reading on
		for m := sq.Next(); m != nil; m = sq.Next() {
			err = l.SendMessage(m)
			m.TxDone(err)
			m.Free()
			if err != nil {
				return err
			}
		}

		stats.publish(diag.Take(pool, diag.NamedQueue{Name: "sendq", Queue: sq}))
	}
}
