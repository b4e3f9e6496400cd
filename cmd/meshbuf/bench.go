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
// meshbuf bench - stress pools, queues and links

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	stdnet "net"
	"os"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"lab.nexedi.com/kirr/go123/prog"
	"lab.nexedi.com/kirr/go123/xerr"

	"lab.nexedi.com/kirr/meshbuf/diag"
	"lab.nexedi.com/kirr/meshbuf/diagcache"
	"lab.nexedi.com/kirr/meshbuf/forward"
	"lab.nexedi.com/kirr/meshbuf/link"
	"lab.nexedi.com/kirr/meshbuf/message"
)

const benchSummary = "stress message pools under memory pressure"

func benchUsage(w io.Writer) {
	fmt.Fprintf(w,
`Usage: meshbuf bench [options]
Run workers that allocate, queue, cache and transmit messages.

Every worker owns a pool shared by a send queue and a diagnostic cache, both
registered as reclaimers. With -pipe transmitted messages go through a link
to a receiver with its own pool; otherwise they are just freed.

See "meshbuf help pool" for pool options.
`)
}

type benchConfig struct {
	n        int   // messages to allocate per worker
	maxLen   int   // max payload length
	depth    int   // send queue length that triggers transmission
	cacheBuf int   // diagnostic cache budget in buffers
	seed     int64
	pipe     bool
	newPool  func(name string) (*message.Pool, error)
}

// benchResult is what one worker reports.
type benchResult struct {
	snap      *diag.Snapshot
	cache     diagcache.Stats
	evictions int
	dropped   int // messages not allocated or not queued due to ErrNoBufs
	sent      int
	received  int
}

func benchMain(argv []string) {
	flags := flag.NewFlagSet("", flag.ExitOnError)
	flags.Usage = func() { benchUsage(os.Stderr); flags.PrintDefaults() }
	cfg := benchConfig{}
	cfg.newPool = poolFlags(flags)
	nworker := flags.Int("workers", runtime.GOMAXPROCS(0), "number of workers")
	flags.IntVar(&cfg.n, "n", 10000, "messages to allocate per worker")
	flags.IntVar(&cfg.maxLen, "maxlen", 300, "max payload length")
	flags.IntVar(&cfg.depth, "depth", 8, "send queue length that triggers transmission")
	flags.IntVar(&cfg.cacheBuf, "cache", 8, "diagnostic cache budget in buffers")
	flags.Int64Var(&cfg.seed, "seed", 0, "random seed (0 = time based)")
	flags.BoolVar(&cfg.pipe, "pipe", false, "transmit through a link")
	flags.Parse(argv[1:])

	if *nworker < 1 || cfg.n < 0 || cfg.maxLen < 0 {
		flags.Usage()
		prog.Exit(2)
	}
	if cfg.seed == 0 {
		cfg.seed = time.Now().UnixNano()
	}

	ctx := context.Background()
	resv := make([]benchResult, *nworker)
	t0 := time.Now()
	wg, ctx := errgroup.WithContext(ctx)
	for i := range resv {
		i := i
		wg.Go(func() error {
			return benchWorker(ctx, i, &cfg, &resv[i])
		})
	}
	err := wg.Wait()
	δt := time.Since(t0)
	if err != nil {
		prog.Fatal(err)
	}

	total := 0
	for i := range resv {
		r := &resv[i]
		printSnapshot(os.Stdout, r.snap)
		fmt.Printf("\tsent %d, received %d, dropped %d, evicted %d, cache evictions %d idle / %d any, cache errors %d\n",
			r.sent, r.received, r.dropped, r.evictions, r.cache.IdleEvictions, r.cache.AnyEvictions, r.cache.Errors)
		total += r.sent
	}
	fmt.Printf("# %d workers, %d messages sent in %s (%.1f µs/msg)\n",
		len(resv), total, δt, float64(δt.Microseconds())/float64(max(total, 1)))
}

// benchWorker runs one worker with id and puts its statistics into res.
func benchWorker(ctx context.Context, id int, cfg *benchConfig, res *benchResult) (err error) {
	defer xerr.Contextf(&err, "worker %d", id)

	pool, err := cfg.newPool(fmt.Sprintf("w%d", id))
	if err != nil {
		return err
	}
	cache := diagcache.New(pool, cfg.cacheBuf)
	sq := forward.NewSendQueue(pool)
	pool.RegisterReclaimer(cache)
	pool.RegisterReclaimer(sq)

	// transmit hands one dequeued message over to the medium
	transmit := func(m *message.Message) error {
		res.sent++
		m.TxDone(nil)
		m.Free()
		return nil
	}
	txdone := func() {}

	wg, ctx := errgroup.WithContext(ctx)
	if cfg.pipe {
		rxpool, err := cfg.newPool(fmt.Sprintf("w%d-rx", id))
		if err != nil {
			return err
		}
		c1, c2 := stdnet.Pipe()
		txdone = func() { c1.Close() }

		wg.Go(func() error {
			defer c2.Close()
			n, err := benchReceive(link.NewLink(c2, rxpool))
			res.received = n
			return err
		})

		tx := link.NewLink(c1, pool)
		transmit = func(m *message.Message) error {
			err := tx.SendMessage(m)
			m.TxDone(err)
			m.Free()
			if err == nil {
				res.sent++
			}
			return err
		}
	}

	wg.Go(func() error {
		defer txdone()

		rng := rand.New(rand.NewSource(cfg.seed + int64(id)))
		err := benchLoop(ctx, cfg, rng, pool, sq, cache, res, transmit)
		for m := sq.Next(); m != nil && err == nil; m = sq.Next() {
			err = transmit(m)
		}
		sq.DropAll()

		res.evictions = sq.Evictions()
		res.cache = cache.Stats()
		res.snap = diag.Take(pool,
			diag.NamedQueue{Name: "sendq", Queue: sq},
			diag.NamedQueue{Name: "diagcache", Queue: cache})
		return err
	})

	return wg.Wait()
}

// benchLoop allocates cfg.n messages of random priority and length and
// distributes them between send queue and cache.
func benchLoop(ctx context.Context, cfg *benchConfig, rng *rand.Rand, pool *message.Pool,
	sq *forward.SendQueue, cache *diagcache.Cache, res *benchResult,
	transmit func(*message.Message) error) error {

	payload := make([]byte, cfg.maxLen)
	rng.Read(payload)
	meshHdr := []byte{0x80, 0x0f, 0, 0}

	for i := 0; i < cfg.n; i++ {
		if i%128 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}

		prio := message.Priority(rng.Intn(message.NumPriorities))
		m, err := pool.Allocate(message.TypeIp6, len(meshHdr), message.Settings{Priority: prio})
		if err != nil {
			res.dropped++
			continue
		}
		m.SetDatagramTag(uint32(i))
		err = m.AppendBytes(payload[:rng.Intn(cfg.maxLen+1)])
		if err != nil {
			m.Free()
			res.dropped++
			continue
		}

		switch rng.Intn(8) {
		case 0:
			dev := diagcache.DeviceID(rng.Intn(16))
			cache.SetIdle(dev, rng.Intn(2) == 0)
			m.SetType(message.TypeOther)
			if cache.Put(dev, m) != nil {
				res.dropped++
			}
			continue

		case 1:
			err = sq.SendIndirect(m)

		default:
			err = m.PrependBytes(meshHdr)
			if err == nil {
				err = sq.Send(m)
			}
		}
		if err != nil {
			m.Free()
			res.dropped++
			continue
		}

		if sq.Len() > cfg.depth {
			err = transmit(sq.Next())
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// benchReceive receives and frees messages until l is closed.
func benchReceive(l *link.Link) (n int, err error) {
	for {
		m, err := l.RecvMessage()
		switch {
		case err == nil:
			m.Free()
			n++
		case errors.Cause(err) == message.ErrNoBufs:
			// frame consumed; go on
		case errors.Cause(err) == io.EOF:
			return n, nil
		default:
			return n, err
		}
	}
}
