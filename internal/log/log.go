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


// Package log is meshbuf logging on top of glog.
//
// Log lines are prefixed with the stack of tasks found in the context. Long
// lived objects create their task once with WithTask and log under it, so a
// pool, its send queue and its diagnostic cache show up as
//
//	w0: no available message buffer (priority net)
//	w0: sendq: evict msg(ip6/low len:40 ...) for net allocation
//	w0: diagcache: evict 0003 (idle), 2 buffers
//
// while one-shot operations are wrapped with Running, which logs their
// start and outcome:
//
//	serve 127.0.0.1:5432: start
//	serve 127.0.0.1:5432: ## 127.0.0.1:7001 - 127.0.0.1:5432: recv: unexpected EOF
//
// Verbose logging (-v) is checked with V before formatting on hot paths.
package log

import (
	"context"
	"fmt"

	"github.com/golang/glog"
)

// prefixed returns argv with current task stack put in front, if there is one.
func prefixed(ctx context.Context, argv []interface{}) []interface{} {
	prefix := CurrentTask(ctx).String()
	if prefix == "" {
		return argv
	}
	if len(argv) > 0 {
		prefix += ": "
	}
	return append([]interface{}{prefix}, argv...)
}

// Depth logs attributing the line to the caller Depth frames up.
//
// It is for helpers like Running that log on behalf of their caller.
type Depth int

func (d Depth) Info(ctx context.Context, argv ...interface{}) {
	glog.InfoDepth(int(d)+1, prefixed(ctx, argv)...)
}

func (d Depth) Warning(ctx context.Context, argv ...interface{}) {
	glog.WarningDepth(int(d)+1, prefixed(ctx, argv)...)
}

func (d Depth) Error(ctx context.Context, argv ...interface{}) {
	glog.ErrorDepth(int(d)+1, prefixed(ctx, argv)...)
}

func (d Depth) Infof(ctx context.Context, format string, argv ...interface{}) {
	glog.InfoDepth(int(d)+1, prefixed(ctx, []interface{}{fmt.Sprintf(format, argv...)})...)
}

func (d Depth) Warningf(ctx context.Context, format string, argv ...interface{}) {
	glog.WarningDepth(int(d)+1, prefixed(ctx, []interface{}{fmt.Sprintf(format, argv...)})...)
}

func (d Depth) Errorf(ctx context.Context, format string, argv ...interface{}) {
	glog.ErrorDepth(int(d)+1, prefixed(ctx, []interface{}{fmt.Sprintf(format, argv...)})...)
}

func Info(ctx context.Context, argv ...interface{})    { Depth(1).Info(ctx, argv...) }
func Warning(ctx context.Context, argv ...interface{}) { Depth(1).Warning(ctx, argv...) }
func Error(ctx context.Context, argv ...interface{})   { Depth(1).Error(ctx, argv...) }

func Infof(ctx context.Context, format string, argv ...interface{}) {
	Depth(1).Infof(ctx, format, argv...)
}

func Warningf(ctx context.Context, format string, argv ...interface{}) {
	Depth(1).Warningf(ctx, format, argv...)
}

func Errorf(ctx context.Context, format string, argv ...interface{}) {
	Depth(1).Errorf(ctx, format, argv...)
}

// V reports whether verbosity level is enabled:
//
//	if log.V(1) {
//		log.Infof(ctx, "no free buffer for %s", prio)
//	}
func V(level int) bool {
	return bool(glog.V(glog.Level(level)))
}

// Flush flushes pending log output, e.g. before a long blocking call.
func Flush() { glog.Flush() }
