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

package log

import (
	"context"
	"errors"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestPrefixed(t *testing.T) {
	ctx := context.Background()
	pool := WithTask(ctx, "w0")
	sendq := WithTask(pool, "sendq")

	for _, tt := range []struct {
		ctx  context.Context
		argv []interface{}
		want []interface{}
	}{
		{ctx, []interface{}{"hello"}, []interface{}{"hello"}},
		{pool, []interface{}{"no buffer"}, []interface{}{"w0: ", "no buffer"}},
		{sendq, []interface{}{"evict ", 3}, []interface{}{"w0: sendq: ", "evict ", 3}},
		{sendq, nil, []interface{}{"w0: sendq"}},
	} {
		have := prefixed(tt.ctx, tt.argv)
		if diff := pretty.Compare(have, tt.want); diff != "" {
			t.Errorf("prefixed %v:\n%s", tt.argv, diff)
		}
	}
}

func TestRunning(t *testing.T) {
	ctx := WithTask(context.Background(), "w0")
	err := func() (err error) {
		defer Running(&ctx, "drain")(&err)
		if have := CurrentTask(ctx).String(); have != "w0: drain" {
			t.Errorf("task: have %q; want %q", have, "w0: drain")
		}
		return errors.New("link down")
	}()
	if have := err.Error(); have != "drain: link down" {
		t.Errorf("error: have %q; want %q", have, "drain: link down")
	}
}
