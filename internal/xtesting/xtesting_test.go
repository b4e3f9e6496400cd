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

package xtesting

import (
	"bytes"
	"testing"
)

func TestPayload(t *testing.T) {
	a := Payload(1, 100)
	b := Payload(1, 100)
	c := Payload(2, 100)

	if len(a) != 100 {
		t.Fatalf("len = %d", len(a))
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("payload not deterministic:\n%x\n%x", a, b)
	}
	if bytes.Equal(a, c) {
		t.Fatalf("payload does not depend on seed")
	}
}

func TestCheckChain(t *testing.T) {
	X := FatalIf(t)
	pool := NewPool(8, 32)

	data := Payload(0, 70)
	m := MustAllocate(pool, 1, 5, data)
	defer m.Free()
	CheckChain(t, m, data)

	if err := chainError(m); err != nil {
		t.Fatal(err)
	}
	err := m.RemoveHeader(10); X(err)
	CheckChain(t, m, data[10:])
}
