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
// meshbuf stats - fetch snapshots from running service

import (
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"

	"github.com/pkg/errors"

	"lab.nexedi.com/kirr/go123/prog"
	"lab.nexedi.com/kirr/go123/xerr"

	"lab.nexedi.com/kirr/meshbuf/diag"
)

const statsSummary = "show pool snapshots of running service"

func statsUsage(w io.Writer) {
	fmt.Fprintf(w,
`Usage: meshbuf stats <addr>
Fetch and show pool snapshots of "meshbuf serve" running at <addr>.
`)
}

func statsMain(argv []string) {
	flags := flag.NewFlagSet("", flag.ExitOnError)
	flags.Usage = func() { statsUsage(os.Stderr); flags.PrintDefaults() }
	flags.Parse(argv[1:])

	argv = flags.Args()
	if len(argv) < 1 {
		flags.Usage()
		prog.Exit(2)
	}

	sv, err := fetchStats(argv[0])
	if err != nil {
		prog.Fatal(err)
	}
	for _, s := range sv {
		printSnapshot(os.Stdout, s)
	}
}

func fetchStats(addr string) (_ []*diag.Snapshot, err error) {
	defer xerr.Contextf(&err, "stats %s", addr)

	resp, err := http.Get("http://" + addr + "/stats?format=msgpack")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("%s", resp.Status)
	}
	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return diag.DecodeAll(data)
}
