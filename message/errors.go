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
// errors

import (
	"errors"
)

// Errors returned by pool, message and queue operations.
//
// They are returned as is on hot paths, so callers can compare with ==.
// Outer layers wrap them with context; use errors.Cause (github.com/pkg/errors)
// or errors.Is to get back to the sentinel.
var (
	ErrNoBufs       = errors.New("no buffers")       // pool exhausted even after reclamation
	ErrInvalidArgs  = errors.New("invalid arguments") // priority out of range, length overflow, ...
	ErrInvalidState = errors.New("invalid state")     // e.g. enqueue of already queued message
	ErrParse        = errors.New("parse error")       // read/compare range exceeds message length
	ErrDrop         = errors.New("message dropped")   // delivered to tx callback of unsent freed message
	ErrNotFound     = errors.New("not found")         // reclamation found nothing eligible to evict
	ErrNotSupported = errors.New("not supported")     // e.g. platform backing not available on this OS
)
