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
// message tags: priority, type, subtype, settings

import (
	"fmt"
)

// Priority ranks messages for queueing and for buffer reclamation.
//
// The order is strict: Low < Normal < High < Net.
type Priority uint8

const (
	PriorityLow    Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityNet // network control traffic

	NumPriorities = 4
)

// Valid returns whether p is one of the 4 priority levels.
func (p Priority) Valid() bool {
	return p < NumPriorities
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityNet:
		return "net"
	}
	return fmt.Sprintf("priority(%d)", uint8(p))
}

// ParsePriority parses priority from its string representation.
func ParsePriority(s string) (Priority, error) {
	for p := PriorityLow; p < NumPriorities; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("invalid priority %q", s)
}

// Type tells which layer a message belongs to.
type Type uint8

const (
	TypeIp6          Type = iota // full uncompressed IPv6 packet
	Type6lowpan                  // 6LoWPAN frame
	TypeSupervision              // child supervision frame
	TypeMacEmptyData             // empty MAC data frame
	TypeIp4                      // full uncompressed IPv4 packet
	TypeOther
)

func (t Type) String() string {
	switch t {
	case TypeIp6:
		return "ip6"
	case Type6lowpan:
		return "6lowpan"
	case TypeSupervision:
		return "supervision"
	case TypeMacEmptyData:
		return "mac-empty"
	case TypeIp4:
		return "ip4"
	case TypeOther:
		return "other"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// SubType refines Type; it is opaque to this package.
type SubType uint8

const (
	SubTypeNone SubType = iota
	SubTypeMleAnnounce
	SubTypeMleDiscoverRequest
	SubTypeMleDiscoverResponse
	SubTypeJoinerEntrust
	SubTypeMplRetransmission
	SubTypeMleGeneral
	SubTypeJoinerFinalizeResponse
	SubTypeMleChildUpdateRequestOnParent
	SubTypeMleDataResponse
	SubTypeMleChildIdRequest
	SubTypeMleDataRequest
)

// IsMle returns whether st is one of MLE subtypes.
func (st SubType) IsMle() bool {
	switch st {
	case SubTypeMleAnnounce, SubTypeMleDiscoverRequest, SubTypeMleDiscoverResponse,
		SubTypeMleGeneral, SubTypeMleChildUpdateRequestOnParent, SubTypeMleDataResponse,
		SubTypeMleChildIdRequest, SubTypeMleDataRequest:
		return true
	}
	return false
}

// Settings are applied to a message at allocation time.
type Settings struct {
	LinkSecurity bool
	Priority     Priority
}

// DefaultSettings is what most protocol layers allocate with.
var DefaultSettings = Settings{LinkSecurity: true, Priority: PriorityNormal}
