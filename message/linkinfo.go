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
// link quality averaging

import (
	"fmt"
)

// InvalidRss is reported by RssAverager when no sample was added.
const InvalidRss = 127

const (
	rssPrecisionShift = 3 // average is kept in 1/8 dBm
	rssPrecision      = 1 << rssPrecisionShift
	rssPrecisionMask  = rssPrecision - 1

	avgCoeffShift = 3 // first 8 samples -> arithmetic mean, then weight 1/8 for new sample
	avgCoeffMax   = 1 << avgCoeffShift
)

// RssAverager maintains average received signal strength of a link.
//
// RSS values are in dBm and are clamped to [-128, 0]. The first 8 samples
// are averaged arithmetically; after that every new sample has weight 1/8.
// The zero value is empty averager.
type RssAverager struct {
	average uint16 // -rss * 8
	count   uint8
}

// Reset forgets all samples.
func (a *RssAverager) Reset() {
	*a = RssAverager{}
}

// HasAverage returns whether at least one sample was added.
func (a *RssAverager) HasAverage() bool { return a.count != 0 }

// Add adds one RSS sample.
//
// InvalidRss is rejected with ErrInvalidArgs.
func (a *RssAverager) Add(rss int8) error {
	if rss == InvalidRss {
		return ErrInvalidArgs
	}
	if rss > 0 {
		rss = 0
	}

	v := uint32(-int32(rss)) << rssPrecisionShift
	if a.count < avgCoeffMax {
		a.count++
	}
	n := uint32(a.count)
	a.average = uint16((uint32(a.average)*(n-1) + v) / n)
	return nil
}

// Average returns current average rounded to dBm, or InvalidRss if empty.
//
// e.g. average of -71.5 is reported as -72.
func (a *RssAverager) Average() int8 {
	if a.count == 0 {
		return InvalidRss
	}
	avg := -int8(a.average >> rssPrecisionShift)
	if a.average&rssPrecisionMask >= rssPrecision>>1 {
		avg--
	}
	return avg
}

var rssFracDigits = [rssPrecision]string{"0", "125", "25", "375", "5", "625", "75", "875"}

// String returns average with 1/8 dBm precision, e.g. "-71.375".
func (a RssAverager) String() string {
	if a.count == 0 {
		return ""
	}
	return fmt.Sprintf("-%d.%s", a.average>>rssPrecisionShift, rssFracDigits[a.average&rssPrecisionMask])
}

// LqiAverager maintains average link quality indicator.
//
// Same weighting as RssAverager is used.
type LqiAverager struct {
	average uint8
	count   uint8
}

func (a *LqiAverager) Reset() {
	*a = LqiAverager{}
}

// Add adds one LQI sample.
func (a *LqiAverager) Add(lqi uint8) {
	if a.count < 0xff {
		a.count++
	}
	n := a.count
	if n > avgCoeffMax {
		n = avgCoeffMax
	}
	a.average = uint8((uint32(a.average)*uint32(n-1) + uint32(lqi)) / uint32(n))
}

// Average returns current average LQI.
func (a *LqiAverager) Average() uint8 { return a.average }

// Count returns how many samples were added, saturated at 255.
func (a *LqiAverager) Count() uint8 { return a.count }
