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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRssAverager(t *testing.T) {
	assert := require.New(t)

	var a RssAverager
	assert.False(a.HasAverage())
	assert.Equal(a.Average(), int8(InvalidRss))
	assert.Equal(a.String(), "")

	assert.Equal(a.Add(InvalidRss), ErrInvalidArgs)
	assert.False(a.HasAverage())

	assert.NoError(a.Add(-70))
	assert.Equal(a.Average(), int8(-70))
	assert.Equal(a.String(), "-70.0")

	// arithmetic mean while there are few samples: (-70 + -73) / 2 = -71.5 -> -72
	assert.NoError(a.Add(-73))
	assert.Equal(a.String(), "-71.5")
	assert.Equal(a.Average(), int8(-72))

	// positive values are clamped to 0
	a.Reset()
	assert.NoError(a.Add(10))
	assert.Equal(a.Average(), int8(0))

	// extremes
	a.Reset()
	assert.NoError(a.Add(-128))
	assert.Equal(a.Average(), int8(-128))

	// after 8 samples new value has weight 1/8
	a.Reset()
	for i := 0; i < 8; i++ {
		assert.NoError(a.Add(-80))
	}
	assert.NoError(a.Add(-40))
	assert.Equal(a.String(), "-75.0")
	assert.Equal(a.Average(), int8(-75))
}

func TestLqiAverager(t *testing.T) {
	assert := require.New(t)

	var a LqiAverager
	assert.Equal(a.Average(), uint8(0))

	a.Add(100)
	a.Add(200)
	assert.Equal(a.Average(), uint8(150))
	assert.Equal(a.Count(), uint8(2))

	a.Reset()
	for i := 0; i < 8; i++ {
		a.Add(80)
	}
	a.Add(160)
	assert.Equal(a.Average(), uint8(90))

	for i := 0; i < 300; i++ {
		a.Add(80)
	}
	assert.Equal(a.Count(), uint8(255))
}
