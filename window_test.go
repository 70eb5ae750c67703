// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"errors"

	"gopkg.in/check.v1"
)

type windowSuite struct{}

var _ = check.Suite(&windowSuite{})

// 2 epochs x 2 channels x 5 timepoints; value = 100*epoch + 10*channel + t
func testEpochs(c *check.C) *Epochs {
	var data []float64
	for e := 0; e < 2; e++ {
		for ch := 0; ch < 2; ch++ {
			for t := 0; t < 5; t++ {
				data = append(data, float64(100*e+10*ch+t))
			}
		}
	}
	ep, err := NewEpochs(data, []int{2, 2, 5}, []float64{0, 0.02, 0.04, 0.06, 0.08})
	c.Assert(err, check.IsNil)
	return ep
}

func (s *windowSuite) TestTimeMaskInclusive(c *check.C) {
	mask := TimeMask([]float64{0, 0.02, 0.04, 0.06, 0.08}, 0.02, 0.06)
	c.Check(mask, check.DeepEquals, []bool{false, true, true, true, false})
	mask = TimeMask([]float64{0, 0.02, 0.04}, 0.05, 0.07)
	c.Check(mask, check.DeepEquals, []bool{false, false, false})
}

func (s *windowSuite) TestSingleTimepoint(c *check.C) {
	ep := testEpochs(c)
	obs, err := WindowMean(ep, []bool{false, false, false, true, false})
	c.Assert(err, check.IsNil)
	rows, cols := obs.Dims()
	c.Check(rows, check.Equals, 2)
	c.Check(cols, check.Equals, 2)
	c.Check(obs.At(0, 0), check.Equals, 3.0)
	c.Check(obs.At(0, 1), check.Equals, 13.0)
	c.Check(obs.At(1, 0), check.Equals, 103.0)
	c.Check(obs.At(1, 1), check.Equals, 113.0)
}

func (s *windowSuite) TestMean(c *check.C) {
	ep := testEpochs(c)
	obs, err := WindowMean(ep, TimeMask(ep.Times, 0.02, 0.06))
	c.Assert(err, check.IsNil)
	c.Check(obs.At(0, 0), check.Equals, 2.0)
	c.Check(obs.At(1, 1), check.Equals, 112.0)
}

func (s *windowSuite) TestEmptyWindow(c *check.C) {
	ep := testEpochs(c)
	_, err := WindowMean(ep, TimeMask(ep.Times, 0.5, 0.6))
	c.Check(errors.Is(err, ErrEmptyWindow), check.Equals, true)
}

func (s *windowSuite) TestMaskLength(c *check.C) {
	ep := testEpochs(c)
	_, err := WindowMean(ep, []bool{true, true})
	c.Check(err, check.ErrorMatches, `time mask has 2 entries, epochs have 5 timepoints`)
}

func (s *windowSuite) TestNewEpochsShape(c *check.C) {
	_, err := NewEpochs(make([]float64, 6), []int{2, 3}, nil)
	c.Check(err, check.ErrorMatches, `epochs array must have 3 dimensions.*`)
	_, err = NewEpochs(make([]float64, 6), []int{1, 2, 4}, make([]float64, 4))
	c.Check(err, check.ErrorMatches, `shape .* does not match data length 6`)
	_, err = NewEpochs(make([]float64, 8), []int{1, 2, 4}, make([]float64, 3))
	c.Check(err, check.ErrorMatches, `time axis has 3 entries, epochs have 4 timepoints`)
	ep, err := NewEpochs(make([]float64, 8), []int{1, 2, 4}, make([]float64, 4))
	c.Assert(err, check.IsNil)
	c.Check(ep.ChannelNames, check.DeepEquals, []string{"ch0", "ch1"})
}
