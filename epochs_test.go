// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type epochsSuite struct{}

var _ = check.Suite(&epochsSuite{})

// 3 channels x 50 samples at 10 Hz, starting at absolute sample 100.
// Channel A ramps (value = relative sample index), channel B is flat
// except for a spike at relative sample 30, EOG is zero.
func testRaw() *Raw {
	data := mat.NewDense(3, 50, nil)
	for i := 0; i < 50; i++ {
		data.Set(0, i, float64(i))
		data.Set(1, i, 2)
	}
	data.Set(1, 30, 100)
	return &Raw{
		Info: Info{
			SFreq:       10,
			FirstSample: 100,
			Channels:    []Channel{{"A", KindGrad}, {"B", KindGrad}, {"EOG", KindEOG}},
		},
		Data: data,
	}
}

var testEvents = []Event{
	{Sample: 101, Code: 1},
	{Sample: 110, Code: 1},
	{Sample: 120, Code: 2},
	{Sample: 130, Code: 1},
	{Sample: 140, Code: 1},
	{Sample: 148, Code: 1},
}

func (s *epochsSuite) TestExtract(c *check.C) {
	zero := 0.0
	ep, err := ExtractEpochs(testRaw(), testEvents, EpochParams{
		EventID:  1,
		TMin:     -0.2,
		TMax:     0.3,
		Picks:    []int{0, 1, 2},
		Baseline: &Baseline{End: &zero},
		Reject:   map[ChannelKind]float64{KindGrad: 50, KindEOG: 1},
	})
	c.Assert(err, check.IsNil)
	c.Check(ep.Times, check.DeepEquals, []float64{-0.2, -0.1, 0, 0.1, 0.2, 0.3})
	c.Check(ep.NEpochs, check.Equals, 2)
	c.Check(ep.NChannels, check.Equals, 3)
	c.Check(ep.NTimes, check.Equals, 6)
	c.Check(ep.Data, check.HasLen, 2*3*6)
	c.Check(ep.ChannelNames, check.DeepEquals, []string{"A", "B", "EOG"})
	c.Check(ep.Events, check.DeepEquals, []Event{testEvents[1], testEvents[4]})
	c.Check(ep.DropLog, check.DeepEquals, []DropEntry{
		{Event: testEvents[0], Reasons: []string{"TOO_SHORT"}},
		{Event: testEvents[3], Reasons: []string{"B"}},
		{Event: testEvents[5], Reasons: []string{"TOO_SHORT"}},
	})
	for e := 0; e < 2; e++ {
		c.Check(ep.Series(e, 0), check.DeepEquals, []float64{-1, 0, 1, 2, 3, 4})
		c.Check(ep.Series(e, 1), check.DeepEquals, []float64{0, 0, 0, 0, 0, 0})
	}

	obs, err := WindowMean(ep, TimeMask(ep.Times, 0.1, 0.2))
	c.Assert(err, check.IsNil)
	c.Check(obs.At(0, 0), check.Equals, 2.5)
	c.Check(obs.At(1, 2), check.Equals, 0.0)
}

func (s *epochsSuite) TestNoBaseline(c *check.C) {
	ep, err := ExtractEpochs(testRaw(), testEvents, EpochParams{
		EventID: 1,
		TMin:    -0.2,
		TMax:    0.3,
		Picks:   []int{0},
	})
	c.Assert(err, check.IsNil)
	c.Check(ep.NEpochs, check.Equals, 3)
	c.Check(ep.Series(0, 0), check.DeepEquals, []float64{8, 9, 10, 11, 12, 13})
	c.Check(ep.Series(1, 0), check.DeepEquals, []float64{28, 29, 30, 31, 32, 33})
	c.Check(ep.Picks, check.DeepEquals, []int{0})
}

func (s *epochsSuite) TestErrors(c *check.C) {
	_, err := ExtractEpochs(testRaw(), testEvents, EpochParams{EventID: 5, TMin: -0.2, TMax: 0.3, Picks: []int{0}})
	c.Check(errors.Is(err, ErrNoEpochs), check.Equals, true)

	_, err = ExtractEpochs(testRaw(), testEvents, EpochParams{EventID: 1, TMin: 0.3, TMax: -0.2, Picks: []int{0}})
	c.Check(err, check.ErrorMatches, `tmin 0.3 > tmax -0.2`)

	_, err = ExtractEpochs(testRaw(), testEvents, EpochParams{EventID: 1, TMin: -0.2, TMax: 0.3})
	c.Check(err, check.ErrorMatches, `no channels picked`)

	_, err = ExtractEpochs(testRaw(), testEvents, EpochParams{EventID: 1, TMin: -0.2, TMax: 0.3, Picks: []int{3}})
	c.Check(err, check.ErrorMatches, `picked channel index 3 out of range \[0,3\)`)

	lo, hi := 0.5, 0.6
	_, err = ExtractEpochs(testRaw(), testEvents, EpochParams{EventID: 1, TMin: -0.2, TMax: 0.3, Picks: []int{0}, Baseline: &Baseline{Start: &lo, End: &hi}})
	c.Check(err, check.ErrorMatches, `baseline interval .* is outside the epoch .*`)
}

func (s *epochsSuite) TestParseBaseline(c *check.C) {
	bl, err := ParseBaseline("None,0")
	c.Assert(err, check.IsNil)
	c.Check(bl.Start, check.IsNil)
	c.Assert(bl.End, check.NotNil)
	c.Check(*bl.End, check.Equals, 0.0)

	bl, err = ParseBaseline("-0.1, None")
	c.Assert(err, check.IsNil)
	c.Check(*bl.Start, check.Equals, -0.1)
	c.Check(bl.End, check.IsNil)

	bl, err = ParseBaseline("")
	c.Check(err, check.IsNil)
	c.Check(bl, check.IsNil)

	_, err = ParseBaseline("0,1,2")
	c.Check(err, check.ErrorMatches, `invalid baseline "0,1,2".*`)
	_, err = ParseBaseline("x,1")
	c.Check(err, check.ErrorMatches, `invalid baseline "x,1": .*`)
}

func (s *epochsSuite) TestParseReject(c *check.C) {
	reject, err := ParseReject("grad=4000e-13,eog=150e-6")
	c.Assert(err, check.IsNil)
	c.Check(reject, check.DeepEquals, map[ChannelKind]float64{KindGrad: 4000e-13, KindEOG: 150e-6})

	reject, err = ParseReject("")
	c.Assert(err, check.IsNil)
	c.Check(reject, check.HasLen, 0)

	for _, bad := range []string{"grad", "meg=1", "grad=-1", "grad=x"} {
		_, err = ParseReject(bad)
		c.Check(err, check.NotNil, check.Commentf("%q", bad))
	}
}
