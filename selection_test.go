// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"gopkg.in/check.v1"
)

type selectionSuite struct{}

var _ = check.Suite(&selectionSuite{})

func (s *selectionSuite) TestThreshold(c *check.C) {
	p := []float64{0.05, 0.0500001, 0.01, 1, 0.049999}
	c.Check(SignificantChannels(p, 0.05), check.DeepEquals, []int{0, 2, 4})
	c.Check(SignificantChannels(p, 0.001), check.IsNil)
	c.Check(SignificantChannels(p, 1), check.DeepEquals, []int{0, 1, 2, 3, 4})
}

func (s *selectionSuite) TestNames(c *check.C) {
	all := []string{"MEG0111", "MEG0112", "MEG0113", "EOG061"}
	names := ChannelNames([]int{1, 3}, func(i int) string { return all[i] })
	c.Check(names, check.DeepEquals, []string{"MEG0112", "EOG061"})
	c.Check(ChannelNames(nil, nil), check.HasLen, 0)
}
