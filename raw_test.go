// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"os"
	"strings"

	"gopkg.in/check.v1"
)

type rawSuite struct{}

var _ = check.Suite(&rawSuite{})

func (s *rawSuite) TestReadChannels(c *check.C) {
	channels, bads, err := readChannels(strings.NewReader(`# exported from a fif file
name	type	status
MEG0111	grad	good
MEG0112	GRAD
MEG0113	grad	bad
EEG001	eeg	good
EOG061	eog	good
`), "channels.tsv")
	c.Assert(err, check.IsNil)
	c.Check(channels, check.DeepEquals, []Channel{
		{"MEG0111", KindGrad},
		{"MEG0112", KindGrad},
		{"MEG0113", KindGrad},
		{"EEG001", KindEEG},
		{"EOG061", KindEOG},
	})
	c.Check(bads, check.DeepEquals, []string{"MEG0113"})
}

func (s *rawSuite) TestReadChannelsErrors(c *check.C) {
	_, _, err := readChannels(strings.NewReader("MEG0111\tgrad\nMEG0111\tgrad\n"), "x.tsv")
	c.Check(err, check.ErrorMatches, `x.tsv line 2: duplicate channel name "MEG0111"`)
	_, _, err = readChannels(strings.NewReader("MEG0111\tgradiometer\n"), "x.tsv")
	c.Check(err, check.ErrorMatches, `x.tsv line 1: unknown channel type "gradiometer"`)
	_, _, err = readChannels(strings.NewReader("MEG0111\n"), "x.tsv")
	c.Check(err, check.ErrorMatches, `x.tsv line 1: 1 fields < 2.*`)
	_, _, err = readChannels(strings.NewReader("name\ttype\n"), "x.tsv")
	c.Check(err, check.ErrorMatches, `x.tsv: no channels`)
}

func (s *rawSuite) TestParseChannelKinds(c *check.C) {
	kinds, err := ParseChannelKinds("grad, eog,")
	c.Assert(err, check.IsNil)
	c.Check(kinds, check.DeepEquals, []ChannelKind{KindGrad, KindEOG})
	_, err = ParseChannelKinds("grad,meg")
	c.Check(err, check.ErrorMatches, `unknown channel type "meg"`)
}

func (s *rawSuite) TestPickTypes(c *check.C) {
	info := &Info{
		Channels: []Channel{
			{"MEG0111", KindGrad},
			{"MEG0112", KindGrad},
			{"MEG0113", KindMag},
			{"EEG001", KindEEG},
			{"EOG061", KindEOG},
			{"STI014", KindStim},
		},
		Bads: []string{"MEG0112"},
	}
	c.Check(PickTypes(info, []ChannelKind{KindGrad, KindEOG}, nil, true), check.DeepEquals, []int{0, 4})
	c.Check(PickTypes(info, []ChannelKind{KindGrad, KindEOG}, nil, false), check.DeepEquals, []int{0, 1, 4})
	c.Check(PickTypes(info, []ChannelKind{KindGrad}, []string{"STI014", "MEG0112"}, true), check.DeepEquals, []int{0, 5})
	c.Check(PickTypes(info, nil, nil, true), check.IsNil)

	info.AddBads("EOG061", "MEG0112", "")
	c.Check(info.Bads, check.DeepEquals, []string{"MEG0112", "EOG061"})
	c.Check(PickTypes(info, []ChannelKind{KindGrad, KindEOG}, nil, true), check.DeepEquals, []int{0})
}

func (s *rawSuite) TestReadRaw(c *check.C) {
	tmpdir := c.MkDir()
	err := writeNumpyFloat64(tmpdir+"/raw.npy", []float64{1, 2, 3, 4, 5, 6}, 2, 3)
	c.Assert(err, check.IsNil)
	err = os.WriteFile(tmpdir+"/channels.tsv", []byte("name\ttype\tstatus\nMEG0111\tgrad\tbad\nEOG061\teog\tgood\n"), 0666)
	c.Assert(err, check.IsNil)

	raw, err := ReadRaw(tmpdir+"/raw.npy", tmpdir+"/channels.tsv", 1000, 42)
	c.Assert(err, check.IsNil)
	c.Check(raw.Samples(), check.Equals, 3)
	c.Check(raw.Info.SFreq, check.Equals, 1000.0)
	c.Check(raw.Info.FirstSample, check.Equals, 42)
	c.Check(raw.Info.Bads, check.DeepEquals, []string{"MEG0111"})
	c.Check(raw.Info.ChannelName(1), check.Equals, "EOG061")
	c.Check(raw.Data.At(1, 0), check.Equals, 4.0)

	_, err = ReadRaw(tmpdir+"/raw.npy", tmpdir+"/channels.tsv", 0, 0)
	c.Check(err, check.ErrorMatches, `invalid sampling frequency 0`)

	err = os.WriteFile(tmpdir+"/channels3.tsv", []byte("a\tgrad\nb\tgrad\nc\tgrad\n"), 0666)
	c.Assert(err, check.IsNil)
	_, err = ReadRaw(tmpdir+"/raw.npy", tmpdir+"/channels3.tsv", 1000, 0)
	c.Check(err, check.ErrorMatches, `.*channels3.tsv has 3 channels, .*raw.npy has 2 rows`)
}
