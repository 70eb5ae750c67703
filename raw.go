// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type ChannelKind string

const (
	KindGrad ChannelKind = "grad"
	KindMag  ChannelKind = "mag"
	KindEEG  ChannelKind = "eeg"
	KindEOG  ChannelKind = "eog"
	KindStim ChannelKind = "stim"
	KindMisc ChannelKind = "misc"
)

var channelKinds = map[ChannelKind]bool{
	KindGrad: true,
	KindMag:  true,
	KindEEG:  true,
	KindEOG:  true,
	KindStim: true,
	KindMisc: true,
}

// ParseChannelKinds parses a comma-separated list like "grad,eog".
func ParseChannelKinds(s string) ([]ChannelKind, error) {
	var kinds []ChannelKind
	for _, k := range strings.Split(s, ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if !channelKinds[ChannelKind(k)] {
			return nil, fmt.Errorf("unknown channel type %q", k)
		}
		kinds = append(kinds, ChannelKind(k))
	}
	return kinds, nil
}

type Channel struct {
	Name string
	Kind ChannelKind
}

// Info describes a continuous recording.
type Info struct {
	SFreq float64 // samples per second

	// Absolute index of the first sample in the data array. Event
	// sample numbers are absolute.
	FirstSample int

	Channels []Channel
	Bads     []string
}

func (info *Info) ChannelName(i int) string {
	return info.Channels[i].Name
}

func (info *Info) IsBad(name string) bool {
	for _, bad := range info.Bads {
		if bad == name {
			return true
		}
	}
	return false
}

// AddBads marks additional channels as bad. Names that are already
// bad are ignored.
func (info *Info) AddBads(names ...string) {
	for _, name := range names {
		if name != "" && !info.IsBad(name) {
			info.Bads = append(info.Bads, name)
		}
	}
}

// Raw is a continuous multichannel recording.
type Raw struct {
	Info Info
	Data *mat.Dense // channels x samples
}

func (raw *Raw) Samples() int {
	_, n := raw.Data.Dims()
	return n
}

// ReadRaw loads a recording from a channels x samples numpy array and
// a channel list. The channel list is a tab-separated file with
// columns name, type, and (optionally) status; status "bad" marks a
// bad channel.
func ReadRaw(dataFilename, channelsFilename string, sfreq float64, firstSample int) (*Raw, error) {
	if sfreq <= 0 {
		return nil, fmt.Errorf("invalid sampling frequency %v", sfreq)
	}
	data, err := readNumpyMatrix(dataFilename)
	if err != nil {
		return nil, err
	}
	f, err := zopen(channelsFilename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	channels, bads, err := readChannels(f, channelsFilename)
	if err != nil {
		return nil, err
	}
	if rows, _ := data.Dims(); rows != len(channels) {
		return nil, fmt.Errorf("%s has %d channels, %s has %d rows", channelsFilename, len(channels), dataFilename, rows)
	}
	raw := &Raw{
		Info: Info{
			SFreq:       sfreq,
			FirstSample: firstSample,
			Channels:    channels,
			Bads:        bads,
		},
		Data: data,
	}
	log.Infof("read %d channels x %d samples (%.1f s at %g Hz)", len(channels), raw.Samples(), float64(raw.Samples())/sfreq, sfreq)
	return raw, nil
}

func readChannels(r io.Reader, fnm string) (channels []Channel, bads []string, err error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	seen := map[string]bool{}
	for lineIdx, line := range bytes.Split(buf, []byte{'\n'}) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		fields := strings.Split(string(line), "\t")
		if len(channels) == 0 && fields[0] == "name" {
			continue
		}
		if len(fields) < 2 {
			return nil, nil, fmt.Errorf("%s line %d: %d fields < 2: %q", fnm, lineIdx+1, len(fields), line)
		}
		ch := Channel{Name: fields[0], Kind: ChannelKind(strings.ToLower(fields[1]))}
		if !channelKinds[ch.Kind] {
			return nil, nil, fmt.Errorf("%s line %d: unknown channel type %q", fnm, lineIdx+1, fields[1])
		}
		if seen[ch.Name] {
			return nil, nil, fmt.Errorf("%s line %d: duplicate channel name %q", fnm, lineIdx+1, ch.Name)
		}
		seen[ch.Name] = true
		channels = append(channels, ch)
		if len(fields) > 2 && strings.EqualFold(fields[2], "bad") {
			bads = append(bads, ch.Name)
		}
	}
	if len(channels) == 0 {
		return nil, nil, fmt.Errorf("%s: no channels", fnm)
	}
	return channels, bads, nil
}

// PickTypes returns the indices of channels whose kind is listed in
// kinds or whose name is listed in include, in recording order. If
// excludeBads is true, bad channels are skipped even if named in
// include.
func PickTypes(info *Info, kinds []ChannelKind, include []string, excludeBads bool) []int {
	want := map[ChannelKind]bool{}
	for _, k := range kinds {
		want[k] = true
	}
	named := map[string]bool{}
	for _, name := range include {
		named[name] = true
	}
	var picks []int
	for i, ch := range info.Channels {
		if !want[ch.Kind] && !named[ch.Name] {
			continue
		}
		if excludeBads && info.IsBad(ch.Name) {
			continue
		}
		picks = append(picks, i)
	}
	return picks
}
