// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

var ErrNoEpochs = errors.New("no epochs")

// Epochs holds fixed-length slices of a recording around events.
type Epochs struct {
	// Data[(e*NChannels+ch)*NTimes+t] is the value of channel ch
	// at Times[t] in epoch e.
	Data []float64

	NEpochs, NChannels, NTimes int

	Times        []float64 // seconds relative to the event
	ChannelNames []string
	Picks        []int   // raw channel index of each epoch channel
	Events       []Event // event of each kept epoch
	DropLog      []DropEntry
}

type DropEntry struct {
	Event   Event
	Reasons []string // "TOO_SHORT", or the names of channels exceeding rejection thresholds
}

// Series returns the time series of one channel in one epoch. The
// returned slice shares memory with ep.Data.
func (ep *Epochs) Series(epoch, channel int) []float64 {
	off := (epoch*ep.NChannels + channel) * ep.NTimes
	return ep.Data[off : off+ep.NTimes]
}

func NewEpochs(data []float64, shape []int, times []float64) (*Epochs, error) {
	if len(shape) != 3 {
		return nil, fmt.Errorf("epochs array must have 3 dimensions, got shape %v", shape)
	}
	if shape[0]*shape[1]*shape[2] != len(data) {
		return nil, fmt.Errorf("shape %v does not match data length %d", shape, len(data))
	}
	if len(times) != shape[2] {
		return nil, fmt.Errorf("time axis has %d entries, epochs have %d timepoints", len(times), shape[2])
	}
	ep := &Epochs{
		Data:      data,
		NEpochs:   shape[0],
		NChannels: shape[1],
		NTimes:    shape[2],
		Times:     times,
	}
	for ch := 0; ch < ep.NChannels; ch++ {
		ep.ChannelNames = append(ep.ChannelNames, fmt.Sprintf("ch%d", ch))
		ep.Picks = append(ep.Picks, ch)
	}
	return ep, nil
}

// Baseline is an interval [Start, End] in seconds; a nil bound means
// the beginning (or end) of the epoch.
type Baseline struct {
	Start, End *float64
}

// ParseBaseline parses "start,end" where either bound may be "None"
// or empty.
func ParseBaseline(s string) (*Baseline, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid baseline %q (want start,end)", s)
	}
	var bl Baseline
	for i, dst := range []**float64{&bl.Start, &bl.End} {
		part := strings.TrimSpace(parts[i])
		if part == "" || part == "None" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid baseline %q: %w", s, err)
		}
		*dst = &f
	}
	return &bl, nil
}

// ParseReject parses per-channel-type peak-to-peak thresholds like
// "grad=4000e-13,eog=150e-6".
func ParseReject(s string) (map[ChannelKind]float64, error) {
	reject := map[ChannelKind]float64{}
	for _, kv := range strings.Split(s, ",") {
		if kv = strings.TrimSpace(kv); kv == "" {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			return nil, fmt.Errorf("invalid rejection threshold %q (want type=value)", kv)
		}
		kind := ChannelKind(kv[:eq])
		if !channelKinds[kind] {
			return nil, fmt.Errorf("invalid rejection threshold %q: unknown channel type", kv)
		}
		thr, err := strconv.ParseFloat(kv[eq+1:], 64)
		if err != nil || thr <= 0 {
			return nil, fmt.Errorf("invalid rejection threshold %q", kv)
		}
		reject[kind] = thr
	}
	return reject, nil
}

type EpochParams struct {
	EventID    int
	TMin, TMax float64 // seconds relative to the event
	Picks      []int
	Baseline   *Baseline // nil for no baseline correction

	// Maximum peak-to-peak amplitude per channel type. Epochs
	// where any picked channel exceeds its threshold are dropped.
	Reject map[ChannelKind]float64
}

// ExtractEpochs slices the recording around each event whose code is
// params.EventID.
func ExtractEpochs(raw *Raw, events []Event, params EpochParams) (*Epochs, error) {
	sfreq := raw.Info.SFreq
	if params.TMin > params.TMax {
		return nil, fmt.Errorf("tmin %v > tmax %v", params.TMin, params.TMax)
	}
	if len(params.Picks) == 0 {
		return nil, errors.New("no channels picked")
	}
	nchans := len(raw.Info.Channels)
	for _, p := range params.Picks {
		if p < 0 || p >= nchans {
			return nil, fmt.Errorf("picked channel index %d out of range [0,%d)", p, nchans)
		}
	}
	start := int(math.Round(params.TMin * sfreq))
	stop := int(math.Round(params.TMax * sfreq))
	ntimes := stop - start + 1
	times := make([]float64, ntimes)
	for i := range times {
		times[i] = float64(start+i) / sfreq
	}

	var blidx []int
	if bl := params.Baseline; bl != nil {
		lo, hi := times[0], times[ntimes-1]
		if bl.Start != nil {
			lo = *bl.Start
		}
		if bl.End != nil {
			hi = *bl.End
		}
		for i, t := range times {
			if lo <= t && t <= hi {
				blidx = append(blidx, i)
			}
		}
		if len(blidx) == 0 {
			return nil, fmt.Errorf("baseline interval [%v,%v] is outside the epoch [%v,%v]", lo, hi, times[0], times[ntimes-1])
		}
	}

	ep := &Epochs{
		NChannels: len(params.Picks),
		NTimes:    ntimes,
		Times:     times,
		Picks:     append([]int(nil), params.Picks...),
	}
	for _, p := range params.Picks {
		ep.ChannelNames = append(ep.ChannelNames, raw.Info.Channels[p].Name)
	}

	nsamples := raw.Samples()
	buf := make([]float64, ep.NChannels*ntimes)
	for _, ev := range events {
		if ev.Code != params.EventID {
			continue
		}
		pos := ev.Sample - raw.Info.FirstSample + start
		if pos < 0 || pos+ntimes > nsamples {
			ep.DropLog = append(ep.DropLog, DropEntry{Event: ev, Reasons: []string{"TOO_SHORT"}})
			continue
		}
		var reasons []string
		for ch, p := range params.Picks {
			series := buf[ch*ntimes : (ch+1)*ntimes]
			copy(series, raw.Data.RawRowView(p)[pos:pos+ntimes])
			chinfo := raw.Info.Channels[p]
			if thr, ok := params.Reject[chinfo.Kind]; ok {
				if ptp := floats.Max(series) - floats.Min(series); ptp > thr {
					reasons = append(reasons, chinfo.Name)
				}
			}
			if blidx != nil {
				mean := 0.0
				for _, i := range blidx {
					mean += series[i]
				}
				floats.AddConst(-mean/float64(len(blidx)), series)
			}
		}
		if len(reasons) > 0 {
			ep.DropLog = append(ep.DropLog, DropEntry{Event: ev, Reasons: reasons})
			continue
		}
		ep.Data = append(ep.Data, buf...)
		ep.Events = append(ep.Events, ev)
		ep.NEpochs++
	}
	log.WithFields(log.Fields{
		"event_id": params.EventID,
		"kept":     ep.NEpochs,
		"dropped":  len(ep.DropLog),
		"channels": ep.NChannels,
		"times":    ntimes,
	}).Info("extracted epochs")
	if ep.NEpochs == 0 {
		return nil, fmt.Errorf("%w: %d events with code %d dropped", ErrNoEpochs, len(ep.DropLog), params.EventID)
	}
	return ep, nil
}
