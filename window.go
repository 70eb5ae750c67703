// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrEmptyWindow = errors.New("time window does not contain any samples")

// TimeMask returns a mask selecting the timepoints t with
// tmin <= t <= tmax.
func TimeMask(times []float64, tmin, tmax float64) []bool {
	mask := make([]bool, len(times))
	for i, t := range times {
		mask[i] = tmin <= t && t <= tmax
	}
	return mask
}

// WindowMean averages each epoch's samples over the masked timepoints,
// returning an epochs x channels observation matrix.
func WindowMean(ep *Epochs, mask []bool) (*mat.Dense, error) {
	if len(mask) != ep.NTimes {
		return nil, fmt.Errorf("time mask has %d entries, epochs have %d timepoints", len(mask), ep.NTimes)
	}
	var idx []int
	for i, m := range mask {
		if m {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, ErrEmptyWindow
	}
	if ep.NEpochs == 0 {
		return nil, ErrNoEpochs
	}
	out := mat.NewDense(ep.NEpochs, ep.NChannels, nil)
	for e := 0; e < ep.NEpochs; e++ {
		for ch := 0; ch < ep.NChannels; ch++ {
			series := ep.Series(e, ch)
			sum := 0.0
			for _, i := range idx {
				sum += series[i]
			}
			out.Set(e, ch, sum/float64(len(idx)))
		}
	}
	return out, nil
}
