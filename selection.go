// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

const DefaultAlpha = 0.05

// SignificantChannels returns the indices i with pvalues[i] <= alpha,
// in ascending order.
func SignificantChannels(pvalues []float64, alpha float64) []int {
	var idx []int
	for i, p := range pvalues {
		if p <= alpha {
			idx = append(idx, i)
		}
	}
	return idx
}

// ChannelNames maps channel indices to names.
func ChannelNames(idx []int, name func(int) string) []string {
	names := make([]string, len(idx))
	for i, k := range idx {
		names[i] = name(k)
	}
	return names
}
