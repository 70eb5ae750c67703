// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var ErrTooFewSamples = errors.New("t statistic needs at least 2 samples")

// Tail selects the alternative hypothesis.
type Tail int

const (
	TailBoth  Tail = 0
	TailUpper Tail = 1
	TailLower Tail = -1
)

func (t Tail) String() string {
	switch t {
	case TailUpper:
		return "upper"
	case TailLower:
		return "lower"
	default:
		return "two-sided"
	}
}

// Number of permutations drawn from a single random source. Seeds are
// assigned per block, not per worker, so the null distribution does
// not depend on the number of workers.
const permutationBlockSize = 1024

type PermutationConfig struct {
	// Requested number of sign-flip permutations. If this is at
	// least 2^n-1 (n = number of samples), all non-identity sign
	// assignments are enumerated instead. For a two-sided test an
	// assignment and its mirror give the same |t|, so only
	// 2^(n-1)-1 are needed.
	Permutations int

	// Maximum number of concurrent workers (0 means GOMAXPROCS).
	Jobs int

	Tail Tail
	Seed uint64
}

type PermutationResult struct {
	T0      []float64 // observed t statistic per channel
	PValues []float64 // max-statistic corrected p-value per channel
	H0      []float64 // null distribution of the max statistic, ascending

	// Number of permutations actually evaluated (len(H0)).
	Permutations int

	// True if H0 was built by exhaustive enumeration.
	Exact bool
}

// PermutationTTest runs a one-sample t-test against zero mean on each
// column of X, using a sign-flip permutation null distribution of the
// maximum statistic across columns (family-wise error control).
//
// The test has little power when Permutations is small: the smallest
// attainable p-value is 1/(Permutations+1).
func PermutationTTest(X mat.Matrix, cfg PermutationConfig) (*PermutationResult, error) {
	nsamples, nchannels := X.Dims()
	if nsamples < 2 {
		return nil, fmt.Errorf("%w (got %d)", ErrTooFewSamples, nsamples)
	}
	if nchannels < 1 {
		return nil, errors.New("observation matrix has no channels")
	}
	if cfg.Permutations < 1 {
		return nil, fmt.Errorf("invalid number of permutations %d", cfg.Permutations)
	}
	switch cfg.Tail {
	case TailBoth, TailUpper, TailLower:
	default:
		return nil, fmt.Errorf("invalid tail %d", cfg.Tail)
	}

	rows := make([][]float64, nsamples)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
		for ch, x := range rows[i] {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("non-finite value %v at sample %d, channel %d", x, i, ch)
			}
		}
	}
	ts := newTStat(rows)

	signs := make([]float64, nsamples)
	for i := range signs {
		signs[i] = 1
	}
	t0 := make([]float64, nchannels)
	ts.compute(t0, signs)

	exact, nperm := permutationCount(nsamples, cfg.Permutations, cfg.Tail)
	if min := 1 / float64(nperm+1); min > 0.05 {
		log.Warnf("%d permutations: smallest attainable p-value is %.3g", nperm, min)
	}

	jobs := cfg.Jobs
	if jobs < 1 {
		jobs = runtime.GOMAXPROCS(0)
	}
	nblocks := (nperm + permutationBlockSize - 1) / permutationBlockSize
	log.WithFields(log.Fields{
		"samples":      nsamples,
		"channels":     nchannels,
		"permutations": nperm,
		"exact":        exact,
		"jobs":         jobs,
	}).Debug("running permutation t-test")

	h0 := make([]float64, nperm)
	throttle := throttle{Max: jobs}
	for block := 0; block < nblocks; block++ {
		block := block
		throttle.Go(func() error {
			start := block * permutationBlockSize
			end := start + permutationBlockSize
			if end > nperm {
				end = nperm
			}
			signs := make([]float64, nsamples)
			tvals := make([]float64, nchannels)
			var rng *rand.Rand
			if !exact {
				rng = rand.New(rand.NewSource(blockSeed(cfg.Seed, block)))
			}
			for k := start; k < end; k++ {
				if exact {
					// skip code 0, the identity
					exactSigns(signs, uint64(k)+1)
				} else {
					randomSigns(signs, rng)
				}
				ts.compute(tvals, signs)
				h0[k] = maxStat(tvals, cfg.Tail)
			}
			return nil
		})
	}
	err := throttle.Wait()
	if err != nil {
		return nil, err
	}
	sort.Float64s(h0)

	pvalues := make([]float64, nchannels)
	scale := float64(nperm + 1)
	for ch, t := range t0 {
		// H0 is sorted, so the count of null values >= the
		// observed statistic is everything from the first
		// index where h0[i] >= obs.
		obs := tailStat(t, cfg.Tail)
		atLeast := nperm - sort.SearchFloat64s(h0, obs)
		pvalues[ch] = float64(atLeast+1) / scale
	}
	return &PermutationResult{
		T0:           t0,
		PValues:      pvalues,
		H0:           h0,
		Permutations: nperm,
		Exact:        exact,
	}, nil
}

// permutationCount returns the number of permutations to evaluate,
// and whether that number covers every distinct non-identity sign
// assignment.
//
// In the two-sided case the last sample's sign stays +1 during
// enumeration. The all-negative assignment left out this way ties the
// largest observed |t|, so p = (1+c)/(2^(n-1)) either way.
func permutationCount(nsamples, requested int, tail Tail) (bool, int) {
	bits := nsamples
	if tail == TailBoth {
		bits--
	}
	if bits < 63 {
		all := uint64(1)<<uint(bits) - 1
		if uint64(requested) >= all {
			return true, int(all)
		}
	}
	return false, requested
}

// tstat computes one-sample t statistics for sign-flipped versions of
// the same data. mean(x^2) does not change when signs are flipped, so
// only the column sums have to be recomputed for each permutation.
type tstat struct {
	rows       [][]float64
	meansq     []float64
	n          float64
	dofScaling float64
}

func newTStat(rows [][]float64) *tstat {
	nchannels := len(rows[0])
	meansq := make([]float64, nchannels)
	for _, row := range rows {
		for ch, x := range row {
			meansq[ch] += x * x
		}
	}
	n := float64(len(rows))
	floats.Scale(1/n, meansq)
	return &tstat{
		rows:       rows,
		meansq:     meansq,
		n:          n,
		dofScaling: math.Sqrt(n / (n - 1)),
	}
}

// compute writes the t statistic of each channel to dst, with sample
// i multiplied by signs[i] (+1 or -1).
func (ts *tstat) compute(dst, signs []float64) {
	for ch := range dst {
		dst[ch] = 0
	}
	for i, row := range ts.rows {
		if signs[i] > 0 {
			floats.Add(dst, row)
		} else {
			floats.Sub(dst, row)
		}
	}
	sqrtn := math.Sqrt(ts.n)
	for ch, sum := range dst {
		mu := sum / ts.n
		v := ts.meansq[ch] - mu*mu
		if v <= ts.meansq[ch]*1e-12 {
			// zero variance, up to rounding noise
			v = 0
		}
		std := math.Sqrt(v) * ts.dofScaling
		switch {
		case std > 0:
			dst[ch] = mu / (std / sqrtn)
		case mu > 0:
			dst[ch] = math.Inf(1)
		case mu < 0:
			dst[ch] = math.Inf(-1)
		default:
			dst[ch] = 0
		}
	}
}

func tailStat(t float64, tail Tail) float64 {
	switch tail {
	case TailUpper:
		return t
	case TailLower:
		return -t
	default:
		return math.Abs(t)
	}
}

func maxStat(tvals []float64, tail Tail) float64 {
	max := math.Inf(-1)
	for _, t := range tvals {
		if s := tailStat(t, tail); s > max {
			max = s
		}
	}
	return max
}

// exactSigns sets signs[i] to -1 if bit i of code is set, otherwise
// +1.
func exactSigns(signs []float64, code uint64) {
	for i := range signs {
		if code>>uint(i)&1 == 1 {
			signs[i] = -1
		} else {
			signs[i] = 1
		}
	}
}

func randomSigns(signs []float64, rng *rand.Rand) {
	var bits uint64
	for i := range signs {
		if i%64 == 0 {
			bits = rng.Uint64()
		}
		if bits&1 == 1 {
			signs[i] = -1
		} else {
			signs[i] = 1
		}
		bits >>= 1
	}
}

// blockSeed derives the random seed for the given permutation block
// (splitmix64 finalizer).
func blockSeed(seed uint64, block int) uint64 {
	z := seed + uint64(block+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
