// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	moremath "github.com/aclements/go-moremath/stats"
	mstats "github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Report presents a permutation test result.
type Report struct {
	Result       *PermutationResult
	Observations mat.Matrix // samples x channels input to the test
	Alpha        float64
	Tail         Tail
	ChannelNames []string
	ChannelKinds []ChannelKind // optional
}

func (r *Report) Significant() []int {
	return SignificantChannels(r.Result.PValues, r.Alpha)
}

func (r *Report) SignificantNames() []string {
	return ChannelNames(r.Significant(), func(i int) string { return r.ChannelNames[i] })
}

// ParametricPValues returns the uncorrected p-value of a one-sample
// Student t-test for each channel. Channels with zero variance get
// NaN.
func (r *Report) ParametricPValues() []float64 {
	alt := moremath.LocationDiffers
	switch r.Tail {
	case TailUpper:
		alt = moremath.LocationGreater
	case TailLower:
		alt = moremath.LocationLess
	}
	_, nchannels := r.Observations.Dims()
	p := make([]float64, nchannels)
	for ch := range p {
		res, err := moremath.OneSampleTTest(moremath.Sample{Xs: mat.Col(nil, ch, r.Observations)}, 0, alt)
		if err != nil {
			p[ch] = math.NaN()
			continue
		}
		p[ch] = res.P
	}
	return p
}

// WriteDir writes T0.npy, pvalues.npy, H0.npy, channels.tsv, and
// summary.json to dir.
func (r *Report) WriteDir(dir string) error {
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return err
	}
	res := r.Result
	for _, arr := range []struct {
		name string
		data []float64
	}{
		{"T0.npy", res.T0},
		{"pvalues.npy", res.PValues},
		{"H0.npy", res.H0},
	} {
		err = writeNumpyFloat64(filepath.Join(dir, arr.name), arr.data, len(arr.data))
		if err != nil {
			return err
		}
	}
	for _, out := range []struct {
		name  string
		write func(io.Writer) error
	}{
		{"channels.tsv", r.WriteChannels},
		{"summary.json", r.WriteSummary},
	} {
		fnm := filepath.Join(dir, out.name)
		log.Infof("writing %s", fnm)
		f, err := os.Create(fnm)
		if err != nil {
			return err
		}
		bufw := bufio.NewWriter(f)
		err = out.write(bufw)
		if err != nil {
			f.Close()
			return fmt.Errorf("%s: %w", fnm, err)
		}
		err = bufw.Flush()
		if err != nil {
			f.Close()
			return err
		}
		err = f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteChannels writes one tab-separated line per channel: index,
// name, type, observed t, corrected p, parametric p, and 1 or 0 for
// significant at Alpha. This is the input a topomap renderer needs.
func (r *Report) WriteChannels(w io.Writer) error {
	res := r.Result
	ppar := r.ParametricPValues()
	_, err := fmt.Fprint(w, "index\tname\ttype\tt\tp\tp_parametric\tsignificant\n")
	if err != nil {
		return err
	}
	for ch, t := range res.T0 {
		kind := ""
		if ch < len(r.ChannelKinds) {
			kind = string(r.ChannelKinds[ch])
		}
		sig := 0
		if res.PValues[ch] <= r.Alpha {
			sig = 1
		}
		_, err = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\n", ch, r.ChannelNames[ch], kind,
			formatFloat(t), formatFloat(res.PValues[ch]), formatFloat(ppar[ch]), sig)
		if err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 8, 64)
}

// jsonFloat encodes NaN and infinities as null.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(f))
}

type reportSummary struct {
	Channels            int
	Samples             int
	Permutations        int
	Exact               bool
	Tail                string
	Alpha               float64
	MinimumPValue       float64
	CriticalStatistic   jsonFloat // H0 quantile at 1-Alpha
	BonferroniStatistic jsonFloat // parametric threshold, for comparison
	H0Percentiles       map[string]jsonFloat
	SignificantChannels []string
}

func (r *Report) summary() (*reportSummary, error) {
	res := r.Result
	samples, _ := r.Observations.Dims()
	sum := &reportSummary{
		Channels:            len(res.T0),
		Samples:             samples,
		Permutations:        res.Permutations,
		Exact:               res.Exact,
		Tail:                r.Tail.String(),
		Alpha:               r.Alpha,
		MinimumPValue:       1 / float64(res.Permutations+1),
		H0Percentiles:       map[string]jsonFloat{},
		SignificantChannels: r.SignificantNames(),
	}
	if sum.SignificantChannels == nil {
		sum.SignificantChannels = []string{}
	}
	sum.CriticalStatistic = jsonFloat(stat.Quantile(1-r.Alpha, stat.Empirical, res.H0, nil))
	sum.BonferroniStatistic = jsonFloat(bonferroniStatistic(r.Alpha, len(res.T0), samples, r.Tail))
	for _, pct := range []float64{50, 95, 99} {
		v, err := mstats.Percentile(mstats.Float64Data(res.H0), pct)
		if err != nil {
			return nil, fmt.Errorf("H0 percentile %v: %w", pct, err)
		}
		sum.H0Percentiles[strconv.FormatFloat(pct, 'f', -1, 64)] = jsonFloat(v)
	}
	return sum, nil
}

// bonferroniStatistic returns the t threshold that a Bonferroni
// correction over nchannels tests would use.
func bonferroniStatistic(alpha float64, nchannels, nsamples int, tail Tail) float64 {
	if nsamples < 2 {
		return math.NaN()
	}
	p := alpha / float64(nchannels)
	if tail == TailBoth {
		p /= 2
	}
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(nsamples - 1)}.Quantile(1 - p)
}

func (r *Report) WriteSummary(w io.Writer) error {
	sum, err := r.summary()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
