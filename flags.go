// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
)

// testFlags are the permutation test options shared by the ttest and
// sensor-ttest commands.
type testFlags struct {
	Permutations int
	Jobs         int
	Seed         uint64
	Tail         int
	Alpha        float64
}

func (f *testFlags) Flags(flags *flag.FlagSet, defaultPermutations, defaultJobs int) {
	flags.IntVar(&f.Permutations, "n-permutations", defaultPermutations, "number of sign-flip `permutations` (all 2^n-1 are used if this many or more)")
	flags.IntVar(&f.Jobs, "jobs", defaultJobs, "number of concurrent permutation workers (0 = GOMAXPROCS)")
	flags.Uint64Var(&f.Seed, "seed", 0, "random `seed` (same seed gives same result regardless of -jobs)")
	flags.IntVar(&f.Tail, "tail", 0, "alternative hypothesis: 0 two-sided, 1 mean > 0, -1 mean < 0")
	flags.Float64Var(&f.Alpha, "alpha", DefaultAlpha, "significance `threshold` for corrected p-values")
}

func (f *testFlags) Check() error {
	if f.Permutations < 1 {
		return fmt.Errorf("invalid -n-permutations %d", f.Permutations)
	}
	if f.Tail < -1 || f.Tail > 1 {
		return fmt.Errorf("invalid -tail %d (must be -1, 0, or 1)", f.Tail)
	}
	if !(f.Alpha > 0 && f.Alpha <= 1) {
		return fmt.Errorf("invalid -alpha %v (must be in (0,1])", f.Alpha)
	}
	return nil
}

func (f *testFlags) Config() PermutationConfig {
	return PermutationConfig{
		Permutations: f.Permutations,
		Jobs:         f.Jobs,
		Seed:         f.Seed,
		Tail:         Tail(f.Tail),
	}
}

func (f *testFlags) Args() []string {
	return []string{
		fmt.Sprintf("-n-permutations=%d", f.Permutations),
		fmt.Sprintf("-jobs=%d", f.Jobs),
		fmt.Sprintf("-seed=%d", f.Seed),
		fmt.Sprintf("-tail=%d", f.Tail),
		fmt.Sprintf("-alpha=%v", f.Alpha),
	}
}

type runFlags struct {
	Local       bool
	ProjectUUID string
	Priority    int
	RAM         int64
	VCPUs       int
	Preemptible bool
	pprof       string
}

func (f *runFlags) Flags(flags *flag.FlagSet) {
	flags.StringVar(&f.pprof, "pprof", "", "serve Go profile data at http://`[addr]:port`")
	flags.BoolVar(&f.Local, "local", false, "run on local host (default: run in an arvados container)")
	flags.StringVar(&f.ProjectUUID, "project", "", "project `UUID` for output data")
	flags.IntVar(&f.Priority, "priority", 500, "container request priority")
	flags.Int64Var(&f.RAM, "arvados-ram", 8000000000, "amount of memory to request for arvados container (`bytes`)")
	flags.IntVar(&f.VCPUs, "arvados-vcpus", 4, "number of VCPUs to request for arvados container")
	flags.BoolVar(&f.Preemptible, "preemptible", true, "request preemptible instance")
}

func (f *runFlags) startPprof() {
	if f.pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(f.pprof, nil))
		}()
	}
}

func (f *runFlags) Runner(name string) *arvadosContainerRunner {
	return &arvadosContainerRunner{
		Name:        "sensorperm " + name,
		Client:      arvados.NewClientFromEnv(),
		ProjectUUID: f.ProjectUUID,
		RAM:         f.RAM,
		VCPUs:       f.VCPUs,
		Priority:    f.Priority,
		KeepCache:   2,
		Preemptible: f.Preemptible,
	}
}
