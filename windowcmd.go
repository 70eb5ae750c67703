// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"errors"
	"flag"
	"fmt"
	"io"
)

// windowCmd reduces an epochs x channels x times array to an epochs x
// channels observation matrix by averaging over a time window.
type windowCmd struct {
	run runFlags
}

func (cmd *windowCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "", "epochs `file` (epochs x channels x times .npy)")
	timesFilename := flags.String("times", "", "time axis `file` (1-dimensional .npy, seconds)")
	outputFilename := flags.String("o", "", "output `file` (epochs x channels .npy)")
	tmin := flags.Float64("tmin", 0.04, "start of averaging window (seconds, inclusive)")
	tmax := flags.Float64("tmax", 0.06, "end of averaging window (seconds, inclusive)")
	cmd.run.Flags(flags)
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	} else if *inputFilename == "" || *timesFilename == "" {
		err = errors.New("missing -i or -times input file")
		return 2
	}
	cmd.run.startPprof()

	if !cmd.run.Local {
		if *outputFilename != "" {
			err = errors.New("cannot specify output file in container mode: not implemented")
			return 1
		}
		runner := cmd.run.Runner("window")
		err = runner.TranslatePaths(inputFilename, timesFilename)
		if err != nil {
			return 1
		}
		runner.Args = []string{"window", "-local=true",
			"-i=" + *inputFilename,
			"-times=" + *timesFilename,
			fmt.Sprintf("-tmin=%v", *tmin),
			fmt.Sprintf("-tmax=%v", *tmax),
			"-o=/mnt/output/observations.npy",
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/observations.npy")
		return 0
	}
	if *outputFilename == "" {
		err = errors.New("missing -o output file")
		return 2
	}

	shape, data, err := readNumpy(*inputFilename)
	if err != nil {
		return 1
	}
	_, times, err := readNumpy(*timesFilename)
	if err != nil {
		return 1
	}
	ep, err := NewEpochs(data, shape, times)
	if err != nil {
		return 1
	}
	obs, err := WindowMean(ep, TimeMask(ep.Times, *tmin, *tmax))
	if err != nil {
		return 1
	}
	err = writeNumpyMatrix(*outputFilename, obs)
	if err != nil {
		return 1
	}
	return 0
}
