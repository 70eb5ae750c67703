// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ttestCmd runs the permutation t-test on an observation matrix
// (samples x channels numpy array).
type ttestCmd struct {
	test testFlags
	run  runFlags
}

func (cmd *ttestCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "", "observation matrix `file` (samples x channels .npy)")
	namesFilename := flags.String("channel-names", "", "`file` with one channel name per line (default ch0, ch1, ...)")
	outputDir := flags.String("o", "./out", "output `directory`")
	cmd.test.Flags(flags, 10000, 1)
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
	} else if *inputFilename == "" {
		err = errors.New("missing -i input file")
		return 2
	}
	if err = cmd.test.Check(); err != nil {
		return 2
	}
	cmd.run.startPprof()

	if !cmd.run.Local {
		runner := cmd.run.Runner("ttest")
		err = runner.TranslatePaths(inputFilename, namesFilename)
		if err != nil {
			return 1
		}
		runner.Args = append([]string{"ttest", "-local=true",
			"-i=" + *inputFilename,
			"-channel-names=" + *namesFilename,
			"-o=/mnt/output",
		}, cmd.test.Args()...)
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output)
		return 0
	}

	obs, err := readNumpyMatrix(*inputFilename)
	if err != nil {
		return 1
	}
	_, nchannels := obs.Dims()
	names := make([]string, nchannels)
	for i := range names {
		names[i] = fmt.Sprintf("ch%d", i)
	}
	if *namesFilename != "" {
		names, err = readChannelNames(*namesFilename, nchannels)
		if err != nil {
			return 1
		}
	}

	res, err := PermutationTTest(obs, cmd.test.Config())
	if err != nil {
		return 1
	}
	report := &Report{
		Result:       res,
		Observations: obs,
		Alpha:        cmd.test.Alpha,
		Tail:         Tail(cmd.test.Tail),
		ChannelNames: names,
	}
	err = report.WriteDir(*outputDir)
	if err != nil {
		return 1
	}
	sig := report.SignificantNames()
	log.Infof("number of significant channels: %d", len(sig))
	for _, name := range sig {
		fmt.Fprintln(stdout, name)
	}
	return 0
}

func readChannelNames(fnm string, want int) ([]string, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		if name := strings.TrimSpace(string(line)); name != "" {
			names = append(names, name)
		}
	}
	if len(names) != want {
		return nil, fmt.Errorf("%s: %d channel names, expected %d", fnm, len(names), want)
	}
	return names, nil
}
