// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// sensorTTest loads a recording and its events, extracts epochs
// around one event type, averages a time window, and tests each
// sensor for a nonzero mean.
type sensorTTest struct {
	test testFlags
	run  runFlags
}

func (cmd *sensorTTest) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	rawFilename := flags.String("raw", "", "recording `file` (channels x samples .npy)")
	channelsFilename := flags.String("channels", "", "channel list `file` (tsv: name, type, status)")
	sfreq := flags.Float64("sfreq", 0, "sampling frequency of the recording (`Hz`)")
	firstSample := flags.Int("first-sample", 0, "absolute sample `index` of the first column in -raw")
	eventsFilename := flags.String("events", "", "events `file` (sample [previous] code per line)")
	eventID := flags.Int("event-id", 1, "event `code` to epoch around")
	tmin := flags.Float64("tmin", -0.2, "epoch start relative to event (seconds)")
	tmax := flags.Float64("tmax", 0.5, "epoch end relative to event (seconds)")
	pick := flags.String("pick", "grad,eog", "comma-separated channel `types` to include")
	include := flags.String("include", "", "comma-separated channel `names` to include regardless of type")
	bads := flags.String("bads", "", "comma-separated channel `names` to mark bad, in addition to the channel list")
	baseline := flags.String("baseline", "None,0", "baseline interval `start,end` in seconds (None for epoch start/end, empty for no baseline correction)")
	reject := flags.String("reject", "grad=4000e-13,eog=150e-6", "peak-to-peak rejection `thresholds` per channel type")
	windowMin := flags.Float64("window-min", 0.04, "start of averaging window (seconds, inclusive)")
	windowMax := flags.Float64("window-max", 0.06, "end of averaging window (seconds, inclusive)")
	outputDir := flags.String("o", "./out", "output `directory`")
	cmd.test.Flags(flags, 50000, 2)
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
	} else if *rawFilename == "" || *channelsFilename == "" || *eventsFilename == "" {
		err = errors.New("missing -raw, -channels, or -events input file")
		return 2
	} else if *sfreq <= 0 {
		err = errors.New("missing or invalid -sfreq")
		return 2
	}
	if err = cmd.test.Check(); err != nil {
		return 2
	}
	kinds, err := ParseChannelKinds(*pick)
	if err != nil {
		return 2
	}
	bl, err := ParseBaseline(*baseline)
	if err != nil {
		return 2
	}
	rejectThresholds, err := ParseReject(*reject)
	if err != nil {
		return 2
	}
	cmd.run.startPprof()

	if !cmd.run.Local {
		runner := cmd.run.Runner("sensor-ttest")
		err = runner.TranslatePaths(rawFilename, channelsFilename, eventsFilename)
		if err != nil {
			return 1
		}
		runner.Args = append([]string{"sensor-ttest", "-local=true",
			"-raw=" + *rawFilename,
			"-channels=" + *channelsFilename,
			"-events=" + *eventsFilename,
			fmt.Sprintf("-sfreq=%v", *sfreq),
			fmt.Sprintf("-first-sample=%d", *firstSample),
			fmt.Sprintf("-event-id=%d", *eventID),
			fmt.Sprintf("-tmin=%v", *tmin),
			fmt.Sprintf("-tmax=%v", *tmax),
			"-pick=" + *pick,
			"-include=" + *include,
			"-bads=" + *bads,
			"-baseline=" + *baseline,
			"-reject=" + *reject,
			fmt.Sprintf("-window-min=%v", *windowMin),
			fmt.Sprintf("-window-max=%v", *windowMax),
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

	raw, err := ReadRaw(*rawFilename, *channelsFilename, *sfreq, *firstSample)
	if err != nil {
		return 1
	}
	raw.Info.AddBads(splitList(*bads)...)
	events, err := ReadEvents(*eventsFilename)
	if err != nil {
		return 1
	}
	picks := PickTypes(&raw.Info, kinds, splitList(*include), true)
	log.Infof("picked %d of %d channels (types %s, %d bad)", len(picks), len(raw.Info.Channels), *pick, len(raw.Info.Bads))

	ep, err := ExtractEpochs(raw, events, EpochParams{
		EventID:  *eventID,
		TMin:     *tmin,
		TMax:     *tmax,
		Picks:    picks,
		Baseline: bl,
		Reject:   rejectThresholds,
	})
	if err != nil {
		return 1
	}
	for _, drop := range ep.DropLog {
		log.Debugf("dropped epoch at sample %d: %s", drop.Event.Sample, strings.Join(drop.Reasons, ","))
	}
	obs, err := WindowMean(ep, TimeMask(ep.Times, *windowMin, *windowMax))
	if err != nil {
		return 1
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
		ChannelNames: ep.ChannelNames,
	}
	for _, p := range ep.Picks {
		report.ChannelKinds = append(report.ChannelKinds, raw.Info.Channels[p].Kind)
	}
	err = report.WriteDir(*outputDir)
	if err != nil {
		return 1
	}
	err = writeNumpyMatrix(filepath.Join(*outputDir, "observations.npy"), obs)
	if err != nil {
		return 1
	}

	// Significant epoch channels map back to recording channels
	// through the pick list.
	sig := report.Significant()
	rawIdx := make([]int, len(sig))
	for i, k := range sig {
		rawIdx[i] = ep.Picks[k]
	}
	names := ChannelNames(rawIdx, raw.Info.ChannelName)
	log.Infof("number of significant sensors: %d", len(names))
	log.Infof("sensor names: %v", names)
	for _, name := range names {
		fmt.Fprintln(stdout, name)
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
