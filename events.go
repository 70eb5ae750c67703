// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type Event struct {
	Sample   int
	Previous int // trigger value before the transition
	Code     int
}

// ReadEvents reads a text event list, one event per line. Accepted
// line formats are "sample code", "sample previous code", and "sample
// time previous code" (the time column is ignored). Blank lines and
// lines starting with '#' are skipped.
func ReadEvents(fnm string) ([]Event, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	events, err := parseEvents(f, fnm)
	if err != nil {
		return nil, err
	}
	return events, f.Close()
}

func parseEvents(r io.Reader, fnm string) ([]Event, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var events []Event
	for lineIdx, line := range bytes.Split(buf, []byte{'\n'}) {
		fields := strings.Fields(string(line))
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		var sample, prev, code string
		switch len(fields) {
		case 2:
			sample, prev, code = fields[0], "0", fields[1]
		case 3:
			sample, prev, code = fields[0], fields[1], fields[2]
		case 4:
			sample, prev, code = fields[0], fields[2], fields[3]
		default:
			return nil, fmt.Errorf("%s line %d: wrong number of fields (%d): %q", fnm, lineIdx+1, len(fields), line)
		}
		var ev Event
		for _, x := range []struct {
			dst *int
			s   string
		}{{&ev.Sample, sample}, {&ev.Previous, prev}, {&ev.Code, code}} {
			*x.dst, err = strconv.Atoi(x.s)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %w", fnm, lineIdx+1, err)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}
