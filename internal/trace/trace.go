// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package trace reads memory-access traces for replay against a cache
// array under test.
package trace

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/zcache-sim/cachesim/internal/cachearray"
)

// Reader iterates a whitespace-delimited access trace: one request per
// line, as "addr pc srcId op", where op is "R" or "W". Blank lines and
// lines beginning with '#' are skipped.
type Reader struct {
	csv  *csv.Reader
	line int
}

// NewReader wraps r as a trace Reader.
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.Comma = ' '
	cr.Comment = '#'
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true
	return &Reader{csv: cr}
}

// Next returns the next request in the trace, or io.EOF once exhausted.
// It checks ctx between records so a long replay can be cancelled
// without waiting for the whole trace to drain.
func (r *Reader) Next(ctx context.Context) (*cachearray.MemReq, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fields, err := r.csv.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrapf(err, "trace: line %d", r.line+1)
	}
	r.line++

	addr, err := strconv.ParseUint(fields[0], 0, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "trace: line %d: address %q", r.line, fields[0])
	}
	pc, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "trace: line %d: pc %q", r.line, fields[1])
	}
	srcID, err := strconv.ParseUint(fields[2], 0, 32)
	if err != nil {
		return nil, errors.Wrapf(err, "trace: line %d: srcId %q", r.line, fields[2])
	}

	var isWrite bool
	switch fields[3] {
	case "R", "r":
		isWrite = false
	case "W", "w":
		isWrite = true
	default:
		return nil, errors.Errorf("trace: line %d: op %q is not one of R, W", r.line, fields[3])
	}

	return &cachearray.MemReq{
		LineAddr: cachearray.LineAddr(addr),
		PC:       pc,
		SrcID:    uint32(srcID),
		IsWrite:  isWrite,
	}, nil
}
