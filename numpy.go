// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sensorperm

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// readNumpy reads a float32 or float64 numpy array (possibly gzipped,
// possibly in an arvados collection) and returns its shape and
// row-major data.
func readNumpy(fnm string) ([]int, []float64, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	shape, data, err := decodeNumpy(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", fnm, err)
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"shape":    shape,
	}).Info("read numpy")
	return shape, data, f.Close()
}

func decodeNumpy(r io.Reader) ([]int, []float64, error) {
	npr, err := gonpy.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	var data []float64
	switch npr.Dtype {
	case "f8":
		data, err = npr.GetFloat64()
	case "f4":
		var data32 []float32
		data32, err = npr.GetFloat32()
		data = make([]float64, len(data32))
		for i, v := range data32 {
			data[i] = float64(v)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported numpy dtype %q (want f4 or f8)", npr.Dtype)
	}
	if err != nil {
		return nil, nil, err
	}
	shape := append([]int(nil), npr.Shape...)
	if npr.ColumnMajor {
		data = rowMajor(data, shape)
	}
	return shape, data, nil
}

// rowMajor converts column-major (Fortran order) data to row-major.
func rowMajor(in []float64, shape []int) []float64 {
	out := make([]float64, len(in))
	idx := make([]int, len(shape))
	for i := range out {
		// idx is the multi-index of out[i]
		src, stride := 0, 1
		for d := range shape {
			src += idx[d] * stride
			stride *= shape[d]
		}
		out[i] = in[src]
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

func readNumpyMatrix(fnm string) (*mat.Dense, error) {
	shape, data, err := readNumpy(fnm)
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("%s: expected 2-dimensional array, got shape %v", fnm, shape)
	}
	if shape[0] == 0 || shape[1] == 0 {
		return nil, fmt.Errorf("%s: empty array, shape %v", fnm, shape)
	}
	return mat.NewDense(shape[0], shape[1], data), nil
}

func writeNumpyFloat64(fnm string, out []float64, shape ...int) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriterSize(output, 1<<20)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"shape":    shape,
		"bytes":    len(out) * 8,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = shape
	err = npw.WriteFloat64(out)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

func writeNumpyMatrix(fnm string, m mat.Matrix) error {
	rows, cols := m.Dims()
	return writeNumpyFloat64(fnm, mat.DenseCopyOf(m).RawMatrix().Data, rows, cols)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
