package xfm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// WriteText writes rows of whitespace-separated values, one matrix row per
// line. This is the interchange format for persisted transform matrices.
func WriteText(w io.Writer, rows [][]float64) error {
	bw := bufio.NewWriter(w)
	for _, row := range rows {
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = strconv.FormatFloat(v, 'f', 6, 64)
		}
		if _, err := fmt.Fprintln(bw, strings.Join(parts, " ")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteAffineFile persists a single 4x4 matrix as text.
func WriteAffineFile(path string, a *Affine) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	raw := a.Raw()
	rows := make([][]float64, 4)
	for r := 0; r < 4; r++ {
		rows[r] = raw[r*4 : (r+1)*4]
	}
	return WriteText(f, rows)
}

// WriteMotionFile persists a motion set as a stacked 4n x 4 text matrix.
func WriteMotionFile(path string, s *MotionSet) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteText(f, s.Concatenated())
}

// ReadAffineFile loads a 4x4 matrix written as whitespace rows, tagging it
// with the given space pair.
func ReadAffineFile(path string, from, to Space) (*Affine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vals := make([]float64, 0, 16)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		for _, fs := range fields {
			v, err := strconv.ParseFloat(fs, 64)
			if err != nil {
				return nil, fmt.Errorf("xfm: %s: %w", path, err)
			}
			vals = append(vals, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(vals) != 16 {
		return nil, fmt.Errorf("xfm: %s holds %d values, want 16", path, len(vals))
	}
	return NewAffine(from, to, vals)
}
