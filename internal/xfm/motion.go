package xfm

import (
	"fmt"
)

// MotionSet is one rigid transform per ASL volume, all sharing a single
// target space after re-centering. RefVolume is the index whose matrix is
// the identity once the set has been re-centered.
type MotionSet struct {
	Mats      []*Affine
	RefVolume int
}

// MiddleVolume is the reference tie-break: floor of half the volume count.
func MiddleVolume(nvols int) int { return nvols / 2 }

// NewMotionSet validates that mats has exactly one matrix per volume.
func NewMotionSet(mats []*Affine, nvols int) (*MotionSet, error) {
	if len(mats) != nvols {
		return nil, fmt.Errorf("xfm: motion set has %d matrices for %d volumes", len(mats), nvols)
	}
	return &MotionSet{Mats: mats, RefVolume: MiddleVolume(nvols)}, nil
}

// Recenter re-bases a motion set estimated against an external reference
// (the calibration image) onto the middle ASL volume: every matrix is
// right-multiplied by the inverse of the middle volume's matrix. The middle
// volume therefore maps by the identity and net interpolation across the
// series is minimal. Returns the middle-volume->reference matrix and its
// inverse, re-tagged with the given space pair.
func (s *MotionSet) Recenter(refSpace Space) (asl2ref, ref2asl *Affine, err error) {
	mid := s.Mats[s.RefVolume]
	inv, err := mid.Invert()
	if err != nil {
		return nil, nil, fmt.Errorf("xfm: recenter: %w", err)
	}
	for i, m := range s.Mats {
		s.Mats[i] = m.MulRight(inv)
	}
	asl2ref = &Affine{from: Native, to: refSpace, m: mid.m}
	ref2asl = &Affine{from: refSpace, to: Native, m: inv.m}
	return asl2ref, ref2asl, nil
}

// Concatenated flattens the set into 4n rows of 4 values, the layout used
// when persisting the whole set as one text matrix.
func (s *MotionSet) Concatenated() [][]float64 {
	rows := make([][]float64, 0, 4*len(s.Mats))
	for _, m := range s.Mats {
		raw := m.Raw()
		for r := 0; r < 4; r++ {
			rows = append(rows, raw[r*4:(r+1)*4])
		}
	}
	return rows
}
