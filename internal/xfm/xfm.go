// Package xfm holds the spatial transform primitives: space-tagged affine
// matrices and dense displacement fields, with composition and inversion.
//
// Every transform knows the space it maps from and the space it maps to.
// Composition is space-checked so a transform can never be chained in the
// wrong direction; applying a transform to pixel data is left to the solver
// resampler, which must be handed exactly one matrix+field pair per image.
package xfm

import (
	"errors"
	"fmt"
)

// Space is a symbolic coordinate frame.
type Space string

const (
	Native Space = "native" // ASL acquisition space
	Calib  Space = "calib"  // calibration image space
	Struc  Space = "struc"  // structural image space
	Std    Space = "std"    // standard template space
)

var ErrSpaceMismatch = errors.New("xfm: space mismatch")

// Transform is either an *Affine or a *Field.
type Transform interface {
	From() Space
	To() Space
}

// Concat returns the transform equivalent to applying a, then b.
// Affine pairs compose in closed form; any pair involving a field must be
// combined by the solver's warp combiner, which owns the target grid.
func Concat(a, b Transform) (*Affine, error) {
	if a.To() != b.From() {
		return nil, fmt.Errorf("%w: cannot apply %s->%s after %s->%s", ErrSpaceMismatch, b.From(), b.To(), a.From(), a.To())
	}
	am, aok := a.(*Affine)
	bm, bok := b.(*Affine)
	if !aok || !bok {
		return nil, fmt.Errorf("xfm: concat of %s->%s involves a displacement field, use the solver warp combiner", a.From(), b.To())
	}
	return am.Then(bm)
}
