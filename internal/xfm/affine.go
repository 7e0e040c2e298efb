package xfm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Affine is a 4x4 rigid or affine matrix mapping coordinates in From space
// to coordinates in To space (x' = Mx convention).
type Affine struct {
	from, to Space
	m        *mat.Dense
}

func NewAffine(from, to Space, vals []float64) (*Affine, error) {
	if len(vals) != 16 {
		return nil, fmt.Errorf("xfm: affine needs 16 values, got %d", len(vals))
	}
	d := make([]float64, 16)
	copy(d, vals)
	return &Affine{from: from, to: to, m: mat.NewDense(4, 4, d)}, nil
}

// Identity returns the identity transform between two spaces.
func Identity(from, to Space) *Affine {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	return &Affine{from: from, to: to, m: m}
}

// Translation returns a pure translation transform.
func Translation(from, to Space, dx, dy, dz float64) *Affine {
	a := Identity(from, to)
	a.m.Set(0, 3, dx)
	a.m.Set(1, 3, dy)
	a.m.Set(2, 3, dz)
	return a
}

func (a *Affine) From() Space { return a.from }
func (a *Affine) To() Space   { return a.to }

// At returns matrix element (i, j).
func (a *Affine) At(i, j int) float64 { return a.m.At(i, j) }

// Raw returns the row-major matrix values.
func (a *Affine) Raw() []float64 {
	out := make([]float64, 16)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i*4+j] = a.m.At(i, j)
		}
	}
	return out
}

// Invert returns the closed-form inverse, swapping source and target spaces.
func (a *Affine) Invert() (*Affine, error) {
	var inv mat.Dense
	if err := inv.Inverse(a.m); err != nil {
		return nil, fmt.Errorf("xfm: %s->%s matrix is singular: %w", a.from, a.to, err)
	}
	return &Affine{from: a.to, to: a.from, m: &inv}, nil
}

// Then returns the transform equivalent to applying a, then b (matrix
// product b·a), checking that the spaces chain.
func (a *Affine) Then(b *Affine) (*Affine, error) {
	if a.to != b.from {
		return nil, fmt.Errorf("%w: cannot apply %s->%s after %s->%s", ErrSpaceMismatch, b.from, b.to, a.from, a.to)
	}
	var out mat.Dense
	out.Mul(b.m, a.m)
	return &Affine{from: a.from, to: b.to, m: &out}, nil
}

// MulRight right-multiplies a by b (matrix product a·b) without space
// checking. Motion-set re-centering uses this: per-volume matrices share one
// symbolic space pair, so the chain rule in Then cannot distinguish them.
func (a *Affine) MulRight(b *Affine) *Affine {
	var out mat.Dense
	out.Mul(a.m, b.m)
	return &Affine{from: b.from, to: a.to, m: &out}
}

// Apply maps the point (x, y, z) through the transform.
func (a *Affine) Apply(x, y, z float64) (float64, float64, float64) {
	px := a.m.At(0, 0)*x + a.m.At(0, 1)*y + a.m.At(0, 2)*z + a.m.At(0, 3)
	py := a.m.At(1, 0)*x + a.m.At(1, 1)*y + a.m.At(1, 2)*z + a.m.At(1, 3)
	pz := a.m.At(2, 0)*x + a.m.At(2, 1)*y + a.m.At(2, 2)*z + a.m.At(2, 3)
	return px, py, pz
}

// IsIdentity reports whether a is the identity within tol.
func (a *Affine) IsIdentity(tol float64) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(a.m.At(i, j)-want) > tol {
				return false
			}
		}
	}
	return true
}

// EqualWithin reports whether two matrices agree elementwise within tol.
func (a *Affine) EqualWithin(b *Affine, tol float64) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(a.m.At(i, j)-b.m.At(i, j)) > tol {
				return false
			}
		}
	}
	return true
}

func (a *Affine) String() string {
	return fmt.Sprintf("Affine[%s->%s]", a.from, a.to)
}
