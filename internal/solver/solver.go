// Package solver defines the contracts of the external numerical
// collaborators the pipeline orchestrates: registration estimators, field
// estimators, the resampler, segmentation and brain extraction. Drivers are
// registered by name and selected from engine config; the orchestration core
// never depends on a concrete implementation.
package solver

import (
	"context"
	"errors"
	"fmt"

	"oxasl/internal/imgdata"
	"oxasl/internal/xfm"
)

var ErrUnsupported = errors.New("solver: operation not supported by driver")

// Interp selects the interpolation kernel for resampling.
type Interp string

const (
	InterpTrilinear Interp = "trilinear"
	InterpSinc      Interp = "sinc"
	InterpSpline    Interp = "spline"
)

// Search schedules for rigid/affine estimation. ScheduleTranslate restricts
// the search to 3-D translation; ScheduleLocal is a small-perturbation
// search seeded by an initial transform.
const (
	ScheduleTranslate = "xyztrans"
	ScheduleLocal     = "simple3D"
)

// EstimateOpts parameterizes a rigid/affine estimation.
type EstimateOpts struct {
	Schedule string
	DOF      int
	Init     *xfm.Affine
	InWeight *imgdata.Volume
	From, To xfm.Space // space pair the resulting matrix must connect
}

// Estimate is the result of a rigid/affine estimation.
type Estimate struct {
	Resampled *imgdata.Volume
	Mat       *xfm.Affine
}

// BBRRequest asks for a boundary-based refinement of an EPI->structural
// transform. The fieldmap block is optional; when present the refiner also
// returns a structural-space distortion warp.
type BBRRequest struct {
	EPI, T1, T1Brain, WMSeg *imgdata.Volume
	Init                    *xfm.Affine
	InWeight                *imgdata.Volume

	Fmap, FmapMag, FmapMagBrain *imgdata.Volume
	PhaseEncodeDir              string
	EchoSpacing                 float64
	NoFmapReg                   bool
}

// BBRResult carries the refined transform and, with fieldmap inputs, the
// distortion warp. The warp is a raw displacement volume: space tagging is
// the orchestration layer's job, since only it knows what the inputs were.
type BBRResult struct {
	Resampled *imgdata.Volume
	Mat       *xfm.Affine
	Warp      *imgdata.Volume
}

// CombineRequest folds warps and an optional trailing matrix into one field
// on the reference grid, optionally with its Jacobian determinant image.
type CombineRequest struct {
	Ref      *imgdata.Volume
	Warps    []*xfm.Field
	PostMat  *xfm.Affine
	Jacobian bool
}

// ResampleRequest is a single resampling pass: at most one linear
// pre-transform (per-volume for 4-D input) plus at most one warp.
type ResampleRequest struct {
	Image   *imgdata.Volume
	Ref     *imgdata.Volume
	PreMat  *xfm.Affine
	PreMats *xfm.MotionSet
	Warp    *xfm.Field
	Interp  Interp
	Padding int
}

// SegmentResult holds the tissue segmentation outputs the pipeline consumes.
type SegmentResult struct {
	WMSeg *imgdata.Volume
	Bias  *imgdata.Volume
}

// Toolkit is the full collaborator surface. Partial drivers embed
// Unimplemented and override what they support.
type Toolkit interface {
	LoadImage(ctx context.Context, path string) (*imgdata.Volume, error)
	LoadField(ctx context.Context, path string, from, to xfm.Space) (*xfm.Field, error)

	Estimate(ctx context.Context, moving, fixed *imgdata.Volume, opts EstimateOpts) (Estimate, error)
	MotionEstimate(ctx context.Context, series, ref *imgdata.Volume) ([]*xfm.Affine, error)
	RefineBBR(ctx context.Context, req BBRRequest) (BBRResult, error)

	TopupField(ctx context.Context, stacked *imgdata.Volume, table [][4]float64) (*imgdata.Volume, error)
	NonlinField(ctx context.Context, moving, fixed *imgdata.Volume, init *xfm.Affine) (*imgdata.Volume, error)
	InvertField(ctx context.Context, f *xfm.Field, ref *imgdata.Volume) (*imgdata.Volume, error)
	CombineWarps(ctx context.Context, req CombineRequest) (*imgdata.Volume, *imgdata.Volume, error)
	Resample(ctx context.Context, req ResampleRequest) (*imgdata.Volume, error)

	Segment(ctx context.Context, brain *imgdata.Volume) (SegmentResult, error)
	Extract(ctx context.Context, img *imgdata.Volume, thresh float64) (*imgdata.Volume, error)
}

// Factory builds a Toolkit.
type Factory func() Toolkit

var registry = map[string]Factory{}

// Register is called from each driver's init() or from main.
func Register(name string, f Factory) {
	registry[name] = f
}

// New returns a driver by name.
func New(name string) (Toolkit, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("solver: unsupported driver %q", name)
}
