package solver

import (
	"context"
	"fmt"

	"oxasl/internal/imgdata"
	"oxasl/internal/xfm"
)

// Unimplemented is an embeddable Toolkit base returning ErrUnsupported for
// every operation. Partial drivers and test fakes override what they need.
type Unimplemented struct{}

var _ Toolkit = Unimplemented{}

func (Unimplemented) LoadImage(ctx context.Context, path string) (*imgdata.Volume, error) {
	return nil, fmt.Errorf("%w: LoadImage", ErrUnsupported)
}

func (Unimplemented) LoadField(ctx context.Context, path string, from, to xfm.Space) (*xfm.Field, error) {
	return nil, fmt.Errorf("%w: LoadField", ErrUnsupported)
}

func (Unimplemented) Estimate(ctx context.Context, moving, fixed *imgdata.Volume, opts EstimateOpts) (Estimate, error) {
	return Estimate{}, fmt.Errorf("%w: Estimate", ErrUnsupported)
}

func (Unimplemented) MotionEstimate(ctx context.Context, series, ref *imgdata.Volume) ([]*xfm.Affine, error) {
	return nil, fmt.Errorf("%w: MotionEstimate", ErrUnsupported)
}

func (Unimplemented) RefineBBR(ctx context.Context, req BBRRequest) (BBRResult, error) {
	return BBRResult{}, fmt.Errorf("%w: RefineBBR", ErrUnsupported)
}

func (Unimplemented) TopupField(ctx context.Context, stacked *imgdata.Volume, table [][4]float64) (*imgdata.Volume, error) {
	return nil, fmt.Errorf("%w: TopupField", ErrUnsupported)
}

func (Unimplemented) NonlinField(ctx context.Context, moving, fixed *imgdata.Volume, init *xfm.Affine) (*imgdata.Volume, error) {
	return nil, fmt.Errorf("%w: NonlinField", ErrUnsupported)
}

func (Unimplemented) InvertField(ctx context.Context, f *xfm.Field, ref *imgdata.Volume) (*imgdata.Volume, error) {
	return nil, fmt.Errorf("%w: InvertField", ErrUnsupported)
}

func (Unimplemented) CombineWarps(ctx context.Context, req CombineRequest) (*imgdata.Volume, *imgdata.Volume, error) {
	return nil, nil, fmt.Errorf("%w: CombineWarps", ErrUnsupported)
}

func (Unimplemented) Resample(ctx context.Context, req ResampleRequest) (*imgdata.Volume, error) {
	return nil, fmt.Errorf("%w: Resample", ErrUnsupported)
}

func (Unimplemented) Segment(ctx context.Context, brain *imgdata.Volume) (SegmentResult, error) {
	return SegmentResult{}, fmt.Errorf("%w: Segment", ErrUnsupported)
}

func (Unimplemented) Extract(ctx context.Context, img *imgdata.Volume, thresh float64) (*imgdata.Volume, error) {
	return nil, fmt.Errorf("%w: Extract", ErrUnsupported)
}
