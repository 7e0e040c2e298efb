package solver

import (
	"context"

	"oxasl/internal/imgdata"
	"oxasl/internal/telemetry"
	"oxasl/internal/xfm"
)

// WithMetrics wraps a toolkit so every solver invocation is counted.
func WithMetrics(tk Toolkit) Toolkit { return metered{tk} }

type metered struct {
	tk Toolkit
}

func (m metered) LoadImage(ctx context.Context, path string) (*imgdata.Volume, error) {
	telemetry.SolverCall("load_image")
	return m.tk.LoadImage(ctx, path)
}

func (m metered) LoadField(ctx context.Context, path string, from, to xfm.Space) (*xfm.Field, error) {
	telemetry.SolverCall("load_field")
	return m.tk.LoadField(ctx, path, from, to)
}

func (m metered) Estimate(ctx context.Context, moving, fixed *imgdata.Volume, opts EstimateOpts) (Estimate, error) {
	telemetry.SolverCall("estimate")
	return m.tk.Estimate(ctx, moving, fixed, opts)
}

func (m metered) MotionEstimate(ctx context.Context, series, ref *imgdata.Volume) ([]*xfm.Affine, error) {
	telemetry.SolverCall("motion_estimate")
	return m.tk.MotionEstimate(ctx, series, ref)
}

func (m metered) RefineBBR(ctx context.Context, req BBRRequest) (BBRResult, error) {
	telemetry.SolverCall("refine_bbr")
	return m.tk.RefineBBR(ctx, req)
}

func (m metered) TopupField(ctx context.Context, stacked *imgdata.Volume, table [][4]float64) (*imgdata.Volume, error) {
	telemetry.SolverCall("topup_field")
	return m.tk.TopupField(ctx, stacked, table)
}

func (m metered) NonlinField(ctx context.Context, moving, fixed *imgdata.Volume, init *xfm.Affine) (*imgdata.Volume, error) {
	telemetry.SolverCall("nonlin_field")
	return m.tk.NonlinField(ctx, moving, fixed, init)
}

func (m metered) InvertField(ctx context.Context, f *xfm.Field, ref *imgdata.Volume) (*imgdata.Volume, error) {
	telemetry.SolverCall("invert_field")
	return m.tk.InvertField(ctx, f, ref)
}

func (m metered) CombineWarps(ctx context.Context, req CombineRequest) (*imgdata.Volume, *imgdata.Volume, error) {
	telemetry.SolverCall("combine_warps")
	return m.tk.CombineWarps(ctx, req)
}

func (m metered) Resample(ctx context.Context, req ResampleRequest) (*imgdata.Volume, error) {
	telemetry.SolverCall("resample")
	return m.tk.Resample(ctx, req)
}

func (m metered) Segment(ctx context.Context, brain *imgdata.Volume) (SegmentResult, error) {
	telemetry.SolverCall("segment")
	return m.tk.Segment(ctx, brain)
}

func (m metered) Extract(ctx context.Context, img *imgdata.Volume, thresh float64) (*imgdata.Volume, error) {
	telemetry.SolverCall("extract")
	return m.tk.Extract(ctx, img, thresh)
}
