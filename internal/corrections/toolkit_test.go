package corrections

import (
	"context"
	"fmt"

	"oxasl/internal/imgdata"
	"oxasl/internal/solver"
	"oxasl/internal/xfm"
)

// fakeToolkit records every solver call so tests can assert both the
// operand plumbing and the at-most-once execution of each stage.
type fakeToolkit struct {
	solver.Unimplemented

	motionCalls int
	motionErr   error
	motionRef   *imgdata.Volume

	estimateCalls int
	estimateOpts  []solver.EstimateOpts

	bbrCalls int
	bbrReqs  []solver.BBRRequest
	bbrMat   *xfm.Affine
	bbrWarp  *imgdata.Volume

	segmentCalls int
	segBias      *imgdata.Volume
	extractCalls int

	topupCalls int
	topupTable [][4]float64
	topupInput *imgdata.Volume

	combineCalls int
	combineReqs  []solver.CombineRequest
	combineWarp  *imgdata.Volume
	combineJac   *imgdata.Volume

	resampleCalls int
	resampleReqs  []solver.ResampleRequest
	resampleFn    func(req solver.ResampleRequest) *imgdata.Volume
}

func (f *fakeToolkit) MotionEstimate(ctx context.Context, series, ref *imgdata.Volume) ([]*xfm.Affine, error) {
	f.motionCalls++
	f.motionRef = ref
	if f.motionErr != nil {
		return nil, f.motionErr
	}
	to := xfm.Native
	if ref != nil {
		to = xfm.Calib
	}
	mats := make([]*xfm.Affine, series.NVols())
	for i := range mats {
		mats[i] = xfm.Translation(xfm.Native, to, float64(i)+1, 0, 0)
	}
	return mats, nil
}

func (f *fakeToolkit) Estimate(ctx context.Context, moving, fixed *imgdata.Volume, opts solver.EstimateOpts) (solver.Estimate, error) {
	f.estimateCalls++
	f.estimateOpts = append(f.estimateOpts, opts)
	return solver.Estimate{
		Resampled: moving,
		Mat:       xfm.Translation(opts.From, opts.To, float64(f.estimateCalls), 0, 0),
	}, nil
}

func (f *fakeToolkit) RefineBBR(ctx context.Context, req solver.BBRRequest) (solver.BBRResult, error) {
	f.bbrCalls++
	f.bbrReqs = append(f.bbrReqs, req)
	return solver.BBRResult{Resampled: req.EPI, Mat: f.bbrMat, Warp: f.bbrWarp}, nil
}

func (f *fakeToolkit) Segment(ctx context.Context, brain *imgdata.Volume) (solver.SegmentResult, error) {
	f.segmentCalls++
	wm, err := brain.Derived("wm_seg", append([]float64(nil), brain.Data...))
	if err != nil {
		return solver.SegmentResult{}, err
	}
	return solver.SegmentResult{WMSeg: wm, Bias: f.segBias}, nil
}

func (f *fakeToolkit) Extract(ctx context.Context, img *imgdata.Volume, thresh float64) (*imgdata.Volume, error) {
	f.extractCalls++
	return img.Derived(img.Name+"_brain", append([]float64(nil), img.Data...))
}

func (f *fakeToolkit) TopupField(ctx context.Context, stacked *imgdata.Volume, table [][4]float64) (*imgdata.Volume, error) {
	f.topupCalls++
	f.topupTable = table
	f.topupInput = stacked
	warp := imgdata.New("cblip_warp", stacked.NX, stacked.NY, stacked.NZ, 3)
	return warp, nil
}

func (f *fakeToolkit) CombineWarps(ctx context.Context, req solver.CombineRequest) (*imgdata.Volume, *imgdata.Volume, error) {
	f.combineCalls++
	f.combineReqs = append(f.combineReqs, req)
	warp := f.combineWarp
	if warp == nil {
		warp = imgdata.New("total_warp", req.Ref.NX, req.Ref.NY, req.Ref.NZ, 3)
	}
	var jac *imgdata.Volume
	if req.Jacobian {
		jac = f.combineJac
	}
	return warp, jac, nil
}

func (f *fakeToolkit) Resample(ctx context.Context, req solver.ResampleRequest) (*imgdata.Volume, error) {
	f.resampleCalls++
	f.resampleReqs = append(f.resampleReqs, req)
	if f.resampleFn != nil {
		return f.resampleFn(req), nil
	}
	out, err := req.Image.Derived(req.Image.Name+"_corr", append([]float64(nil), req.Image.Data...))
	if err != nil {
		return nil, fmt.Errorf("fake resample: %w", err)
	}
	return out, nil
}
