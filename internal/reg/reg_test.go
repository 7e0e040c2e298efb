package reg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"oxasl/internal/imgdata"
	"oxasl/internal/solver"
	"oxasl/internal/workspace"
	"oxasl/internal/xfm"
)

type fakeToolkit struct {
	solver.Unimplemented

	estimateCalls int
	estimateOpts  []solver.EstimateOpts

	bbrCalls int
	bbrMat   *xfm.Affine

	extractCalls   int
	extractSources []string
	segmentCalls   int

	loadFieldCalls int
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
	return solver.BBRResult{Resampled: req.EPI, Mat: f.bbrMat}, nil
}

func (f *fakeToolkit) Extract(ctx context.Context, img *imgdata.Volume, thresh float64) (*imgdata.Volume, error) {
	f.extractCalls++
	f.extractSources = append(f.extractSources, img.Name)
	return img.Derived(img.Name+"_brain", append([]float64(nil), img.Data...))
}

func (f *fakeToolkit) Segment(ctx context.Context, brain *imgdata.Volume) (solver.SegmentResult, error) {
	f.segmentCalls++
	wm, err := brain.Derived("wm_seg", append([]float64(nil), brain.Data...))
	if err != nil {
		return solver.SegmentResult{}, err
	}
	return solver.SegmentResult{WMSeg: wm}, nil
}

func (f *fakeToolkit) LoadField(ctx context.Context, path string, from, to xfm.Space) (*xfm.Field, error) {
	f.loadFieldCalls++
	return xfm.NewField(from, to, imgdata.New("warp", 2, 2, 2, 3)), nil
}

func (f *fakeToolkit) InvertField(ctx context.Context, field *xfm.Field, ref *imgdata.Volume) (*imgdata.Volume, error) {
	return imgdata.New("inv_warp", 2, 2, 2, 3), nil
}

func (f *fakeToolkit) Resample(ctx context.Context, req solver.ResampleRequest) (*imgdata.Volume, error) {
	return req.Image.Derived(req.Image.Name+"_res", append([]float64(nil), req.Image.Data...))
}

func newRegWorkspace() *workspace.Workspace {
	wsp := workspace.New(nil)
	wsp.Set("asldata", imgdata.New("asldata", 4, 4, 4, 4))
	return wsp
}

func TestRegFrom_Precedence(t *testing.T) {
	// User-supplied reference wins outright, no extraction.
	wsp := newRegWorkspace()
	user := imgdata.New("myref", 4, 4, 4, 1)
	wsp.Set("regfrom", user)
	tk := &fakeToolkit{}
	if err := RegFrom(context.Background(), wsp, tk, Options{}); err != nil {
		t.Fatalf("RegFrom: %v", err)
	}
	if Scope(wsp).Image("regfrom") != user {
		t.Fatal("user reference must be used verbatim")
	}
	if tk.extractCalls != 0 {
		t.Fatal("user reference must not be brain extracted")
	}

	// Interleaved tag/control data: mean ASL wins over the calibration image.
	wsp = newRegWorkspace()
	wsp.Set("calib", imgdata.New("calib", 4, 4, 4, 1))
	tk = &fakeToolkit{}
	if err := RegFrom(context.Background(), wsp, tk, Options{IAF: "tc"}); err != nil {
		t.Fatalf("RegFrom: %v", err)
	}
	if tk.extractSources[0] != "asldata_mean_reg" {
		t.Fatalf("extracted %q, want the mean ASL image", tk.extractSources[0])
	}

	// Differenced data falls back to the calibration image.
	wsp = newRegWorkspace()
	wsp.Set("calib", imgdata.New("calib", 4, 4, 4, 1))
	tk = &fakeToolkit{}
	if err := RegFrom(context.Background(), wsp, tk, Options{}); err != nil {
		t.Fatalf("RegFrom: %v", err)
	}
	if tk.extractSources[0] != "calib" {
		t.Fatalf("extracted %q, want the calibration image", tk.extractSources[0])
	}

	// Nothing else available: mean ASL.
	wsp = newRegWorkspace()
	tk = &fakeToolkit{}
	if err := RegFrom(context.Background(), wsp, tk, Options{}); err != nil {
		t.Fatalf("RegFrom: %v", err)
	}
	if tk.extractSources[0] != "asldata_mean_reg" {
		t.Fatalf("extracted %q, want the mean ASL image", tk.extractSources[0])
	}
}

func TestBootstrap_TwoStepSchedule(t *testing.T) {
	wsp := newRegWorkspace()
	wsp.Set("calib", imgdata.New("calib", 4, 4, 4, 1))
	tk := &fakeToolkit{}
	if err := ASL2Calib(context.Background(), wsp, tk, Options{}); err != nil {
		t.Fatalf("ASL2Calib: %v", err)
	}
	// RegFrom falls back to the calibration image so no extra estimation runs.
	if tk.estimateCalls != 2 {
		t.Fatalf("estimator ran %d times, want 2", tk.estimateCalls)
	}
	step1, step2 := tk.estimateOpts[0], tk.estimateOpts[1]
	if step1.Schedule != solver.ScheduleTranslate {
		t.Fatalf("step 1 schedule = %q, want translation-only", step1.Schedule)
	}
	if step2.Schedule != solver.ScheduleLocal {
		t.Fatalf("step 2 schedule = %q, want the small-perturbation default", step2.Schedule)
	}
	if step2.DOF != 6 {
		t.Fatalf("step 2 DOF = %d, want the rigid default", step2.DOF)
	}
	if step2.Init == nil || step2.Init.At(0, 3) != 1 {
		t.Fatal("step 2 must be seeded by step 1's matrix")
	}

	r := Scope(wsp)
	asl2calib := r.Affine("asl2calib")
	calib2asl := r.Affine("calib2asl")
	if asl2calib == nil || calib2asl == nil {
		t.Fatal("both transform directions must be stored")
	}
	id, err := asl2calib.Then(calib2asl)
	if err != nil {
		t.Fatalf("Then: %v", err)
	}
	if !id.IsIdentity(1e-12) {
		t.Fatal("stored directions are not inverses")
	}
}

func TestASL2Calib_RespectsExistingPair(t *testing.T) {
	wsp := newRegWorkspace()
	wsp.Set("calib", imgdata.New("calib", 4, 4, 4, 1))
	existing := xfm.Translation(xfm.Native, xfm.Calib, 7, 0, 0)
	Scope(wsp).Set("asl2calib", existing)
	tk := &fakeToolkit{}
	if err := ASL2Calib(context.Background(), wsp, tk, Options{}); err != nil {
		t.Fatalf("ASL2Calib: %v", err)
	}
	if tk.estimateCalls != 0 {
		t.Fatal("motion correction already produced the pair, no estimation needed")
	}
	if Scope(wsp).Affine("asl2calib") != existing {
		t.Fatal("existing transform must be kept")
	}
}

func TestASL2Struc_BBRWinsOverFlirt(t *testing.T) {
	wsp := newRegWorkspace()
	wsp.Sub("structural").Set("struc", imgdata.New("struc", 8, 8, 8, 1))
	bbrMat := xfm.Translation(xfm.Native, xfm.Struc, 42, 0, 0)
	tk := &fakeToolkit{bbrMat: bbrMat}
	if err := ASL2Struc(context.Background(), wsp, tk, Options{Flirt: true, BBR: true}); err != nil {
		t.Fatalf("ASL2Struc: %v", err)
	}
	if tk.estimateCalls != 2 || tk.bbrCalls != 1 {
		t.Fatalf("estimate=%d bbr=%d, want the bootstrap then one refinement", tk.estimateCalls, tk.bbrCalls)
	}
	if tk.segmentCalls != 1 {
		t.Fatal("boundary-based refinement requires the tissue segmentation")
	}
	r := Scope(wsp)
	if got := r.Affine("asl2struc"); got != bbrMat {
		t.Fatalf("asl2struc = %v, refinement result must win", got)
	}
	if r.Affine("struc2asl") == nil {
		t.Fatal("inverse direction not stored")
	}
}

func TestASL2Struc_SkipsWithoutStructural(t *testing.T) {
	wsp := newRegWorkspace()
	tk := &fakeToolkit{}
	if err := ASL2Struc(context.Background(), wsp, tk, Options{Flirt: true}); err != nil {
		t.Fatalf("ASL2Struc: %v", err)
	}
	if tk.estimateCalls != 0 {
		t.Fatal("nothing to register against")
	}
	if !wsp.IsDone("reg_asl2struc") {
		t.Fatal("skipped stage must still be marked done")
	}
}

func TestStrucToASL_NeverTriggersRegistration(t *testing.T) {
	wsp := newRegWorkspace()
	wsp.Sub("structural").Set("struc", imgdata.New("struc", 8, 8, 8, 1))
	tk := &fakeToolkit{}
	img := imgdata.New("bias", 8, 8, 8, 1)
	if _, err := StrucToASL(context.Background(), wsp, tk, img, solver.InterpTrilinear); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("got %v, want ErrNotRegistered", err)
	}
	if tk.estimateCalls != 0 {
		t.Fatal("chain helpers must never trigger registration")
	}

	// After registration the resample goes through.
	if err := ASL2Struc(context.Background(), wsp, tk, Options{Flirt: true}); err != nil {
		t.Fatalf("ASL2Struc: %v", err)
	}
	out, err := StrucToASL(context.Background(), wsp, tk, img, solver.InterpTrilinear)
	if err != nil {
		t.Fatalf("StrucToASL: %v", err)
	}
	if out == nil {
		t.Fatal("no resampled image returned")
	}
}

func TestStruc2Std_PrecomputedLinearMatrix(t *testing.T) {
	dir := t.TempDir()
	m := xfm.Translation(xfm.Struc, xfm.Std, 3, 0, 0)
	if err := xfm.WriteAffineFile(filepath.Join(dir, "T1_to_MNI_lin.mat"), m); err != nil {
		t.Fatalf("WriteAffineFile: %v", err)
	}
	wsp := newRegWorkspace()
	tk := &fakeToolkit{}
	if err := Struc2Std(context.Background(), wsp, tk, Options{FSLAnat: dir}); err != nil {
		t.Fatalf("Struc2Std: %v", err)
	}
	if tk.estimateCalls != 0 {
		t.Fatal("a precomputed transform must win over estimation")
	}
	r := Scope(wsp)
	got := r.Affine("struc2std")
	if got == nil || !got.EqualWithin(m, 1e-6) {
		t.Fatalf("struc2std = %v, want the precomputed matrix", got)
	}
	inv := r.Affine("std2struc")
	if inv == nil {
		t.Fatal("inverse not stored")
	}
	id, err := got.Then(inv)
	if err != nil {
		t.Fatalf("Then: %v", err)
	}
	if !id.IsIdentity(1e-6) {
		t.Fatal("std2struc is not the inverse")
	}
}

func TestStruc2Std_PrecomputedWarpWinsOverMatrix(t *testing.T) {
	dir := t.TempDir()
	if err := xfm.WriteAffineFile(filepath.Join(dir, "T1_to_MNI_lin.mat"), xfm.Translation(xfm.Struc, xfm.Std, 3, 0, 0)); err != nil {
		t.Fatalf("WriteAffineFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "T1_to_MNI_nonlin_coeff.nii.gz"), []byte("warp"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	wsp := newRegWorkspace()
	wsp.Sub("structural").Set("struc", imgdata.New("struc", 8, 8, 8, 1))
	tk := &fakeToolkit{}
	if err := Struc2Std(context.Background(), wsp, tk, Options{FSLAnat: dir}); err != nil {
		t.Fatalf("Struc2Std: %v", err)
	}
	if tk.loadFieldCalls != 1 {
		t.Fatal("the non-linear coefficient field must be loaded")
	}
	f := Scope(wsp).Field("struc2std")
	if f == nil || f.From() != xfm.Struc || f.To() != xfm.Std {
		t.Fatal("struc2std must hold the precomputed field")
	}
	if Scope(wsp).Field("std2struc") == nil {
		t.Fatal("inverse field not stored")
	}
}

func TestStruc2Std_EstimatesAgainstTemplate(t *testing.T) {
	wsp := newRegWorkspace()
	wsp.Sub("structural").Set("struc", imgdata.New("struc", 8, 8, 8, 1))
	tk := &fakeToolkit{}

	// Without a template the stage is a configuration error.
	if err := Struc2Std(context.Background(), wsp, tk, Options{}); err == nil {
		t.Fatal("expected error without a standard brain template")
	}

	wsp = newRegWorkspace()
	wsp.Sub("structural").Set("struc", imgdata.New("struc", 8, 8, 8, 1))
	wsp.Set("std_brain", imgdata.New("std_brain", 8, 8, 8, 1))
	tk = &fakeToolkit{}
	if err := Struc2Std(context.Background(), wsp, tk, Options{}); err != nil {
		t.Fatalf("Struc2Std: %v", err)
	}
	if tk.estimateCalls != 1 {
		t.Fatalf("estimator ran %d times, want 1", tk.estimateCalls)
	}
	if got := tk.estimateOpts[0].DOF; got != 12 {
		t.Fatalf("DOF = %d, want a full affine estimation", got)
	}
	if Scope(wsp).Affine("struc2std") == nil || Scope(wsp).Affine("std2struc") == nil {
		t.Fatal("transform pair not stored")
	}
}
