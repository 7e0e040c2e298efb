package corrections

import (
	"context"
	"errors"
	"testing"

	"oxasl/internal/imgdata"
	"oxasl/internal/workspace"
)

func newMotionWorkspace(nvols int, withCalib bool) *workspace.Workspace {
	wsp := workspace.New(nil)
	wsp.Set("asldata", imgdata.New("asldata", 2, 2, 2, nvols))
	if withCalib {
		wsp.Set("calib", imgdata.New("calib", 2, 2, 2, 1))
	}
	return wsp
}

func TestGetMotionCorrection_NoCalib(t *testing.T) {
	wsp := newMotionWorkspace(6, false)
	tk := &fakeToolkit{}
	if err := GetMotionCorrection(context.Background(), wsp, tk); err != nil {
		t.Fatalf("GetMotionCorrection: %v", err)
	}
	if tk.motionRef != nil {
		t.Fatal("without a calibration image the estimator must not get a reference")
	}
	set := wsp.Motion("asldata_mc_mats")
	if set == nil {
		t.Fatal("motion matrices not stored")
	}
	if len(set.Mats) != 6 || set.RefVolume != 3 {
		t.Fatalf("got %d mats ref %d, want 6 mats ref 3", len(set.Mats), set.RefVolume)
	}
	if wsp.Sub("reg").Affine("asl2calib") != nil {
		t.Fatal("asl2calib must not appear without a calibration image")
	}
}

func TestGetMotionCorrection_CalibReference(t *testing.T) {
	wsp := newMotionWorkspace(6, true)
	tk := &fakeToolkit{}
	if err := GetMotionCorrection(context.Background(), wsp, tk); err != nil {
		t.Fatalf("GetMotionCorrection: %v", err)
	}
	if tk.motionRef == nil || tk.motionRef.Name != "calib" {
		t.Fatal("calibration image must be the estimation reference")
	}
	set := wsp.Motion("asldata_mc_mats")
	if set == nil {
		t.Fatal("motion matrices not stored")
	}
	// Re-centering makes the middle volume the identity.
	if !set.Mats[set.RefVolume].IsIdentity(1e-12) {
		t.Fatalf("middle matrix not identity: %v", set.Mats[set.RefVolume].Raw())
	}
	r := wsp.Sub("reg")
	asl2calib := r.Affine("asl2calib")
	calib2asl := r.Affine("calib2asl")
	if asl2calib == nil || calib2asl == nil {
		t.Fatal("re-centering must publish the asl<->calib pair")
	}
	id, err := asl2calib.Then(calib2asl)
	if err != nil {
		t.Fatalf("Then: %v", err)
	}
	if !id.IsIdentity(1e-12) {
		t.Fatal("published pair is not an inverse pair")
	}
}

func TestGetMotionCorrection_EstimatorFailureLeavesNoPartialOutput(t *testing.T) {
	wsp := newMotionWorkspace(4, false)
	boom := errors.New("estimator crashed")
	tk := &fakeToolkit{motionErr: boom}
	if err := GetMotionCorrection(context.Background(), wsp, tk); !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped estimator error", err)
	}
	if wsp.Motion("asldata_mc_mats") != nil {
		t.Fatal("a failed estimation must not leave motion matrices behind")
	}
}

func TestGetMotionCorrection_Idempotent(t *testing.T) {
	wsp := newMotionWorkspace(4, false)
	tk := &fakeToolkit{}
	for i := 0; i < 3; i++ {
		if err := GetMotionCorrection(context.Background(), wsp, tk); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if tk.motionCalls != 1 {
		t.Fatalf("estimator ran %d times, want 1", tk.motionCalls)
	}
}
