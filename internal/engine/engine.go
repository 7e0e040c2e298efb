// Package engine drives one correction run end to end: preprocessing,
// motion and distortion estimation, the single-pass application of the
// combined corrections, sensitivity correction, and transform output. All
// state flows through the shared workspace; every stage is idempotent, so
// the fixed call order here is a driver, not a dependency graph.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"oxasl/internal/corrections"
	"oxasl/internal/reg"
	"oxasl/internal/solver"
	"oxasl/internal/spec"
	"oxasl/internal/workspace"
	"oxasl/internal/xfm"
)

type Engine struct {
	wsp *workspace.Workspace
	tk  solver.Toolkit
	rs  spec.File
}

// Workspace exposes the run's workspace, mainly for inspection after Run.
func (e *Engine) Workspace() *workspace.Workspace { return e.wsp }

func (e *Engine) regOptions() reg.Options {
	flirt := true
	if e.rs.Reg.Flirt != nil {
		flirt = *e.rs.Reg.Flirt
	}
	return reg.Options{
		Flirt:    flirt,
		BBR:      e.rs.Reg.BBR,
		DOF:      e.rs.Reg.DOF,
		Schedule: e.rs.Reg.Schedule,
		FSLAnat:  e.rs.Reg.FSLAnat,
		Fnirt:    e.rs.Reg.Fnirt,
		IAF:      e.rs.Data.IAF,
	}
}

func (e *Engine) corrOptions() corrections.Options {
	return corrections.Options{
		PhaseEncodeDir: e.rs.Distcorr.PhaseEncDir,
		EchoSpacing:    e.rs.Distcorr.EchoSpacing,
		NoFmapReg:      e.rs.Distcorr.NoFmapReg,
		SensCorrAuto:   e.rs.Senscorr.Auto,
		SensCorrOff:    e.rs.Senscorr.Off,
	}
}

// Run executes the pipeline. The first failing stage aborts the run; no
// partial or degraded result is substituted.
func (e *Engine) Run(ctx context.Context) error {
	wsp, tk := e.wsp, e.tk
	copts := e.corrOptions()
	ropts := e.regOptions()

	if err := e.preprocess(); err != nil {
		return err
	}
	if err := corrections.GetMotionCorrection(ctx, wsp, tk); err != nil {
		return err
	}
	if err := reg.ASL2Calib(ctx, wsp, tk, ropts); err != nil {
		return err
	}
	if err := corrections.GetFieldmapCorrection(ctx, wsp, tk, copts, ropts); err != nil {
		return err
	}
	if err := corrections.GetCblipCorrection(ctx, wsp, tk, copts); err != nil {
		return err
	}
	if err := corrections.ApplyCorrections(ctx, wsp, tk); err != nil {
		return err
	}
	if err := corrections.GetSensitivityCorrection(ctx, wsp, tk, copts, ropts); err != nil {
		return err
	}
	imgs, err := corrections.ApplySensitivityCorrection(wsp, copts, wsp.Image("asldata"), wsp.Image("calib"))
	if err != nil {
		return err
	}
	if imgs[0] != nil {
		wsp.Set("asldata", imgs[0])
	}
	if imgs[1] != nil {
		wsp.Set("calib", imgs[1])
	}
	if e.rs.Reg.Std {
		if err := reg.Struc2Std(ctx, wsp, tk, ropts); err != nil {
			return err
		}
	}
	return e.writeOutputs()
}

// preprocess snapshots the original inputs and derives the shared reference
// images: the mean ASL volume (the common resampling grid) and, for
// interleaved tag/control data, the perfusion-weighted image.
func (e *Engine) preprocess() error {
	wsp := e.wsp
	return wsp.RunStage("preproc", func() error {
		asl := wsp.Image("asldata")
		if asl == nil {
			return fmt.Errorf("engine: no ASL data loaded")
		}
		wsp.Set("asldata_orig", asl)
		wsp.Set("asldata_mean", asl.Mean("asldata_mean"))
		for _, name := range []string{"calib", "cref", "cblip"} {
			if img := wsp.Image(name); img != nil {
				wsp.Set(name+"_orig", img)
			}
		}
		if iaf := e.rs.Data.IAF; iaf == "tc" || iaf == "ct" {
			pwi, err := asl.DiffMean("pwi", iaf)
			if err != nil {
				return fmt.Errorf("engine: perfusion-weighted image: %w", err)
			}
			wsp.Set("pwi", pwi)
		}
		return nil
	})
}

// writeOutputs persists the final transform matrices as whitespace text.
func (e *Engine) writeOutputs() error {
	out := e.rs.Output.Dir
	if out == "" || !e.rs.Output.SaveMats {
		return nil
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("engine: output dir: %w", err)
	}
	r := e.wsp.Sub("reg")
	for name, m := range map[string]*xfm.Affine{
		"asl2struc.mat": r.Affine("asl2struc"),
		"struc2asl.mat": r.Affine("struc2asl"),
		"asl2calib.mat": r.Affine("asl2calib"),
		"calib2asl.mat": r.Affine("calib2asl"),
		"struc2std.mat": r.Affine("struc2std"),
	} {
		if m == nil {
			continue
		}
		if err := xfm.WriteAffineFile(filepath.Join(out, name), m); err != nil {
			return fmt.Errorf("engine: writing %s: %w", name, err)
		}
	}
	if set := e.wsp.Motion("asldata_mc_mats"); set != nil {
		if err := xfm.WriteMotionFile(filepath.Join(out, "asldata_mc.mats"), set); err != nil {
			return fmt.Errorf("engine: writing motion matrices: %w", err)
		}
	}
	return nil
}
