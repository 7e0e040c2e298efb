// Package reg establishes the rigid/affine transform chain between native
// ASL space, calibration space, structural space and standard space.
//
// Transitions are monotonic and idempotent: each top-level stage computes
// its transform pair once and stores both directions in the "reg" workspace
// scope. The chain helpers (StrucToASL, ASLToStruc) never trigger
// computation; asking for a transform that has not been computed is a
// configuration error.
package reg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"oxasl/internal/imgdata"
	"oxasl/internal/solver"
	"oxasl/internal/struc"
	"oxasl/internal/workspace"
	"oxasl/internal/xfm"
)

// ErrNotRegistered is returned when a transform chain is used before the
// registration producing it has run.
var ErrNotRegistered = errors.New("reg: transform not computed")

// RegFromThresh is the brain-extraction threshold for registration targets.
const RegFromThresh = 0.2

// Options controls the registration strategies.
type Options struct {
	Flirt    bool    // two-step translation->full-DOF bootstrap
	BBR      bool    // boundary-based refinement (wins when both run)
	DOF      int     // degrees of freedom for the full estimation, default 6
	Schedule string  // override for the second-step search schedule
	FSLAnat  string  // precomputed structural-analysis directory
	Fnirt    bool    // non-linear refinement of struc->std
	IAF      string  // ASL acquisition format ("tc"/"ct" when interleaved)
	InWeight *imgdata.Volume
}

// Scope returns the registration sub-workspace.
func Scope(wsp *workspace.Workspace) *workspace.Workspace {
	return wsp.Sub("reg")
}

// RegFrom selects the registration-target image defining native space.
// Precedence: user-supplied image, then brain-extracted mean ASL signal for
// interleaved tag/control data, then brain-extracted calibration image, then
// brain-extracted mean ASL.
func RegFrom(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit, opts Options) error {
	r := Scope(wsp)
	if r.Image("regfrom") != nil {
		return nil
	}
	return wsp.RunStage("reg_regfrom", func() error {
		if r.Image("regfrom") != nil {
			return nil
		}
		log := r.Log
		if user := wsp.Image("regfrom"); user != nil {
			log.Info("registration reference supplied by user")
			r.Set("regfrom", user)
			return nil
		}
		asl := wsp.Image("asldata")
		if asl == nil {
			return fmt.Errorf("reg: no ASL data to derive a registration reference from")
		}
		var src *imgdata.Volume
		switch {
		case opts.IAF == "tc" || opts.IAF == "ct":
			log.Info("registration reference is mean ASL signal (brain extracted)")
			src = asl.Mean("asldata_mean_reg")
		case wsp.Image("calib") != nil:
			log.Info("registration reference is calibration image (brain extracted)")
			src = wsp.Image("calib")
		default:
			log.Info("registration reference is mean ASL image (brain extracted)")
			src = asl.Mean("asldata_mean_reg")
		}
		brain, err := tk.Extract(ctx, src, RegFromThresh)
		if err != nil {
			return fmt.Errorf("reg: regfrom extraction: %w", err)
		}
		r.Set("regfrom", brain)
		return nil
	})
}

// ASL2Calib registers the calibration image to ASL space. Motion correction
// may already have produced the pair, in which case this is a no-op.
func ASL2Calib(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit, opts Options) error {
	r := Scope(wsp)
	return wsp.RunStage("reg_asl2calib", func() error {
		calib := wsp.Image("calib")
		if calib == nil || r.Affine("asl2calib") != nil {
			return nil
		}
		if err := RegFrom(ctx, wsp, tk, opts); err != nil {
			return err
		}
		r.Log.Info("registering calibration image to ASL image")
		est, err := bootstrap(ctx, tk, r.Image("regfrom"), calib, opts, nil, xfm.Native, xfm.Calib)
		if err != nil {
			return fmt.Errorf("reg: asl2calib: %w", err)
		}
		inv, err := est.Mat.Invert()
		if err != nil {
			return fmt.Errorf("reg: asl2calib: %w", err)
		}
		r.Set("asl2calib", est.Mat)
		r.Set("calib2asl", inv)
		return nil
	})
}

// ASL2Struc registers ASL data to the structural image. The bootstrap runs
// when opts.Flirt is set, boundary-based refinement when opts.BBR is set;
// BBR's result wins when both run. Both transform directions are stored.
// Without a structural image the stage is skipped.
func ASL2Struc(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit, opts Options) error {
	r := Scope(wsp)
	return wsp.RunStage("reg_asl2struc", func() error {
		s := struc.Scope(wsp)
		t1 := s.Image("struc")
		if t1 == nil {
			r.Log.Info("no structural image, skipping ASL->structural registration")
			return nil
		}
		if err := RegFrom(ctx, wsp, tk, opts); err != nil {
			return err
		}
		regfrom := r.Image("regfrom")
		r.Log.Info("registering ASL data to structural data")

		var asl2struc *xfm.Affine
		var regto *imgdata.Volume
		if opts.Flirt {
			est, err := bootstrap(ctx, tk, regfrom, t1, opts, r.Affine("asl2struc"), xfm.Native, xfm.Struc)
			if err != nil {
				return fmt.Errorf("reg: asl2struc flirt: %w", err)
			}
			asl2struc, regto = est.Mat, est.Resampled
		}
		if opts.BBR {
			if err := struc.Segment(ctx, wsp, tk); err != nil {
				return err
			}
			brain, err := struc.Brain(ctx, wsp, tk)
			if err != nil {
				return err
			}
			r.Log.Info("boundary-based refinement of ASL->structural transform")
			init := asl2struc
			if init == nil {
				init = r.Affine("asl2struc")
			}
			res, err := tk.RefineBBR(ctx, solver.BBRRequest{
				EPI:      regfrom,
				T1:       t1,
				T1Brain:  brain,
				WMSeg:    s.Image("wm_seg"),
				Init:     init,
				InWeight: opts.InWeight,
			})
			if err != nil {
				return fmt.Errorf("reg: asl2struc bbr: %w", err)
			}
			asl2struc, regto = res.Mat, res.Resampled
		}
		if asl2struc == nil {
			return fmt.Errorf("reg: asl2struc requested with no estimation strategy enabled")
		}
		struc2asl, err := asl2struc.Invert()
		if err != nil {
			return fmt.Errorf("reg: asl2struc: %w", err)
		}
		r.Set("asl2struc", asl2struc)
		r.Set("struc2asl", struc2asl)
		if regto != nil {
			r.Set("regto", regto)
		}
		r.Log.Debug("stored ASL<->structural transform pair")
		return nil
	})
}

// Struc2Std determines the structural -> standard transform. A precomputed
// structural-analysis directory wins (non-linear coefficient field first,
// then linear matrix); otherwise a linear estimation against the standard
// brain template runs, optionally refined non-linearly. The inverse is
// always stored: field inversion via the solver, matrix inverse otherwise.
func Struc2Std(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit, opts Options) error {
	r := Scope(wsp)
	return wsp.RunStage("reg_struc2std", func() error {
		if r.Get("std2struc") != nil {
			return nil
		}
		s := struc.Scope(wsp)
		t1 := s.Image("struc")

		if opts.FSLAnat != "" {
			warpPath := filepath.Join(opts.FSLAnat, "T1_to_MNI_nonlin_coeff.nii.gz")
			matPath := filepath.Join(opts.FSLAnat, "T1_to_MNI_lin.mat")
			if _, err := os.Stat(warpPath); err == nil {
				f, err := tk.LoadField(ctx, warpPath, xfm.Struc, xfm.Std)
				if err != nil {
					return fmt.Errorf("reg: struc2std: %w", err)
				}
				r.Set("struc2std", f)
			} else if _, err := os.Stat(matPath); err == nil {
				m, err := xfm.ReadAffineFile(matPath, xfm.Struc, xfm.Std)
				if err != nil {
					return fmt.Errorf("reg: struc2std: %w", err)
				}
				r.Set("struc2std", m)
			}
		}

		if r.Get("struc2std") == nil {
			if t1 == nil {
				return fmt.Errorf("reg: struc2std needs a structural image or a precomputed analysis directory")
			}
			std := wsp.Image("std_brain")
			if std == nil {
				return fmt.Errorf("reg: struc2std needs a standard brain template")
			}
			r.Log.Info("registering structural image to standard space")
			est, err := tk.Estimate(ctx, t1, std, solver.EstimateOpts{DOF: 12, From: xfm.Struc, To: xfm.Std})
			if err != nil {
				return fmt.Errorf("reg: struc2std linear: %w", err)
			}
			if opts.Fnirt {
				r.Log.Info("non-linear refinement of structural->standard registration")
				warp, err := tk.NonlinField(ctx, t1, std, est.Mat)
				if err != nil {
					return fmt.Errorf("reg: struc2std non-linear: %w", err)
				}
				r.Set("struc2std", xfm.NewField(xfm.Struc, xfm.Std, warp))
			} else {
				r.Set("struc2std", est.Mat)
			}
		}

		switch t := r.Get("struc2std").(type) {
		case *xfm.Field:
			inv, err := tk.InvertField(ctx, t, t1)
			if err != nil {
				return fmt.Errorf("reg: std2struc field inversion: %w", err)
			}
			r.Set("std2struc", xfm.NewField(xfm.Std, xfm.Struc, inv))
		case *xfm.Affine:
			inv, err := t.Invert()
			if err != nil {
				return fmt.Errorf("reg: std2struc: %w", err)
			}
			r.Set("std2struc", inv)
		default:
			return fmt.Errorf("reg: struc2std holds neither a matrix nor a field")
		}
		return nil
	})
}

// StrucToASL resamples an image from structural to native ASL space. It
// fails if registration has not produced the transform; it never triggers
// registration itself.
func StrucToASL(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit, img *imgdata.Volume, interp solver.Interp) (*imgdata.Volume, error) {
	r := Scope(wsp)
	m := r.Affine("struc2asl")
	if m == nil {
		return nil, fmt.Errorf("%w: struc2asl (has ASL->structural registration been performed?)", ErrNotRegistered)
	}
	ref := r.Image("regfrom")
	if ref == nil {
		return nil, fmt.Errorf("%w: no registration reference image", ErrNotRegistered)
	}
	return tk.Resample(ctx, solver.ResampleRequest{Image: img, Ref: ref, PreMat: m, Interp: interp, Padding: 1})
}

// ASLToStruc resamples an image from native ASL to structural space under
// the same contract as StrucToASL.
func ASLToStruc(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit, img *imgdata.Volume, interp solver.Interp) (*imgdata.Volume, error) {
	r := Scope(wsp)
	m := r.Affine("asl2struc")
	if m == nil {
		return nil, fmt.Errorf("%w: asl2struc (has ASL->structural registration been performed?)", ErrNotRegistered)
	}
	ref := struc.Scope(wsp).Image("struc")
	if ref == nil {
		return nil, fmt.Errorf("%w: no structural image", ErrNotRegistered)
	}
	return tk.Resample(ctx, solver.ResampleRequest{Image: img, Ref: ref, PreMat: m, Interp: interp, Padding: 1})
}

// bootstrap is the two-step rigid estimation: a translation-only search to
// escape gross misalignment, then the full requested-DOF estimation seeded
// by step one over a small-perturbation schedule.
func bootstrap(ctx context.Context, tk solver.Toolkit, moving, fixed *imgdata.Volume, opts Options, init *xfm.Affine, from, to xfm.Space) (solver.Estimate, error) {
	step1, err := tk.Estimate(ctx, moving, fixed, solver.EstimateOpts{
		Schedule: solver.ScheduleTranslate,
		Init:     init,
		InWeight: opts.InWeight,
		From:     from,
		To:       to,
	})
	if err != nil {
		return solver.Estimate{}, err
	}
	schedule := opts.Schedule
	if schedule == "" {
		schedule = solver.ScheduleLocal
	}
	dof := opts.DOF
	if dof == 0 {
		dof = 6
	}
	return tk.Estimate(ctx, moving, fixed, solver.EstimateOpts{
		Schedule: schedule,
		DOF:      dof,
		Init:     step1.Mat,
		InWeight: opts.InWeight,
		From:     from,
		To:       to,
	})
}
