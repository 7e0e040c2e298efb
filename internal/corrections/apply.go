package corrections

import (
	"context"
	"fmt"

	"oxasl/internal/imgdata"
	"oxasl/internal/solver"
	"oxasl/internal/workspace"
	"oxasl/internal/xfm"
)

// ApplyCorrections folds every active correction into one resampling pass
// per image. Motion matrices are the per-volume linear pre-transform for the
// ASL series; the calibration images share a single calib->asl pre-transform;
// all images share the combined non-linear warp and the mean-ASL reference
// grid, so every corrected image lands in the same frame after exactly one
// interpolation. With no motion matrices and no warp the stage is a no-op:
// no corrected node is produced and the resampler is never invoked.
func ApplyCorrections(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit) error {
	return wsp.RunStage("apply_corrections", func() error {
		log := wsp.Log
		d := wsp.Sub("distcorr")
		mcMats := wsp.Motion("asldata_mc_mats")
		if mcMats != nil {
			log.Info("adding motion correction transforms")
		}

		var warps []*xfm.Field
		if w := d.Field("fmap_warp"); w != nil {
			log.Info("adding fieldmap based warp to correction")
			warps = append(warps, w)
		}
		if w := d.Field("gdc_warp"); w != nil {
			log.Info("adding gradient distortion warp to correction")
			warps = append(warps, w)
		}

		if len(warps) > 0 {
			log.Info("converting warps to a single transform", "count", len(warps))
			warp, jac, err := tk.CombineWarps(ctx, solver.CombineRequest{
				Ref:      wsp.Image("asldata_mean"),
				Warps:    warps,
				Jacobian: true,
			})
			if err != nil {
				return fmt.Errorf("corrections: warp combination: %w", err)
			}
			d.Set("total_warp", xfm.NewField(xfm.Native, xfm.Native, warp))
			if jac != nil {
				d.Set("jacobian", jac)
			}
		}

		if len(warps) == 0 && mcMats == nil {
			log.Info("no corrections to apply")
			return nil
		}

		log.Info("applying corrections to ASL data")
		asl, err := correctImage(ctx, wsp, tk, wsp.Image("asldata_orig"), nil, mcMats)
		if err != nil {
			return err
		}
		wsp.Set("asldata", asl)

		// Calibration images ride the same combined warp and reference grid
		// through their own linear pre-transform.
		calib2asl := wsp.Sub("reg").Affine("calib2asl")
		for _, name := range []string{"calib", "cref", "cblip"} {
			orig := wsp.Image(name + "_orig")
			if orig == nil {
				continue
			}
			log.Info("applying corrections to calibration data", "image", name)
			corrected, err := correctImage(ctx, wsp, tk, orig, calib2asl, nil)
			if err != nil {
				return err
			}
			wsp.Set(name, corrected)
		}
		return nil
	})
}

// correctImage performs the single composed resample for one image and, when
// a Jacobian image exists, restores the quantitative signal magnitude that
// local volume rescaling removed.
func correctImage(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit, img *imgdata.Volume, preMat *xfm.Affine, preMats *xfm.MotionSet) (*imgdata.Volume, error) {
	if img == nil {
		return nil, fmt.Errorf("corrections: no image to correct")
	}
	d := wsp.Sub("distcorr")
	out, err := tk.Resample(ctx, solver.ResampleRequest{
		Image:   img,
		Ref:     wsp.Image("asldata_mean"),
		PreMat:  preMat,
		PreMats: preMats,
		Warp:    d.Field("total_warp"),
		Interp:  solver.InterpSinc,
		Padding: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("corrections: resampling %s: %w", img.Name, err)
	}
	if jac := d.Image("jacobian"); jac != nil {
		wsp.Log.Info("correcting for local volume scaling using Jacobian", "image", img.Name)
		out, err = imgdata.MulBroadcast(out.Name, out, jac)
		if err != nil {
			return nil, fmt.Errorf("corrections: jacobian scaling: %w", err)
		}
	}
	return out, nil
}
