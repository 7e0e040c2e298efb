// Package corrections computes the geometric and intensity corrections for
// an ASL acquisition (motion, distortion, sensitivity) and folds them into
// the minimum number of resampling passes. Stages populate the shared
// workspace and are individually idempotent; ApplyCorrections consumes
// whatever the earlier stages produced.
package corrections

import (
	"context"
	"fmt"

	"oxasl/internal/solver"
	"oxasl/internal/workspace"
	"oxasl/internal/xfm"
)

// GetMotionCorrection estimates one rigid transform per ASL volume.
//
// With a calibration image the series is aligned volume-by-volume to the
// calibration image, then every matrix is re-centered onto the middle ASL
// volume so that the net interpolation of the series stays minimal; the
// asl<->calib matrix pair falls out of the re-centering and is published to
// the registration scope. Without a calibration image the middle volume is
// the reference directly.
//
// An estimator failure aborts the stage with no partial output: a partially
// motion-corrected series is worse than none.
func GetMotionCorrection(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit) error {
	return wsp.RunStage("motion_correction", func() error {
		asl := wsp.Image("asldata")
		if asl == nil {
			return fmt.Errorf("corrections: no ASL data for motion correction")
		}
		calib := wsp.Image("calib")
		log := wsp.Log

		var set *xfm.MotionSet
		if calib != nil {
			log.Info("motion correction", "reference", "calibration image")
			mats, err := tk.MotionEstimate(ctx, asl, calib)
			if err != nil {
				return fmt.Errorf("corrections: motion estimation: %w", err)
			}
			set, err = xfm.NewMotionSet(mats, asl.NVols())
			if err != nil {
				return err
			}
			asl2calib, calib2asl, err := set.Recenter(xfm.Calib)
			if err != nil {
				return err
			}
			r := wsp.Sub("reg")
			r.Set("asl2calib", asl2calib)
			r.Set("calib2asl", calib2asl)
			log.Debug("re-centered motion transforms on middle ASL volume", "ref_volume", set.RefVolume)
		} else {
			log.Info("motion correction", "reference", "middle ASL volume", "volume", xfm.MiddleVolume(asl.NVols()))
			mats, err := tk.MotionEstimate(ctx, asl, nil)
			if err != nil {
				return fmt.Errorf("corrections: motion estimation: %w", err)
			}
			set, err = xfm.NewMotionSet(mats, asl.NVols())
			if err != nil {
				return err
			}
		}
		wsp.Set("asldata_mc_mats", set)
		return nil
	})
}
