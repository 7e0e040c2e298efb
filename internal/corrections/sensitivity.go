package corrections

import (
	"context"
	"fmt"

	"oxasl/internal/imgdata"
	"oxasl/internal/reg"
	"oxasl/internal/solver"
	"oxasl/internal/struc"
	"oxasl/internal/workspace"
)

// GetSensitivityCorrection resolves the sensitivity field, independent of
// the geometric pipeline. First match wins: correction disabled, a
// user-supplied field, the calibration/calibration-reference ratio, the
// reciprocal of the segmentation bias field brought into ASL space, or
// nothing at all (recorded by leaving the node absent).
func GetSensitivityCorrection(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit, opts Options, regOpts reg.Options) error {
	return wsp.RunStage("sensitivity_correction", func() error {
		log := wsp.Log
		switch {
		case opts.SensCorrOff:
			log.Info("sensitivity correction disabled")

		case wsp.Image("isen") != nil:
			log.Info("sensitivity image supplied by user")
			wsp.Set("sensitivity", wsp.Image("isen"))

		case wsp.Image("calib") != nil && wsp.Image("cref") != nil:
			log.Info("sensitivity image calculated from calibration reference image")
			sens, err := imgdata.Ratio("sensitivity", wsp.Image("calib"), wsp.Image("cref"))
			if err != nil {
				return fmt.Errorf("corrections: sensitivity ratio: %w", err)
			}
			wsp.Set("sensitivity", sens)

		case opts.SensCorrAuto:
			if err := struc.Segment(ctx, wsp, tk); err != nil {
				return err
			}
			bias := struc.Scope(wsp).Image("bias")
			if bias == nil {
				log.Info("no bias field from segmentation, no sensitivity correction")
				return nil
			}
			log.Info("sensitivity image calculated from bias field")
			recip, err := imgdata.Reciprocal("sensitivity_struc", bias)
			if err != nil {
				return fmt.Errorf("corrections: bias reciprocal: %w", err)
			}
			if err := reg.ASL2Struc(ctx, wsp, tk, regOpts); err != nil {
				return err
			}
			sens, err := reg.StrucToASL(ctx, wsp, tk, recip, solver.InterpTrilinear)
			if err != nil {
				return fmt.Errorf("corrections: sensitivity resampling: %w", err)
			}
			wsp.Set("sensitivity", sens)

		default:
			log.Info("no source of sensitivity correction was found")
		}
		return nil
	})
}

// ApplySensitivityCorrection divides each image voxel-wise by the
// sensitivity field. With no active field, or correction disabled, the
// inputs come back unchanged.
func ApplySensitivityCorrection(wsp *workspace.Workspace, opts Options, imgs ...*imgdata.Volume) ([]*imgdata.Volume, error) {
	sens := wsp.Image("sensitivity")
	if sens == nil || opts.SensCorrOff {
		return imgs, nil
	}
	wsp.Log.Info("applying sensitivity correction")
	out := make([]*imgdata.Volume, 0, len(imgs))
	for _, img := range imgs {
		if img == nil {
			out = append(out, nil)
			continue
		}
		corrected, err := imgdata.DivBroadcast(img.Name, img, sens)
		if err != nil {
			return nil, fmt.Errorf("corrections: sensitivity division: %w", err)
		}
		out = append(out, corrected)
	}
	return out, nil
}
