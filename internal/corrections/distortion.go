package corrections

import (
	"context"
	"fmt"

	"oxasl/internal/imgdata"
	"oxasl/internal/reg"
	"oxasl/internal/solver"
	"oxasl/internal/struc"
	"oxasl/internal/workspace"
	"oxasl/internal/xfm"
)

// Options holds the distortion and sensitivity correction inputs that are
// parameters rather than images.
type Options struct {
	PhaseEncodeDir string  // x/y/z with optional - prefix
	EchoSpacing    float64 // effective EPI echo spacing in seconds
	NoFmapReg      bool    // fieldmap already in structural space

	SensCorrAuto bool // derive sensitivity from the segmentation bias field
	SensCorrOff  bool // disable sensitivity correction entirely
}

// TopupTable builds the two-row phase-encoding parameter table for a
// phase-reversed acquisition pair: the acquired direction first, its
// reversal second, each with the echo spacing as the readout column.
func TopupTable(pedir string, echoSpacing float64) ([][4]float64, error) {
	sign := 1.0
	axis := pedir
	if len(pedir) > 1 && pedir[0] == '-' {
		sign = -1
		axis = pedir[1:]
	}
	var base [4]float64
	switch axis {
	case "x":
		base = [4]float64{1, 0, 0, 0}
	case "y":
		base = [4]float64{0, 1, 0, 0}
	case "z":
		base = [4]float64{0, 0, 1, 0}
	default:
		return nil, fmt.Errorf("corrections: phase encode direction %q not one of x/y/z/-x/-y/-z", pedir)
	}
	fwd, rev := base, base
	for i := 0; i < 3; i++ {
		fwd[i] *= sign
		rev[i] *= -sign
	}
	fwd[3], rev[3] = echoSpacing, echoSpacing
	return [][4]float64{fwd, rev}, nil
}

// GetCblipCorrection estimates the distortion field from a phase-reversed
// calibration pair. The resulting field is stored at distcorr.cblip_warp in
// calibration space and is deliberately diagnostic-only: it is never folded
// into the combined correction, because the space it should be applied in
// is not well defined for this acquisition scheme.
func GetCblipCorrection(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit, opts Options) error {
	return wsp.RunStage("cblip_correction", func() error {
		log := wsp.Log
		calib := wsp.Image("calib")
		cblip := wsp.Image("cblip")
		if calib == nil || cblip == nil {
			log.Info("no phase-reversed calibration pair, skipping distortion estimation")
			return nil
		}
		if opts.PhaseEncodeDir == "" || opts.EchoSpacing == 0 {
			log.Warn("phase-reversed calibration supplied but pedir and echospacing are required, skipping")
			return nil
		}
		log.Info("distortion estimation from phase-reversed calibration pair")
		table, err := TopupTable(opts.PhaseEncodeDir, opts.EchoSpacing)
		if err != nil {
			return err
		}
		stacked, err := imgdata.Stack("calib_blipped", calib, cblip)
		if err != nil {
			return fmt.Errorf("corrections: cblip: %w", err)
		}
		warp, err := tk.TopupField(ctx, stacked, table)
		if err != nil {
			return fmt.Errorf("corrections: cblip field estimation: %w", err)
		}
		wsp.Sub("distcorr").Set("cblip_warp", xfm.NewField(xfm.Calib, xfm.Calib, warp))
		return nil
	})
}

// GetFieldmapCorrection derives an ASL-space distortion warp from a measured
// fieldmap. It needs the fieldmap triplet plus phase-encode direction and
// echo spacing; with any of them missing the stage is skipped. The boundary
// -based refiner produces a structural-space warp and a refined epi->struc
// matrix; the warp is then composed with the struc->asl inverse into a
// single ASL-space field, so the data is only ever resampled once.
func GetFieldmapCorrection(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit, opts Options, regOpts reg.Options) error {
	return wsp.RunStage("fieldmap_correction", func() error {
		log := wsp.Log
		fmap := wsp.Image("fmap")
		fmapMag := wsp.Image("fmapmag")
		fmapMagBrain := wsp.Image("fmapmagbrain")
		if fmap == nil || fmapMag == nil || fmapMagBrain == nil {
			log.Info("no fieldmap images for distortion correction")
			return nil
		}
		if opts.PhaseEncodeDir == "" || opts.EchoSpacing == 0 {
			log.Warn("fieldmap images supplied but pedir and echospacing are required for distortion correction")
			return nil
		}

		// The warp is estimated against the structural image, so the
		// registration chain and the tissue segmentation must exist first.
		if err := reg.ASL2Struc(ctx, wsp, tk, regOpts); err != nil {
			return err
		}
		if err := struc.Segment(ctx, wsp, tk); err != nil {
			return err
		}

		log.Info("distortion correction from fieldmap images")
		s := struc.Scope(wsp)
		r := reg.Scope(wsp)
		brain, err := struc.Brain(ctx, wsp, tk)
		if err != nil {
			return err
		}
		epi := wsp.Image("pwi")
		if epi == nil {
			epi = wsp.Image("asldata_mean")
		}
		res, err := tk.RefineBBR(ctx, solver.BBRRequest{
			EPI:            epi,
			T1:             s.Image("struc"),
			T1Brain:        brain,
			WMSeg:          s.Image("wm_seg"),
			Init:           r.Affine("asl2struc"),
			InWeight:       regOpts.InWeight,
			Fmap:           fmap,
			FmapMag:        fmapMag,
			FmapMagBrain:   fmapMagBrain,
			PhaseEncodeDir: opts.PhaseEncodeDir,
			EchoSpacing:    opts.EchoSpacing,
			NoFmapReg:      opts.NoFmapReg,
		})
		if err != nil {
			return fmt.Errorf("corrections: fieldmap refinement: %w", err)
		}
		if res.Warp == nil {
			return fmt.Errorf("corrections: fieldmap refinement returned no warp")
		}

		d := wsp.Sub("distcorr")
		warpStruc := xfm.NewField(xfm.Struc, xfm.Struc, res.Warp)
		d.Set("fmap_warp_struc", warpStruc)
		d.Set("fmap_asl2struc", res.Mat)
		struc2asl, err := res.Mat.Invert()
		if err != nil {
			return fmt.Errorf("corrections: fieldmap: %w", err)
		}
		d.Set("fmap_struc2asl", struc2asl)

		// Fold the structural-space warp through struc->asl into one
		// ASL-space field on the mean-ASL grid.
		aslWarp, _, err := tk.CombineWarps(ctx, solver.CombineRequest{
			Ref:     wsp.Image("asldata_mean"),
			Warps:   []*xfm.Field{warpStruc},
			PostMat: struc2asl,
		})
		if err != nil {
			return fmt.Errorf("corrections: fieldmap warp composition: %w", err)
		}
		d.Set("fmap_warp", xfm.NewField(xfm.Native, xfm.Native, aslWarp))
		return nil
	})
}
