// Package struc manages the structural-image derivatives the rest of the
// pipeline consumes: the brain-extracted structural image and the tissue
// segmentation (white-matter mask plus estimated bias field). Both are
// computed lazily, at most once, into the "structural" workspace scope.
package struc

import (
	"context"
	"fmt"

	"oxasl/internal/imgdata"
	"oxasl/internal/solver"
	"oxasl/internal/workspace"
)

// BrainThresh is the fractional-intensity threshold for structural brain
// extraction.
const BrainThresh = 0.5

// Scope returns the structural sub-workspace.
func Scope(wsp *workspace.Workspace) *workspace.Workspace {
	return wsp.Sub("structural")
}

// Brain returns the brain-extracted structural image, extracting it on
// first use. A missing structural image is a configuration error here:
// callers reach this only when a stage explicitly needs structural data.
func Brain(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit) (*imgdata.Volume, error) {
	s := Scope(wsp)
	if brain := s.Image("brain"); brain != nil {
		return brain, nil
	}
	img := s.Image("struc")
	if img == nil {
		return nil, fmt.Errorf("struc: no structural image supplied")
	}
	brain, err := tk.Extract(ctx, img, BrainThresh)
	if err != nil {
		return nil, fmt.Errorf("struc: brain extraction: %w", err)
	}
	s.Set("brain", brain)
	return brain, nil
}

// Segment runs tissue segmentation once, publishing "wm_seg" and, when the
// segmenter estimates one, "bias" into the structural scope. Triggered from
// boundary-based registration, fieldmap correction and automatic
// sensitivity correction; only the first trigger executes.
func Segment(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit) error {
	return wsp.RunStage("segment", func() error {
		s := Scope(wsp)
		brain, err := Brain(ctx, wsp, tk)
		if err != nil {
			return err
		}
		s.Log.Info("segmenting structural image")
		res, err := tk.Segment(ctx, brain)
		if err != nil {
			return fmt.Errorf("struc: segmentation: %w", err)
		}
		s.Set("wm_seg", res.WMSeg)
		if res.Bias != nil {
			s.Set("bias", res.Bias)
		}
		return nil
	})
}
