package engine

import (
	"context"
	"fmt"

	"oxasl/internal/config"
	"oxasl/internal/logging"
	"oxasl/internal/solver"
	"oxasl/internal/spec"
	"oxasl/internal/struc"
	"oxasl/internal/telemetry"
	"oxasl/internal/workspace"
	"oxasl/internal/xfm"
)

// Config selects the run spec and, optionally, an engine config file.
type Config struct {
	RunSpec      string
	EngineConfig string // optional
}

// Bootstrap loads configuration, builds the solver toolkit from the
// registry, loads every named input into the workspace, and exposes
// metrics. It performs no correction work itself.
func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	ecfg, err := config.LoadEngineConfig(cfg.EngineConfig)
	if err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if ecfg.Log.Level != "" || ecfg.Log.JSON {
		logging.Configure(logging.Options{Level: ecfg.Log.Level, JSON: ecfg.Log.JSON})
	}

	rs, err := config.LoadRunSpec(cfg.RunSpec)
	if err != nil {
		return nil, fmt.Errorf("run spec: %w", err)
	}

	tk, err := solver.New(ecfg.Solver.Driver)
	if err != nil {
		return nil, err
	}
	tk = solver.WithMetrics(tk)

	wsp := workspace.New(logging.L())
	if err := loadInputs(ctx, wsp, tk, rs); err != nil {
		return nil, err
	}

	telemetry.Expose(ecfg.MetricsPort)

	return &Engine{wsp: wsp, tk: tk, rs: rs}, nil
}

// loadInputs pulls every image named in the run spec through the driver's
// loader into the workspace. Only the ASL data is required.
func loadInputs(ctx context.Context, wsp *workspace.Workspace, tk solver.Toolkit, rs spec.File) error {
	load := func(path, node string, scope *workspace.Workspace) error {
		if path == "" {
			return nil
		}
		img, err := tk.LoadImage(ctx, path)
		if err != nil {
			return fmt.Errorf("loading %s: %w", node, err)
		}
		scope.Set(node, img)
		return nil
	}

	if err := load(rs.Data.ASL, "asldata", wsp); err != nil {
		return err
	}
	for _, in := range []struct{ path, node string }{
		{rs.Data.Calib, "calib"},
		{rs.Data.Cref, "cref"},
		{rs.Data.Cblip, "cblip"},
		{rs.Data.RegFrom, "regfrom"},
		{rs.Distcorr.Fmap, "fmap"},
		{rs.Distcorr.FmapMag, "fmapmag"},
		{rs.Distcorr.FmapMagBrain, "fmapmagbrain"},
		{rs.Senscorr.Isen, "isen"},
		{rs.Reg.StdBrain, "std_brain"},
	} {
		if err := load(in.path, in.node, wsp); err != nil {
			return err
		}
	}
	if err := load(rs.Data.Struc, "struc", struc.Scope(wsp)); err != nil {
		return err
	}
	if rs.Distcorr.GDCWarp != "" {
		// User-supplied gradient distortion warp, passed through unchanged.
		f, err := tk.LoadField(ctx, rs.Distcorr.GDCWarp, xfm.Native, xfm.Native)
		if err != nil {
			return fmt.Errorf("loading gdc warp: %w", err)
		}
		wsp.Sub("distcorr").Set("gdc_warp", f)
	}
	return nil
}
