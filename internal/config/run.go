package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"oxasl/internal/spec"
)

const SupportedSchema = "v1"

// LoadRunSpec parses a run YAML, validates schema_version, and resolves
// every relative image path against the spec file's directory.
func LoadRunSpec(path string) (spec.File, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("run spec schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}

	base := filepath.Dir(path)
	for _, p := range []*string{
		&cfg.Data.ASL, &cfg.Data.Calib, &cfg.Data.Cref, &cfg.Data.Cblip,
		&cfg.Data.Struc, &cfg.Data.RegFrom,
		&cfg.Distcorr.Fmap, &cfg.Distcorr.FmapMag, &cfg.Distcorr.FmapMagBrain,
		&cfg.Distcorr.GDCWarp, &cfg.Senscorr.Isen,
		&cfg.Reg.FSLAnat, &cfg.Reg.StdBrain, &cfg.Output.Dir,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	if cfg.Data.ASL == "" {
		return cfg, fmt.Errorf("run spec names no ASL data")
	}
	return cfg, nil
}
