package config

import (
	"errors"
	"io/fs"
	"strings"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EngineConfig holds deployment knobs, as opposed to the per-run spec.
type EngineConfig struct {
	MetricsPort int `koanf:"metrics_port"`

	Solver struct {
		Driver string `koanf:"driver"`
	} `koanf:"solver"`

	Log struct {
		Level string `koanf:"level"`
		JSON  bool   `koanf:"json"`
	} `koanf:"log"`
}

// LoadEngineConfig merges YAML (if present) with env vars
// (prefix `OXASL__`, delimiter `__`).
func LoadEngineConfig(path string) (EngineConfig, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return EngineConfig{}, err
		}
	}
	_ = k.Load(env.Provider("OXASL__", "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "OXASL__"))
	}), nil)

	var cfg EngineConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	if cfg.Solver.Driver == "" {
		cfg.Solver.Driver = "native"
	}
	return cfg, nil
}
