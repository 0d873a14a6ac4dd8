package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the optional config file (~/.config/captioneval/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	ModelDir string `yaml:"model_dir"`
	DataDir  string `yaml:"data_dir"`
	OutDir   string `yaml:"out_dir"`
	Vocab    string `yaml:"vocab"`

	// Decoding defaults
	Strategy    string   `yaml:"strategy"`
	BeamWidth   *int     `yaml:"beam_width"`
	MaxLength   *int     `yaml:"max_length"`
	MinLength   *int     `yaml:"min_length"`
	SlotPolicy  string   `yaml:"slot_policy"`
	Temperature *float64 `yaml:"temperature"`
	TopK        *int     `yaml:"top_k"`
	TopP        *float64 `yaml:"top_p"`
	Seed        *int64   `yaml:"seed"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "captioneval", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing file yields a zero Config; a malformed one is an
// error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyLoggingConfig applies config file defaults to the logging flags when
// they were not set on the command line.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig fills unset model, data and decoding flags.
func applyModelConfig(c *cli.Command, cfg Config) {
	setString(c, "model-dir", &modelDir, cfg.ModelDir)
	setString(c, "data-dir", &dataDir, cfg.DataDir)
	setString(c, "vocab", &vocabPath, cfg.Vocab)
	setString(c, "strategy", &strategy, cfg.Strategy)
	setString(c, "slot-policy", &slotPolicy, cfg.SlotPolicy)
	setValue(c, "beam-width", &beamWidth, cfg.BeamWidth)
	setValue(c, "max-length", &maxLength, cfg.MaxLength)
	setValue(c, "min-length", &minLength, cfg.MinLength)
	setValue(c, "temperature", &temperature, cfg.Temperature)
	setValue(c, "top-k", &topK, cfg.TopK)
	setValue(c, "top-p", &topP, cfg.TopP)
	setValue(c, "seed", &seed, cfg.Seed)
}

// applyServeConfig applies the server address default.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	setString(c, "addr", addr, cfg.ServerAddress)
}

func setString(c *cli.Command, flag string, dst *string, v string) {
	if v != "" && !c.IsSet(flag) {
		*dst = v
	}
}

func setValue[T any](c *cli.Command, flag string, dst *T, v *T) {
	if v != nil && !c.IsSet(flag) {
		*dst = *v
	}
}
