package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// SideConfig mirrors softprompt.SideConfig with optional fields.
type SideConfig struct {
	NTokens    *int64 `yaml:"n_tokens"`
	HiddenDim  *int64 `yaml:"hidden_dim"`
	PromptPath string `yaml:"prompt_path"`
}

// Config represents the sptune configuration file
// (~/.config/sptune/config.yaml). Pointer fields distinguish "not set" from
// zero values.
type Config struct {
	Backbone string `yaml:"backbone"`
	CacheDir string `yaml:"cache_dir"`
	HFToken  string `yaml:"hf_token"`
	Workers  *int64 `yaml:"workers"`

	Encoder     SideConfig `yaml:"encoder"`
	Decoder     SideConfig `yaml:"decoder"`
	RandomRange *float64   `yaml:"random_range"`
	Seed        *int64     `yaml:"seed"`

	// Generation defaults
	MaxNewTokens *int64   `yaml:"max_new_tokens"`
	Temperature  *float64 `yaml:"temperature"`
	TopK         *int64   `yaml:"top_k"`
	TopP         *float64 `yaml:"top_p"`

	ServerAddress string `yaml:"server_address"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sptune", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing default file yields a zero Config; a missing
// explicit file or malformed YAML is an error.
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
		if !explicit && errors.Is(err, fs.ErrNotExist) {
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

// applyLogConfig fills logging settings the user did not pass as flags.
func applyLogConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig applies config file defaults to backbone and prompt
// flags that were not explicitly set.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.Backbone != "" && !c.IsSet("backbone") {
		backboneSource = cfg.Backbone
	}
	if cfg.HFToken != "" && !c.IsSet("hf-token") {
		hubToken = cfg.HFToken
	}
	if cfg.CacheDir != "" && !c.IsSet("cache-dir") {
		cacheDir = cfg.CacheDir
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
	if cfg.Encoder.PromptPath != "" && !c.IsSet("encoder-prompt") {
		encoderPrompt = cfg.Encoder.PromptPath
	}
	if cfg.Decoder.PromptPath != "" && !c.IsSet("decoder-prompt") {
		decoderPrompt = cfg.Decoder.PromptPath
	}
	if cfg.Encoder.NTokens != nil && !c.IsSet("encoder-tokens") {
		encoderTokens = *cfg.Encoder.NTokens
	}
	if cfg.Decoder.NTokens != nil && !c.IsSet("decoder-tokens") {
		decoderTokens = *cfg.Decoder.NTokens
	}
	if cfg.Encoder.HiddenDim != nil && !c.IsSet("encoder-hidden") {
		encoderHidden = *cfg.Encoder.HiddenDim
	}
	if cfg.Decoder.HiddenDim != nil && !c.IsSet("decoder-hidden") {
		decoderHidden = *cfg.Decoder.HiddenDim
	}
	if cfg.RandomRange != nil && !c.IsSet("random-range") {
		randomRange = *cfg.RandomRange
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
}

// applyGenerationConfig applies config file sampling defaults.
func applyGenerationConfig(c *cli.Command, cfg Config) {
	if cfg.MaxNewTokens != nil && !c.IsSet("max-new-tokens") {
		maxNewTokens = *cfg.MaxNewTokens
	}
	if cfg.Temperature != nil && !c.IsSet("temperature") {
		temperature = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		topP = *cfg.TopP
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
