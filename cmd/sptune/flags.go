package main

import "github.com/urfave/cli/v3"

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool

	backboneSource string
	hubToken       string
	cacheDir       string
	workers        int64

	encoderPrompt string
	decoderPrompt string
	encoderTokens int64
	decoderTokens int64
	encoderHidden int64
	decoderHidden int64
	randomRange   float64
	seed          int64

	maxNewTokens int64
	temperature  float64
	topK         int64
	topP         float64
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default $XDG_CONFIG_HOME/sptune/config.yaml)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func backboneFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backbone",
			Aliases:     []string{"b"},
			Usage:       "T5 checkpoint directory or HuggingFace Hub id",
			Value:       "google-t5/t5-small",
			Destination: &backboneSource,
		},
		&cli.StringFlag{
			Name:        "hf-token",
			Usage:       "HuggingFace Hub token (falls back to $" + envHubToken + ")",
			Destination: &hubToken,
		},
		&cli.StringFlag{
			Name:        "cache-dir",
			Usage:       "Hub download cache (falls back to $" + envCacheDir + ")",
			Destination: &cacheDir,
		},
		&cli.Int64Flag{
			Name:        "workers",
			Usage:       "batch rows processed in parallel (0 = GOMAXPROCS)",
			Destination: &workers,
		},
	}
}

func promptFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "encoder-prompt",
			Usage:       "saved encoder prompt checkpoint",
			Destination: &encoderPrompt,
		},
		&cli.StringFlag{
			Name:        "decoder-prompt",
			Usage:       "saved decoder prompt checkpoint",
			Destination: &decoderPrompt,
		},
		&cli.Int64Flag{
			Name:        "encoder-tokens",
			Usage:       "encoder prompt length",
			Value:       20,
			Destination: &encoderTokens,
		},
		&cli.Int64Flag{
			Name:        "decoder-tokens",
			Usage:       "decoder prompt length",
			Value:       20,
			Destination: &decoderTokens,
		},
		&cli.Int64Flag{
			Name:        "encoder-hidden",
			Usage:       "encoder prompt table width",
			Value:       512,
			Destination: &encoderHidden,
		},
		&cli.Int64Flag{
			Name:        "decoder-hidden",
			Usage:       "decoder prompt table width",
			Value:       512,
			Destination: &decoderHidden,
		},
		&cli.Float64Flag{
			Name:        "random-range",
			Usage:       "uniform init bound for new tables (<= 0 selects a standard normal)",
			Value:       0.5,
			Destination: &randomRange,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "seed for prompt initialization and sampling",
			Value:       42,
			Destination: &seed,
		},
	}
}

func generationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "max-new-tokens",
			Aliases:     []string{"n"},
			Usage:       "maximum generated tokens per row",
			Value:       64,
			Destination: &maxNewTokens,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Destination: &temperature,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Usage:       "top-k sampling (0 = disabled)",
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "top-p sampling (1 = disabled)",
			Value:       1,
			Destination: &topP,
		},
	}
}
