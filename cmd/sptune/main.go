package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/sptune/internal/logger"
)

// fileConfig holds the parsed config file for subcommands.
var fileConfig Config

func main() {
	app := &cli.Command{
		Name:  "sptune",
		Usage: "Soft-prompt tuning for T5 translation models",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := LoadConfig(configFile)
			if err != nil {
				return ctx, err
			}
			fileConfig = cfg
			applyLogConfig(cmd, cfg)
			log, err := logger.Setup(os.Stderr, logger.Options{
				Level:  logLevel,
				Format: logFormat,
				Debug:  debug,
			})
			if err != nil {
				return ctx, err
			}
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			initCmd(),
			inspectCmd(),
			translateCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
