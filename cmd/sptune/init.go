package main

import (
	"context"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/sptune/internal/logger"
	"github.com/samcharles93/sptune/internal/softprompt"
)

func initCmd() *cli.Command {
	var (
		outDir     string
		encoderOut string
		decoderOut string
	)

	return &cli.Command{
		Name:  "init",
		Usage: "Write freshly initialized encoder and decoder prompt checkpoints for a backbone",
		Flags: append(append(backboneFlags(), promptFlags()...),
			&cli.StringFlag{
				Name:        "out-dir",
				Aliases:     []string{"o"},
				Usage:       "directory for <side>_prompt.safetensors (default $" + envOutDir + " or ./prompts)",
				Destination: &outDir,
			},
			&cli.StringFlag{
				Name:        "encoder-out",
				Usage:       "explicit encoder checkpoint path",
				Destination: &encoderOut,
			},
			&cli.StringFlag{
				Name:        "decoder-out",
				Usage:       "explicit decoder checkpoint path",
				Destination: &decoderOut,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig)

			m, _, err := loadModel(ctx)
			if err != nil {
				return err
			}
			encPath, err := resolvePromptOut(softprompt.SideEncoder, encoderOut, outDir)
			if err != nil {
				return err
			}
			decPath, err := resolvePromptOut(softprompt.SideDecoder, decoderOut, outDir)
			if err != nil {
				return err
			}
			if err := m.SavePrompts(encPath, decPath); err != nil {
				return err
			}
			for _, p := range []struct {
				path string
				side *softprompt.Side
			}{{encPath, m.Encoder()}, {decPath, m.Decoder()}} {
				size := "?"
				if fi, err := os.Stat(p.path); err == nil {
					size = humanize.Bytes(uint64(fi.Size()))
				}
				log.Info("wrote prompt", "side", p.side.Name(), "path", p.path,
					"n_tokens", p.side.NTokens(), "size", size)
			}
			return nil
		},
	}
}
