package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/samcharles93/sptune/internal/api"
	"github.com/samcharles93/sptune/internal/tokenizer"
)

func translateCmd() *cli.Command {
	var (
		inputIDs []string
		showIDs  bool
	)

	return &cli.Command{
		Name:      "translate",
		Usage:     "Translate text (one sentence per argument, or stdin lines) with prompt-tuned T5",
		ArgsUsage: "[TEXT...]",
		Flags: append(append(append(backboneFlags(), promptFlags()...), generationFlags()...),
			&cli.StringSliceFlag{
				Name:        "input-ids",
				Usage:       "pre-tokenized row, e.g. \"13,5,8,1\" (repeatable; skips the tokenizer)",
				Destination: &inputIDs,
			},
			&cli.BoolFlag{
				Name:        "ids",
				Usage:       "also print generated token ids",
				Destination: &showIDs,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			applyGenerationConfig(cmd, fileConfig)

			req := api.TranslationRequest{}
			if len(inputIDs) > 0 {
				for _, s := range inputIDs {
					row, err := tokenizer.ParseIDs(s)
					if err != nil {
						return err
					}
					req.InputIDs = append(req.InputIDs, row)
				}
			} else {
				texts := cmd.Args().Slice()
				if len(texts) == 0 && !term.IsTerminal(int(os.Stdin.Fd())) {
					var err error
					if texts, err = readLines(os.Stdin); err != nil {
						return err
					}
				}
				if len(texts) == 0 {
					return fmt.Errorf("translate: no input text")
				}
				req.Texts = texts
			}

			p, err := loadPipeline(ctx, len(req.Texts) > 0)
			if err != nil {
				return err
			}
			svc := api.NewTranslationService(api.NewStaticProvider(p))
			resp, err := svc.Translate(ctx, &req)
			if err != nil {
				return err
			}
			return writeTranslations(os.Stdout, resp, showIDs || p.Tokenizer == nil)
		},
	}
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func writeTranslations(w io.Writer, resp *api.TranslationResponse, ids bool) error {
	for _, out := range resp.Outputs {
		line := out.Text
		if ids {
			parts := make([]string, len(out.TokenIDs))
			for i, id := range out.TokenIDs {
				parts[i] = fmt.Sprint(id)
			}
			if line != "" {
				line += "\t"
			}
			line += strings.Join(parts, ",")
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
