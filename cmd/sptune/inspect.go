package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/sptune/internal/safetensors"
)

type tensorSummary struct {
	Name     string `json:"name"`
	DType    string `json:"dtype"`
	Shape    []int  `json:"shape"`
	Elements int    `json:"elements"`
}

type checkpointSummary struct {
	Path     string            `json:"path"`
	Bytes    int64             `json:"bytes"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Tensors  []tensorSummary   `json:"tensors"`
	Elements int               `json:"elements"`
}

func inspectCmd() *cli.Command {
	var (
		asJSON bool
		filter string
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show tensors and metadata of prompt (or any safetensors) checkpoints",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "emit JSON instead of text", Destination: &asJSON},
			&cli.StringFlag{Name: "filter", Usage: "only list tensors whose name contains this substring", Destination: &filter},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				return fmt.Errorf("inspect: at least one checkpoint path is required")
			}
			summaries := make([]checkpointSummary, 0, len(paths))
			for _, p := range paths {
				s, err := summarizeCheckpoint(p, filter)
				if err != nil {
					return err
				}
				summaries = append(summaries, s)
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}
			for i, s := range summaries {
				if i > 0 {
					fmt.Println()
				}
				writeSummary(os.Stdout, s)
			}
			return nil
		},
	}
}

func summarizeCheckpoint(path, filter string) (checkpointSummary, error) {
	st, err := safetensors.Open(path)
	if err != nil {
		return checkpointSummary{}, fmt.Errorf("inspect %s: %w", path, err)
	}
	s := checkpointSummary{Path: path, Metadata: st.Metadata}
	if fi, err := os.Stat(path); err == nil {
		s.Bytes = fi.Size()
	}
	names := make([]string, 0, len(st.Tensors))
	for name := range st.Tensors {
		if filter == "" || strings.Contains(name, filter) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		info := st.Tensors[name]
		n := 1
		for _, d := range info.Shape {
			n *= d
		}
		s.Tensors = append(s.Tensors, tensorSummary{Name: name, DType: info.DType, Shape: info.Shape, Elements: n})
		s.Elements += n
	}
	return s, nil
}

func writeSummary(w io.Writer, s checkpointSummary) {
	_, _ = fmt.Fprintf(w, "%s (%s)\n", s.Path, humanize.Bytes(uint64(s.Bytes)))
	if len(s.Metadata) > 0 {
		keys := make([]string, 0, len(s.Metadata))
		for k := range s.Metadata {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		_, _ = fmt.Fprintln(w, "metadata:")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "  %-12s %s\n", k, s.Metadata[k])
		}
	}
	data := make([][]string, 0, len(s.Tensors))
	for _, t := range s.Tensors {
		data = append(data, []string{t.Name, t.DType, fmt.Sprint(t.Shape), humanize.Comma(int64(t.Elements))})
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"TENSOR", "DTYPE", "SHAPE", "ELEMENTS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	_, _ = fmt.Fprintf(w, "parameters: %s\n", humanize.Comma(int64(s.Elements)))
}
