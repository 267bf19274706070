package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/sptune/internal/api"
	"github.com/samcharles93/sptune/internal/safetensors"
)

func TestSummarizeCheckpoint(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "enc.safetensors")
	entries := []safetensors.Entry{
		{Name: "soft_prompt.weight", Shape: []int{3, 4}, Data: make([]float32, 12)},
		{Name: "generator.0.bias", Shape: []int{1, 4}, Data: make([]float32, 4)},
	}
	if err := safetensors.Write(path, entries, map[string]string{"side": "encoder"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := summarizeCheckpoint(path, "")
	if err != nil {
		t.Fatalf("summarizeCheckpoint: %v", err)
	}
	want := []tensorSummary{
		{Name: "generator.0.bias", DType: "F32", Shape: []int{1, 4}, Elements: 4},
		{Name: "soft_prompt.weight", DType: "F32", Shape: []int{3, 4}, Elements: 12},
	}
	if diff := cmp.Diff(want, s.Tensors); diff != "" {
		t.Fatalf("tensors (-want +got):\n%s", diff)
	}
	if s.Elements != 16 || s.Metadata["side"] != "encoder" || s.Bytes == 0 {
		t.Fatalf("unexpected summary %+v", s)
	}

	filtered, err := summarizeCheckpoint(path, "soft_prompt")
	if err != nil {
		t.Fatalf("summarizeCheckpoint: %v", err)
	}
	if len(filtered.Tensors) != 1 || filtered.Elements != 12 {
		t.Fatalf("filter not applied: %+v", filtered.Tensors)
	}

	var buf bytes.Buffer
	writeSummary(&buf, s)
	for _, want := range []string{"metadata:", "side", "soft_prompt.weight", "parameters: 16"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("summary output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestSummarizeMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := summarizeCheckpoint(filepath.Join(t.TempDir(), "missing"), ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWriteTranslations(t *testing.T) {
	t.Parallel()

	resp := &api.TranslationResponse{Outputs: []api.TranslationChoice{
		{Index: 0, Text: "Hallo Welt", TokenIDs: []int64{8774, 3845}},
		{Index: 1, TokenIDs: []int64{5}},
	}}
	var buf bytes.Buffer
	if err := writeTranslations(&buf, resp, false); err != nil {
		t.Fatalf("writeTranslations: %v", err)
	}
	if buf.String() != "Hallo Welt\n\n" {
		t.Fatalf("text output %q", buf.String())
	}
	buf.Reset()
	if err := writeTranslations(&buf, resp, true); err != nil {
		t.Fatalf("writeTranslations: %v", err)
	}
	if buf.String() != "Hallo Welt\t8774,3845\n5\n" {
		t.Fatalf("id output %q", buf.String())
	}
}

func TestReadLines(t *testing.T) {
	t.Parallel()
	lines, err := readLines(strings.NewReader("one\n\n  two  \n"))
	if err != nil {
		t.Fatalf("readLines: %v", err)
	}
	if diff := cmp.Diff([]string{"one", "two"}, lines); diff != "" {
		t.Fatalf("lines (-want +got):\n%s", diff)
	}
}
