package softprompt

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/sptune/internal/backbone"
	"github.com/samcharles93/sptune/internal/safetensors"
	"github.com/samcharles93/sptune/internal/tensor"
)

// fakeEmbedding maps id i at column j to i + j/100.
type fakeEmbedding struct {
	dim int
}

func (e fakeEmbedding) Dim() int { return e.dim }

func (e fakeEmbedding) Lookup(ids [][]int64) (*tensor.Batch, error) {
	width, err := tensor.GridWidth(ids)
	if err != nil {
		return nil, err
	}
	out := tensor.NewBatch(len(ids), width, e.dim)
	for b, row := range ids {
		for t, id := range row {
			if id < 0 {
				return nil, errors.New("negative id")
			}
			vec := out.Vec(b, t)
			for j := range vec {
				vec[j] = float32(id) + float32(j)/100
			}
		}
	}
	return out, nil
}

// recordingBackbone captures what it is called with.
type recordingBackbone struct {
	enc, dec backbone.Embedding
	params   []*tensor.Param

	forwardCalls  []*backbone.ForwardInputs
	generateCalls []*backbone.GenerateInputs
	generated     [][]int64
}

func newRecordingBackbone(encDim, decDim int) *recordingBackbone {
	w := tensor.NewMat(4, 4)
	b := tensor.NewMat(1, 4)
	return &recordingBackbone{
		enc: fakeEmbedding{dim: encDim},
		dec: fakeEmbedding{dim: decDim},
		params: []*tensor.Param{
			tensor.NewParam("shared.weight", w, true),
			tensor.NewParam("final_layer_norm.weight", b, true),
		},
		generated: [][]int64{{7, 8, 1}, {9, 1, 0}},
	}
}

func (r *recordingBackbone) EncoderEmbedding() backbone.Embedding { return r.enc }
func (r *recordingBackbone) DecoderEmbedding() backbone.Embedding { return r.dec }
func (r *recordingBackbone) Parameters() []*tensor.Param          { return r.params }

func (r *recordingBackbone) Forward(_ context.Context, in *backbone.ForwardInputs) (*backbone.ForwardOutput, error) {
	r.forwardCalls = append(r.forwardCalls, in)
	return &backbone.ForwardOutput{Loss: 1.25, HasLoss: in.Labels != nil}, nil
}

func (r *recordingBackbone) Generate(_ context.Context, in *backbone.GenerateInputs) ([][]int64, error) {
	r.generateCalls = append(r.generateCalls, in)
	return r.generated, nil
}

func idGrid(n, t int) [][]int64 {
	out := make([][]int64, n)
	for i := range out {
		out[i] = make([]int64, t)
		for j := range out[i] {
			out[i][j] = int64(i*t + j + 1)
		}
	}
	return out
}

func newTestModel(t *testing.T, bb backbone.Seq2Seq, encTokens, decTokens int) *Model {
	t.Helper()
	m, err := New(bb, Config{
		Encoder:     SideConfig{NTokens: encTokens, HiddenDim: 8},
		Decoder:     SideConfig{NTokens: decTokens, HiddenDim: 8},
		RandomRange: 0.5,
		Seed:        1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestExtendShapes(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ n, batch, seq, dim int }{
		{1, 1, 1, 1},
		{5, 2, 10, 16},
		{3, 4, 0, 8},
		{0, 3, 7, 4},
		{20, 1, 3, 32},
	} {
		prompt := tensor.NewMat(tc.n, tc.dim)
		embeds := tensor.NewBatch(tc.batch, tc.seq, tc.dim)
		out, err := PrependEmbeddings(&prompt, embeds)
		if err != nil {
			t.Fatalf("%+v: PrependEmbeddings: %v", tc, err)
		}
		if diff := cmp.Diff([3]int{tc.batch, tc.n + tc.seq, tc.dim}, out.Shape()); diff != "" {
			t.Fatalf("%+v: embeds shape (-want +got):\n%s", tc, diff)
		}

		mask, err := ExtendMask(tensor.Ones(tc.batch, tc.seq), tc.n)
		if err != nil {
			t.Fatalf("%+v: ExtendMask: %v", tc, err)
		}
		labels, err := ExtendLabels(tensor.Full(tc.batch, tc.seq, 4), tc.n, IgnoreIndex)
		if err != nil {
			t.Fatalf("%+v: ExtendLabels: %v", tc, err)
		}
		for _, grid := range [][][]int64{mask, labels} {
			if len(grid) != tc.batch {
				t.Fatalf("%+v: got %d rows", tc, len(grid))
			}
			if w, _ := tensor.GridWidth(grid); tc.batch > 0 && w != tc.n+tc.seq {
				t.Fatalf("%+v: got width %d", tc, w)
			}
		}
	}
}

func TestPrefixContent(t *testing.T) {
	t.Parallel()
	mask := [][]int64{{0, 0, 1}, {1, 0, 0}}
	labels := [][]int64{{-100, 5, 6}, {0, 0, -1}}

	gotMask, err := ExtendMask(mask, 2)
	if err != nil {
		t.Fatalf("ExtendMask: %v", err)
	}
	if diff := cmp.Diff([][]int64{{1, 1, 0, 0, 1}, {1, 1, 1, 0, 0}}, gotMask); diff != "" {
		t.Fatalf("mask mismatch (-want +got):\n%s", diff)
	}
	gotLabels, err := ExtendLabels(labels, 2, IgnoreIndex)
	if err != nil {
		t.Fatalf("ExtendLabels: %v", err)
	}
	if diff := cmp.Diff([][]int64{{-100, -100, -100, 5, 6}, {-100, -100, 0, 0, -1}}, gotLabels); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
	if mask[0][0] != 0 || len(mask[0]) != 3 {
		t.Fatal("ExtendMask modified its input")
	}

	prompt := tensor.NewMatFromData(2, 2, []float32{1, 2, 3, 4})
	embeds := &tensor.Batch{N: 2, T: 1, D: 2, Data: []float32{9, 9, 8, 8}}
	out, err := PrependEmbeddings(&prompt, embeds)
	if err != nil {
		t.Fatalf("PrependEmbeddings: %v", err)
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 4, 9, 9, 1, 2, 3, 4, 8, 8}, out.Data); diff != "" {
		t.Fatalf("embeds mismatch (-want +got):\n%s", diff)
	}
}

func TestExtendRejectsBadShapes(t *testing.T) {
	t.Parallel()
	if _, err := ExtendMask([][]int64{{1, 1}, {1}}, 2); !errors.Is(err, ErrShape) {
		t.Fatalf("ragged mask: expected ErrShape, got %v", err)
	}
	if _, err := ExtendLabels([][]int64{{1}}, -1, IgnoreIndex); !errors.Is(err, ErrShape) {
		t.Fatalf("negative n: expected ErrShape, got %v", err)
	}
	prompt := tensor.NewMat(2, 3)
	if _, err := PrependEmbeddings(&prompt, tensor.NewBatch(1, 2, 4)); !errors.Is(err, ErrShape) {
		t.Fatalf("width mismatch: expected ErrShape, got %v", err)
	}
	bad := &tensor.Batch{N: 2, T: 2, D: 3, Data: make([]float32, 5)}
	if _, err := PrependEmbeddings(&prompt, bad); !errors.Is(err, ErrShape) {
		t.Fatalf("malformed batch: expected ErrShape, got %v", err)
	}
}

func TestGeneratorDeterministic(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(3))
	table, err := NewTable(4, 6, 0.5, rng)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	gen, err := NewGenerator(6, 10, rng)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	rows, err := table.Lookup([]int{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	a, err := gen.Generate(rows)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := gen.Generate(rows)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !tensor.Equal(a, b) {
		t.Fatal("generator output differs between identical calls")
	}
	if a.R != 4 || a.C != 10 {
		t.Fatalf("expected (4, 10), got (%d, %d)", a.R, a.C)
	}
	for _, v := range a.Data {
		if v <= -1 || v >= 1 {
			t.Fatalf("tanh output out of range: %v", v)
		}
	}
	wrong := tensor.NewMat(1, 5)
	if _, err := gen.Generate(&wrong); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for wrong width, got %v", err)
	}
}

func TestNewTableValidation(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	for _, dims := range [][2]int{{0, 4}, {4, 0}, {-1, 4}} {
		if _, err := NewTable(dims[0], dims[1], 0.5, rng); !errors.Is(err, ErrConfiguration) {
			t.Errorf("NewTable(%v): expected ErrConfiguration, got %v", dims, err)
		}
	}
	table, err := NewTable(3, 4, 0.25, rng)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	for _, v := range table.Weight().Value.Data {
		if v < -0.25 || v > 0.25 {
			t.Fatalf("value %v outside random range", v)
		}
	}
	if _, err := table.Lookup([]int{3}); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for out of range index, got %v", err)
	}
}

func TestFreezeInvariant(t *testing.T) {
	t.Parallel()
	bb := newRecordingBackbone(16, 16)
	m := newTestModel(t, bb, 5, 3)

	if n := tensor.CountTrainable(bb.Parameters()); n != 0 {
		t.Fatalf("expected 0 trainable backbone parameters, got %d", n)
	}
	params := m.TrainableParameters()
	if len(params) != 10 {
		t.Fatalf("expected 10 prompt parameters, got %d", len(params))
	}
	if n := tensor.CountTrainable(params); n != len(params) {
		t.Fatalf("expected all prompt parameters trainable, got %d of %d", n, len(params))
	}
}

func TestTableRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "table.safetensors")
	table, err := NewTable(7, 5, 0, rand.New(rand.NewSource(9)))
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if err := table.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if loaded.NTokens() != 7 || loaded.HiddenDim() != 5 {
		t.Fatalf("loaded shape (%d, %d), want (7, 5)", loaded.NTokens(), loaded.HiddenDim())
	}
	if !tensor.Equal(table.Weight().Value, loaded.Weight().Value) {
		t.Fatal("loaded table differs from saved table")
	}
}

func TestLoadTableErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := LoadTable(filepath.Join(dir, "missing.safetensors")); !errors.Is(err, ErrStorage) {
		t.Fatalf("missing file: expected ErrStorage, got %v", err)
	}

	wrongName := filepath.Join(dir, "wrong.safetensors")
	if err := safetensors.Write(wrongName, []safetensors.Entry{{Name: "other", Shape: []int{2, 2}, Data: make([]float32, 4)}}, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := LoadTable(wrongName); !errors.Is(err, ErrStorage) {
		t.Fatalf("missing tensor: expected ErrStorage, got %v", err)
	}

	wrongRank := filepath.Join(dir, "rank.safetensors")
	if err := safetensors.Write(wrongRank, []safetensors.Entry{{Name: tableTensor, Shape: []int{4}, Data: make([]float32, 4)}}, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := LoadTable(wrongRank); !errors.Is(err, ErrStorage) {
		t.Fatalf("wrong rank: expected ErrStorage, got %v", err)
	}
}

func TestSideRoundTripRestoresGenerator(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	bb := newRecordingBackbone(16, 12)
	m := newTestModel(t, bb, 5, 3)

	encPath := filepath.Join(dir, "encoder.safetensors")
	decPath := filepath.Join(dir, "decoder.safetensors")
	if err := m.SavePrompts(encPath, decPath); err != nil {
		t.Fatalf("SavePrompts: %v", err)
	}

	st, err := safetensors.Open(decPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if diff := cmp.Diff(map[string]string{
		"side": "decoder", "n_tokens": "3", "hidden_dim": "8", "emb_dim": "12", "format": CheckpointFormat,
	}, st.Metadata); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}

	// Configured token counts are ignored in favour of the saved tables.
	restored, err := New(newRecordingBackbone(16, 12), Config{
		Encoder: SideConfig{NTokens: 99, PromptPath: encPath},
		Decoder: SideConfig{PromptPath: decPath},
		Seed:    42,
	})
	if err != nil {
		t.Fatalf("New from checkpoints: %v", err)
	}
	if restored.EncoderNTokens() != 5 || restored.DecoderNTokens() != 3 {
		t.Fatalf("restored n_tokens (%d, %d), want (5, 3)", restored.EncoderNTokens(), restored.DecoderNTokens())
	}
	for _, pair := range [][2]*Side{{m.Encoder(), restored.Encoder()}, {m.Decoder(), restored.Decoder()}} {
		want, err := pair[0].Prompt()
		if err != nil {
			t.Fatalf("Prompt: %v", err)
		}
		got, err := pair[1].Prompt()
		if err != nil {
			t.Fatalf("Prompt: %v", err)
		}
		if !tensor.Equal(want, got) {
			t.Fatalf("%s prompt differs after round trip", pair[0].Name())
		}
	}
}

func TestLoadedGeneratorWidthMismatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m := newTestModel(t, newRecordingBackbone(16, 16), 2, 2)
	encPath := filepath.Join(dir, "encoder.safetensors")
	if err := m.Encoder().Save(encPath); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, err := New(newRecordingBackbone(32, 16), Config{
		Encoder: SideConfig{PromptPath: encPath},
		Decoder: SideConfig{NTokens: 2, HiddenDim: 4},
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewConfigurationErrors(t *testing.T) {
	t.Parallel()
	for name, tc := range map[string]struct {
		bb  backbone.Seq2Seq
		cfg Config
	}{
		"missing encoder hidden dim": {
			bb:  newRecordingBackbone(8, 8),
			cfg: Config{Encoder: SideConfig{NTokens: 2}, Decoder: SideConfig{NTokens: 2, HiddenDim: 4}},
		},
		"missing decoder hidden dim": {
			bb:  newRecordingBackbone(8, 8),
			cfg: Config{Encoder: SideConfig{NTokens: 2, HiddenDim: 4}, Decoder: SideConfig{NTokens: 2}},
		},
		"zero tokens": {
			bb:  newRecordingBackbone(8, 8),
			cfg: Config{Encoder: SideConfig{HiddenDim: 4}, Decoder: SideConfig{NTokens: 2, HiddenDim: 4}},
		},
		"no decoder embedding": {
			bb:  &recordingBackbone{enc: fakeEmbedding{dim: 8}},
			cfg: Config{Encoder: SideConfig{NTokens: 2, HiddenDim: 4}, Decoder: SideConfig{NTokens: 2, HiddenDim: 4}},
		},
		"nil backbone": {
			cfg: Config{Encoder: SideConfig{NTokens: 2, HiddenDim: 4}, Decoder: SideConfig{NTokens: 2, HiddenDim: 4}},
		},
	} {
		_, err := New(tc.bb, tc.cfg)
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", name, err)
		}
	}
}

func TestNewMissingPromptFile(t *testing.T) {
	t.Parallel()
	_, err := New(newRecordingBackbone(8, 8), Config{
		Encoder: SideConfig{PromptPath: filepath.Join(t.TempDir(), "nope.safetensors")},
		Decoder: SideConfig{NTokens: 2, HiddenDim: 4},
	})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestForwardEndToEnd(t *testing.T) {
	t.Parallel()
	bb := newRecordingBackbone(16, 16)
	m := newTestModel(t, bb, 5, 3)

	in := &backbone.ForwardInputs{
		InputIDs:      idGrid(2, 10),
		AttentionMask: tensor.Ones(2, 10),
		UseCache:      true,
	}
	out, err := m.Forward(context.Background(), in)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if out.Loss != 1.25 {
		t.Fatalf("backbone output not returned unchanged: %+v", out)
	}
	if len(bb.forwardCalls) != 1 {
		t.Fatalf("expected 1 backbone call, got %d", len(bb.forwardCalls))
	}
	got := bb.forwardCalls[0]
	if got.InputIDs != nil {
		t.Fatal("raw ids were forwarded to the backbone")
	}
	if diff := cmp.Diff([3]int{2, 15, 16}, got.InputsEmbeds.Shape()); diff != "" {
		t.Fatalf("encoder embeds shape (-want +got):\n%s", diff)
	}
	if len(got.AttentionMask) != 2 {
		t.Fatalf("mask rows: %d", len(got.AttentionMask))
	}
	for _, row := range got.AttentionMask {
		if len(row) != 15 {
			t.Fatalf("mask width %d, want 15", len(row))
		}
		for j := 0; j < 5; j++ {
			if row[j] != 1 {
				t.Fatalf("mask prefix column %d = %d", j, row[j])
			}
		}
	}
	if !got.UseCache {
		t.Fatal("UseCache not passed through")
	}

	// Prompt block is identical across rows and real embeddings follow it.
	prompt, err := m.Encoder().Prompt()
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	for b := 0; b < 2; b++ {
		for p := 0; p < 5; p++ {
			if diff := cmp.Diff(prompt.Row(p), got.InputsEmbeds.Vec(b, p)); diff != "" {
				t.Fatalf("row %d prompt %d mismatch:\n%s", b, p, diff)
			}
		}
		if v := got.InputsEmbeds.Vec(b, 5)[0]; v != float32(in.InputIDs[b][0]) {
			t.Fatalf("row %d: first real embedding %v, want %v", b, v, in.InputIDs[b][0])
		}
	}

	// The caller's inputs are untouched.
	if in.InputIDs == nil || in.InputsEmbeds != nil || len(in.AttentionMask[0]) != 10 {
		t.Fatal("Forward modified its inputs")
	}
}

func TestForwardLossMasking(t *testing.T) {
	t.Parallel()
	bb := newRecordingBackbone(16, 16)
	m := newTestModel(t, bb, 5, 3)

	labels := [][]int64{{11, 12, 13, 14, 15, 16, 17}, {21, 22, 23, 24, 25, 26, 27}}
	if _, err := m.Forward(context.Background(), &backbone.ForwardInputs{
		InputIDs: idGrid(2, 4),
		Labels:   labels,
	}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	got := bb.forwardCalls[0].Labels
	want := [][]int64{
		{-100, -100, -100, 11, 12, 13, 14, 15, 16, 17},
		{-100, -100, -100, 21, 22, 23, 24, 25, 26, 27},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
	if len(labels[0]) != 7 {
		t.Fatal("Forward modified the caller's labels")
	}
}

func TestForwardDecoderSide(t *testing.T) {
	t.Parallel()
	bb := newRecordingBackbone(16, 12)
	m := newTestModel(t, bb, 5, 3)

	if _, err := m.Forward(context.Background(), &backbone.ForwardInputs{
		InputIDs:             idGrid(2, 4),
		DecoderInputIDs:      idGrid(2, 6),
		DecoderAttentionMask: tensor.Ones(2, 6),
		Labels:               tensor.Full(2, 6, 5),
	}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	got := bb.forwardCalls[0]
	if got.DecoderInputIDs != nil {
		t.Fatal("raw decoder ids were forwarded")
	}
	if diff := cmp.Diff([3]int{2, 9, 12}, got.DecoderInputsEmbeds.Shape()); diff != "" {
		t.Fatalf("decoder embeds shape (-want +got):\n%s", diff)
	}
	// The decoder mask grows by the decoder prompt length, not the encoder's.
	if w, _ := tensor.GridWidth(got.DecoderAttentionMask); w != 9 {
		t.Fatalf("decoder mask width %d, want 9", w)
	}
	if w, _ := tensor.GridWidth(got.Labels); w != 9 {
		t.Fatalf("labels width %d, want 9", w)
	}
}

func TestForwardPassesPrecomputedEmbeds(t *testing.T) {
	t.Parallel()
	bb := newRecordingBackbone(16, 16)
	m := newTestModel(t, bb, 5, 3)

	embeds := tensor.NewBatch(1, 8, 16)
	mask := tensor.Ones(1, 8)
	if _, err := m.Forward(context.Background(), &backbone.ForwardInputs{
		InputsEmbeds:  embeds,
		AttentionMask: mask,
	}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	got := bb.forwardCalls[0]
	if got.InputsEmbeds != embeds {
		t.Fatal("precomputed embeds were replaced")
	}
	if w, _ := tensor.GridWidth(got.AttentionMask); w != 8 {
		t.Fatalf("mask of precomputed embeds was extended to %d", w)
	}
}

func TestForwardBatchMismatch(t *testing.T) {
	t.Parallel()
	bb := newRecordingBackbone(16, 16)
	m := newTestModel(t, bb, 5, 3)

	for name, in := range map[string]*backbone.ForwardInputs{
		"mask rows":   {InputIDs: idGrid(2, 4), AttentionMask: tensor.Ones(3, 4)},
		"labels rows": {InputIDs: idGrid(2, 4), Labels: tensor.Full(1, 4, 3)},
		"ragged ids":  {InputIDs: [][]int64{{1, 2}, {3}}},
		"decoder mask rows": {
			DecoderInputIDs:      idGrid(2, 4),
			DecoderAttentionMask: tensor.Ones(1, 4),
		},
	} {
		if _, err := m.Forward(context.Background(), in); !errors.Is(err, ErrShape) {
			t.Errorf("%s: expected ErrShape, got %v", name, err)
		}
	}
	if len(bb.forwardCalls) != 0 {
		t.Fatalf("backbone called %d times on invalid input", len(bb.forwardCalls))
	}
}

func TestGenerateRequiresInputIDs(t *testing.T) {
	t.Parallel()
	bb := newRecordingBackbone(16, 16)
	m := newTestModel(t, bb, 5, 3)

	for _, in := range []*backbone.GenerateInputs{
		nil,
		{},
		{InputsEmbeds: tensor.NewBatch(1, 4, 16), AttentionMask: tensor.Ones(1, 4)},
	} {
		_, err := m.Generate(context.Background(), in)
		if !errors.Is(err, ErrCallContract) {
			t.Fatalf("expected ErrCallContract, got %v", err)
		}
	}
	if len(bb.generateCalls) != 0 {
		t.Fatalf("backbone Generate called %d times", len(bb.generateCalls))
	}
}

func TestGenerateExtendsEncoderInputs(t *testing.T) {
	t.Parallel()
	bb := newRecordingBackbone(16, 16)
	m := newTestModel(t, bb, 5, 3)

	opts := backbone.GenerateOptions{MaxNewTokens: 12, TopK: 3, Seed: 8}
	out, err := m.Generate(context.Background(), &backbone.GenerateInputs{
		InputIDs: idGrid(2, 6),
		Options:  opts,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if diff := cmp.Diff(bb.generated, out); diff != "" {
		t.Fatalf("generated ids not returned unchanged (-want +got):\n%s", diff)
	}
	got := bb.generateCalls[0]
	if got.InputIDs != nil {
		t.Fatal("raw ids forwarded to backbone Generate")
	}
	if diff := cmp.Diff([3]int{2, 11, 16}, got.InputsEmbeds.Shape()); diff != "" {
		t.Fatalf("embeds shape (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(tensor.Ones(2, 11), got.AttentionMask); diff != "" {
		t.Fatalf("default mask (-want +got):\n%s", diff)
	}
	if got.Options != opts {
		t.Fatalf("options changed: %+v", got.Options)
	}
	if got.DecoderPrefix == nil || got.DecoderPrefix.R != 3 || got.DecoderPrefix.C != 16 {
		t.Fatalf("decoder prefix not attached: %+v", got.DecoderPrefix)
	}

	// A caller mask keeps its zeros after the prompt prefix.
	if _, err := m.Generate(context.Background(), &backbone.GenerateInputs{
		InputIDs:      idGrid(1, 3),
		AttentionMask: [][]int64{{1, 1, 0}},
	}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if diff := cmp.Diff([][]int64{{1, 1, 1, 1, 1, 1, 1, 0}}, bb.generateCalls[1].AttentionMask); diff != "" {
		t.Fatalf("caller mask (-want +got):\n%s", diff)
	}
}

func TestCreateUsesLoader(t *testing.T) {
	t.Parallel()
	bb := newRecordingBackbone(8, 8)
	var source string
	loader := backbone.LoaderFunc(func(_ context.Context, s string) (backbone.Seq2Seq, error) {
		source = s
		return bb, nil
	})
	m, err := Create(context.Background(), loader, "t5-small", Config{
		Encoder: SideConfig{NTokens: 2, HiddenDim: 4},
		Decoder: SideConfig{NTokens: 1, HiddenDim: 4},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if source != "t5-small" || m.Backbone() != bb {
		t.Fatalf("loader not used: source=%q", source)
	}

	failing := backbone.LoaderFunc(func(context.Context, string) (backbone.Seq2Seq, error) {
		return nil, errors.New("no such model")
	})
	if _, err := Create(context.Background(), failing, "x", Config{}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("disk on fire")
	err := storageErr("save_side", cause, "write %s", "x")
	if !errors.Is(err, ErrStorage) || !errors.Is(err, cause) {
		t.Fatalf("errors.Is failed for %v", err)
	}
	if errors.Is(err, ErrShape) {
		t.Fatal("storage error matched ErrShape")
	}
	var e *Error
	if !errors.As(err, &e) || e.Op != "save_side" {
		t.Fatalf("errors.As failed: %v", err)
	}
	if got := err.Error(); got != "save_side: write x: disk on fire" {
		t.Fatalf("Error() = %q", got)
	}
}
