// Package backbone defines the contract between soft-prompt tuning and the
// frozen encoder-decoder model underneath it.
//
// Token id grids ([][]int64) are batch-major: one row per sequence. Masks use
// 1 for positions to attend and 0 for padding. Labels use IgnoreIndex for
// positions excluded from the loss.
package backbone

import (
	"context"

	"github.com/samcharles93/sptune/internal/tensor"
)

// IgnoreIndex marks label positions that do not contribute to the loss.
const IgnoreIndex int64 = -100

// Embedding maps token ids to vectors of width Dim.
type Embedding interface {
	Dim() int
	Lookup(ids [][]int64) (*tensor.Batch, error)
}

// Seq2Seq is a pretrained encoder-decoder model. Implementations must treat
// pre-computed embeddings and id grids as alternatives: when InputsEmbeds is
// set InputIDs is ignored, and likewise for the decoder.
type Seq2Seq interface {
	EncoderEmbedding() Embedding
	DecoderEmbedding() Embedding
	Parameters() []*tensor.Param
	Forward(ctx context.Context, in *ForwardInputs) (*ForwardOutput, error)
	Generate(ctx context.Context, in *GenerateInputs) ([][]int64, error)
}

// Loader resolves a model source (a directory or a hub id) to a backbone.
type Loader interface {
	Load(ctx context.Context, source string) (Seq2Seq, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, source string) (Seq2Seq, error)

func (f LoaderFunc) Load(ctx context.Context, source string) (Seq2Seq, error) {
	return f(ctx, source)
}

// ForwardInputs is a single training or scoring call.
type ForwardInputs struct {
	InputIDs      [][]int64
	InputsEmbeds  *tensor.Batch
	AttentionMask [][]int64

	DecoderInputIDs      [][]int64
	DecoderInputsEmbeds  *tensor.Batch
	DecoderAttentionMask [][]int64

	// Labels are the target ids. When no decoder inputs are given the
	// backbone derives them by shifting Labels right.
	Labels [][]int64

	// EncoderOutputs skips the encoder when set.
	EncoderOutputs *tensor.Batch
	// PastKeyValues continues decoding from an earlier call.
	PastKeyValues Cache

	UseCache           bool
	OutputHiddenStates bool
}

// ForwardOutput is returned unchanged to callers of the tuned model.
type ForwardOutput struct {
	// Loss is the mean token cross-entropy over non-ignored labels. HasLoss
	// is false when no labels were given.
	Loss    float64
	HasLoss bool

	// Logits has shape (batch, decoder length, vocab).
	Logits *tensor.Batch

	EncoderLastHiddenState *tensor.Batch
	PastKeyValues          Cache

	EncoderHiddenStates []*tensor.Batch
	DecoderHiddenStates []*tensor.Batch
}

// Cache is opaque decoder state owned by the backbone that produced it.
type Cache interface {
	// Len is the number of decoder positions already cached.
	Len() int
}

// GenerateInputs is a single autoregressive decoding call.
type GenerateInputs struct {
	InputIDs      [][]int64
	InputsEmbeds  *tensor.Batch
	AttentionMask [][]int64

	// DecoderPrefix, when set, is a block of embeddings placed ahead of the
	// decoder start token in every row. Prefix positions are never emitted.
	DecoderPrefix *tensor.Mat

	Options GenerateOptions
}

// GenerateOptions controls decoding.
type GenerateOptions struct {
	MaxNewTokens  int
	Temperature   float32
	TopK          int
	TopP          float32
	RepeatPenalty float32
	Seed          int64
}

// DefaultMaxNewTokens applies when GenerateOptions.MaxNewTokens is zero.
const DefaultMaxNewTokens = 64
