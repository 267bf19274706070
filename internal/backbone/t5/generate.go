package t5

import (
	"context"
	"fmt"

	"github.com/samcharles93/sptune/internal/backbone"
	"github.com/samcharles93/sptune/internal/logits"
	"github.com/samcharles93/sptune/internal/tensor"
)

// Generate decodes every row independently until EOS or MaxNewTokens. Each
// returned row starts with the decoder start token; rows that stop early
// are padded with the pad token to the longest row.
//
// DecoderPrefix rows, when given, are fed ahead of the start token and are
// never part of the output.
func (m *Model) Generate(ctx context.Context, in *backbone.GenerateInputs) ([][]int64, error) {
	if in == nil {
		return nil, ErrNoInputs
	}
	embeds, err := m.embedsOrLookup(in.InputsEmbeds, in.InputIDs)
	if err != nil {
		return nil, fmt.Errorf("t5 encoder inputs: %w", err)
	}
	if embeds == nil {
		return nil, ErrNoInputs
	}
	if p := in.DecoderPrefix; p != nil && p.C != m.cfg.DModel {
		return nil, fmt.Errorf("decoder prefix width %d, model width %d", p.C, m.cfg.DModel)
	}
	enc, _, err := m.encode(ctx, embeds, in.AttentionMask, false)
	if err != nil {
		return nil, err
	}

	opts := in.Options
	maxNew := opts.MaxNewTokens
	if maxNew <= 0 {
		maxNew = backbone.DefaultMaxNewTokens
	}

	results := make([][]int64, enc.N)
	err = m.parallelRows(ctx, enc.N, func(ctx context.Context, b int) error {
		sampler := logits.NewSampler(logits.SamplerConfig{
			Seed:          opts.Seed + int64(b),
			Temperature:   opts.Temperature,
			TopK:          opts.TopK,
			TopP:          opts.TopP,
			RepeatPenalty: opts.RepeatPenalty,
		})
		encRow := enc.Seq(b)
		encMask := maskRow(in.AttentionMask, b)
		rc := m.newRowCache()

		start := m.cfg.DecoderStartTokenID
		x := m.stepInput(in.DecoderPrefix, start)
		scores := make([]float32, m.cfg.VocabSize)
		out := []int64{int64(start)}
		recent := make([]int, 0, maxNew)

		for step := 0; step < maxNew; step++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			final, err := m.decodeRow(&x, &encRow, encMask, nil, rc, nil)
			if err != nil {
				return err
			}
			m.lmLogits(scores, final.Row(final.R-1))
			tok := sampler.Sample(scores, recent)
			out = append(out, int64(tok))
			recent = append(recent, tok)
			if tok == m.cfg.EOSTokenID {
				break
			}
			x = m.stepInput(nil, tok)
		}
		results[b] = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	longest := 0
	for _, r := range results {
		longest = max(longest, len(r))
	}
	for b, r := range results {
		for len(r) < longest {
			r = append(r, int64(m.cfg.PadTokenID))
		}
		results[b] = r
	}
	return results, nil
}

// stepInput stacks the optional prefix block on top of the embedding of tok.
func (m *Model) stepInput(prefix *tensor.Mat, tok int) tensor.Mat {
	n := 0
	if prefix != nil {
		n = prefix.R
	}
	x := tensor.NewMat(n+1, m.cfg.DModel)
	for i := 0; i < n; i++ {
		copy(x.Row(i), prefix.Row(i))
	}
	copy(x.Row(n), m.shared.Value.Row(tok))
	return x
}
