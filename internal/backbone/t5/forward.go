package t5

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/sptune/internal/backbone"
	"github.com/samcharles93/sptune/internal/tensor"
)

var (
	ErrNoInputs     = errors.New("t5: no encoder or decoder inputs")
	ErrForeignCache = errors.New("t5: past key values were not produced by this backbone")
)

// embedsOrLookup returns embeds when set and the looked-up ids otherwise.
func (m *Model) embedsOrLookup(embeds *tensor.Batch, ids [][]int64) (*tensor.Batch, error) {
	if embeds != nil {
		if err := embeds.Validate(); err != nil {
			return nil, err
		}
		if embeds.D != m.cfg.DModel {
			return nil, fmt.Errorf("embedding width %d, model width %d", embeds.D, m.cfg.DModel)
		}
		return embeds, nil
	}
	if ids == nil {
		return nil, nil
	}
	return m.embedding.Lookup(ids)
}

func checkMask(what string, mask [][]int64, rows, width int) error {
	if mask == nil {
		return nil
	}
	if len(mask) != rows {
		return fmt.Errorf("%s has %d rows, want %d", what, len(mask), rows)
	}
	w, err := tensor.GridWidth(mask)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if rows > 0 && w != width {
		return fmt.Errorf("%s has width %d, want %d", what, w, width)
	}
	return nil
}

func maskRow(mask [][]int64, b int) []int64 {
	if mask == nil {
		return nil
	}
	return mask[b]
}

// parallelRows runs fn for every row, bounded by the configured workers.
func (m *Model) parallelRows(ctx context.Context, n int, fn func(ctx context.Context, b int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for b := 0; b < n; b++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, b)
		})
	}
	return g.Wait()
}

// encode runs the encoder stack. When keepStates is set the returned slice
// holds the embeddings, the output of every block but the last, and the
// final normalized output.
func (m *Model) encode(ctx context.Context, embeds *tensor.Batch, mask [][]int64, keepStates bool) (*tensor.Batch, []*tensor.Batch, error) {
	if err := checkMask("attention mask", mask, embeds.N, embeds.T); err != nil {
		return nil, nil, err
	}
	out := tensor.NewBatch(embeds.N, embeds.T, embeds.D)
	var states []*tensor.Batch
	if keepStates {
		states = make([]*tensor.Batch, len(m.encoder)+1)
		for i := range states {
			states[i] = tensor.NewBatch(embeds.N, embeds.T, embeds.D)
		}
	}
	err := m.parallelRows(ctx, embeds.N, func(_ context.Context, b int) error {
		seq := embeds.Seq(b)
		x := seq.Clone()
		pad := padBias(maskRow(mask, b), x.R)
		for l := range m.encoder {
			if keepStates {
				dst := states[l].Seq(b)
				copy(dst.Data, x.Data)
			}
			m.encoderBlock(&m.encoder[l], &x, pad)
		}
		final := m.normRows(m.encFinal, &x)
		dst := out.Seq(b)
		copy(dst.Data, final.Data)
		if keepStates {
			last := states[len(m.encoder)].Seq(b)
			copy(last.Data, final.Data)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, states, nil
}

func (m *Model) encoderBlock(blk *encoderBlock, x *tensor.Mat, pad []float32) {
	h := m.normRows(blk.attnNorm, x)
	q, k, v := project(blk.attn.q, &h), project(blk.attn.k, &h), project(blk.attn.v, &h)
	buckets, maxDist := m.cfg.RelativeAttentionNumBuckets, m.cfg.RelativeAttentionMaxDistance
	ctxv := m.attend(&q, &k, &v, func(hd, i, j int) float32 {
		return m.encRel.Value.Row(relativeBucket(j-i, true, buckets, maxDist))[hd] + pad[j]
	})
	o := project(blk.attn.o, &ctxv)
	addRows(x, &o)

	h = m.normRows(blk.ffNorm, x)
	f := m.feedForward(&blk.ff, &h)
	addRows(x, &f)
}

// decodeRow runs the decoder stack over x (new positions only) for one
// sequence, extending rc. states, when non-nil, receives the input to every
// block followed by the final normalized output.
func (m *Model) decodeRow(x *tensor.Mat, enc *tensor.Mat, encMask, decMask []int64, rc *rowCache, states []tensor.Mat) (tensor.Mat, error) {
	past := rc.length
	total := past + x.R
	var selfPad []float32
	switch {
	case decMask == nil:
		selfPad = padBias(nil, total)
	case len(decMask) == total:
		selfPad = padBias(decMask, total)
	case len(decMask) == x.R:
		selfPad = make([]float32, total)
		copy(selfPad[past:], padBias(decMask, x.R))
	default:
		return tensor.Mat{}, fmt.Errorf("decoder attention mask width %d, want %d or %d", len(decMask), x.R, total)
	}
	crossPad := padBias(encMask, enc.R)
	buckets, maxDist := m.cfg.RelativeAttentionNumBuckets, m.cfg.RelativeAttentionMaxDistance

	for l := range m.decoder {
		blk := &m.decoder[l]
		lc := &rc.layers[l]
		if states != nil {
			copy(states[l].Data, x.Data)
		}

		h := m.normRows(blk.selfNorm, x)
		q, k, v := project(blk.self.q, &h), project(blk.self.k, &h), project(blk.self.v, &h)
		lc.selfK.append(&k)
		lc.selfV.append(&v)
		keys, vals := lc.selfK.mat(), lc.selfV.mat()
		ctxv := m.attend(&q, &keys, &vals, func(hd, i, j int) float32 {
			qp := past + i
			if j > qp {
				return maskBias
			}
			return m.decRel.Value.Row(relativeBucket(j-qp, false, buckets, maxDist))[hd] + selfPad[j]
		})
		o := project(blk.self.o, &ctxv)
		addRows(x, &o)

		h = m.normRows(blk.crossNorm, x)
		if lc.crossK == nil {
			ck, cv := project(blk.cross.k, enc), project(blk.cross.v, enc)
			lc.crossK, lc.crossV = &ck, &cv
		}
		q = project(blk.cross.q, &h)
		ctxv = m.attend(&q, lc.crossK, lc.crossV, func(_, _, j int) float32 {
			return crossPad[j]
		})
		o = project(blk.cross.o, &ctxv)
		addRows(x, &o)

		h = m.normRows(blk.ffNorm, x)
		f := m.feedForward(&blk.ff, &h)
		addRows(x, &f)
	}
	rc.length = total
	final := m.normRows(m.decFinal, x)
	if states != nil {
		copy(states[len(m.decoder)].Data, final.Data)
	}
	return final, nil
}

// shiftRight builds decoder inputs from labels: the start token, then the
// labels without their last column, with ignored positions replaced by pad.
func (m *Model) shiftRight(labels [][]int64) [][]int64 {
	out := make([][]int64, len(labels))
	for b, row := range labels {
		shifted := make([]int64, len(row))
		if len(row) > 0 {
			shifted[0] = int64(m.cfg.DecoderStartTokenID)
			copy(shifted[1:], row[:len(row)-1])
		}
		for i, id := range shifted {
			if id == backbone.IgnoreIndex {
				shifted[i] = int64(m.cfg.PadTokenID)
			}
		}
		out[b] = shifted
	}
	return out
}

// Forward runs the encoder (unless EncoderOutputs is given) and the decoder,
// returning logits for every decoder position and, with labels, the mean
// cross-entropy over positions whose label is not IgnoreIndex.
//
// A Cache passed as PastKeyValues is extended in place.
func (m *Model) Forward(ctx context.Context, in *backbone.ForwardInputs) (*backbone.ForwardOutput, error) {
	if in == nil {
		return nil, ErrNoInputs
	}
	out := &backbone.ForwardOutput{}

	enc := in.EncoderOutputs
	if enc == nil {
		embeds, err := m.embedsOrLookup(in.InputsEmbeds, in.InputIDs)
		if err != nil {
			return nil, fmt.Errorf("t5 encoder inputs: %w", err)
		}
		if embeds == nil {
			return nil, ErrNoInputs
		}
		if enc, out.EncoderHiddenStates, err = m.encode(ctx, embeds, in.AttentionMask, in.OutputHiddenStates); err != nil {
			return nil, err
		}
	} else {
		if err := enc.Validate(); err != nil {
			return nil, fmt.Errorf("t5 encoder outputs: %w", err)
		}
		if err := checkMask("attention mask", in.AttentionMask, enc.N, enc.T); err != nil {
			return nil, err
		}
	}
	out.EncoderLastHiddenState = enc

	decIDs := in.DecoderInputIDs
	if in.DecoderInputsEmbeds == nil && decIDs == nil && in.Labels != nil {
		decIDs = m.shiftRight(in.Labels)
	}
	dec, err := m.embedsOrLookup(in.DecoderInputsEmbeds, decIDs)
	if err != nil {
		return nil, fmt.Errorf("t5 decoder inputs: %w", err)
	}
	if dec == nil {
		return nil, ErrNoInputs
	}
	if dec.N != enc.N {
		return nil, fmt.Errorf("decoder batch %d, encoder batch %d", dec.N, enc.N)
	}
	if in.Labels != nil {
		if err := checkMask("labels", in.Labels, dec.N, dec.T); err != nil {
			return nil, err
		}
	}

	var cache *Cache
	switch pkv := in.PastKeyValues.(type) {
	case nil:
	case *Cache:
		if pkv.Rows() != dec.N {
			return nil, fmt.Errorf("past key values hold %d rows, batch has %d", pkv.Rows(), dec.N)
		}
		cache = pkv
	default:
		return nil, ErrForeignCache
	}
	if cache == nil {
		cache = &Cache{rows: make([]*rowCache, dec.N)}
		for b := range cache.rows {
			cache.rows[b] = m.newRowCache()
		}
	}

	vocab := m.cfg.VocabSize
	out.Logits = tensor.NewBatch(dec.N, dec.T, vocab)
	if in.OutputHiddenStates {
		out.DecoderHiddenStates = make([]*tensor.Batch, len(m.decoder)+1)
		for i := range out.DecoderHiddenStates {
			out.DecoderHiddenStates[i] = tensor.NewBatch(dec.N, dec.T, dec.D)
		}
	}

	err = m.parallelRows(ctx, dec.N, func(_ context.Context, b int) error {
		seq := dec.Seq(b)
		x := seq.Clone()
		encRow := enc.Seq(b)
		var states []tensor.Mat
		if in.OutputHiddenStates {
			states = make([]tensor.Mat, len(out.DecoderHiddenStates))
			for i, s := range out.DecoderHiddenStates {
				states[i] = s.Seq(b)
			}
		}
		final, err := m.decodeRow(&x, &encRow, maskRow(in.AttentionMask, b), maskRow(in.DecoderAttentionMask, b), cache.rows[b], states)
		if err != nil {
			return err
		}
		for t := 0; t < final.R; t++ {
			m.lmLogits(out.Logits.Vec(b, t), final.Row(t))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if in.UseCache {
		out.PastKeyValues = cache
	}
	if in.Labels != nil {
		if out.Loss, err = crossEntropy(out.Logits, in.Labels); err != nil {
			return nil, err
		}
		out.HasLoss = true
	}
	return out, nil
}

// crossEntropy is the mean negative log-likelihood of labels under logits,
// skipping IgnoreIndex. It is NaN when every label is ignored.
func crossEntropy(logits *tensor.Batch, labels [][]int64) (float64, error) {
	var sum float64
	count := 0
	for b, row := range labels {
		for t, label := range row {
			if label == backbone.IgnoreIndex {
				continue
			}
			if label < 0 || label >= int64(logits.D) {
				return 0, fmt.Errorf("label %d outside vocabulary of %d", label, logits.D)
			}
			v := logits.Vec(b, t)
			sum += tensor.LogSumExp(v) - float64(v[label])
			count++
		}
	}
	if count == 0 {
		return math.NaN(), nil
	}
	return sum / float64(count), nil
}
