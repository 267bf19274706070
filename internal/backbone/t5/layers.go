package t5

import (
	"math"

	"github.com/samcharles93/sptune/internal/tensor"
)

// maskBias is added to attention scores of masked positions.
const maskBias = -1e9

// relativeBucket maps a key-minus-query distance to a bias bucket. Half the
// buckets cover exact small distances and the rest grow logarithmically up
// to maxDistance. Bidirectional buckets split by sign; causal buckets only
// see the past.
func relativeBucket(rel int, bidirectional bool, numBuckets, maxDistance int) int {
	bucket := 0
	if bidirectional {
		numBuckets /= 2
		if rel > 0 {
			bucket += numBuckets
		}
		if rel < 0 {
			rel = -rel
		}
	} else {
		rel = -min(rel, 0)
	}
	maxExact := numBuckets / 2
	if rel < maxExact {
		return bucket + rel
	}
	if maxExact <= 0 || maxDistance <= maxExact {
		return bucket + min(rel, numBuckets-1)
	}
	large := maxExact + int(math.Log(float64(rel)/float64(maxExact))/
		math.Log(float64(maxDistance)/float64(maxExact))*float64(numBuckets-maxExact))
	return bucket + min(large, numBuckets-1)
}

// project applies w to every row of x, giving (x.R, w.R).
func project(w *tensor.Param, x *tensor.Mat) tensor.Mat {
	out := tensor.NewMat(x.R, w.Value.R)
	for i := 0; i < x.R; i++ {
		tensor.MatVec(out.Row(i), w.Value, x.Row(i))
	}
	return out
}

func (m *Model) normRows(norm *tensor.Param, x *tensor.Mat) tensor.Mat {
	out := tensor.NewMat(x.R, x.C)
	eps := float32(m.cfg.LayerNormEpsilon)
	for i := 0; i < x.R; i++ {
		tensor.RMSNorm(out.Row(i), x.Row(i), norm.Vec(), eps)
	}
	return out
}

func addRows(dst, src *tensor.Mat) {
	for i := 0; i < dst.R; i++ {
		tensor.Add(dst.Row(i), src.Row(i))
	}
}

// attend runs unscaled multi-head attention of q (Tq, inner) over k and v
// (Tk, inner). bias supplies the additive score term for head h, query i and
// key j.
func (m *Model) attend(q, k, v *tensor.Mat, bias func(h, i, j int) float32) tensor.Mat {
	heads, dk := m.cfg.NumHeads, m.cfg.DKV
	out := tensor.NewMat(q.R, heads*dk)
	scores := make([]float32, k.R)
	for i := 0; i < q.R; i++ {
		qi, oi := q.Row(i), out.Row(i)
		for h := 0; h < heads; h++ {
			lo, hi := h*dk, (h+1)*dk
			qh := qi[lo:hi]
			for j := 0; j < k.R; j++ {
				scores[j] = tensor.Dot(qh, k.Row(j)[lo:hi]) + bias(h, i, j)
			}
			tensor.Softmax(scores)
			oh := oi[lo:hi]
			for j := 0; j < k.R; j++ {
				p := scores[j]
				vh := v.Row(j)[lo:hi]
				for c := range oh {
					oh[c] += p * vh[c]
				}
			}
		}
	}
	return out
}

// feedForward applies the block's dense layers to every row of x.
func (m *Model) feedForward(f *feedForward, x *tensor.Mat) tensor.Mat {
	out := tensor.NewMat(x.R, m.cfg.DModel)
	hidden := make([]float32, m.cfg.DFF)
	var gate []float32
	if m.gated {
		gate = make([]float32, m.cfg.DFF)
	}
	for i := 0; i < x.R; i++ {
		row := x.Row(i)
		if m.gated {
			tensor.MatVec(gate, f.wi0.Value, row)
			m.activate(gate)
			tensor.MatVec(hidden, f.wi1.Value, row)
			for j := range hidden {
				hidden[j] *= gate[j]
			}
		} else {
			tensor.MatVec(hidden, f.wi.Value, row)
			m.activate(hidden)
		}
		tensor.MatVec(out.Row(i), f.wo.Value, hidden)
	}
	return out
}

func (m *Model) activate(x []float32) {
	if m.relu {
		tensor.ReLU(x)
		return
	}
	tensor.GeluNew(x)
}

// lmLogits writes the vocabulary scores for one final decoder state.
func (m *Model) lmLogits(dst, h []float32) {
	if m.lmHead != nil {
		tensor.MatVec(dst, m.lmHead.Value, h)
		return
	}
	scaled := make([]float32, len(h))
	copy(scaled, h)
	tensor.Scale(scaled, float32(1/math.Sqrt(float64(m.cfg.DModel))))
	tensor.MatVec(dst, m.shared.Value, scaled)
}

// padBias returns the additive bias for each key position of mask. A nil
// mask attends everywhere.
func padBias(mask []int64, n int) []float32 {
	out := make([]float32, n)
	if mask == nil {
		return out
	}
	for j := range out {
		if mask[j] == 0 {
			out[j] = maskBias
		}
	}
	return out
}
