package tensor

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minParallelRows is the row count below which MatVec stays on the calling
// goroutine. Prompt generators and attention projections of small models
// are below it; vocabulary projections are not.
const minParallelRows = 256

// MatVec computes dst = w·x. Matrices with at least minParallelRows rows are
// split into contiguous row blocks evaluated concurrently. It panics when
// dst or x is shorter than w requires.
func MatVec(dst []float32, w *Mat, x []float32) {
	if w.R == 0 || w.C == 0 {
		return
	}
	if len(dst) < w.R || len(x) < w.C {
		panic("matvec shape mismatch")
	}
	parts := 1
	if w.R >= minParallelRows {
		parts = min(runtime.GOMAXPROCS(0), w.R/(minParallelRows/4))
	}
	MatVecSplit(dst, w, x, parts)
}

// MatVecSplit is MatVec with an explicit number of row blocks. parts <= 1
// runs serially. The result does not depend on parts.
func MatVecSplit(dst []float32, w *Mat, x []float32, parts int) {
	if parts <= 1 || w.R < 2 {
		dotRows(dst, w, x, 0, w.R)
		return
	}
	parts = min(parts, w.R)
	chunk := (w.R + parts - 1) / parts
	var g errgroup.Group
	for rs := 0; rs < w.R; rs += chunk {
		re := min(rs+chunk, w.R)
		g.Go(func() error {
			dotRows(dst, w, x, rs, re)
			return nil
		})
	}
	_ = g.Wait()
}

// dotRows fills dst[rs:re] with the dot products of the matching rows of w
// and x, unrolled by four.
func dotRows(dst []float32, w *Mat, x []float32, rs, re int) {
	x = x[:w.C]
	for i := rs; i < re; i++ {
		row := w.Data[i*w.Stride : i*w.Stride+w.C]
		var s0, s1, s2, s3 float32
		j := 0
		for ; j+3 < len(row); j += 4 {
			s0 += row[j] * x[j]
			s1 += row[j+1] * x[j+1]
			s2 += row[j+2] * x[j+2]
			s3 += row[j+3] * x[j+3]
		}
		sum := (s0 + s1) + (s2 + s3)
		for ; j < len(row); j++ {
			sum += row[j] * x[j]
		}
		dst[i] = sum
	}
}
