package tensor

import (
	"math"
	"testing"
)

func matVecNaive(dst []float32, w *Mat, x []float32) {
	for i := 0; i < w.R; i++ {
		dst[i] = Dot(w.Row(i), x[:w.C])
	}
}

func closeEnough(a, b float32, rel float64) bool {
	diff := math.Abs(float64(a - b))
	scale := math.Max(1, math.Max(math.Abs(float64(a)), math.Abs(float64(b))))
	return diff <= rel*scale
}

func TestMatVecMatchesNaive(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ r, c int }{
		{1, 1}, {3, 5}, {17, 9}, {minParallelRows + 3, 31}, {1024, 64},
	} {
		w := NewMat(tc.r, tc.c)
		FillRand(&w, int64(tc.r*7+tc.c))
		x := make([]float32, tc.c)
		for i := range x {
			x[i] = float32(i%5) - 2
		}
		got := make([]float32, tc.r)
		want := make([]float32, tc.r)
		MatVec(got, &w, x)
		matVecNaive(want, &w, x)
		for i := range got {
			if !closeEnough(got[i], want[i], 1e-5) {
				t.Fatalf("%dx%d row %d: got %v want %v", tc.r, tc.c, i, got[i], want[i])
			}
		}
	}
}

// Every row is computed by exactly one goroutine with the same arithmetic,
// so the number of blocks must not change a single bit.
func TestMatVecSplitIndependentOfParts(t *testing.T) {
	t.Parallel()
	w := NewMat(97, 48)
	FillRand(&w, 3)
	x := make([]float32, 48)
	for i := range x {
		x[i] = float32(i) / 48
	}
	want := make([]float32, w.R)
	MatVecSplit(want, &w, x, 1)
	for _, parts := range []int{2, 3, 7, 96, 97, 500} {
		got := make([]float32, w.R)
		MatVecSplit(got, &w, x, parts)
		for i := range got {
			if math.Float32bits(got[i]) != math.Float32bits(want[i]) {
				t.Fatalf("parts=%d row %d: %v vs %v", parts, i, got[i], want[i])
			}
		}
	}
}

func TestMatVecIgnoresExtraInput(t *testing.T) {
	t.Parallel()
	w := NewMatFromData(2, 2, []float32{1, 2, 3, 4})
	dst := make([]float32, 3)
	MatVec(dst, &w, []float32{1, 1, 100})
	if dst[0] != 3 || dst[1] != 7 || dst[2] != 0 {
		t.Fatalf("unexpected result %v", dst)
	}
}

func TestMatVecShapeMismatchPanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for short input vector")
		}
	}()
	w := NewMat(2, 4)
	MatVec(make([]float32, 2), &w, make([]float32, 3))
}

func BenchmarkMatVecNaive(b *testing.B) {
	w := NewMat(2048, 2048)
	x := make([]float32, 2048)
	dst := make([]float32, 2048)
	FillRand(&w, 1)

	for b.Loop() {
		matVecNaive(dst, &w, x)
	}
}

func BenchmarkMatVec(b *testing.B) {
	w := NewMat(2048, 2048)
	x := make([]float32, 2048)
	dst := make([]float32, 2048)
	FillRand(&w, 1)

	for b.Loop() {
		MatVec(dst, &w, x)
	}
}
