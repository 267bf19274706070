package tensor

import "fmt"

// Batch is a dense (N, T, D) block of float32 activations: N sequences of
// T positions, each a D-wide vector. Data is packed row-major with the
// position axis in the middle.
type Batch struct {
	N, T, D int
	Data    []float32
}

// NewBatch allocates a zeroed batch.
func NewBatch(n, t, d int) *Batch {
	if n < 0 || t < 0 || d < 0 {
		panic("negative dimension for batch")
	}
	return &Batch{N: n, T: t, D: d, Data: make([]float32, n*t*d)}
}

// Validate reports a descriptive error when the header disagrees with the
// backing slice.
func (b *Batch) Validate() error {
	if b == nil {
		return fmt.Errorf("nil batch")
	}
	if b.N < 0 || b.T < 0 || b.D < 0 {
		return fmt.Errorf("negative batch dimension (%d, %d, %d)", b.N, b.T, b.D)
	}
	if len(b.Data) != b.N*b.T*b.D {
		return fmt.Errorf("batch data length %d does not match shape (%d, %d, %d)", len(b.Data), b.N, b.T, b.D)
	}
	return nil
}

// Shape returns (N, T, D).
func (b *Batch) Shape() [3]int {
	return [3]int{b.N, b.T, b.D}
}

// Vec returns a view of position t of sequence i.
func (b *Batch) Vec(i, t int) []float32 {
	if i < 0 || i >= b.N || t < 0 || t >= b.T {
		panic("batch index out of range")
	}
	start := (i*b.T + t) * b.D
	return b.Data[start : start+b.D]
}

// Seq returns sequence i as a (T, D) matrix view sharing b's storage.
func (b *Batch) Seq(i int) Mat {
	if i < 0 || i >= b.N {
		panic("batch index out of range")
	}
	start := i * b.T * b.D
	return Mat{R: b.T, C: b.D, Stride: b.D, Data: b.Data[start : start+b.T*b.D]}
}

// Ones returns an (n, t) grid filled with 1.
func Ones(n, t int) [][]int64 {
	return Full(n, t, 1)
}

// Full returns an (n, t) grid filled with v.
func Full(n, t int, v int64) [][]int64 {
	out := make([][]int64, n)
	for i := range out {
		row := make([]int64, t)
		for j := range row {
			row[j] = v
		}
		out[i] = row
	}
	return out
}

// GridWidth returns the shared row length of grid, or an error when rows are
// ragged. An empty grid has width 0.
func GridWidth(grid [][]int64) (int, error) {
	if len(grid) == 0 {
		return 0, nil
	}
	w := len(grid[0])
	for i, row := range grid {
		if len(row) != w {
			return 0, fmt.Errorf("row %d has length %d, want %d", i, len(row), w)
		}
	}
	return w, nil
}
