package t5

import "github.com/samcharles93/sptune/internal/tensor"

// kvRows is an append-only (n, width) key or value buffer.
type kvRows struct {
	width int
	data  []float32
}

func (r *kvRows) rows() int { return len(r.data) / r.width }

func (r *kvRows) append(m *tensor.Mat) {
	for i := 0; i < m.R; i++ {
		r.data = append(r.data, m.Row(i)...)
	}
}

func (r *kvRows) mat() tensor.Mat {
	return tensor.NewMatFromData(r.rows(), r.width, r.data)
}

type layerCache struct {
	selfK, selfV kvRows
	// Cross-attention keys and values depend only on the encoder output
	// and are computed once.
	crossK, crossV *tensor.Mat
}

// rowCache is the decoder state of one sequence.
type rowCache struct {
	layers []layerCache
	length int
}

func (m *Model) newRowCache() *rowCache {
	inner := m.cfg.InnerDim()
	rc := &rowCache{layers: make([]layerCache, len(m.decoder))}
	for i := range rc.layers {
		rc.layers[i].selfK.width = inner
		rc.layers[i].selfV.width = inner
	}
	return rc
}

// Cache holds decoder keys and values for every row of a batch. It is
// returned in ForwardOutput.PastKeyValues when UseCache is set and may be
// passed back to continue decoding.
type Cache struct {
	rows []*rowCache
}

// Len is the number of decoder positions already processed.
func (c *Cache) Len() int {
	if c == nil || len(c.rows) == 0 {
		return 0
	}
	return c.rows[0].length
}

// Rows is the batch size the cache was built for.
func (c *Cache) Rows() int {
	if c == nil {
		return 0
	}
	return len(c.rows)
}
