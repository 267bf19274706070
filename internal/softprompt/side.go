package softprompt

import (
	"strconv"

	"github.com/samcharles93/sptune/internal/safetensors"
	"github.com/samcharles93/sptune/internal/tensor"
)

// CheckpointFormat is recorded in the metadata of every saved side.
const CheckpointFormat = "sptune-softprompt/v1"

const (
	SideEncoder = "encoder"
	SideDecoder = "decoder"
)

// Side pairs a prompt table with the generator that consumes it. A side only
// ever feeds its own table into its own generator.
type Side struct {
	name    string
	table   *Table
	gen     *Generator
	indices []int
}

func newSide(name string, table *Table, gen *Generator) *Side {
	indices := make([]int, table.NTokens())
	for i := range indices {
		indices[i] = i
	}
	return &Side{name: name, table: table, gen: gen, indices: indices}
}

func (s *Side) Name() string          { return s.name }
func (s *Side) NTokens() int          { return s.table.NTokens() }
func (s *Side) Table() *Table         { return s.table }
func (s *Side) Generator() *Generator { return s.gen }

// Indices returns a copy of the fixed index sequence 0..n_tokens-1.
func (s *Side) Indices() []int {
	return append([]int(nil), s.indices...)
}

// Prompt computes the (n_tokens, emb_dim) prompt block for this call.
func (s *Side) Prompt() (*tensor.Mat, error) {
	rows, err := s.table.Lookup(s.indices)
	if err != nil {
		return nil, err
	}
	return s.gen.Generate(rows)
}

// Params returns the table weight followed by the generator parameters.
func (s *Side) Params() []*tensor.Param {
	return append([]*tensor.Param{s.table.Weight()}, s.gen.Params()...)
}

// Save writes the table and generator of this side to one checkpoint.
func (s *Side) Save(path string) error {
	entries := append([]safetensors.Entry{
		tensor.SafetensorsEntry(tableTensor, s.table.Weight().Value, false),
	}, s.gen.entries()...)
	meta := map[string]string{
		"side":       s.name,
		"n_tokens":   strconv.Itoa(s.table.NTokens()),
		"hidden_dim": strconv.Itoa(s.table.HiddenDim()),
		"emb_dim":    strconv.Itoa(s.gen.OutputDim()),
		"format":     CheckpointFormat,
	}
	if err := safetensors.Write(path, entries, meta); err != nil {
		return storageErr("save_side", err, "write %s", path)
	}
	return nil
}
