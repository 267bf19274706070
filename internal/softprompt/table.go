package softprompt

import (
	"math/rand"

	"github.com/samcharles93/sptune/internal/safetensors"
	"github.com/samcharles93/sptune/internal/tensor"
)

const tableTensor = "soft_prompt.weight"

// Table holds the learnable (n_tokens, hidden_dim) prompt matrix of one side.
// Its row count decides how many prefix positions that side adds.
type Table struct {
	weight *tensor.Param
}

// NewTable creates a randomly initialized table. Values are drawn from
// U(-randomRange, randomRange) when randomRange is positive and from N(0, 1)
// otherwise.
func NewTable(nTokens, hiddenDim int, randomRange float32, rng *rand.Rand) (*Table, error) {
	if nTokens <= 0 {
		return nil, configErr("new_table", "n_tokens must be positive, got %d", nTokens)
	}
	if hiddenDim <= 0 {
		return nil, configErr("new_table", "hidden_dim must be positive, got %d", hiddenDim)
	}
	m := tensor.NewMat(nTokens, hiddenDim)
	if randomRange > 0 {
		tensor.FillUniform(&m, rng, randomRange)
	} else {
		tensor.FillNormal(&m, rng, 1)
	}
	return &Table{weight: tensor.NewParam(tableTensor, m, true)}, nil
}

// LoadTable reads a table saved by Table.Save or Side.Save. The stored row
// count becomes the table's n_tokens.
func LoadTable(path string) (*Table, error) {
	st, err := safetensors.Open(path)
	if err != nil {
		return nil, storageErr("load_table", err, "open %s", path)
	}
	return tableFrom(st)
}

func tableFrom(st *safetensors.File) (*Table, error) {
	info, ok := st.Tensor(tableTensor)
	if !ok {
		return nil, storageErr("load_table", nil, "%s: no %s tensor", st.Path, tableTensor)
	}
	if len(info.Shape) != 2 {
		return nil, storageErr("load_table", nil, "%s: %s has shape %v, want (n_tokens, hidden_dim)", st.Path, tableTensor, info.Shape)
	}
	m, err := tensor.LoadSafetensorsMat(st, tableTensor)
	if err != nil {
		return nil, storageErr("load_table", err, "%s", st.Path)
	}
	return &Table{weight: &tensor.Param{Name: tableTensor, Value: m, Trainable: true}}, nil
}

// Save writes the table alone to path.
func (t *Table) Save(path string) error {
	entries := []safetensors.Entry{tensor.SafetensorsEntry(tableTensor, t.weight.Value, false)}
	if err := safetensors.Write(path, entries, nil); err != nil {
		return storageErr("save_table", err, "write %s", path)
	}
	return nil
}

func (t *Table) NTokens() int   { return t.weight.Value.R }
func (t *Table) HiddenDim() int { return t.weight.Value.C }

// Weight exposes the parameter for an external optimizer.
func (t *Table) Weight() *tensor.Param { return t.weight }

// Lookup returns a copy of the rows at indices, in order.
func (t *Table) Lookup(indices []int) (*tensor.Mat, error) {
	w := t.weight.Value
	out := tensor.NewMat(len(indices), w.C)
	for i, idx := range indices {
		if idx < 0 || idx >= w.R {
			return nil, shapeErr("lookup", "index %d out of range [0, %d)", idx, w.R)
		}
		copy(out.Row(i), w.Row(idx))
	}
	return &out, nil
}
