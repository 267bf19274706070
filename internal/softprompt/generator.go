package softprompt

import (
	"math"
	"math/rand"

	"github.com/samcharles93/sptune/internal/safetensors"
	"github.com/samcharles93/sptune/internal/tensor"
)

// Checkpoint names follow the Sequential(Linear, ReLU, Linear, Tanh) layout,
// so indices 1 and 3 are the parameter-free activations.
const (
	genW1 = "generator.0.weight"
	genB1 = "generator.0.bias"
	genW2 = "generator.2.weight"
	genB2 = "generator.2.bias"
)

// Generator projects prompt table rows into the backbone embedding space:
// tanh(W2·relu(W1·x + b1) + b2).
type Generator struct {
	w1, b1 *tensor.Param // (hidden, hidden), (1, hidden)
	w2, b2 *tensor.Param // (emb, hidden), (1, emb)
}

// NewGenerator initializes both layers from U(-1/sqrt(fan_in), 1/sqrt(fan_in)).
func NewGenerator(hiddenDim, embDim int, rng *rand.Rand) (*Generator, error) {
	if hiddenDim <= 0 || embDim <= 0 {
		return nil, configErr("new_generator", "dimensions must be positive, got hidden=%d emb=%d", hiddenDim, embDim)
	}
	bound := float32(1 / math.Sqrt(float64(hiddenDim)))
	layer := func(name string, r, c int) *tensor.Param {
		m := tensor.NewMat(r, c)
		tensor.FillUniform(&m, rng, bound)
		return tensor.NewParam(name, m, true)
	}
	return &Generator{
		w1: layer(genW1, hiddenDim, hiddenDim),
		b1: layer(genB1, 1, hiddenDim),
		w2: layer(genW2, embDim, hiddenDim),
		b2: layer(genB2, 1, embDim),
	}, nil
}

// hasGenerator reports whether st carries generator tensors.
func hasGenerator(st *safetensors.File) bool {
	_, ok := st.Tensor(genW1)
	return ok
}

func generatorFrom(st *safetensors.File) (*Generator, error) {
	load := func(name string, vec bool) (*tensor.Param, error) {
		var (
			m   *tensor.Mat
			err error
		)
		if vec {
			m, err = tensor.LoadSafetensorsVec(st, name)
		} else {
			m, err = tensor.LoadSafetensorsMat(st, name)
		}
		if err != nil {
			return nil, storageErr("load_generator", err, "%s", st.Path)
		}
		return &tensor.Param{Name: name, Value: m, Trainable: true}, nil
	}
	g := &Generator{}
	var err error
	if g.w1, err = load(genW1, false); err != nil {
		return nil, err
	}
	if g.b1, err = load(genB1, true); err != nil {
		return nil, err
	}
	if g.w2, err = load(genW2, false); err != nil {
		return nil, err
	}
	if g.b2, err = load(genB2, true); err != nil {
		return nil, err
	}
	h := g.w1.Value.C
	if g.w1.Value.R != h || g.b1.Value.C != h || g.w2.Value.C != h || g.b2.Value.C != g.w2.Value.R {
		return nil, storageErr("load_generator", nil, "%s: inconsistent generator shapes w1=%v b1=%v w2=%v b2=%v",
			st.Path, g.w1.Shape(), g.b1.Shape(), g.w2.Shape(), g.b2.Shape())
	}
	return g, nil
}

func (g *Generator) HiddenDim() int { return g.w1.Value.C }

// OutputDim is the embedding width the generator produces.
func (g *Generator) OutputDim() int { return g.w2.Value.R }

// Params returns the four layer parameters in checkpoint order.
func (g *Generator) Params() []*tensor.Param {
	return []*tensor.Param{g.w1, g.b1, g.w2, g.b2}
}

func (g *Generator) entries() []safetensors.Entry {
	return []safetensors.Entry{
		tensor.SafetensorsEntry(genW1, g.w1.Value, false),
		tensor.SafetensorsEntry(genB1, g.b1.Value, true),
		tensor.SafetensorsEntry(genW2, g.w2.Value, false),
		tensor.SafetensorsEntry(genB2, g.b2.Value, true),
	}
}

// Generate maps each row of x to the embedding space. It reads only the
// frozen parameters, so equal inputs give bit-identical outputs.
func (g *Generator) Generate(x *tensor.Mat) (*tensor.Mat, error) {
	if x.C != g.HiddenDim() {
		return nil, shapeErr("generate", "input width %d, want %d", x.C, g.HiddenDim())
	}
	out := tensor.NewMat(x.R, g.OutputDim())
	hidden := make([]float32, g.HiddenDim())
	for i := 0; i < x.R; i++ {
		tensor.Linear(hidden, g.w1.Value, g.b1.Vec(), x.Row(i))
		tensor.ReLU(hidden)
		row := out.Row(i)
		tensor.Linear(row, g.w2.Value, g.b2.Vec(), hidden)
		tensor.Tanh(row)
	}
	return &out, nil
}
