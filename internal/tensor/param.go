package tensor

// Param is a named weight matrix. Vectors (biases, norm scales) are stored
// as single-row matrices.
//
// Trainable marks whether an external optimizer may update Value. Nothing
// in this module performs gradient updates itself.
type Param struct {
	Name      string
	Value     *Mat
	Trainable bool
}

// NewParam wraps m under name.
func NewParam(name string, m Mat, trainable bool) *Param {
	return &Param{Name: name, Value: &m, Trainable: trainable}
}

// Shape returns the (rows, cols) of the parameter.
func (p *Param) Shape() [2]int {
	return [2]int{p.Value.R, p.Value.C}
}

// Vec returns the first row, for parameters that hold a vector.
func (p *Param) Vec() []float32 {
	return p.Value.Row(0)
}

// NumElements returns the total element count over params.
func NumElements(params []*Param) int {
	n := 0
	for _, p := range params {
		n += p.Value.R * p.Value.C
	}
	return n
}

// CountTrainable returns how many of params are marked trainable.
func CountTrainable(params []*Param) int {
	n := 0
	for _, p := range params {
		if p.Trainable {
			n++
		}
	}
	return n
}
