package tensor

import (
	"fmt"

	"github.com/samcharles93/sptune/internal/safetensors"
)

// LoadSafetensorsMat loads a 2D matrix from a Safetensors file.
func LoadSafetensorsMat(st *safetensors.File, name string) (*Mat, error) {
	data, info, err := st.ReadTensorF32(name)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) != 2 {
		return nil, fmt.Errorf("%s: expected 2D tensor, got shape %v", name, info.Shape)
	}
	r := info.Shape[0]
	c := info.Shape[1]
	if r*c != len(data) {
		return nil, fmt.Errorf("%s: size mismatch", name)
	}
	return &Mat{R: r, C: c, Stride: c, Data: data}, nil
}

// LoadSafetensorsVec loads a 1D vector from a Safetensors file as a
// single-row matrix.
func LoadSafetensorsVec(st *safetensors.File, name string) (*Mat, error) {
	data, info, err := st.ReadTensorF32(name)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) != 1 {
		return nil, fmt.Errorf("%s: expected 1D tensor, got shape %v", name, info.Shape)
	}
	return &Mat{R: 1, C: len(data), Stride: len(data), Data: data}, nil
}

// SafetensorsEntry converts m into a writer entry. Single-row matrices
// can be stored as vectors by passing asVec.
func SafetensorsEntry(name string, m *Mat, asVec bool) safetensors.Entry {
	shape := []int{m.R, m.C}
	if asVec {
		shape = []int{m.C}
	}
	data := m.Data
	if m.Stride != m.C {
		packed := m.Clone()
		data = packed.Data
	}
	return safetensors.Entry{Name: name, Shape: shape, Data: data}
}
