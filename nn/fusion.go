package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// FusionHead combines the concatenated branch scalars into the final prediction.
type FusionHead struct {
	Layers           []DenseLayer
	OutputActivation ActivationType
}

// NewFusionHead builds NumBranches → widths[0] → ... → widths[n-1]. Hidden layers use
// spec.Activation; spec.OutputActivation is applied after the last layer.
func NewFusionHead(spec HeadSpec, rng *rand.Rand) (*FusionHead, error) {
	if len(spec.Widths) == 0 {
		return nil, fmt.Errorf("%w: head has no layers", ErrInvalidArchitecture)
	}

	layers := make([]DenseLayer, len(spec.Widths))
	in := NumBranches
	for i, out := range spec.Widths {
		layers[i] = InitDenseLayer(in, out, spec.Activation, rng)
		in = out
	}
	// the last layer's own activation is replaced by OutputActivation
	layers[len(layers)-1].Activation = spec.OutputActivation

	return &FusionHead{
		Layers:           layers,
		OutputActivation: spec.OutputActivation,
	}, nil
}

// Forward maps (batch, NumBranches) to (batch, 1).
func (h *FusionHead) Forward(input *Tensor) (*Tensor, error) {
	if input.Cols != NumBranches {
		return nil, fmt.Errorf("%w: fusion head expects %d inputs, got %d", ErrShapeMismatch, NumBranches, input.Cols)
	}
	out, err := forwardStack(h.Layers, input)
	if err != nil {
		return nil, fmt.Errorf("fusion head: %w", err)
	}
	return out, nil
}

// NumParameters returns the parameter count over all layers.
func (h *FusionHead) NumParameters() int {
	total := 0
	for i := range h.Layers {
		total += h.Layers[i].NumParameters()
	}
	return total
}

// AffineMap is y = Weights·x + Bias for a single output.
type AffineMap struct {
	Weights []float64 // one coefficient per branch, in branch order
	Bias    float64
}

// Apply evaluates the map on one row.
func (m *AffineMap) Apply(x []float32) float64 {
	y := m.Bias
	for i, w := range m.Weights {
		y += w * float64(x[i])
	}
	return y
}

// Collapse composes the head's affine layers into the single equivalent map
// W = Wn···W2·W1, b = Wn(···(W2·b1 + b2)···) + bn.
// It fails with ErrNotAffine when any layer carries a nonlinearity.
func (h *FusionHead) Collapse() (*AffineMap, error) {
	for i := range h.Layers {
		if h.Layers[i].Activation != ActivationNone {
			return nil, fmt.Errorf("%w: layer %d uses %s", ErrNotAffine, i, h.Layers[i].Activation)
		}
	}

	first := &h.Layers[0]
	w := denseToMat(first.Weights, first.OutputSize, first.InputSize)
	b := mat.NewVecDense(first.OutputSize, toFloat64(first.Bias))

	for i := 1; i < len(h.Layers); i++ {
		l := &h.Layers[i]
		li := denseToMat(l.Weights, l.OutputSize, l.InputSize)

		var nw mat.Dense
		nw.Mul(li, w)
		w = &nw

		var nb mat.VecDense
		nb.MulVec(li, b)
		nb.AddVec(&nb, mat.NewVecDense(l.OutputSize, toFloat64(l.Bias)))
		b = &nb
	}

	if rows, _ := w.Dims(); rows != 1 {
		return nil, fmt.Errorf("%w: head output width %d", ErrShapeMismatch, rows)
	}
	return &AffineMap{
		Weights: mat.Row(nil, 0, w),
		Bias:    b.AtVec(0),
	}, nil
}

func denseToMat(data []float32, rows, cols int) *mat.Dense {
	return mat.NewDense(rows, cols, toFloat64(data))
}

func toFloat64(src []float32) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out
}
