package nn

import (
	"fmt"
	"math/rand"
)

// Branch reduces one feature vector per row to a single scalar.
type Branch struct {
	Name     string
	InputDim int
	Layers   []DenseLayer
}

// NewBranch builds the dense stack declared by spec, e.g. widths [32, 8, 1] over input_dim 5 gives
// 5 → 32 → 8 → 1, every layer using spec.Activation.
func NewBranch(spec BranchSpec, rng *rand.Rand) (*Branch, error) {
	if spec.InputDim <= 0 || len(spec.Widths) == 0 {
		return nil, fmt.Errorf("%w: branch %q input_dim %d widths %v", ErrInvalidArchitecture, spec.Name, spec.InputDim, spec.Widths)
	}

	layers := make([]DenseLayer, len(spec.Widths))
	in := spec.InputDim
	for i, out := range spec.Widths {
		layers[i] = InitDenseLayer(in, out, spec.Activation, rng)
		in = out
	}

	return &Branch{
		Name:     spec.Name,
		InputDim: spec.InputDim,
		Layers:   layers,
	}, nil
}

// OutputDim returns the width of the last layer.
func (b *Branch) OutputDim() int {
	return b.Layers[len(b.Layers)-1].OutputSize
}

// Forward maps (batch, InputDim) to (batch, 1).
func (b *Branch) Forward(input *Tensor) (*Tensor, error) {
	if input.Cols != b.InputDim {
		return nil, fmt.Errorf("%w: branch %q expects %d features, got %d", ErrShapeMismatch, b.Name, b.InputDim, input.Cols)
	}
	out, err := forwardStack(b.Layers, input)
	if err != nil {
		return nil, fmt.Errorf("branch %q: %w", b.Name, err)
	}
	return out, nil
}

// NumParameters returns the parameter count over all layers.
func (b *Branch) NumParameters() int {
	total := 0
	for i := range b.Layers {
		total += b.Layers[i].NumParameters()
	}
	return total
}
