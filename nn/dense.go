package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/openfluke/branchnet/logutil"
)

// InitDenseLayer initializes a dense (fully-connected) layer
func InitDenseLayer(inputSize, outputSize int, activation ActivationType, rng *rand.Rand) DenseLayer {
	// PyTorch nn.Linear default: U(-1/sqrt(in), 1/sqrt(in)) for weights and biases
	bound := float32(1.0 / math.Sqrt(float64(inputSize)))

	weights := make([]float32, outputSize*inputSize)
	for i := range weights {
		weights[i] = (rng.Float32()*2 - 1) * bound
	}

	bias := make([]float32, outputSize)
	for i := range bias {
		bias[i] = (rng.Float32()*2 - 1) * bound
	}

	return DenseLayer{
		InputSize:  inputSize,
		OutputSize: outputSize,
		Activation: activation,
		Weights:    weights,
		Bias:       bias,
	}
}

// Forward computes act(input·Wᵀ + b).
// input: (batch, InputSize)
// output: (batch, OutputSize)
func (l *DenseLayer) Forward(input *Tensor) (*Tensor, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}
	if input.Cols != l.InputSize {
		return nil, fmt.Errorf("%w: dense layer expects %d inputs, got %d", ErrShapeMismatch, l.InputSize, input.Cols)
	}
	if len(input.Data) != input.Rows*input.Cols {
		return nil, fmt.Errorf("%w: tensor (%d, %d) holds %d values", ErrShapeMismatch, input.Rows, input.Cols, len(input.Data))
	}

	batchSize := input.Rows
	out := NewTensor(batchSize, l.OutputSize)
	if batchSize == 0 {
		return out, nil
	}

	// Seed every output row with the bias, then accumulate x·Wᵀ on top (beta = 1).
	for b := 0; b < batchSize; b++ {
		copy(out.Data[b*l.OutputSize:], l.Bias)
	}

	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: batchSize, Cols: l.InputSize, Stride: l.InputSize, Data: input.Data},
		blas32.General{Rows: l.OutputSize, Cols: l.InputSize, Stride: l.InputSize, Data: l.Weights},
		1,
		blas32.General{Rows: batchSize, Cols: l.OutputSize, Stride: l.OutputSize, Data: out.Data},
	)

	activateInPlace(out.Data, l.Activation)
	return out, nil
}

// validate checks the parameter slices against the declared sizes.
func (l *DenseLayer) validate() error {
	if l.InputSize <= 0 || l.OutputSize <= 0 {
		return fmt.Errorf("%w: dense layer %dx%d", ErrInvalidArchitecture, l.InputSize, l.OutputSize)
	}
	if len(l.Weights) != l.InputSize*l.OutputSize {
		return fmt.Errorf("%w: weights have %d values, expected %d", ErrShapeMismatch, len(l.Weights), l.InputSize*l.OutputSize)
	}
	if len(l.Bias) != l.OutputSize {
		return fmt.Errorf("%w: bias has %d values, expected %d", ErrShapeMismatch, len(l.Bias), l.OutputSize)
	}
	return nil
}

// forwardStack runs input through layers in order.
func forwardStack(layers []DenseLayer, input *Tensor) (*Tensor, error) {
	current := input
	for i := range layers {
		next, err := layers[i].Forward(current)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		logutil.Trace("dense layer forward", "layer", i, "batch", current.Rows,
			"in", layers[i].InputSize, "out", layers[i].OutputSize, "activation", layers[i].Activation)
		current = next
	}
	return current, nil
}
