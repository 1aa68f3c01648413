package nn

import (
	"errors"
)

// ActivationType defines the activation function used in a layer
type ActivationType int

const (
	ActivationNone      ActivationType = 0 // identity
	ActivationLeakyReLU ActivationType = 1 // v if v >= 0, else v * 0.01
	ActivationSigmoid   ActivationType = 2 // 1 / (1 + exp(-v))
	ActivationTanh      ActivationType = 3 // tanh(v)
)

// LeakySlope is the negative-side coefficient of ActivationLeakyReLU.
const LeakySlope float32 = 0.01

// NumBranches is the number of branch stacks feeding the fusion head.
const NumBranches = 4

var (
	ErrShapeMismatch       = errors.New("shape mismatch")
	ErrBatchMismatch       = errors.New("batch size mismatch")
	ErrInvalidArchitecture = errors.New("invalid architecture")
	ErrUnknownParameter    = errors.New("unknown parameter")
	ErrMissingParameter    = errors.New("missing parameter")
	ErrNotAffine           = errors.New("fusion head is not affine")
	ErrUnsupportedDType    = errors.New("unsupported dtype")
)

// DenseLayer is a fully-connected layer y = act(x·Wᵀ + b).
//
// Weights are stored row-major as [OutputSize][InputSize], the same layout PyTorch uses for
// nn.Linear, so state dicts move between the two without transposition.
type DenseLayer struct {
	InputSize  int
	OutputSize int
	Activation ActivationType
	Weights    []float32 // [OutputSize * InputSize]
	Bias       []float32 // [OutputSize]
}

// NumParameters returns the number of weights plus biases.
func (l *DenseLayer) NumParameters() int {
	return len(l.Weights) + len(l.Bias)
}

// ForwardResult holds everything one forward pass produces.
type ForwardResult struct {
	Output   *Tensor              // fusion head prediction, (batch, 1)
	Branches [NumBranches]*Tensor // per-branch scalars, each (batch, 1)
}
