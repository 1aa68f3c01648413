package nn

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// CombinedNetwork owns the four branches and the fusion head.
type CombinedNetwork struct {
	ID           string
	Architecture Architecture
	Branches     [NumBranches]*Branch
	Head         *FusionHead

	gpu *gpuState
}

type options struct {
	rng *rand.Rand
	id  string
}

// Option configures network construction.
type Option func(*options)

// WithSeed seeds parameter initialization so construction is reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.rng = rand.New(rand.NewSource(seed))
	}
}

// WithRand draws initial parameters from rng.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) {
		o.rng = rng
	}
}

// WithID sets the model identifier; a random UUID is used otherwise.
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// New builds the default architecture over the four branch input widths.
func New(dim1, dim2, dim3, dim4 int, opts ...Option) (*CombinedNetwork, error) {
	return NewCombinedNetwork(DefaultArchitecture(dim1, dim2, dim3, dim4), opts...)
}

// NewCombinedNetwork builds a network from arch with freshly initialized parameters.
func NewCombinedNetwork(arch Architecture, opts ...Option) (*CombinedNetwork, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	if err := arch.resolve(); err != nil {
		return nil, err
	}
	if err := arch.Validate(); err != nil {
		return nil, err
	}

	n := &CombinedNetwork{
		ID:           o.id,
		Architecture: arch,
	}
	for i, spec := range arch.Branches {
		b, err := NewBranch(spec, o.rng)
		if err != nil {
			return nil, fmt.Errorf("branch %d: %w", i+1, err)
		}
		n.Branches[i] = b
	}

	head, err := NewFusionHead(arch.Head, o.rng)
	if err != nil {
		return nil, err
	}
	n.Head = head

	slog.Debug("network created", "id", n.ID, "input_dims", arch.InputDims(), "parameters", n.NumParameters())
	return n, nil
}

// NumParameters returns the total parameter count.
func (n *CombinedNetwork) NumParameters() int {
	total := n.Head.NumParameters()
	for _, b := range n.Branches {
		total += b.NumParameters()
	}
	return total
}

// checkInputs verifies each input width against its branch and that all batches agree.
func (n *CombinedNetwork) checkInputs(inputs [NumBranches]*Tensor) error {
	for i, x := range inputs {
		if x == nil {
			return fmt.Errorf("%w: input %d is nil", ErrShapeMismatch, i+1)
		}
		if x.Cols != n.Branches[i].InputDim {
			return fmt.Errorf("%w: input %d has %d features, branch %q expects %d",
				ErrShapeMismatch, i+1, x.Cols, n.Branches[i].Name, n.Branches[i].InputDim)
		}
		if x.Rows != inputs[0].Rows {
			return fmt.Errorf("%w: input %d has %d rows, input 1 has %d", ErrBatchMismatch, i+1, x.Rows, inputs[0].Rows)
		}
	}
	return nil
}

// Forward runs one synchronous forward pass. It returns the fusion head prediction and each
// branch's scalar output, all shaped (batch, 1).
func (n *CombinedNetwork) Forward(x1, x2, x3, x4 *Tensor) (*ForwardResult, error) {
	inputs := [NumBranches]*Tensor{x1, x2, x3, x4}
	if err := n.checkInputs(inputs); err != nil {
		return nil, err
	}

	result := &ForwardResult{}
	for i, b := range n.Branches {
		out, err := b.Forward(inputs[i])
		if err != nil {
			return nil, err
		}
		result.Branches[i] = out
	}
	return n.fuse(result)
}

// ForwardContext is Forward with the four branches evaluated concurrently. Branches share no
// state, so the result is identical to Forward.
func (n *CombinedNetwork) ForwardContext(ctx context.Context, x1, x2, x3, x4 *Tensor) (*ForwardResult, error) {
	inputs := [NumBranches]*Tensor{x1, x2, x3, x4}
	if err := n.checkInputs(inputs); err != nil {
		return nil, err
	}

	result := &ForwardResult{}
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range n.Branches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := b.Forward(inputs[i])
			if err != nil {
				return err
			}
			result.Branches[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return n.fuse(result)
}

// fuse concatenates the branch outputs in branch order and runs the head.
func (n *CombinedNetwork) fuse(result *ForwardResult) (*ForwardResult, error) {
	combined, err := ConcatColumns(result.Branches[:]...)
	if err != nil {
		return nil, err
	}
	out, err := n.Head.Forward(combined)
	if err != nil {
		return nil, err
	}
	result.Output = out
	return result, nil
}
