package nn

import (
	"fmt"
	"log/slog"

	"github.com/openfluke/branchnet/gpu"
)

// gpuState holds the device-resident copy of the network for one batch size.
type gpuState struct {
	batchSize int
	branches  [NumBranches]*gpu.DenseSequence
	head      *gpu.DenseSequence
}

func (s *gpuState) release() {
	for _, seq := range s.branches {
		if seq != nil {
			seq.Cleanup()
		}
	}
	if s.head != nil {
		s.head.Cleanup()
	}
}

func gpuActivation(act ActivationType) (int, error) {
	switch act {
	case ActivationNone:
		return gpu.ActNone, nil
	case ActivationLeakyReLU:
		return gpu.ActLeakyReLU, nil
	case ActivationSigmoid:
		return gpu.ActSigmoid, nil
	case ActivationTanh:
		return gpu.ActTanh, nil
	}
	return 0, fmt.Errorf("activation %s has no GPU kernel", act)
}

func gpuSpecs(layers []DenseLayer) ([]gpu.DenseLayerSpec, error) {
	specs := make([]gpu.DenseLayerSpec, len(layers))
	for i := range layers {
		l := &layers[i]
		act, err := gpuActivation(l.Activation)
		if err != nil {
			return nil, err
		}
		specs[i] = gpu.DenseLayerSpec{
			InputSize:  l.InputSize,
			OutputSize: l.OutputSize,
			Activation: act,
			Weights:    l.Weights,
			Biases:     l.Bias,
		}
	}
	return specs, nil
}

// InitGPU uploads the network to the GPU for batches of batchSize rows. Calling it again
// replaces the previous upload.
func (n *CombinedNetwork) InitGPU(batchSize int) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrBatchMismatch, batchSize)
	}
	if err := gpu.EnsureGPU(); err != nil {
		return fmt.Errorf("gpu: %w", err)
	}
	n.ReleaseGPU()

	state := &gpuState{batchSize: batchSize}
	for i, b := range n.Branches {
		specs, err := gpuSpecs(b.Layers)
		if err != nil {
			state.release()
			return fmt.Errorf("branch %q: %w", b.Name, err)
		}
		seq := gpu.NewDenseSequence(specs, batchSize)
		if err := seq.Build(fmt.Sprintf("module%d", i+1)); err != nil {
			state.release()
			return fmt.Errorf("branch %q: %w", b.Name, err)
		}
		state.branches[i] = seq
	}

	specs, err := gpuSpecs(n.Head.Layers)
	if err != nil {
		state.release()
		return fmt.Errorf("fusion head: %w", err)
	}
	state.head = gpu.NewDenseSequence(specs, batchSize)
	if err := state.head.Build("final"); err != nil {
		state.release()
		return fmt.Errorf("fusion head: %w", err)
	}

	n.gpu = state
	slog.Debug("network uploaded to gpu", "id", n.ID, "batch_size", batchSize)
	return nil
}

// GPUEnabled reports whether InitGPU has uploaded the current parameters.
func (n *CombinedNetwork) GPUEnabled() bool {
	return n.gpu != nil
}

// ForwardGPU runs the forward pass on the GPU. Branches run on the device, their outputs are
// concatenated on the host, and the fusion head runs on the device. The batch must match the
// size passed to InitGPU.
func (n *CombinedNetwork) ForwardGPU(x1, x2, x3, x4 *Tensor) (*ForwardResult, error) {
	if n.gpu == nil {
		return nil, fmt.Errorf("gpu not initialized, call InitGPU first")
	}
	inputs := [NumBranches]*Tensor{x1, x2, x3, x4}
	if err := n.checkInputs(inputs); err != nil {
		return nil, err
	}

	batch := x1.Rows
	result := &ForwardResult{}
	if batch == 0 {
		for i := range result.Branches {
			result.Branches[i] = NewTensor(0, 1)
		}
		result.Output = NewTensor(0, n.Head.Layers[len(n.Head.Layers)-1].OutputSize)
		return result, nil
	}
	if batch != n.gpu.batchSize {
		return nil, fmt.Errorf("%w: gpu initialized for batch %d, got %d", ErrBatchMismatch, n.gpu.batchSize, batch)
	}

	for i, seq := range n.gpu.branches {
		out, err := seq.Forward(inputs[i].Data)
		if err != nil {
			return nil, fmt.Errorf("branch %q: %w", n.Branches[i].Name, err)
		}
		t, err := NewTensorFromSlice(out, batch, n.Branches[i].OutputDim())
		if err != nil {
			return nil, err
		}
		result.Branches[i] = t
	}

	combined, err := ConcatColumns(result.Branches[:]...)
	if err != nil {
		return nil, err
	}
	out, err := n.gpu.head.Forward(combined.Data)
	if err != nil {
		return nil, fmt.Errorf("fusion head: %w", err)
	}
	result.Output, err = NewTensorFromSlice(out, batch, len(out)/batch)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReleaseGPU frees the device buffers. It is safe to call when the GPU was never initialized.
func (n *CombinedNetwork) ReleaseGPU() {
	if n.gpu == nil {
		return
	}
	n.gpu.release()
	n.gpu = nil
}

// syncGPU pushes the host parameters to an existing device copy. If the upload fails the device
// copy is released and the next ForwardGPU call reports that InitGPU is needed.
func (n *CombinedNetwork) syncGPU() {
	if n.gpu == nil {
		return
	}

	sync := func(seq *gpu.DenseSequence, layers []DenseLayer) error {
		for i, l := range seq.Layers {
			l.Spec.Weights = layers[i].Weights
			l.Spec.Biases = layers[i].Bias
		}
		return seq.UploadWeights()
	}

	var err error
	for i, seq := range n.gpu.branches {
		if err = sync(seq, n.Branches[i].Layers); err != nil {
			break
		}
	}
	if err == nil {
		err = sync(n.gpu.head, n.Head.Layers)
	}
	if err != nil {
		slog.Warn("failed to upload parameters, releasing gpu copy", "id", n.ID, "error", err)
		n.ReleaseGPU()
	}
}
