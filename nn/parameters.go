package nn

import (
	"fmt"
	"slices"
)

// TensorWithShape is a named parameter as stored on disk.
type TensorWithShape struct {
	DType  string
	Shape  []int
	Values []float32
}

// parameterRef points a state-dict name at the slice it reads from and writes to.
type parameterRef struct {
	name  string
	shape []int
	data  *[]float32
}

// parameterRefs lists every parameter in state-dict order, using the PyTorch naming
// module{i}.fc{j}.{weight,bias} for branches and final_fc{j}.{weight,bias} for the head.
func (n *CombinedNetwork) parameterRefs() []parameterRef {
	var refs []parameterRef
	add := func(prefix string, l *DenseLayer) {
		refs = append(refs,
			parameterRef{name: prefix + ".weight", shape: []int{l.OutputSize, l.InputSize}, data: &l.Weights},
			parameterRef{name: prefix + ".bias", shape: []int{l.OutputSize}, data: &l.Bias},
		)
	}

	for i, b := range n.Branches {
		for j := range b.Layers {
			add(fmt.Sprintf("module%d.fc%d", i+1, j+1), &b.Layers[j])
		}
	}
	for j := range n.Head.Layers {
		add(fmt.Sprintf("final_fc%d", j+1), &n.Head.Layers[j])
	}
	return refs
}

// ParameterNames returns the state-dict names in model order.
func (n *CombinedNetwork) ParameterNames() []string {
	refs := n.parameterRefs()
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.name
	}
	return names
}

// StateDict returns a copy of every parameter keyed by its PyTorch name.
func (n *CombinedNetwork) StateDict() map[string]TensorWithShape {
	out := make(map[string]TensorWithShape)
	for _, r := range n.parameterRefs() {
		out[r.name] = TensorWithShape{
			DType:  DTypeF32,
			Shape:  slices.Clone(r.shape),
			Values: slices.Clone(*r.data),
		}
	}
	return out
}

// LoadStateDict replaces the parameters with the given tensors. Every parameter must be present
// with a matching shape and no unknown names are accepted; on error the network is unchanged.
func (n *CombinedNetwork) LoadStateDict(state map[string]TensorWithShape) error {
	refs := n.parameterRefs()
	known := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		known[r.name] = struct{}{}
	}
	for name := range state {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
		}
	}

	for _, r := range refs {
		t, ok := state[r.name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingParameter, r.name)
		}
		if !slices.Equal(t.Shape, r.shape) {
			return fmt.Errorf("%w: %s has shape %v, expected %v", ErrShapeMismatch, r.name, t.Shape, r.shape)
		}
		if len(t.Values) != len(*r.data) {
			return fmt.Errorf("%w: %s has %d values, expected %d", ErrShapeMismatch, r.name, len(t.Values), len(*r.data))
		}
	}

	for _, r := range refs {
		*r.data = slices.Clone(state[r.name].Values)
	}
	n.syncGPU()
	return nil
}
