package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// routeColumn rewires the head so the output equals input column k.
func routeColumn(h *FusionHead, k int) {
	for i := range h.Layers {
		l := &h.Layers[i]
		clear(l.Weights)
		clear(l.Bias)
	}
	h.Layers[0].Weights[k] = 1 // unit 0 reads column k
	for i := 1; i < len(h.Layers); i++ {
		h.Layers[i].Weights[0] = 1 // unit 0 reads unit 0
	}
}

func TestFusionConcatenationOrder(t *testing.T) {
	n, err := New(3, 5, 7, 9, WithSeed(21))
	require.NoError(t, err)
	x := defaultInputs(6, 4)

	for k := 0; k < NumBranches; k++ {
		routeColumn(n.Head, k)
		res, err := n.Forward(x[0], x[1], x[2], x[3])
		require.NoError(t, err)
		assert.Equal(t, res.Branches[k].Data, res.Output.Data, "column %d", k)
	}
}

func TestFusionCollapse(t *testing.T) {
	n, err := New(3, 5, 7, 9, WithSeed(8))
	require.NoError(t, err)

	m, err := n.Head.Collapse()
	require.NoError(t, err)
	require.Len(t, m.Weights, NumBranches)

	x := defaultInputs(10, 32)
	res, err := n.Forward(x[0], x[1], x[2], x[3])
	require.NoError(t, err)

	combined, err := ConcatColumns(res.Branches[:]...)
	require.NoError(t, err)
	for r := 0; r < combined.Rows; r++ {
		assert.InDelta(t, float64(res.Output.Data[r]), m.Apply(combined.Row(r)), 1e-5, "row %d", r)
	}
}

func TestFusionCollapseNotAffine(t *testing.T) {
	h, err := NewFusionHead(HeadSpec{Widths: []int{8, 1}, Activation: ActivationLeakyReLU}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	_, err = h.Collapse()
	require.ErrorIs(t, err, ErrNotAffine)
}

func TestFusionOutputActivation(t *testing.T) {
	h, err := NewFusionHead(HeadSpec{Widths: DefaultHeadWidths, OutputActivation: ActivationSigmoid}, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	assert.Equal(t, ActivationNone, h.Layers[0].Activation)
	assert.Equal(t, ActivationSigmoid, h.Layers[2].Activation)

	out, err := h.Forward(randomInput(rand.New(rand.NewSource(3)), 10, NumBranches))
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.True(t, v > 0 && v < 1, "sigmoid output %v", v)
	}

	_, err = h.Forward(NewTensor(2, 3))
	require.ErrorIs(t, err, ErrShapeMismatch)
}
