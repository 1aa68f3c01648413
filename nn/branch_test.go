package nn

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchVariants(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	cases := []struct {
		variant string
		inDim   int
		shapes  [][2]int
	}{
		{"brown", 5, [][2]int{{5, 32}, {32, 8}, {8, 1}}},
		{"black", 7, [][2]int{{7, 16}, {16, 4}, {4, 1}}},
		{"pink", 9, [][2]int{{9, 16}, {16, 4}, {4, 1}}},
		{"blue", 2, [][2]int{{2, 64}, {64, 16}, {16, 1}}},
	}

	for _, tc := range cases {
		t.Run(tc.variant, func(t *testing.T) {
			b, err := NewBranch(BranchSpec{
				Name:       tc.variant,
				InputDim:   tc.inDim,
				Widths:     Variants[tc.variant],
				Activation: ActivationLeakyReLU,
			}, rng)
			require.NoError(t, err)
			require.Len(t, b.Layers, len(tc.shapes))
			for i, l := range b.Layers {
				assert.Equal(t, tc.shapes[i], [2]int{l.InputSize, l.OutputSize})
				assert.Equal(t, ActivationLeakyReLU, l.Activation, "layer %d", i)
			}
			assert.Equal(t, 1, b.OutputDim())
		})
	}
}

func TestBranchOutputWidth(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	b, err := NewBranch(BranchSpec{Name: "brown", InputDim: 5, Widths: Variants["brown"], Activation: ActivationLeakyReLU}, rng)
	require.NoError(t, err)

	for _, batch := range []int{0, 1, 2, 17} {
		out, err := b.Forward(randomInput(rng, batch, 5))
		require.NoError(t, err)
		assert.Equal(t, [2]int{batch, 1}, out.Shape(), "batch %d", batch)
	}

	_, err = b.Forward(NewTensor(2, 4))
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestBranchFinalLayerIsLeaky(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	b, err := NewBranch(BranchSpec{Name: "pink", InputDim: 9, Widths: Variants["pink"], Activation: ActivationLeakyReLU}, rng)
	require.NoError(t, err)

	// same parameters, identity after the last layer
	linear := &Branch{Name: b.Name, InputDim: b.InputDim, Layers: slices.Clone(b.Layers)}
	linear.Layers[len(linear.Layers)-1].Activation = ActivationNone

	x := randomInput(rng, 64, 9)
	got, err := b.Forward(x)
	require.NoError(t, err)
	pre, err := linear.Forward(x)
	require.NoError(t, err)

	for i, v := range pre.Data {
		assert.Equal(t, Activate(v, ActivationLeakyReLU), got.Data[i])
	}
}

func TestNewBranchInvalid(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := NewBranch(BranchSpec{Name: "x", InputDim: 0, Widths: []int{1}}, rng)
	require.ErrorIs(t, err, ErrInvalidArchitecture)

	_, err = NewBranch(BranchSpec{Name: "x", InputDim: 3}, rng)
	require.ErrorIs(t, err, ErrInvalidArchitecture)
}
