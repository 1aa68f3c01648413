package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameterNames(t *testing.T) {
	n, err := New(3, 5, 7, 9, WithSeed(1))
	require.NoError(t, err)

	names := n.ParameterNames()
	assert.Len(t, names, 4*3*2+3*2)
	assert.Equal(t, "module1.fc1.weight", names[0])
	assert.Equal(t, "module1.fc1.bias", names[1])
	assert.Contains(t, names, "module4.fc3.weight")
	assert.Equal(t, "final_fc3.bias", names[len(names)-1])

	state := n.StateDict()
	assert.Equal(t, []int{32, 3}, state["module1.fc1.weight"].Shape)
	assert.Equal(t, []int{16, 9}, state["module4.fc1.weight"].Shape)
	assert.Equal(t, []int{32, 4}, state["final_fc1.weight"].Shape)
	assert.Equal(t, []int{1}, state["final_fc3.bias"].Shape)
}

func TestStateDictIsCopy(t *testing.T) {
	n, err := New(3, 5, 7, 9, WithSeed(1))
	require.NoError(t, err)

	state := n.StateDict()
	state["final_fc1.bias"].Values[0] = 1234
	assert.NotEqual(t, float32(1234), n.Head.Layers[0].Bias[0])
}

func TestLoadStateDict(t *testing.T) {
	src, err := New(3, 5, 7, 9, WithSeed(1))
	require.NoError(t, err)
	dst, err := New(3, 5, 7, 9, WithSeed(2))
	require.NoError(t, err)

	require.NoError(t, dst.LoadStateDict(src.StateDict()))

	x := defaultInputs(3, 4)
	want, err := src.Forward(x[0], x[1], x[2], x[3])
	require.NoError(t, err)
	got, err := dst.Forward(x[0], x[1], x[2], x[3])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadStateDictErrors(t *testing.T) {
	n, err := New(3, 5, 7, 9, WithSeed(1))
	require.NoError(t, err)
	before := n.StateDict()

	t.Run("unknown", func(t *testing.T) {
		state := n.StateDict()
		state["module5.fc1.weight"] = TensorWithShape{DType: DTypeF32, Shape: []int{1}, Values: []float32{0}}
		require.ErrorIs(t, n.LoadStateDict(state), ErrUnknownParameter)
	})

	t.Run("missing", func(t *testing.T) {
		state := n.StateDict()
		delete(state, "module2.fc2.bias")
		require.ErrorIs(t, n.LoadStateDict(state), ErrMissingParameter)
	})

	t.Run("shape", func(t *testing.T) {
		state := n.StateDict()
		w := state["final_fc2.weight"]
		w.Shape = []int{32, 8}
		state["final_fc2.weight"] = w
		require.ErrorIs(t, n.LoadStateDict(state), ErrShapeMismatch)
	})

	t.Run("length", func(t *testing.T) {
		state := n.StateDict()
		b := state["module3.fc1.bias"]
		b.Values = b.Values[:3]
		state["module3.fc1.bias"] = b
		require.ErrorIs(t, n.LoadStateDict(state), ErrShapeMismatch)
	})

	// failed loads leave the parameters untouched
	assert.Equal(t, before, n.StateDict())
}
