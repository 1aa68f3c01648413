package nn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testArchitectureYAML = `
branches:
  - name: price
    variant: brown
    input_dim: 3
  - name: volume
    variant: brown
    input_dim: 5
  - name: sentiment
    variant: black
    input_dim: 7
  - name: macro
    input_dim: 9
    widths: [12, 1]
    activation: tanh
head:
  widths: [16, 1]
`

func TestParseArchitecture(t *testing.T) {
	arch, err := ParseArchitecture([]byte(testArchitectureYAML))
	require.NoError(t, err)

	assert.Equal(t, [NumBranches]int{3, 5, 7, 9}, arch.InputDims())
	assert.Equal(t, "price", arch.Branches[0].Name)
	assert.Equal(t, []int{32, 8, 1}, arch.Branches[0].Widths)
	assert.Equal(t, []int{16, 4, 1}, arch.Branches[2].Widths)
	assert.Equal(t, ActivationLeakyReLU, arch.Branches[0].Activation)
	assert.Equal(t, ActivationTanh, arch.Branches[3].Activation)
	assert.Equal(t, []int{16, 1}, arch.Head.Widths)
	assert.Equal(t, ActivationNone, arch.Head.Activation)

	n, err := NewCombinedNetwork(arch, WithSeed(1))
	require.NoError(t, err)
	x := defaultInputs(1, 3)
	res, err := n.Forward(x[0], x[1], x[2], x[3])
	require.NoError(t, err)
	assert.Equal(t, [2]int{3, 1}, res.Output.Shape())
}

func TestParseArchitectureDefaultsHead(t *testing.T) {
	arch, err := ParseArchitecture([]byte(`
branches:
  - {variant: brown, input_dim: 3}
  - {variant: brown, input_dim: 5}
  - {variant: black, input_dim: 7}
  - {variant: pink, input_dim: 9}
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultArchitecture(3, 5, 7, 9), arch)
}

func TestParseArchitectureErrors(t *testing.T) {
	cases := map[string]string{
		"three branches": `
branches:
  - {variant: brown, input_dim: 3}
  - {variant: brown, input_dim: 5}
  - {variant: black, input_dim: 7}
`,
		"unknown variant": `
branches:
  - {variant: green, input_dim: 3}
  - {variant: brown, input_dim: 5}
  - {variant: black, input_dim: 7}
  - {variant: pink, input_dim: 9}
`,
		"wide branch output": `
branches:
  - {widths: [4, 2], input_dim: 3}
  - {variant: brown, input_dim: 5}
  - {variant: black, input_dim: 7}
  - {variant: pink, input_dim: 9}
`,
		"zero input": `
branches:
  - {variant: brown, input_dim: 0}
  - {variant: brown, input_dim: 5}
  - {variant: black, input_dim: 7}
  - {variant: pink, input_dim: 9}
`,
		"wide head output": `
branches:
  - {variant: brown, input_dim: 3}
  - {variant: brown, input_dim: 5}
  - {variant: black, input_dim: 7}
  - {variant: pink, input_dim: 9}
head:
  widths: [8, 2]
`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseArchitecture([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidArchitecture)
		})
	}

	_, err := ParseArchitecture([]byte("branches: {"))
	require.Error(t, err)

	_, err = ParseArchitecture([]byte(`
branches:
  - {variant: brown, input_dim: 3, activation: relu6}
  - {variant: brown, input_dim: 5}
  - {variant: black, input_dim: 7}
  - {variant: pink, input_dim: 9}
`))
	require.Error(t, err)
}

func TestArchitectureYAMLRoundTrip(t *testing.T) {
	arch := DefaultArchitecture(3, 5, 7, 9)
	data, err := arch.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "activation: leaky_relu")

	back, err := ParseArchitecture(data)
	require.NoError(t, err)
	assert.Equal(t, arch, back)
}

func TestLoadArchitecture(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "arch.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(testArchitectureYAML), 0o644))
	arch, err := LoadArchitecture(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "macro", arch.Branches[3].Name)

	jsonPath := filepath.Join(dir, "arch.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"branches":[{"variant":"brown","input_dim":3},{"variant":"brown","input_dim":5},{"variant":"black","input_dim":7},{"variant":"pink","input_dim":9}]}`), 0o644))
	arch, err = LoadArchitecture(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, DefaultArchitecture(3, 5, 7, 9), arch)

	badJSON := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badJSON, []byte("branches: []"), 0o644))
	_, err = LoadArchitecture(badJSON)
	require.Error(t, err)

	_, err = LoadArchitecture(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
