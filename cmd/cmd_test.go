package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/branchnet/nn"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cli := NewCLI()
	cli.SetOut(&out)
	cli.SetErr(&out)
	cli.SetArgs(args)
	err := cli.Execute()
	return out.String(), err
}

func TestParseDims(t *testing.T) {
	dims, err := parseDims("3, 5,7,9")
	require.NoError(t, err)
	assert.Equal(t, [nn.NumBranches]int{3, 5, 7, 9}, dims)

	_, err = parseDims("3,5,7")
	require.Error(t, err)
	_, err = parseDims("3,5,x,9")
	require.Error(t, err)
}

func TestInitSummaryCollapse(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.safetensors")

	_, err := run(t, "init", "--dims", "3,5,7,9", "--seed", "42", "-o", model)
	require.NoError(t, err)
	require.FileExists(t, model)

	out, err := run(t, "summary", "--model", model)
	require.NoError(t, err)
	assert.Contains(t, out, "STACK")
	assert.Contains(t, out, "module4.fc1")
	assert.Contains(t, out, "final_fc3")
	assert.Contains(t, out, "Total parameters: 1733")

	out, err = run(t, "collapse", "--model", model)
	require.NoError(t, err)
	var affine struct {
		Weights []float64 `json:"weights"`
		Bias    float64   `json:"bias"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &affine))
	assert.Len(t, affine.Weights, nn.NumBranches)

	n, err := nn.LoadSafetensors(model, nil)
	require.NoError(t, err)
	m, err := n.Head.Collapse()
	require.NoError(t, err)
	assert.InDeltaSlice(t, m.Weights, affine.Weights, 1e-12)
}

func TestInitBundle(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.cbor")

	_, err := run(t, "init", "--dims", "1,2,3,4", "-o", model)
	require.NoError(t, err)

	n, err := nn.LoadModel(model, "")
	require.NoError(t, err)
	assert.Equal(t, [nn.NumBranches]int{1, 2, 3, 4}, n.Architecture.InputDims())

	_, err = run(t, "init", "--dims", "1,2,3,4", "--dtype", "F16", "-o", filepath.Join(dir, "model.json"))
	require.Error(t, err)

	_, err = run(t, "init", "-o", model)
	require.Error(t, err)
}

func TestForward(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.json")
	_, err := run(t, "init", "--dims", "3,5,7,9", "--seed", "1", "-o", model)
	require.NoError(t, err)

	req := ForwardRequest{
		X1: [][]float32{{1, 2, 3}, {0, 0, 0}},
		X2: [][]float32{{1, 2, 3, 4, 5}, {0, 0, 0, 0, 0}},
		X3: [][]float32{{1, 2, 3, 4, 5, 6, 7}, {0, 0, 0, 0, 0, 0, 0}},
		X4: [][]float32{{1, 2, 3, 4, 5, 6, 7, 8, 9}, {0, 0, 0, 0, 0, 0, 0, 0, 0}},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	input := filepath.Join(dir, "batch.json")
	require.NoError(t, os.WriteFile(input, data, 0o644))

	out, err := run(t, "forward", "--model", model, "--input", input)
	require.NoError(t, err)
	var resp ForwardResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Output, 2)
	for _, b := range resp.Branches {
		assert.Len(t, b, 2)
	}

	n, err := nn.LoadModel(model, "")
	require.NoError(t, err)
	x1, _ := nn.NewTensorFromRows(req.X1)
	x2, _ := nn.NewTensorFromRows(req.X2)
	x3, _ := nn.NewTensorFromRows(req.X3)
	x4, _ := nn.NewTensorFromRows(req.X4)
	want, err := n.Forward(x1, x2, x3, x4)
	require.NoError(t, err)
	assert.Equal(t, want.Output.Data, resp.Output)

	parallel, err := run(t, "forward", "--model", model, "--input", input, "--parallel")
	require.NoError(t, err)
	assert.Equal(t, out, parallel)

	req.X3 = [][]float32{{1, 2}}
	data, _ = json.Marshal(req)
	require.NoError(t, os.WriteFile(input, data, 0o644))
	_, err = run(t, "forward", "--model", model, "--input", input)
	require.ErrorIs(t, err, nn.ErrShapeMismatch)
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "f32.safetensors")
	dst := filepath.Join(dir, "f16.safetensors")
	_, err := run(t, "init", "--dims", "3,5,7,9", "-o", src)
	require.NoError(t, err)

	_, err = run(t, "convert", "--dtype", "f16", src, dst)
	require.NoError(t, err)

	_, err = nn.LoadSafetensors(dst, nil)
	require.NoError(t, err)

	_, err = run(t, "convert", src)
	require.Error(t, err)
}

func TestSummaryRequiresModel(t *testing.T) {
	_, err := run(t, "summary")
	require.ErrorIs(t, err, errNoModel)

	out, err := run(t, "summary", "--dims", "2,2,2,2", "--seed", "3")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Model "))
}

func TestEnv(t *testing.T) {
	out, err := run(t, "env")
	require.NoError(t, err)
	var vals map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &vals))
	assert.Contains(t, vals, "BRANCHNET_SEED")
}

func TestForwardEmptyBatch(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.json")
	_, err := run(t, "init", "--dims", "3,5,7,9", "-o", model)
	require.NoError(t, err)

	input := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"x1":[],"x2":[],"x3":[],"x4":[]}`), 0o644))

	out, err := run(t, "forward", "--model", model, "--input", input)
	require.NoError(t, err)
	var resp ForwardResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Output)
	for _, b := range resp.Branches {
		assert.Empty(t, b)
	}
}
