package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfluke/branchnet/envconfig"
	"github.com/openfluke/branchnet/nn"
)

// ForwardRequest is the batch read by the forward command, one row per sample.
type ForwardRequest struct {
	X1 [][]float32 `json:"x1"`
	X2 [][]float32 `json:"x2"`
	X3 [][]float32 `json:"x3"`
	X4 [][]float32 `json:"x4"`
}

// ForwardResponse holds one value per sample for the head and for each branch.
type ForwardResponse struct {
	Output   []float32                 `json:"output"`
	Branches [nn.NumBranches][]float32 `json:"branches"`
}

func (r *ForwardRequest) tensors(dims [nn.NumBranches]int) ([nn.NumBranches]*nn.Tensor, error) {
	var out [nn.NumBranches]*nn.Tensor
	for i, rows := range [nn.NumBranches][][]float32{r.X1, r.X2, r.X3, r.X4} {
		t, err := nn.NewBatch(rows, dims[i])
		if err != nil {
			return out, fmt.Errorf("x%d: %w", i+1, err)
		}
		out[i] = t
	}
	return out, nil
}

func readRequest(path string) (*ForwardRequest, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var req ForwardRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	return &req, nil
}

func newForwardResponse(res *nn.ForwardResult) ForwardResponse {
	resp := ForwardResponse{Output: column(res.Output)}
	for i, b := range res.Branches {
		resp.Branches[i] = column(b)
	}
	return resp
}

// column returns the first column of t.
func column(t *nn.Tensor) []float32 {
	out := make([]float32, t.Rows)
	for i := range out {
		out[i] = t.Data[i*t.Cols]
	}
	return out
}

func ForwardHandler(cmd *cobra.Command, args []string) error {
	n, err := loadNetwork(cmd)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("input")
	req, err := readRequest(path)
	if err != nil {
		return err
	}
	x, err := req.tensors(n.Architecture.InputDims())
	if err != nil {
		return err
	}

	useGPU, _ := cmd.Flags().GetBool("gpu")
	parallel, _ := cmd.Flags().GetBool("parallel")
	useGPU = useGPU || envconfig.GPU
	parallel = parallel || envconfig.Parallel

	var res *nn.ForwardResult
	switch {
	case useGPU:
		if err := n.InitGPU(max(x[0].Rows, 1)); err != nil {
			return err
		}
		defer n.ReleaseGPU()
		res, err = n.ForwardGPU(x[0], x[1], x[2], x[3])
	case parallel:
		res, err = n.ForwardContext(cmd.Context(), x[0], x[1], x[2], x[3])
	default:
		res, err = n.Forward(x[0], x[1], x[2], x[3])
	}
	if err != nil {
		return err
	}

	slog.Debug("forward pass", "id", n.ID, "batch", x[0].Rows, "gpu", useGPU, "parallel", parallel)
	return writeJSON(cmd.OutOrStdout(), newForwardResponse(res))
}
