package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfluke/branchnet/envconfig"
	"github.com/openfluke/branchnet/logutil"
	"github.com/openfluke/branchnet/nn"
)

var errNoModel = errors.New("one of --model, --dims or --arch is required")

// parseDims reads four comma separated branch input widths.
func parseDims(s string) ([nn.NumBranches]int, error) {
	var dims [nn.NumBranches]int
	parts := strings.Split(s, ",")
	if len(parts) != nn.NumBranches {
		return dims, fmt.Errorf("--dims needs %d comma separated widths, got %q", nn.NumBranches, s)
	}
	for i, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return dims, fmt.Errorf("--dims: %w", err)
		}
		dims[i] = d
	}
	return dims, nil
}

// architectureFromFlags resolves --arch or --dims. ok is false when neither was given.
func architectureFromFlags(cmd *cobra.Command) (arch nn.Architecture, ok bool, err error) {
	if path, _ := cmd.Flags().GetString("arch"); path != "" {
		arch, err = nn.LoadArchitecture(path)
		return arch, err == nil, err
	}
	if s, _ := cmd.Flags().GetString("dims"); s != "" {
		dims, err := parseDims(s)
		if err != nil {
			return arch, false, err
		}
		return nn.DefaultArchitecture(dims[0], dims[1], dims[2], dims[3]), true, nil
	}
	return arch, false, nil
}

// seedOption honours --seed first, then BRANCHNET_SEED.
func seedOption(cmd *cobra.Command) []nn.Option {
	if cmd.Flags().Changed("seed") {
		seed, _ := cmd.Flags().GetInt64("seed")
		return []nn.Option{nn.WithSeed(seed)}
	}
	if envconfig.SeedSet {
		return []nn.Option{nn.WithSeed(envconfig.Seed)}
	}
	return nil
}

// loadNetwork opens --model, or builds a fresh network from --arch or --dims.
func loadNetwork(cmd *cobra.Command) (*nn.CombinedNetwork, error) {
	arch, haveArch, err := architectureFromFlags(cmd)
	if err != nil {
		return nil, err
	}

	if path, _ := cmd.Flags().GetString("model"); path != "" {
		var archp *nn.Architecture
		if haveArch {
			archp = &arch
		}
		return nn.Open(path, archp)
	}

	if !haveArch {
		return nil, errNoModel
	}
	return nn.NewCombinedNetwork(arch, seedOption(cmd)...)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func InitHandler(cmd *cobra.Command, args []string) error {
	arch, ok, err := architectureFromFlags(cmd)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("one of --dims or --arch is required")
	}

	output, _ := cmd.Flags().GetString("output")
	dtype, _ := cmd.Flags().GetString("dtype")
	dtype = strings.ToUpper(dtype)

	n, err := nn.NewCombinedNetwork(arch, seedOption(cmd)...)
	if err != nil {
		return err
	}

	if strings.EqualFold(filepath.Ext(output), ".safetensors") {
		err = n.SaveSafetensors(output, dtype)
	} else {
		if dtype != nn.DTypeF32 {
			return fmt.Errorf("--dtype %s only applies to .safetensors output", dtype)
		}
		err = n.SaveModel(output)
	}
	if err != nil {
		return err
	}

	slog.Info("model written", "id", n.ID, "path", output, "parameters", n.NumParameters())
	return nil
}

func CollapseHandler(cmd *cobra.Command, args []string) error {
	n, err := loadNetwork(cmd)
	if err != nil {
		return err
	}
	m, err := n.Head.Collapse()
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), struct {
		Weights []float64 `json:"weights"`
		Bias    float64   `json:"bias"`
	}{m.Weights, m.Bias})
}

func ConvertHandler(cmd *cobra.Command, args []string) error {
	dtype, _ := cmd.Flags().GetString("dtype")
	if err := nn.ConvertSafetensors(args[0], args[1], strings.ToUpper(dtype)); err != nil {
		return err
	}
	slog.Info("converted", "src", args[0], "dst", args[1], "dtype", strings.ToUpper(dtype))
	return nil
}

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("model", "m", "", "Model file (.safetensors, .json or .cbor)")
	cmd.Flags().String("dims", "", "Four comma separated branch input widths, e.g. 3,5,7,9")
	cmd.Flags().String("arch", "", "Architecture file (.yaml or .json)")
	cmd.Flags().Int64("seed", 0, "Seed for parameter initialization")
}

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "branchnet",
		Short:         "Four-branch feed-forward network with a fusion head",
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			slog.SetDefault(logutil.NewLogger(os.Stderr, logutil.Level(envconfig.Debug)))
		},
	}

	cobra.EnableCommandSorting = false

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a freshly initialized model",
		Args:  cobra.NoArgs,
		RunE:  InitHandler,
	}
	initCmd.Flags().String("dims", "", "Four comma separated branch input widths, e.g. 3,5,7,9")
	initCmd.Flags().String("arch", "", "Architecture file (.yaml or .json)")
	initCmd.Flags().Int64("seed", 0, "Seed for parameter initialization")
	initCmd.Flags().String("dtype", nn.DTypeF32, "Safetensors dtype (F32, F16, BF16)")
	initCmd.Flags().StringP("output", "o", "", "Output file (.safetensors, .json or .cbor)")
	_ = initCmd.MarkFlagRequired("output")

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the layer structure and parameter counts",
		Args:  cobra.NoArgs,
		RunE:  SummaryHandler,
	}
	addModelFlags(summaryCmd)

	forwardCmd := &cobra.Command{
		Use:   "forward",
		Short: "Run a forward pass over a JSON batch",
		Args:  cobra.NoArgs,
		RunE:  ForwardHandler,
	}
	addModelFlags(forwardCmd)
	forwardCmd.Flags().StringP("input", "i", "-", "Batch file with x1..x4 row arrays, - for stdin")
	forwardCmd.Flags().Bool("parallel", false, "Evaluate the branches concurrently")
	forwardCmd.Flags().Bool("gpu", false, "Run on the GPU")

	collapseCmd := &cobra.Command{
		Use:   "collapse",
		Short: "Print the fusion head as a single affine map",
		Args:  cobra.NoArgs,
		RunE:  CollapseHandler,
	}
	addModelFlags(collapseCmd)

	convertCmd := &cobra.Command{
		Use:   "convert SRC DST",
		Short: "Re-encode a safetensors file in another dtype",
		Args:  cobra.ExactArgs(2),
		RunE:  ConvertHandler,
	}
	convertCmd.Flags().String("dtype", nn.DTypeBF16, "Target dtype (F32, F16, BF16)")

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Print the BRANCHNET_* configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), envconfig.Values())
		},
	}

	rootCmd.AddCommand(
		initCmd,
		summaryCmd,
		forwardCmd,
		collapseCmd,
		convertCmd,
		envCmd,
	)

	return rootCmd
}
