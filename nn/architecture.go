package nn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Variants maps a branch variant name to its layer widths. The last width is always 1.
var Variants = map[string][]int{
	"blue":  {64, 16, 1},
	"brown": {32, 8, 1},
	"black": {16, 4, 1},
	"pink":  {16, 4, 1},
}

// DefaultHeadWidths are the fusion head layer widths after the 4-wide concatenation.
var DefaultHeadWidths = []int{32, 8, 1}

// BranchSpec declares one branch stack.
type BranchSpec struct {
	Name       string         `json:"name" yaml:"name"`
	Variant    string         `json:"variant,omitempty" yaml:"variant,omitempty"`
	InputDim   int            `json:"input_dim" yaml:"input_dim"`
	Widths     []int          `json:"widths,omitempty" yaml:"widths,omitempty"`
	Activation ActivationType `json:"activation" yaml:"activation"`
}

// HeadSpec declares the fusion head.
type HeadSpec struct {
	Widths           []int          `json:"widths" yaml:"widths"`
	Activation       ActivationType `json:"activation" yaml:"activation"`
	OutputActivation ActivationType `json:"output_activation" yaml:"output_activation"`
}

// Architecture is the data-driven description of a CombinedNetwork.
type Architecture struct {
	Branches [NumBranches]BranchSpec `json:"branches" yaml:"branches"`
	Head     HeadSpec                `json:"head" yaml:"head"`
}

// DefaultArchitecture returns brown, brown, black, pink branches over the given input widths
// and a 4 → 32 → 8 → 1 head without activations.
func DefaultArchitecture(dim1, dim2, dim3, dim4 int) Architecture {
	dims := [NumBranches]int{dim1, dim2, dim3, dim4}
	variants := [NumBranches]string{"brown", "brown", "black", "pink"}

	var arch Architecture
	for i := range arch.Branches {
		arch.Branches[i] = BranchSpec{
			Name:       variants[i],
			Variant:    variants[i],
			InputDim:   dims[i],
			Widths:     slices.Clone(Variants[variants[i]]),
			Activation: ActivationLeakyReLU,
		}
	}
	arch.Head = HeadSpec{
		Widths:           slices.Clone(DefaultHeadWidths),
		Activation:       ActivationNone,
		OutputActivation: ActivationNone,
	}
	return arch
}

// InputDims returns the declared input width of each branch.
func (a *Architecture) InputDims() [NumBranches]int {
	var dims [NumBranches]int
	for i, b := range a.Branches {
		dims[i] = b.InputDim
	}
	return dims
}

// resolve fills Widths from Variant where only the variant was given.
func (a *Architecture) resolve() error {
	for i := range a.Branches {
		b := &a.Branches[i]
		if len(b.Widths) > 0 {
			continue
		}
		widths, ok := Variants[b.Variant]
		if !ok {
			return fmt.Errorf("%w: branch %d has no widths and unknown variant %q", ErrInvalidArchitecture, i+1, b.Variant)
		}
		b.Widths = slices.Clone(widths)
		if b.Name == "" {
			b.Name = b.Variant
		}
	}
	return nil
}

// Validate checks the structural invariants: positive widths, scalar branch outputs and a head
// whose input width equals the number of branches.
func (a *Architecture) Validate() error {
	for i, b := range a.Branches {
		if b.InputDim <= 0 {
			return fmt.Errorf("%w: branch %d input_dim %d", ErrInvalidArchitecture, i+1, b.InputDim)
		}
		if len(b.Widths) == 0 {
			return fmt.Errorf("%w: branch %d has no layers", ErrInvalidArchitecture, i+1)
		}
		for _, w := range b.Widths {
			if w <= 0 {
				return fmt.Errorf("%w: branch %d width %d", ErrInvalidArchitecture, i+1, w)
			}
		}
		if last := b.Widths[len(b.Widths)-1]; last != 1 {
			return fmt.Errorf("%w: branch %d ends in width %d, expected 1", ErrInvalidArchitecture, i+1, last)
		}
	}

	if len(a.Head.Widths) == 0 {
		return fmt.Errorf("%w: head has no layers", ErrInvalidArchitecture)
	}
	for _, w := range a.Head.Widths {
		if w <= 0 {
			return fmt.Errorf("%w: head width %d", ErrInvalidArchitecture, w)
		}
	}
	if last := a.Head.Widths[len(a.Head.Widths)-1]; last != 1 {
		return fmt.Errorf("%w: head ends in width %d, expected 1", ErrInvalidArchitecture, last)
	}
	return nil
}

// ParseArchitecture decodes a YAML or JSON architecture document. JSON is valid YAML, so one
// decoder covers both. Branch activations default to leaky_relu, head activations to none.
func ParseArchitecture(data []byte) (Architecture, error) {
	type rawBranch struct {
		Name       string          `yaml:"name"`
		Variant    string          `yaml:"variant"`
		InputDim   int             `yaml:"input_dim"`
		Widths     []int           `yaml:"widths"`
		Activation *ActivationType `yaml:"activation"`
	}
	var raw struct {
		Branches []rawBranch `yaml:"branches"`
		Head     *HeadSpec   `yaml:"head"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Architecture{}, fmt.Errorf("failed to parse architecture: %w", err)
	}
	if len(raw.Branches) != NumBranches {
		return Architecture{}, fmt.Errorf("%w: %d branches, expected %d", ErrInvalidArchitecture, len(raw.Branches), NumBranches)
	}

	var arch Architecture
	for i, b := range raw.Branches {
		activation := ActivationLeakyReLU
		if b.Activation != nil {
			activation = *b.Activation
		}
		arch.Branches[i] = BranchSpec{
			Name:       b.Name,
			Variant:    b.Variant,
			InputDim:   b.InputDim,
			Widths:     b.Widths,
			Activation: activation,
		}
	}
	if raw.Head != nil {
		arch.Head = *raw.Head
	} else {
		arch.Head = HeadSpec{Widths: slices.Clone(DefaultHeadWidths)}
	}
	if len(arch.Head.Widths) == 0 {
		arch.Head.Widths = slices.Clone(DefaultHeadWidths)
	}

	if err := arch.resolve(); err != nil {
		return Architecture{}, err
	}
	if err := arch.Validate(); err != nil {
		return Architecture{}, err
	}
	return arch, nil
}

// LoadArchitecture reads an architecture file (.yaml, .yml or .json).
func LoadArchitecture(path string) (Architecture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Architecture{}, fmt.Errorf("failed to read architecture: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if !json.Valid(data) {
			return Architecture{}, fmt.Errorf("failed to parse architecture: %s is not valid JSON", path)
		}
	}
	return ParseArchitecture(data)
}

// YAML renders the architecture as a YAML document.
func (a Architecture) YAML() ([]byte, error) {
	return yaml.Marshal(struct {
		Branches []BranchSpec `yaml:"branches"`
		Head     HeadSpec     `yaml:"head"`
	}{a.Branches[:], a.Head})
}
