package nn

import "strconv"

// Blueprint contains the structural information of a network
type Blueprint struct {
	ID          string           `json:"id"`
	TotalParams int              `json:"total_parameters"`
	Branches    []StackTelemetry `json:"branches"`
	Head        StackTelemetry   `json:"head"`
}

// StackTelemetry describes one branch or the fusion head
type StackTelemetry struct {
	Name       string           `json:"name"`
	Prefix     string           `json:"prefix"` // state-dict prefix, e.g. "module1" or "final"
	InputDim   int              `json:"input_dim"`
	Parameters int              `json:"parameters"`
	Layers     []LayerTelemetry `json:"layers"`
}

// LayerTelemetry contains metadata about a specific layer
type LayerTelemetry struct {
	Name       string `json:"name"`
	Activation string `json:"activation"`
	InputSize  int    `json:"input_size"`
	OutputSize int    `json:"output_size"`
	Parameters int    `json:"parameters"`
}

// ExtractBlueprint extracts structural data from a network.
func ExtractBlueprint(n *CombinedNetwork) Blueprint {
	bp := Blueprint{
		ID:       n.ID,
		Branches: make([]StackTelemetry, 0, NumBranches),
	}

	for i, b := range n.Branches {
		prefix := "module" + strconv.Itoa(i+1)
		st := extractStackTelemetry(b.Name, prefix, b.InputDim, b.Layers, prefix+".fc")
		bp.Branches = append(bp.Branches, st)
		bp.TotalParams += st.Parameters
	}

	bp.Head = extractStackTelemetry("fusion", "final", NumBranches, n.Head.Layers, "final_fc")
	bp.TotalParams += bp.Head.Parameters
	return bp
}

func extractStackTelemetry(name, prefix string, inputDim int, layers []DenseLayer, layerPrefix string) StackTelemetry {
	st := StackTelemetry{
		Name:     name,
		Prefix:   prefix,
		InputDim: inputDim,
		Layers:   make([]LayerTelemetry, 0, len(layers)),
	}
	for j := range layers {
		l := &layers[j]
		st.Layers = append(st.Layers, LayerTelemetry{
			Name:       layerPrefix + strconv.Itoa(j+1),
			Activation: l.Activation.String(),
			InputSize:  l.InputSize,
			OutputSize: l.OutputSize,
			Parameters: l.NumParameters(),
		})
		st.Parameters += l.NumParameters()
	}
	return st
}
