package nn

import (
	"fmt"
	"math"
	"strings"
)

// Activate applies the activation function to a single value.
func Activate(v float32, activation ActivationType) float32 {
	switch activation {
	case ActivationLeakyReLU:
		if v < 0 {
			v = v * LeakySlope
		}
		return v
	case ActivationSigmoid:
		return 1.0 / (1.0 + float32(math.Exp(float64(-v))))
	case ActivationTanh:
		return float32(math.Tanh(float64(v)))
	default:
		return v
	}
}

// activateInPlace applies the activation to every element of data.
func activateInPlace(data []float32, activation ActivationType) {
	if activation == ActivationNone {
		return
	}
	for i, v := range data {
		data[i] = Activate(v, activation)
	}
}

// String returns the name used in architecture files and saved bundles.
func (a ActivationType) String() string {
	switch a {
	case ActivationNone:
		return "none"
	case ActivationLeakyReLU:
		return "leaky_relu"
	case ActivationSigmoid:
		return "sigmoid"
	case ActivationTanh:
		return "tanh"
	default:
		return fmt.Sprintf("activation(%d)", int(a))
	}
}

// ParseActivation is the inverse of String. The empty string means none.
func ParseActivation(s string) (ActivationType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "identity", "linear":
		return ActivationNone, nil
	case "leaky_relu", "leakyrelu":
		return ActivationLeakyReLU, nil
	case "sigmoid":
		return ActivationSigmoid, nil
	case "tanh":
		return ActivationTanh, nil
	default:
		return ActivationNone, fmt.Errorf("unknown activation %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so activations read well in JSON and YAML.
func (a ActivationType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *ActivationType) UnmarshalText(text []byte) error {
	parsed, err := ParseActivation(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
