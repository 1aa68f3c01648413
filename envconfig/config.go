package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

var (
	// Set via BRANCHNET_DEBUG in the environment
	Debug bool
	// Set via BRANCHNET_SEED in the environment; only meaningful when SeedSet is true
	Seed int64
	// SeedSet reports whether BRANCHNET_SEED held a valid integer
	SeedSet bool
	// Set via BRANCHNET_GPU in the environment
	GPU bool
	// Set via BRANCHNET_PARALLEL in the environment
	Parallel bool
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"BRANCHNET_DEBUG":    {"BRANCHNET_DEBUG", Debug, "Show additional debug information (e.g. BRANCHNET_DEBUG=1)"},
		"BRANCHNET_SEED":     {"BRANCHNET_SEED", Seed, "Seed for parameter initialization (default random)"},
		"BRANCHNET_GPU":      {"BRANCHNET_GPU", GPU, "Run forward passes on the GPU"},
		"BRANCHNET_PARALLEL": {"BRANCHNET_PARALLEL", Parallel, "Evaluate the four branches concurrently"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

// boolVar treats any non-boolean, non-empty value as true.
func boolVar(key string) bool {
	s := clean(key)
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return true
	}
	return b
}

func init() {
	LoadConfig()
}

func LoadConfig() {
	Debug = boolVar("BRANCHNET_DEBUG")
	GPU = boolVar("BRANCHNET_GPU")
	Parallel = boolVar("BRANCHNET_PARALLEL")

	Seed, SeedSet = 0, false
	if seed := clean("BRANCHNET_SEED"); seed != "" {
		s, err := strconv.ParseInt(seed, 10, 64)
		if err != nil {
			slog.Error("invalid setting, ignoring", "BRANCHNET_SEED", seed, "error", err)
		} else {
			Seed, SeedSet = s, true
		}
	}
}
