package nn

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const (
	bundleType    = "branchnet/bundle"
	bundleVersion = 1

	weightsFormatSafetensors = "safetensorsB64"
)

// ModelBundle represents a collection of saved models
type ModelBundle struct {
	Type    string       `json:"type" cbor:"type"`
	Version int          `json:"version" cbor:"version"`
	Models  []SavedModel `json:"models" cbor:"models"`
}

// SavedModel represents a single saved model with architecture and weights
type SavedModel struct {
	ID           string         `json:"id" cbor:"id"`
	Architecture Architecture   `json:"architecture" cbor:"architecture"`
	Weights      EncodedWeights `json:"weights" cbor:"weights"`
}

// EncodedWeights stores the F32 safetensors encoding of the state dict, base64 encoded
type EncodedWeights struct {
	Format string `json:"fmt" cbor:"fmt"`
	Data   string `json:"data" cbor:"data"`
}

// BundleCodec selects the on-disk encoding of a bundle.
type BundleCodec int

const (
	CodecJSON BundleCodec = iota
	CodecCBOR
)

// CodecForPath picks CBOR for .cbor files and JSON otherwise.
func CodecForPath(path string) BundleCodec {
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		return CodecCBOR
	}
	return CodecJSON
}

// SerializeModel converts the network to a SavedModel structure
func (n *CombinedNetwork) SerializeModel() (SavedModel, error) {
	weights, err := n.MarshalSafetensors(DTypeF32)
	if err != nil {
		return SavedModel{}, fmt.Errorf("failed to encode weights: %w", err)
	}
	return SavedModel{
		ID:           n.ID,
		Architecture: n.Architecture,
		Weights: EncodedWeights{
			Format: weightsFormatSafetensors,
			Data:   base64.StdEncoding.EncodeToString(weights),
		},
	}, nil
}

// DeserializeModel creates a CombinedNetwork from a SavedModel
func DeserializeModel(saved SavedModel) (*CombinedNetwork, error) {
	if saved.Weights.Format != weightsFormatSafetensors {
		return nil, fmt.Errorf("unsupported weights format: %s", saved.Weights.Format)
	}
	data, err := base64.StdEncoding.DecodeString(saved.Weights.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode weights: %w", err)
	}
	tensors, _, err := ParseSafetensors(data)
	if err != nil {
		return nil, err
	}

	n, err := NewCombinedNetwork(saved.Architecture, WithID(saved.ID))
	if err != nil {
		return nil, err
	}
	if err := n.LoadStateDict(tensors); err != nil {
		return nil, err
	}
	return n, nil
}

// NewBundle serializes networks into a bundle, ordered by id.
func NewBundle(models ...*CombinedNetwork) (*ModelBundle, error) {
	bundle := &ModelBundle{
		Type:    bundleType,
		Version: bundleVersion,
		Models:  []SavedModel{},
	}
	for _, network := range models {
		saved, err := network.SerializeModel()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize model %s: %w", network.ID, err)
		}
		bundle.Models = append(bundle.Models, saved)
	}
	sort.Slice(bundle.Models, func(i, j int) bool { return bundle.Models[i].ID < bundle.Models[j].ID })
	return bundle, nil
}

// Marshal encodes the bundle with codec.
func (b *ModelBundle) Marshal(codec BundleCodec) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch codec {
	case CodecCBOR:
		data, err = cbor.Marshal(b)
	default:
		data, err = json.MarshalIndent(b, "", "  ")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle: %w", err)
	}
	return data, nil
}

// UnmarshalBundle decodes and checks a bundle.
func UnmarshalBundle(data []byte, codec BundleCodec) (*ModelBundle, error) {
	var bundle ModelBundle
	var err error
	switch codec {
	case CodecCBOR:
		err = cbor.Unmarshal(data, &bundle)
	default:
		err = json.Unmarshal(data, &bundle)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal bundle: %w", err)
	}

	if bundle.Type != bundleType {
		return nil, fmt.Errorf("invalid bundle type: %s", bundle.Type)
	}
	if bundle.Version != bundleVersion {
		return nil, fmt.Errorf("unsupported bundle version: %d", bundle.Version)
	}
	return &bundle, nil
}

// Model returns the model with the given id, or the only model when id is empty.
func (b *ModelBundle) Model(id string) (*CombinedNetwork, error) {
	if id == "" {
		if len(b.Models) != 1 {
			return nil, fmt.Errorf("bundle holds %d models, an id is required", len(b.Models))
		}
		return DeserializeModel(b.Models[0])
	}
	for _, saved := range b.Models {
		if saved.ID == id {
			return DeserializeModel(saved)
		}
	}
	return nil, fmt.Errorf("model %s not found in bundle", id)
}

// SaveToFile saves the bundle to a file, encoded according to its extension
func (b *ModelBundle) SaveToFile(filename string) error {
	data, err := b.Marshal(CodecForPath(filename))
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// LoadBundle loads a model bundle from a file
func LoadBundle(filename string) (*ModelBundle, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return UnmarshalBundle(data, CodecForPath(filename))
}

// SaveModel saves a single model to a bundle file
func (n *CombinedNetwork) SaveModel(filename string) error {
	bundle, err := NewBundle(n)
	if err != nil {
		return err
	}
	return bundle.SaveToFile(filename)
}

// LoadModel loads a single model from a bundle file. An empty modelID selects the only model.
func LoadModel(filename string, modelID string) (*CombinedNetwork, error) {
	bundle, err := LoadBundle(filename)
	if err != nil {
		return nil, err
	}
	return bundle.Model(modelID)
}

// Open loads a network from a .safetensors file or a bundle (.json, .cbor). arch is only
// consulted for safetensors files and may be nil when the file carries its own metadata.
func Open(path string, arch *Architecture) (*CombinedNetwork, error) {
	if strings.EqualFold(filepath.Ext(path), ".safetensors") {
		return LoadSafetensors(path, arch)
	}
	return LoadModel(path, "")
}
