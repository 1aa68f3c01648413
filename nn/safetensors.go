package nn

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Supported safetensors dtypes.
const (
	DTypeF32  = "F32"
	DTypeF16  = "F16"
	DTypeBF16 = "BF16"
)

const metadataKey = "__metadata__"

// TensorInfo describes a tensor's properties in the safetensors header
type TensorInfo struct {
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset []int  `json:"data_offsets"`
}

// getBytesPerElement returns bytes per element for a dtype
func getBytesPerElement(dtype string) int {
	switch dtype {
	case DTypeF32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	default:
		return 0
	}
}

// numElements multiplies out shape, rejecting negative dimensions and int overflow.
func numElements(shape []int) (int, error) {
	n := 1
	for _, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("%w: negative dimension in shape %v", ErrShapeMismatch, shape)
		}
		if dim != 0 && n > math.MaxInt/dim {
			return 0, fmt.Errorf("%w: shape %v overflows", ErrShapeMismatch, shape)
		}
		n *= dim
	}
	return n, nil
}

// SerializeSafetensors converts tensors to safetensors format bytes. Tensors are laid out in name
// order so identical inputs produce identical files.
func SerializeSafetensors(tensors map[string]TensorWithShape, metadata map[string]string) ([]byte, error) {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	currentOffset := 0
	for _, name := range names {
		tensor := tensors[name]
		bytesPerElement := getBytesPerElement(tensor.DType)
		if bytesPerElement == 0 {
			return nil, fmt.Errorf("%w: %s (tensor %s)", ErrUnsupportedDType, tensor.DType, name)
		}
		n, err := numElements(tensor.Shape)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		if n != len(tensor.Values) {
			return nil, fmt.Errorf("%w: tensor %s has %d values for shape %v", ErrShapeMismatch, name, len(tensor.Values), tensor.Shape)
		}

		dataSize := len(tensor.Values) * bytesPerElement
		header[name] = TensorInfo{
			DType:  tensor.DType,
			Shape:  tensor.Shape,
			Offset: []int{currentOffset, currentOffset + dataSize},
		}
		currentOffset += dataSize
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	// pad the header with spaces so the data section starts 8-byte aligned
	if rem := len(headerJSON) % 8; rem != 0 {
		headerJSON = append(headerJSON, bytes.Repeat([]byte(" "), 8-rem)...)
	}

	// [header_size (8 bytes)] [header JSON] [tensor data]
	var buf bytes.Buffer
	buf.Grow(8 + len(headerJSON) + currentOffset)
	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return nil, err
	}
	buf.Write(headerJSON)

	for _, name := range names {
		if err := writeTensorData(&buf, tensors[name]); err != nil {
			return nil, fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return buf.Bytes(), nil
}

// writeTensorData writes tensor data in the specified dtype format
func writeTensorData(buf *bytes.Buffer, tensor TensorWithShape) error {
	switch tensor.DType {
	case DTypeF32:
		b := make([]byte, 4*len(tensor.Values))
		for i, v := range tensor.Values {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
		}
		buf.Write(b)
	case DTypeF16:
		b := make([]byte, 2*len(tensor.Values))
		for i, v := range tensor.Values {
			binary.LittleEndian.PutUint16(b[i*2:], float16.Fromfloat32(v).Bits())
		}
		buf.Write(b)
	case DTypeBF16:
		buf.Write(bfloat16.EncodeFloat32(tensor.Values))
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDType, tensor.DType)
	}
	return nil
}

// ParseSafetensors reads safetensors bytes and returns the tensors by name, decoded to float32,
// together with the header metadata.
func ParseSafetensors(data []byte) (map[string]TensorWithShape, map[string]string, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("failed to read header size: %d bytes", len(data))
	}
	headerSize := binary.LittleEndian.Uint64(data[:8])
	if headerSize > uint64(len(data)-8) {
		return nil, nil, fmt.Errorf("header size %d exceeds file size %d", headerSize, len(data))
	}
	headerBytes := data[8 : 8+headerSize]
	allData := data[8+headerSize:]

	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header: %w", err)
	}

	var metadata map[string]string
	tensors := make(map[string]TensorWithShape, len(rawHeader))
	for name, raw := range rawHeader {
		if name == metadataKey {
			if err := json.Unmarshal(raw, &metadata); err != nil {
				return nil, nil, fmt.Errorf("failed to parse metadata: %w", err)
			}
			continue
		}

		var info TensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, nil, fmt.Errorf("failed to parse tensor %s: %w", name, err)
		}
		values, err := decodeTensorData(allData, info)
		if err != nil {
			return nil, nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		tensors[name] = TensorWithShape{
			DType:  info.DType,
			Shape:  info.Shape,
			Values: values,
		}
	}

	slog.Debug("parsed safetensors", "tensors", len(tensors), "metadata", len(metadata))
	return tensors, metadata, nil
}

func decodeTensorData(allData []byte, info TensorInfo) ([]float32, error) {
	bytesPerElement := getBytesPerElement(info.DType)
	if bytesPerElement == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, info.DType)
	}
	if len(info.Offset) != 2 {
		return nil, fmt.Errorf("malformed data_offsets %v", info.Offset)
	}
	start, end := info.Offset[0], info.Offset[1]
	count, err := numElements(info.Shape)
	if err != nil {
		return nil, err
	}
	if count > math.MaxInt/bytesPerElement {
		return nil, fmt.Errorf("%w: shape %v overflows", ErrShapeMismatch, info.Shape)
	}
	if start < 0 || start > end || end > len(allData) || end-start != count*bytesPerElement {
		return nil, fmt.Errorf("%w: data_offsets %v do not match shape %v (%s) in %d data bytes",
			ErrShapeMismatch, info.Offset, info.Shape, info.DType, len(allData))
	}
	raw := allData[start:end]

	values := make([]float32, count)
	switch info.DType {
	case DTypeF32:
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case DTypeF16:
		for i := range values {
			values[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case DTypeBF16:
		copy(values, bfloat16.DecodeFloat32(raw))
	}
	return values, nil
}

// SaveSafetensors writes the network parameters in dtype, with the architecture and model id in
// the header metadata so LoadSafetensors can rebuild the network on its own.
func (n *CombinedNetwork) SaveSafetensors(path string, dtype string) error {
	data, err := n.MarshalSafetensors(dtype)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// MarshalSafetensors is SaveSafetensors without the file.
func (n *CombinedNetwork) MarshalSafetensors(dtype string) ([]byte, error) {
	if getBytesPerElement(dtype) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
	}

	archJSON, err := json.Marshal(n.Architecture)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal architecture: %w", err)
	}

	state := n.StateDict()
	for name, t := range state {
		t.DType = dtype
		state[name] = t
	}
	return SerializeSafetensors(state, map[string]string{
		"format":       "pt",
		"model_id":     n.ID,
		"architecture": string(archJSON),
	})
}

// LoadSafetensors rebuilds a network from a safetensors file. arch may be nil when the file
// carries its own architecture metadata; files exported from PyTorch need it spelled out.
func LoadSafetensors(path string, arch *Architecture) (*CombinedNetwork, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return UnmarshalSafetensors(data, arch)
}

// UnmarshalSafetensors is LoadSafetensors over bytes.
func UnmarshalSafetensors(data []byte, arch *Architecture) (*CombinedNetwork, error) {
	tensors, metadata, err := ParseSafetensors(data)
	if err != nil {
		return nil, err
	}

	if arch == nil {
		archJSON, ok := metadata["architecture"]
		if !ok {
			return nil, fmt.Errorf("%w: file has no architecture metadata", ErrInvalidArchitecture)
		}
		var fromFile Architecture
		if err := json.Unmarshal([]byte(archJSON), &fromFile); err != nil {
			return nil, fmt.Errorf("failed to parse architecture metadata: %w", err)
		}
		arch = &fromFile
	}

	var opts []Option
	if id := metadata["model_id"]; id != "" {
		opts = append(opts, WithID(id))
	}
	n, err := NewCombinedNetwork(*arch, opts...)
	if err != nil {
		return nil, err
	}
	if err := n.LoadStateDict(tensors); err != nil {
		return nil, err
	}
	return n, nil
}

// ConvertSafetensors re-encodes every tensor of a safetensors file in dtype, keeping the metadata.
func ConvertSafetensors(src, dst, dtype string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	tensors, metadata, err := ParseSafetensors(data)
	if err != nil {
		return err
	}
	for name, t := range tensors {
		t.DType = dtype
		tensors[name] = t
	}
	out, err := SerializeSafetensors(tensors, metadata)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, out, 0644)
}
