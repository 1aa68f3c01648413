package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/branchnet/logutil"
)

// Activation codes understood by the dense shader
const (
	ActNone      = 0
	ActSigmoid   = 1
	ActLeakyReLU = 2
	ActTanh      = 3
)

// DenseLayerSpec defines the configuration for a single dense layer
type DenseLayerSpec struct {
	InputSize  int
	OutputSize int
	Activation int       // ActXXX constant
	Weights    []float32 // Flattened [OutputSize * InputSize]
	Biases     []float32 // [OutputSize]
}

// DenseLayer holds resources for a single layer execution
type DenseLayer struct {
	Spec      DenseLayerSpec
	BatchSize int

	pipeline        *wgpu.ComputePipeline
	bindGroupLayout *wgpu.BindGroupLayout
	bindGroup       *wgpu.BindGroup

	InputBuffer   *wgpu.Buffer
	OutputBuffer  *wgpu.Buffer
	StagingBuffer *wgpu.Buffer
	WeightBuffer  *wgpu.Buffer
	BiasBuffer    *wgpu.Buffer

	WorkgroupsX uint32
}

// DenseSequence manages a sequence of dense layers executed on GPU
type DenseSequence struct {
	Layers    []*DenseLayer
	BatchSize int
}

// NewDenseSequence creates a sequence handler for batches of batchSize rows
func NewDenseSequence(specs []DenseLayerSpec, batchSize int) *DenseSequence {
	if batchSize <= 0 {
		batchSize = 1
	}
	layers := make([]*DenseLayer, len(specs))
	for i, spec := range specs {
		layers[i] = &DenseLayer{Spec: spec, BatchSize: batchSize}
	}
	return &DenseSequence{
		Layers:    layers,
		BatchSize: batchSize,
	}
}

// Cleanup releases resources
func (s *DenseSequence) Cleanup() {
	for _, l := range s.Layers {
		l.Cleanup()
	}
}

func (l *DenseLayer) Cleanup() {
	for _, buf := range []*wgpu.Buffer{l.InputBuffer, l.OutputBuffer, l.StagingBuffer, l.WeightBuffer, l.BiasBuffer} {
		if buf != nil {
			buf.Destroy()
		}
	}
	l.InputBuffer, l.OutputBuffer, l.StagingBuffer, l.WeightBuffer, l.BiasBuffer = nil, nil, nil, nil, nil

	if l.bindGroup != nil {
		l.bindGroup.Release()
		l.bindGroup = nil
	}
	if l.pipeline != nil {
		l.pipeline.Release()
		l.pipeline = nil
	}
	if l.bindGroupLayout != nil {
		l.bindGroupLayout.Release()
		l.bindGroupLayout = nil
	}
}

// UploadWeights rewrites the weight and bias buffers from Spec.
// Weights are already [Output, Input], the layout the shader indexes.
func (l *DenseLayer) UploadWeights(ctx *Context) {
	if l.WeightBuffer != nil {
		ctx.Queue.WriteBuffer(l.WeightBuffer, 0, wgpu.ToBytes(l.Spec.Weights))
	}
	if l.BiasBuffer != nil {
		ctx.Queue.WriteBuffer(l.BiasBuffer, 0, wgpu.ToBytes(l.Spec.Biases))
	}
}

// GenerateShader creates WGSL for this layer configuration
func (l *DenseLayer) GenerateShader() string {
	actFunc := "return x;"
	switch l.Spec.Activation {
	case ActSigmoid:
		actFunc = "return 1.0 / (1.0 + exp(-x));"
	case ActLeakyReLU:
		actFunc = "return select(0.01 * x, x, x >= 0.0);"
	case ActTanh:
		actFunc = "return tanh(x);"
	}

	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read_write> output : array<f32>;
		@group(0) @binding(2) var<storage, read> weights : array<f32>;
		@group(0) @binding(3) var<storage, read> biases : array<f32>;

		fn activate(x: f32) -> f32 {
			%s
		}

		@compute @workgroup_size(256)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let idx = gid.x;
			let n_out = %du;
			let n_in = %du;

			if (idx >= arrayLength(&output)) {
				return;
			}

			// idx = sample_idx * n_out + out_idx
			let sample_idx = idx / n_out;
			let out_idx = idx %% n_out;

			var sum: f32 = biases[out_idx];
			let weight_offset = out_idx * n_in;
			let input_offset = sample_idx * n_in;

			for (var i: u32 = 0u; i < n_in; i++) {
				sum += weights[weight_offset + i] * input[input_offset + i];
			}

			output[idx] = activate(sum);
		}
	`, actFunc, l.Spec.OutputSize, l.Spec.InputSize)
}

func (l *DenseLayer) AllocateBuffers(ctx *Context, labelPrefix string) error {
	var err error

	l.InputBuffer, err = ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: labelPrefix + "_In",
		Size:  uint64(l.Spec.InputSize * l.BatchSize * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return err
	}

	l.OutputBuffer, err = ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: labelPrefix + "_Out",
		Size:  uint64(l.Spec.OutputSize * l.BatchSize * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return err
	}

	l.WeightBuffer, err = NewFloatBuffer(l.Spec.Weights, wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst|wgpu.BufferUsageCopySrc)
	if err != nil {
		return fmt.Errorf("weight buf: %v", err)
	}

	l.BiasBuffer, err = NewFloatBuffer(l.Spec.Biases, wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst|wgpu.BufferUsageCopySrc)
	if err != nil {
		return fmt.Errorf("bias buf: %v", err)
	}

	l.StagingBuffer, err = ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: labelPrefix + "_Staging",
		Size:  uint64(l.Spec.OutputSize * l.BatchSize * 4),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	return err
}

func (l *DenseLayer) Compile(ctx *Context, labelPrefix string) error {
	module, err := ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          labelPrefix + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: l.GenerateShader()},
	})
	if err != nil {
		return fmt.Errorf("shader compile: %v", err)
	}
	defer module.Release()

	// Explicit bind group layout; "auto" layouts misbehave under WASM
	l.bindGroupLayout, err = ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: labelPrefix + "_BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // Input
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},         // Output
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // Weights
			{Binding: 3, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // Biases
		},
	})
	if err != nil {
		return fmt.Errorf("create bgl: %v", err)
	}

	pipelineLayout, err := ctx.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            labelPrefix + "_Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{l.bindGroupLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %v", err)
	}
	defer pipelineLayout.Release()

	l.pipeline, err = ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  labelPrefix + "_Pipe",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("pipeline create: %v", err)
	}

	totalThreads := uint32(l.Spec.OutputSize * l.BatchSize)
	l.WorkgroupsX = (totalThreads + 255) / 256
	return nil
}

func (l *DenseLayer) CreateBindGroup(ctx *Context, labelPrefix string) error {
	var err error
	l.bindGroup, err = ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  labelPrefix + "_Bind",
		Layout: l.bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: l.InputBuffer, Size: l.InputBuffer.GetSize()},
			{Binding: 1, Buffer: l.OutputBuffer, Size: l.OutputBuffer.GetSize()},
			{Binding: 2, Buffer: l.WeightBuffer, Size: l.WeightBuffer.GetSize()},
			{Binding: 3, Buffer: l.BiasBuffer, Size: l.BiasBuffer.GetSize()},
		},
	})
	return err
}

// Build initializes all GPU resources for all layers
func (s *DenseSequence) Build(label string) error {
	ctx, err := GetContext()
	if err != nil {
		return err
	}

	for i, l := range s.Layers {
		prefix := fmt.Sprintf("%s_L%d", label, i)
		if err := l.AllocateBuffers(ctx, prefix); err != nil {
			s.Cleanup()
			return err
		}
		if err := l.Compile(ctx, prefix); err != nil {
			s.Cleanup()
			return err
		}
		if err := l.CreateBindGroup(ctx, prefix); err != nil {
			s.Cleanup()
			return err
		}
	}
	return nil
}

// UploadWeights pushes every layer's current Spec parameters to the device.
func (s *DenseSequence) UploadWeights() error {
	ctx, err := GetContext()
	if err != nil {
		return err
	}
	for _, l := range s.Layers {
		l.UploadWeights(ctx)
	}
	return nil
}

// Forward executes the sequence on GPU. input holds BatchSize rows of the first layer's
// InputSize; the result holds BatchSize rows of the last layer's OutputSize.
func (s *DenseSequence) Forward(input []float32) ([]float32, error) {
	if len(s.Layers) == 0 {
		return nil, fmt.Errorf("no layers built")
	}
	l0 := s.Layers[0]
	if want := l0.Spec.InputSize * s.BatchSize; len(input) != want {
		return nil, fmt.Errorf("input has %d values, sequence expects %d", len(input), want)
	}

	ctx, err := GetContext()
	if err != nil {
		return nil, err
	}

	enc, err := ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}

	ctx.Queue.WriteBuffer(l0.InputBuffer, 0, wgpu.ToBytes(input))

	for i, l := range s.Layers {
		pass := enc.BeginComputePass(nil)
		pass.SetPipeline(l.pipeline)
		pass.SetBindGroup(0, l.bindGroup, nil)
		pass.DispatchWorkgroups(l.WorkgroupsX, 1, 1)
		pass.End()
		logutil.Trace("gpu dense dispatch", "layer", i, "workgroups", l.WorkgroupsX,
			"batch", s.BatchSize, "in", l.Spec.InputSize, "out", l.Spec.OutputSize)

		if i < len(s.Layers)-1 {
			enc.CopyBufferToBuffer(l.OutputBuffer, 0, s.Layers[i+1].InputBuffer, 0, l.OutputBuffer.GetSize())
		} else {
			enc.CopyBufferToBuffer(l.OutputBuffer, 0, l.StagingBuffer, 0, l.OutputBuffer.GetSize())
		}
	}

	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, err
	}
	ctx.Queue.Submit(cmd)

	last := s.Layers[len(s.Layers)-1]
	return readMapped(ctx, last.StagingBuffer, last.Spec.OutputSize*s.BatchSize)
}
