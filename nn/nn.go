// Package nn provides a four-branch feed-forward network with a fusion head, with both CPU and GPU
// execution.
//
// The network is built from four branch stacks and one fusion head:
//   - Each branch reduces its own feature vector to a single scalar through dense layers of
//     decreasing width, every layer followed by LeakyReLU (negative slope 0.01), the last one included
//   - The fusion head concatenates the four branch scalars in branch order and applies three affine
//     layers (4 → 32 → 8 → 1) with no activation between them
//
// The default architecture uses the branch variants brown, brown, black and pink:
//   - brown: in → 32 → 8 → 1
//   - black: in → 16 → 4 → 1
//   - pink:  in → 16 → 4 → 1
//
// Example usage:
//
//	network, _ := nn.New(3, 5, 7, 9, nn.WithSeed(42))
//
//	// Forward pass on CPU
//	result, _ := network.Forward(x1, x2, x3, x4)
//	fmt.Println(result.Output.Data, result.Branches[0].Data)
//
//	// Forward pass on GPU
//	network.InitGPU(x1.Rows)
//	defer network.ReleaseGPU()
//	resultGPU, _ := network.ForwardGPU(x1, x2, x3, x4)
//
//	// Parameter interchange with the PyTorch state-dict layout
//	network.SaveSafetensors("model.safetensors", nn.DTypeF32)
package nn
