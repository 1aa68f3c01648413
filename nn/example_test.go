package nn_test

import (
	"fmt"

	"github.com/openfluke/branchnet/nn"
)

func Example() {
	network, err := nn.New(3, 5, 7, 9, nn.WithSeed(42))
	if err != nil {
		panic(err)
	}

	x1, _ := nn.NewTensorFromRows([][]float32{{0.1, 0.2, 0.3}, {1, 2, 3}})
	x2 := nn.NewTensor(2, 5)
	x3 := nn.NewTensor(2, 7)
	x4 := nn.NewTensor(2, 9)

	result, err := network.Forward(x1, x2, x3, x4)
	if err != nil {
		panic(err)
	}

	fmt.Println(result.Output.Shape())
	for _, b := range result.Branches {
		fmt.Println(b.Shape())
	}
	// Output:
	// [2 1]
	// [2 1]
	// [2 1]
	// [2 1]
	// [2 1]
}
