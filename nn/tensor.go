package nn

import "fmt"

// Tensor is a row-major float32 matrix. Each row is one sample of a batch.
type Tensor struct {
	Rows int
	Cols int
	Data []float32 // [Rows * Cols]
}

// NewTensor allocates a zeroed rows x cols tensor.
func NewTensor(rows, cols int) *Tensor {
	return &Tensor{
		Rows: rows,
		Cols: cols,
		Data: make([]float32, rows*cols),
	}
}

// NewTensorFromSlice wraps data as a rows x cols tensor without copying.
func NewTensorFromSlice(data []float32, rows, cols int) (*Tensor, error) {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		return nil, fmt.Errorf("%w: %d values for shape (%d, %d)", ErrShapeMismatch, len(data), rows, cols)
	}
	return &Tensor{Rows: rows, Cols: cols, Data: data}, nil
}

// NewTensorFromRows copies a batch of equally sized feature vectors into a tensor. The width is
// taken from the first row, so an empty batch gives a (0, 0) tensor; use NewBatch when the
// feature width is known.
func NewTensorFromRows(rows [][]float32) (*Tensor, error) {
	if len(rows) == 0 {
		return NewTensor(0, 0), nil
	}
	cols := len(rows[0])
	t := NewTensor(len(rows), cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", ErrShapeMismatch, i, len(row), cols)
		}
		copy(t.Data[i*cols:], row)
	}
	return t, nil
}

// NewBatch is NewTensorFromRows for a known feature width: every row must hold cols values and
// an empty batch gives a (0, cols) tensor that Forward accepts.
func NewBatch(rows [][]float32, cols int) (*Tensor, error) {
	if cols < 0 {
		return nil, fmt.Errorf("%w: negative width %d", ErrShapeMismatch, cols)
	}
	t := NewTensor(len(rows), cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", ErrShapeMismatch, i, len(row), cols)
		}
		copy(t.Data[i*cols:], row)
	}
	return t, nil
}

// Shape returns (Rows, Cols).
func (t *Tensor) Shape() [2]int {
	return [2]int{t.Rows, t.Cols}
}

// Row returns a view of row i.
func (t *Tensor) Row(i int) []float32 {
	return t.Data[i*t.Cols : (i+1)*t.Cols]
}

// ToRows copies the tensor out as one slice per row.
func (t *Tensor) ToRows() [][]float32 {
	out := make([][]float32, t.Rows)
	for i := range out {
		out[i] = append([]float32(nil), t.Row(i)...)
	}
	return out
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Rows: t.Rows,
		Cols: t.Cols,
		Data: append([]float32(nil), t.Data...),
	}
}

// ConcatColumns joins tensors with equal row counts side by side, in argument order.
func ConcatColumns(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return NewTensor(0, 0), nil
	}
	rows := ts[0].Rows
	cols := 0
	for i, t := range ts {
		if t.Rows != rows {
			return nil, fmt.Errorf("%w: tensor %d has %d rows, expected %d", ErrBatchMismatch, i, t.Rows, rows)
		}
		cols += t.Cols
	}

	out := NewTensor(rows, cols)
	for r := 0; r < rows; r++ {
		offset := r * cols
		for _, t := range ts {
			copy(out.Data[offset:], t.Row(r))
			offset += t.Cols
		}
	}
	return out, nil
}
