package accel

import (
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/symconv/symconv/types/tensor"
)

// fillDiagonalKernel writes a scalar value on the main diagonal. The input
// is not mutated; a filled copy is returned.
func fillDiagonalKernel() Kernel {
	return func(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if len(inputs) != 2 {
			return nil, Raisef(KindTypeError, "FillDiagonal takes 2 inputs, got %d", len(inputs))
		}
		return dispatchSameDType("FillDiagonal", inputs[0], func() (*tensor.Tensor, error) {
			return fillDiagonalTyped(tensor.DenseOf[float32](inputs[0]), tensor.DenseOf[float32](inputs[1]))
		}, func() (*tensor.Tensor, error) {
			return fillDiagonalTyped(tensor.DenseOf[float64](inputs[0]), tensor.DenseOf[float64](inputs[1]))
		}, func() (*tensor.Tensor, error) {
			return fillDiagonalTyped(tensor.DenseOf[int32](inputs[0]), tensor.DenseOf[int32](inputs[1]))
		}, func() (*tensor.Tensor, error) {
			return fillDiagonalTyped(tensor.DenseOf[int64](inputs[0]), tensor.DenseOf[int64](inputs[1]))
		})
	}
}

func fillDiagonalTyped[T tensor.Number](a, val *tensor.Dense[T]) (*tensor.Tensor, error) {
	if val.Size() != 1 {
		return nil, Raisef(KindTypeError, "FillDiagonal: fill value must be a scalar")
	}
	v := val.Flat()[0]
	dims := a.Dims()
	if len(dims) < 2 {
		return nil, Raisef(KindValueError, "FillDiagonal: input must have rank >= 2, got %d", len(dims))
	}
	out := a.Clone()
	flat := out.Flat()
	if len(dims) == 2 {
		height, width := dims[0], dims[1]
		n := min(height, width)
		for k := 0; k < n; k++ {
			flat[k*(width+1)] = v
		}
		return tensor.FromDense(out), nil
	}
	// Rank > 2 requires a hypercube, filled at a constant flat step.
	n := dims[0]
	step := 0
	for axis, stride := range out.Strides() {
		if dims[axis] != n {
			return nil, Raisef(KindValueError, "FillDiagonal: all dimensions must be equal for rank > 2, got %v", dims)
		}
		step += stride
	}
	for k := 0; k < n; k++ {
		flat[k*step] = v
	}
	return tensor.FromDense(out), nil
}

// fillDiagonalOffsetKernel writes a scalar on an offset diagonal of a
// matrix. Inputs: matrix, scalar value, scalar integer offset.
func fillDiagonalOffsetKernel() Kernel {
	return func(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if len(inputs) != 3 {
			return nil, Raisef(KindTypeError, "FillDiagonalOffset takes 3 inputs, got %d", len(inputs))
		}
		offset, err := scalarInt(inputs[2])
		if err != nil {
			return nil, Raisef(KindTypeError, "FillDiagonalOffset: %v", err)
		}
		return dispatchSameDType("FillDiagonalOffset", inputs[0], func() (*tensor.Tensor, error) {
			return fillDiagonalOffsetTyped(tensor.DenseOf[float32](inputs[0]), tensor.DenseOf[float32](inputs[1]), offset)
		}, func() (*tensor.Tensor, error) {
			return fillDiagonalOffsetTyped(tensor.DenseOf[float64](inputs[0]), tensor.DenseOf[float64](inputs[1]), offset)
		}, func() (*tensor.Tensor, error) {
			return fillDiagonalOffsetTyped(tensor.DenseOf[int32](inputs[0]), tensor.DenseOf[int32](inputs[1]), offset)
		}, func() (*tensor.Tensor, error) {
			return fillDiagonalOffsetTyped(tensor.DenseOf[int64](inputs[0]), tensor.DenseOf[int64](inputs[1]), offset)
		})
	}
}

func fillDiagonalOffsetTyped[T tensor.Number](a, val *tensor.Dense[T], offset int) (*tensor.Tensor, error) {
	if val.Size() != 1 {
		return nil, Raisef(KindTypeError, "FillDiagonalOffset: fill value must be a scalar")
	}
	v := val.Flat()[0]
	dims := a.Dims()
	if len(dims) != 2 {
		return nil, Raisef(KindValueError, "FillDiagonalOffset: input must have rank 2, got %d", len(dims))
	}
	height, width := dims[0], dims[1]
	var start, n int
	if offset >= 0 {
		start = offset
		n = min(min(width, height), width-offset)
	} else {
		start = -offset * width
		n = min(min(width, height), height+offset)
	}
	out := a.Clone()
	flat := out.Flat()
	for k := 0; k < n; k++ {
		flat[start+k*(width+1)] = v
	}
	return tensor.FromDense(out), nil
}

// dispatchSameDType invokes the branch matching x's dtype. The branches are
// expected to close over all of the kernel inputs, which must share x's
// dtype where relevant.
func dispatchSameDType(opName string, x *tensor.Tensor,
	f32, f64, i32, i64 func() (*tensor.Tensor, error)) ([]*tensor.Tensor, error) {
	var out *tensor.Tensor
	var err error
	switch x.DType() {
	case dtypes.Float32:
		out, err = f32()
	case dtypes.Float64:
		out, err = f64()
	case dtypes.Int32:
		out, err = i32()
	case dtypes.Int64:
		out, err = i64()
	default:
		return nil, Raisef(KindTypeError, "%s: unsupported dtype %s", opName, x.DType())
	}
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{out}, nil
}
