package accel

import (
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/symconv/symconv/types/tensor"
)

// cumKernel builds the cumulative sum/product kernel. With an axis, the
// tensor is transposed axis-first, scanned along the leading axis and
// transposed back with the inverse permutation, for both modes.
func cumKernel(cfg Cum) Kernel {
	return func(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if len(inputs) != 1 {
			return nil, Raisef(KindTypeError, "Cum takes 1 input, got %d", len(inputs))
		}
		x := inputs[0]
		var out *tensor.Tensor
		var err error
		switch x.DType() {
		case dtypes.Float32:
			out, err = cumTyped(tensor.DenseOf[float32](x), cfg)
		case dtypes.Float64:
			out, err = cumTyped(tensor.DenseOf[float64](x), cfg)
		case dtypes.Int32:
			out, err = cumTyped(tensor.DenseOf[int32](x), cfg)
		case dtypes.Int64:
			out, err = cumTyped(tensor.DenseOf[int64](x), cfg)
		default:
			return nil, Raisef(KindTypeError, "Cum: unsupported dtype %s", x.DType())
		}
		if err != nil {
			return nil, err
		}
		return []*tensor.Tensor{out}, nil
	}
}

func cumTyped[T tensor.Number](x *tensor.Dense[T], cfg Cum) (*tensor.Tensor, error) {
	ndim := x.Rank()
	if cfg.Axis == nil || ndim <= 1 {
		out := make([]T, x.Size())
		acc := cumIdentity[T](cfg.Mode)
		for i, v := range x.Flat() {
			acc = cumCombine(cfg.Mode, acc, v)
			out[i] = acc
		}
		if cfg.Axis == nil {
			return tensor.FromFlatAny(out, len(out)), nil
		}
		if axis := *cfg.Axis; axis != 0 && axis != -1 && ndim != 0 {
			return nil, Raisef(KindValueError, "Cum: invalid axis %d for rank %d", axis, ndim)
		}
		return tensor.FromFlatAny(out, x.Dims()...), nil
	}

	axis := *cfg.Axis
	if axis < 0 {
		axis += ndim
	}
	if axis < 0 || axis >= ndim {
		return nil, Raisef(KindValueError, "Cum: invalid axis %d for rank %d", *cfg.Axis, ndim)
	}

	axisFirst := make([]int, 0, ndim)
	axisFirst = append(axisFirst, axis)
	for i := 0; i < ndim; i++ {
		if i != axis {
			axisFirst = append(axisFirst, i)
		}
	}
	inverse := make([]int, ndim)
	for i, p := range axisFirst {
		inverse[p] = i
	}

	transposed := x.Transpose(axisFirst...)
	flat := transposed.Flat()
	n := transposed.Dims()[0]
	if n > 1 {
		rest := transposed.Size() / n
		for m := 1; m < n; m++ {
			for j := 0; j < rest; j++ {
				flat[m*rest+j] = cumCombine(cfg.Mode, flat[(m-1)*rest+j], flat[m*rest+j])
			}
		}
	}
	return tensor.FromDense(transposed.Transpose(inverse...)), nil
}

func cumIdentity[T tensor.Number](mode CumMode) T {
	if mode == CumProd {
		return 1
	}
	return 0
}

func cumCombine[T tensor.Number](mode CumMode, a, b T) T {
	if mode == CumProd {
		return a * b
	}
	return a + b
}
