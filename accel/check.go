package accel

import (
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/symconv/symconv/types/tensor"
)

// checkAndRaiseKernel passes its first input through unchanged if every
// following scalar condition is true (non-zero), else raises the configured
// error kind and message.
func checkAndRaiseKernel(cfg CheckAndRaise) Kernel {
	return func(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if len(inputs) < 1 {
			return nil, Raisef(KindTypeError, "CheckAndRaise takes at least 1 input")
		}
		for _, cond := range inputs[1:] {
			ok, err := scalarTruthy(cond)
			if err != nil {
				return nil, Raisef(KindTypeError, "CheckAndRaise: %v", err)
			}
			if !ok {
				return nil, Raisef(cfg.Kind, "%s", cfg.Msg)
			}
		}
		return inputs[:1], nil
	}
}

// scalarTruthy reports whether a single-element tensor holds a non-zero
// value.
func scalarTruthy(t *tensor.Tensor) (bool, error) {
	if t.Size() != 1 {
		return false, Raisef(KindTypeError, "condition must be a scalar, got dims %v", t.Dims())
	}
	switch t.DType() {
	case dtypes.Float32:
		return tensor.DenseOf[float32](t).Flat()[0] != 0, nil
	case dtypes.Float64:
		return tensor.DenseOf[float64](t).Flat()[0] != 0, nil
	case dtypes.Int32:
		return tensor.DenseOf[int32](t).Flat()[0] != 0, nil
	case dtypes.Int64:
		return tensor.DenseOf[int64](t).Flat()[0] != 0, nil
	}
	return false, Raisef(KindTypeError, "unsupported condition dtype %s", t.DType())
}

// scalarInt extracts an integer from a single-element int tensor.
func scalarInt(t *tensor.Tensor) (int, error) {
	if t.Size() != 1 {
		return 0, Raisef(KindTypeError, "expected a scalar, got dims %v", t.Dims())
	}
	switch t.DType() {
	case dtypes.Int32:
		return int(tensor.DenseOf[int32](t).Flat()[0]), nil
	case dtypes.Int64:
		return int(tensor.DenseOf[int64](t).Flat()[0]), nil
	}
	return 0, Raisef(KindTypeError, "expected an integer scalar, got dtype %s", t.DType())
}
