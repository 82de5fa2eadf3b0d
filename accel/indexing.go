package accel

import (
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/symconv/symconv/types/tensor"
)

// ravelMultiIndexKernel converts per-axis coordinate arrays into flat
// row-major indices. Inputs: one int64 coordinate tensor per axis, all with
// the same dims, followed by the 1D int64 target shape. The out-of-bounds
// policy is applied per-coordinate before the strides dot-product.
func ravelMultiIndexKernel(cfg RavelMultiIndex) Kernel {
	return func(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if len(inputs) < 2 {
			return nil, Raisef(KindTypeError, "RavelMultiIndex takes at least 2 inputs, got %d", len(inputs))
		}
		shapeT := inputs[len(inputs)-1]
		coords := inputs[:len(inputs)-1]
		if shapeT.DType() != dtypes.Int64 || shapeT.Rank() != 1 {
			return nil, Raisef(KindTypeError, "RavelMultiIndex: shape must be a 1D int64 tensor")
		}
		shape := tensor.DenseOf[int64](shapeT).Flat()
		if len(shape) != len(coords) {
			return nil, Raisef(KindValueError, "RavelMultiIndex: %d coordinate arrays for shape of length %d", len(coords), len(shape))
		}

		strides := make([]int64, len(shape))
		stride := int64(1)
		for i := len(shape) - 1; i >= 0; i-- {
			strides[i] = stride
			stride *= shape[i]
		}

		first := tensor.DenseOf[int64](coords[0])
		out := make([]int64, first.Size())
		for i, coord := range coords {
			if coord.DType() != dtypes.Int64 {
				return nil, Raisef(KindTypeError, "RavelMultiIndex: coordinates must be int64, got %s", coord.DType())
			}
			flat := tensor.DenseOf[int64](coord).Flat()
			if len(flat) != len(out) {
				return nil, Raisef(KindValueError, "RavelMultiIndex: coordinate arrays must have matching sizes")
			}
			d := shape[i]
			for j, v := range flat {
				if v < 0 || v >= d {
					switch cfg.Mode {
					case RavelRaise:
						return nil, Raisef(KindValueError, "invalid entry in coordinates array")
					case RavelWrap:
						v = ((v % d) + d) % d
					case RavelClip:
						v = min(max(v, 0), d-1)
					}
				}
				out[j] += v * strides[i]
			}
		}
		return []*tensor.Tensor{tensor.FromFlatAny(out, first.Dims()...)}, nil
	}
}

// unravelIndexKernel converts flat row-major indices into per-axis
// coordinates, one output tensor per axis.
func unravelIndexKernel() Kernel {
	return func(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if len(inputs) != 2 {
			return nil, Raisef(KindTypeError, "UnravelIndex takes 2 inputs, got %d", len(inputs))
		}
		if inputs[0].DType() != dtypes.Int64 || inputs[1].DType() != dtypes.Int64 || inputs[1].Rank() != 1 {
			return nil, Raisef(KindTypeError, "UnravelIndex: indices and shape must be int64, shape 1D")
		}
		indices := tensor.DenseOf[int64](inputs[0])
		shape := tensor.DenseOf[int64](inputs[1]).Flat()

		strides := make([]int64, len(shape))
		stride := int64(1)
		for i := len(shape) - 1; i >= 0; i-- {
			strides[i] = stride
			stride *= shape[i]
		}

		outputs := make([]*tensor.Tensor, len(shape))
		for i := range shape {
			coord := make([]int64, indices.Size())
			for j, idx := range indices.Flat() {
				coord[j] = (idx / strides[i]) % shape[i]
			}
			outputs[i] = tensor.FromFlatAny(coord, indices.Dims()...)
		}
		return outputs, nil
	}
}

// searchsortedKernel finds insertion indices of values into a sorted 1D
// tensor. Inputs: sorted haystack, values, and optionally an int64 sorter
// permutation (general path only).
func searchsortedKernel(cfg Searchsorted) Kernel {
	return func(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		wantInputs := 2
		if cfg.HasSorter {
			wantInputs = 3
		}
		if len(inputs) != wantInputs {
			return nil, Raisef(KindTypeError, "Searchsorted takes %d inputs, got %d", wantInputs, len(inputs))
		}
		var sorter []int64
		if cfg.HasSorter {
			sorterT := inputs[2]
			if sorterT.DType() != dtypes.Int64 || sorterT.Rank() != 1 {
				return nil, Raisef(KindTypeError, "Searchsorted: sorter must be a 1D int64 tensor")
			}
			sorter = tensor.DenseOf[int64](sorterT).Flat()
		}
		return dispatchSameDType("Searchsorted", inputs[0], func() (*tensor.Tensor, error) {
			return searchsortedTyped(tensor.DenseOf[float32](inputs[0]), tensor.DenseOf[float32](inputs[1]), cfg.Side, sorter)
		}, func() (*tensor.Tensor, error) {
			return searchsortedTyped(tensor.DenseOf[float64](inputs[0]), tensor.DenseOf[float64](inputs[1]), cfg.Side, sorter)
		}, func() (*tensor.Tensor, error) {
			return searchsortedTyped(tensor.DenseOf[int32](inputs[0]), tensor.DenseOf[int32](inputs[1]), cfg.Side, sorter)
		}, func() (*tensor.Tensor, error) {
			return searchsortedTyped(tensor.DenseOf[int64](inputs[0]), tensor.DenseOf[int64](inputs[1]), cfg.Side, sorter)
		})
	}
}

func searchsortedTyped[T tensor.Number](a, v *tensor.Dense[T], side Side, sorter []int64) (*tensor.Tensor, error) {
	if a.Rank() != 1 {
		return nil, Raisef(KindValueError, "Searchsorted: haystack must be 1D, got rank %d", a.Rank())
	}
	haystack := a.Flat()
	at := func(i int) T { return haystack[i] }
	if sorter != nil {
		if len(sorter) != len(haystack) {
			return nil, Raisef(KindValueError, "Searchsorted: sorter length %d != haystack length %d", len(sorter), len(haystack))
		}
		at = func(i int) T { return haystack[sorter[i]] }
	}

	out := make([]int64, v.Size())
	for j, value := range v.Flat() {
		lo, hi := 0, len(haystack)
		for lo < hi {
			mid := (lo + hi) / 2
			goRight := at(mid) < value
			if side == SideRight {
				goRight = at(mid) <= value
			}
			if goRight {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		out[j] = int64(lo)
	}
	return tensor.FromFlatAny(out, v.Dims()...), nil
}
