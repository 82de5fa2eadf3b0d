package accel

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/symconv/symconv/types/tensor"
)

// repeatKernel repeats elements of a tensor. Inputs: the tensor and an
// int64 repeats tensor (scalar, length 1, or one entry per repeated
// element). Without an axis the input is flattened first.
func repeatKernel(cfg Repeat) Kernel {
	return func(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if len(inputs) != 2 {
			return nil, Raisef(KindTypeError, "Repeat takes 2 inputs, got %d", len(inputs))
		}
		if inputs[1].DType() != dtypes.Int64 {
			return nil, Raisef(KindTypeError, "Repeat: repeats must be int64, got %s", inputs[1].DType())
		}
		repeats := tensor.DenseOf[int64](inputs[1]).Flat()
		for _, r := range repeats {
			if r < 0 {
				return nil, Raisef(KindValueError, "Repeat: negative repeat count %d", r)
			}
		}
		return dispatchSameDType("Repeat", inputs[0], func() (*tensor.Tensor, error) {
			return repeatTyped(tensor.DenseOf[float32](inputs[0]), repeats, cfg.Axis)
		}, func() (*tensor.Tensor, error) {
			return repeatTyped(tensor.DenseOf[float64](inputs[0]), repeats, cfg.Axis)
		}, func() (*tensor.Tensor, error) {
			return repeatTyped(tensor.DenseOf[int32](inputs[0]), repeats, cfg.Axis)
		}, func() (*tensor.Tensor, error) {
			return repeatTyped(tensor.DenseOf[int64](inputs[0]), repeats, cfg.Axis)
		})
	}
}

// repeatCounts expands a scalar or length-1 repeats into one count per
// element.
func repeatCounts(repeats []int64, n int) ([]int64, error) {
	if len(repeats) == 1 {
		counts := make([]int64, n)
		for i := range counts {
			counts[i] = repeats[0]
		}
		return counts, nil
	}
	if len(repeats) != n {
		return nil, Raisef(KindValueError, "Repeat: %d repeat counts for %d elements", len(repeats), n)
	}
	return repeats, nil
}

func repeatTyped[T tensor.Number](x *tensor.Dense[T], repeats []int64, axis *int) (*tensor.Tensor, error) {
	if axis == nil {
		counts, err := repeatCounts(repeats, x.Size())
		if err != nil {
			return nil, err
		}
		var out []T
		for i, v := range x.Flat() {
			for k := int64(0); k < counts[i]; k++ {
				out = append(out, v)
			}
		}
		return tensor.FromFlatAny(out, len(out)), nil
	}

	ndim := x.Rank()
	ax := *axis
	if ax < 0 {
		ax += ndim
	}
	if ax < 0 || ax >= ndim {
		return nil, Raisef(KindValueError, "Repeat: invalid axis %d for rank %d", *axis, ndim)
	}
	dims := x.Dims()
	counts, err := repeatCounts(repeats, dims[ax])
	if err != nil {
		return nil, err
	}
	total := int64(0)
	for _, c := range counts {
		total += c
	}

	newDims := slices.Clone(dims)
	newDims[ax] = int(total)
	outer, inner := 1, 1
	for _, d := range dims[:ax] {
		outer *= d
	}
	for _, d := range dims[ax+1:] {
		inner *= d
	}
	flat := x.Flat()
	out := make([]T, 0, outer*int(total)*inner)
	for o := 0; o < outer; o++ {
		for i := 0; i < dims[ax]; i++ {
			block := flat[(o*dims[ax]+i)*inner : (o*dims[ax]+i+1)*inner]
			for k := int64(0); k < counts[i]; k++ {
				out = append(out, block...)
			}
		}
	}
	return tensor.FromFlatAny(out, newDims...), nil
}

// uniqueKernel returns the sorted unique elements (or axis slices) of a
// tensor, optionally with first-occurrence indices, the inverse mapping and
// per-value counts.
func uniqueKernel(cfg Unique) Kernel {
	return func(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if len(inputs) != 1 {
			return nil, Raisef(KindTypeError, "Unique takes 1 input, got %d", len(inputs))
		}
		switch inputs[0].DType() {
		case dtypes.Float32:
			return uniqueTyped(tensor.DenseOf[float32](inputs[0]), cfg)
		case dtypes.Float64:
			return uniqueTyped(tensor.DenseOf[float64](inputs[0]), cfg)
		case dtypes.Int32:
			return uniqueTyped(tensor.DenseOf[int32](inputs[0]), cfg)
		case dtypes.Int64:
			return uniqueTyped(tensor.DenseOf[int64](inputs[0]), cfg)
		}
		return nil, Raisef(KindTypeError, "Unique: unsupported dtype %s", inputs[0].DType())
	}
}

func uniqueTyped[T tensor.Number](x *tensor.Dense[T], cfg Unique) ([]*tensor.Tensor, error) {
	// Rows are the units being deduplicated: single elements of the
	// flattened tensor, or slices along the chosen axis.
	var rows [][]T
	var axisFirst *tensor.Dense[T]
	var inversePerm []int
	if cfg.Axis == nil {
		for _, v := range x.Flat() {
			rows = append(rows, []T{v})
		}
	} else {
		ndim := x.Rank()
		ax := *cfg.Axis
		if ax < 0 {
			ax += ndim
		}
		if ax < 0 || ax >= ndim {
			return nil, Raisef(KindValueError, "Unique: invalid axis %d for rank %d", *cfg.Axis, ndim)
		}
		perm := make([]int, 0, ndim)
		perm = append(perm, ax)
		for i := 0; i < ndim; i++ {
			if i != ax {
				perm = append(perm, i)
			}
		}
		inversePerm = make([]int, ndim)
		for i, p := range perm {
			inversePerm[p] = i
		}
		axisFirst = x.Transpose(perm...)
		n := axisFirst.Dims()[0]
		if n > 0 {
			rest := axisFirst.Size() / n
			for i := 0; i < n; i++ {
				rows = append(rows, axisFirst.Flat()[i*rest:(i+1)*rest])
			}
		}
	}

	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return slices.Compare(rows[a], rows[b])
	})

	var uniqueRows [][]T
	firstIndex := make([]int64, 0, len(rows))
	counts := make([]int64, 0, len(rows))
	inverse := make([]int64, len(rows))
	for _, idx := range order {
		last := len(uniqueRows) - 1
		if last < 0 || slices.Compare(uniqueRows[last], rows[idx]) != 0 {
			uniqueRows = append(uniqueRows, rows[idx])
			firstIndex = append(firstIndex, int64(idx))
			counts = append(counts, 0)
			last++
		}
		if int64(idx) < firstIndex[last] {
			firstIndex[last] = int64(idx)
		}
		counts[last]++
		inverse[idx] = int64(last)
	}

	var values *tensor.Tensor
	if cfg.Axis == nil {
		flat := make([]T, len(uniqueRows))
		for i, row := range uniqueRows {
			flat[i] = row[0]
		}
		values = tensor.FromFlatAny(flat, len(flat))
	} else {
		restDims := axisFirst.Dims()[1:]
		stackedDims := append([]int{len(uniqueRows)}, restDims...)
		flat := make([]T, 0, len(uniqueRows)*sizeOf(restDims))
		for _, row := range uniqueRows {
			flat = append(flat, row...)
		}
		values = tensor.FromDense(tensor.FromFlat(flat, stackedDims...).Transpose(inversePerm...))
	}

	outputs := []*tensor.Tensor{values}
	if cfg.ReturnIndex {
		outputs = append(outputs, tensor.FromFlatAny(firstIndex, len(firstIndex)))
	}
	if cfg.ReturnInverse {
		outputs = append(outputs, tensor.FromFlatAny(inverse, len(inverse)))
	}
	if cfg.ReturnCounts {
		outputs = append(outputs, tensor.FromFlatAny(counts, len(counts)))
	}
	return outputs, nil
}

func sizeOf(dims []int) int {
	size := 1
	for _, d := range dims {
		size *= d
	}
	return size
}
