// Package tensor provides the concrete, row-major dense tensors used when
// directly executing expression-graph nodes.
//
// Dense[T] is parameterized over the Go float type; Tensor is the
// dtype-erased wrapper that flows through the graph, in the style of a
// backend buffer. The operations here are deliberately simple loop-based
// implementations: they back the reference convolution kernels used for
// semantic validation, not a production backend.
package tensor

import (
	"slices"

	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
)

// Number constrains the element types a Dense tensor may hold.
type Number interface {
	constraints.Integer | constraints.Float
}

// Dense is a concrete row-major tensor of numeric values.
type Dense[T Number] struct {
	dims []int
	flat []T
}

// New returns a zero-initialized Dense with the given dimensions.
func New[T Number](dims ...int) *Dense[T] {
	size := 1
	for _, d := range dims {
		if d < 0 {
			exceptions.Panicf("tensor.New: negative dimension in %v", dims)
		}
		size *= d
	}
	return &Dense[T]{dims: slices.Clone(dims), flat: make([]T, size)}
}

// FromFlat wraps an existing flat slice. The flat length must equal the
// product of dims.
func FromFlat[T Number](flat []T, dims ...int) *Dense[T] {
	size := 1
	for _, d := range dims {
		size *= d
	}
	if size != len(flat) {
		exceptions.Panicf("tensor.FromFlat: dims %v require %d elements, got %d", dims, size, len(flat))
	}
	return &Dense[T]{dims: slices.Clone(dims), flat: flat}
}

// Dims returns the dimensions. The returned slice must not be modified.
func (d *Dense[T]) Dims() []int { return d.dims }

// Rank returns the number of axes.
func (d *Dense[T]) Rank() int { return len(d.dims) }

// Size returns the total number of elements.
func (d *Dense[T]) Size() int { return len(d.flat) }

// Flat returns the underlying row-major backing slice.
func (d *Dense[T]) Flat() []T { return d.flat }

// Strides returns the row-major strides for each axis.
func (d *Dense[T]) Strides() []int {
	strides := make([]int, len(d.dims))
	stride := 1
	for axis := len(d.dims) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= d.dims[axis]
	}
	return strides
}

func (d *Dense[T]) flatIndex(indices []int) int {
	if len(indices) != len(d.dims) {
		exceptions.Panicf("tensor: got %d indices for rank %d", len(indices), len(d.dims))
	}
	idx := 0
	for axis, i := range indices {
		if i < 0 || i >= d.dims[axis] {
			exceptions.Panicf("tensor: index %d out-of-bounds for axis %d (dim %d)", i, axis, d.dims[axis])
		}
		idx = idx*d.dims[axis] + i
	}
	return idx
}

// At returns the element at the given indices.
func (d *Dense[T]) At(indices ...int) T { return d.flat[d.flatIndex(indices)] }

// Set assigns the element at the given indices.
func (d *Dense[T]) Set(value T, indices ...int) { d.flat[d.flatIndex(indices)] = value }

// Clone returns a deep copy.
func (d *Dense[T]) Clone() *Dense[T] {
	return &Dense[T]{dims: slices.Clone(d.dims), flat: slices.Clone(d.flat)}
}

// Reshape returns a view-copy with the same flat contents and new dims. One
// dimension may be -1, in which case it is inferred from the total size.
func (d *Dense[T]) Reshape(dims ...int) *Dense[T] {
	dims = slices.Clone(dims)
	inferAxis, size := -1, 1
	for axis, dim := range dims {
		if dim == -1 {
			if inferAxis >= 0 {
				exceptions.Panicf("tensor.Reshape: more than one -1 in %v", dims)
			}
			inferAxis = axis
			continue
		}
		size *= dim
	}
	if inferAxis >= 0 {
		if size == 0 || len(d.flat)%size != 0 {
			exceptions.Panicf("tensor.Reshape: cannot infer axis %d of %v for %d elements", inferAxis, dims, len(d.flat))
		}
		dims[inferAxis] = len(d.flat) / size
		size *= dims[inferAxis]
	}
	if size != len(d.flat) {
		exceptions.Panicf("tensor.Reshape: dims %v don't match %d elements", dims, len(d.flat))
	}
	return &Dense[T]{dims: dims, flat: slices.Clone(d.flat)}
}

// iterIndices calls fn once for every multi-index of dims, reusing the same
// index buffer across calls.
func iterIndices(dims []int, fn func(indices []int)) {
	indices := make([]int, len(dims))
	for {
		fn(indices)
		axis := len(dims) - 1
		for ; axis >= 0; axis-- {
			indices[axis]++
			if indices[axis] < dims[axis] {
				break
			}
			indices[axis] = 0
		}
		if axis < 0 {
			return
		}
	}
}

// Transpose returns a copy with axes permuted: result axis i corresponds to
// input axis perm[i].
func (d *Dense[T]) Transpose(perm ...int) *Dense[T] {
	if len(perm) != len(d.dims) {
		exceptions.Panicf("tensor.Transpose: permutation %v for rank %d", perm, len(d.dims))
	}
	newDims := make([]int, len(perm))
	for axis, p := range perm {
		newDims[axis] = d.dims[p]
	}
	out := New[T](newDims...)
	srcIndices := make([]int, len(perm))
	iterIndices(newDims, func(indices []int) {
		for axis, p := range perm {
			srcIndices[p] = indices[axis]
		}
		out.flat[out.flatIndex(indices)] = d.flat[d.flatIndex(srcIndices)]
	})
	return out
}

// Reverse returns a copy with the given axes flipped.
func (d *Dense[T]) Reverse(axes ...int) *Dense[T] {
	flip := make([]bool, len(d.dims))
	for _, axis := range axes {
		if axis < 0 {
			axis += len(d.dims)
		}
		if axis < 0 || axis >= len(d.dims) {
			exceptions.Panicf("tensor.Reverse: axis out-of-bounds for rank %d", len(d.dims))
		}
		flip[axis] = true
	}
	out := New[T](d.dims...)
	srcIndices := make([]int, len(d.dims))
	iterIndices(d.dims, func(indices []int) {
		for axis, i := range indices {
			if flip[axis] {
				srcIndices[axis] = d.dims[axis] - 1 - i
			} else {
				srcIndices[axis] = i
			}
		}
		out.flat[out.flatIndex(indices)] = d.flat[d.flatIndex(srcIndices)]
	})
	return out
}

// PadZero returns a copy zero-padded with pads[axis] = [before, after] per
// axis. All pad values must be non-negative.
func (d *Dense[T]) PadZero(pads [][2]int) *Dense[T] {
	if len(pads) != len(d.dims) {
		exceptions.Panicf("tensor.PadZero: got %d pad pairs for rank %d", len(pads), len(d.dims))
	}
	newDims := make([]int, len(d.dims))
	for axis, dim := range d.dims {
		if pads[axis][0] < 0 || pads[axis][1] < 0 {
			exceptions.Panicf("tensor.PadZero: negative padding %v", pads)
		}
		newDims[axis] = dim + pads[axis][0] + pads[axis][1]
	}
	out := New[T](newDims...)
	dstIndices := make([]int, len(d.dims))
	iterIndices(d.dims, func(indices []int) {
		for axis, i := range indices {
			dstIndices[axis] = i + pads[axis][0]
		}
		out.flat[out.flatIndex(dstIndices)] = d.flat[d.flatIndex(indices)]
	})
	return out
}

// ExpandStrided scatters d into a zero tensor of newDims, placing element
// [i0, i1, ...] at [i0*strides[0], i1*strides[1], ...]. A stride of 1
// leaves an axis unchanged (newDims must still be >= the source dim).
//
// This is the zero-interleave used both for kernel dilation and for undoing
// subsampling of a gradient.
func (d *Dense[T]) ExpandStrided(newDims []int, strides []int) *Dense[T] {
	if len(newDims) != len(d.dims) || len(strides) != len(d.dims) {
		exceptions.Panicf("tensor.ExpandStrided: rank mismatch (dims %v, newDims %v, strides %v)", d.dims, newDims, strides)
	}
	out := New[T](newDims...)
	dstIndices := make([]int, len(d.dims))
	iterIndices(d.dims, func(indices []int) {
		for axis, i := range indices {
			dstIndices[axis] = i * strides[axis]
		}
		out.flat[out.flatIndex(dstIndices)] = d.flat[d.flatIndex(indices)]
	})
	return out
}

// Strided returns a copy keeping every steps[axis]-th element along each
// axis, starting at 0 -- the numpy [::step] slice.
func (d *Dense[T]) Strided(steps []int) *Dense[T] {
	if len(steps) != len(d.dims) {
		exceptions.Panicf("tensor.Strided: got %d steps for rank %d", len(steps), len(d.dims))
	}
	newDims := make([]int, len(d.dims))
	for axis, dim := range d.dims {
		if steps[axis] < 1 {
			exceptions.Panicf("tensor.Strided: steps must be >= 1, got %v", steps)
		}
		newDims[axis] = (dim + steps[axis] - 1) / steps[axis]
	}
	out := New[T](newDims...)
	srcIndices := make([]int, len(d.dims))
	iterIndices(newDims, func(indices []int) {
		for axis, i := range indices {
			srcIndices[axis] = i * steps[axis]
		}
		out.flat[out.flatIndex(indices)] = d.flat[d.flatIndex(srcIndices)]
	})
	return out
}

// SliceAxis returns a copy restricted to [start, stop) along the given axis.
func (d *Dense[T]) SliceAxis(axis, start, stop int) *Dense[T] {
	if axis < 0 {
		axis += len(d.dims)
	}
	if axis < 0 || axis >= len(d.dims) || start < 0 || stop > d.dims[axis] || start > stop {
		exceptions.Panicf("tensor.SliceAxis: invalid slice [%d:%d] of axis %d for dims %v", start, stop, axis, d.dims)
	}
	newDims := slices.Clone(d.dims)
	newDims[axis] = stop - start
	out := New[T](newDims...)
	srcIndices := make([]int, len(d.dims))
	iterIndices(newDims, func(indices []int) {
		copy(srcIndices, indices)
		srcIndices[axis] = indices[axis] + start
		out.flat[out.flatIndex(indices)] = d.flat[d.flatIndex(srcIndices)]
	})
	return out
}

// Concat concatenates tensors along the given axis. All other axes must
// match.
func Concat[T Number](axis int, parts ...*Dense[T]) *Dense[T] {
	if len(parts) == 0 {
		exceptions.Panicf("tensor.Concat: no tensors given")
	}
	first := parts[0]
	if axis < 0 {
		axis += first.Rank()
	}
	newDims := slices.Clone(first.dims)
	newDims[axis] = 0
	for _, part := range parts {
		if part.Rank() != first.Rank() {
			exceptions.Panicf("tensor.Concat: rank mismatch")
		}
		for a, dim := range part.dims {
			if a != axis && dim != first.dims[a] {
				exceptions.Panicf("tensor.Concat: axis %d dimension mismatch (%v vs %v)", a, part.dims, first.dims)
			}
		}
		newDims[axis] += part.dims[axis]
	}
	out := New[T](newDims...)
	offset := 0
	dstIndices := make([]int, len(newDims))
	for _, part := range parts {
		iterIndices(part.dims, func(indices []int) {
			copy(dstIndices, indices)
			dstIndices[axis] = indices[axis] + offset
			out.flat[out.flatIndex(dstIndices)] = part.flat[part.flatIndex(indices)]
		})
		offset += part.dims[axis]
	}
	return out
}

// Erased adapters. These let the dtype-erased Tensor delegate structural
// operations without a dtype switch per call site.

func (d *Dense[T]) reshapeAny(dims ...int) denseAny { return d.Reshape(dims...) }
func (d *Dense[T]) transposeAny(perm ...int) denseAny { return d.Transpose(perm...) }
func (d *Dense[T]) reverseAny(axes ...int) denseAny { return d.Reverse(axes...) }
func (d *Dense[T]) padZeroAny(pads [][2]int) denseAny { return d.PadZero(pads) }
func (d *Dense[T]) expandStridedAny(newDims, strides []int) denseAny {
	return d.ExpandStrided(newDims, strides)
}
func (d *Dense[T]) stridedAny(steps []int) denseAny { return d.Strided(steps) }
func (d *Dense[T]) sliceAxisAny(axis, start, stop int) denseAny {
	return d.SliceAxis(axis, start, stop)
}

func (d *Dense[T]) concatAny(axis int, others []denseAny) denseAny {
	parts := make([]*Dense[T], 0, len(others)+1)
	parts = append(parts, d)
	for _, other := range others {
		part, ok := other.(*Dense[T])
		if !ok {
			exceptions.Panicf("tensor.Concat: mixed element types (%T vs %T)", d, other)
		}
		parts = append(parts, part)
	}
	return Concat(axis, parts...)
}

func (d *Dense[T]) addAny(other denseAny) denseAny {
	rhs, ok := other.(*Dense[T])
	if !ok {
		exceptions.Panicf("tensor.Add: mixed element types (%T vs %T)", d, other)
	}
	if !slices.Equal(d.dims, rhs.dims) {
		exceptions.Panicf("tensor.Add: dims mismatch (%v vs %v)", d.dims, rhs.dims)
	}
	out := New[T](d.dims...)
	for i, v := range d.flat {
		out.flat[i] = v + rhs.flat[i]
	}
	return out
}
