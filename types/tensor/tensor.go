package tensor

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/symconv/symconv/types/shapes"
)

// Tensor is the dtype-erased tensor that flows through graph evaluation.
// The concrete value is a *Dense[T] for some supported element type; use
// DenseOf[T] to recover the typed form.
type Tensor struct {
	dtype dtypes.DType
	value denseAny
}

// denseAny is the type-independent part of Dense[T].
type denseAny interface {
	Dims() []int
	Rank() int
	Size() int

	reshapeAny(dims ...int) denseAny
	transposeAny(perm ...int) denseAny
	reverseAny(axes ...int) denseAny
	padZeroAny(pads [][2]int) denseAny
	expandStridedAny(newDims, strides []int) denseAny
	stridedAny(steps []int) denseAny
	sliceAxisAny(axis, start, stop int) denseAny
	concatAny(axis int, others []denseAny) denseAny
	addAny(other denseAny) denseAny
}

// DTypeFor returns the DType corresponding to the Go element type T.
func DTypeFor[T Number]() dtypes.DType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return dtypes.Float32
	case float64:
		return dtypes.Float64
	case int32:
		return dtypes.Int32
	case int64:
		return dtypes.Int64
	case int:
		return dtypes.Int64
	}
	exceptions.Panicf("tensor: unsupported element type %T", zero)
	return dtypes.InvalidDType
}

// FromDense wraps a typed Dense into a dtype-erased Tensor.
func FromDense[T Number](d *Dense[T]) *Tensor {
	return &Tensor{dtype: DTypeFor[T](), value: d}
}

// FromFlatAny builds a Tensor directly from a flat slice and dims.
func FromFlatAny[T Number](flat []T, dims ...int) *Tensor {
	return FromDense(FromFlat(flat, dims...))
}

// DenseOf recovers the typed Dense. It panics if T doesn't match the
// tensor's element type.
func DenseOf[T Number](t *Tensor) *Dense[T] {
	d, ok := t.value.(*Dense[T])
	if !ok {
		exceptions.Panicf("tensor: requested %s view of %s tensor", DTypeFor[T](), t.dtype)
	}
	return d
}

// DType returns the element type.
func (t *Tensor) DType() dtypes.DType { return t.dtype }

// Dims returns the dimensions.
func (t *Tensor) Dims() []int { return t.value.Dims() }

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return t.value.Rank() }

// Size returns the total number of elements.
func (t *Tensor) Size() int { return t.value.Size() }

// Shape returns the fully-known shape of the tensor.
func (t *Tensor) Shape() shapes.Shape {
	return shapes.Make(t.dtype, t.Dims()...)
}

// Zeros returns a zero-filled tensor of the given dtype and dims.
func Zeros(dtype dtypes.DType, dims ...int) *Tensor {
	switch dtype {
	case dtypes.Float32:
		return FromDense(New[float32](dims...))
	case dtypes.Float64:
		return FromDense(New[float64](dims...))
	case dtypes.Int32:
		return FromDense(New[int32](dims...))
	case dtypes.Int64:
		return FromDense(New[int64](dims...))
	}
	exceptions.Panicf("tensor.Zeros: unsupported dtype %s", dtype)
	return nil
}

// Structural operations on the erased tensor. Each delegates to the typed
// Dense implementation of the same name.

// Reshape returns a copy with new dims; one may be -1 (inferred).
func (t *Tensor) Reshape(dims ...int) *Tensor {
	return &Tensor{dtype: t.dtype, value: t.value.reshapeAny(dims...)}
}

// Transpose returns a copy with axes permuted.
func (t *Tensor) Transpose(perm ...int) *Tensor {
	return &Tensor{dtype: t.dtype, value: t.value.transposeAny(perm...)}
}

// Reverse returns a copy with the given axes flipped.
func (t *Tensor) Reverse(axes ...int) *Tensor {
	return &Tensor{dtype: t.dtype, value: t.value.reverseAny(axes...)}
}

// PadZero returns a zero-padded copy.
func (t *Tensor) PadZero(pads [][2]int) *Tensor {
	return &Tensor{dtype: t.dtype, value: t.value.padZeroAny(pads)}
}

// ExpandStrided scatters the tensor into a zero tensor of newDims at
// stride multiples.
func (t *Tensor) ExpandStrided(newDims, strides []int) *Tensor {
	return &Tensor{dtype: t.dtype, value: t.value.expandStridedAny(newDims, strides)}
}

// Strided keeps every steps[axis]-th element along each axis.
func (t *Tensor) Strided(steps []int) *Tensor {
	return &Tensor{dtype: t.dtype, value: t.value.stridedAny(steps)}
}

// SliceAxis restricts the tensor to [start, stop) along one axis.
func (t *Tensor) SliceAxis(axis, start, stop int) *Tensor {
	return &Tensor{dtype: t.dtype, value: t.value.sliceAxisAny(axis, start, stop)}
}

// ConcatTensors concatenates erased tensors along an axis. All must share
// a dtype.
func ConcatTensors(axis int, parts ...*Tensor) *Tensor {
	if len(parts) == 0 {
		exceptions.Panicf("tensor.ConcatTensors: no tensors given")
	}
	rest := make([]denseAny, len(parts)-1)
	for i, part := range parts[1:] {
		rest[i] = part.value
	}
	return &Tensor{dtype: parts[0].dtype, value: parts[0].value.concatAny(axis, rest)}
}

// Add returns the elementwise sum of two same-shaped tensors.
func (t *Tensor) Add(other *Tensor) *Tensor {
	return &Tensor{dtype: t.dtype, value: t.value.addAny(other.value)}
}
