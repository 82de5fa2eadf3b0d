// Package shapes defines Shape, the static description of a tensor or of a
// node in a symbolic expression graph.
//
// Unlike a concrete tensor shape, a symbolic shape may have axes whose
// dimension is not known at graph-construction time. Those are marked with
// the Unknown sentinel, and every shape computation in this module is
// required to propagate unknown-ness rather than guess a value.
//
// The DType enumeration comes from github.com/gomlx/gopjrt/dtypes.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a tensor.
//   - Axis: the index of a dimension. We refer to the dimension index as
//     "axis" (plural axes), and to its size as its dimension.
//   - Unknown dimension: an axis whose size will only be resolved when the
//     graph is evaluated with concrete inputs.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Unknown marks an axis whose dimension is not statically known.
const Unknown = int(-1)

// Shape represents the shape of either a concrete tensor or the expected
// value of a node in an expression graph. Dimensions entries are either
// positive or Unknown.
//
// Use Make (or UnknownOfRank) to create one.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given dtype and dimensions. Each dimension
// must be non-negative or Unknown.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim != Unknown && dim < 0 {
			exceptions.Panicf("shapes.Make(%s): dimensions must be non-negative or shapes.Unknown, got %v", dtype, dimensions)
		}
	}
	return s
}

// UnknownOfRank returns a Shape of the given rank with every dimension
// marked Unknown.
func UnknownOfRank(dtype dtypes.DType, rank int) Shape {
	dims := make([]int, rank)
	for i := range dims {
		dims[i] = Unknown
	}
	return Shape{DType: dtype, Dimensions: dims}
}

// Invalid returns an invalid shape. Invalid().Ok() == false.
func Invalid() Shape { return Shape{DType: dtypes.InvalidDType} }

// Ok returns whether this is a valid Shape -- the zero value Shape{} is not.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. Negative values count from
// the end, so Dim(-1) is the last axis. It panics for an out-of-bounds axis.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjusted]
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// IsFullyKnown reports whether no axis is Unknown.
func (s Shape) IsFullyKnown() bool {
	return !slices.Contains(s.Dimensions, Unknown)
}

// HasUnknown reports whether any axis is Unknown.
func (s Shape) HasUnknown() bool { return !s.IsFullyKnown() }

// Size returns the number of elements, the product of all dimensions.
// It panics if any dimension is Unknown.
func (s Shape) Size() (size int) {
	size = 1
	for axis, d := range s.Dimensions {
		if d == Unknown {
			exceptions.Panicf("Shape.Size() of %s: axis %d is unknown", s, axis)
		}
		size *= d
	}
	return
}

// String implements fmt.Stringer, pretty-printing the shape, with "?" for
// unknown dimensions.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, 0, s.Rank())
	for _, dim := range s.Dimensions {
		if dim == Unknown {
			parts = append(parts, "?")
		} else {
			parts = append(parts, fmt.Sprintf("%d", dim))
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// Equal compares dtype and dimensions. Unknown dimensions only compare equal
// to Unknown.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares dimensions only, DTypes may differ.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// MatchesKnown reports whether concrete could be a resolution of s: same
// rank, and every known axis of s equal to the corresponding axis of
// concrete. Unknown axes of s match anything.
func (s Shape) MatchesKnown(concrete []int) bool {
	if s.Rank() != len(concrete) {
		return false
	}
	for axis, dim := range s.Dimensions {
		if dim != Unknown && dim != concrete[axis] {
			return false
		}
	}
	return true
}

// MergeDims combines two dimension slices of the same rank, preferring known
// values over Unknown. It returns an error if both sides know an axis and
// they disagree.
//
// It is used by shape inference to prefer statically-known construction-time
// values over input-derived ones.
func MergeDims(a, b []int) ([]int, error) {
	if len(a) != len(b) {
		return nil, errors.Errorf("MergeDims: ranks differ, %d vs %d", len(a), len(b))
	}
	merged := make([]int, len(a))
	for axis := range a {
		switch {
		case a[axis] == Unknown:
			merged[axis] = b[axis]
		case b[axis] == Unknown || a[axis] == b[axis]:
			merged[axis] = a[axis]
		default:
			return nil, errors.Errorf("MergeDims: axis %d disagrees, %d vs %d", axis, a[axis], b[axis])
		}
	}
	return merged, nil
}
