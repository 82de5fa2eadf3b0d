package conv

import (
	"github.com/gomlx/exceptions"
	"github.com/symconv/symconv/accel"
	"github.com/symconv/symconv/graph"
	"github.com/symconv/symconv/types/shapes"
)

// AssertShapes enables runtime checks that tensors match the shapes
// declared in ConvParams. It is read during graph construction and never
// written during execution; set it once at startup.
var AssertShapes = false

// assertShape wraps x so that its shape is checked against expected.
// Known dimensions of x are validated eagerly, panicking on mismatch;
// dimensions that only resolve at evaluation time get a runtime assertion
// node. Unknown expected entries are not checked, and a nil or fully
// unknown expected shape passes x through unchanged.
func assertShape(x *graph.Node, expected []int, msg string) *graph.Node {
	if expected == nil || !AssertShapes {
		return x
	}
	dims := x.Shape().Dimensions
	if len(expected) != len(dims) {
		exceptions.Panicf("%s: expected shape %v for rank %d tensor", msg, expected, len(dims))
	}
	var conds []*graph.Node
	for axis, want := range expected {
		if want == shapes.Unknown {
			continue
		}
		if dims[axis] != shapes.Unknown {
			if dims[axis] != want {
				exceptions.Panicf("%s: axis %d has dimension %d, expected %d", msg, axis, dims[axis], want)
			}
			continue
		}
		conds = append(conds, graph.Equal(graph.Dim(x, axis), graph.ConstScalar(int64(want))))
	}
	if conds == nil {
		return x
	}
	return graph.AssertTrue(x, accel.KindAssertionError, msg, conds...)
}

// checkConvDims validates that dims is a plausible convolution shape:
// batch and channel entries non-negative, spatial entries strictly
// positive. Unknown entries are skipped. Panics on violation.
func checkConvDims(dims []int) {
	for i, n := range dims {
		if n == shapes.Unknown {
			continue
		}
		if i < 2 && n < 0 {
			exceptions.Panicf("conv: the convolution would produce an invalid shape (dim[%d]: %d < 0)", i, n)
		}
		if i >= 2 && n <= 0 {
			exceptions.Panicf("conv: the convolution would produce an invalid shape (dim[%d]: %d <= 0)", i, n)
		}
	}
}

// assertSpatialShape wraps a spatial-shape vector node so that every
// entry is checked to be strictly positive at evaluation time.
func assertSpatialShape(shape *graph.Node, convdim int) *graph.Node {
	if !AssertShapes {
		return shape
	}
	conds := make([]*graph.Node, convdim)
	for i := 0; i < convdim; i++ {
		entry := graph.Squeeze(graph.SliceAxis(shape, 0, i, i+1, 1), 0)
		conds[i] = graph.GreaterThan(entry, graph.ConstScalar(0))
	}
	return graph.AssertTrue(shape, accel.KindValueError,
		"conv: the convolution would produce an invalid spatial shape", conds...)
}

// spatialShapeNode builds a 1-D int64 vector node holding the trailing
// convdim dimensions of x. Statically known dimensions fold to constants.
func spatialShapeNode(x *graph.Node, convdim int) *graph.Node {
	rank := x.Shape().Rank()
	parts := make([]*graph.Node, convdim)
	for i := 0; i < convdim; i++ {
		parts[i] = graph.Reshape(graph.Dim(x, rank-convdim+i), 1)
	}
	if convdim == 1 {
		return parts[0]
	}
	return graph.Concatenate(parts, 0)
}
