package graph

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/symconv/symconv/accel"
	"github.com/symconv/symconv/types/shapes"
	"github.com/symconv/symconv/types/tensor"
)

// adjustAxis normalizes a possibly negative axis and panics if it is out of
// range. Axis validity never depends on unknown dimensions.
func adjustAxis(axis, rank int, opName string) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += rank
	}
	if adjusted < 0 || adjusted >= rank {
		exceptions.Panicf("graph.%s: invalid axis %d for rank %d", opName, axis, rank)
	}
	return adjusted
}

type reshapeOp struct {
	dims []int
}

func (op *reshapeOp) Name() string { return "Reshape" }

func (op *reshapeOp) InferShape(inputs []shapes.Shape) (shapes.Shape, error) {
	input := inputs[0]
	out := slices.Clone(op.dims)
	if !input.IsFullyKnown() {
		// The -1 entry, if any, cannot be resolved yet.
		for i, dim := range out {
			if dim == -1 {
				out[i] = shapes.Unknown
			}
		}
		return shapes.Make(input.DType, out...), nil
	}
	inferAxis, size := -1, 1
	for i, dim := range out {
		if dim == -1 {
			if inferAxis >= 0 {
				return shapes.Invalid(), errors.Errorf("more than one -1 in target dims %v", op.dims)
			}
			inferAxis = i
			continue
		}
		size *= dim
	}
	if inferAxis >= 0 {
		if size == 0 || input.Size()%size != 0 {
			return shapes.Invalid(), errors.Errorf("cannot infer axis %d of %v from %s", inferAxis, op.dims, input)
		}
		out[inferAxis] = input.Size() / size
		size *= out[inferAxis]
	}
	if size != input.Size() {
		return shapes.Invalid(), errors.Errorf("target dims %v don't match %s", op.dims, input)
	}
	return shapes.Make(input.DType, out...), nil
}

func (op *reshapeOp) Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	return inputs[0].Reshape(op.dims...), nil
}

func (op *reshapeOp) VJP(node *Node, outputGrad *Node) []*Node {
	input := node.Inputs()[0].Shape()
	if !input.IsFullyKnown() {
		exceptions.Panicf("graph.Reshape: cannot backpropagate with unknown input dimensions %s", input)
	}
	return []*Node{Reshape(outputGrad, input.Dimensions...)}
}

// Reshape reinterprets x with new dimensions of the same total size. One
// dimension may be -1, inferred from the rest.
func Reshape(x *Node, dims ...int) *Node {
	return NewNode(&reshapeOp{dims: slices.Clone(dims)}, x)
}

type concatOp struct {
	axis int
}

func (op *concatOp) Name() string { return "Concatenate" }

func (op *concatOp) InferShape(inputs []shapes.Shape) (shapes.Shape, error) {
	if len(inputs) == 0 {
		return shapes.Invalid(), errors.Errorf("needs at least one input")
	}
	first := inputs[0]
	axis := op.axis
	if axis < 0 {
		axis += first.Rank()
	}
	if axis < 0 || axis >= first.Rank() {
		return shapes.Invalid(), errors.Errorf("invalid axis %d for rank %d", op.axis, first.Rank())
	}
	out := slices.Clone(first.Dimensions)
	for _, input := range inputs[1:] {
		if input.DType != first.DType {
			return shapes.Invalid(), errors.Errorf("mixed dtypes %s and %s", first.DType, input.DType)
		}
		if input.Rank() != first.Rank() {
			return shapes.Invalid(), errors.Errorf("mixed ranks %d and %d", first.Rank(), input.Rank())
		}
		for i, dim := range input.Dimensions {
			if i == axis {
				if out[i] == shapes.Unknown || dim == shapes.Unknown {
					out[i] = shapes.Unknown
				} else {
					out[i] += dim
				}
				continue
			}
			merged, err := shapes.MergeDims(out[i:i+1], []int{dim})
			if err != nil {
				return shapes.Invalid(), errors.WithMessagef(err, "axis %d", i)
			}
			out[i] = merged[0]
		}
	}
	return shapes.Make(first.DType, out...), nil
}

func (op *concatOp) Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ConcatTensors(op.axis, inputs...), nil
}

// Concatenate joins nodes along the given axis.
func Concatenate(inputs []*Node, axis int) *Node {
	return NewNode(&concatOp{axis: axis}, inputs...)
}

// sliceAxisOp restricts one axis to [start, stop) with a step. A stop <= 0
// counts from the end of the axis, so stop == 0 means "to the end".
type sliceAxisOp struct {
	axis, start, stop, step int
}

func (op *sliceAxisOp) Name() string { return "SliceAxis" }

func (op *sliceAxisOp) resolve(dim int) (start, stop int, err error) {
	start, stop = op.start, op.stop
	if stop <= 0 {
		stop += dim
	}
	if start < 0 || stop > dim || start > stop {
		return 0, 0, errors.Errorf("slice [%d:%d] out of range for dimension %d", op.start, op.stop, dim)
	}
	return start, stop, nil
}

func (op *sliceAxisOp) InferShape(inputs []shapes.Shape) (shapes.Shape, error) {
	input := inputs[0]
	axis := op.axis
	if axis < 0 {
		axis += input.Rank()
	}
	if axis < 0 || axis >= input.Rank() {
		return shapes.Invalid(), errors.Errorf("invalid axis %d for rank %d", op.axis, input.Rank())
	}
	if op.step < 1 {
		return shapes.Invalid(), errors.Errorf("step must be >= 1, got %d", op.step)
	}
	out := slices.Clone(input.Dimensions)
	if out[axis] == shapes.Unknown {
		return shapes.Make(input.DType, out...), nil
	}
	start, stop, err := op.resolve(out[axis])
	if err != nil {
		return shapes.Invalid(), err
	}
	out[axis] = (stop - start + op.step - 1) / op.step
	return shapes.Make(input.DType, out...), nil
}

func (op *sliceAxisOp) Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x := inputs[0]
	axis := op.axis
	if axis < 0 {
		axis += x.Rank()
	}
	start, stop, err := op.resolve(x.Dims()[axis])
	if err != nil {
		return nil, err
	}
	out := x.SliceAxis(axis, start, stop)
	if op.step > 1 {
		steps := make([]int, x.Rank())
		for i := range steps {
			steps[i] = 1
		}
		steps[axis] = op.step
		out = out.Strided(steps)
	}
	return out, nil
}

// SliceAxis keeps [start, stop) along one axis, taking every step-th
// element. A stop <= 0 counts from the end of the axis.
func SliceAxis(x *Node, axis, start, stop, step int) *Node {
	return NewNode(&sliceAxisOp{axis: axis, start: start, stop: stop, step: step}, x)
}

type squeezeOp struct {
	axes []int
}

func (op *squeezeOp) Name() string { return "Squeeze" }

func (op *squeezeOp) squeezed(rank int) ([]bool, error) {
	drop := make([]bool, rank)
	for _, axis := range op.axes {
		if axis < 0 {
			axis += rank
		}
		if axis < 0 || axis >= rank {
			return nil, errors.Errorf("invalid axis in %v for rank %d", op.axes, rank)
		}
		drop[axis] = true
	}
	return drop, nil
}

func (op *squeezeOp) InferShape(inputs []shapes.Shape) (shapes.Shape, error) {
	input := inputs[0]
	drop, err := op.squeezed(input.Rank())
	if err != nil {
		return shapes.Invalid(), err
	}
	out := make([]int, 0, input.Rank())
	for i, dim := range input.Dimensions {
		if !drop[i] {
			out = append(out, dim)
			continue
		}
		if dim != 1 && dim != shapes.Unknown {
			return shapes.Invalid(), errors.Errorf("axis %d has dimension %d, expected 1", i, dim)
		}
	}
	return shapes.Make(input.DType, out...), nil
}

func (op *squeezeOp) Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x := inputs[0]
	drop, err := op.squeezed(x.Rank())
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, x.Rank())
	for i, dim := range x.Dims() {
		if !drop[i] {
			out = append(out, dim)
		} else if dim != 1 {
			return nil, errors.Errorf("cannot squeeze axis %d with dimension %d", i, dim)
		}
	}
	return x.Reshape(out...), nil
}

func (op *squeezeOp) VJP(node *Node, outputGrad *Node) []*Node {
	rank := node.Inputs()[0].Shape().Rank()
	drop, err := op.squeezed(rank)
	if err != nil {
		exceptions.Panicf("graph.Squeeze: %v", err)
	}
	g := outputGrad
	for axis := 0; axis < rank; axis++ {
		if drop[axis] {
			g = ExpandDims(g, axis)
		}
	}
	return []*Node{g}
}

// Squeeze removes size-1 axes.
func Squeeze(x *Node, axes ...int) *Node {
	return NewNode(&squeezeOp{axes: slices.Clone(axes)}, x)
}

type expandDimsOp struct {
	axis int
}

func (op *expandDimsOp) Name() string { return "ExpandDims" }

func (op *expandDimsOp) insertAt(rank int) (int, error) {
	axis := op.axis
	if axis < 0 {
		axis += rank + 1
	}
	if axis < 0 || axis > rank {
		return 0, errors.Errorf("invalid axis %d for rank %d", op.axis, rank)
	}
	return axis, nil
}

func (op *expandDimsOp) InferShape(inputs []shapes.Shape) (shapes.Shape, error) {
	input := inputs[0]
	axis, err := op.insertAt(input.Rank())
	if err != nil {
		return shapes.Invalid(), err
	}
	out := make([]int, 0, input.Rank()+1)
	out = append(out, input.Dimensions[:axis]...)
	out = append(out, 1)
	out = append(out, input.Dimensions[axis:]...)
	return shapes.Make(input.DType, out...), nil
}

func (op *expandDimsOp) Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x := inputs[0]
	axis, err := op.insertAt(x.Rank())
	if err != nil {
		return nil, err
	}
	dims := x.Dims()
	out := make([]int, 0, x.Rank()+1)
	out = append(out, dims[:axis]...)
	out = append(out, 1)
	out = append(out, dims[axis:]...)
	return x.Reshape(out...), nil
}

func (op *expandDimsOp) VJP(node *Node, outputGrad *Node) []*Node {
	return []*Node{Squeeze(outputGrad, op.axis)}
}

// ExpandDims inserts a size-1 axis at the given position; -1 appends it
// at the end.
func ExpandDims(x *Node, axis int) *Node {
	return NewNode(&expandDimsOp{axis: axis}, x)
}

type reverseOp struct {
	axes []int
}

func (op *reverseOp) Name() string { return "Reverse" }

func (op *reverseOp) InferShape(inputs []shapes.Shape) (shapes.Shape, error) {
	input := inputs[0]
	for _, axis := range op.axes {
		if axis < -input.Rank() || axis >= input.Rank() {
			return shapes.Invalid(), errors.Errorf("invalid axis in %v for rank %d", op.axes, input.Rank())
		}
	}
	return input.Clone(), nil
}

func (op *reverseOp) Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	return inputs[0].Reverse(op.axes...), nil
}

func (op *reverseOp) VJP(node *Node, outputGrad *Node) []*Node {
	return []*Node{Reverse(outputGrad, op.axes...)}
}

// Reverse flips x along the given axes.
func Reverse(x *Node, axes ...int) *Node {
	return NewNode(&reverseOp{axes: slices.Clone(axes)}, x)
}

type addOp struct{}

func (addOp) Name() string { return "Add" }

func (addOp) InferShape(inputs []shapes.Shape) (shapes.Shape, error) {
	a, b := inputs[0], inputs[1]
	if a.DType != b.DType {
		return shapes.Invalid(), errors.Errorf("mixed dtypes %s and %s", a.DType, b.DType)
	}
	merged, err := shapes.MergeDims(a.Dimensions, b.Dimensions)
	if err != nil {
		return shapes.Invalid(), err
	}
	return shapes.Make(a.DType, merged...), nil
}

func (addOp) Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	return inputs[0].Add(inputs[1]), nil
}

func (addOp) VJP(node *Node, outputGrad *Node) []*Node {
	return []*Node{outputGrad, outputGrad}
}

// Add sums two same-shaped nodes elementwise.
func Add(a, b *Node) *Node {
	return NewNode(addOp{}, a, b)
}

// dimOp extracts one runtime dimension of its input as a scalar int64.
type dimOp struct {
	axis int
}

func (op *dimOp) Name() string { return fmt.Sprintf("Dim(%d)", op.axis) }

func (op *dimOp) InferShape(inputs []shapes.Shape) (shapes.Shape, error) {
	if op.axis < 0 || op.axis >= inputs[0].Rank() {
		return shapes.Invalid(), errors.Errorf("invalid axis %d for rank %d", op.axis, inputs[0].Rank())
	}
	return shapes.Make(dtypes.Int64), nil
}

func (op *dimOp) Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.FromFlatAny([]int64{int64(inputs[0].Dims()[op.axis])}), nil
}

// Dim returns the runtime size of one axis of x as a scalar node. If the
// dimension is statically known the node folds to a constant.
func Dim(x *Node, axis int) *Node {
	axis = adjustAxis(axis, x.Shape().Rank(), "Dim")
	if dim := x.Shape().Dim(axis); dim != shapes.Unknown {
		return ConstScalar(int64(dim))
	}
	return NewNode(&dimOp{axis: axis}, x)
}

// cmpMode is the comparison applied by compareOp.
type cmpMode int

const (
	cmpEQ cmpMode = iota
	cmpGE
	cmpGT
)

func (m cmpMode) String() string {
	switch m {
	case cmpEQ:
		return "Equal"
	case cmpGE:
		return "GreaterOrEqual"
	default:
		return "GreaterThan"
	}
}

// compareOp compares two scalar integer nodes, producing 1 or 0. Int32
// inputs are admitted so that shape vectors of either width can feed
// runtime assertions.
type compareOp struct {
	mode cmpMode
}

func (op *compareOp) Name() string { return op.mode.String() }

func (op *compareOp) InferShape(inputs []shapes.Shape) (shapes.Shape, error) {
	for _, input := range inputs {
		if !input.IsScalar() || (input.DType != dtypes.Int64 && input.DType != dtypes.Int32) {
			return shapes.Invalid(), errors.Errorf("wants scalar integer inputs, got %s", input)
		}
	}
	return shapes.Make(dtypes.Int64), nil
}

func scalarInt64(t *tensor.Tensor) int64 {
	if t.DType() == dtypes.Int32 {
		return int64(tensor.DenseOf[int32](t).Flat()[0])
	}
	return tensor.DenseOf[int64](t).Flat()[0]
}

func (op *compareOp) Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	a := scalarInt64(inputs[0])
	b := scalarInt64(inputs[1])
	var ok bool
	switch op.mode {
	case cmpEQ:
		ok = a == b
	case cmpGE:
		ok = a >= b
	case cmpGT:
		ok = a > b
	}
	var out int64
	if ok {
		out = 1
	}
	return tensor.FromFlatAny([]int64{out}), nil
}

// Equal compares two scalar integer nodes for equality.
func Equal(a, b *Node) *Node { return NewNode(&compareOp{mode: cmpEQ}, a, b) }

// GreaterOrEqual compares two scalar integer nodes.
func GreaterOrEqual(a, b *Node) *Node { return NewNode(&compareOp{mode: cmpGE}, a, b) }

// GreaterThan compares two scalar integer nodes.
func GreaterThan(a, b *Node) *Node { return NewNode(&compareOp{mode: cmpGT}, a, b) }

// assertTrueOp passes its payload through if every condition input is true
// at runtime, else raises its configured error kind. The kernel is lowered
// at construction time.
type assertTrueOp struct {
	config accel.CheckAndRaise
	kernel accel.Kernel
}

func (op *assertTrueOp) Name() string { return "AssertTrue" }

func (op *assertTrueOp) InferShape(inputs []shapes.Shape) (shapes.Shape, error) {
	for _, cond := range inputs[1:] {
		if !cond.IsScalar() {
			return shapes.Invalid(), errors.Errorf("conditions must be scalars, got %s", cond)
		}
	}
	return inputs[0].Clone(), nil
}

func (op *assertTrueOp) Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	outputs, err := op.kernel(inputs)
	if err != nil {
		return nil, err
	}
	return outputs[0], nil
}

func (op *assertTrueOp) VJP(node *Node, outputGrad *Node) []*Node {
	grads := make([]*Node, len(node.Inputs()))
	grads[0] = outputGrad
	return grads
}

// AssertTrue wraps payload so that evaluation raises kind with msg unless
// every condition node evaluates true (non-zero).
func AssertTrue(payload *Node, kind accel.ErrorKind, msg string, conds ...*Node) *Node {
	config := accel.CheckAndRaise{Kind: kind, Msg: msg}
	kernel, _ := accel.Lower(config)
	inputs := append([]*Node{payload}, conds...)
	return NewNode(&assertTrueOp{config: config, kernel: kernel}, inputs...)
}

// AssertShape checks x against expected per-axis dimensions
// (shapes.Unknown entries are not checked). Statically known dimensions are
// validated eagerly, failing construction; unknown ones get a runtime
// assertion attached. If nothing needs a runtime check, x is returned
// unchanged.
func AssertShape(x *Node, expected ...int) *Node {
	shape := x.Shape()
	if len(expected) != shape.Rank() {
		exceptions.Panicf("graph.AssertShape: expected %d dimensions for %s", len(expected), shape)
	}
	var conds []*Node
	var axes []int
	for axis, want := range expected {
		if want == shapes.Unknown {
			continue
		}
		if got := shape.Dim(axis); got != shapes.Unknown {
			if got != want {
				exceptions.Panicf("graph.AssertShape: axis %d has dimension %d, expected %d (shape %s)",
					axis, got, want, shape)
			}
			continue
		}
		conds = append(conds, Equal(Dim(x, axis), ConstScalar(int64(want))))
		axes = append(axes, axis)
	}
	if len(conds) == 0 {
		return x
	}
	msg := fmt.Sprintf("shape mismatch on axes %v: expected dimensions %v", axes, expected)
	return AssertTrue(x, accel.KindShapeError, msg, conds...)
}
