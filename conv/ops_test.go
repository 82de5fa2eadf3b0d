package conv

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symconv/symconv/accel"
	"github.com/symconv/symconv/graph"
	"github.com/symconv/symconv/types/shapes"
	"github.com/symconv/symconv/types/tensor"
)

var F64 = dtypes.Float64

func evalF64(t *testing.T, n *graph.Node, bindings map[*graph.Node]*tensor.Tensor) *tensor.Dense[float64] {
	t.Helper()
	return tensor.DenseOf[float64](must.M1(graph.Eval(n, bindings)))
}

// pattern fills a tensor with a deterministic mix of small positive and
// negative integers, so every product in a convolution stays exact in
// float64.
func pattern(dims ...int) *tensor.Tensor {
	size := 1
	for _, d := range dims {
		size *= d
	}
	flat := make([]float64, size)
	for i := range flat {
		flat[i] = float64((i*7+3)%11 - 5)
	}
	return tensor.FromFlatAny(flat, dims...)
}

func seq(dims ...int) *tensor.Tensor {
	size := 1
	for _, d := range dims {
		size *= d
	}
	flat := make([]float64, size)
	for i := range flat {
		flat[i] = float64(i + 1)
	}
	return tensor.FromFlatAny(flat, dims...)
}

func dot(a, b *tensor.Tensor) float64 {
	af := tensor.DenseOf[float64](a).Flat()
	bf := tensor.DenseOf[float64](b).Flat()
	sum := 0.0
	for i := range af {
		sum += af[i] * bf[i]
	}
	return sum
}

func runForward(t *testing.T, params ConvParams, img, kern *tensor.Tensor) *tensor.Dense[float64] {
	t.Helper()
	x := graph.Variable("x", shapes.Make(F64, img.Dims()...))
	w := graph.Variable("w", shapes.Make(F64, kern.Dims()...))
	y := NewForward(params).Apply(x, w)
	return evalF64(t, y, map[*graph.Node]*tensor.Tensor{x: img, w: kern})
}

func TestForwardValid(t *testing.T) {
	img := seq(1, 1, 3, 3)
	kern := seq(1, 1, 2, 2)

	// Cross-correlation: the kernel is applied as laid out in memory.
	out := runForward(t, ConvParams{ConvDim: 2, BorderMode: Valid()}, img, kern)
	assert.Equal(t, []int{1, 1, 2, 2}, out.Dims())
	assert.Equal(t, []float64{37, 47, 67, 77}, out.Flat())

	// True convolution flips the kernel first.
	out = runForward(t, ConvParams{ConvDim: 2, BorderMode: Valid(), FilterFlip: true}, img, kern)
	assert.Equal(t, []float64{23, 33, 53, 63}, out.Flat())
}

func TestForwardFull(t *testing.T) {
	img := seq(1, 1, 2, 2)
	kern := tensor.FromFlatAny([]float64{1, 1, 1, 1}, 1, 1, 2, 2)
	out := runForward(t, ConvParams{ConvDim: 2, BorderMode: Full(), FilterFlip: true}, img, kern)
	assert.Equal(t, []int{1, 1, 3, 3}, out.Dims())
	assert.Equal(t, []float64{1, 3, 2, 4, 10, 6, 3, 7, 4}, out.Flat())
}

func TestForwardHalf(t *testing.T) {
	img := tensor.FromFlatAny([]float64{1, 1, 1, 1, 1, 1, 1, 1, 1}, 1, 1, 3, 3)
	kern := tensor.FromFlatAny([]float64{1, 1, 1, 1, 1, 1, 1, 1, 1}, 1, 1, 3, 3)
	out := runForward(t, ConvParams{ConvDim: 2, BorderMode: Half(), FilterFlip: true}, img, kern)
	assert.Equal(t, []int{1, 1, 3, 3}, out.Dims())
	assert.Equal(t, []float64{4, 6, 4, 6, 9, 6, 4, 6, 4}, out.Flat())
}

func TestForwardSubsample(t *testing.T) {
	flat := make([]float64, 16)
	for i := range flat {
		flat[i] = float64(i)
	}
	img := tensor.FromFlatAny(flat, 1, 1, 4, 4)
	kern := tensor.FromFlatAny([]float64{2}, 1, 1, 1, 1)
	out := runForward(t, ConvParams{ConvDim: 2, BorderMode: Valid(), Subsample: []int{2, 2}}, img, kern)
	assert.Equal(t, []int{1, 1, 2, 2}, out.Dims())
	assert.Equal(t, []float64{0, 4, 16, 20}, out.Flat())
}

func TestForwardDilation(t *testing.T) {
	img := seq(1, 1, 3, 3)
	kern := tensor.FromFlatAny([]float64{1, 1, 1, 1}, 1, 1, 2, 2)
	out := runForward(t, ConvParams{ConvDim: 2, BorderMode: Valid(), FilterDilation: []int{2, 2}}, img, kern)
	assert.Equal(t, []int{1, 1, 1, 1}, out.Dims())
	assert.Equal(t, []float64{20}, out.Flat())
}

func TestForwardGroups(t *testing.T) {
	img := seq(1, 2, 2, 2)
	kern := tensor.FromFlatAny([]float64{10, 100}, 2, 1, 1, 1)
	out := runForward(t, ConvParams{ConvDim: 2, BorderMode: Valid(), NumGroups: 2}, img, kern)
	assert.Equal(t, []int{1, 2, 2, 2}, out.Dims())
	assert.Equal(t, []float64{10, 20, 30, 40, 500, 600, 700, 800}, out.Flat())
}

func TestForwardChannelSum(t *testing.T) {
	img := tensor.FromFlatAny([]float64{3, 5}, 1, 2, 1, 1)
	kern := tensor.FromFlatAny([]float64{2, 10}, 1, 2, 1, 1)
	out := runForward(t, ConvParams{ConvDim: 2, BorderMode: Valid()}, img, kern)
	assert.Equal(t, []float64{56}, out.Flat())
}

func TestForward3D(t *testing.T) {
	img := seq(1, 1, 2, 2, 2)
	kern := tensor.FromFlatAny([]float64{1, 1, 1, 1, 1, 1, 1, 1}, 1, 1, 2, 2, 2)
	out := runForward(t, ConvParams{ConvDim: 3, BorderMode: Valid(), FilterFlip: true}, img, kern)
	assert.Equal(t, []int{1, 1, 1, 1, 1}, out.Dims())
	assert.Equal(t, []float64{36}, out.Flat())
}

func TestForwardUnshared(t *testing.T) {
	// A distinct 1x1 kernel per output position scales pixels
	// independently.
	img := seq(1, 1, 2, 2)
	kern := tensor.FromFlatAny([]float64{10, 20, 30, 40}, 1, 2, 2, 1, 1, 1)
	out := runForward(t, ConvParams{ConvDim: 2, BorderMode: Valid(), Unshared: true}, img, kern)
	assert.Equal(t, []int{1, 1, 2, 2}, out.Dims())
	assert.Equal(t, []float64{10, 40, 90, 160}, out.Flat())

	// Each 2x2 kernel picks a different tap of its window.
	img = seq(1, 1, 3, 3)
	kern = tensor.FromFlatAny([]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}, 1, 2, 2, 1, 2, 2)
	out = runForward(t, ConvParams{ConvDim: 2, BorderMode: Valid(), Unshared: true}, img, kern)
	assert.Equal(t, []float64{1, 3, 7, 9}, out.Flat())
}

func TestForwardInferShape(t *testing.T) {
	// Declared shapes fill in what the inputs do not know.
	x := graph.Variable("x", shapes.Make(F64, shapes.Unknown, shapes.Unknown, shapes.Unknown, shapes.Unknown))
	w := graph.Variable("w", shapes.Make(F64, 4, 3, 3, 3))
	op := NewForward(ConvParams{
		ConvDim:    2,
		BorderMode: Valid(),
		ImShp:      []int{2, 3, 7, 7},
	})
	y := op.Apply(x, w)
	assert.Equal(t, []int{2, 4, 5, 5}, y.Shape().Dimensions)

	// Without declarations the unknown dims stay unknown.
	y = NewForward(ConvParams{ConvDim: 2, BorderMode: Valid()}).Apply(x, w)
	assert.Equal(t, []int{shapes.Unknown, 4, shapes.Unknown, shapes.Unknown}, y.Shape().Dimensions)
}

func TestForwardRejectsBadInputs(t *testing.T) {
	op := NewForward(ConvParams{ConvDim: 2, BorderMode: Valid()})
	img := graph.Variable("img", shapes.Make(F64, 1, 1, 5, 5))
	kern3d := graph.Variable("kern3d", shapes.Make(F64, 1, 1, 3))
	assert.Panics(t, func() { op.Apply(img, kern3d) })

	kern32 := graph.Variable("kern32", shapes.Make(dtypes.Float32, 1, 1, 3, 3))
	assert.Panics(t, func() { op.Apply(img, kern32) })

	// A kernel larger than the padded image has no valid placement.
	kern := graph.Variable("kern", shapes.Make(F64, 1, 1, 7, 7))
	assert.Panics(t, func() { op.Apply(img, kern) })
}

func TestUnsharedRegionMismatch(t *testing.T) {
	// 3x3 image and 2x2 taps give 2x2 output positions; a 3x3 region grid
	// cannot belong to this convolution.
	op := NewForward(ConvParams{ConvDim: 2, BorderMode: Valid(), Unshared: true})
	img := graph.Variable("img", shapes.Make(F64, 1, 1, 3, 3))
	kern := graph.Variable("kern", shapes.Make(F64,
		shapes.Unknown, shapes.Unknown, shapes.Unknown, shapes.Unknown, shapes.Unknown, shapes.Unknown))
	y := op.Apply(img, kern)
	_, err := graph.Eval(y, map[*graph.Node]*tensor.Tensor{
		img:  seq(1, 1, 3, 3),
		kern: pattern(1, 3, 3, 1, 2, 2),
	})
	require.Error(t, err)
	assert.True(t, accel.IsKind(errorCause(err), accel.KindValueError))
}

func TestGradInputsShapeMismatch(t *testing.T) {
	op := NewGradInputs(ConvParams{ConvDim: 2, BorderMode: Valid()})
	kern := graph.Variable("kern", shapes.Make(F64, 1, 1, 2, 2))
	top := graph.Variable("top", shapes.Make(F64, shapes.Unknown, shapes.Unknown, shapes.Unknown, shapes.Unknown))
	shape := graph.Const(tensor.FromFlatAny([]int64{4, 4}, 2))
	out := op.Apply(kern, top, shape)

	// A 4x4 image with a 2x2 kernel yields a 3x3 output; a 2x2 top
	// gradient cannot come from this convolution.
	_, err := graph.Eval(out, map[*graph.Node]*tensor.Tensor{
		kern: pattern(1, 1, 2, 2),
		top:  pattern(1, 1, 2, 2),
	})
	require.Error(t, err)
	assert.True(t, accel.IsKind(errorCause(err), accel.KindValueError))

	// The matching top gradient evaluates fine.
	got, err := graph.Eval(out, map[*graph.Node]*tensor.Tensor{
		kern: pattern(1, 1, 2, 2),
		top:  pattern(1, 1, 3, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 4, 4}, got.Dims())
}

// checkAdjoint verifies the defining property of the two gradient
// operators: the forward convolution is linear in each argument, so
// <conv(x, w), u> must equal <x, dx> and <w, dw> where dx, dw are the
// gradients of <conv(x, w), u>.
func checkAdjoint(t *testing.T, params ConvParams, imgDims, kernDims []int) {
	t.Helper()
	x := graph.Variable("x", shapes.Make(F64, imgDims...))
	w := graph.Variable("w", shapes.Make(F64, kernDims...))
	y := NewForward(params).Apply(x, w)
	require.True(t, y.Shape().IsFullyKnown(), "output shape %s", y.Shape())

	u := pattern(y.Shape().Dimensions...)
	grads := graph.Gradient(y, graph.Const(u), x, w)
	require.Len(t, grads, 2)
	require.NotNil(t, grads[0])
	require.NotNil(t, grads[1])

	xv, wv := pattern(imgDims...), pattern(kernDims...)
	bindings := map[*graph.Node]*tensor.Tensor{x: xv, w: wv}
	yv, err := graph.Eval(y, bindings)
	require.NoError(t, err)
	gx, err := graph.Eval(grads[0], bindings)
	require.NoError(t, err)
	gw, err := graph.Eval(grads[1], bindings)
	require.NoError(t, err)

	want := dot(u, yv)
	assert.Equal(t, want, dot(xv, gx), "image gradient is not the adjoint")
	assert.Equal(t, want, dot(wv, gw), "weights gradient is not the adjoint")
}

func TestGradientsAreAdjoint(t *testing.T) {
	cases := []struct {
		name     string
		params   ConvParams
		img, krn []int
	}{
		{"valid flip", ConvParams{ConvDim: 2, BorderMode: Valid(), FilterFlip: true},
			[]int{2, 3, 5, 4}, []int{4, 3, 2, 3}},
		{"valid no flip", ConvParams{ConvDim: 2, BorderMode: Valid()},
			[]int{1, 2, 4, 4}, []int{3, 2, 3, 3}},
		{"full", ConvParams{ConvDim: 2, BorderMode: Full(), FilterFlip: true},
			[]int{1, 2, 4, 4}, []int{3, 2, 3, 3}},
		{"half", ConvParams{ConvDim: 2, BorderMode: Half(), FilterFlip: true},
			[]int{1, 1, 5, 5}, []int{2, 1, 3, 3}},
		{"asymmetric pad", ConvParams{ConvDim: 2, BorderMode: PadPairs([2]int{1, 2}, [2]int{0, 1}), FilterFlip: true},
			[]int{1, 1, 4, 4}, []int{1, 1, 3, 3}},
		{"subsample", ConvParams{ConvDim: 2, BorderMode: Valid(), Subsample: []int{2, 2}, FilterFlip: true},
			[]int{1, 1, 6, 6}, []int{1, 1, 3, 3}},
		{"subsample full", ConvParams{ConvDim: 2, BorderMode: Full(), Subsample: []int{2, 1}, FilterFlip: true},
			[]int{1, 1, 5, 4}, []int{1, 1, 3, 2}},
		{"dilation", ConvParams{ConvDim: 2, BorderMode: Valid(), FilterDilation: []int{2, 2}},
			[]int{1, 1, 7, 7}, []int{1, 1, 2, 2}},
		{"groups", ConvParams{ConvDim: 2, BorderMode: Valid(), NumGroups: 2, FilterFlip: true},
			[]int{1, 4, 5, 5}, []int{2, 2, 3, 3}},
		{"3d", ConvParams{ConvDim: 3, BorderMode: Valid(), FilterFlip: true},
			[]int{1, 2, 3, 4, 4}, []int{2, 2, 2, 2, 3}},
		{"unshared", ConvParams{ConvDim: 2, BorderMode: Valid(), Unshared: true},
			[]int{1, 1, 4, 4}, []int{2, 3, 3, 1, 2, 2}},
		{"unshared subsample", ConvParams{ConvDim: 2, BorderMode: Valid(), Unshared: true, Subsample: []int{2, 2}, FilterFlip: true},
			[]int{1, 1, 5, 5}, []int{2, 2, 2, 1, 2, 2}},
		{"unshared groups", ConvParams{ConvDim: 2, BorderMode: Valid(), Unshared: true, NumGroups: 2},
			[]int{1, 2, 3, 3}, []int{2, 2, 2, 1, 2, 2}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			checkAdjoint(t, c.params, c.img, c.krn)
		})
	}
}

func TestGradWeightsRecoversKernel(t *testing.T) {
	// dconv/dw at a one-hot top gradient reads out the image window that
	// the corresponding output position saw.
	x := graph.Variable("x", shapes.Make(F64, 1, 1, 3, 3))
	w := graph.Variable("w", shapes.Make(F64, 1, 1, 2, 2))
	y := NewForward(ConvParams{ConvDim: 2, BorderMode: Valid()}).Apply(x, w)

	oneHot := tensor.FromFlatAny([]float64{0, 0, 0, 1}, 1, 1, 2, 2)
	grads := graph.Gradient(y, graph.Const(oneHot), w)
	require.NotNil(t, grads[0])

	bindings := map[*graph.Node]*tensor.Tensor{
		x: seq(1, 1, 3, 3),
		w: pattern(1, 1, 2, 2),
	}
	gw, err := graph.Eval(grads[0], bindings)
	require.NoError(t, err)
	// The bottom-right output position sees the bottom-right 2x2 window.
	assert.Equal(t, []float64{5, 6, 8, 9}, tensor.DenseOf[float64](gw).Flat())
}

func TestRDirectional(t *testing.T) {
	// The forward operator is bilinear, so its directional derivative
	// along (dx, dw) is conv(dx, w) + conv(x, dw), which must equal
	// conv(x+dx, w+dw) - conv(x, w) - conv(dx, dw).
	params := ConvParams{ConvDim: 2, BorderMode: Valid(), FilterFlip: true}
	op := NewForward(params)
	x := graph.Variable("x", shapes.Make(F64, 1, 2, 4, 4))
	w := graph.Variable("w", shapes.Make(F64, 3, 2, 2, 2))
	dx := graph.Variable("dx", shapes.Make(F64, 1, 2, 4, 4))
	dw := graph.Variable("dw", shapes.Make(F64, 3, 2, 2, 2))
	r := op.RDirectional(x, w, dx, dw)

	xv, wv := pattern(1, 2, 4, 4), pattern(3, 2, 2, 2)
	dxv, dwv := seq(1, 2, 4, 4), seq(3, 2, 2, 2)
	bindings := map[*graph.Node]*tensor.Tensor{x: xv, w: wv, dx: dxv, dw: dwv}
	got := evalF64(t, r, bindings).Flat()

	y := op.Apply(x, w)
	y11 := evalF64(t, y, map[*graph.Node]*tensor.Tensor{x: xv.Add(dxv), w: wv.Add(dwv)}).Flat()
	y00 := evalF64(t, y, map[*graph.Node]*tensor.Tensor{x: xv, w: wv}).Flat()
	ydd := evalF64(t, y, map[*graph.Node]*tensor.Tensor{x: dxv, w: dwv}).Flat()
	for i := range got {
		assert.Equal(t, y11[i]-y00[i]-ydd[i], got[i])
	}

	// Grouped and unshared variants are not supported.
	grouped := NewForward(ConvParams{ConvDim: 2, BorderMode: Valid(), NumGroups: 2})
	assert.Panics(t, func() { grouped.RDirectional(x, w, dx, dw) })
}

func TestRuntimeShapeAssertions(t *testing.T) {
	AssertShapes = true
	defer func() { AssertShapes = false }()

	op := NewGradWeights(ConvParams{
		ConvDim:    2,
		BorderMode: Valid(),
		ImShp:      []int{1, 1, 5, 5},
	})
	img := graph.Variable("img", shapes.Make(F64,
		shapes.Unknown, shapes.Unknown, shapes.Unknown, shapes.Unknown))
	top := graph.Variable("top", shapes.Make(F64,
		shapes.Unknown, shapes.Unknown, shapes.Unknown, shapes.Unknown))
	shape := graph.Const(tensor.FromFlatAny([]int64{3, 3}, 2))
	out := op.Apply(img, top, shape)

	// Matching image passes the declared-shape check.
	got, err := graph.Eval(out, map[*graph.Node]*tensor.Tensor{
		img: pattern(1, 1, 5, 5),
		top: pattern(1, 1, 3, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 3, 3}, got.Dims())

	// Mismatching image trips the runtime assertion.
	_, err = graph.Eval(out, map[*graph.Node]*tensor.Tensor{
		img: pattern(1, 1, 4, 4),
		top: pattern(1, 1, 2, 2),
	})
	require.Error(t, err)
	assert.True(t, accel.IsKind(errorCause(err), accel.KindAssertionError))
}

func TestGradShapeInferenceFoldsConstantShapeInput(t *testing.T) {
	img := graph.Variable("img", shapes.Make(F64, 2, 4, 5, 5))
	top := graph.Variable("top", shapes.Make(F64, 2, 3, 3, 3))
	gw := NewGradWeights(ConvParams{ConvDim: 2, BorderMode: Valid()})
	out := gw.Apply(img, top, graph.Const(tensor.FromFlatAny([]int64{3, 3}, 2)))
	assert.Equal(t, []int{3, 4, 3, 3}, out.Shape().Dimensions)

	kern := graph.Variable("kern", shapes.Make(F64, 3, 4, 3, 3))
	gi := NewGradInputs(ConvParams{ConvDim: 2, BorderMode: Valid()})
	in := gi.Apply(kern, top, graph.Const(tensor.FromFlatAny([]int64{5, 5}, 2)))
	assert.Equal(t, []int{2, 4, 5, 5}, in.Shape().Dimensions)

	// A non-constant shape vector still leaves the spatial dims open.
	shapeVar := graph.Variable("shape", shapes.Make(dtypes.Int64, 2))
	open := gw.Apply(img, top, shapeVar)
	assert.Equal(t, []int{3, 4, shapes.Unknown, shapes.Unknown}, open.Shape().Dimensions)
}

func TestRuntimeAssertionsInt32ShapeVector(t *testing.T) {
	AssertShapes = true
	defer func() { AssertShapes = false }()

	op := NewGradWeights(ConvParams{
		ConvDim:    2,
		BorderMode: Valid(),
	})
	img := graph.Variable("img", shapes.Make(F64, 1, 1, 5, 5))
	top := graph.Variable("top", shapes.Make(F64, 1, 1, 3, 3))

	// An int32 shape vector builds and evaluates like an int64 one.
	out := op.Apply(img, top, graph.Const(tensor.FromFlatAny([]int32{3, 3}, 2)))
	got, err := graph.Eval(out, map[*graph.Node]*tensor.Tensor{
		img: pattern(1, 1, 5, 5),
		top: pattern(1, 1, 3, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 3, 3}, got.Dims())

	// A non-positive entry trips the spatial-shape assertion.
	bad := op.Apply(img, top, graph.Const(tensor.FromFlatAny([]int32{3, 0}, 2)))
	_, err = graph.Eval(bad, map[*graph.Node]*tensor.Tensor{
		img: pattern(1, 1, 5, 5),
		top: pattern(1, 1, 3, 3),
	})
	require.Error(t, err)
	assert.True(t, accel.IsKind(errorCause(err), accel.KindValueError))
}

// errorCause unwraps the message annotations added during evaluation.
func errorCause(err error) error {
	type causer interface{ Cause() error }
	for {
		c, ok := err.(causer)
		if !ok {
			return err
		}
		err = c.Cause()
	}
}
