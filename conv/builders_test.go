package conv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symconv/symconv/graph"
	"github.com/symconv/symconv/types/shapes"
	"github.com/symconv/symconv/types/tensor"
)

func TestConv2DTranspose(t *testing.T) {
	input := graph.Variable("input", shapes.Make(F64, 1, 1, 2, 2))
	filters := graph.Variable("filters", shapes.Make(F64, 1, 1, 2, 2))

	// Unit stride: each input pixel stamps the kernel, overlaps add up.
	out := Conv2DTranspose(input, filters, []int{1, 1, 3, 3},
		ConvParams{BorderMode: Valid(), FilterFlip: true})
	assert.Equal(t, []int{1, 1, 3, 3}, out.Shape().Dimensions)
	got := evalF64(t, out, map[*graph.Node]*tensor.Tensor{
		input:   seq(1, 1, 2, 2),
		filters: tensor.FromFlatAny([]float64{1, 1, 1, 1}, 1, 1, 2, 2),
	})
	assert.Equal(t, []float64{1, 3, 2, 4, 10, 6, 3, 7, 4}, got.Flat())

	// Stride 2 with a 2x2 kernel: the stamps do not overlap.
	out = Conv2DTranspose(input, filters, []int{1, 1, 4, 4},
		ConvParams{BorderMode: Valid(), Subsample: []int{2, 2}, FilterFlip: true})
	assert.Equal(t, []int{1, 1, 4, 4}, out.Shape().Dimensions)
	got = evalF64(t, out, map[*graph.Node]*tensor.Tensor{
		input:   seq(1, 1, 2, 2),
		filters: tensor.FromFlatAny([]float64{1, 1, 1, 1}, 1, 1, 2, 2),
	})
	assert.Equal(t, []float64{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, got.Flat())
}

func TestConv2DGradWrtWeightsBuilder(t *testing.T) {
	params := ConvParams{BorderMode: Valid()}
	input := graph.Variable("input", shapes.Make(F64, 1, 1, 3, 3))
	outputGrad := graph.Const(tensor.FromFlatAny([]float64{0, 0, 0, 1}, 1, 1, 2, 2))
	dw := Conv2DGradWrtWeights(input, outputGrad, []int{1, 1, 2, 2}, params)
	assert.Equal(t, []int{1, 1, 2, 2}, dw.Shape().Dimensions)

	got := evalF64(t, dw, map[*graph.Node]*tensor.Tensor{input: seq(1, 1, 3, 3)})
	assert.Equal(t, []float64{5, 6, 8, 9}, got.Flat())
}

func TestGradBuildersRejectBadShapes(t *testing.T) {
	filters := graph.Variable("filters", shapes.Make(F64, 1, 1, 2, 2))
	outputGrad := graph.Variable("outputGrad", shapes.Make(F64, 1, 1, 3, 3))

	// Zero spatial extents are rejected eagerly.
	assert.Panics(t, func() {
		Conv2DGradWrtInputs(outputGrad, filters, []int{1, 1, 0, 4}, ConvParams{BorderMode: Valid()})
	})
	// Unknown spatial extents cannot seed the shape input.
	assert.Panics(t, func() {
		Conv2DGradWrtInputs(outputGrad, filters, []int{1, 1, shapes.Unknown, 4}, ConvParams{BorderMode: Valid()})
	})
}

func TestSeparableConv2D(t *testing.T) {
	input := graph.Variable("input", shapes.Make(F64, 1, 2, 3, 3))
	depthwise := graph.Variable("depthwise", shapes.Make(F64, 2, 1, 2, 2))
	pointwise := graph.Variable("pointwise", shapes.Make(F64, 1, 2, 1, 1))

	out := SeparableConv2D(input, depthwise, pointwise, 2,
		ConvParams{BorderMode: Valid(), FilterFlip: true}, []int{1, 2, 1, 1})
	assert.Equal(t, []int{1, 1, 2, 2}, out.Shape().Dimensions)

	got := evalF64(t, out, map[*graph.Node]*tensor.Tensor{
		input:     seq(1, 2, 3, 3),
		depthwise: tensor.FromFlatAny([]float64{1, 1, 1, 1, 1, 1, 1, 1}, 2, 1, 2, 2),
		pointwise: tensor.FromFlatAny([]float64{1, 10}, 1, 2, 1, 1),
	})
	assert.Equal(t, []float64{492, 536, 624, 668}, got.Flat())

	// The pointwise filter shape declaration is optional; the filters
	// node carries its static shape anyway.
	out = SeparableConv2D(input, depthwise, pointwise, 2,
		ConvParams{BorderMode: Valid(), FilterFlip: true}, nil)
	assert.Equal(t, []int{1, 1, 2, 2}, out.Shape().Dimensions)
}

func TestCausalConv1D(t *testing.T) {
	input := graph.Variable("input", shapes.Make(F64, 1, 1, 4))
	filters := graph.Variable("filters", shapes.Make(F64, 1, 1, 2))

	out := CausalConv1D(input, filters, []int{1, 1, 2}, []int{1, 1, 4}, 1, true, 1, 1)
	assert.Equal(t, []int{1, 1, 4}, out.Shape().Dimensions)
	got := evalF64(t, out, map[*graph.Node]*tensor.Tensor{
		input:   tensor.FromFlatAny([]float64{1, 2, 3, 4}, 1, 1, 4),
		filters: tensor.FromFlatAny([]float64{1, 2}, 1, 1, 2),
	})
	// y[t] = w[0]*x[t] + w[1]*x[t-1] with x[-1] = 0: no output position
	// sees a later input.
	assert.Equal(t, []float64{1, 4, 7, 10}, got.Flat())

	// Dilation widens the look-behind without breaking causality.
	out = CausalConv1D(input, filters, []int{1, 1, 2}, []int{1, 1, 4}, 1, true, 2, 1)
	got = evalF64(t, out, map[*graph.Node]*tensor.Tensor{
		input:   tensor.FromFlatAny([]float64{1, 2, 3, 4}, 1, 1, 4),
		filters: tensor.FromFlatAny([]float64{1, 2}, 1, 1, 2),
	})
	assert.Equal(t, []float64{1, 2, 5, 8}, got.Flat())

	assert.Panics(t, func() {
		CausalConv1D(input, filters, []int{1, 1, shapes.Unknown}, nil, 1, true, 1, 1)
	})
}

func TestCausalConv1DGradient(t *testing.T) {
	input := graph.Variable("input", shapes.Make(F64, 1, 1, 5))
	filters := graph.Variable("filters", shapes.Make(F64, 1, 1, 3))
	y := CausalConv1D(input, filters, []int{1, 1, 3}, []int{1, 1, 5}, 1, true, 1, 1)

	u := pattern(1, 1, 5)
	grads := graph.Gradient(y, graph.Const(u), input, filters)
	require.NotNil(t, grads[0])
	require.NotNil(t, grads[1])

	xv, wv := pattern(1, 1, 5), seq(1, 1, 3)
	bindings := map[*graph.Node]*tensor.Tensor{input: xv, filters: wv}
	yv, err := graph.Eval(y, bindings)
	require.NoError(t, err)
	gx, err := graph.Eval(grads[0], bindings)
	require.NoError(t, err)
	gw, err := graph.Eval(grads[1], bindings)
	require.NoError(t, err)

	want := dot(u, yv)
	assert.Equal(t, want, dot(xv, gx))
	assert.Equal(t, want, dot(wv, gw))
}

func TestBilinearKernel1D(t *testing.T) {
	k := BilinearKernel1D(F64, 3, false)
	assert.Equal(t, []float64{1, 2, 3, 2, 1}, tensor.DenseOf[float64](k).Flat())

	k = BilinearKernel1D(F64, 3, true)
	flat := tensor.DenseOf[float64](k).Flat()
	assert.InDeltaSlice(t, []float64{1.0 / 3, 2.0 / 3, 1, 2.0 / 3, 1.0 / 3}, flat, 1e-15)

	k = BilinearKernel1D(F64, 1, false)
	assert.Equal(t, []float64{1}, tensor.DenseOf[float64](k).Flat())
}

func TestBilinearKernel2D(t *testing.T) {
	k := BilinearKernel2D(F64, 2, 2, false)
	assert.Equal(t, []int{3, 3}, k.Dims())
	assert.Equal(t, []float64{1, 2, 1, 2, 4, 2, 1, 2, 1}, tensor.DenseOf[float64](k).Flat())

	// Mixed ratios give a rectangular kernel.
	k = BilinearKernel2D(F64, 2, 3, false)
	assert.Equal(t, []int{3, 5}, k.Dims())
}

func TestBilinearUpsamplingConstant(t *testing.T) {
	// Bilinear interpolation of a constant image with replicated borders
	// is the same constant, whatever the kernel decomposition.
	for _, use1D := range []bool{true, false} {
		input := graph.Variable("input", shapes.Make(F64, shapes.Unknown, 2, 2, 2))
		out := BilinearUpsampling(input, 2, use1D)
		assert.Equal(t, []int{shapes.Unknown, 2, 4, 4}, out.Shape().Dimensions)

		flat := make([]float64, 2*2*2*2)
		for i := range flat {
			flat[i] = 5
		}
		got := evalF64(t, out, map[*graph.Node]*tensor.Tensor{
			input: tensor.FromFlatAny(flat, 2, 2, 2, 2),
		})
		assert.Equal(t, []int{2, 2, 4, 4}, got.Dims())
		for _, v := range got.Flat() {
			assert.InDelta(t, 5, v, 1e-12, "use1D=%v", use1D)
		}
	}
}

func TestBilinearUpsamplingValues(t *testing.T) {
	input := graph.Variable("input", shapes.Make(F64, 1, 1, 1, 2))
	value := tensor.FromFlatAny([]float64{0, 4}, 1, 1, 1, 2)

	// Doubling [0, 4] interpolates the midpoint and repeats the last
	// column once, on both upsampled rows.
	want := []float64{
		0, 2, 4, 4,
		0, 2, 4, 4,
	}
	for _, use1D := range []bool{true, false} {
		out := BilinearUpsampling(input, 2, use1D)
		assert.Equal(t, []int{1, 1, 2, 4}, out.Shape().Dimensions)
		got := evalF64(t, out, map[*graph.Node]*tensor.Tensor{input: value})
		assert.InDeltaSlice(t, want, got.Flat(), 1e-12, "use1D=%v", use1D)
	}
}

func TestBilinearUpsamplingPathsAgree(t *testing.T) {
	input := graph.Variable("input", shapes.Make(F64, 1, 1, 3, 3))
	value := seq(1, 1, 3, 3)

	with1D := evalF64(t, BilinearUpsampling(input, 2, true),
		map[*graph.Node]*tensor.Tensor{input: value})
	with2D := evalF64(t, BilinearUpsampling(input, 2, false),
		map[*graph.Node]*tensor.Tensor{input: value})
	assert.Equal(t, []int{1, 1, 6, 6}, with1D.Dims())
	assert.InDeltaSlice(t, with1D.Flat(), with2D.Flat(), 1e-12)
}

func TestFracBilinearUpsamplingIdentity(t *testing.T) {
	// Equal numerator and denominator reduce to a ratio of one, which
	// reproduces the input exactly.
	input := graph.Variable("input", shapes.Make(F64, 1, 1, 3, 3))
	out := FracBilinearUpsampling(input, [2]int{2, 2}, [2]int{3, 3})
	assert.Equal(t, []int{1, 1, 3, 3}, out.Shape().Dimensions)

	got := evalF64(t, out, map[*graph.Node]*tensor.Tensor{input: seq(1, 1, 3, 3)})
	assert.InDeltaSlice(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, got.Flat(), 1e-12)
}

func TestFracBilinearUpsamplingShape(t *testing.T) {
	input := graph.Variable("input", shapes.Make(F64, 1, 1, 3, 3))
	out := FracBilinearUpsampling(input, [2]int{3, 2}, [2]int{3, 2})
	got := evalF64(t, out, map[*graph.Node]*tensor.Tensor{input: seq(1, 1, 3, 3)})
	assert.Equal(t, []int{1, 1, 5, 5}, got.Dims())

	assert.Panics(t, func() {
		FracBilinearUpsampling(input, [2]int{0, 1}, [2]int{1, 1})
	})
}
