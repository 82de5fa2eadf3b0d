package conv

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/symconv/symconv/graph"
	"github.com/symconv/symconv/types/shapes"
	"github.com/symconv/symconv/types/tensor"
)

// BilinearKernel1D builds the fixed 1D kernel that upsamples a signal by
// the given integer ratio with bilinear interpolation: the triangle
// [1..ratio..1] of 2*ratio-1 taps, divided by ratio when normalize is
// set.
func BilinearKernel1D(dtype dtypes.DType, ratio int, normalize bool) *tensor.Tensor {
	if ratio < 1 {
		exceptions.Panicf("conv: bilinear upsampling ratio must be >= 1, got %d", ratio)
	}
	switch dtype {
	case dtypes.Float32:
		return tensor.FromDense(bilinearKernel1D[float32](ratio, normalize))
	case dtypes.Float64:
		return tensor.FromDense(bilinearKernel1D[float64](ratio, normalize))
	default:
		exceptions.Panicf("conv: bilinear kernels require a float dtype, got %s", dtype)
		return nil
	}
}

func bilinearKernel1D[T float32 | float64](ratio int, normalize bool) *tensor.Dense[T] {
	flat := make([]T, 2*ratio-1)
	for i := 1; i <= ratio; i++ {
		flat[i-1] = T(i)
		flat[len(flat)-i] = T(i)
	}
	if normalize {
		for i := range flat {
			flat[i] /= T(ratio)
		}
	}
	return tensor.FromFlat(flat, len(flat))
}

// BilinearKernel2D builds the 2D bilinear upsampling kernel for the given
// vertical and horizontal ratios: the outer product of the two 1D
// kernels.
func BilinearKernel2D(dtype dtypes.DType, ratioV, ratioH int, normalize bool) *tensor.Tensor {
	switch dtype {
	case dtypes.Float32:
		return tensor.FromDense(bilinearKernel2D[float32](ratioV, ratioH, normalize))
	case dtypes.Float64:
		return tensor.FromDense(bilinearKernel2D[float64](ratioV, ratioH, normalize))
	default:
		exceptions.Panicf("conv: bilinear kernels require a float dtype, got %s", dtype)
		return nil
	}
}

func bilinearKernel2D[T float32 | float64](ratioV, ratioH int, normalize bool) *tensor.Dense[T] {
	if ratioV < 1 || ratioH < 1 {
		exceptions.Panicf("conv: bilinear upsampling ratios must be >= 1, got (%d, %d)", ratioV, ratioH)
	}
	vkern := bilinearKernel1D[T](ratioV, normalize)
	hkern := bilinearKernel1D[T](ratioH, normalize)
	out := tensor.New[T](vkern.Size(), hkern.Size())
	for r, v := range vkern.Flat() {
		for c, h := range hkern.Flat() {
			out.Set(v*h, r, c)
		}
	}
	return out
}

// staticImageDims requires the channel and spatial dimensions of a 4D
// image node to be statically known; the batch may stay unknown.
func staticImageDims(input *graph.Node) (channels, rows, cols int) {
	shape := input.Shape()
	if shape.Rank() != 4 {
		exceptions.Panicf("conv: bilinear upsampling input must be a 4D tensor, got %s", shape)
	}
	channels, rows, cols = shape.Dim(1), shape.Dim(2), shape.Dim(3)
	if channels == shapes.Unknown || rows == shapes.Unknown || cols == shapes.Unknown {
		exceptions.Panicf("conv: bilinear upsampling needs known channel and spatial dimensions, got %s", shape)
	}
	return
}

// replicateBorders appends a copy of the first and last row and column of
// a (batch, 1, rows, cols) node, so interpolation at the edges repeats
// the border pixel.
func replicateBorders(x *graph.Node, rows, cols int) *graph.Node {
	x = graph.Concatenate([]*graph.Node{
		graph.SliceAxis(x, 2, 0, 1, 1),
		x,
		graph.SliceAxis(x, 2, rows-1, rows, 1),
	}, 2)
	return graph.Concatenate([]*graph.Node{
		graph.SliceAxis(x, 3, 0, 1, 1),
		x,
		graph.SliceAxis(x, 3, cols-1, cols, 1),
	}, 3)
}

// BilinearUpsampling upsamples a 4D (batch, channels, rows, cols) node by
// an integer ratio in both spatial dimensions using fixed bilinear
// interpolation kernels. With use1DKernel the rows and columns are
// upsampled separately by 1D kernels, otherwise a single 2D kernel is
// used; the result is identical. The channel and spatial dimensions must
// be statically known. For even ratios the last row and column are
// repeated one extra time, making the result slightly asymmetric.
func BilinearUpsampling(input *graph.Node, ratio int, use1DKernel bool) *graph.Node {
	if ratio < 1 {
		exceptions.Panicf("conv: bilinear upsampling ratio must be >= 1, got %d", ratio)
	}
	channels, rows, cols := staticImageDims(input)
	dtype := input.Shape().DType

	up := graph.Reshape(input, -1, 1, rows, cols)
	up = replicateBorders(up, rows, cols)
	concatCols := cols + 2

	pad := 2*ratio - (ratio-1)/2 - 1

	var upsampled *graph.Node
	if use1DKernel {
		kern := BilinearKernel1D(dtype, ratio, true)
		taps := kern.Size()
		rowKern := graph.Const(kern.Reshape(1, 1, taps, 1))
		upsampledRows := Conv2DGradWrtInputs(up, rowKern,
			[]int{shapes.Unknown, 1, rows * ratio, concatCols},
			ConvParams{
				BorderMode: Pad(pad, 0),
				Subsample:  []int{ratio, 1},
				FilterFlip: true,
				KShp:       []int{1, 1, taps, 1},
			})
		colKern := graph.Const(kern.Reshape(1, 1, 1, taps))
		upsampled = Conv2DGradWrtInputs(upsampledRows, colKern,
			[]int{shapes.Unknown, 1, rows * ratio, cols * ratio},
			ConvParams{
				BorderMode: Pad(0, pad),
				Subsample:  []int{1, ratio},
				FilterFlip: true,
				KShp:       []int{1, 1, 1, taps},
			})
	} else {
		kern := BilinearKernel2D(dtype, ratio, ratio, true)
		taps := kern.Dims()[0]
		kern2d := graph.Const(kern.Reshape(1, 1, taps, taps))
		upsampled = Conv2DGradWrtInputs(up, kern2d,
			[]int{shapes.Unknown, 1, rows * ratio, cols * ratio},
			ConvParams{
				BorderMode: Pad(pad, pad),
				Subsample:  []int{ratio, ratio},
				FilterFlip: true,
				KShp:       []int{1, 1, taps, taps},
			})
	}
	return graph.Reshape(upsampled, -1, channels, rows*ratio, cols*ratio)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// FracBilinearUpsampling upsamples a 4D (batch, channels, rows, cols)
// node by fractional ratios, given as (numerator, denominator) pairs per
// spatial dimension. The fractions are reduced, the numerator becomes the
// filter dilation and the denominator the stride of a convolution against
// a zero-padded pyramid kernel. The channel and spatial dimensions must
// be statically known.
func FracBilinearUpsampling(input *graph.Node, ratioRows, ratioCols [2]int) *graph.Node {
	for _, r := range [][2]int{ratioRows, ratioCols} {
		if r[0] < 1 || r[1] < 1 {
			exceptions.Panicf("conv: fractional upsampling ratios must be positive, got %v", r)
		}
	}
	channels, rows, cols := staticImageDims(input)
	dtype := input.Shape().DType

	divR := gcd(ratioRows[0], ratioRows[1])
	divC := gcd(ratioCols[0], ratioCols[1])
	ratio := []int{ratioRows[0] / divR, ratioCols[0] / divC}
	subsample := []int{ratioRows[1] / divR, ratioCols[1] / divC}

	up := graph.Reshape(input, -1, 1, rows, cols)
	up = replicateBorders(up, rows, cols)

	// The image acts as the filter bank of the convolution below, so the
	// pyramid kernel is padded out to cover every output position.
	doublePad := []int{(2*rows-1)*ratio[0] + 1, (2*cols-1)*ratio[1] + 1}
	pad := []int{doublePad[0] / 2, doublePad[1] / 2}

	kern := BilinearKernel2D(dtype, ratio[0], ratio[1], true)
	kh, kw := kern.Dims()[0], kern.Dims()[1]
	padded := kern.Reshape(1, 1, kh, kw).PadZero([][2]int{
		{0, 0},
		{0, 0},
		{pad[0], doublePad[0] - pad[0]},
		{pad[1], doublePad[1] - pad[1]},
	})

	upsampled := Conv2D(graph.Const(padded), up, ConvParams{
		BorderMode:     Valid(),
		Subsample:      subsample,
		FilterDilation: ratio,
		FilterFlip:     true,
	})
	outDims := upsampled.Shape().Dimensions
	return graph.Reshape(upsampled, -1, channels, outDims[2], outDims[3])
}
