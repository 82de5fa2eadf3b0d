package conv

import (
	"github.com/gomlx/exceptions"

	"github.com/symconv/symconv/graph"
	"github.com/symconv/symconv/types/shapes"
	"github.com/symconv/symconv/types/tensor"
)

// Conv2D convolves a mini-batch of 2D images (batch, channels, rows,
// cols) with a set of filters (filters, channels, rows, cols), or the 6D
// unshared layout. params.ConvDim is forced to 2; the remaining fields
// select padding, striding, dilation, grouping and filter flipping.
func Conv2D(input, filters *graph.Node, params ConvParams) *graph.Node {
	params.ConvDim = 2
	return NewForward(params).Apply(input, filters)
}

// Conv3D is the 3D counterpart of Conv2D, over (batch, channels, depth,
// rows, cols) volumes.
func Conv3D(input, filters *graph.Node, params ConvParams) *graph.Node {
	params.ConvDim = 3
	return NewForward(params).Apply(input, filters)
}

// constSpatialShape builds the int64 shape node for the trailing convdim
// entries of dims, which must be statically known.
func constSpatialShape(dims []int, convdim int, what string) *graph.Node {
	spatial := dims[len(dims)-convdim:]
	flat := make([]int64, convdim)
	for i, d := range spatial {
		if d == shapes.Unknown {
			exceptions.Panicf("conv: the %s spatial dimensions must be known, got %v", what, dims)
		}
		flat[i] = int64(d)
	}
	return graph.Const(tensor.FromFlatAny(flat, convdim))
}

func gradWrtInputs(outputGrad, filters *graph.Node, inputShape []int, params ConvParams) *graph.Node {
	checkConvDims(inputShape)
	params.ImShp = inputShape
	op := NewGradInputs(params)
	shape := constSpatialShape(inputShape, params.ConvDim, "target image")
	return op.Apply(filters, outputGrad, shape)
}

// Conv2DGradWrtInputs builds the gradient of a 2D convolution with
// respect to its input, for a given output gradient and the filters of
// the forward pass. inputShape is the full (batch, channels, rows, cols)
// shape of the image being recovered; its spatial entries must be known,
// the leading two may be shapes.Unknown. The filters use the forward
// layout (filters, channels, rows, cols).
func Conv2DGradWrtInputs(outputGrad, filters *graph.Node, inputShape []int, params ConvParams) *graph.Node {
	params.ConvDim = 2
	return gradWrtInputs(outputGrad, filters, inputShape, params)
}

// Conv3DGradWrtInputs is the 3D counterpart of Conv2DGradWrtInputs.
func Conv3DGradWrtInputs(outputGrad, filters *graph.Node, inputShape []int, params ConvParams) *graph.Node {
	params.ConvDim = 3
	return gradWrtInputs(outputGrad, filters, inputShape, params)
}

func gradWrtWeights(input, outputGrad *graph.Node, filterShape []int, params ConvParams) *graph.Node {
	checkConvDims(filterShape)
	params.KShp = filterShape
	op := NewGradWeights(params)
	shape := constSpatialShape(filterShape, params.ConvDim, "target filter")
	return op.Apply(input, outputGrad, shape)
}

// Conv2DGradWrtWeights builds the gradient of a 2D convolution with
// respect to its filters, for a given input and output gradient.
// filterShape is the full shape of the filters being recovered (the 6D
// layout when params.Unshared); its spatial entries must be known.
func Conv2DGradWrtWeights(input, outputGrad *graph.Node, filterShape []int, params ConvParams) *graph.Node {
	params.ConvDim = 2
	return gradWrtWeights(input, outputGrad, filterShape, params)
}

// Conv3DGradWrtWeights is the 3D counterpart of Conv2DGradWrtWeights.
func Conv3DGradWrtWeights(input, outputGrad *graph.Node, filterShape []int, params ConvParams) *graph.Node {
	params.ConvDim = 3
	return gradWrtWeights(input, outputGrad, filterShape, params)
}

// Conv2DTranspose applies a transposed 2D convolution (also called a
// deconvolution or fractionally strided convolution). The filters use the
// (input channels, output channels, rows, cols) layout, the reverse of
// Conv2D. outputShape is the full shape of the produced image; its
// spatial entries must be known. params.Subsample acts as the input
// dilation of the transposed operation, and params.BorderMode refers to
// the corresponding forward convolution, so padding here means cropping.
func Conv2DTranspose(input, filters *graph.Node, outputShape []int, params ConvParams) *graph.Node {
	params.ConvDim = 2
	return gradWrtInputs(input, filters, outputShape, params)
}

// SeparableConv2D chains a depthwise convolution (one group per input
// channel, configured by params) with a pointwise 1x1 convolution mixing
// the channels. depthwiseFilters has per-channel filters and
// pointwiseFilters is (output channels, depthwise output channels, 1, 1).
// pointwiseFilterShape optionally declares the pointwise filter shape and
// may be nil.
func SeparableConv2D(input, depthwiseFilters, pointwiseFilters *graph.Node, numChannels int, params ConvParams, pointwiseFilterShape []int) *graph.Node {
	params.ConvDim = 2
	params.NumGroups = numChannels
	params.Unshared = false
	depthwise := NewForward(params).Apply(input, depthwiseFilters)

	pointwise := ConvParams{
		ConvDim:    2,
		BorderMode: Valid(),
		FilterFlip: params.FilterFlip,
		ImShp:      depthwise.Shape().Dimensions,
		KShp:       pointwiseFilterShape,
	}
	return NewForward(pointwise).Apply(depthwise, pointwiseFilters)
}

// SeparableConv3D is the 3D counterpart of SeparableConv2D.
func SeparableConv3D(input, depthwiseFilters, pointwiseFilters *graph.Node, numChannels int, params ConvParams, pointwiseFilterShape []int) *graph.Node {
	params.ConvDim = 3
	params.NumGroups = numChannels
	params.Unshared = false
	depthwise := NewForward(params).Apply(input, depthwiseFilters)

	pointwise := ConvParams{
		ConvDim:    3,
		BorderMode: Valid(),
		FilterFlip: params.FilterFlip,
		ImShp:      depthwise.Shape().Dimensions,
		KShp:       pointwiseFilterShape,
	}
	return NewForward(pointwise).Apply(depthwise, pointwiseFilters)
}

// CausalConv1D convolves a mini-batch of sequences (batch, channels,
// length) with filters (filters, channels, taps) so that each output
// position only depends on current and earlier input positions: the
// input is left-padded by dilation*(taps-1). filterShape is required and
// its taps entry must be known; inputShape may be nil.
func CausalConv1D(input, filters *graph.Node, filterShape, inputShape []int, subsample int, filterFlip bool, filterDilation, numGroups int) *graph.Node {
	if input.Shape().Rank() != 3 {
		exceptions.Panicf("conv: causal convolution input must be a 3D tensor, got %s", input.Shape())
	}
	if filters.Shape().Rank() != 3 {
		exceptions.Panicf("conv: causal convolution filters must be a 3D tensor, got %s", filters.Shape())
	}
	if len(filterShape) != 3 {
		exceptions.Panicf("conv: causal convolution filter shape must have 3 entries, got %v", filterShape)
	}
	if filterShape[2] == shapes.Unknown {
		exceptions.Panicf("conv: causal convolution needs a known number of filter taps, got %v", filterShape)
	}
	if filterDilation < 1 {
		filterDilation = 1
	}
	if subsample < 1 {
		subsample = 1
	}

	img := graph.ExpandDims(input, -1)
	kern := graph.ExpandDims(filters, -1)

	var imShp []int
	if inputShape != nil {
		if len(inputShape) != 3 {
			exceptions.Panicf("conv: causal convolution input shape must have 3 entries, got %v", inputShape)
		}
		imShp = append(append([]int{}, inputShape...), 1)
	}
	kShp := append(append([]int{}, filterShape...), 1)

	leftPad := filterDilation * (filterShape[2] - 1)
	params := ConvParams{
		ConvDim:        2,
		BorderMode:     PadPairs([2]int{leftPad, 0}, [2]int{0, 0}),
		Subsample:      []int{subsample, 1},
		FilterDilation: []int{filterDilation, 1},
		NumGroups:      numGroups,
		FilterFlip:     filterFlip,
		ImShp:          imShp,
		KShp:           kShp,
	}
	out := NewForward(params).Apply(img, kern)
	return graph.Squeeze(out, -1)
}
