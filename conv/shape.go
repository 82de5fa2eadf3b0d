package conv

import (
	"github.com/pkg/errors"
	"github.com/symconv/symconv/types/shapes"
)

// ConvShape1Axis computes the forward output extent on one spatial axis,
// or shapes.Unknown when image or kernel is Unknown. It returns an error
// on negative padding.
func ConvShape1Axis(image, kernel int, mode BorderMode, axis, subsample, dilation int) (int, error) {
	if image == shapes.Unknown || kernel == shapes.Unknown {
		return shapes.Unknown, nil
	}
	dilKernel := (kernel-1)*dilation + 1
	pad, err := mode.padFor(axis, dilKernel)
	if err != nil {
		return 0, err
	}
	return (image+pad[0]+pad[1]-dilKernel)/subsample + 1, nil
}

// ConvOutputShape computes the shape of the forward convolution output
// from the image and kernel shapes. Entries may be shapes.Unknown. The
// kernel shape has 2+2*convdim entries for unshared convolutions; only
// its leading output-channel entry and trailing spatial entries are used,
// so the result does not depend on unshared or on grouping.
func ConvOutputShape(imageShape, kernelShape []int, mode BorderMode, subsample, filterDilation []int) ([]int, error) {
	convdim := len(imageShape) - 2
	if filterDilation == nil {
		filterDilation = ones(convdim)
	}
	out := make([]int, 2+convdim)
	out[0] = imageShape[0]
	out[1] = kernelShape[0]
	kernSpatial := kernelShape[len(kernelShape)-convdim:]
	for i := 0; i < convdim; i++ {
		dim, err := ConvShape1Axis(imageShape[2+i], kernSpatial[i], mode, i, subsample[i], filterDilation[i])
		if err != nil {
			return nil, err
		}
		out[2+i] = dim
	}
	return out, nil
}

// GradWeightsShape1Axis computes the kernel extent on one spatial axis
// from the image and top-gradient extents. The extent is only determined
// when subsample is 1 and the mode is not half; otherwise it returns
// shapes.Unknown.
func GradWeightsShape1Axis(image, top int, mode BorderMode, axis, subsample, dilation int) (int, error) {
	if image == shapes.Unknown || top == shapes.Unknown {
		return shapes.Unknown, nil
	}
	if subsample != 1 || mode.name == borderHalf {
		return shapes.Unknown, nil
	}
	var kernel int
	switch mode.name {
	case borderFull:
		kernel = top - image
	case borderValid:
		kernel = image - top
	default:
		pad, err := mode.padFor(axis, 0)
		if err != nil {
			return 0, err
		}
		kernel = image + pad[0] + pad[1] - top
	}
	if dilation > 1 {
		kernel /= dilation
	}
	return kernel + 1, nil
}

// GradWeightsShape computes the kernel shape recovered by the GradWeights
// operator from the image and top-gradient shapes. For unshared
// convolutions the result has 2+2*convdim entries.
func GradWeightsShape(imageShape, topShape []int, mode BorderMode, subsample, filterDilation []int, numGroups int, unshared bool) ([]int, error) {
	convdim := len(imageShape) - 2
	if filterDilation == nil {
		filterDilation = ones(convdim)
	}
	outChans := topShape[1]
	inChans := imageShape[1]
	if numGroups > 1 && inChans != shapes.Unknown {
		inChans /= numGroups
	}
	spatial := make([]int, convdim)
	for i := 0; i < convdim; i++ {
		dim, err := GradWeightsShape1Axis(imageShape[2+i], topShape[2+i], mode, i, subsample[i], filterDilation[i])
		if err != nil {
			return nil, err
		}
		spatial[i] = dim
	}
	if unshared {
		out := append([]int{outChans}, topShape[2:]...)
		out = append(out, inChans)
		return append(out, spatial...), nil
	}
	return append([]int{outChans, inChans}, spatial...), nil
}

// GradInputsShape1Axis computes the image extent on one spatial axis from
// the kernel and top-gradient extents. The extent is only determined when
// subsample is 1; otherwise it returns shapes.Unknown.
func GradInputsShape1Axis(kernel, top int, mode BorderMode, axis, subsample, dilation int) (int, error) {
	if kernel == shapes.Unknown || top == shapes.Unknown {
		return shapes.Unknown, nil
	}
	if subsample != 1 {
		return shapes.Unknown, nil
	}
	dilKernel := (kernel-1)*dilation + 1
	pad, err := mode.padFor(axis, dilKernel)
	if err != nil {
		return 0, err
	}
	return top + dilKernel - 1 - pad[0] - pad[1], nil
}

// GradInputsShape computes the image shape recovered by the GradInputs
// operator from the kernel and top-gradient shapes.
func GradInputsShape(kernelShape, topShape []int, mode BorderMode, subsample, filterDilation []int, numGroups int) ([]int, error) {
	convdim := len(topShape) - 2
	if filterDilation == nil {
		filterDilation = ones(convdim)
	}
	bsize := topShape[0]
	nkern := kernelShape[len(kernelShape)-convdim-1]
	if numGroups > 1 && nkern != shapes.Unknown {
		nkern *= numGroups
	}
	kernSpatial := kernelShape[len(kernelShape)-convdim:]
	out := make([]int, 2+convdim)
	out[0] = bsize
	out[1] = nkern
	for i := 0; i < convdim; i++ {
		dim, err := GradInputsShape1Axis(kernSpatial[i], topShape[2+i], mode, i, subsample[i], filterDilation[i])
		if err != nil {
			return nil, err
		}
		out[2+i] = dim
	}
	return out, nil
}

// CheckGradInputsShape reports whether a forward convolution with the
// given image and kernel shapes could have produced the given output
// shape. Unknown entries are accepted optimistically; only a definite
// mismatch returns false.
func CheckGradInputsShape(imageShape, kernelShape, outputShape []int, mode BorderMode, subsample, filterDilation []int) bool {
	if len(imageShape) != len(kernelShape) || len(imageShape) != len(outputShape) {
		return false
	}
	convdim := len(imageShape) - 2
	if convdim != len(subsample) {
		return false
	}
	if filterDilation != nil && convdim != len(filterDilation) {
		return false
	}
	computed, err := ConvOutputShape(imageShape, kernelShape, mode, subsample, filterDilation)
	if err != nil {
		return false
	}
	for i, given := range outputShape {
		if given == shapes.Unknown || computed[i] == shapes.Unknown {
			continue
		}
		if given != computed[i] {
			return false
		}
	}
	return true
}

// mergePreferDeclared overlays declared dims (from ConvParams) on top of
// inferred ones: a known declared entry wins over the inferred entry.
func mergePreferDeclared(declared, inferred []int) ([]int, error) {
	if len(declared) != len(inferred) {
		return nil, errors.Errorf("conv: declared shape %v does not match rank of %v", declared, inferred)
	}
	out := make([]int, len(inferred))
	for i := range inferred {
		if declared[i] != shapes.Unknown {
			out[i] = declared[i]
			continue
		}
		out[i] = inferred[i]
	}
	return out, nil
}
