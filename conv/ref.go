package conv

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/symconv/symconv/accel"
	"github.com/symconv/symconv/types/tensor"
)

// convDirection selects what the reference kernel computes: the forward
// output, the gradient with respect to the weights, or the gradient with
// respect to the inputs.
type convDirection int

const (
	dirForward convDirection = iota
	dirBackpropWeights
	dirBackpropInputs
)

// refConv is the reference loop convolution. img is (batch, channels,
// spatial...), kern is (filters, channels, spatial...) or the unshared
// 6D layout; mode is "valid" or "full". The kernel is implicitly dilated
// by zero interleaving and flipped (true convolution).
func refConv(img, kern *tensor.Tensor, mode string, dilation []int, numGroups int, unshared bool, direction convDirection) (*tensor.Tensor, error) {
	if img.DType() != kern.DType() {
		return nil, accel.Raisef(accel.KindTypeError, "conv: image dtype %s does not match kernel dtype %s", img.DType(), kern.DType())
	}
	switch img.DType() {
	case dtypes.Float32:
		return refConvDense(tensor.DenseOf[float32](img), tensor.DenseOf[float32](kern), mode, dilation, numGroups, unshared, direction)
	case dtypes.Float64:
		return refConvDense(tensor.DenseOf[float64](img), tensor.DenseOf[float64](kern), mode, dilation, numGroups, unshared, direction)
	case dtypes.Int32:
		return refConvDense(tensor.DenseOf[int32](img), tensor.DenseOf[int32](kern), mode, dilation, numGroups, unshared, direction)
	case dtypes.Int64:
		return refConvDense(tensor.DenseOf[int64](img), tensor.DenseOf[int64](kern), mode, dilation, numGroups, unshared, direction)
	default:
		return nil, accel.Raisef(accel.KindTypeError, "conv: unsupported dtype %s", img.DType())
	}
}

func refConvDense[T tensor.Number](img, kern *tensor.Dense[T], mode string, dilation []int, numGroups int, unshared bool, direction convDirection) (*tensor.Tensor, error) {
	convdim := img.Rank() - 2
	if mode != "valid" && mode != "full" {
		return nil, accel.Raisef(accel.KindValueError, "conv: invalid mode %q, which must be either \"valid\" or \"full\"", mode)
	}
	if dilation == nil {
		dilation = ones(convdim)
	}
	imgDims, kernDims := img.Dims(), kern.Dims()

	var outDims []int
	if unshared && direction == dirBackpropWeights {
		if mode != "valid" {
			return nil, accel.Raisef(accel.KindValueError, "conv: mode for unshared backprop wrt weights must be \"valid\"")
		}
		outDims = []int{
			imgDims[0], kernDims[0], kernDims[2], kernDims[3],
			imgDims[2] - kernDims[2] + 1, imgDims[3] - kernDims[3] + 1,
		}
	} else {
		var err error
		outDims, err = ConvOutputShape(imgDims, kernDims, namedMode(mode), ones(convdim), dilation)
		if err != nil {
			return nil, err
		}
	}

	dilKern := kern
	if anyAbove(dilation, 1) {
		dilDims := make([]int, kern.Rank())
		strides := ones(kern.Rank())
		copy(dilDims, kernDims)
		for i := 0; i < convdim; i++ {
			axis := kern.Rank() - convdim + i
			dilDims[axis] = (kernDims[axis]-1)*dilation[i] + 1
			strides[axis] = dilation[i]
		}
		dilKern = kern.ExpandStrided(dilDims, strides)
	}

	if imgDims[1]%numGroups != 0 {
		return nil, accel.Raisef(accel.KindValueError, "conv: number of input channels must be divisible by the number of groups")
	}
	if kernDims[0]%numGroups != 0 {
		return nil, accel.Raisef(accel.KindValueError, "conv: number of filters must be divisible by the number of groups")
	}
	if imgDims[1]/numGroups != kernDims[1] {
		return nil, accel.Raisef(accel.KindValueError, "conv: the number of input channels in the kernel should specify the number of channels of one group")
	}
	inOffset := imgDims[1] / numGroups
	outOffset := kernDims[0] / numGroups

	out := tensor.New[T](outDims...)
	outRest := sliceProduct(outDims[2:])
	for b := 0; b < outDims[0]; b++ {
		for g := 0; g < numGroups; g++ {
			for n := 0; n < outOffset; n++ {
				region := out.Flat()[(b*outDims[1]+g*outOffset+n)*outRest:][:outRest]
				for im0 := 0; im0 < inOffset; im0++ {
					imgSlice := channelSlice(img, b, g*inOffset+im0)
					kernSlice := channelSlice(dilKern, g*outOffset+n, im0)
					var part *tensor.Dense[T]
					var err error
					if unshared {
						part, err = unshared2d(imgSlice, kernSlice, outDims[2:], direction)
						if err != nil {
							return nil, err
						}
					} else if convdim == 2 {
						part = convolve2d(imgSlice, kernSlice, mode)
					} else {
						part = convolve3d(imgSlice, kernSlice, mode)
					}
					accumulate(region, part.Flat())
				}
			}
		}
	}
	return tensor.FromDense(out), nil
}

func namedMode(mode string) BorderMode {
	if mode == "full" {
		return Full()
	}
	return Valid()
}

func anyAbove(values []int, threshold int) bool {
	for _, v := range values {
		if v > threshold {
			return true
		}
	}
	return false
}

func sliceProduct(dims []int) int {
	size := 1
	for _, d := range dims {
		size *= d
	}
	return size
}

// channelSlice returns a view of d[i0, i1, ...] sharing the underlying
// storage.
func channelSlice[T tensor.Number](d *tensor.Dense[T], i0, i1 int) *tensor.Dense[T] {
	dims := d.Dims()
	rest := dims[2:]
	size := sliceProduct(rest)
	offset := (i0*dims[1] + i1) * size
	return tensor.FromFlat(d.Flat()[offset:offset+size], rest...)
}

func accumulate[T tensor.Number](dst, src []T) {
	for i, v := range src {
		dst[i] += v
	}
}

// convolve2d computes a true 2D convolution (kernel flipped) in valid or
// full mode.
func convolve2d[T tensor.Number](img, kern *tensor.Dense[T], mode string) *tensor.Dense[T] {
	kh, kw := kern.Dims()[0], kern.Dims()[1]
	if mode == "full" {
		img = img.PadZero([][2]int{{kh - 1, kh - 1}, {kw - 1, kw - 1}})
	}
	ih, iw := img.Dims()[0], img.Dims()[1]
	oh, ow := ih-kh+1, iw-kw+1
	out := tensor.New[T](oh, ow)
	imgFlat, kernFlat, outFlat := img.Flat(), kern.Flat(), out.Flat()
	for r := 0; r < oh; r++ {
		for c := 0; c < ow; c++ {
			var acc T
			for i := 0; i < kh; i++ {
				row := imgFlat[(r+i)*iw+c:]
				krow := kernFlat[(kh-1-i)*kw:]
				for j := 0; j < kw; j++ {
					acc += row[j] * krow[kw-1-j]
				}
			}
			outFlat[r*ow+c] = acc
		}
	}
	return out
}

// convolve3d is the 3D counterpart of convolve2d.
func convolve3d[T tensor.Number](img, kern *tensor.Dense[T], mode string) *tensor.Dense[T] {
	kd, kh, kw := kern.Dims()[0], kern.Dims()[1], kern.Dims()[2]
	if mode == "full" {
		img = img.PadZero([][2]int{{kd - 1, kd - 1}, {kh - 1, kh - 1}, {kw - 1, kw - 1}})
	}
	id, ih, iw := img.Dims()[0], img.Dims()[1], img.Dims()[2]
	od, oh, ow := id-kd+1, ih-kh+1, iw-kw+1
	out := tensor.New[T](od, oh, ow)
	imgFlat, kernFlat, outFlat := img.Flat(), kern.Flat(), out.Flat()
	for z := 0; z < od; z++ {
		for r := 0; r < oh; r++ {
			for c := 0; c < ow; c++ {
				var acc T
				for k := 0; k < kd; k++ {
					for i := 0; i < kh; i++ {
						row := imgFlat[((z+k)*ih+r+i)*iw+c:]
						krow := kernFlat[((kd-1-k)*kh+kh-1-i)*kw:]
						for j := 0; j < kw; j++ {
							acc += row[j] * krow[kw-1-j]
						}
					}
				}
				outFlat[(z*oh+r)*ow+c] = acc
			}
		}
	}
	return out
}

// unshared2d applies a different filter at every output position.
//
// For the forward direction inp is the 2D image slice and kern is the 4D
// (outRows, outCols, kernRows, kernCols) filter bank. For backprop wrt
// weights kern is the 2D top gradient and the 4D output accumulates one
// outer product per position. For backprop wrt inputs inp is the 2D top
// gradient and the 2D output scatters each filter back onto the image.
func unshared2d[T tensor.Number](inp, kern *tensor.Dense[T], outShape []int, direction convDirection) (*tensor.Dense[T], error) {
	out := tensor.New[T](outShape...)
	switch direction {
	case dirForward:
		oR, oC := outShape[0], outShape[1]
		kh, kw := kern.Dims()[2], kern.Dims()[3]
		for r := 0; r < oR; r++ {
			for c := 0; c < oC; c++ {
				var acc T
				for i := 0; i < kh; i++ {
					for j := 0; j < kw; j++ {
						acc += inp.At(r+i, c+j) * kern.At(r, c, kh-1-i, kw-1-j)
					}
				}
				out.Set(acc, r, c)
			}
		}
	case dirBackpropWeights:
		oR, oC, kh, kw := outShape[0], outShape[1], outShape[2], outShape[3]
		for r := 0; r < oR; r++ {
			for c := 0; c < oC; c++ {
				scale := kern.At(r, c)
				for i := 0; i < kh; i++ {
					for j := 0; j < kw; j++ {
						out.Set(scale*inp.At(r+i, c+j), r, c, i, j)
					}
				}
			}
		}
	case dirBackpropInputs:
		oR, oC := kern.Dims()[0], kern.Dims()[1]
		kh, kw := kern.Dims()[2], kern.Dims()[3]
		for r := 0; r < oR; r++ {
			for c := 0; c < oC; c++ {
				v := inp.At(r, c)
				for i := 0; i < kh; i++ {
					for j := 0; j < kw; j++ {
						out.Set(out.At(r+i, c+j)+v*kern.At(r, c, kh-1-i, kw-1-j), r+i, c+j)
					}
				}
			}
		}
	default:
		return nil, accel.Raisef(accel.KindValueError, "conv: invalid unshared direction %d", direction)
	}
	return out, nil
}
