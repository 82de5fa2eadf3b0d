package conv

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/symconv/symconv/accel"
	"github.com/symconv/symconv/graph"
	"github.com/symconv/symconv/types/shapes"
	"github.com/symconv/symconv/types/tensor"
)

// Forward is the forward convolution operator. Its node takes (image,
// kernel) and produces (batch, filters, spatial...) feature maps.
type Forward struct {
	params ConvParams
}

// NewForward validates params and returns the forward operator.
func NewForward(params ConvParams) *Forward {
	return &Forward{params: params.validated()}
}

// Params returns the validated parameters.
func (op *Forward) Params() ConvParams { return op.params }

func (op *Forward) Name() string { return fmt.Sprintf("Conv%dD", op.params.ConvDim) }

// Apply builds the forward node, checking ranks and attaching shape
// assertions for the declared image and kernel shapes.
func (op *Forward) Apply(img, kern *graph.Node) *graph.Node {
	p := op.params
	if img.Shape().Rank() != 2+p.ConvDim {
		exceptions.Panicf("conv: image must be a %dD tensor, got %s", 2+p.ConvDim, img.Shape())
	}
	if kern.Shape().Rank() != p.kernelRank() {
		exceptions.Panicf("conv: kernel must be a %dD tensor, got %s", p.kernelRank(), kern.Shape())
	}
	img = assertShape(img, p.ImShp, "conv: shape of image does not match the declared image shape")
	kern = assertShape(kern, p.KShp, "conv: shape of filters does not match the declared filter shape")
	return graph.NewNode(op, img, kern)
}

func (op *Forward) InferShape(inputs []shapes.Shape) (shapes.Shape, error) {
	p := op.params
	if err := checkConvInputs(inputs[0], inputs[1], 2+p.ConvDim, p.kernelRank()); err != nil {
		return shapes.Invalid(), err
	}
	imshp, err := mergePreferDeclared(p.ImShp, inputs[0].Dimensions)
	if err != nil {
		return shapes.Invalid(), err
	}
	kshp, err := mergePreferDeclared(p.KShp, inputs[1].Dimensions)
	if err != nil {
		return shapes.Invalid(), err
	}
	out, err := ConvOutputShape(imshp, kshp, p.BorderMode, p.Subsample, p.FilterDilation)
	if err != nil {
		return shapes.Invalid(), err
	}
	return convShape(inputs[0].DType, out)
}

func (op *Forward) Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	img, kern := inputs[0], inputs[1]
	p := op.params
	convdim := p.ConvDim

	kernDims := kern.Dims()
	dilKernShp := p.dilatedKernelShape(kernDims[len(kernDims)-convdim:])
	pad, err := borderModeToPad(p.BorderMode, convdim, dilKernShp)
	if err != nil {
		return nil, err
	}
	img = padImage(img, pad)
	if !p.FilterFlip {
		kern = kern.Reverse(lastAxes(kern.Rank(), convdim)...)
	}

	if p.Unshared {
		outShape, err := ConvOutputShape(img.Dims(), kern.Dims(), Valid(), p.Subsample, p.FilterDilation)
		if err != nil {
			return nil, err
		}
		if !slices.Equal(kern.Dims()[1:1+convdim], outShape[2:2+convdim]) {
			return nil, accel.Raisef(accel.KindValueError,
				"conv: kernel regions %v do not match the computed output size %v",
				kern.Dims()[1:1+convdim], outShape[2:2+convdim])
		}
		if p.anySubsample() {
			fullShape, err := ConvOutputShape(img.Dims(), kern.Dims(), Valid(), ones(convdim), p.FilterDilation)
			if err != nil {
				return nil, err
			}
			expDims := slices.Clone(kern.Dims())
			strides := ones(kern.Rank())
			for i := 0; i < convdim; i++ {
				expDims[1+i] = fullShape[2+i]
				strides[1+i] = p.Subsample[i]
			}
			kern = kern.ExpandStrided(expDims, strides)
		}
		// from (filters, regions..., channels, taps...)
		// to (filters, channels, regions..., taps...)
		perm := make([]int, 0, kern.Rank())
		perm = append(perm, 0, 1+convdim)
		for i := 1; i <= convdim; i++ {
			perm = append(perm, i)
		}
		for i := 2 + convdim; i < kern.Rank(); i++ {
			perm = append(perm, i)
		}
		kern = kern.Transpose(perm...)
	}

	out, err := refConv(img, kern, "valid", p.FilterDilation, p.NumGroups, p.Unshared, dirForward)
	if err != nil {
		return nil, err
	}
	if p.anySubsample() {
		steps := ones(out.Rank())
		copy(steps[2:], p.Subsample)
		out = out.Strided(steps)
	}
	return out, nil
}

func (op *Forward) VJP(node *graph.Node, outputGrad *graph.Node) []*graph.Node {
	img, kern := node.Inputs()[0], node.Inputs()[1]
	p := op.params
	p.ImShp = mergeStatic(p.ImShp, img.Shape().Dimensions)
	p.KShp = mergeStatic(p.KShp, kern.Shape().Dimensions)
	dImg := NewGradInputs(p).apply(kern, outputGrad, spatialShapeNode(img, p.ConvDim), false)
	dKern := NewGradWeights(p).apply(img, outputGrad, spatialShapeNode(kern, p.ConvDim), false)
	return []*graph.Node{dImg, dKern}
}

// RDirectional builds the directional derivative (the R-operator) of the
// forward convolution at (img, kern) along (imgTangent, kernTangent);
// either tangent may be nil. Not implemented for grouped or unshared
// convolutions.
func (op *Forward) RDirectional(img, kern, imgTangent, kernTangent *graph.Node) *graph.Node {
	p := op.params
	if p.NumGroups > 1 {
		exceptions.Panicf("conv: directional derivative not implemented for grouped convolutions")
	}
	if p.Unshared {
		exceptions.Panicf("conv: directional derivative not implemented for unshared convolutions")
	}
	var out *graph.Node
	if imgTangent != nil {
		out = op.Apply(imgTangent, kern)
	}
	if kernTangent != nil {
		part := op.Apply(img, kernTangent)
		if out == nil {
			out = part
		} else {
			out = graph.Add(out, part)
		}
	}
	return out
}

// GradWeights computes the gradient of the forward convolution with
// respect to its kernel. Its node takes (image, topGradient, spatialShape)
// where spatialShape is a 1-D integer vector holding the kernel's spatial
// extents; that input is not differentiated through.
type GradWeights struct {
	params ConvParams
}

// NewGradWeights validates params and returns the kernel-gradient
// operator.
func NewGradWeights(params ConvParams) *GradWeights {
	return &GradWeights{params: params.validated()}
}

// Params returns the validated parameters.
func (op *GradWeights) Params() ConvParams { return op.params }

func (op *GradWeights) Name() string { return fmt.Sprintf("Conv%dDGradWeights", op.params.ConvDim) }

// Apply builds the gradient node, checking ranks and attaching shape
// assertions.
func (op *GradWeights) Apply(img, topgrad, shape *graph.Node) *graph.Node {
	return op.apply(img, topgrad, shape, true)
}

func (op *GradWeights) apply(img, topgrad, shape *graph.Node, addAssert bool) *graph.Node {
	p := op.params
	if img.Shape().Rank() != 2+p.ConvDim {
		exceptions.Panicf("conv: image must be a %dD tensor, got %s", 2+p.ConvDim, img.Shape())
	}
	if topgrad.Shape().Rank() != 2+p.ConvDim {
		exceptions.Panicf("conv: top gradient must be a %dD tensor, got %s", 2+p.ConvDim, topgrad.Shape())
	}
	if spatial := constSpatialEntries(shape, p.ConvDim); spatial != nil {
		fold := unknowns(p.kernelRank())
		copy(fold[p.kernelRank()-p.ConvDim:], spatial)
		if kshp, err := mergePreferDeclared(p.KShp, fold); err == nil && !slices.Equal(kshp, p.KShp) {
			p.KShp = kshp
			op = &GradWeights{params: p}
		}
	}
	if addAssert {
		img = assertShape(img, p.ImShp, "conv: shape of image does not match the declared image shape")
		shape = assertSpatialShape(shape, p.ConvDim)
	}
	return graph.NewNode(op, img, topgrad, shape)
}

func (op *GradWeights) InferShape(inputs []shapes.Shape) (shapes.Shape, error) {
	p := op.params
	if err := checkConvInputs(inputs[0], inputs[1], 2+p.ConvDim, 2+p.ConvDim); err != nil {
		return shapes.Invalid(), err
	}
	if err := checkShapeInput(inputs[2], p.ConvDim); err != nil {
		return shapes.Invalid(), err
	}
	imshp, err := mergePreferDeclared(p.ImShp, inputs[0].Dimensions)
	if err != nil {
		return shapes.Invalid(), err
	}
	topshp := inputs[1].Dimensions

	nchan := imshp[1]
	if nchan != shapes.Unknown {
		nchan /= p.NumGroups
	}
	var fallback []int
	if p.Unshared {
		fallback = append([]int{topshp[1]}, topshp[2:]...)
		fallback = append(fallback, nchan)
		fallback = append(fallback, unknowns(p.ConvDim)...)
	} else {
		fallback = append([]int{topshp[1], nchan}, unknowns(p.ConvDim)...)
	}
	kshp, err := mergePreferDeclared(p.KShp, fallback)
	if err != nil {
		return shapes.Invalid(), err
	}
	return convShape(inputs[0].DType, kshp)
}

func (op *GradWeights) Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	img, topgrad := inputs[0], inputs[1]
	p := op.params
	convdim := p.ConvDim

	kernSpatial, err := intVector(inputs[2], convdim)
	if err != nil {
		return nil, err
	}
	dilShape := p.dilatedKernelShape(kernSpatial)
	pad, err := borderModeToPad(p.BorderMode, convdim, dilShape)
	if err != nil {
		return nil, err
	}
	img = padImage(img, pad)

	if p.anySubsample() {
		expDims := slices.Clone(topgrad.Dims())
		strides := ones(topgrad.Rank())
		for i := 0; i < convdim; i++ {
			expDims[2+i] = img.Dims()[2+i] - dilShape[i] + 1
			strides[2+i] = p.Subsample[i]
		}
		topgrad = topgrad.ExpandStrided(expDims, strides)
	}

	perm := swapLeadingPerm(2 + convdim)
	topgrad = topgrad.Transpose(perm...)
	img = img.Transpose(perm...)
	if p.NumGroups > 1 {
		img = correctForGroups(img, p.NumGroups, convdim, false)
	}

	var kern *tensor.Tensor
	if p.Unshared {
		kern, err = refConv(img, topgrad, "valid", nil, p.NumGroups, true, dirBackpropWeights)
		if err != nil {
			return nil, err
		}
		if p.anySubsample() {
			steps := ones(kern.Rank())
			copy(steps[2:2+convdim], p.Subsample)
			kern = kern.Strided(steps)
		}
		// from (channels, filters, regions..., taps...)
		// to (filters, regions..., channels, taps...)
		axes := make([]int, 0, kern.Rank())
		axes = append(axes, 1)
		for i := 2; i < 2+convdim; i++ {
			axes = append(axes, i)
		}
		axes = append(axes, 0)
		for i := 2 + convdim; i < kern.Rank(); i++ {
			axes = append(axes, i)
		}
		kern = kern.Transpose(axes...)
	} else {
		topgrad = topgrad.Reverse(lastAxes(topgrad.Rank(), convdim)...)
		kern, err = refConv(img, topgrad, "valid", nil, p.NumGroups, false, dirForward)
		if err != nil {
			return nil, err
		}
		kern = kern.Transpose(swapLeadingPerm(kern.Rank())...)
	}

	if p.anyDilation() {
		steps := ones(kern.Rank())
		copy(steps[kern.Rank()-convdim:], p.FilterDilation)
		kern = kern.Strided(steps)
	}
	if p.FilterFlip {
		kern = kern.Reverse(lastAxes(kern.Rank(), convdim)...)
	}
	return kern, nil
}

func (op *GradWeights) VJP(node *graph.Node, outputGrad *graph.Node) []*graph.Node {
	img, topgrad := node.Inputs()[0], node.Inputs()[1]
	p := op.params
	p.ImShp = mergeStatic(p.ImShp, img.Shape().Dimensions)
	dImg := NewGradInputs(p).Apply(outputGrad, topgrad, spatialShapeNode(img, p.ConvDim))
	dTop := NewForward(p).Apply(img, outputGrad)
	return []*graph.Node{dImg, dTop, nil}
}

// GradInputs computes the gradient of the forward convolution with
// respect to its image. Its node takes (kernel, topGradient, spatialShape)
// where spatialShape is a 1-D integer vector holding the image's spatial
// extents; that input is not differentiated through.
type GradInputs struct {
	params ConvParams
}

// NewGradInputs validates params and returns the image-gradient operator.
func NewGradInputs(params ConvParams) *GradInputs {
	return &GradInputs{params: params.validated()}
}

// Params returns the validated parameters.
func (op *GradInputs) Params() ConvParams { return op.params }

func (op *GradInputs) Name() string { return fmt.Sprintf("Conv%dDGradInputs", op.params.ConvDim) }

// Apply builds the gradient node, checking ranks and attaching shape
// assertions.
func (op *GradInputs) Apply(kern, topgrad, shape *graph.Node) *graph.Node {
	return op.apply(kern, topgrad, shape, true)
}

func (op *GradInputs) apply(kern, topgrad, shape *graph.Node, addAssert bool) *graph.Node {
	p := op.params
	if kern.Shape().Rank() != p.kernelRank() {
		exceptions.Panicf("conv: kernel must be a %dD tensor, got %s", p.kernelRank(), kern.Shape())
	}
	if topgrad.Shape().Rank() != 2+p.ConvDim {
		exceptions.Panicf("conv: top gradient must be a %dD tensor, got %s", 2+p.ConvDim, topgrad.Shape())
	}
	if spatial := constSpatialEntries(shape, p.ConvDim); spatial != nil {
		fold := unknowns(2 + p.ConvDim)
		copy(fold[2:], spatial)
		if imshp, err := mergePreferDeclared(p.ImShp, fold); err == nil && !slices.Equal(imshp, p.ImShp) {
			p.ImShp = imshp
			op = &GradInputs{params: p}
		}
	}
	if addAssert {
		kern = assertShape(kern, p.KShp, "conv: shape of filters does not match the declared filter shape")
		shape = assertSpatialShape(shape, p.ConvDim)
	}
	return graph.NewNode(op, kern, topgrad, shape)
}

func (op *GradInputs) InferShape(inputs []shapes.Shape) (shapes.Shape, error) {
	p := op.params
	if err := checkConvInputs(inputs[0], inputs[1], p.kernelRank(), 2+p.ConvDim); err != nil {
		return shapes.Invalid(), err
	}
	if err := checkShapeInput(inputs[2], p.ConvDim); err != nil {
		return shapes.Invalid(), err
	}
	kshp := inputs[0].Dimensions
	topshp := inputs[1].Dimensions

	nkern := kshp[len(kshp)-p.ConvDim-1]
	if nkern != shapes.Unknown && p.NumGroups > 1 {
		nkern *= p.NumGroups
	}
	fallback := append([]int{topshp[0], nkern}, unknowns(p.ConvDim)...)
	imshp, err := mergePreferDeclared(p.ImShp, fallback)
	if err != nil {
		return shapes.Invalid(), err
	}
	return convShape(inputs[0].DType, imshp)
}

func (op *GradInputs) Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	kern, topgrad := inputs[0], inputs[1]
	p := op.params
	convdim := p.ConvDim

	imgSpatial, err := intVector(inputs[2], convdim)
	if err != nil {
		return nil, err
	}
	kernDims := kern.Dims()
	dilKernShp := p.dilatedKernelShape(kernDims[len(kernDims)-convdim:])
	pad, err := borderModeToPad(p.BorderMode, convdim, dilKernShp)
	if err != nil {
		return nil, err
	}

	imshp := make([]int, 2+convdim)
	imshp[0] = topgrad.Dims()[0]
	imshp[1] = kernDims[len(kernDims)-convdim-1]
	copy(imshp[2:], imgSpatial)
	imshp, err = mergePreferDeclared(p.ImShp, imshp)
	if err != nil {
		return nil, err
	}
	expected, err := ConvOutputShape(imshp, kernDims, p.BorderMode, p.Subsample, p.FilterDilation)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(expected, topgrad.Dims()) {
		return nil, accel.Raisef(accel.KindValueError,
			"conv: invalid image shape for the input gradient: it would produce an output of shape %v, but the given top gradient has shape %v",
			expected, topgrad.Dims())
	}

	if p.anySubsample() {
		expDims := slices.Clone(topgrad.Dims())
		strides := ones(topgrad.Rank())
		for i := 0; i < convdim; i++ {
			expDims[2+i] = imgSpatial[i] + pad[i][0] + pad[i][1] - dilKernShp[i] + 1
			strides[2+i] = p.Subsample[i]
		}
		topgrad = topgrad.ExpandStrided(expDims, strides)

		if p.Unshared {
			expKernDims := slices.Clone(kern.Dims())
			kernStrides := ones(kern.Rank())
			for i := 0; i < convdim; i++ {
				expKernDims[1+i] = topgrad.Dims()[2+i]
				kernStrides[1+i] = p.Subsample[i]
			}
			kern = kern.ExpandStrided(expKernDims, kernStrides)
		}
	}

	kern = correctForGroups(kern, p.NumGroups, convdim, p.Unshared)

	var img *tensor.Tensor
	if p.Unshared {
		// from (filters, regions..., channels, taps...)
		// to (channels, filters, regions..., taps...)
		axes := make([]int, 0, kern.Rank())
		axes = append(axes, 1+convdim, 0)
		for i := 1; i <= convdim; i++ {
			axes = append(axes, i)
		}
		for i := 2 + convdim; i < kern.Rank(); i++ {
			axes = append(axes, i)
		}
		kern = kern.Transpose(axes...)
		if !p.FilterFlip {
			kern = kern.Reverse(lastAxes(kern.Rank(), convdim)...)
		}
		img, err = refConv(topgrad, kern, "full", p.FilterDilation, p.NumGroups, true, dirBackpropInputs)
		if err != nil {
			return nil, err
		}
	} else {
		kern = kern.Transpose(swapLeadingPerm(kern.Rank())...)
		if p.FilterFlip {
			topgrad = topgrad.Reverse(lastAxes(topgrad.Rank(), convdim)...)
		}
		img, err = refConv(topgrad, kern, "full", p.FilterDilation, p.NumGroups, false, dirForward)
		if err != nil {
			return nil, err
		}
		if p.FilterFlip {
			img = img.Reverse(lastAxes(img.Rank(), convdim)...)
		}
	}

	for i := 0; i < convdim; i++ {
		if pad[i][0] == 0 && pad[i][1] == 0 {
			continue
		}
		img = img.SliceAxis(2+i, pad[i][0], img.Dims()[2+i]-pad[i][1])
	}
	return img, nil
}

func (op *GradInputs) VJP(node *graph.Node, outputGrad *graph.Node) []*graph.Node {
	kern, topgrad := node.Inputs()[0], node.Inputs()[1]
	p := op.params
	p.KShp = mergeStatic(p.KShp, kern.Shape().Dimensions)
	dKern := NewGradWeights(p).Apply(outputGrad, topgrad, spatialShapeNode(kern, p.ConvDim))
	dTop := NewForward(p).Apply(outputGrad, kern)
	return []*graph.Node{dKern, dTop, nil}
}

// checkConvInputs validates ranks and dtype agreement of the two tensor
// inputs shared by the three operators.
func checkConvInputs(a, b shapes.Shape, aRank, bRank int) error {
	if a.Rank() != aRank {
		return errors.Errorf("conv: expected a %dD tensor, got %s", aRank, a)
	}
	if b.Rank() != bRank {
		return errors.Errorf("conv: expected a %dD tensor, got %s", bRank, b)
	}
	if a.DType != b.DType {
		return errors.Errorf("conv: mixed dtypes %s and %s", a.DType, b.DType)
	}
	return nil
}

func checkShapeInput(s shapes.Shape, convdim int) error {
	if s.Rank() != 1 {
		return errors.Errorf("conv: spatial shape input must be a vector, got %s", s)
	}
	if dim := s.Dim(0); dim != shapes.Unknown && dim != convdim {
		return errors.Errorf("conv: spatial shape input must have %d entries, got %s", convdim, s)
	}
	if s.DType != dtypes.Int64 && s.DType != dtypes.Int32 {
		return errors.Errorf("conv: spatial shape input must be an integer vector, got %s", s)
	}
	return nil
}

// convShape builds the result shape, rejecting dimensions no convolution
// could produce: negative batch or channel counts, non-positive spatial
// extents.
func convShape(dtype dtypes.DType, dims []int) (shapes.Shape, error) {
	for i, n := range dims {
		if n == shapes.Unknown {
			continue
		}
		if (i < 2 && n < 0) || (i >= 2 && n <= 0) {
			return shapes.Invalid(), errors.Errorf("conv: the convolution would produce an invalid shape %v (dim[%d])", dims, i)
		}
	}
	return shapes.Make(dtype, dims...), nil
}

// mergeStatic fills Unknown declared entries from statically inferred
// dimensions. Both slices must have the same length.
func mergeStatic(declared, static []int) []int {
	out := slices.Clone(declared)
	for i, dim := range static {
		if out[i] == shapes.Unknown {
			out[i] = dim
		}
	}
	return out
}

// padImage zero-pads the spatial axes of a (batch, channels, spatial...)
// tensor; a no-op when all pads are zero.
func padImage(img *tensor.Tensor, pad [][2]int) *tensor.Tensor {
	any := false
	for _, p := range pad {
		if p[0] != 0 || p[1] != 0 {
			any = true
			break
		}
	}
	if !any {
		return img
	}
	full := make([][2]int, 2, 2+len(pad))
	full = append(full, pad...)
	return img.PadZero(full)
}

// swapLeadingPerm returns the permutation exchanging the two leading axes.
func swapLeadingPerm(rank int) []int {
	perm := make([]int, rank)
	for i := range perm {
		perm[i] = i
	}
	perm[0], perm[1] = 1, 0
	return perm
}

// lastAxes lists the trailing n axes of a rank-r tensor.
func lastAxes(rank, n int) []int {
	axes := make([]int, n)
	for i := range axes {
		axes[i] = rank - n + i
	}
	return axes
}

// correctForGroups reshuffles a channels-leading tensor so that the
// channels of each group line up with the matching group of filters: the
// leading axis is split into groups and folded into the channel axis.
func correctForGroups(t *tensor.Tensor, numGroups, convdim int, unshared bool) *tensor.Tensor {
	if numGroups <= 1 {
		return t
	}
	dims := t.Dims()
	m0 := dims[0] / numGroups
	m1 := dims[len(dims)-convdim-1] * numGroups

	grouped := make([]int, 0, len(dims)+1)
	grouped = append(grouped, numGroups, m0)
	grouped = append(grouped, dims[1:]...)
	t = t.Reshape(grouped...)

	rank := len(grouped)
	var perm []int
	if unshared {
		perm = make([]int, 0, rank)
		for i := 1; i < 2+convdim; i++ {
			perm = append(perm, i)
		}
		perm = append(perm, 0)
		for i := 2 + convdim; i < rank; i++ {
			perm = append(perm, i)
		}
	} else {
		perm = []int{1, 0}
		for i := 2; i < rank; i++ {
			perm = append(perm, i)
		}
	}
	t = t.Transpose(perm...)

	var folded []int
	if unshared {
		folded = append([]int{m0}, dims[1:1+convdim]...)
		folded = append(folded, m1)
		folded = append(folded, dims[len(dims)-convdim:]...)
	} else {
		folded = append([]int{m0, m1}, dims[len(dims)-convdim:]...)
	}
	return t.Reshape(folded...)
}

// intVector reads a 1-D integer tensor of the given length.
// constSpatialEntries reads the spatial-shape input when it is a graph
// constant, so static shapes survive inference even when they only arrive
// through the shape vector. Returns nil for anything non-constant.
func constSpatialEntries(shape *graph.Node, convdim int) []int {
	val := graph.ConstValue(shape)
	if val == nil {
		return nil
	}
	spatial, err := intVector(val, convdim)
	if err != nil {
		return nil
	}
	return spatial
}

func intVector(t *tensor.Tensor, want int) ([]int, error) {
	if t.Rank() != 1 || t.Size() != want {
		return nil, accel.Raisef(accel.KindValueError, "conv: expected a spatial shape vector of %d entries, got shape %v", want, t.Dims())
	}
	out := make([]int, want)
	switch t.DType() {
	case dtypes.Int64:
		for i, v := range tensor.DenseOf[int64](t).Flat() {
			out[i] = int(v)
		}
	case dtypes.Int32:
		for i, v := range tensor.DenseOf[int32](t).Flat() {
			out[i] = int(v)
		}
	default:
		return nil, accel.Raisef(accel.KindTypeError, "conv: spatial shape vector must be an integer tensor, got %s", t.DType())
	}
	return out, nil
}
