// Package conv builds symbolic N-dimensional convolution graphs: a forward
// operator plus the two backward operators (gradient with respect to the
// weights and to the inputs), with striding, dilation, grouping, unshared
// filters and a rich set of padding modes.
//
// The three operators are mutually consistent: the gradient of each one is
// expressed in terms of the other two, so any of them can be trained
// through. Shapes are inferred at construction time whenever enough is
// known, with shapes.Unknown propagating through every formula.
//
// Construction errors (bad ranks, invalid padding, inconsistent group
// counts) panic with an exceptions error; evaluation errors are returned.
package conv

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/symconv/symconv/types/shapes"
)

type borderName int

const (
	borderValid borderName = iota
	borderFull
	borderHalf
	borderPad
)

// BorderMode selects how the image is implicitly padded before a valid
// convolution. It is either one of the named modes (valid, full, half) or
// an explicit per-axis padding.
type BorderMode struct {
	name borderName
	pads [][2]int
}

// Valid applies the filter only where it fully overlaps the image.
func Valid() BorderMode { return BorderMode{name: borderValid} }

// Full applies the filter wherever it partly overlaps the image.
func Full() BorderMode { return BorderMode{name: borderFull} }

// Half pads each spatial axis with dilatedKernel//2 zeros, so that odd
// kernel sizes preserve the image shape.
func Half() BorderMode { return BorderMode{name: borderHalf} }

// Pad pads symmetrically with the given width per spatial axis. A single
// width is broadcast to every axis.
func Pad(widths ...int) BorderMode {
	pads := make([][2]int, len(widths))
	for i, w := range widths {
		pads[i] = [2]int{w, w}
	}
	return BorderMode{name: borderPad, pads: pads}
}

// PadPairs pads with explicit (left, right) amounts per spatial axis.
// Asymmetric pairs are only supported for 2D convolutions.
func PadPairs(pads ...[2]int) BorderMode {
	return BorderMode{name: borderPad, pads: slices.Clone(pads)}
}

func (m BorderMode) String() string {
	switch m.name {
	case borderValid:
		return "valid"
	case borderFull:
		return "full"
	case borderHalf:
		return "half"
	}
	parts := make([]string, len(m.pads))
	for i, p := range m.pads {
		if p[0] == p[1] {
			parts[i] = fmt.Sprintf("%d", p[0])
		} else {
			parts[i] = fmt.Sprintf("(%d,%d)", p[0], p[1])
		}
	}
	return "pad[" + strings.Join(parts, " ") + "]"
}

// IsNamed reports whether the mode is one of valid, full or half, as
// opposed to explicit padding.
func (m BorderMode) IsNamed() bool { return m.name != borderPad }

// normalize validates the mode for the given number of spatial axes and
// returns the canonical form: a single width broadcast to every axis,
// all-zero padding collapsed to valid. It panics on invalid modes.
func (m BorderMode) normalize(convdim int) BorderMode {
	if m.name != borderPad {
		return m
	}
	pads := m.pads
	if len(pads) == 1 && convdim > 1 && pads[0][0] == pads[0][1] {
		pads = make([][2]int, convdim)
		for i := range pads {
			pads[i] = m.pads[0]
		}
	}
	if len(pads) != convdim {
		exceptions.Panicf("conv: border mode %s must give padding for %d axes", m, convdim)
	}
	allZero := true
	for _, p := range pads {
		if p[0] < 0 || p[1] < 0 {
			exceptions.Panicf("conv: border mode %s has negative padding", m)
		}
		if p[0] != p[1] && convdim != 2 {
			exceptions.Panicf("conv: asymmetric padding not implemented for %dD", convdim)
		}
		if p[0] != 0 || p[1] != 0 {
			allZero = false
		}
	}
	if allZero {
		return Valid()
	}
	return BorderMode{name: borderPad, pads: pads}
}

// padFor resolves the (left, right) padding for one spatial axis, given
// the dilated kernel extent on that axis.
func (m BorderMode) padFor(axis, dilKernel int) ([2]int, error) {
	switch m.name {
	case borderValid:
		return [2]int{0, 0}, nil
	case borderFull:
		return [2]int{dilKernel - 1, dilKernel - 1}, nil
	case borderHalf:
		return [2]int{dilKernel / 2, dilKernel / 2}, nil
	}
	if axis < 0 || axis >= len(m.pads) {
		return [2]int{}, fmt.Errorf("conv: no padding for axis %d in border mode %s", axis, m)
	}
	p := m.pads[axis]
	if p[0] < 0 || p[1] < 0 {
		return [2]int{}, fmt.Errorf("conv: border mode padding must be >= 0, got %s", m)
	}
	return p, nil
}

// borderModeToPad resolves a normalized border mode to explicit per-axis
// (left, right) padding, given the dilated kernel spatial extents.
func borderModeToPad(m BorderMode, convdim int, dilKernShp []int) ([][2]int, error) {
	pads := make([][2]int, convdim)
	for i := 0; i < convdim; i++ {
		p, err := m.padFor(i, dilKernShp[i])
		if err != nil {
			return nil, err
		}
		pads[i] = p
	}
	return pads, nil
}

// ConvParams carries the static configuration shared by the forward
// convolution and its two gradient operators.
//
// ImShp and KShp optionally declare the image and kernel shapes; entries
// may be shapes.Unknown. For unshared convolutions the kernel shape has
// 2+2*ConvDim entries (output channels, output spatial extents, input
// channels, kernel spatial extents), otherwise 2+ConvDim.
//
// The zero values of Subsample, FilterDilation and NumGroups mean no
// striding, no dilation and a single group. FilterFlip selects true
// convolution (flipped filters) over cross-correlation and must be set
// explicitly.
type ConvParams struct {
	ConvDim        int
	BorderMode     BorderMode
	Subsample      []int
	FilterDilation []int
	NumGroups      int
	Unshared       bool
	FilterFlip     bool
	ImShp          []int
	KShp           []int
}

func ones(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func unknowns(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = shapes.Unknown
	}
	return out
}

// validated normalizes defaults and checks every field, panicking on
// invalid configurations. Operator factories call it once so the operator
// instances are immutable afterwards.
func (p ConvParams) validated() ConvParams {
	if p.ConvDim != 2 && p.ConvDim != 3 {
		exceptions.Panicf("conv: convolution dimension %d is not supported", p.ConvDim)
	}
	if p.Unshared && p.ConvDim != 2 {
		exceptions.Panicf("conv: unshared convolution not implemented for %dD", p.ConvDim)
	}
	if p.Subsample == nil {
		p.Subsample = ones(p.ConvDim)
	} else if len(p.Subsample) != p.ConvDim {
		exceptions.Panicf("conv: subsample must have %d elements, got %v", p.ConvDim, p.Subsample)
	}
	for _, s := range p.Subsample {
		if s < 1 {
			exceptions.Panicf("conv: subsample must be >= 1, got %v", p.Subsample)
		}
	}
	if p.FilterDilation == nil {
		p.FilterDilation = ones(p.ConvDim)
	} else if len(p.FilterDilation) != p.ConvDim {
		exceptions.Panicf("conv: filter dilation must have %d elements, got %v", p.ConvDim, p.FilterDilation)
	}
	for _, d := range p.FilterDilation {
		if d < 1 {
			exceptions.Panicf("conv: filter dilation must be >= 1, got %v", p.FilterDilation)
		}
	}
	if p.NumGroups == 0 {
		p.NumGroups = 1
	}
	if p.NumGroups < 1 {
		exceptions.Panicf("conv: number of groups must be >= 1, got %d", p.NumGroups)
	}
	p.BorderMode = p.BorderMode.normalize(p.ConvDim)

	if p.ImShp == nil {
		p.ImShp = unknowns(2 + p.ConvDim)
	} else if len(p.ImShp) != 2+p.ConvDim {
		exceptions.Panicf("conv: image shape must have %d entries, got %v", 2+p.ConvDim, p.ImShp)
	}
	kernRank := p.kernelRank()
	if p.KShp == nil {
		p.KShp = unknowns(kernRank)
	} else if len(p.KShp) != kernRank {
		exceptions.Panicf("conv: kernel shape must have %d entries, got %v", kernRank, p.KShp)
	}
	for _, dim := range p.ImShp {
		if dim < shapes.Unknown {
			exceptions.Panicf("conv: invalid image shape %v", p.ImShp)
		}
	}
	for _, dim := range p.KShp {
		if dim < shapes.Unknown {
			exceptions.Panicf("conv: invalid kernel shape %v", p.KShp)
		}
	}
	return p
}

func (p ConvParams) kernelRank() int {
	if p.Unshared {
		return 2 + 2*p.ConvDim
	}
	return 2 + p.ConvDim
}

func (p ConvParams) anySubsample() bool {
	for _, s := range p.Subsample {
		if s > 1 {
			return true
		}
	}
	return false
}

func (p ConvParams) anyDilation() bool {
	for _, d := range p.FilterDilation {
		if d > 1 {
			return true
		}
	}
	return false
}

// dilatedKernelShape returns the implicit spatial extents of the dilated
// kernel; Unknown entries stay Unknown.
func (p ConvParams) dilatedKernelShape(kernSpatial []int) []int {
	out := make([]int, p.ConvDim)
	for i := 0; i < p.ConvDim; i++ {
		if kernSpatial[i] == shapes.Unknown {
			out[i] = shapes.Unknown
			continue
		}
		out[i] = (kernSpatial[i]-1)*p.FilterDilation[i] + 1
	}
	return out
}
