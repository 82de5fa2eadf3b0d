// Package accel lowers auxiliary array operations to executable kernels,
// choosing between a fast typed implementation and a general fallback.
//
// Each operation is described by a small configuration value. Lower inspects
// the configuration and returns a Kernel: FastPath when the combination of
// mode/axis/flags is supported by the typed native loops, else GeneralPath,
// which executes a general implementation and warns once per operation that
// the fast path was not used.
package accel

import (
	"sync"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/symconv/symconv/types/tensor"
)

// Path identifies which implementation Lower selected.
type Path int

const (
	// FastPath is the typed native-loop implementation.
	FastPath Path = iota
	// GeneralPath is the slower general implementation, used when the
	// configuration is outside what the fast kernels support.
	GeneralPath
)

// String implements fmt.Stringer.
func (p Path) String() string {
	if p == FastPath {
		return "FastPath"
	}
	return "GeneralPath"
}

// Kernel executes a lowered operation. Most operations take and return a
// single tensor; Unique and UnravelIndex return several.
type Kernel func(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)

// Config describes one operation to be lowered.
type Config interface {
	// OpName names the operation in warnings and errors.
	OpName() string

	// fastPath reports whether the typed kernels accept this
	// configuration.
	fastPath() (ok bool, reason string)
}

// CumMode selects between cumulative sum and cumulative product.
type CumMode int

const (
	CumAdd CumMode = iota
	CumProd
)

// Cum is the cumulative sum/product along an axis. A nil Axis cumulates
// over the flattened tensor.
type Cum struct {
	Mode CumMode
	Axis *int
}

func (Cum) OpName() string           { return "Cum" }
func (Cum) fastPath() (bool, string) { return true, "" }

// FillDiagonal writes a scalar onto the main diagonal of a tensor of rank
// >= 2. For rank > 2 all dimensions must be equal.
type FillDiagonal struct{}

func (FillDiagonal) OpName() string           { return "FillDiagonal" }
func (FillDiagonal) fastPath() (bool, string) { return true, "" }

// FillDiagonalOffset writes a scalar onto an offset diagonal of a matrix.
// Positive offsets select super-diagonals, negative offsets sub-diagonals.
type FillDiagonalOffset struct{}

func (FillDiagonalOffset) OpName() string           { return "FillDiagonalOffset" }
func (FillDiagonalOffset) fastPath() (bool, string) { return true, "" }

// RavelMode is the out-of-bounds policy of RavelMultiIndex.
type RavelMode int

const (
	// RavelRaise fails on any out-of-bounds coordinate.
	RavelRaise RavelMode = iota
	// RavelWrap reduces coordinates modulo the axis size.
	RavelWrap
	// RavelClip clamps coordinates into [0, size).
	RavelClip
)

// RavelMultiIndex converts per-axis coordinate arrays into flat row-major
// indices, applying Mode to each coordinate before the strides dot-product.
type RavelMultiIndex struct {
	Mode RavelMode
}

func (RavelMultiIndex) OpName() string           { return "RavelMultiIndex" }
func (RavelMultiIndex) fastPath() (bool, string) { return true, "" }

// UnravelIndex converts flat row-major indices into per-axis coordinates.
type UnravelIndex struct{}

func (UnravelIndex) OpName() string           { return "UnravelIndex" }
func (UnravelIndex) fastPath() (bool, string) { return true, "" }

// Repeat repeats elements of a tensor. A nil Axis repeats over the
// flattened tensor, which is what the fast kernel supports.
type Repeat struct {
	Axis *int
}

func (r Repeat) OpName() string { return "Repeat" }
func (r Repeat) fastPath() (bool, string) {
	if r.Axis != nil {
		return false, "the axis argument requires the general implementation"
	}
	return true, ""
}

// Unique returns the sorted unique elements of a tensor. The fast kernel
// only supports the flattened form without the extra returns.
type Unique struct {
	Axis          *int
	ReturnIndex   bool
	ReturnInverse bool
	ReturnCounts  bool
}

func (u Unique) OpName() string { return "Unique" }
func (u Unique) fastPath() (bool, string) {
	if u.Axis != nil || u.ReturnIndex || u.ReturnInverse || u.ReturnCounts {
		return false, "the axis and return_* arguments require the general implementation"
	}
	return true, ""
}

// Side selects which insertion point Searchsorted reports for equal values.
type Side int

const (
	SideLeft Side = iota
	SideRight
)

// Searchsorted finds insertion indices of values into a sorted 1D tensor.
// A sorter permutation forces the general implementation.
type Searchsorted struct {
	Side      Side
	HasSorter bool
}

func (s Searchsorted) OpName() string { return "Searchsorted" }
func (s Searchsorted) fastPath() (bool, string) {
	if s.HasSorter {
		return false, "the sorter argument requires the general implementation"
	}
	return true, ""
}

// CheckAndRaise passes its first input through unchanged if every following
// scalar condition is true (non-zero), else raises Kind with Msg.
type CheckAndRaise struct {
	Kind ErrorKind
	Msg  string
}

func (CheckAndRaise) OpName() string           { return "CheckAndRaise" }
func (CheckAndRaise) fastPath() (bool, string) { return true, "" }

var generalPathWarnings sync.Map // op name -> *sync.Once

func warnGeneralPath(opName, reason string) {
	once, _ := generalPathWarnings.LoadOrStore(opName, &sync.Once{})
	once.(*sync.Once).Do(func() {
		klog.Warningf("accel: %s will use the general path: %s", opName, reason)
	})
}

// Lower selects and builds the kernel for a configuration. If the fast
// typed kernels cannot serve it, the general implementation is returned and
// a warning is emitted once per operation.
func Lower(config Config) (Kernel, Path) {
	path := FastPath
	if ok, reason := config.fastPath(); !ok {
		path = GeneralPath
		warnGeneralPath(config.OpName(), reason)
	}
	var kernel Kernel
	switch cfg := config.(type) {
	case Cum:
		kernel = cumKernel(cfg)
	case FillDiagonal:
		kernel = fillDiagonalKernel()
	case FillDiagonalOffset:
		kernel = fillDiagonalOffsetKernel()
	case RavelMultiIndex:
		kernel = ravelMultiIndexKernel(cfg)
	case UnravelIndex:
		kernel = unravelIndexKernel()
	case Repeat:
		kernel = repeatKernel(cfg)
	case Unique:
		kernel = uniqueKernel(cfg)
	case Searchsorted:
		kernel = searchsortedKernel(cfg)
	case CheckAndRaise:
		kernel = checkAndRaiseKernel(cfg)
	default:
		exceptions.Panicf("accel.Lower: unknown config type %T", config)
	}
	return kernel, path
}
