package tensor

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtSetAndReshape(t *testing.T) {
	d := New[float32](2, 3)
	d.Set(5, 1, 2)
	assert.Equal(t, float32(5), d.At(1, 2))
	assert.Equal(t, []float32{0, 0, 0, 0, 0, 5}, d.Flat())

	r := d.Reshape(3, -1)
	assert.Equal(t, []int{3, 2}, r.Dims())
	assert.Equal(t, float32(5), r.At(2, 1))
	assert.Panics(t, func() { d.Reshape(4, -1) })
	assert.Panics(t, func() { d.Reshape(-1, -1) })
}

func TestTranspose(t *testing.T) {
	d := FromFlat([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	tr := d.Transpose(1, 0)
	assert.Equal(t, []int{3, 2}, tr.Dims())
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, tr.Flat())
}

func TestReverse(t *testing.T) {
	d := FromFlat([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, []float64{3, 2, 1, 6, 5, 4}, d.Reverse(1).Flat())
	assert.Equal(t, []float64{6, 5, 4, 3, 2, 1}, d.Reverse(0, -1).Flat())
}

func TestPadZero(t *testing.T) {
	d := FromFlat([]float64{1, 2, 3, 4}, 2, 2)
	p := d.PadZero([][2]int{{0, 0}, {1, 1}})
	assert.Equal(t, []int{2, 4}, p.Dims())
	assert.Equal(t, []float64{0, 1, 2, 0, 0, 3, 4, 0}, p.Flat())
}

func TestExpandStridedAndStrided(t *testing.T) {
	d := FromFlat([]float64{1, 2, 3}, 3)
	e := d.ExpandStrided([]int{5}, []int{2})
	assert.Equal(t, []float64{1, 0, 2, 0, 3}, e.Flat())
	// Strided undoes the interleave.
	assert.Equal(t, []float64{1, 2, 3}, e.Strided([]int{2}).Flat())

	// Scatter into a larger target than (n-1)*stride+1.
	e = d.ExpandStrided([]int{6}, []int{2})
	assert.Equal(t, []float64{1, 0, 2, 0, 3, 0}, e.Flat())
}

func TestSliceAxisAndConcat(t *testing.T) {
	d := FromFlat([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	s := d.SliceAxis(1, 1, 3)
	assert.Equal(t, []float64{2, 3, 5, 6}, s.Flat())

	c := Concat(1, d.SliceAxis(1, 0, 1), d)
	assert.Equal(t, []int{2, 4}, c.Dims())
	assert.Equal(t, []float64{1, 1, 2, 3, 4, 4, 5, 6}, c.Flat())
}

func TestTensorWrapper(t *testing.T) {
	d := FromFlat([]float32{1, 2, 3, 4}, 2, 2)
	w := FromDense(d)
	assert.Equal(t, dtypes.Float32, w.DType())
	assert.Equal(t, []int{2, 2}, w.Dims())
	require.True(t, w.Shape().IsFullyKnown())
	assert.Same(t, d, DenseOf[float32](w))
	assert.Panics(t, func() { DenseOf[float64](w) })

	z := Zeros(dtypes.Float64, 3)
	assert.Equal(t, []float64{0, 0, 0}, DenseOf[float64](z).Flat())
}
