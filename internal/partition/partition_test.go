package partition

import (
	"errors"
	"testing"

	"github.com/fxnlabs/fastmatrix/internal/fault"
	"github.com/fxnlabs/fastmatrix/internal/kernels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	p := New(0)

	testCases := []struct {
		name   string
		op     kernels.Op
		shape  Shape
		global [2]int
		local  [2]int
	}{
		{"elementwise rounds up", kernels.OpAddC, Elementwise(20, 40), [2]int{48, 32}, [2]int{16, 16}},
		{"elementwise smaller than a group", kernels.OpAddC, Elementwise(4, 8), [2]int{8, 4}, [2]int{8, 4}},
		{"elementwise exact", kernels.OpCopy, Elementwise(32, 16), [2]int{16, 32}, [2]int{16, 16}},
		{"fill", kernels.OpFill, Elementwise(1, 1), [2]int{1, 1}, [2]int{1, 1}},
		{"naive leaves local to the device", kernels.OpMultiplySimple, Product(5, 7, 3), [2]int{5, 3}, [2]int{}},
		{"tiled", kernels.OpMultiply, Product(32, 64, 48), [2]int{32, 48}, [2]int{16, 16}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			wd, err := p.Partition(tc.op, tc.shape)
			require.NoError(t, err)
			assert.Equal(t, tc.global, wd.Global)
			assert.Equal(t, tc.local, wd.Local)
			assert.Equal(t, tc.global, wd.NDRange().Global)
		})
	}
}

func TestPartition_TiledRejectsUnalignedShapes(t *testing.T) {
	p := New(16)
	for _, s := range []Shape{Product(17, 16, 16), Product(16, 20, 16), Product(16, 16, 8), Product(100, 100, 100)} {
		_, err := p.Partition(kernels.OpMultiply, s)
		require.Error(t, err)
		assert.True(t, errors.Is(err, fault.ErrShapeMismatch))
		assert.Contains(t, err.Error(), "multiply")
		assert.Contains(t, err.Error(), fault.Shape(s.N, s.K, s.M))
	}

	// The naive kernel has no alignment requirement.
	_, err := p.Partition(kernels.OpMultiplySimple, Product(17, 20, 9))
	assert.NoError(t, err)
}

func TestPartition_Empty(t *testing.T) {
	p := New(16)
	_, err := p.Partition(kernels.OpCopy, Elementwise(0, 4))
	assert.True(t, errors.Is(err, fault.ErrShapeMismatch))
	_, err = p.Partition(kernels.OpMultiplySimple, Product(4, 0, 4))
	assert.True(t, errors.Is(err, fault.ErrShapeMismatch))
	_, err = p.Partition(kernels.OpMultiply, Product(0, 16, 16))
	assert.True(t, errors.Is(err, fault.ErrShapeMismatch))
	_, err = p.Partition(kernels.Op("transpose"), Elementwise(4, 4))
	assert.True(t, errors.Is(err, fault.ErrDispatch))
}
