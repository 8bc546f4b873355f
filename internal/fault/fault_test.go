package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	err := New(ShapeMismatch, "multiply", Shape(17, 16, 16), "k not a multiple of 16", nil)
	wrapped := fmt.Errorf("run failed: %w", err)

	assert.True(t, errors.Is(wrapped, ErrShapeMismatch))
	assert.False(t, errors.Is(wrapped, ErrDispatch))
	assert.Equal(t, ShapeMismatch, KindOf(wrapped))
}

func TestError_Message(t *testing.T) {
	cause := errors.New("out of memory")
	err := New(DeviceAllocationFailure, "addc", Shape(4, 8), "", cause)

	assert.Equal(t, "DeviceAllocationFailure in addc [4x8]: out of memory", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "Unknown", Kind(0).String())
}

func TestAnnotate(t *testing.T) {
	assert.NoError(t, Annotate(nil, DispatchFailure, "copy<int32>", "4x8"))

	prim := New(DeviceAllocationFailure, "allocate", "", "out of device memory", nil)
	err := Annotate(prim, DeviceAllocationFailure, "multiply<int32>", "32x32x32")
	assert.Equal(t, "DeviceAllocationFailure in multiply<int32> [32x32x32]: allocate: out of device memory", err.Error())

	same := New(DispatchFailure, "addc<int32>", "", "argument 4", errors.New("want int32 scalar"))
	err = Annotate(same, DispatchFailure, "addc<int32>", "4x8")
	assert.Equal(t, "DispatchFailure in addc<int32> [4x8]: argument 4: want int32 scalar", err.Error())

	err = Annotate(errors.New("queue released"), TransferFailure, "copy<int64>", "2x2")
	assert.True(t, errors.Is(err, ErrTransfer))
	assert.Equal(t, "TransferFailure in copy<int64> [2x2]: queue released", err.Error())
}
