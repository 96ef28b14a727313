package tensor

import (
	"fmt"

	"github.com/tsawler/go-mot/device"
)

// New creates a tensor on the given device. data may be a typed slice
// matching the shape's element count, a scalar to broadcast, or nil to
// allocate zeroed storage.
func New(shape []int, dtype DType, dev device.Device, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	t := &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		Device:   dev,
		NumElems: numElems,
	}

	if data == nil {
		t.allocate()
		return t, nil
	}
	if err := t.setData(data); err != nil {
		return nil, err
	}
	return t, nil
}

// Zeros creates a zero-filled tensor
func Zeros(shape []int, dtype DType, dev device.Device) (*Tensor, error) {
	return New(shape, dtype, dev, nil)
}

// FromScalar wraps a single value as a rank-1 tensor of one element
func FromScalar(value float64, dtype DType, dev device.Device) *Tensor {
	t, _ := New([]int{1}, dtype, dev, value)
	return t
}

func (t *Tensor) allocate() {
	switch t.DType {
	case Float32:
		t.Data = device.GetBuffer(t.NumElems)
		t.pooled = true
	case Int32:
		t.Data = make([]int32, t.NumElems)
	case Int64:
		t.Data = make([]int64, t.NumElems)
	}
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		switch d := data.(type) {
		case []float32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case float32:
			t.fill(float64(d))
		case float64:
			t.fill(d)
		default:
			return fmt.Errorf("unsupported data type for Float32 tensor: %T", data)
		}
	case Int32:
		switch d := data.(type) {
		case []int32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case int32:
			slice := make([]int32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		case float64:
			slice := make([]int32, t.NumElems)
			for i := range slice {
				slice[i] = int32(d)
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Int32 tensor: %T", data)
		}
	case Int64:
		switch d := data.(type) {
		case []int64:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case int64:
			slice := make([]int64, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		case float64:
			slice := make([]int64, t.NumElems)
			for i := range slice {
				slice[i] = int64(d)
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Int64 tensor: %T", data)
		}
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

func (t *Tensor) fill(value float64) {
	slice := make([]float32, t.NumElems)
	for i := range slice {
		slice[i] = float32(value)
	}
	t.Data = slice
}
