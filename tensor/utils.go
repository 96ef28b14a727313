package tensor

import (
	"fmt"

	"github.com/tsawler/go-mot/device"
)

// Float32s returns the raw float32 storage
func (t *Tensor) Float32s() ([]float32, error) {
	data, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor is not Float32 (dtype=%s)", t.DType)
	}
	return data, nil
}

// Int32s returns the raw int32 storage
func (t *Tensor) Int32s() ([]int32, error) {
	data, ok := t.Data.([]int32)
	if !ok {
		return nil, fmt.Errorf("tensor is not Int32 (dtype=%s)", t.DType)
	}
	return data, nil
}

// Int64s returns the raw int64 storage
func (t *Tensor) Int64s() ([]int64, error) {
	data, ok := t.Data.([]int64)
	if !ok {
		return nil, fmt.Errorf("tensor is not Int64 (dtype=%s)", t.DType)
	}
	return data, nil
}

// Numel returns the total element count
func (t *Tensor) Numel() int {
	return t.NumElems
}

// Dim returns the number of dimensions
func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Item extracts the single value of a one-element tensor as float64
func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a one-element tensor, have %d elements", t.NumElems)
	}
	return t.At(make([]int, len(t.Shape))...)
}

// At reads one element as float64 regardless of dtype
func (t *Tensor) At(indices ...int) (float64, error) {
	idx, err := t.flatIndex(indices)
	if err != nil {
		return 0, err
	}
	switch data := t.Data.(type) {
	case []float32:
		return float64(data[idx]), nil
	case []int32:
		return float64(data[idx]), nil
	case []int64:
		return float64(data[idx]), nil
	default:
		return 0, fmt.Errorf("tensor has no storage")
	}
}

// SetAt writes one element, converting from float64 to the dtype
func (t *Tensor) SetAt(value float64, indices ...int) error {
	idx, err := t.flatIndex(indices)
	if err != nil {
		return err
	}
	switch data := t.Data.(type) {
	case []float32:
		data[idx] = float32(value)
	case []int32:
		data[idx] = int32(value)
	case []int64:
		data[idx] = int64(value)
	default:
		return fmt.Errorf("tensor has no storage")
	}
	return nil
}

func (t *Tensor) flatIndex(indices []int) (int, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	idx := 0
	for i, coord := range indices {
		if coord < 0 || coord >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of range for dimension %d (size %d)", coord, i, t.Shape[i])
		}
		idx += coord * t.Strides[i]
	}
	return idx, nil
}

// Reshape returns a view with a new shape over the same storage
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}
	if calculateNumElements(newShape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v to %v: element count differs", t.Shape, newShape)
	}
	return &Tensor{
		Shape:    append([]int(nil), newShape...),
		Strides:  calculateStrides(newShape),
		DType:    t.DType,
		Device:   t.Device,
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

// Clone returns a deep copy on the same device
func (t *Tensor) Clone() (*Tensor, error) {
	out, err := Zeros(t.Shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}
	if err := out.CopyFrom(t); err != nil {
		return nil, err
	}
	return out, nil
}

// CopyFrom copies the contents of src into this tensor's storage.
// Shapes and dtypes must match exactly.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if t.DType != src.DType || t.NumElems != src.NumElems {
		return fmt.Errorf("copy mismatch: %s vs %s", t, src)
	}
	switch dst := t.Data.(type) {
	case []float32:
		srcData, err := src.Float32s()
		if err != nil {
			return err
		}
		copy(dst, srcData)
	case []int32:
		srcData, err := src.Int32s()
		if err != nil {
			return err
		}
		copy(dst, srcData)
	case []int64:
		srcData, err := src.Int64s()
		if err != nil {
			return err
		}
		copy(dst, srcData)
	default:
		return fmt.Errorf("tensor has no storage")
	}
	return nil
}

// Slice0 copies rows [from, to) along dimension 0 into a new tensor.
// This is what batch partitioning across replica shards uses.
func (t *Tensor) Slice0(from, to int) (*Tensor, error) {
	if len(t.Shape) == 0 {
		return nil, fmt.Errorf("cannot slice a rank-0 tensor")
	}
	if from < 0 || to > t.Shape[0] || from >= to {
		return nil, fmt.Errorf("slice [%d:%d) out of range for dimension 0 (size %d)", from, to, t.Shape[0])
	}
	rowElems := t.Strides[0]
	newShape := append([]int{to - from}, t.Shape[1:]...)

	out, err := Zeros(newShape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}
	start, end := from*rowElems, to*rowElems
	switch data := t.Data.(type) {
	case []float32:
		dst, _ := out.Float32s()
		copy(dst, data[start:end])
	case []int32:
		dst, _ := out.Int32s()
		copy(dst, data[start:end])
	case []int64:
		dst, _ := out.Int64s()
		copy(dst, data[start:end])
	default:
		return nil, fmt.Errorf("tensor has no storage")
	}
	return out, nil
}

// ToDevice retags the tensor for the target device. A tensor already
// on the target is returned unchanged, which keeps repeated migration
// a no-op.
func (t *Tensor) ToDevice(dev device.Device) (*Tensor, error) {
	if t.Device == dev {
		return t, nil
	}
	out, err := t.Clone()
	if err != nil {
		return nil, err
	}
	out.Device = dev
	out.requiresGrad = t.requiresGrad
	return out, nil
}

// ToFloat32 casts integer tensors to Float32; Float32 input is
// returned unchanged
func (t *Tensor) ToFloat32() (*Tensor, error) {
	if t.DType == Float32 {
		return t, nil
	}
	out, err := Zeros(t.Shape, Float32, t.Device)
	if err != nil {
		return nil, err
	}
	dst, _ := out.Float32s()
	switch data := t.Data.(type) {
	case []int32:
		for i, v := range data {
			dst[i] = float32(v)
		}
	case []int64:
		for i, v := range data {
			dst[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("tensor has no storage")
	}
	return out, nil
}

// Release returns pooled storage to the device buffer cache. The
// tensor must not be used afterwards. Safe to call more than once.
func (t *Tensor) Release() {
	if t == nil || t.released {
		return
	}
	if t.pooled {
		if data, ok := t.Data.([]float32); ok {
			device.ReturnBuffer(data)
		}
	}
	t.Data = nil
	t.grad = nil
	t.released = true
}
