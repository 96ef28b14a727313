package tensor

import (
	"fmt"

	"github.com/tsawler/go-mot/device"
)

type DType int

const (
	Float32 DType = iota
	Int32
	Int64
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	default:
		return "Unknown"
	}
}

// Tensor is a dense n-dimensional array tagged with the logical device
// its data belongs to. Data lives in host memory either way; the device
// tag drives placement decisions in the training loop.
type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Device   device.Device
	Data     interface{}
	NumElems int

	requiresGrad bool
	grad         *Tensor
	pooled       bool
	released     bool
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s, elements=%d)",
		t.Shape, t.DType, t.Device, t.NumElems)
}

// RequiresGrad reports whether gradients are tracked for this tensor
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad toggles gradient tracking
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
	if !requires {
		t.grad = nil
	}
}

// Grad returns the accumulated gradient tensor, nil before any backward
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// SetGrad replaces the gradient tensor
func (t *Tensor) SetGrad(g *Tensor) {
	t.grad = g
}

// ZeroGrad clears the accumulated gradient in place
func (t *Tensor) ZeroGrad() {
	if t.grad == nil {
		return
	}
	if data, ok := t.grad.Data.([]float32); ok {
		for i := range data {
			data[i] = 0
		}
	}
}

// AccumulateGrad adds the gradient of other into this tensor's
// gradient, allocating one if needed. Used for replica consolidation.
func (t *Tensor) AccumulateGrad(other *Tensor) error {
	if other == nil || other.grad == nil {
		return nil
	}
	src, err := other.grad.Float32s()
	if err != nil {
		return err
	}
	if t.grad == nil {
		g, err := Zeros(t.Shape, Float32, t.Device)
		if err != nil {
			return err
		}
		t.grad = g
	}
	dst, err := t.grad.Float32s()
	if err != nil {
		return err
	}
	if len(src) != len(dst) {
		return fmt.Errorf("gradient size mismatch: %d vs %d", len(src), len(dst))
	}
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: empty")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
