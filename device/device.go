package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Kind represents a class of compute device
type Kind int

const (
	CPU Kind = iota
	Accelerator
)

func (k Kind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case Accelerator:
		return "gpu"
	default:
		return "unknown"
	}
}

// ErrUnavailable indicates a requested device ordinal is not registered.
// This is fatal configuration error territory - callers must not retry.
var ErrUnavailable = errors.New("device unavailable")

// Device identifies a single logical compute device
type Device struct {
	Kind    Kind
	Ordinal int
}

func (d Device) String() string {
	if d.Kind == CPU {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Ordinal)
}

// registry tracks which devices exist in this process.
// The CPU device is always present; accelerators are declared once at
// startup by whatever layer knows the hardware (or by tests).
var (
	registryMu   sync.RWMutex
	accelerators int
)

// RegisterAccelerators declares the number of accelerator devices
// available to this process. Ordinals 0..n-1 become valid.
func RegisterAccelerators(n int) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if n < 0 {
		n = 0
	}
	accelerators = n
}

// AcceleratorCount returns the number of registered accelerator devices
func AcceleratorCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return accelerators
}

// Lookup resolves a device by kind and ordinal, failing with
// ErrUnavailable when the ordinal does not exist
func Lookup(kind Kind, ordinal int) (Device, error) {
	switch kind {
	case CPU:
		if ordinal != 0 {
			return Device{}, fmt.Errorf("%w: cpu:%d (only cpu:0 exists)", ErrUnavailable, ordinal)
		}
		return Device{Kind: CPU}, nil
	case Accelerator:
		if ordinal < 0 || ordinal >= AcceleratorCount() {
			return Device{}, fmt.Errorf("%w: gpu:%d (have %d)", ErrUnavailable, ordinal, AcceleratorCount())
		}
		return Device{Kind: Accelerator, Ordinal: ordinal}, nil
	default:
		return Device{}, fmt.Errorf("%w: unknown device kind %d", ErrUnavailable, int(kind))
	}
}

// List resolves a list of accelerator ordinals to devices.
// Any missing ordinal fails the whole list.
func List(ordinals []int) ([]Device, error) {
	devices := make([]Device, 0, len(ordinals))
	for _, ord := range ordinals {
		dev, err := Lookup(Accelerator, ord)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// Parse interprets device strings like "cpu", "gpu:1"
func Parse(s string) (Device, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "cpu" {
		return Device{Kind: CPU}, nil
	}
	name, ordStr, found := strings.Cut(s, ":")
	ordinal := 0
	if found {
		n, err := strconv.Atoi(ordStr)
		if err != nil {
			return Device{}, fmt.Errorf("invalid device ordinal %q: %v", ordStr, err)
		}
		ordinal = n
	}
	switch name {
	case "cpu":
		return Lookup(CPU, ordinal)
	case "gpu", "cuda":
		return Lookup(Accelerator, ordinal)
	default:
		return Device{}, fmt.Errorf("%w: unknown device kind %q", ErrUnavailable, name)
	}
}
