package training

import (
	"fmt"

	"github.com/tsawler/go-mot/device"
	"github.com/tsawler/go-mot/optimizer"
)

// Bind places the model on its compute devices and returns the
// executor the epoch loop will drive. More than one device produces a
// sharded replica executor; otherwise the model moves to primary
// directly with no wrapper. A device ordinal that does not exist is a
// configuration error and fails immediately.
func Bind(model Model, devices []device.Device, chunkSizes []int, primary device.Device) (Executor, error) {
	if _, err := device.Lookup(primary.Kind, primary.Ordinal); err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if _, err := device.Lookup(dev.Kind, dev.Ordinal); err != nil {
			return nil, err
		}
	}

	if len(devices) > 1 {
		if err := model.To(devices[0]); err != nil {
			return nil, fmt.Errorf("failed to place model on %s: %v", devices[0], err)
		}
		return NewShardedExecutor(model, devices, chunkSizes)
	}

	if err := model.To(primary); err != nil {
		return nil, fmt.Errorf("failed to place model on %s: %v", primary, err)
	}
	return NewSingleDeviceExecutor(model, primary), nil
}

// MigrateOptimizerState moves every tensor in the optimizer's state
// mapping to dev, keeping each tensor associated with its owning
// parameter. Tensors already on dev are left untouched, so calling
// this twice is a no-op.
func MigrateOptimizerState(opt optimizer.Optimizer, dev device.Device) error {
	if _, err := device.Lookup(dev.Kind, dev.Ordinal); err != nil {
		return err
	}
	for param, entry := range opt.State() {
		for name, t := range entry {
			if t == nil || t.Device == dev {
				continue
			}
			moved, err := t.ToDevice(dev)
			if err != nil {
				return fmt.Errorf("failed to migrate %s state of %s: %v", name, param, err)
			}
			entry[name] = moved
		}
	}
	return nil
}
