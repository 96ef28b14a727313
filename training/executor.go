package training

import (
	"fmt"
	"sync"

	"github.com/tsawler/go-mot/device"
	"github.com/tsawler/go-mot/tensor"
)

// Executor runs one batch through the model. The epoch loop depends
// only on this capability and never on which variant is active.
type Executor interface {
	// ForwardBackward runs forward and, when backward is set, gradient
	// propagation for one batch. It blocks until every shard finished.
	// Optimizer stepping stays with the caller.
	ForwardBackward(batch *Batch, backward bool) (*tensor.Tensor, LossStats, error)

	// Model returns the unwrapped model
	Model() Model

	// Device returns the device batches should be staged on
	Device() device.Device
}

// SingleDeviceExecutor drives the model directly on one device
type SingleDeviceExecutor struct {
	model Model
	dev   device.Device
}

// NewSingleDeviceExecutor wraps a model already placed on dev
func NewSingleDeviceExecutor(model Model, dev device.Device) *SingleDeviceExecutor {
	return &SingleDeviceExecutor{model: model, dev: dev}
}

func (e *SingleDeviceExecutor) ForwardBackward(batch *Batch, backward bool) (*tensor.Tensor, LossStats, error) {
	loss, stats, err := e.model.Forward(batch.Images, Targets{DetLabels: batch.DetLabels, TrackIDs: batch.TrackIDs})
	if err != nil {
		return nil, nil, err
	}
	if backward {
		if err := e.model.Backward(loss); err != nil {
			return nil, nil, err
		}
	}
	return loss, stats, nil
}

func (e *SingleDeviceExecutor) Model() Model {
	return e.model
}

func (e *SingleDeviceExecutor) Device() device.Device {
	return e.dev
}

// ShardedExecutor partitions each batch across device replicas by the
// configured chunk sizes, runs all shards concurrently, and reduces
// shard losses into one scalar plus one merged report. It owns
// primary-to-replica parameter sync before each batch and gradient
// consolidation after backward; optimizer stepping is not its job.
type ShardedExecutor struct {
	replicas   []Model // replicas[0] is the primary
	devices    []device.Device
	chunkSizes []int
}

// NewShardedExecutor builds the replica set for devices[1:] from a
// primary model already placed on devices[0]
func NewShardedExecutor(primary Model, devices []device.Device, chunkSizes []int) (*ShardedExecutor, error) {
	if len(devices) < 2 {
		return nil, fmt.Errorf("%w: sharded execution needs at least two devices", ErrInvalidArgument)
	}
	if len(chunkSizes) != len(devices) {
		return nil, fmt.Errorf("%w: %d chunk sizes for %d devices", ErrInvalidArgument, len(chunkSizes), len(devices))
	}
	replicable, ok := primary.(Replicable)
	if !ok {
		return nil, fmt.Errorf("%w: model does not support replication", ErrInvalidArgument)
	}

	replicas := make([]Model, len(devices))
	replicas[0] = primary
	for i := 1; i < len(devices); i++ {
		replica, err := replicable.Replicate(devices[i])
		if err != nil {
			return nil, fmt.Errorf("replica for %s failed: %v", devices[i], err)
		}
		replicas[i] = replica
	}
	return &ShardedExecutor{replicas: replicas, devices: devices, chunkSizes: chunkSizes}, nil
}

func (e *ShardedExecutor) Model() Model {
	return e.replicas[0]
}

func (e *ShardedExecutor) Device() device.Device {
	return e.devices[0]
}

func (e *ShardedExecutor) ForwardBackward(batch *Batch, backward bool) (*tensor.Tensor, LossStats, error) {
	total := 0
	for _, c := range e.chunkSizes {
		total += c
	}
	if total != batch.Size() {
		return nil, nil, fmt.Errorf("%w: chunk sizes sum to %d, batch has %d samples", ErrInvalidArgument, total, batch.Size())
	}

	if err := e.syncReplicas(); err != nil {
		return nil, nil, err
	}

	type shardResult struct {
		loss  float64
		stats LossStats
		err   error
	}
	results := make([]shardResult, len(e.replicas))

	var wg sync.WaitGroup
	offset := 0
	for i := range e.replicas {
		shard, err := batch.Slice(offset, offset+e.chunkSizes[i])
		if err != nil {
			return nil, nil, err
		}
		offset += e.chunkSizes[i]

		wg.Add(1)
		go func(i int, shard *Batch) {
			defer wg.Done()
			moved, err := shard.To(e.devices[i])
			if err != nil {
				results[i].err = err
				return
			}
			loss, stats, err := e.replicas[i].Forward(moved.Images, Targets{DetLabels: moved.DetLabels, TrackIDs: moved.TrackIDs})
			if err != nil {
				results[i].err = err
				return
			}
			if backward {
				if err := e.replicas[i].Backward(loss); err != nil {
					results[i].err = err
					return
				}
			}
			value, err := loss.Item()
			if err != nil {
				results[i].err = fmt.Errorf("shard loss is not scalar: %v", err)
				return
			}
			results[i] = shardResult{loss: value, stats: stats}
		}(i, shard)
	}
	wg.Wait()

	merged := make(LossStats)
	sum := 0.0
	for i, r := range results {
		if r.err != nil {
			return nil, nil, fmt.Errorf("shard %d on %s failed: %w", i, e.devices[i], r.err)
		}
		sum += r.loss
		weight := float64(e.chunkSizes[i]) / float64(total)
		for name, value := range r.stats {
			merged[name] += value * weight
		}
	}

	if backward {
		if err := e.consolidateGradients(); err != nil {
			return nil, nil, err
		}
	}

	return tensor.FromScalar(sum, tensor.Float32, e.devices[0]), merged, nil
}

// syncReplicas copies primary parameters into every replica so each
// shard computes against identical weights
func (e *ShardedExecutor) syncReplicas() error {
	primaryParams := e.replicas[0].Parameters()
	for i := 1; i < len(e.replicas); i++ {
		params := e.replicas[i].Parameters()
		if len(params) != len(primaryParams) {
			return fmt.Errorf("replica %d has %d parameters, primary has %d", i, len(params), len(primaryParams))
		}
		for j, p := range params {
			if err := p.CopyFrom(primaryParams[j]); err != nil {
				return fmt.Errorf("replica %d parameter sync failed: %v", i, err)
			}
		}
	}
	return nil
}

// consolidateGradients sums replica gradients into the primary's
// parameters so the optimizer sees the whole batch's gradient
func (e *ShardedExecutor) consolidateGradients() error {
	primaryParams := e.replicas[0].Parameters()
	for i := 1; i < len(e.replicas); i++ {
		for j, p := range e.replicas[i].Parameters() {
			if err := primaryParams[j].AccumulateGrad(p); err != nil {
				return fmt.Errorf("gradient consolidation from replica %d failed: %v", i, err)
			}
		}
	}
	return nil
}
