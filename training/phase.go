package training

import "github.com/tsawler/go-mot/device"

// Phase selects the control path of an epoch. The transition is chosen
// per RunEpoch call and never persisted.
type Phase int

const (
	PhaseTrain Phase = iota
	PhaseVal
)

func (p Phase) String() string {
	switch p {
	case PhaseTrain:
		return "train"
	case PhaseVal:
		return "val"
	default:
		return "unknown"
	}
}

// phaseStrategy is the per-phase behavior the shared epoch loop calls
// uniformly instead of branching inline
type phaseStrategy interface {
	// prepare sets the model mode and returns the executor to drive
	prepare(t *Trainer) Executor

	// backward reports whether gradients flow this phase
	backward() bool
}

func (p Phase) strategy() phaseStrategy {
	if p == PhaseTrain {
		return trainStrategy{}
	}
	return evalStrategy{}
}

type trainStrategy struct{}

func (trainStrategy) prepare(t *Trainer) Executor {
	t.exec.Model().SetTraining(true)
	return t.exec
}

func (trainStrategy) backward() bool { return true }

type evalStrategy struct{}

// prepare drops any replica wrapper so evaluation runs the bare model,
// and releases cached buffers left over from training
func (evalStrategy) prepare(t *Trainer) Executor {
	model := t.exec.Model()
	model.SetTraining(false)
	device.EmptyCache()
	if _, sharded := t.exec.(*ShardedExecutor); sharded {
		return NewSingleDeviceExecutor(model, t.exec.Device())
	}
	return t.exec
}

func (evalStrategy) backward() bool { return false }
