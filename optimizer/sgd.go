package optimizer

import (
	"fmt"

	"github.com/tsawler/go-mot/tensor"
)

// SGDConfig holds SGD hyperparameters
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
}

// SGD implements stochastic gradient descent with optional momentum
// and L2 weight decay
type SGD struct {
	params []*tensor.Tensor
	config SGDConfig
	state  State
	steps  uint64
}

// NewSGD creates an SGD optimizer over the given parameters
func NewSGD(params []*tensor.Tensor, config SGDConfig) (*SGD, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("SGD requires at least one parameter")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %f", config.LearningRate)
	}
	if config.Momentum < 0 || config.Momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1), got %f", config.Momentum)
	}
	return &SGD{
		params: params,
		config: config,
		state:  make(State),
	}, nil
}

// ZeroGrad clears the gradient of every parameter
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

// Step applies one SGD update. Parameters without a gradient are
// skipped, matching frozen-layer behavior.
func (s *SGD) Step() error {
	for _, p := range s.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		weights, err := p.Float32s()
		if err != nil {
			return fmt.Errorf("parameter read failed: %v", err)
		}
		gradData, err := grad.Float32s()
		if err != nil {
			return fmt.Errorf("gradient read failed: %v", err)
		}
		if len(weights) != len(gradData) {
			return fmt.Errorf("gradient shape mismatch for %s", p)
		}

		var velocity []float32
		if s.config.Momentum > 0 {
			buf, err := s.momentumBuffer(p)
			if err != nil {
				return err
			}
			velocity, err = buf.Float32s()
			if err != nil {
				return err
			}
		}

		for i := range weights {
			g := gradData[i]
			if s.config.WeightDecay > 0 {
				g += s.config.WeightDecay * weights[i]
			}
			if velocity != nil {
				velocity[i] = s.config.Momentum*velocity[i] + g
				g = velocity[i]
			}
			weights[i] -= s.config.LearningRate * g
		}
	}
	s.steps++
	return nil
}

// State exposes the per-parameter momentum buffers
func (s *SGD) State() State {
	return s.state
}

// StepCount returns the number of updates applied so far
func (s *SGD) StepCount() uint64 {
	return s.steps
}

func (s *SGD) momentumBuffer(p *tensor.Tensor) (*tensor.Tensor, error) {
	entry, ok := s.state[p]
	if !ok {
		entry = make(map[string]*tensor.Tensor)
		s.state[p] = entry
	}
	buf, ok := entry["momentum"]
	if !ok {
		var err error
		buf, err = tensor.Zeros(p.Shape, tensor.Float32, p.Device)
		if err != nil {
			return nil, fmt.Errorf("momentum buffer allocation failed: %v", err)
		}
		entry["momentum"] = buf
	}
	return buf, nil
}
