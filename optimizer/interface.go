package optimizer

import "github.com/tsawler/go-mot/tensor"

// State maps each parameter to its named auxiliary tensors
// (momentum buffers and the like). The trainer inspects and mutates
// this mapping directly when migrating an optimizer across devices.
type State map[*tensor.Tensor]map[string]*tensor.Tensor

// Optimizer defines the contract the training loop drives.
// Implementations own their parameter list; the loop only ever calls
// ZeroGrad before backward and Step after it.
type Optimizer interface {
	// ZeroGrad clears accumulated gradients on every parameter
	ZeroGrad()

	// Step applies one update using the current gradients
	Step() error

	// State exposes the per-parameter auxiliary tensor mapping
	State() State
}
