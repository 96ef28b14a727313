package training

import (
	"github.com/tsawler/go-mot/device"
	"github.com/tsawler/go-mot/postprocess"
	"github.com/tsawler/go-mot/tensor"
)

// Loss component names reported by the detection head
const (
	LossTotal = "tot_loss"
	LossIoU   = "iou_loss"
	LossConf  = "conf_loss"
	LossCls   = "cls_loss"
	LossReID  = "reid_loss"
)

// LossNames returns the closed set of loss components in report order
func LossNames() []string {
	return []string{LossTotal, LossIoU, LossConf, LossCls, LossReID}
}

// LossStats maps loss component names to their value for one batch.
// Reports are never mutated after the model returns them.
type LossStats map[string]float64

// Output tensor keys produced by the detection head
const (
	OutputHeatmap = postprocess.KeyHeatmap
	OutputWH      = postprocess.KeyWH
	OutputOffset  = postprocess.KeyOffset
)

// Targets carries the supervision for one batch: per-image detection
// ground truth plus per-detection identity labels
type Targets struct {
	DetLabels *tensor.Tensor
	TrackIDs  *tensor.Tensor
}

// Model is the contract the trainer drives. Losses are computed inside
// the model's head; the trainer only schedules forward/backward and
// aggregates the reported components.
type Model interface {
	// Forward runs the model with supervision attached, returning the
	// scalar loss and the per-component report
	Forward(images *tensor.Tensor, targets Targets) (*tensor.Tensor, LossStats, error)

	// Backward propagates gradients from the scalar loss into the
	// model's parameters
	Backward(loss *tensor.Tensor) error

	// Output runs the model without supervision for decode-only use.
	// The map carries at least OutputHeatmap and OutputWH, plus
	// OutputOffset when offset regression is enabled.
	Output(images *tensor.Tensor) (map[string]*tensor.Tensor, error)

	// SetTraining toggles gradient-tracking mode
	SetTraining(training bool)

	// Parameters returns the trainable parameter tensors
	Parameters() []*tensor.Tensor

	// To moves the model's parameters to the given device
	To(dev device.Device) error
}

// Replicable models can be copied onto another device for sharded
// multi-device execution. Binding more than one device requires it.
type Replicable interface {
	Replicate(dev device.Device) (Model, error)
}

// Debugger is an optional per-iteration visualization capability.
// It is absent by default; callers must check for it before invoking.
type Debugger interface {
	Debug(batch *Batch, output map[string]*tensor.Tensor, iter int)
}
