package training

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tsawler/go-mot/device"
	"github.com/tsawler/go-mot/optimizer"
	"github.com/tsawler/go-mot/postprocess"
)

// EpochResult carries the epoch-average of every loss component plus
// elapsed wall-clock minutes
type EpochResult struct {
	Losses  map[string]float64
	Minutes float64
}

// Trainer owns the model and optimizer for the lifetime of a run and
// drives one epoch at a time. Construct it, bind devices once, then
// call Train/Val per epoch.
type Trainer struct {
	opts    *Options
	model   Model
	optim   optimizer.Optimizer
	exec    Executor
	decoder *postprocess.DetectionDecoder
	log     *log.Entry
}

// NewTrainer creates a trainer. optim may be nil for evaluation-only
// use; Train then fails.
func NewTrainer(opts *Options, model Model, optim optimizer.Optimizer) (*Trainer, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("%w: model is nil", ErrInvalidArgument)
	}
	decoder, err := postprocess.NewDetectionDecoder(opts.TopK, opts.RegOffset, opts.CatSpecWH)
	if err != nil {
		return nil, err
	}
	return &Trainer{
		opts:    opts,
		model:   model,
		optim:   optim,
		decoder: decoder,
		log:     log.WithFields(log.Fields{"task": opts.Task, "exp_id": opts.ExpID}),
	}, nil
}

// BindDevices places the model and optimizer state on the configured
// devices. Must complete before the first epoch runs.
func (t *Trainer) BindDevices() error {
	primary, err := device.Parse(t.opts.Device)
	if err != nil {
		return err
	}

	var devices []device.Device
	if len(t.opts.GPUs) > 1 {
		devices, err = device.List(t.opts.GPUs)
		if err != nil {
			return err
		}
	}

	exec, err := Bind(t.model, devices, t.opts.ChunkSizes, primary)
	if err != nil {
		return err
	}
	t.exec = exec

	if t.optim != nil {
		if err := MigrateOptimizerState(t.optim, primary); err != nil {
			return err
		}
	}

	host := device.Probe()
	t.log.WithFields(log.Fields{
		"device":  primary.String(),
		"shards":  len(devices),
		"cpu":     host.Brand,
		"simd":    host.VectorWidth,
	}).Info("devices bound")
	return nil
}

// Executor exposes the bound executor, nil before BindDevices
func (t *Trainer) Executor() Executor {
	return t.exec
}

// Train runs one training epoch
func (t *Trainer) Train(epoch int, loader DataLoader) (*EpochResult, postprocess.Results, error) {
	return t.RunEpoch(PhaseTrain, epoch, loader)
}

// Val runs one validation epoch
func (t *Trainer) Val(epoch int, loader DataLoader) (*EpochResult, postprocess.Results, error) {
	return t.RunEpoch(PhaseVal, epoch, loader)
}

// RunEpoch drives one full pass in the given phase. Per-batch
// failures are not caught here: training cannot meaningfully continue
// past a corrupted batch, so any error aborts the epoch.
func (t *Trainer) RunEpoch(phase Phase, epoch int, loader DataLoader) (*EpochResult, postprocess.Results, error) {
	if t.exec == nil {
		return nil, nil, ErrNotBound
	}
	if phase == PhaseTrain && t.optim == nil {
		return nil, nil, fmt.Errorf("%w: training requires an optimizer", ErrInvalidArgument)
	}

	st := phase.strategy()
	exec := st.prepare(t)

	results := make(postprocess.Results)
	dataTime, batchTime := NewAverageMeter(), NewAverageMeter()
	meters := make(map[string]*AverageMeter, len(LossNames()))
	for _, name := range LossNames() {
		meters[name] = NewAverageMeter()
	}

	numIters := loader.Len()
	if t.opts.NumIters >= 0 {
		numIters = t.opts.NumIters
	}

	bar := NewProgressBar(fmt.Sprintf("%s/%s", t.opts.Task, t.opts.ExpID), numIters)
	end := time.Now()

	for batchIdx := 0; batchIdx < numIters; batchIdx++ {
		batch, err := loader.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("batch %d load failed: %w", batchIdx, err)
		}
		if batch == nil {
			break
		}
		dataTime.Update(time.Since(end).Seconds(), 1)

		moved, err := batch.To(exec.Device())
		if err != nil {
			return nil, nil, fmt.Errorf("batch %d device transfer failed: %w", batchIdx, err)
		}

		if st.backward() {
			t.optim.ZeroGrad()
		}
		loss, stats, err := exec.ForwardBackward(moved, st.backward())
		if err != nil {
			return nil, nil, fmt.Errorf("batch %d failed: %w", batchIdx, err)
		}
		if st.backward() {
			if err := t.optim.Step(); err != nil {
				return nil, nil, fmt.Errorf("optimizer step at batch %d failed: %w", batchIdx, err)
			}
		}

		batchTime.Update(time.Since(end).Seconds(), 1)
		end = time.Now()

		suffix := fmt.Sprintf("%s: [%d][%d/%d]|Tot: %s |ETA: %s ",
			phase, epoch, batchIdx, numIters,
			FormatDuration(bar.Elapsed()), FormatDuration(bar.ETA()))
		for _, name := range LossNames() {
			if err := meters[name].Update(stats[name], moved.Size()); err != nil {
				return nil, nil, fmt.Errorf("loss %s at batch %d: %w", name, batchIdx, err)
			}
			avg, _ := meters[name].Average()
			suffix += fmt.Sprintf("|%s %.4f ", name, avg)
		}
		if !t.opts.HideDataTime {
			dataAvg, _ := dataTime.Average()
			netAvg, _ := batchTime.Average()
			suffix += fmt.Sprintf("|Data %.3fs(%.3fs) |Net %.3fs", dataTime.Val(), dataAvg, netAvg)
		}

		if t.opts.PrintIter > 0 {
			bar.Advance()
			if batchIdx%t.opts.PrintIter == 0 {
				t.log.Infof("%s/%s| %s", t.opts.Task, t.opts.ExpID, suffix)
			}
		} else {
			bar.Next(suffix)
		}

		if phase == PhaseVal && t.opts.SaveResults {
			if err := t.saveResult(exec.Model(), moved, results); err != nil {
				return nil, nil, fmt.Errorf("decode at batch %d failed: %w", batchIdx, err)
			}
		}

		loss.Release()
		moved.Release()
		batch.Release()
	}

	// Reshuffle for the next epoch whether or not the cap was reached.
	loader.Dataset().Shuffle()

	bar.Finish()

	ret := &EpochResult{
		Losses:  make(map[string]float64, len(meters)),
		Minutes: bar.Elapsed().Minutes(),
	}
	for name, meter := range meters {
		if avg, err := meter.Average(); err == nil {
			ret.Losses[name] = avg
		}
	}

	t.log.WithFields(log.Fields{
		"phase":   phase.String(),
		"epoch":   epoch,
		"iters":   bar.Current(),
		"minutes": fmt.Sprintf("%.2f", ret.Minutes),
	}).Info("epoch finished")

	return ret, results, nil
}

// saveResult decodes one evaluation batch into image-space detections
// keyed by image id
func (t *Trainer) saveResult(model Model, batch *Batch, results postprocess.Results) error {
	output, err := model.Output(batch.Images)
	if err != nil {
		return err
	}
	defer func() {
		for _, o := range output {
			o.Release()
		}
	}()
	return t.decoder.SaveResult(output, batch.Meta.Center, batch.Meta.Scale, batch.Meta.ImgID, results)
}
