// Command mot-train runs a demo training loop over a synthetic
// dataset with a toy detection model. It exercises the full epoch
// pipeline: device binding, sharded or single-device execution,
// running loss aggregation, progress output, and validation decode.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/tsawler/go-mot/device"
	"github.com/tsawler/go-mot/optimizer"
	"github.com/tsawler/go-mot/tensor"
	"github.com/tsawler/go-mot/training"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml options file")
	epochs := flag.Int("epochs", 3, "number of epochs to run")
	flag.Parse()

	opts := training.DefaultOptions()
	if *configPath != "" {
		loaded, err := training.LoadOptions(*configPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load options")
		}
		opts = loaded
	}
	opts.SaveResults = true

	if err := run(opts, *epochs); err != nil {
		log.WithError(err).Error("training run failed")
		os.Exit(1)
	}
}

func run(opts *training.Options, epochs int) error {
	cpu := device.Device{Kind: device.CPU}

	model, err := newToyModel(cpu)
	if err != nil {
		return err
	}
	sgd, err := optimizer.NewSGD(model.Parameters(), optimizer.SGDConfig{
		LearningRate: 1e-3,
		Momentum:     0.9,
	})
	if err != nil {
		return err
	}

	trainer, err := training.NewTrainer(opts, model, sgd)
	if err != nil {
		return err
	}
	if err := trainer.BindDevices(); err != nil {
		return err
	}

	dataset := newSyntheticDataset(64, cpu)
	loader, err := training.NewLoader(dataset, opts.BatchSize)
	if err != nil {
		return err
	}

	for epoch := 0; epoch < epochs; epoch++ {
		loader.Reset()
		prefetched, err := training.NewPrefetchLoader(loader, training.PrefetchConfig{Depth: 4})
		if err != nil {
			return err
		}
		ret, _, err := trainer.Train(epoch, prefetched)
		prefetched.Stop()
		if err != nil {
			return err
		}
		log.WithField("tot_loss", fmt.Sprintf("%.4f", ret.Losses[training.LossTotal])).
			Infof("epoch %d done in %.2f min", epoch, ret.Minutes)

		loader.Reset()
		_, results, err := trainer.Val(epoch, loader)
		if err != nil {
			return err
		}
		log.Infof("validation decoded %d images", len(results))
	}
	return nil
}

// toyModel is a one-parameter stand-in for a detection network. Its
// loss is the mean image intensity scaled by the weight, which is
// enough to watch the optimizer move.
type toyModel struct {
	weight *tensor.Tensor
	dev    device.Device
}

func newToyModel(dev device.Device) (*toyModel, error) {
	w, err := tensor.New([]int{1}, tensor.Float32, dev, float32(1.0))
	if err != nil {
		return nil, err
	}
	w.SetRequiresGrad(true)
	return &toyModel{weight: w, dev: dev}, nil
}

func (m *toyModel) Forward(images *tensor.Tensor, targets training.Targets) (*tensor.Tensor, training.LossStats, error) {
	pixels, err := images.Float32s()
	if err != nil {
		return nil, nil, err
	}
	mean := 0.0
	for _, v := range pixels {
		mean += float64(v)
	}
	mean /= float64(len(pixels))

	w, err := m.weight.At(0)
	if err != nil {
		return nil, nil, err
	}
	loss := mean * w

	stats := training.LossStats{
		training.LossTotal: loss,
		training.LossIoU:   loss * 0.4,
		training.LossConf:  loss * 0.3,
		training.LossCls:   loss * 0.2,
		training.LossReID:  loss * 0.1,
	}
	return tensor.FromScalar(loss, tensor.Float32, m.dev), stats, nil
}

func (m *toyModel) Backward(loss *tensor.Tensor) error {
	value, err := loss.Item()
	if err != nil {
		return err
	}
	g, err := tensor.New(m.weight.Shape, tensor.Float32, m.dev, float32(value))
	if err != nil {
		return err
	}
	m.weight.SetGrad(g)
	return nil
}

func (m *toyModel) Output(images *tensor.Tensor) (map[string]*tensor.Tensor, error) {
	hm, err := tensor.Zeros([]int{1, 1, 16, 16}, tensor.Float32, m.dev)
	if err != nil {
		return nil, err
	}
	wh, err := tensor.Zeros([]int{1, 2, 16, 16}, tensor.Float32, m.dev)
	if err != nil {
		return nil, err
	}
	hm.SetAt(0.9, 0, 0, 8, 8)
	wh.SetAt(4, 0, 0, 8, 8)
	wh.SetAt(4, 0, 1, 8, 8)
	return map[string]*tensor.Tensor{
		training.OutputHeatmap: hm,
		training.OutputWH:      wh,
	}, nil
}

func (m *toyModel) SetTraining(bool) {}

func (m *toyModel) Parameters() []*tensor.Tensor { return []*tensor.Tensor{m.weight} }

func (m *toyModel) To(dev device.Device) error {
	moved, err := m.weight.ToDevice(dev)
	if err != nil {
		return err
	}
	m.weight = moved
	m.dev = dev
	return nil
}

// syntheticDataset produces random image patches with empty labels
type syntheticDataset struct {
	n     int
	dev   device.Device
	order []int
	rng   *rand.Rand
}

func newSyntheticDataset(n int, dev device.Device) *syntheticDataset {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return &syntheticDataset{n: n, dev: dev, order: order, rng: rand.New(rand.NewSource(7))}
}

func (d *syntheticDataset) Len() int { return d.n }

func (d *syntheticDataset) Shuffle() {
	d.rng.Shuffle(len(d.order), func(i, j int) {
		d.order[i], d.order[j] = d.order[j], d.order[i]
	})
}

func (d *syntheticDataset) Get(idx int) (*training.Sample, error) {
	id := d.order[idx]
	pixels := make([]float32, 3*32*32)
	for i := range pixels {
		pixels[i] = d.rng.Float32()
	}
	image, err := tensor.New([]int{3, 32, 32}, tensor.Float32, d.dev, pixels)
	if err != nil {
		return nil, err
	}
	label, err := tensor.Zeros([]int{1, 5}, tensor.Float32, d.dev)
	if err != nil {
		return nil, err
	}
	trackID, err := tensor.New([]int{1}, tensor.Int64, d.dev, int64(id))
	if err != nil {
		return nil, err
	}
	return &training.Sample{
		Image:    image,
		DetLabel: label,
		TrackID:  trackID,
		Meta: training.BatchMeta{
			ImgID:  int64(id),
			Center: [2]float64{16, 16},
			Scale:  [2]float64{32, 32},
		},
	}, nil
}
