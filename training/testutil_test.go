package training

import (
	"sync"
	"testing"

	"github.com/tsawler/go-mot/device"
	"github.com/tsawler/go-mot/optimizer"
	"github.com/tsawler/go-mot/tensor"
)

var cpu = device.Device{Kind: device.CPU}

// fakeModel computes loss as the plain sum of all image elements, so
// sharded and single-device execution must agree exactly
type fakeModel struct {
	mu            sync.Mutex
	weights       *tensor.Tensor
	dev           device.Device
	training      bool
	forwardCalls  int
	backwardCalls int
}

func newFakeModel(t *testing.T) *fakeModel {
	t.Helper()
	w, err := tensor.New([]int{2}, tensor.Float32, cpu, []float32{1, 1})
	if err != nil {
		t.Fatalf("fake model weights failed: %v", err)
	}
	w.SetRequiresGrad(true)
	return &fakeModel{weights: w, dev: cpu}
}

func (m *fakeModel) Forward(images *tensor.Tensor, targets Targets) (*tensor.Tensor, LossStats, error) {
	m.mu.Lock()
	m.forwardCalls++
	m.mu.Unlock()

	data, err := images.Float32s()
	if err != nil {
		return nil, nil, err
	}
	sum := 0.0
	for _, v := range data {
		sum += float64(v)
	}
	stats := LossStats{}
	for _, name := range LossNames() {
		stats[name] = sum
	}
	return tensor.FromScalar(sum, tensor.Float32, m.dev), stats, nil
}

func (m *fakeModel) Backward(loss *tensor.Tensor) error {
	m.mu.Lock()
	m.backwardCalls++
	m.mu.Unlock()

	value, err := loss.Item()
	if err != nil {
		return err
	}
	g, err := tensor.New(m.weights.Shape, tensor.Float32, m.dev, float32(value))
	if err != nil {
		return err
	}
	m.weights.SetGrad(g)
	return nil
}

func (m *fakeModel) Output(images *tensor.Tensor) (map[string]*tensor.Tensor, error) {
	hm, err := tensor.Zeros([]int{1, 1, 8, 8}, tensor.Float32, m.dev)
	if err != nil {
		return nil, err
	}
	wh, err := tensor.Zeros([]int{1, 2, 8, 8}, tensor.Float32, m.dev)
	if err != nil {
		return nil, err
	}
	hm.SetAt(0.9, 0, 0, 3, 2)
	wh.SetAt(2, 0, 0, 3, 2)
	wh.SetAt(2, 0, 1, 3, 2)
	return map[string]*tensor.Tensor{OutputHeatmap: hm, OutputWH: wh}, nil
}

func (m *fakeModel) SetTraining(training bool) { m.training = training }

func (m *fakeModel) Parameters() []*tensor.Tensor { return []*tensor.Tensor{m.weights} }

func (m *fakeModel) To(dev device.Device) error {
	moved, err := m.weights.ToDevice(dev)
	if err != nil {
		return err
	}
	m.weights = moved
	m.dev = dev
	return nil
}

func (m *fakeModel) Replicate(dev device.Device) (Model, error) {
	w, err := m.weights.Clone()
	if err != nil {
		return nil, err
	}
	w.Device = dev
	w.SetRequiresGrad(true)
	return &fakeModel{weights: w, dev: dev}, nil
}

// recordingOptimizer counts ZeroGrad/Step calls
type recordingOptimizer struct {
	zeroCalls int
	stepCalls int
	state     optimizer.State
}

func newRecordingOptimizer() *recordingOptimizer {
	return &recordingOptimizer{state: make(optimizer.State)}
}

func (o *recordingOptimizer) ZeroGrad()              { o.zeroCalls++ }
func (o *recordingOptimizer) Step() error            { o.stepCalls++; return nil }
func (o *recordingOptimizer) State() optimizer.State { return o.state }

// fakeDataset records shuffle invocations
type fakeDataset struct {
	n        int
	shuffles int
}

func (d *fakeDataset) Len() int { return d.n }
func (d *fakeDataset) Shuffle() { d.shuffles++ }

// fakeLoader yields pre-built batches
type fakeLoader struct {
	batches []*Batch
	pos     int
	ds      *fakeDataset
}

func (l *fakeLoader) Len() int         { return len(l.batches) }
func (l *fakeLoader) Dataset() Dataset { return l.ds }

func (l *fakeLoader) Next() (*Batch, error) {
	if l.pos >= len(l.batches) {
		return nil, nil
	}
	b := l.batches[l.pos]
	l.pos++
	return b, nil
}

func makeBatch(t *testing.T, batchSize int, fill float32, imgID int64) *Batch {
	t.Helper()
	n := batchSize * 4
	pixels := make([]float32, n)
	for i := range pixels {
		pixels[i] = fill
	}
	images, err := tensor.New([]int{batchSize, 1, 2, 2}, tensor.Float32, cpu, pixels)
	if err != nil {
		t.Fatalf("batch images failed: %v", err)
	}
	detLabels, err := tensor.Zeros([]int{batchSize, 5}, tensor.Float32, cpu)
	if err != nil {
		t.Fatalf("batch labels failed: %v", err)
	}
	trackIDs, err := tensor.Zeros([]int{batchSize, 1}, tensor.Int64, cpu)
	if err != nil {
		t.Fatalf("batch track ids failed: %v", err)
	}
	return &Batch{
		Images:    images,
		DetLabels: detLabels,
		TrackIDs:  trackIDs,
		Meta:      BatchMeta{ImgID: imgID, Center: [2]float64{4, 4}, Scale: [2]float64{8, 8}},
	}
}

func makeLoader(t *testing.T, numBatches, batchSize int) *fakeLoader {
	t.Helper()
	batches := make([]*Batch, numBatches)
	for i := range batches {
		batches[i] = makeBatch(t, batchSize, float32(i+1), int64(i))
	}
	return &fakeLoader{batches: batches, ds: &fakeDataset{n: numBatches * batchSize}}
}

func quietOptions() *Options {
	opts := DefaultOptions()
	opts.Task = "mot"
	opts.ExpID = "test"
	opts.PrintIter = 1 << 20 // effectively silence progress output
	opts.HideDataTime = true
	return opts
}
