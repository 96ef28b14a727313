package training

import (
	"fmt"
	"sync"

	"github.com/tsawler/go-mot/device"
	"github.com/tsawler/go-mot/tensor"
)

// BatchMeta carries the affine metadata and identity of the image a
// batch was built from. Decode uses center/scale to map detections
// back to original image pixels.
type BatchMeta struct {
	ImgID  int64
	Center [2]float64
	Scale  [2]float64
}

// Batch groups one iteration's tensors. A batch is consumed exactly
// once; nothing holds onto it past the iteration that yielded it.
type Batch struct {
	Images    *tensor.Tensor
	DetLabels *tensor.Tensor
	TrackIDs  *tensor.Tensor
	Meta      BatchMeta
}

// Size returns the number of samples in the batch
func (b *Batch) Size() int {
	if b.Images == nil || len(b.Images.Shape) == 0 {
		return 0
	}
	return b.Images.Shape[0]
}

// Slice copies samples [from, to) into a new batch for shard dispatch
func (b *Batch) Slice(from, to int) (*Batch, error) {
	images, err := b.Images.Slice0(from, to)
	if err != nil {
		return nil, err
	}
	detLabels, err := b.DetLabels.Slice0(from, to)
	if err != nil {
		return nil, err
	}
	trackIDs, err := b.TrackIDs.Slice0(from, to)
	if err != nil {
		return nil, err
	}
	return &Batch{Images: images, DetLabels: detLabels, TrackIDs: trackIDs, Meta: b.Meta}, nil
}

// To casts images to float32 and moves all three tensors to dev
func (b *Batch) To(dev device.Device) (*Batch, error) {
	images, err := b.Images.ToFloat32()
	if err != nil {
		return nil, err
	}
	images, err = images.ToDevice(dev)
	if err != nil {
		return nil, err
	}
	detLabels, err := b.DetLabels.ToDevice(dev)
	if err != nil {
		return nil, err
	}
	trackIDs, err := b.TrackIDs.ToDevice(dev)
	if err != nil {
		return nil, err
	}
	return &Batch{Images: images, DetLabels: detLabels, TrackIDs: trackIDs, Meta: b.Meta}, nil
}

// Release returns the batch tensors to the buffer cache
func (b *Batch) Release() {
	if b == nil {
		return
	}
	b.Images.Release()
	b.DetLabels.Release()
	b.TrackIDs.Release()
}

// Sample is one dataset element before batching
type Sample struct {
	Image    *tensor.Tensor
	DetLabel *tensor.Tensor
	TrackID  *tensor.Tensor
	Meta     BatchMeta
}

// Dataset is the minimal contract the epoch loop needs: a length and
// the end-of-epoch reshuffle hook
type Dataset interface {
	Len() int
	Shuffle()
}

// SampleDataset additionally supports random access, which the
// concrete Loader uses to assemble batches
type SampleDataset interface {
	Dataset
	Get(idx int) (*Sample, error)
}

// DataLoader yields batches for one epoch. Next returns (nil, nil)
// when the epoch is exhausted.
type DataLoader interface {
	Len() int
	Next() (*Batch, error)
	Dataset() Dataset
}

// Loader is the stock DataLoader over a SampleDataset
type Loader struct {
	dataset   SampleDataset
	batchSize int
	position  int
	mutex     sync.Mutex
}

// NewLoader creates a Loader producing batches of batchSize samples
func NewLoader(dataset SampleDataset, batchSize int) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidArgument, batchSize)
	}
	return &Loader{dataset: dataset, batchSize: batchSize}, nil
}

// Len returns the number of batches in an epoch
func (l *Loader) Len() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// Dataset exposes the underlying dataset
func (l *Loader) Dataset() Dataset {
	return l.dataset
}

// Reset rewinds the loader for a new epoch
func (l *Loader) Reset() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.position = 0
}

// Next assembles the next batch or returns (nil, nil) at epoch end
func (l *Loader) Next() (*Batch, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	total := l.dataset.Len()
	if l.position >= total {
		return nil, nil
	}
	end := l.position + l.batchSize
	if end > total {
		end = total
	}

	samples := make([]*Sample, 0, end-l.position)
	for idx := l.position; idx < end; idx++ {
		sample, err := l.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		samples = append(samples, sample)
	}
	l.position = end

	images, err := stack(samplesField(samples, func(s *Sample) *tensor.Tensor { return s.Image }))
	if err != nil {
		return nil, fmt.Errorf("failed to stack images: %v", err)
	}
	detLabels, err := stack(samplesField(samples, func(s *Sample) *tensor.Tensor { return s.DetLabel }))
	if err != nil {
		return nil, fmt.Errorf("failed to stack detection labels: %v", err)
	}
	trackIDs, err := stack(samplesField(samples, func(s *Sample) *tensor.Tensor { return s.TrackID }))
	if err != nil {
		return nil, fmt.Errorf("failed to stack track ids: %v", err)
	}

	return &Batch{
		Images:    images,
		DetLabels: detLabels,
		TrackIDs:  trackIDs,
		Meta:      samples[0].Meta,
	}, nil
}

func samplesField(samples []*Sample, field func(*Sample) *tensor.Tensor) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(samples))
	for i, s := range samples {
		out[i] = field(s)
	}
	return out
}

// stack concatenates same-shaped tensors along a new leading dimension
func stack(tensors []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("cannot stack zero tensors")
	}
	first := tensors[0]
	outShape := append([]int{len(tensors)}, first.Shape...)
	out, err := tensor.Zeros(outShape, first.DType, first.Device)
	if err != nil {
		return nil, err
	}
	rowElems := first.Numel()
	for i, t := range tensors {
		if t.DType != first.DType || t.Numel() != rowElems {
			return nil, fmt.Errorf("sample %d does not match shape %v", i, first.Shape)
		}
		if err := copyRow(out, t, i*rowElems); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func copyRow(dst, src *tensor.Tensor, offset int) error {
	switch dstData := dst.Data.(type) {
	case []float32:
		srcData, err := src.Float32s()
		if err != nil {
			return err
		}
		copy(dstData[offset:], srcData)
	case []int32:
		srcData, err := src.Int32s()
		if err != nil {
			return err
		}
		copy(dstData[offset:], srcData)
	case []int64:
		srcData, err := src.Int64s()
		if err != nil {
			return err
		}
		copy(dstData[offset:], srcData)
	default:
		return fmt.Errorf("unsupported storage type %T", dst.Data)
	}
	return nil
}
