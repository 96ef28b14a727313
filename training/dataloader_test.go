package training

import (
	"fmt"
	"testing"

	"github.com/tsawler/go-mot/tensor"
)

// sliceDataset is an in-memory SampleDataset
type sliceDataset struct {
	samples  []*Sample
	shuffles int
}

func (d *sliceDataset) Len() int { return len(d.samples) }
func (d *sliceDataset) Shuffle() { d.shuffles++ }

func (d *sliceDataset) Get(idx int) (*Sample, error) {
	if idx < 0 || idx >= len(d.samples) {
		return nil, fmt.Errorf("index %d out of range", idx)
	}
	return d.samples[idx], nil
}

func newSliceDataset(t *testing.T, n int) *sliceDataset {
	t.Helper()
	ds := &sliceDataset{}
	for i := 0; i < n; i++ {
		image, err := tensor.New([]int{1, 2, 2}, tensor.Float32, cpu, float32(i))
		if err != nil {
			t.Fatalf("sample image failed: %v", err)
		}
		label, err := tensor.Zeros([]int{5}, tensor.Float32, cpu)
		if err != nil {
			t.Fatalf("sample label failed: %v", err)
		}
		trackID, err := tensor.New([]int{1}, tensor.Int64, cpu, int64(i))
		if err != nil {
			t.Fatalf("sample track id failed: %v", err)
		}
		ds.samples = append(ds.samples, &Sample{
			Image:    image,
			DetLabel: label,
			TrackID:  trackID,
			Meta:     BatchMeta{ImgID: int64(i)},
		})
	}
	return ds
}

func TestLoaderBatching(t *testing.T) {
	ds := newSliceDataset(t, 5)
	loader, err := NewLoader(ds, 2)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	if loader.Len() != 3 {
		t.Errorf("Len = %d, want 3 batches for 5 samples of size 2", loader.Len())
	}

	sizes := []int{}
	for {
		batch, err := loader.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if batch == nil {
			break
		}
		sizes = append(sizes, batch.Size())
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[2] != 1 {
		t.Errorf("unexpected batch sizes: %v", sizes)
	}
}

func TestLoaderStacksSamples(t *testing.T) {
	ds := newSliceDataset(t, 4)
	loader, _ := NewLoader(ds, 2)

	batch, err := loader.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := batch.Images.Shape[0]; got != 2 {
		t.Fatalf("stacked batch dimension = %d, want 2", got)
	}
	// Sample i fills its image with the value i.
	if v, _ := batch.Images.At(1, 0, 0, 0); v != 1 {
		t.Errorf("second sample pixel = %f, want 1", v)
	}
	ids, err := batch.TrackIDs.Int64s()
	if err != nil {
		t.Fatalf("track ids: %v", err)
	}
	if ids[0] != 0 || ids[1] != 1 {
		t.Errorf("track ids = %v, want [0 1]", ids)
	}
	if batch.Meta.ImgID != 0 {
		t.Errorf("batch meta must come from the first sample, got %d", batch.Meta.ImgID)
	}
}

func TestLoaderReset(t *testing.T) {
	ds := newSliceDataset(t, 2)
	loader, _ := NewLoader(ds, 2)

	if b, _ := loader.Next(); b == nil {
		t.Fatal("first epoch yielded nothing")
	}
	if b, _ := loader.Next(); b != nil {
		t.Fatal("expected exhaustion after one batch")
	}
	loader.Reset()
	if b, _ := loader.Next(); b == nil {
		t.Fatal("reset loader yielded nothing")
	}
}

func TestNewLoaderValidation(t *testing.T) {
	ds := newSliceDataset(t, 2)
	if _, err := NewLoader(ds, 0); err == nil {
		t.Error("expected error for batch size 0")
	}
}

func TestBatchSlice(t *testing.T) {
	batch := makeBatch(t, 4, 1, 0)
	part, err := batch.Slice(1, 3)
	if err != nil {
		t.Fatalf("Slice failed: %v", err)
	}
	if part.Size() != 2 {
		t.Errorf("slice size = %d, want 2", part.Size())
	}
	if part.DetLabels.Shape[0] != 2 || part.TrackIDs.Shape[0] != 2 {
		t.Error("labels and track ids must slice together with images")
	}
}
