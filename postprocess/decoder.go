package postprocess

import (
	"fmt"
	"sort"

	"github.com/tsawler/go-mot/tensor"
)

// DetectionDecoder converts raw head output for one image into final
// image-space detections. Class count and heatmap spatial dimensions
// are read from the output tensors themselves, so a head that changes
// shape at runtime decodes correctly without reconfiguration.
type DetectionDecoder struct {
	topK      int
	regOffset bool
	catSpecWH bool
}

// NewDetectionDecoder creates a decoder bounded at topK candidates per
// image. regOffset expects a sub-pixel offset map in the output;
// catSpecWH indexes width/height per predicted class.
func NewDetectionDecoder(topK int, regOffset, catSpecWH bool) (*DetectionDecoder, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top-K bound must be positive, got %d", ErrInvalidArgument, topK)
	}
	return &DetectionDecoder{topK: topK, regOffset: regOffset, catSpecWH: catSpecWH}, nil
}

// SaveResult decodes one image's output and records the detections
// under imgID in results. Center and scale come from the batch's
// stored metadata. Writing an id twice overwrites the earlier entry.
func (d *DetectionDecoder) SaveResult(output map[string]*tensor.Tensor, center, scale [2]float64, imgID int64, results Results) error {
	heatmap, ok := output[KeyHeatmap]
	if !ok {
		return fmt.Errorf("%w: output missing %q", ErrInvalidArgument, KeyHeatmap)
	}
	wh, ok := output[KeyWH]
	if !ok {
		return fmt.Errorf("%w: output missing %q", ErrInvalidArgument, KeyWH)
	}
	var reg *tensor.Tensor
	if d.regOffset {
		reg, ok = output[KeyOffset]
		if !ok {
			return fmt.Errorf("%w: offset regression enabled but output missing %q", ErrInvalidArgument, KeyOffset)
		}
	}

	dets, err := MotDecode(heatmap, wh, reg, d.catSpecWH, d.topK)
	if err != nil {
		return err
	}

	numClasses, height, width := heatmap.Shape[1], heatmap.Shape[2], heatmap.Shape[3]
	grouped, err := CtdetPostProcess(dets, center, scale, height, width, numClasses)
	if err != nil {
		return err
	}

	flat := make([]Detection, 0, len(dets))
	classes := make([]int, 0, len(grouped))
	for class := range grouped {
		classes = append(classes, class)
	}
	sort.Ints(classes)
	for _, class := range classes {
		flat = append(flat, grouped[class]...)
	}

	results[imgID] = flat
	return nil
}
