package postprocess

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tsawler/go-mot/tensor"
)

// Output tensor keys produced by the detection head
const (
	KeyHeatmap = "hm"
	KeyWH      = "wh"
	KeyOffset  = "reg"
)

// ErrInvalidArgument covers malformed decode inputs
var ErrInvalidArgument = errors.New("invalid argument")

// Detection is one decoded box. Until CtdetPostProcess runs the
// coordinates are in heatmap grid units; afterwards they are original
// image pixels.
type Detection struct {
	X1, Y1, X2, Y2 float64
	Score          float64
	Class          int
}

// Results accumulates decoded detections keyed by image id across an
// evaluation pass. Append-only, single writer.
type Results map[int64][]Detection

// MotDecode extracts the top-K candidate detections from one image's
// head output. heatmap is [1,C,H,W]; wh is [1,2,H,W], or [1,C*2,H,W]
// when catSpecWH indexes width/height by predicted class; reg is an
// optional [1,2,H,W] sub-pixel offset map, nil meaning centers snap to
// +0.5. Decode runs strictly per image: a batch dimension other than 1
// is rejected.
func MotDecode(heatmap, wh, reg *tensor.Tensor, catSpecWH bool, K int) ([]Detection, error) {
	if K <= 0 {
		return nil, fmt.Errorf("%w: K must be positive, got %d", ErrInvalidArgument, K)
	}
	if heatmap == nil || heatmap.Dim() != 4 {
		return nil, fmt.Errorf("%w: heatmap must be [1,C,H,W]", ErrInvalidArgument)
	}
	if heatmap.Shape[0] != 1 {
		return nil, fmt.Errorf("%w: decode is per-image, got batch size %d", ErrInvalidArgument, heatmap.Shape[0])
	}
	numClasses, height, width := heatmap.Shape[1], heatmap.Shape[2], heatmap.Shape[3]

	if wh == nil || wh.Dim() != 4 || wh.Shape[0] != 1 || wh.Shape[2] != height || wh.Shape[3] != width {
		return nil, fmt.Errorf("%w: wh must be [1,_,%d,%d]", ErrInvalidArgument, height, width)
	}
	whChannels := 2
	if catSpecWH {
		whChannels = numClasses * 2
	}
	if wh.Shape[1] != whChannels {
		return nil, fmt.Errorf("%w: wh has %d channels, expected %d", ErrInvalidArgument, wh.Shape[1], whChannels)
	}
	if reg != nil {
		if reg.Dim() != 4 || reg.Shape[0] != 1 || reg.Shape[1] != 2 || reg.Shape[2] != height || reg.Shape[3] != width {
			return nil, fmt.Errorf("%w: reg must be [1,2,%d,%d]", ErrInvalidArgument, height, width)
		}
	}

	scores, err := heatmap.Float32s()
	if err != nil {
		return nil, err
	}

	// Suppress non-peak positions, then rank what survives.
	masked := nmsPeaks(scores, numClasses, height, width)

	order := make([]int, len(masked))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return masked[order[a]] > masked[order[b]]
	})
	if K > len(order) {
		K = len(order)
	}

	plane := height * width
	dets := make([]Detection, 0, K)
	for _, idx := range order[:K] {
		class := idx / plane
		pos := idx % plane
		y, x := pos/width, pos%width

		cx, cy := float64(x)+0.5, float64(y)+0.5
		if reg != nil {
			ox, err := reg.At(0, 0, y, x)
			if err != nil {
				return nil, err
			}
			oy, err := reg.At(0, 1, y, x)
			if err != nil {
				return nil, err
			}
			cx, cy = float64(x)+ox, float64(y)+oy
		}

		whBase := 0
		if catSpecWH {
			whBase = class * 2
		}
		w, err := wh.At(0, whBase, y, x)
		if err != nil {
			return nil, err
		}
		h, err := wh.At(0, whBase+1, y, x)
		if err != nil {
			return nil, err
		}

		dets = append(dets, Detection{
			X1:    cx - w/2,
			Y1:    cy - h/2,
			X2:    cx + w/2,
			Y2:    cy + h/2,
			Score: float64(masked[idx]),
			Class: class,
		})
	}
	return dets, nil
}

// nmsPeaks zeroes every position that is not a 3x3 local maximum
// within its class channel, mirroring max-pool peak suppression
func nmsPeaks(scores []float32, numClasses, height, width int) []float32 {
	plane := height * width
	out := make([]float32, len(scores))
	for c := 0; c < numClasses; c++ {
		base := c * plane
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v := scores[base+y*width+x]
				peak := true
				for dy := -1; dy <= 1 && peak; dy++ {
					for dx := -1; dx <= 1; dx++ {
						ny, nx := y+dy, x+dx
						if ny < 0 || ny >= height || nx < 0 || nx >= width {
							continue
						}
						if scores[base+ny*width+nx] > v {
							peak = false
							break
						}
					}
				}
				if peak {
					out[base+y*width+x] = v
				}
			}
		}
	}
	return out
}
