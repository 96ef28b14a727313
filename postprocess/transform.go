package postprocess

import (
	"fmt"
	"math"
	"sort"
)

// Affine is a 2x3 transform matrix applied to column vectors [x y 1]
type Affine [2][3]float64

// Apply maps a point through the transform
func (a Affine) Apply(x, y float64) (float64, float64) {
	return a[0][0]*x + a[0][1]*y + a[0][2],
		a[1][0]*x + a[1][1]*y + a[1][2]
}

// GetAffineTransform builds the transform between the original image
// frame (described by center and scale) and an outW x outH output
// grid, using the standard three-point construction. inv selects the
// output-to-image direction, which is what decode needs.
func GetAffineTransform(center, scale [2]float64, outW, outH int, inv bool) (Affine, error) {
	srcW := scale[0]
	dstW, dstH := float64(outW), float64(outH)

	srcDir := [2]float64{0, srcW * -0.5}
	dstDir := [2]float64{0, dstW * -0.5}

	var src, dst [3][2]float64
	src[0] = center
	src[1] = [2]float64{center[0] + srcDir[0], center[1] + srcDir[1]}
	src[2] = thirdPoint(src[0], src[1])

	dst[0] = [2]float64{dstW * 0.5, dstH * 0.5}
	dst[1] = [2]float64{dst[0][0] + dstDir[0], dst[0][1] + dstDir[1]}
	dst[2] = thirdPoint(dst[0], dst[1])

	if inv {
		return solveAffine(dst, src)
	}
	return solveAffine(src, dst)
}

// thirdPoint completes a triangle from two points by rotating their
// difference 90 degrees
func thirdPoint(a, b [2]float64) [2]float64 {
	dx, dy := a[0]-b[0], a[1]-b[1]
	return [2]float64{b[0] - dy, b[1] + dx}
}

// solveAffine finds the 2x3 matrix mapping three source points onto
// three destination points
func solveAffine(src, dst [3][2]float64) (Affine, error) {
	// Row system: [sx sy 1] * [p0 p1 p2]^T = target, per output axis.
	det := src[0][0]*(src[1][1]-src[2][1]) -
		src[0][1]*(src[1][0]-src[2][0]) +
		(src[1][0]*src[2][1] - src[2][0]*src[1][1])
	if math.Abs(det) < 1e-12 {
		return Affine{}, fmt.Errorf("%w: degenerate affine source points", ErrInvalidArgument)
	}

	var out Affine
	for axis := 0; axis < 2; axis++ {
		t := [3]float64{dst[0][axis], dst[1][axis], dst[2][axis]}

		detA := t[0]*(src[1][1]-src[2][1]) -
			src[0][1]*(t[1]-t[2]) +
			(t[1]*src[2][1] - t[2]*src[1][1])
		detB := src[0][0]*(t[1]-t[2]) -
			t[0]*(src[1][0]-src[2][0]) +
			(src[1][0]*t[2] - src[2][0]*t[1])
		detC := src[0][0]*(src[1][1]*t[2]-src[2][1]*t[1]) -
			src[0][1]*(src[1][0]*t[2]-src[2][0]*t[1]) +
			t[0]*(src[1][0]*src[2][1]-src[2][0]*src[1][1])

		out[axis][0] = detA / det
		out[axis][1] = detB / det
		out[axis][2] = detC / det
	}
	return out, nil
}

// CtdetPostProcess maps grid-space detections back to original image
// pixel coordinates via the inverse affine of the batch's center/scale
// metadata, then groups them per class
func CtdetPostProcess(dets []Detection, center, scale [2]float64, outH, outW, numClasses int) (map[int][]Detection, error) {
	trans, err := GetAffineTransform(center, scale, outW, outH, true)
	if err != nil {
		return nil, err
	}

	grouped := make(map[int][]Detection)
	for _, det := range dets {
		if det.Class < 0 || det.Class >= numClasses {
			return nil, fmt.Errorf("%w: class %d out of range [0,%d)", ErrInvalidArgument, det.Class, numClasses)
		}
		x1, y1 := trans.Apply(det.X1, det.Y1)
		x2, y2 := trans.Apply(det.X2, det.Y2)
		grouped[det.Class] = append(grouped[det.Class], Detection{
			X1: x1, Y1: y1, X2: x2, Y2: y2,
			Score: det.Score,
			Class: det.Class,
		})
	}

	for class := range grouped {
		list := grouped[class]
		sort.Slice(list, func(a, b int) bool { return list[a].Score > list[b].Score })
	}
	return grouped, nil
}
