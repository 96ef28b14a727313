package postprocess

import (
	"math"
	"testing"
)

func TestIdentityTransform(t *testing.T) {
	// Center at the grid middle with scale equal to the grid width
	// makes output and image frames coincide.
	trans, err := GetAffineTransform([2]float64{64, 64}, [2]float64{128, 128}, 128, 128, true)
	if err != nil {
		t.Fatalf("GetAffineTransform failed: %v", err)
	}
	x, y := trans.Apply(37.5, 90.25)
	if math.Abs(x-37.5) > 1e-9 || math.Abs(y-90.25) > 1e-9 {
		t.Errorf("identity transform moved (37.5, 90.25) to (%f, %f)", x, y)
	}
}

func TestScalingTransform(t *testing.T) {
	// A 512-wide image decoded on a 128-wide grid: inverse transform
	// must scale grid coordinates up by 4.
	trans, err := GetAffineTransform([2]float64{256, 256}, [2]float64{512, 512}, 128, 128, true)
	if err != nil {
		t.Fatalf("GetAffineTransform failed: %v", err)
	}
	x, y := trans.Apply(32, 64)
	if math.Abs(x-128) > 1e-9 || math.Abs(y-256) > 1e-9 {
		t.Errorf("expected (128, 256), got (%f, %f)", x, y)
	}
}

func TestForwardInverseRoundTrip(t *testing.T) {
	center := [2]float64{300, 200}
	scale := [2]float64{400, 400}

	fwd, err := GetAffineTransform(center, scale, 96, 96, false)
	if err != nil {
		t.Fatalf("forward transform failed: %v", err)
	}
	inv, err := GetAffineTransform(center, scale, 96, 96, true)
	if err != nil {
		t.Fatalf("inverse transform failed: %v", err)
	}

	gx, gy := fwd.Apply(311, 187)
	x, y := inv.Apply(gx, gy)
	if math.Abs(x-311) > 1e-6 || math.Abs(y-187) > 1e-6 {
		t.Errorf("round trip moved (311, 187) to (%f, %f)", x, y)
	}
}

func TestDegenerateScaleRejected(t *testing.T) {
	if _, err := GetAffineTransform([2]float64{0, 0}, [2]float64{0, 0}, 128, 128, true); err == nil {
		t.Error("expected error for zero scale")
	}
}

func TestCtdetPostProcessGroupsByClass(t *testing.T) {
	dets := []Detection{
		{X1: 1, Y1: 1, X2: 3, Y2: 3, Score: 0.5, Class: 0},
		{X1: 5, Y1: 5, X2: 7, Y2: 7, Score: 0.9, Class: 0},
		{X1: 2, Y1: 2, X2: 4, Y2: 4, Score: 0.7, Class: 2},
	}
	grouped, err := CtdetPostProcess(dets, [2]float64{64, 64}, [2]float64{128, 128}, 128, 128, 3)
	if err != nil {
		t.Fatalf("CtdetPostProcess failed: %v", err)
	}
	if len(grouped[0]) != 2 || len(grouped[2]) != 1 {
		t.Fatalf("unexpected grouping: %v", grouped)
	}
	if grouped[0][0].Score != 0.9 {
		t.Errorf("class 0 not sorted by score: %v", grouped[0])
	}

	bad := []Detection{{Class: 5}}
	if _, err := CtdetPostProcess(bad, [2]float64{64, 64}, [2]float64{128, 128}, 128, 128, 3); err == nil {
		t.Error("expected error for out-of-range class")
	}
}
