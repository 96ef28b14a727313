package training

import (
	"errors"
	"math"
	"testing"
)

func newBoundTrainer(t *testing.T, opts *Options, model *fakeModel, opt *recordingOptimizer) *Trainer {
	t.Helper()
	tr, err := NewTrainer(opts, model, opt)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}
	if err := tr.BindDevices(); err != nil {
		t.Fatalf("BindDevices failed: %v", err)
	}
	return tr
}

func TestRunEpochRequiresBinding(t *testing.T) {
	tr, err := NewTrainer(quietOptions(), newFakeModel(t), newRecordingOptimizer())
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}
	if _, _, err := tr.Train(0, makeLoader(t, 1, 1)); !errors.Is(err, ErrNotBound) {
		t.Errorf("expected ErrNotBound, got %v", err)
	}
}

func TestTrainRequiresOptimizer(t *testing.T) {
	tr, err := NewTrainer(quietOptions(), newFakeModel(t), nil)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}
	if err := tr.BindDevices(); err != nil {
		t.Fatalf("BindDevices failed: %v", err)
	}
	if _, _, err := tr.Train(0, makeLoader(t, 1, 1)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestIterationCapHonored(t *testing.T) {
	opts := quietOptions()
	opts.NumIters = 3
	model := newFakeModel(t)
	tr := newBoundTrainer(t, opts, model, newRecordingOptimizer())

	loader := makeLoader(t, 5, 1)
	if _, _, err := tr.Train(0, loader); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if model.forwardCalls != 3 {
		t.Errorf("forward ran %d times, cap was 3", model.forwardCalls)
	}
}

func TestLoaderExhaustionStopsEarly(t *testing.T) {
	opts := quietOptions()
	opts.NumIters = 10
	model := newFakeModel(t)
	tr := newBoundTrainer(t, opts, model, newRecordingOptimizer())

	loader := makeLoader(t, 2, 1)
	if _, _, err := tr.Train(0, loader); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if model.forwardCalls != 2 {
		t.Errorf("forward ran %d times, loader had 2 batches", model.forwardCalls)
	}
}

func TestShuffleCalledOncePerEpoch(t *testing.T) {
	for _, phase := range []Phase{PhaseTrain, PhaseVal} {
		opts := quietOptions()
		opts.NumIters = 1 // early termination by cap
		model := newFakeModel(t)
		tr := newBoundTrainer(t, opts, model, newRecordingOptimizer())

		loader := makeLoader(t, 4, 1)
		if _, _, err := tr.RunEpoch(phase, 0, loader); err != nil {
			t.Fatalf("RunEpoch(%s) failed: %v", phase, err)
		}
		if loader.ds.shuffles != 1 {
			t.Errorf("phase %s: shuffle called %d times, want 1", phase, loader.ds.shuffles)
		}
	}
}

func TestEvalSkipsGradientWork(t *testing.T) {
	model := newFakeModel(t)
	opt := newRecordingOptimizer()
	tr := newBoundTrainer(t, quietOptions(), model, opt)

	if _, _, err := tr.Val(0, makeLoader(t, 3, 1)); err != nil {
		t.Fatalf("Val failed: %v", err)
	}
	if opt.zeroCalls != 0 || opt.stepCalls != 0 {
		t.Errorf("eval phase touched the optimizer: zero=%d step=%d", opt.zeroCalls, opt.stepCalls)
	}
	if model.backwardCalls != 0 {
		t.Errorf("eval phase ran backward %d times", model.backwardCalls)
	}
	if model.training {
		t.Error("eval phase left the model in training mode")
	}
}

func TestTrainStepsOptimizerPerBatch(t *testing.T) {
	model := newFakeModel(t)
	opt := newRecordingOptimizer()
	tr := newBoundTrainer(t, quietOptions(), model, opt)

	if _, _, err := tr.Train(0, makeLoader(t, 4, 1)); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if opt.zeroCalls != 4 || opt.stepCalls != 4 {
		t.Errorf("expected 4 zero/step calls, got zero=%d step=%d", opt.zeroCalls, opt.stepCalls)
	}
	if model.backwardCalls != 4 {
		t.Errorf("backward ran %d times, want 4", model.backwardCalls)
	}
	if !model.training {
		t.Error("train phase must leave the model in training mode")
	}
}

func TestEpochResultAverages(t *testing.T) {
	model := newFakeModel(t)
	tr := newBoundTrainer(t, quietOptions(), model, newRecordingOptimizer())

	// Batches of one sample with pixel fills 1 and 2: losses 4 and 8.
	ret, _, err := tr.Train(0, makeLoader(t, 2, 1))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	for _, name := range LossNames() {
		if math.Abs(ret.Losses[name]-6.0) > 1e-6 {
			t.Errorf("%s average = %f, want 6.0", name, ret.Losses[name])
		}
	}
	if ret.Minutes < 0 {
		t.Errorf("negative elapsed minutes: %f", ret.Minutes)
	}
}

func TestValDecodesResults(t *testing.T) {
	opts := quietOptions()
	opts.SaveResults = true
	opts.TopK = 1
	model := newFakeModel(t)
	tr := newBoundTrainer(t, opts, model, newRecordingOptimizer())

	_, results, err := tr.Val(0, makeLoader(t, 3, 1))
	if err != nil {
		t.Fatalf("Val failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 decoded images, got %d", len(results))
	}
	for imgID, dets := range results {
		if len(dets) == 0 {
			t.Errorf("image %d decoded no detections", imgID)
		}
	}
}

func TestTrainDoesNotDecode(t *testing.T) {
	opts := quietOptions()
	opts.SaveResults = true
	model := newFakeModel(t)
	tr := newBoundTrainer(t, opts, model, newRecordingOptimizer())

	_, results, err := tr.Train(0, makeLoader(t, 2, 1))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("training phase produced %d decoded results", len(results))
	}
}
