package dataplane

import (
	"math"
	"testing"
)

func framerCfg() Config {
	cfg := DefaultConfig()
	cfg.TargetLanguages = []Language{"es"}
	cfg.SampleRate = 1000
	cfg.ChunkMS = 100 // 100 samples/frame
	cfg.OverlapMS = 0
	cfg.FramerMaxLagFrames = 2
	return cfg
}

func TestAudioFramerEmitsCompleteFrames(t *testing.T) {
	f := NewAudioFramer(framerCfg(), NewEnergyFallbackVAD(0), nil, nil)
	defer f.Close()

	samples := make([]float32, 250) // 2 full frames + 50 leftover
	if err := f.Push(samples, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame1 := <-f.Frames()
	frame2 := <-f.Frames()
	if len(frame1.Samples) != 100 || len(frame2.Samples) != 100 {
		t.Fatalf("expected two 100-sample frames, got %d and %d", len(frame1.Samples), len(frame2.Samples))
	}
	if frame1.Seq != 1 || frame2.Seq != 2 {
		t.Errorf("expected sequential frame seq numbers, got %d then %d", frame1.Seq, frame2.Seq)
	}
}

func TestAudioFramerDrainFlushesShortFrame(t *testing.T) {
	f := NewAudioFramer(framerCfg(), NewEnergyFallbackVAD(0), nil, nil)
	defer f.Close()

	if err := f.Push(make([]float32, 40), 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Drain(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame := <-f.Frames()
	if len(frame.Samples) != 40 {
		t.Fatalf("expected drain to flush the 40 leftover samples, got %d", len(frame.Samples))
	}

	// Draining an already-empty ring is a no-op, not a second (empty) frame.
	if err := f.Drain(); err != nil {
		t.Fatalf("unexpected error on idempotent drain: %v", err)
	}
	select {
	case <-f.Frames():
		t.Fatal("expected no frame from draining an empty ring")
	default:
	}
}

func TestAudioFramerDropsEldestOnOverflow(t *testing.T) {
	cfg := framerCfg()
	cfg.FramerMaxLagFrames = 1
	f := NewAudioFramer(cfg, NewEnergyFallbackVAD(0), nil, nil)
	defer f.Close()

	err := f.Push(make([]float32, 300), 1000) // 3 frames into a 1-slot channel
	if err != ErrBufferOverflow {
		t.Fatalf("expected ErrBufferOverflow, got %v", err)
	}
}

func TestRMSNormalizeScalesTowardTarget(t *testing.T) {
	samples := make([]float32, 100)
	for i := range samples {
		samples[i] = 0.01
	}
	out := rmsNormalize(samples, targetDBFS)

	gotRMS := calculateRMSFloat(out)
	wantRMS := math.Pow(10, targetDBFS/20)
	if math.Abs(gotRMS-wantRMS) > 1e-6 {
		t.Errorf("normalized RMS = %f, want %f", gotRMS, wantRMS)
	}
}

func TestRMSNormalizeLeavesSilenceAlone(t *testing.T) {
	samples := make([]float32, 10)
	out := rmsNormalize(samples, targetDBFS)
	for _, s := range out {
		if s != 0 {
			t.Fatalf("expected silent input to stay silent, got %v", out)
		}
	}
}
