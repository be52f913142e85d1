package dataplane

import (
	"context"
	"testing"
	"time"
)

func sttStageCfg() Config {
	cfg := DefaultConfig()
	cfg.AgreementThreshold = 1
	cfg.StabilityWindow = 1
	cfg.CaptionChannelCapacity = 4
	cfg.CancellationDrainMS = 10
	cfg.MaxFrameAge = 5000
	return cfg
}

func TestSTTStageEmitsUpdateOnSpeechFrame(t *testing.T) {
	provider := &fakeSTTProvider{words: []WordCandidate{{Text: "hello", Confidence: 0.9, Position: 0}}}
	in := make(chan AudioFrame, 1)
	stage := NewSTTStage(sttStageCfg(), "sess1", provider, in, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stage.Run(ctx) }()

	in <- AudioFrame{Samples: []float32{0.5}, HasSpeech: true, CaptureTS: nowNanos()}

	select {
	case update := <-stage.Updates():
		if update.Text != "hello" {
			t.Errorf("expected flattened text 'hello', got %q", update.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a caption update")
	}

	close(in)
	cancel()
	<-done
}

func TestSTTStageSkipsNonSpeechFrame(t *testing.T) {
	provider := &fakeSTTProvider{words: []WordCandidate{{Text: "hello"}}}
	in := make(chan AudioFrame, 1)
	stage := NewSTTStage(sttStageCfg(), "sess1", provider, in, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stage.Run(ctx) }()

	in <- AudioFrame{Samples: []float32{0.01}, HasSpeech: false, CaptureTS: nowNanos()}

	select {
	case update := <-stage.Updates():
		t.Fatalf("expected no update for a non-speech frame, got %+v", update)
	case <-time.After(150 * time.Millisecond):
	}

	close(in)
	cancel()
	<-done
}

func TestSTTStageDropsExpiredFrame(t *testing.T) {
	provider := &fakeSTTProvider{words: []WordCandidate{{Text: "hello"}}}
	in := make(chan AudioFrame, 1)
	cfg := sttStageCfg()
	cfg.MaxFrameAge = 10
	stage := NewSTTStage(cfg, "sess1", provider, in, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stage.Run(ctx) }()

	stale := AudioFrame{
		Samples:   []float32{0.5},
		HasSpeech: true,
		CaptureTS: nowNanos() - int64(time.Second),
	}
	in <- stale

	select {
	case update := <-stage.Updates():
		t.Fatalf("expected expired frame to be dropped, got %+v", update)
	case <-time.After(150 * time.Millisecond):
	}

	close(in)
	cancel()
	<-done
}

func TestSTTStageFinalizeFlushesOnChannelClose(t *testing.T) {
	provider := &fakeSTTProvider{words: []WordCandidate{{Text: "hola", Confidence: 0.9, Position: 0}}}
	in := make(chan AudioFrame, 1)
	cfg := sttStageCfg()
	// Require 2 agreements so the single hypothesis below doesn't confirm
	// immediately, leaving something for finalize's relaxed-threshold pass
	// to flush once the channel closes.
	cfg.AgreementThreshold = 2
	cfg.StabilityWindow = 2
	stage := NewSTTStage(cfg, "sess1", provider, in, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- stage.Run(ctx) }()

	in <- AudioFrame{Samples: []float32{0.5}, HasSpeech: true, CaptureTS: nowNanos()}
	<-stage.Updates() // drain the interim update from ingest

	close(in)

	select {
	case update := <-stage.Updates():
		if !update.HasNewConfirmations {
			t.Errorf("expected finalize to flush a confirmed update, got %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for finalize's flush")
	}

	if err := <-done; err != nil {
		t.Fatalf("unexpected Run error: %v", err)
	}
}

func TestSTTStageStampsSourceHypothesisID(t *testing.T) {
	provider := &fakeSTTProvider{words: []WordCandidate{{Text: "hello", Confidence: 0.9, Position: 0}}}
	in := make(chan AudioFrame, 1)
	cfg := sttStageCfg()
	stage := NewSTTStage(cfg, "sess1", provider, in, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stage.Run(ctx) }()

	in <- AudioFrame{Samples: []float32{0.5}, HasSpeech: true, CaptureTS: nowNanos()}

	select {
	case update := <-stage.Updates():
		if len(update.NewlyConfirmed) != 1 {
			t.Fatalf("expected one confirmed word at AgreementThreshold=1, got %+v", update.NewlyConfirmed)
		}
		if update.NewlyConfirmed[0].SourceHypothesisID == "" {
			t.Error("expected SourceHypothesisID to round-trip onto the confirmed word, got empty string")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a caption update")
	}

	history := stage.HypothesisHistory()
	if len(history) != 1 {
		t.Fatalf("expected a 1-entry hypothesis history, got %d", len(history))
	}
	if history[0].Words[0].SourceHypothesisID != history[0].ID {
		t.Errorf("expected the hypothesis's own words to carry its id, got word id %q vs hypothesis id %q",
			history[0].Words[0].SourceHypothesisID, history[0].ID)
	}

	close(in)
	cancel()
	<-done
}

func TestFlatten(t *testing.T) {
	got := flatten([]WordCandidate{{Text: "hello"}, {Text: "world"}})
	if got != "hello world" {
		t.Errorf("expected 'hello world', got %q", got)
	}
}

func TestCountRetractionsEmptyPrevIsZero(t *testing.T) {
	if got := countRetractions("", "hello world"); got != 0 {
		t.Errorf("expected 0 retractions against an empty previous, got %d", got)
	}
}

func TestCountRetractionsDetectsShrinkingHypothesis(t *testing.T) {
	got := countRetractions("hello world foo", "hello world")
	if got != 1 {
		t.Errorf("expected 1 retraction for a dropped trailing word, got %d", got)
	}
}

func TestCountRetractionsDetectsChangedWord(t *testing.T) {
	got := countRetractions("hello world", "hello there")
	if got != 1 {
		t.Errorf("expected 1 retraction for a changed word, got %d", got)
	}
}
