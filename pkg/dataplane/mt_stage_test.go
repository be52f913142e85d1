package dataplane

import (
	"context"
	"testing"
	"time"
)

type fakeMTProvider struct {
	name        string
	translateFn func(ctx context.Context, req TranslationRequest) (TranslationResult, error)
	calls       int
}

func (f *fakeMTProvider) Name() string { return f.name }

func (f *fakeMTProvider) Translate(ctx context.Context, req TranslationRequest) (TranslationResult, error) {
	f.calls++
	if f.translateFn != nil {
		return f.translateFn(ctx, req)
	}
	return TranslationResult{TranslatedText: "hola", ModelID: f.name, SequenceID: req.SequenceID}, nil
}

func mtStageCfg() Config {
	cfg := DefaultConfig()
	cfg.TargetLanguages = []Language{"es"}
	cfg.MTPartialMinIntervalMS = 1000
	cfg.MTRequestTimeoutMS = 5000
	return cfg
}

func TestMTStageTranslatesFirstPartial(t *testing.T) {
	provider := &fakeMTProvider{name: "fake-mt"}
	in := make(chan CaptionUpdate, 1)
	ctxBuf := NewContextBuffer(mtStageCfg())
	stage := NewMTStage(mtStageCfg(), "sess1", "es", provider, ctxBuf, nil, in, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stage.Run(ctx) }()

	in <- CaptionUpdate{Text: "hello", IsPartial: true, Seq: 1}

	select {
	case result := <-stage.Results():
		if result.TranslatedText != "hola" {
			t.Errorf("expected 'hola', got %q", result.TranslatedText)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for translation result")
	}

	close(in)
	cancel()
	<-done
}

func TestMTStageSkipsRepeatedPartialWithinInterval(t *testing.T) {
	provider := &fakeMTProvider{name: "fake-mt"}
	in := make(chan CaptionUpdate, 2)
	ctxBuf := NewContextBuffer(mtStageCfg())
	stage := NewMTStage(mtStageCfg(), "sess1", "es", provider, ctxBuf, nil, in, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stage.Run(ctx) }()

	in <- CaptionUpdate{Text: "hello", IsPartial: true, Seq: 1}
	<-stage.Results()

	// A shorter/equal, still-prefix partial arriving immediately after
	// should reuse the cached translation rather than call the provider
	// again, since elapsed time is well under MTPartialMinIntervalMS.
	in <- CaptionUpdate{Text: "hello", IsPartial: true, Seq: 2}
	<-stage.Results()

	close(in)
	cancel()
	<-done

	if provider.calls != 1 {
		t.Errorf("expected exactly 1 provider call, got %d", provider.calls)
	}
}

func TestMTStageAlwaysTranslatesOnConfirmation(t *testing.T) {
	provider := &fakeMTProvider{name: "fake-mt"}
	in := make(chan CaptionUpdate, 2)
	ctxBuf := NewContextBuffer(mtStageCfg())
	stage := NewMTStage(mtStageCfg(), "sess1", "es", provider, ctxBuf, nil, in, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stage.Run(ctx) }()

	in <- CaptionUpdate{Text: "hello", IsPartial: true, Seq: 1}
	<-stage.Results()
	in <- CaptionUpdate{Text: "hello", IsPartial: false, HasNewConfirmations: true, Seq: 2}
	<-stage.Results()

	close(in)
	cancel()
	<-done

	if provider.calls != 2 {
		t.Errorf("expected a confirmation boundary to force a second call, got %d calls", provider.calls)
	}
}

func TestMTStageProviderErrorYieldsPlaceholder(t *testing.T) {
	provider := &fakeMTProvider{
		name: "fake-mt",
		translateFn: func(ctx context.Context, req TranslationRequest) (TranslationResult, error) {
			return TranslationResult{}, ErrTranslationFailed
		},
	}
	in := make(chan CaptionUpdate, 1)
	ctxBuf := NewContextBuffer(mtStageCfg())
	stage := NewMTStage(mtStageCfg(), "sess1", "es", provider, ctxBuf, nil, in, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stage.Run(ctx) }()

	in <- CaptionUpdate{Text: "hello", IsPartial: true, Seq: 1}
	result := <-stage.Results()
	if result.TranslatedText != "[Translation Error]" {
		t.Errorf("expected translation-error placeholder, got %q", result.TranslatedText)
	}
	if result.Confidence != 0 {
		t.Errorf("expected zero confidence on provider error, got %f", result.Confidence)
	}

	close(in)
	cancel()
	<-done
}

func TestApplyGlossarySubstitutesWholeWords(t *testing.T) {
	glossary := map[string]string{"api": "interface"}
	out, applied := applyGlossary("the API is great", glossary)
	if out != "the interface is great" {
		t.Errorf("unexpected substitution: %q", out)
	}
	if len(applied) != 1 || applied[0] != "api" {
		t.Errorf("expected 'api' recorded as applied, got %+v", applied)
	}
}

func TestApplyGlossaryNoMatchLeavesTextUnchanged(t *testing.T) {
	out, applied := applyGlossary("hello world", map[string]string{"api": "interface"})
	if out != "hello world" || len(applied) != 0 {
		t.Errorf("expected no substitution, got %q applied=%+v", out, applied)
	}
}

func TestExtractNewTranslationPrefersSentenceSplit(t *testing.T) {
	extracted, low := extractNewTranslation("Hola. Como estas?", "Hola.", "Como estas?")
	if low {
		t.Error("expected sentence-terminator split to be high confidence")
	}
	if extracted != "Como estas" {
		t.Errorf("unexpected extraction: %q", extracted)
	}
}

func TestCompositeConfidenceWithinBounds(t *testing.T) {
	score, breakdown := compositeConfidence("hello world", "hola mundo", "es", true)
	if score < 0.1 || score > 1.0 {
		t.Errorf("expected score within [0.1, 1.0], got %f", score)
	}
	if len(breakdown) != 4 {
		t.Errorf("expected 4 scoring factors, got %d", len(breakdown))
	}
}

func TestGlossaryTrimsEmptyKeys(t *testing.T) {
	g := Glossary(map[string]string{"": "x", "hi": "bonjour"})
	if _, ok := g[""]; ok {
		t.Error("expected empty source keys to be dropped")
	}
	if g["hi"] != "bonjour" {
		t.Error("expected non-empty keys to survive")
	}
}
