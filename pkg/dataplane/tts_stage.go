package dataplane

import (
	"context"
	"sync"
	"time"
)

// EngineEntry describes one synthesis engine available to a TTSStage: its
// provider and an estimated time-to-first-chunk budget, used by the
// priority-order engine-selection policy.
type EngineEntry struct {
	Provider      TTSProvider
	EstimatedTTFT time.Duration
}

// TTSStage is the actor turning a target language's TranslationResults
// into streamed AudioChunks. Grounded on a `runLLMAndTTS`-style actor's
// `SynthesizeStream` callback loop, per-call cancellable context, and
// first-chunk TTFT instrumentation — generalized from "one response per
// turn" into a standing actor consuming a channel of results, with
// multi-engine selection instead of a single configured TTS provider.
type TTSStage struct {
	cfg        Config
	sessionID  string
	targetLang Language
	engines    []EngineEntry
	voicePreset string
	logger     Logger
	sink       *MetricsSink

	in  <-chan TranslationResult
	out chan AudioChunk

	mu         sync.Mutex
	ttsCancel  context.CancelFunc
	closeOnce  sync.Once
}

// NewTTSStage wires a stage reading from in and writing to a channel sized
// per cfg.TranslationChannelCap (one chunk stream outstanding at a time).
// engines must be non-empty; voicePreset, if non-empty and matched by one
// of engines' Provider.Name(), is preferred regardless of estimated TTFT.
func NewTTSStage(cfg Config, sessionID string, targetLang Language, engines []EngineEntry, voicePreset string, in <-chan TranslationResult, logger Logger, sink *MetricsSink) *TTSStage {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &TTSStage{
		cfg:         cfg,
		sessionID:   sessionID,
		targetLang:  targetLang,
		engines:     engines,
		voicePreset: voicePreset,
		logger:      logger,
		sink:        sink,
		in:          in,
		out:         make(chan AudioChunk, cfg.TranslationChannelCap),
	}
}

// Chunks returns the stage's output channel.
func (t *TTSStage) Chunks() <-chan AudioChunk {
	return t.out
}

func (t *TTSStage) Run(ctx context.Context) error {
	defer t.closeOnce.Do(func() { close(t.out) })

	for {
		select {
		case result, ok := <-t.in:
			if !ok {
				return nil
			}
			t.synthesize(ctx, result)
		case <-ctx.Done():
			t.abortActive()
			return nil
		}
	}
}

// abortActive cancels any in-flight synthesis immediately, part of the
// cooperative-cancellation protocol.
func (t *TTSStage) abortActive() {
	t.mu.Lock()
	cancel := t.ttsCancel
	t.ttsCancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, e := range t.engines {
		_ = e.Provider.Abort()
	}
}

// synthesize picks an engine, drives it, and emits AudioChunks, attributing
// TTFT to the first chunk. Engine failures degrade to a single silent,
// is_final chunk.
func (t *TTSStage) synthesize(ctx context.Context, result TranslationResult) {
	if result.Confidence <= 0 || result.TranslatedText == "[Translation Error]" {
		// Never synthesize a failed translation.
		return
	}

	engine := t.selectEngine()
	voice := t.voicePreset

	synthCtx, cancel := context.WithTimeout(ctx, time.Duration(t.cfg.TTSFirstChunkTimeMS)*time.Millisecond)
	t.mu.Lock()
	t.ttsCancel = cancel
	t.mu.Unlock()
	defer func() {
		cancel()
		t.mu.Lock()
		t.ttsCancel = nil
		t.mu.Unlock()
	}()

	start := time.Now()
	firstChunkSeen := false
	var seq uint64

	err := engine.Provider.StreamSynthesize(synthCtx, result.TranslatedText, voice, t.targetLang, func(chunk AudioChunk) error {
		seq++
		chunk.Seq = seq
		if !firstChunkSeen {
			firstChunkSeen = true
			chunk.IsFirstAudio = true
			if t.sink != nil {
				t.sink.RecordTTFT(ctx, t.sessionID, t.targetLang, float64(time.Since(start).Milliseconds()))
			}
		}
		select {
		case <-synthCtx.Done():
			return synthCtx.Err()
		default:
		}
		t.publish(chunk)
		return nil
	})

	if err != nil && synthCtx.Err() == nil {
		t.logger.Warn("tts synthesis failed, emitting silence", "session", t.sessionID, "target_lang", t.targetLang, "error", err)
		if t.sink != nil {
			t.sink.IncStageErrors("tts")
		}
		t.publish(AudioChunk{SampleRate: t.cfg.SampleRate, Seq: seq + 1, IsFinal: true})
	}
}

// selectEngine implements a priority-order engine policy: a caller voice
// preset wins if one of the configured engines matches it; otherwise the
// lowest-estimated-TTFT engine whose budget fits the remaining SLO is
// chosen.
func (t *TTSStage) selectEngine() EngineEntry {
	if t.voicePreset != "" {
		for _, e := range t.engines {
			if e.Provider.Name() == t.voicePreset {
				return e
			}
		}
	}

	budget := time.Duration(t.cfg.TTSFirstChunkTimeMS) * time.Millisecond
	best := t.engines[0]
	bestFits := false
	for _, e := range t.engines {
		fits := e.EstimatedTTFT <= budget
		if fits && (!bestFits || e.EstimatedTTFT < best.EstimatedTTFT) {
			best = e
			bestFits = true
		}
		if !bestFits && e.EstimatedTTFT < best.EstimatedTTFT {
			best = e
		}
	}
	return best
}

func (t *TTSStage) publish(chunk AudioChunk) {
	select {
	case t.out <- chunk:
	default:
		select {
		case <-t.out:
		default:
		}
		select {
		case t.out <- chunk:
		default:
		}
		if t.sink != nil {
			t.sink.IncBackpressureDrops("tts")
		}
	}
}
