package dataplane

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// TargetPipeline bundles what a Pipeline needs to stand up one target
// language's MT+TTS leg.
type TargetPipeline struct {
	Lang        Language
	MT          MTProvider
	Glossary    map[string]string
	Engines     []EngineEntry
	VoicePreset string
}

// Pipeline wires one session's AudioFramer -> STTStage -> {MTStage ->
// TTSStage}-per-target-language into a single cooperative task group, and
// fans out STTStage's CaptionUpdates to each target's MTStage. Grounded on
// a `ManagedStream`-style interrupt/close cancellation protocol,
// re-expressed with `golang.org/x/sync/errgroup` per
// `MrWong99-glyphoxa/internal/hotctx/assembler.go`'s parallel-fetch
// pattern, generalized from "fetch N things once" to "run N+2 long-lived
// actors until cancellation".
type Pipeline struct {
	cfg     Config
	session *Session
	logger  Logger
	sink    *MetricsSink

	framer *AudioFramer
	stt    *STTStage

	captionFanout map[Language]chan CaptionUpdate
	mtStages      map[Language]*MTStage
	ttsStages     map[Language]*TTSStage
	ttsIn         map[Language]chan TranslationResult

	events chan DataplaneEvent
}

// NewPipeline constructs (but does not start) a pipeline for session,
// reading audio pushed via Push and producing DataplaneEvents on Events().
func NewPipeline(cfg Config, session *Session, sttProvider STTProvider, vad VADProvider, targets []TargetPipeline, logger Logger, sink *MetricsSink) *Pipeline {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	framer := NewAudioFramer(cfg, vad, logger, sink)

	langs := make([]Language, 0, len(targets)+1)
	langs = append(langs, session.SourceLanguage())
	for _, t := range targets {
		langs = append(langs, t.Lang)
	}
	stt := NewSTTStage(cfg, session.ID(), sttProvider, framer.Frames(), logger, sink, langs)

	p := &Pipeline{
		cfg:           cfg,
		session:       session,
		logger:        logger,
		sink:          sink,
		framer:        framer,
		stt:           stt,
		captionFanout: make(map[Language]chan CaptionUpdate, len(targets)),
		mtStages:      make(map[Language]*MTStage, len(targets)),
		ttsStages:     make(map[Language]*TTSStage, len(targets)),
		ttsIn:         make(map[Language]chan TranslationResult, len(targets)),
		events:        make(chan DataplaneEvent, cfg.CaptionChannelCapacity),
	}

	for _, t := range targets {
		fanIn := make(chan CaptionUpdate, cfg.CaptionChannelCapacity)
		p.captionFanout[t.Lang] = fanIn

		ctxBuf := session.ContextBufferFor(t.Lang)
		mt := NewMTStage(cfg, session.ID(), t.Lang, t.MT, ctxBuf, t.Glossary, fanIn, logger, sink)
		p.mtStages[t.Lang] = mt

		ttsIn := make(chan TranslationResult, cfg.TranslationChannelCap)
		p.ttsIn[t.Lang] = ttsIn
		tts := NewTTSStage(cfg, session.ID(), t.Lang, t.Engines, t.VoicePreset, ttsIn, logger, sink)
		p.ttsStages[t.Lang] = tts
	}

	return p
}

// Push forwards captured audio into the framer.
func (p *Pipeline) Push(samples []float32, sourceSampleRate int) error {
	return p.framer.Push(samples, sourceSampleRate)
}

// Events returns the pipeline's fused output event stream.
func (p *Pipeline) Events() <-chan DataplaneEvent {
	return p.events
}

// Run starts every stage actor under one errgroup and blocks until they
// have all exited, which happens once ctx is cancelled (session close).
// Provider errors do not end Run: stages handle them in-band and keep
// running. Intended to be launched in its own goroutine by the caller.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	if err := p.session.Activate(cancel); err != nil {
		cancel()
		return err
	}
	defer p.session.Close()
	defer close(p.events)
	defer p.framer.Close()

	eg, egCtx := errgroup.WithContext(runCtx)

	eg.Go(func() error { return p.stt.Run(egCtx) })
	eg.Go(func() error { return p.fanoutCaptions(egCtx) })

	for lang, mt := range p.mtStages {
		lang, mt := lang, mt
		eg.Go(func() error {
			if err := mt.Run(egCtx); err != nil {
				return fmt.Errorf("mt stage %s: %w", lang, err)
			}
			return nil
		})
		eg.Go(func() error { return p.relayTranslations(egCtx, mt) })
	}
	for lang, tts := range p.ttsStages {
		lang, tts := lang, tts
		eg.Go(func() error {
			if err := tts.Run(egCtx); err != nil {
				return fmt.Errorf("tts stage %s: %w", lang, err)
			}
			return nil
		})
		eg.Go(func() error { return p.relayChunks(egCtx, tts) })
	}

	return eg.Wait()
}

// fanoutCaptions copies each CaptionUpdate from the STT stage onto every
// target language's MT input channel, non-blocking per target (a slow
// target drops the oldest queued update rather than stall the others —
// the same per-channel backpressure policy applied at the fan-out point).
// It also republishes each update as a DataplaneEvent.
func (p *Pipeline) fanoutCaptions(ctx context.Context) error {
	defer func() {
		for _, ch := range p.captionFanout {
			close(ch)
		}
	}()

	for {
		select {
		case update, ok := <-p.stt.Updates():
			if !ok {
				return nil
			}
			p.publishEvent(DataplaneEvent{Type: EventCaptionUpdate, SessionID: p.session.ID(), Data: update})
			for lang, ch := range p.captionFanout {
				select {
				case ch <- update:
				default:
					select {
					case <-ch:
					default:
					}
					select {
					case ch <- update:
					default:
					}
					if p.sink != nil {
						p.sink.IncBackpressureDrops("mt_fanout:" + string(lang))
					}
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// relayTranslations forwards each MTStage result into its TTSStage's input
// channel and republishes it as a DataplaneEvent, so callers observing
// Events() see translations even though TTSStage only needs them to
// synthesize.
func (p *Pipeline) relayTranslations(ctx context.Context, mt *MTStage) error {
	out := p.ttsIn[mt.targetLang]
	defer close(out)
	for {
		select {
		case result, ok := <-mt.Results():
			if !ok {
				return nil
			}
			p.publishEvent(DataplaneEvent{Type: EventTranslation, SessionID: p.session.ID(), Data: result})
			select {
			case out <- result:
			case <-ctx.Done():
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Pipeline) relayChunks(ctx context.Context, tts *TTSStage) error {
	for {
		select {
		case chunk, ok := <-tts.Chunks():
			if !ok {
				return nil
			}
			p.publishEvent(DataplaneEvent{Type: EventAudioChunk, SessionID: p.session.ID(), Data: chunk})
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Pipeline) publishEvent(ev DataplaneEvent) {
	select {
	case p.events <- ev:
	default:
		select {
		case <-p.events:
		default:
		}
		select {
		case p.events <- ev:
		default:
		}
	}
}
