package dataplane

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pemistahl/lingua-go"
)

// STTStage is the actor that turns a session's AudioFrame stream into
// CaptionUpdates: it maintains a rolling window of recent speech frames,
// runs the configured recognizer on that window at each tick, and feeds
// every resulting hypothesis through a Stabilizer for LocalAgreement-2
// confirmation. Modeled on a ManagedStream-style actor loop — a
// single-goroutine-per-session consumer with cooperative cancellation and
// a non-blocking output channel — generalized from one-shot batch
// transcription into a continuous tick-per-window loop.
type STTStage struct {
	cfg       Config
	sessionID string
	provider  STTProvider
	stab      *Stabilizer
	logger    Logger
	sink      *MetricsSink
	detector  lingua.LanguageDetector

	in  <-chan AudioFrame
	out chan CaptionUpdate

	mu         sync.Mutex
	window     []AudioFrame
	seq        uint64
	textPrev   string
	closeOnce  sync.Once
}

// NewSTTStage wires a stage reading from in and writing to a channel sized
// per cfg.CaptionChannelCapacity. langs is the candidate set the bundled
// language detector scores against — the session's source language plus
// anything else worth distinguishing; a nil/empty set disables detection
// and CaptionUpdate.SourceLangDetected is left as cfg.SourceLanguage.
func NewSTTStage(cfg Config, sessionID string, provider STTProvider, in <-chan AudioFrame, logger Logger, sink *MetricsSink, langs []Language) *STTStage {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	s := &STTStage{
		cfg:       cfg,
		sessionID: sessionID,
		provider:  provider,
		stab:      NewStabilizer(cfg),
		logger:    logger,
		sink:      sink,
		in:        in,
		out:       make(chan CaptionUpdate, cfg.CaptionChannelCapacity),
	}
	if len(langs) > 0 {
		s.detector = buildDetector(langs)
	}
	return s
}

func buildDetector(langs []Language) lingua.LanguageDetector {
	var known []lingua.Language
	for _, l := range langs {
		if lg, ok := linguaLanguage(l); ok {
			known = append(known, lg)
		}
	}
	if len(known) < 2 {
		// lingua requires at least two candidate languages to build a
		// detector; fall back to the full catalog rather than fail.
		return lingua.NewLanguageDetectorBuilder().FromAllLanguages().Build()
	}
	return lingua.NewLanguageDetectorBuilder().FromLanguages(known...).Build()
}

// linguaLanguage maps a BCP-47-ish code onto lingua's enum for the small
// set of languages this dataplane is expected to route between; unknown
// codes are skipped rather than erroring, so detection degrades
// gracefully rather than failing the session.
func linguaLanguage(l Language) (lingua.Language, bool) {
	switch strings.ToLower(string(l)) {
	case "en":
		return lingua.English, true
	case "es":
		return lingua.Spanish, true
	case "fr":
		return lingua.French, true
	case "de":
		return lingua.German, true
	case "it":
		return lingua.Italian, true
	case "pt":
		return lingua.Portuguese, true
	case "zh":
		return lingua.Chinese, true
	case "ja":
		return lingua.Japanese, true
	case "ko":
		return lingua.Korean, true
	case "ru":
		return lingua.Russian, true
	case "ar":
		return lingua.Arabic, true
	default:
		return 0, false
	}
}

// Updates returns the stage's output channel.
func (s *STTStage) Updates() <-chan CaptionUpdate {
	return s.out
}

// HypothesisHistory returns a bounded, read-only snapshot of the last W
// hypotheses considered by the stabilizer, for observability. It does not
// affect confirmation semantics.
func (s *STTStage) HypothesisHistory() []Hypothesis {
	return s.stab.WindowSnapshot()
}

// Run drives the actor loop until ctx is cancelled or the input channel
// closes, then finalizes the stabilizer and exits. Intended to be launched
// under an errgroup alongside the other stages of a session's pipeline.
func (s *STTStage) Run(ctx context.Context) error {
	defer s.closeOnce.Do(func() { close(s.out) })

	for {
		select {
		case frame, ok := <-s.in:
			if !ok {
				s.finalize(ctx)
				return nil
			}
			s.ingest(ctx, frame)
		case <-ctx.Done():
			s.drainDeadline()
			s.finalize(ctx)
			return nil
		}
	}
}

// drainDeadline absorbs any frames already queued on s.in, up to
// cfg.CancellationDrainMS, before finalizing — the cancellation
// protocol's "drain, then exit" step.
func (s *STTStage) drainDeadline() {
	deadline := time.After(time.Duration(s.cfg.CancellationDrainMS) * time.Millisecond)
	for {
		select {
		case frame, ok := <-s.in:
			if !ok {
				return
			}
			s.ingest(context.Background(), frame)
		case <-deadline:
			return
		}
	}
}

func (s *STTStage) ingest(ctx context.Context, frame AudioFrame) {
	ageMS := (nowNanos() - frame.CaptureTS) / int64(time.Millisecond)
	if ageMS > int64(s.cfg.MaxFrameAge) {
		if s.sink != nil {
			s.sink.IncFramesExpired()
		}
		return
	}

	s.mu.Lock()
	s.window = append(s.window, frame)
	maxWindow := s.cfg.StabilityWindow * 4 // a few hypotheses' worth of frames
	if maxWindow > 0 && len(s.window) > maxWindow {
		s.window = s.window[len(s.window)-maxWindow:]
	}
	windowCopy := append([]AudioFrame(nil), s.window...)
	s.mu.Unlock()

	if !frame.HasSpeech {
		return
	}

	frameDuration := time.Duration(s.cfg.ChunkMS) * time.Millisecond
	recCtx, cancel := context.WithTimeout(ctx, 2*frameDuration)
	words, err := s.provider.Recognize(recCtx, windowCopy, s.cfg.SourceLanguage)
	cancel()
	if err != nil {
		s.logger.Warn("stt recognize failed, skipping frame", "session", s.sessionID, "error", err)
		if s.sink != nil {
			s.sink.IncStageErrors("stt")
		}
		return
	}

	s.emitUpdate(words, false)
}

// finalize re-runs the stabilizer at the relaxed threshold to flush
// trailing best-guess words on end-of-speech.
func (s *STTStage) finalize(_ context.Context) {
	confirmed := s.stab.Finalize()
	if len(confirmed) == 0 {
		return
	}
	s.publish(CaptionUpdate{
		SessionID:           s.sessionID,
		NewlyConfirmed:      confirmed,
		HasNewConfirmations: true,
		SourceLangDetected:  s.cfg.SourceLanguage,
		Seq:                 s.nextSeq(),
		IsPartial:           false,
	})
}

func (s *STTStage) emitUpdate(words []WordCandidate, isFinal bool) {
	hypID := newID("hyp")
	for i := range words {
		words[i].SourceHypothesisID = hypID
	}
	confirmed := s.stab.AddHypothesis(hypID, words)
	interim := s.stab.InterimTail(words)

	text := flatten(words)
	lang := s.detectLang(text)

	confs := make([]float64, len(words))
	timestamps := make([]int64, len(words))
	for i, w := range words {
		confs[i] = w.Confidence
		timestamps[i] = w.StartTime
	}

	s.mu.Lock()
	retracted := int64(countRetractions(s.textPrev, text))
	s.textPrev = text
	s.mu.Unlock()

	if retracted > 0 && s.sink != nil {
		s.sink.IncWordsRetracted(context.Background(), s.sessionID, retracted)
	}
	if len(confirmed) > 0 && s.sink != nil {
		s.sink.IncWordsConfirmed(context.Background(), s.sessionID, int64(len(confirmed)))
	}

	s.publish(CaptionUpdate{
		SessionID:           s.sessionID,
		InterimWords:        interim,
		NewlyConfirmed:      confirmed,
		HasNewConfirmations: len(confirmed) > 0,
		SourceLangDetected:  lang,
		PerWordConfidences:  confs,
		PerWordTimestamps:   timestamps,
		Seq:                 s.nextSeq(),
		IsPartial:           !isFinal,
		Text:                text,
	})
}

func (s *STTStage) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *STTStage) detectLang(text string) Language {
	if s.detector == nil || strings.TrimSpace(text) == "" {
		return s.cfg.SourceLanguage
	}
	lg, ok := s.detector.DetectLanguageOf(text)
	if !ok {
		return s.cfg.SourceLanguage
	}
	return Language(strings.ToLower(lg.IsoCode639_1().String()))
}

func (s *STTStage) publish(update CaptionUpdate) {
	select {
	case s.out <- update:
	default:
		// CaptionUpdate channel full: drop the oldest queued update to make
		// room, matching AudioFramer.emit's non-suspending drop policy.
		select {
		case <-s.out:
		default:
		}
		select {
		case s.out <- update:
		default:
		}
		if s.sink != nil {
			s.sink.IncBackpressureDrops("stt")
		}
	}
}

// flatten renders a word list as a single space-joined string, the form the
// MT incremental controller compares against text_prev.
func flatten(words []WordCandidate) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

// countRetractions counts position-wise differences between two
// consecutive flattened interim strings, including words that disappear
// when the new list is shorter than the old one, so a shrinking
// hypothesis is counted as retractions rather than silently ignored.
func countRetractions(prev, now string) int {
	if prev == "" {
		return 0
	}
	prevWords := strings.Fields(prev)
	nowWords := strings.Fields(now)

	n := len(prevWords)
	if len(nowWords) > n {
		n = len(nowWords)
	}

	count := 0
	for i := 0; i < n; i++ {
		var p, c string
		if i < len(prevWords) {
			p = normalizeWord(prevWords[i])
		}
		if i < len(nowWords) {
			c = normalizeWord(nowWords[i])
		}
		if p != c {
			count++
		}
	}
	return count
}
