// Package dataplane implements the real-time translation dataplane: chunked
// streaming speech recognition with LocalAgreement-2 stabilization,
// incremental machine translation with a rolling context buffer, and
// streaming speech synthesis, joined by bounded channels per session and
// per target language.
package dataplane

import (
	"context"

	"github.com/google/uuid"
)

// Logger is the minimal structured-logging surface used throughout the
// dataplane. A NoOpLogger is the default so callers never need a real
// logging backend to exercise the pipeline.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// Language is an open string type (BCP-47-ish source/target language code)
// rather than a closed enum, since target_languages is a configured set.
type Language string

// SessionState is the lifecycle of a Session.
type SessionState string

const (
	SessionCreated  SessionState = "created"
	SessionActive   SessionState = "active"
	SessionDraining SessionState = "draining"
	SessionClosed   SessionState = "closed"
)

// AudioFrame is a contiguous block of mono f32 PCM samples, produced by the
// AudioFramer. Immutable after production; ownership transfers into
// whichever channel carries it.
type AudioFrame struct {
	Samples    []float32
	SampleRate int
	CaptureTS  int64 // monotonic capture timestamp, nanoseconds
	Seq        uint64
	HasSpeech  bool
	VADConf    float64
}

// WordCandidate is produced by an STT hypothesis and consumed by the
// LocalAgreement-2 stabilizer.
type WordCandidate struct {
	Text               string
	Confidence         float64
	StartTime          int64
	EndTime            int64
	Position           int
	SourceHypothesisID string
}

// StableWord is a WordCandidate confirmed by LocalAgreement-2.
type StableWord struct {
	WordCandidate
	AgreementCount int
	FirstSeenAt    int64
	ConfirmedAt    int64
}

// CaptionUpdate is the STTStage's output event.
type CaptionUpdate struct {
	SessionID            string
	InterimWords         []WordCandidate
	NewlyConfirmed       []StableWord
	HasNewConfirmations  bool
	SourceLangDetected   Language
	PerWordConfidences   []float64
	PerWordTimestamps    []int64
	Seq                  uint64
	IsPartial            bool
	Text                 string // flattened interim+confirmed text, for the MT controller
}

// Caption is the ordered, per-session view of confirmed + interim words.
// Invariant: ConfirmedPrefix is append-only; InterimTail may be rewritten.
type Caption struct {
	SessionID       string
	ConfirmedPrefix []StableWord
	InterimTail     []WordCandidate
}

// TranslationRequest is MTStage's input.
type TranslationRequest struct {
	Text            string
	SourceLang      Language
	TargetLang      Language
	ContextSnapshot string
	IsPartial       bool
	SequenceID      uint64
	SessionID       string
}

// TranslationResult is MTStage's output.
type TranslationResult struct {
	TranslatedText      string
	Confidence          float64
	ConfidenceBreakdown map[string]float64
	ModelID             string
	UsedContext         bool
	LatencyMS           float64
	GlossaryApplied     []string
	// LowConfidenceExtraction is set when the new-sentence extraction
	// heuristic fell back to the proportional-length substring rather than
	// splitting on terminal punctuation.
	LowConfidenceExtraction bool
	SequenceID              uint64
}

// AudioChunk is a unit of TTS output.
type AudioChunk struct {
	Samples      []float32
	SampleRate   int
	Seq          uint64
	IsFinal      bool
	TTFTHint     bool
	IsFirstAudio bool
}

// EventType enumerates the dataplane events a session emits to observers
// (tests, CLI, metrics).
type EventType string

const (
	EventCaptionUpdate  EventType = "CAPTION_UPDATE"
	EventTranslation    EventType = "TRANSLATION"
	EventAudioChunk     EventType = "AUDIO_CHUNK"
	EventStageError     EventType = "STAGE_ERROR"
	EventSessionClosed  EventType = "SESSION_CLOSED"
)

// DataplaneEvent is a session-scoped, typed event.
type DataplaneEvent struct {
	Type      EventType
	SessionID string
	Data      interface{}
}

// STTProvider is the behavioral contract for a speech recognizer: given a
// window of recent audio, produce the current best hypothesis as ordered
// word candidates. Model loading/GPU/quantization are implementation
// concerns of the provider, not of this interface.
type STTProvider interface {
	Recognize(ctx context.Context, frames []AudioFrame, lang Language) ([]WordCandidate, error)
	Name() string
}

// StreamingSTTProvider additionally supports push-based streaming,
// delivering successive hypotheses via callback as audio arrives.
type StreamingSTTProvider interface {
	STTProvider
	StreamRecognize(ctx context.Context, lang Language, onHypothesis func(words []WordCandidate, isFinal bool) error) (chan<- AudioFrame, error)
}

// MTProvider is the behavioral contract for incremental machine
// translation.
type MTProvider interface {
	Translate(ctx context.Context, req TranslationRequest) (TranslationResult, error)
	Name() string
}

// TTSProvider is the behavioral contract for streaming speech synthesis.
type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice string, lang Language) ([]AudioChunk, error)
	StreamSynthesize(ctx context.Context, text string, voice string, lang Language, onChunk func(AudioChunk) error) error
	// Abort cancels any in-flight synthesis as fast as possible; used by
	// the cooperative-cancellation protocol and by barge-in.
	Abort() error
	Name() string
}

// VADProvider is the behavioral contract for voice activity detection.
type VADProvider interface {
	Process(samples []float32) (hasSpeech bool, confidence float64, err error)
	Reset()
	Clone() VADProvider
	Name() string
}

// newID returns a fresh random identifier, used for session IDs,
// hypothesis IDs, and anywhere else an opaque id is needed.
func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
