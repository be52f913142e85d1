package dataplane

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config is the strongly-typed configuration record for a Session's
// pipeline. Every recognized option is a validated field with an explicit
// default, rather than a loosely-typed dictionary.
type Config struct {
	// Audio / framing.
	SampleRate int `validate:"required,gt=0"`
	ChunkMS    int `validate:"required,gt=0"`
	OverlapMS  int `validate:"gte=0"`

	// STT / stabilization.
	STTModel            string
	AgreementThreshold  int     `validate:"required,gte=1"` // K
	StabilityWindow     int     `validate:"required,gte=1"` // W
	ConfidenceThreshold float64 `validate:"gte=0,lte=1"`
	MaxPositionDrift    int     `validate:"gte=0"`
	MaxFrameAge         int     `validate:"gt=0"` // ms

	// MT.
	MTContextMaxSentences  int `validate:"required,gte=1"`
	MTContextMaxTokens     int `validate:"required,gte=1"`
	MTPartialMinIntervalMS int `validate:"gte=0"`
	MTRequestTimeoutMS     int `validate:"gt=0"`

	// TTS.
	TTSChunkMS          int               `validate:"required,gt=0"`
	VoicePresets        map[Language]string
	TTSFirstChunkTimeMS int `validate:"gt=0"`

	// Target languages this session fans out to.
	TargetLanguages []Language `validate:"required,min=1"`
	SourceLanguage  Language   `validate:"required"`

	// Concurrency / backpressure.
	FrameChannelCapacity     int `validate:"required,gt=0"`
	CaptionChannelCapacity   int `validate:"required,gt=0"`
	TranslationChannelCap    int `validate:"required,gt=0"`
	BackpressureDeadlineMS   int `validate:"gt=0"`
	CancellationDrainMS      int `validate:"gt=0"`
	FramerMaxLagFrames       int `validate:"required,gt=0"`

	// Error-window policy.
	ErrorWindow int `validate:"gt=0"`
}

// DefaultConfig returns the dataplane's documented defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:              16000,
		ChunkMS:                 250,
		OverlapMS:               50,
		STTModel:                "",
		AgreementThreshold:      2,
		StabilityWindow:         3,
		ConfidenceThreshold:     0.7,
		MaxPositionDrift:        2,
		MaxFrameAge:             5000,
		MTContextMaxSentences:   3,
		MTContextMaxTokens:      512,
		MTPartialMinIntervalMS:  500,
		MTRequestTimeoutMS:      15000,
		TTSChunkMS:              100,
		VoicePresets:            map[Language]string{},
		TTSFirstChunkTimeMS:     5000,
		TargetLanguages:         nil,
		SourceLanguage:          "en",
		FrameChannelCapacity:    32,
		CaptionChannelCapacity:  64,
		TranslationChannelCap:   16,
		BackpressureDeadlineMS:  250,
		CancellationDrainMS:     500,
		FramerMaxLagFrames:      32,
		ErrorWindow:             5,
	}
}

var validate = validator.New()

// Validate checks the config against its struct tags and a couple of
// cross-field invariants the tags can't express (the overlap must be
// strictly smaller than the chunk, mirroring the AudioFramer's
// step_samples = chunk_samples - overlap_samples).
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.OverlapMS >= c.ChunkMS {
		return fmt.Errorf("invalid config: overlap_ms (%d) must be less than chunk_ms (%d)", c.OverlapMS, c.ChunkMS)
	}
	if len(c.TargetLanguages) == 0 {
		return fmt.Errorf("invalid config: target_languages must be non-empty")
	}
	return nil
}

// ChunkSamples returns chunk_samples = chunk_ms * sample_rate / 1000.
func (c Config) ChunkSamples() int {
	return c.ChunkMS * c.SampleRate / 1000
}

// OverlapSamples returns overlap_samples = overlap_ms * sample_rate / 1000.
func (c Config) OverlapSamples() int {
	return c.OverlapMS * c.SampleRate / 1000
}

// StepSamples returns step_samples = chunk_samples - overlap_samples.
func (c Config) StepSamples() int {
	return c.ChunkSamples() - c.OverlapSamples()
}
