package dataplane

import "testing"

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.TargetLanguages = []Language{"es"}
	return cfg
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config (with a target language) to validate, got: %v", err)
	}
}

func TestConfigValidateRejectsMissingTargetLanguages(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when no target languages are configured")
	}
}

func TestConfigValidateRejectsOverlapNotSmallerThanChunk(t *testing.T) {
	cfg := validConfig()
	cfg.OverlapMS = cfg.ChunkMS
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when overlap_ms >= chunk_ms")
	}
}

func TestConfigValidateRejectsZeroSampleRate(t *testing.T) {
	cfg := validConfig()
	cfg.SampleRate = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero sample rate")
	}
}

func TestConfigSampleMath(t *testing.T) {
	cfg := validConfig()
	cfg.SampleRate = 16000
	cfg.ChunkMS = 250
	cfg.OverlapMS = 50

	if got, want := cfg.ChunkSamples(), 4000; got != want {
		t.Errorf("ChunkSamples() = %d, want %d", got, want)
	}
	if got, want := cfg.OverlapSamples(), 800; got != want {
		t.Errorf("OverlapSamples() = %d, want %d", got, want)
	}
	if got, want := cfg.StepSamples(), 3200; got != want {
		t.Errorf("StepSamples() = %d, want %d", got, want)
	}
}
