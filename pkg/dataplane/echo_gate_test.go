package dataplane

import (
	"math"
	"testing"
	"time"
)

func tone(n int, freq, sampleRate float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / sampleRate))
	}
	return out
}

func TestEchoGateDetectsPlayedTone(t *testing.T) {
	gate := NewEchoGate(16000, 1.0, 0.5, 1200*time.Millisecond)
	signal := tone(400, 440, 16000)

	if gate.IsEcho(signal) {
		t.Fatal("expected no echo before anything has been played")
	}

	gate.RecordPlayed(signal)
	if !gate.IsEcho(signal) {
		t.Fatal("expected the just-played signal to be classified as echo")
	}
}

func TestEchoGateIgnoresAfterSilenceWindow(t *testing.T) {
	gate := NewEchoGate(16000, 1.0, 0.5, 1*time.Millisecond)
	signal := tone(400, 440, 16000)

	gate.RecordPlayed(signal)
	time.Sleep(5 * time.Millisecond)

	if gate.IsEcho(signal) {
		t.Fatal("expected echo classification to expire after the silence window")
	}
}

func TestEchoGateResetClearsReference(t *testing.T) {
	gate := NewEchoGate(16000, 1.0, 0.5, 1200*time.Millisecond)
	signal := tone(400, 440, 16000)

	gate.RecordPlayed(signal)
	gate.Reset()

	if gate.IsEcho(signal) {
		t.Fatal("expected no echo after Reset cleared the reference buffer")
	}
}

func TestEchoGateDisabledNeverFlags(t *testing.T) {
	gate := NewEchoGate(16000, 1.0, 0.5, 1200*time.Millisecond)
	gate.enabled = false
	signal := tone(400, 440, 16000)

	gate.RecordPlayed(signal)
	if gate.IsEcho(signal) {
		t.Fatal("disabled gate must never flag echo")
	}
}
