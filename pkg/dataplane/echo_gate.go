package dataplane

import (
	"math"
	"sync"
	"time"
)

// EchoGate suppresses self-echo on a duplex audio device: when a caption
// pipeline's TTS output is being played out of the same device that's
// capturing the microphone, the capture stream picks the playback right back
// up. EchoGate keeps a rolling buffer of recently-played samples and flags
// incoming capture frames that correlate highly against it, so the caller can
// drop them before they reach AudioFramer/VAD instead of having the pipeline
// "hear" and re-translate its own voice.
//
// Grounded on pkg/orchestrator/echo_suppression.go's correlation-based
// detector, ported from int16-PCM-over-bytes.Buffer to the float32 samples
// the dataplane already carries between stages, and trimmed to the
// detect-only half of that file (PostProcess/RemoveEchoRealtime's offline
// frame-muting variants have no caller in this package — cmd/dataplane drops
// the whole capture frame on a positive match instead of trying to subtract).
type EchoGate struct {
	mu             sync.Mutex
	played         []float32
	maxBufSamples  int
	threshold      float64
	silenceWindow  time.Duration
	lastPlayedTime time.Time
	enabled        bool
}

// NewEchoGate builds a gate that remembers up to bufSeconds of played audio
// at sampleRate and flags capture frames correlating above threshold
// (0..1) with it. A gate is a no-op once more than silenceWindow has passed
// since the last RecordPlayed call — there's nothing left to echo.
func NewEchoGate(sampleRate int, bufSeconds float64, threshold float64, silenceWindow time.Duration) *EchoGate {
	return &EchoGate{
		maxBufSamples: int(float64(sampleRate) * bufSeconds),
		threshold:     threshold,
		silenceWindow: silenceWindow,
		enabled:       true,
	}
}

// RecordPlayed appends samples about to be (or just) written to the output
// device to the reference buffer, trimming from the front once it grows
// past maxBufSamples.
func (g *EchoGate) RecordPlayed(samples []float32) {
	if !g.enabled || len(samples) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.played = append(g.played, samples...)
	if over := len(g.played) - g.maxBufSamples; over > 0 {
		g.played = g.played[over:]
	}
	g.lastPlayedTime = time.Now()
}

// IsEcho reports whether input correlates strongly enough with recently
// played audio to be classified as the device's own output leaking back into
// the microphone.
func (g *EchoGate) IsEcho(input []float32) bool {
	if !g.enabled || len(input) == 0 {
		return false
	}

	g.mu.Lock()
	if time.Since(g.lastPlayedTime) > g.silenceWindow {
		g.mu.Unlock()
		return false
	}
	ref := make([]float32, len(g.played))
	copy(ref, g.played)
	threshold := g.threshold
	g.mu.Unlock()

	if len(ref) == 0 {
		return false
	}

	compareLen := len(input)
	if compareLen > len(ref) {
		compareLen = len(ref)
	}
	in := input[len(input)-compareLen:]
	refTail := ref[len(ref)-compareLen:]

	return correlation(in, refTail) >= threshold
}

// Reset clears the played-audio reference, e.g. when TTS playback is
// interrupted and whatever was queued will never actually reach the speaker.
func (g *EchoGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.played = g.played[:0]
}

// correlation computes the normalized cross-correlation of two equal-length
// float32 signals, clamped to [0, 1].
func correlation(a, b []float32) float64 {
	n := len(a)
	if n == 0 || len(b) != n {
		return 0
	}

	var dot, energyA, energyB float64
	for i := 0; i < n; i++ {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		energyA += av * av
		energyB += bv * bv
	}
	if energyA == 0 || energyB == 0 {
		return 0
	}

	corr := dot / math.Sqrt(energyA*energyB)
	if corr < 0 {
		return 0
	}
	if corr > 1 {
		return 1
	}
	return corr
}
