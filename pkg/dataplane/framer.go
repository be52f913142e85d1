package dataplane

import (
	"math"
	"sync"
)

// targetDBFS is the RMS normalization target: -20 dBFS.
const targetDBFS = -20.0

// AudioFramer resamples, chunks, overlaps, and VAD-gates a lazy, unbounded
// stream of raw audio samples into fixed-size AudioFrames. Mirrors a
// rolling `audioBuf *bytes.Buffer`-style management scheme, generalized
// into its own actor with a bounded output channel instead of a
// mutex-guarded buffer a caller drains synchronously.
type AudioFramer struct {
	mu  sync.Mutex
	cfg Config

	vad    VADProvider
	out    chan AudioFrame
	ring   []float32
	seq    uint64
	logger Logger
	sink   *MetricsSink

	framesDropped uint64
}

// NewAudioFramer constructs a framer. vad may be nil, in which case an
// EnergyFallbackVAD is used as a degraded-mode default.
func NewAudioFramer(cfg Config, vad VADProvider, logger Logger, sink *MetricsSink) *AudioFramer {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if vad == nil {
		vad = NewEnergyFallbackVAD(0.02)
	}
	return &AudioFramer{
		cfg:    cfg,
		vad:    vad,
		out:    make(chan AudioFrame, cfg.FramerMaxLagFrames),
		logger: logger,
		sink:   sink,
	}
}

// Frames returns the framer's output channel.
func (f *AudioFramer) Frames() <-chan AudioFrame {
	return f.out
}

// Push appends samples (at sourceSampleRate) to the internal ring buffer,
// resampling and RMS-normalizing first, and emits as many complete frames
// as the buffer now contains. Returns ErrBufferOverflow (non-fatal,
// advisory) if the consumer was far enough behind that the eldest
// undelivered frame had to be dropped.
func (f *AudioFramer) Push(samples []float32, sourceSampleRate int) error {
	if len(samples) == 0 {
		return nil
	}

	normalized := f.resample(samples, sourceSampleRate)
	normalized = rmsNormalize(normalized, targetDBFS)

	f.mu.Lock()
	f.ring = append(f.ring, normalized...)
	chunkSamples := f.cfg.ChunkSamples()
	step := f.cfg.StepSamples()
	if step <= 0 {
		step = chunkSamples
	}

	var overflowErr error
	for len(f.ring) >= chunkSamples {
		frame := make([]float32, chunkSamples)
		copy(frame, f.ring[:chunkSamples])
		f.ring = f.ring[step:]

		af := f.buildFrame(frame)
		if err := f.emit(af); err != nil {
			overflowErr = err
		}
	}
	f.mu.Unlock()

	return overflowErr
}

// Drain emits a final, possibly short frame containing whatever remains
// in the ring buffer at stream end. A no-op if the ring buffer is empty,
// so finalizing an already-drained framer is idempotent.
func (f *AudioFramer) Drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ring) == 0 {
		return nil
	}
	frame := make([]float32, len(f.ring))
	copy(frame, f.ring)
	f.ring = nil
	af := f.buildFrame(frame)
	return f.emit(af)
}

// Close signals no further frames will be produced.
func (f *AudioFramer) Close() {
	close(f.out)
}

func (f *AudioFramer) buildFrame(samples []float32) AudioFrame {
	f.seq++
	hasSpeech, conf, err := f.vad.Process(samples)
	if err != nil {
		// VAD errors degrade to the energy-threshold fallback and continue.
		f.logger.Warn("vad error, falling back to energy threshold", "error", err)
		fallback := NewEnergyFallbackVAD(0.02)
		hasSpeech, conf, _ = fallback.Process(samples)
	}
	return AudioFrame{
		Samples:    samples,
		SampleRate: f.cfg.SampleRate,
		CaptureTS:  nowNanos(),
		Seq:        f.seq,
		HasSpeech:  hasSpeech,
		VADConf:    conf,
	}
}

// emit unconditionally delivers af downstream. When the consumer is more
// than FramerMaxLagFrames behind, the eldest undelivered frame is dropped
// to make room instead of blocking the producer.
func (f *AudioFramer) emit(af AudioFrame) error {
	select {
	case f.out <- af:
		return nil
	default:
	}

	// Channel full: drop the eldest undelivered frame, then enqueue the
	// new one. Non-blocking on both ends since this runs under f.mu and
	// must never suspend.
	select {
	case <-f.out:
	default:
	}
	f.framesDropped++
	if f.sink != nil {
		f.sink.IncFramesDropped()
	}
	select {
	case f.out <- af:
	default:
		// Extremely unlikely race (another producer refilled the slot);
		// count it as dropped rather than block.
		f.framesDropped++
		if f.sink != nil {
			f.sink.IncFramesDropped()
		}
	}
	return ErrBufferOverflow
}

// resample linearly interpolates samples from sourceRate to f.cfg.SampleRate.
// No third-party DSP/resampling library exists anywhere in the retrieval
// pack, so this is hand-rolled (see DESIGN.md) — linear interpolation is
// adequate for the framer's purpose (coarse rate matching ahead of a
// downstream STT model that itself is mocked/abstracted by STTProvider).
func (f *AudioFramer) resample(samples []float32, sourceRate int) []float32 {
	if sourceRate <= 0 || sourceRate == f.cfg.SampleRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(f.cfg.SampleRate) / float64(sourceRate)
	outLen := int(float64(len(samples)) * ratio)
	if outLen <= 0 {
		return nil
	}
	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		if i0 >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := srcPos - float64(i0)
		out[i] = float32((1-frac)*float64(samples[i0]) + frac*float64(samples[i0+1]))
	}
	return out
}

// rmsNormalize scales samples so their RMS matches targetDBFS, clipping
// to [-1, 1] to prevent overflow. Resampling errors are treated as
// silence rather than propagated — represented here by the caller
// passing already-silent samples on error, since decoding happens
// upstream of the framer.
func rmsNormalize(samples []float32, targetDBFS float64) []float32 {
	if len(samples) == 0 {
		return samples
	}
	rms := calculateRMSFloat(samples)
	if rms == 0 {
		return samples
	}
	targetRMS := math.Pow(10, targetDBFS/20)
	gain := targetRMS / rms

	out := make([]float32, len(samples))
	for i, s := range samples {
		v := float64(s) * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = float32(v)
	}
	return out
}
