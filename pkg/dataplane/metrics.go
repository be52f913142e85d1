package dataplane

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// latencyBuckets (seconds) tuned for the sub-second SLOs this dataplane
// targets: p95 TTFT <= 450ms, p95 caption latency <= 250ms. Ported from
// MrWong99-glyphoxa/internal/observe/metrics.go's bucket boundaries,
// narrowed toward this dataplane's tighter latency budget.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.15, 0.2, 0.25, 0.35, 0.45, 0.6, 1, 2, 5,
}

// InitMeterProvider wires an OTel SDK MeterProvider with a Prometheus
// exporter bridge, so MetricsSink's histograms/counters can be scraped via
// the standard /metrics endpoint. This deliberately skips tracing setup:
// distributed-tracing backends are out of scope here, while metric
// collection is not.
func InitMeterProvider() (shutdown func(context.Context) error, err error) {
	promExp, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("init prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExp))
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// MetricsSink records per-event timings, retraction counts, confidence,
// and TTFT, keyed by (stage, session, target_lang, model_id). It is
// non-blocking: percentile rings are bounded and drop the oldest sample
// (incrementing metrics_dropped) rather than block or grow unbounded.
type MetricsSink struct {
	meter metric.Meter

	ttftMS            metric.Float64Histogram
	captionLatencyMS  metric.Float64Histogram
	stageDurationMS   metric.Float64Histogram
	wordsConfirmed    metric.Int64Counter
	wordsRetracted    metric.Int64Counter
	framesDropped     metric.Int64Counter
	backpressureDrops metric.Int64Counter
	stageErrors       metric.Int64Counter
	metricsDropped    metric.Int64Counter
	framesExpired     metric.Int64Counter

	mu      sync.Mutex
	rings   map[string]*sampleRing
	ringCap int
}

// sampleRing is a bounded FIFO of recent latency samples used to compute
// percentiles without a Prometheus scrape round-trip, so latency SLO
// properties can be asserted in-process.
type sampleRing struct {
	samples []float64
	cap     int
}

func (r *sampleRing) push(v float64) (dropped bool) {
	if len(r.samples) >= r.cap {
		r.samples = r.samples[1:]
		dropped = true
	}
	r.samples = append(r.samples, v)
	return dropped
}

func (r *sampleRing) percentile(p float64) float64 {
	if len(r.samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), r.samples...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// NewMetricsSink creates a MetricsSink backed by mp. ringCap bounds the
// per-key percentile ring (0 uses a sensible default of 2048).
func NewMetricsSink(mp metric.MeterProvider, ringCap int) (*MetricsSink, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if ringCap <= 0 {
		ringCap = 2048
	}

	m := mp.Meter("github.com/lokutor-ai/interpret-dataplane")
	sink := &MetricsSink{meter: m, rings: map[string]*sampleRing{}, ringCap: ringCap}

	var err error
	if sink.ttftMS, err = m.Float64Histogram("dataplane.ttft",
		metric.WithDescription("Time-to-first-token: capture to first synthesized audio sample."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(msBuckets()...),
	); err != nil {
		return nil, err
	}
	if sink.captionLatencyMS, err = m.Float64Histogram("dataplane.caption_latency",
		metric.WithDescription("Capture to confirmed caption word emission."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(msBuckets()...),
	); err != nil {
		return nil, err
	}
	if sink.stageDurationMS, err = m.Float64Histogram("dataplane.stage_duration",
		metric.WithDescription("Per-stage processing duration."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(msBuckets()...),
	); err != nil {
		return nil, err
	}
	if sink.wordsConfirmed, err = m.Int64Counter("dataplane.words_confirmed",
		metric.WithDescription("Words confirmed by LocalAgreement-2.")); err != nil {
		return nil, err
	}
	if sink.wordsRetracted, err = m.Int64Counter("dataplane.words_retracted",
		metric.WithDescription("Interim words retracted between updates.")); err != nil {
		return nil, err
	}
	if sink.framesDropped, err = m.Int64Counter("dataplane.frames_dropped",
		metric.WithDescription("Audio frames dropped by the framer due to consumer lag.")); err != nil {
		return nil, err
	}
	if sink.backpressureDrops, err = m.Int64Counter("dataplane.backpressure_drops",
		metric.WithDescription("Items dropped from an upstream queue under sustained backpressure.")); err != nil {
		return nil, err
	}
	if sink.stageErrors, err = m.Int64Counter("dataplane.stage_errors",
		metric.WithDescription("Stage failures by stage name.")); err != nil {
		return nil, err
	}
	if sink.metricsDropped, err = m.Int64Counter("dataplane.metrics_dropped",
		metric.WithDescription("Percentile-ring samples dropped because the ring was full.")); err != nil {
		return nil, err
	}
	if sink.framesExpired, err = m.Int64Counter("dataplane.frames_expired",
		metric.WithDescription("Audio frames discarded for exceeding max_frame_age.")); err != nil {
		return nil, err
	}

	return sink, nil
}

func msBuckets() []float64 {
	out := make([]float64, len(latencyBuckets))
	for i, b := range latencyBuckets {
		out[i] = b * 1000
	}
	return out
}

// RecordTTFT records a TTFT sample for (session, targetLang).
func (s *MetricsSink) RecordTTFT(ctx context.Context, session string, targetLang Language, ms float64) {
	attrs := metric.WithAttributes(
		attribute.String("session", session),
		attribute.String("target_lang", string(targetLang)),
	)
	s.ttftMS.Record(ctx, ms, attrs)
	s.pushRing(ringKey("ttft", session, targetLang, ""), ms)
}

// RecordCaptionLatency records a caption-latency sample for a session.
func (s *MetricsSink) RecordCaptionLatency(ctx context.Context, session string, ms float64) {
	s.captionLatencyMS.Record(ctx, ms, metric.WithAttributes(attribute.String("session", session)))
	s.pushRing(ringKey("caption_latency", session, "", ""), ms)
}

// RecordStageDuration records a per-stage processing duration.
func (s *MetricsSink) RecordStageDuration(ctx context.Context, stage, session string, targetLang Language, modelID string, ms float64) {
	s.stageDurationMS.Record(ctx, ms, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("session", session),
		attribute.String("target_lang", string(targetLang)),
		attribute.String("model_id", modelID),
	))
	s.pushRing(ringKey(stage, session, targetLang, modelID), ms)
}

func (s *MetricsSink) pushRing(key string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[key]
	if !ok {
		r = &sampleRing{cap: s.ringCap}
		s.rings[key] = r
	}
	if r.push(v) {
		s.metricsDropped.Add(context.Background(), 1)
	}
}

// Percentile returns the p-th percentile (0..1) of recent samples recorded
// under RecordTTFT/RecordCaptionLatency/RecordStageDuration for the given
// ring key, computed in-process (no Prometheus scrape required) so
// latency SLO properties can be asserted directly.
func (s *MetricsSink) Percentile(stage, session string, targetLang Language, modelID string, p float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[ringKey(stage, session, targetLang, modelID)]
	if !ok {
		return 0
	}
	return r.percentile(p)
}

// SampleCount returns how many samples are currently held for the given
// ring key (for test assertions about the "≥100 utterances" window size).
func (s *MetricsSink) SampleCount(stage, session string, targetLang Language, modelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[ringKey(stage, session, targetLang, modelID)]
	if !ok {
		return 0
	}
	return len(r.samples)
}

func ringKey(stage, session string, targetLang Language, modelID string) string {
	return stage + "|" + session + "|" + string(targetLang) + "|" + modelID
}

func (s *MetricsSink) IncWordsConfirmed(ctx context.Context, session string, n int64) {
	if n <= 0 {
		return
	}
	s.wordsConfirmed.Add(ctx, n, metric.WithAttributes(attribute.String("session", session)))
}

func (s *MetricsSink) IncWordsRetracted(ctx context.Context, session string, n int64) {
	if n <= 0 {
		return
	}
	s.wordsRetracted.Add(ctx, n, metric.WithAttributes(attribute.String("session", session)))
}

func (s *MetricsSink) IncFramesDropped() {
	s.framesDropped.Add(context.Background(), 1)
}

func (s *MetricsSink) IncBackpressureDrops(stage string) {
	s.backpressureDrops.Add(context.Background(), 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (s *MetricsSink) IncFramesExpired() {
	s.framesExpired.Add(context.Background(), 1)
}

func (s *MetricsSink) IncStageErrors(stage string) {
	s.stageErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("stage", stage)))
}
