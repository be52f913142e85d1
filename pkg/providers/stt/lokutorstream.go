package stt

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/interpret-dataplane/pkg/dataplane"
)

// LokutorStreamSTT is a word-timed streaming recognizer speaking Lokutor's
// websocket protocol, grounded on pkg/providers/tts/lokutor.go's dial/
// request/response shape (same host) mirrored onto recognition instead of
// synthesis; unlike the TTS provider it dials a fresh connection for every
// StreamRecognize or Recognize call and never reuses one. Unlike the
// batch HTTP providers in this package it satisfies
// dataplane.StreamingSTTProvider: audio is pushed onto a channel as it's
// captured and word hypotheses arrive as the model produces them, rather
// than one request per re-sent window.
type LokutorStreamSTT struct {
	apiKey     string
	host       string
	scheme     string
	sampleRate int
}

func NewLokutorStreamSTT(apiKey string) *LokutorStreamSTT {
	return &LokutorStreamSTT{
		apiKey:     apiKey,
		host:       "api.lokutor.com",
		scheme:     "wss",
		sampleRate: 16000,
	}
}

func (s *LokutorStreamSTT) Name() string {
	return "lokutor-stream-stt"
}

// SetSampleRate lets the caller align the recognizer with the capture
// device's rate, matching the other providers' SetSampleRate convention
// that cmd/dataplane probes for via a type assertion.
func (s *LokutorStreamSTT) SetSampleRate(rate int) {
	s.sampleRate = rate
}

func (s *LokutorStreamSTT) dial(ctx context.Context, lang dataplane.Language) (*websocket.Conn, error) {
	u := url.URL{
		Scheme:   s.scheme,
		Host:     s.host,
		Path:     "/ws/stt",
		RawQuery: "api_key=" + s.apiKey,
	}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to lokutor stt: %v", dataplane.ErrRecognitionFailed, err)
	}

	start := map[string]interface{}{
		"type":        "start",
		"language":    string(lang),
		"sample_rate": s.sampleRate,
		"encoding":    "pcm_s16le",
	}
	if err := wsjson.Write(ctx, conn, start); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "failed to write start frame")
		return nil, fmt.Errorf("%w: failed to start lokutor stt session: %v", dataplane.ErrRecognitionFailed, err)
	}
	return conn, nil
}

// StreamRecognize opens one Lokutor session for the call's lifetime,
// returning a channel the caller pushes AudioFrames onto; each frame is
// forwarded as a binary 16-bit little-endian PCM message, and incoming "partial"/"final" JSON
// messages are decoded into word hypotheses delivered via onHypothesis.
// The returned channel and the background forwarder both stop when ctx is
// cancelled.
func (s *LokutorStreamSTT) StreamRecognize(ctx context.Context, lang dataplane.Language, onHypothesis func(words []dataplane.WordCandidate, isFinal bool) error) (chan<- dataplane.AudioFrame, error) {
	conn, err := s.dial(ctx, lang)
	if err != nil {
		return nil, err
	}

	in := make(chan dataplane.AudioFrame, 32)

	go s.sendLoop(ctx, conn, in)
	go s.recvLoop(ctx, conn, onHypothesis)

	return in, nil
}

func (s *LokutorStreamSTT) sendLoop(ctx context.Context, conn *websocket.Conn, in <-chan dataplane.AudioFrame) {
	defer conn.Close(websocket.StatusNormalClosure, "capture ended")
	for {
		select {
		case frame, ok := <-in:
			if !ok {
				wsjson.Write(ctx, conn, map[string]interface{}{"type": "end"})
				return
			}
			pcm := framesToPCM16([]dataplane.AudioFrame{frame})
			if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

type lokutorSTTMessage struct {
	Type  string `json:"type"`
	Words []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		StartMS    int64   `json:"start_ms"`
		EndMS      int64   `json:"end_ms"`
	} `json:"words"`
}

func (s *LokutorStreamSTT) recvLoop(ctx context.Context, conn *websocket.Conn, onHypothesis func(words []dataplane.WordCandidate, isFinal bool) error) {
	for {
		var msg lokutorSTTMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}

		isFinal := msg.Type == "final"
		if msg.Type != "partial" && msg.Type != "final" {
			continue
		}

		words := make([]dataplane.WordCandidate, len(msg.Words))
		for i, w := range msg.Words {
			words[i] = dataplane.WordCandidate{
				Text:       w.Text,
				Confidence: w.Confidence,
				StartTime:  w.StartMS * 1e6,
				EndTime:    w.EndMS * 1e6,
				Position:   i,
			}
		}
		if err := onHypothesis(words, isFinal); err != nil {
			return
		}
	}
}

// Recognize adapts the streaming protocol to the batch STTProvider
// contract for callers (like STTStage) that re-send a rolling window each
// tick rather than push incrementally: it opens a short-lived session,
// streams the whole window, and returns the single best hypothesis it
// receives before the session completes.
func (s *LokutorStreamSTT) Recognize(ctx context.Context, frames []dataplane.AudioFrame, lang dataplane.Language) ([]dataplane.WordCandidate, error) {
	conn, err := s.dial(ctx, lang)
	if err != nil {
		return nil, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "recognize done")

	pcm := framesToPCM16(frames)
	if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		return nil, fmt.Errorf("%w: failed to send audio: %v", dataplane.ErrRecognitionFailed, err)
	}
	if err := wsjson.Write(ctx, conn, map[string]interface{}{"type": "end"}); err != nil {
		return nil, fmt.Errorf("%w: failed to send end frame: %v", dataplane.ErrRecognitionFailed, err)
	}

	var best []dataplane.WordCandidate
	for {
		var msg lokutorSTTMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return best, nil
		}
		if msg.Type != "partial" && msg.Type != "final" {
			continue
		}
		words := make([]dataplane.WordCandidate, len(msg.Words))
		for i, w := range msg.Words {
			words[i] = dataplane.WordCandidate{
				Text:       w.Text,
				Confidence: w.Confidence,
				StartTime:  w.StartMS * 1e6,
				EndTime:    w.EndMS * 1e6,
				Position:   i,
			}
		}
		best = words
		if msg.Type == "final" {
			return best, nil
		}
	}
}
