package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/interpret-dataplane/pkg/audio"
	"github.com/lokutor-ai/interpret-dataplane/pkg/dataplane"
)

const lokutorSampleRate = 24000

type LokutorTTS struct {
	apiKey string
	host   string
	scheme string
	mu     sync.Mutex
	conn   *websocket.Conn
	seq    atomic.Uint64
}

func NewLokutorTTS(apiKey string) *LokutorTTS {
	return &LokutorTTS{
		apiKey: apiKey,
		host:   "api.lokutor.com",
		scheme: "wss",
	}
}

func (t *LokutorTTS) Name() string {
	return "lokutor"
}

func (t *LokutorTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to lokutor: %v", dataplane.ErrSynthesisFailed, err)
	}

	t.conn = conn
	return conn, nil
}

func (t *LokutorTTS) Synthesize(ctx context.Context, text string, voice string, lang dataplane.Language) ([]dataplane.AudioChunk, error) {
	var chunks []dataplane.AudioChunk
	err := t.StreamSynthesize(ctx, text, voice, lang, func(chunk dataplane.AudioChunk) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (t *LokutorTTS) StreamSynthesize(ctx context.Context, text string, voice string, lang dataplane.Language, onChunk func(dataplane.AudioChunk) error) error {
	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	req := map[string]interface{}{
		"text":    text,
		"voice":   voice,
		"lang":    string(lang),
		"speed":   1.05,
		"steps":   5,
		"version": "versa-1.0",
	}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.dropConn(conn, "failed to write json")
		return fmt.Errorf("%w: failed to send synthesis request: %v", dataplane.ErrSynthesisFailed, err)
	}

	first := true
	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.dropConn(conn, "failed to read")
			return fmt.Errorf("%w: failed to read from lokutor: %v", dataplane.ErrSynthesisFailed, err)
		}

		switch messageType {
		case websocket.MessageBinary:
			chunk := dataplane.AudioChunk{
				Samples:      audio.PCM16ToFloat32(payload),
				SampleRate:   lokutorSampleRate,
				Seq:          t.seq.Add(1),
				IsFirstAudio: first,
			}
			first = false
			if err := onChunk(chunk); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return onChunk(dataplane.AudioChunk{Seq: t.seq.Add(1), IsFinal: true})
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("%w: lokutor error: %s", dataplane.ErrSynthesisFailed, msg)
			}
		}
	}
}

// dropConn clears t.conn and closes it, but only if it still matches conn
// (a concurrent caller may have already replaced it with a fresh dial).
func (t *LokutorTTS) dropConn(conn *websocket.Conn, reason string) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	conn.Close(websocket.StatusAbnormalClosure, reason)
}

// Abort tears down the active connection so a StreamSynthesize call
// blocked in conn.Read returns promptly; lokutor has no mid-stream cancel
// frame, so the cheapest abort is a reconnect on next use. Unlike
// StreamSynthesize, this never holds t.mu across a blocking call.
func (t *LokutorTTS) Abort() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "aborted")
	}
	return nil
}

func (t *LokutorTTS) Close() error {
	return t.Abort()
}
