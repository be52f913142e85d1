package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/interpret-dataplane/pkg/dataplane"
)

func TestLokutorTTS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		err = wsjson.Read(r.Context(), conn, &req)
		if err != nil {
			return
		}

		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3, 4})
		conn.Write(r.Context(), websocket.MessageBinary, []byte{5, 6, 7, 8})
		conn.Write(r.Context(), websocket.MessageText, []byte("EOS"))
	}))
	defer server.Close()

	tts := &LokutorTTS{
		apiKey: "test-key",
		host:   strings.TrimPrefix(server.URL, "http://"),
		scheme: "ws",
	}

	var chunks []dataplane.AudioChunk
	err := tts.StreamSynthesize(context.Background(), "hello", "f1", dataplane.Language("en"), func(chunk dataplane.AudioChunk) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks (2 audio + 1 final), got %d", len(chunks))
	}
	if !chunks[0].IsFirstAudio {
		t.Errorf("expected first chunk to be flagged IsFirstAudio")
	}
	if len(chunks[0].Samples) != 2 {
		t.Errorf("expected 2 decoded samples from 4 PCM16 bytes, got %d", len(chunks[0].Samples))
	}
	if !chunks[2].IsFinal {
		t.Errorf("expected trailing EOS chunk to be flagged IsFinal")
	}

	if tts.Name() != "lokutor" {
		t.Errorf("expected lokutor, got %s", tts.Name())
	}

	tts.Close()
}
