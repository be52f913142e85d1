package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/interpret-dataplane/pkg/dataplane"
)

func TestDeepgramSTT(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("language") != "es" {
			t.Errorf("expected language=es query param, got %q", r.URL.Query().Get("language"))
		}

		type alt struct {
			Transcript string `json:"transcript"`
		}
		type channel struct {
			Alternatives []alt `json:"alternatives"`
		}
		resp := struct {
			Results struct {
				Channels []channel `json:"channels"`
			} `json:"results"`
		}{}
		resp.Results.Channels = []channel{{Alternatives: []alt{{Transcript: "hola mundo"}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	s := &DeepgramSTT{apiKey: "test-key", url: server.URL, sampleRate: 16000}

	words, err := s.Recognize(context.Background(), sampleFrames(), dataplane.Language("es"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(words) != 2 || words[0].Text != "hola" || words[1].Text != "mundo" {
		t.Errorf("expected [hola mundo], got %+v", words)
	}

	if s.Name() != "deepgram-stt" {
		t.Errorf("expected deepgram-stt, got %s", s.Name())
	}
}

func TestDeepgramSTTEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"results": map[string]interface{}{"channels": []interface{}{}}})
	}))
	defer server.Close()

	s := &DeepgramSTT{apiKey: "test-key", url: server.URL, sampleRate: 16000}
	words, err := s.Recognize(context.Background(), sampleFrames(), dataplane.Language("en"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if words != nil {
		t.Errorf("expected nil words for empty channel list, got %+v", words)
	}
}
