package mt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/interpret-dataplane/pkg/dataplane"
)

func TestAnthropicMT(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req struct {
			Model    string              `json:"model"`
			Messages []map[string]string `json:"messages"`
			System   string              `json:"system"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if req.System == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp := struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		}{
			Content: []struct {
				Text string `json:"text"`
			}{
				{Text: "hola desde anthropic"},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	l := &AnthropicMT{
		apiKey: "test-key",
		url:    server.URL,
		model:  "claude-3",
	}

	req := dataplane.TranslationRequest{
		Text:       "hi",
		SourceLang: "en",
		TargetLang: "es",
	}

	result, err := l.Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TranslatedText != "hola desde anthropic" {
		t.Errorf("expected 'hola desde anthropic', got '%s'", result.TranslatedText)
	}
	if result.ModelID != "claude-3" {
		t.Errorf("expected model claude-3, got %s", result.ModelID)
	}

	if l.Name() != "anthropic-mt" {
		t.Errorf("expected anthropic-mt, got %s", l.Name())
	}
}
