package mt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lokutor-ai/interpret-dataplane/pkg/dataplane"
)

func TestGoogleMT(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "key=test-key") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		resp := struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			} `json:"candidates"`
		}{
			Candidates: []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			}{
				{
					Content: struct {
						Parts []struct {
							Text string `json:"text"`
						} `json:"parts"`
					}{
						Parts: []struct {
							Text string `json:"text"`
						}{
							{Text: "hola desde google"},
						},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	l := &GoogleMT{
		apiKey: "test-key",
		url:    server.URL,
		model:  "gemini",
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

	if result.TranslatedText != "hola desde google" {
		t.Errorf("expected 'hola desde google', got '%s'", result.TranslatedText)
	}

	if l.Name() != "google-mt" {
		t.Errorf("expected google-mt, got %s", l.Name())
	}
}
