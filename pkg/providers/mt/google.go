package mt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lokutor-ai/interpret-dataplane/pkg/dataplane"
)

type GoogleMT struct {
	apiKey string
	url    string
	model  string
}

func NewGoogleMT(apiKey string, model string) *GoogleMT {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GoogleMT{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		model:  model,
	}
}

func (l *GoogleMT) Name() string {
	return "google-mt"
}

func (l *GoogleMT) Translate(ctx context.Context, req dataplane.TranslationRequest) (dataplane.TranslationResult, error) {
	start := time.Now()
	system, user := buildPrompt(req)

	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}

	payload := map[string]interface{}{
		"contents": []content{
			{Role: "user", Parts: []part{{Text: user}}},
		},
		"systemInstruction": content{Parts: []part{{Text: system}}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return dataplane.TranslationResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", l.url+"?key="+l.apiKey, bytes.NewReader(body))
	if err != nil {
		return dataplane.TranslationResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return dataplane.TranslationResult{}, fmt.Errorf("%w: %v", dataplane.ErrTranslationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return dataplane.TranslationResult{}, fmt.Errorf("%w: google mt error (status %d): %v", dataplane.ErrTranslationFailed, resp.StatusCode, errResp)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return dataplane.TranslationResult{}, err
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return dataplane.TranslationResult{}, fmt.Errorf("%w: no response from google mt", dataplane.ErrTranslationFailed)
	}

	return dataplane.TranslationResult{
		TranslatedText: result.Candidates[0].Content.Parts[0].Text,
		ModelID:        l.model,
		UsedContext:    req.ContextSnapshot != "",
		LatencyMS:      float64(time.Since(start).Milliseconds()),
		SequenceID:     req.SequenceID,
	}, nil
}
