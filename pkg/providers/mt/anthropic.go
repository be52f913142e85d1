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

type AnthropicMT struct {
	apiKey string
	url    string
	model  string
}

func NewAnthropicMT(apiKey string, model string) *AnthropicMT {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &AnthropicMT{
		apiKey: apiKey,
		url:    "https://api.anthropic.com/v1/messages",
		model:  model,
	}
}

func (l *AnthropicMT) Name() string {
	return "anthropic-mt"
}

func (l *AnthropicMT) Translate(ctx context.Context, req dataplane.TranslationRequest) (dataplane.TranslationResult, error) {
	start := time.Now()
	system, user := buildPrompt(req)

	payload := map[string]interface{}{
		"model": l.model,
		"messages": []map[string]string{
			{"role": "user", "content": user},
		},
		"system":     system,
		"max_tokens": 1024,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return dataplane.TranslationResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return dataplane.TranslationResult{}, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", l.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return dataplane.TranslationResult{}, fmt.Errorf("%w: %v", dataplane.ErrTranslationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return dataplane.TranslationResult{}, fmt.Errorf("%w: anthropic mt error (status %d): %v", dataplane.ErrTranslationFailed, resp.StatusCode, errResp)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return dataplane.TranslationResult{}, err
	}

	if len(result.Content) == 0 {
		return dataplane.TranslationResult{}, fmt.Errorf("%w: no content returned from anthropic", dataplane.ErrTranslationFailed)
	}

	return dataplane.TranslationResult{
		TranslatedText: result.Content[0].Text,
		ModelID:        l.model,
		UsedContext:    req.ContextSnapshot != "",
		LatencyMS:      float64(time.Since(start).Milliseconds()),
		SequenceID:     req.SequenceID,
	}, nil
}
