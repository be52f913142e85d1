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

type OpenAIMT struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAIMT(apiKey string, model string) *OpenAIMT {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIMT{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/chat/completions",
		model:  model,
	}
}

func (l *OpenAIMT) Name() string {
	return "openai-mt"
}

func (l *OpenAIMT) Translate(ctx context.Context, req dataplane.TranslationRequest) (dataplane.TranslationResult, error) {
	start := time.Now()
	system, user := buildPrompt(req)

	payload := map[string]interface{}{
		"model": l.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
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
	httpReq.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return dataplane.TranslationResult{}, fmt.Errorf("%w: %v", dataplane.ErrTranslationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return dataplane.TranslationResult{}, fmt.Errorf("%w: openai mt error (status %d): %v", dataplane.ErrTranslationFailed, resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return dataplane.TranslationResult{}, err
	}

	if len(result.Choices) == 0 {
		return dataplane.TranslationResult{}, fmt.Errorf("%w: no choices returned from openai", dataplane.ErrTranslationFailed)
	}

	return dataplane.TranslationResult{
		TranslatedText: result.Choices[0].Message.Content,
		ModelID:        l.model,
		UsedContext:    req.ContextSnapshot != "",
		LatencyMS:      float64(time.Since(start).Milliseconds()),
		SequenceID:     req.SequenceID,
	}, nil
}
