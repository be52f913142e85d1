package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/lokutor-ai/interpret-dataplane/pkg/audio"
	"github.com/lokutor-ai/interpret-dataplane/pkg/dataplane"
)

type OpenAISTT struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
}

func NewOpenAISTT(apiKey string, model string) *OpenAISTT {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAISTT{
		apiKey:     apiKey,
		url:        "https://api.openai.com/v1/audio/transcriptions",
		model:      model,
		sampleRate: 16000,
	}
}

func (s *OpenAISTT) SetSampleRate(rate int) {
	s.sampleRate = rate
}

func (s *OpenAISTT) Name() string {
	return "openai_stt"
}

// Recognize transcribes the given frame window in one blocking batch call
// and splits the resulting transcript into WordCandidates (see
// wordsFromTranscript — this API reports no native word timing/confidence).
func (s *OpenAISTT) Recognize(ctx context.Context, frames []dataplane.AudioFrame, lang dataplane.Language) ([]dataplane.WordCandidate, error) {
	if len(frames) > 0 {
		s.sampleRate = frames[0].SampleRate
	}
	wavData := audio.NewWavBuffer(framesToPCM16(frames), s.sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", s.model); err != nil {
		return nil, err
	}

	if lang != "" {
		if err := writer.WriteField("language", string(lang)); err != nil {
			return nil, err
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dataplane.ErrRecognitionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: openai error: %s (status %d)", dataplane.ErrRecognitionFailed, string(respBody), resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return wordsFromTranscript(result.Text, frames), nil
}
