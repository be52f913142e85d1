// Package stt adapts third-party transcription APIs to the
// dataplane.STTProvider contract: each provider makes blocking network
// calls (HTTP requests, or a websocket session for Lokutor) per Recognize
// call over a window of dataplane.AudioFrame
// rather than a single flat PCM byte slice, and returns word-level
// candidates instead of a flat transcript string.
package stt

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/lokutor-ai/interpret-dataplane/pkg/dataplane"
)

// framesToPCM16 concatenates a window of f32 AudioFrames into signed
// 16-bit little-endian PCM, the format every batch STT API in this
// package expects its upload body framed as.
func framesToPCM16(frames []dataplane.AudioFrame) []byte {
	var total int
	for _, f := range frames {
		total += len(f.Samples)
	}
	out := make([]byte, 0, total*2)
	buf := make([]byte, 2)
	for _, f := range frames {
		for _, s := range f.Samples {
			v := s
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			binary.LittleEndian.PutUint16(buf, uint16(int16(v*math.MaxInt16)))
			out = append(out, buf...)
		}
	}
	return out
}

// frameSpan returns the capture-timestamp range (nanoseconds) covered by
// frames, used to spread approximate per-word timestamps across a batch
// transcript that carries none of its own.
func frameSpan(frames []dataplane.AudioFrame) (start, end int64) {
	if len(frames) == 0 {
		return 0, 0
	}
	start, end = frames[0].CaptureTS, frames[0].CaptureTS
	for _, f := range frames {
		if f.CaptureTS < start {
			start = f.CaptureTS
		}
		if f.CaptureTS > end {
			end = f.CaptureTS
		}
	}
	return start, end
}

// defaultBatchConfidence is assigned to every word produced by a batch
// transcription API that reports no native per-word confidence — these
// providers only ever return a flat transcript string, so a fixed,
// moderately-high value stands in (the stabilizer's confidence_threshold
// default of 0.7 still gates these words normally).
const defaultBatchConfidence = 0.85

// wordsFromTranscript splits a flat transcript into WordCandidates, evenly
// spreading start/end times across the span covered by frames and
// assigning positions by word index.
func wordsFromTranscript(text string, frames []dataplane.AudioFrame) []dataplane.WordCandidate {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}

	start, end := frameSpan(frames)
	span := end - start
	if span <= 0 {
		span = 1
	}
	step := span / int64(len(fields))

	words := make([]dataplane.WordCandidate, len(fields))
	for i, w := range fields {
		wordStart := start + int64(i)*step
		wordEnd := wordStart + step
		words[i] = dataplane.WordCandidate{
			Text:       w,
			Confidence: defaultBatchConfidence,
			StartTime:  wordStart,
			EndTime:    wordEnd,
			Position:   i,
		}
	}
	return words
}
