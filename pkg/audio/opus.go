package audio

import (
	"fmt"

	opuscodec "github.com/jj11hh/opus"
)

// maxOpusFrameBytes is the largest single Opus packet the codec will ever
// produce; 1275 bytes is the max per RFC 6716 at any bitrate/frame size.
const maxOpusFrameBytes = 1275

// OpusCodec encodes/decodes mono float32 frames at the sample rate passed
// to NewOpusCodec, which the dataplane otherwise carries as raw PCM, for
// the Opus-framed ingress/egress path.
// Mono in, mono out: unlike the WebRTC egress track that needs stereo,
// dataplane AudioFrames and AudioChunks are single-channel.
type OpusCodec struct {
	sampleRate int
	encoder    *opuscodec.Encoder
	decoder    *opuscodec.Decoder
}

func NewOpusCodec(sampleRate int) (*OpusCodec, error) {
	enc, err := opuscodec.NewEncoder(sampleRate, 1, opuscodec.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	dec, err := opuscodec.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusCodec{sampleRate: sampleRate, encoder: enc, decoder: dec}, nil
}

// Encode compresses one frame of mono float32 PCM into an Opus packet.
func (c *OpusCodec) Encode(samples []float32) ([]byte, error) {
	out := make([]byte, maxOpusFrameBytes)
	n, err := c.encoder.EncodeFloat32(samples, out)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return out[:n], nil
}

// Decode expands one Opus packet back into mono float32 PCM. frameSamples
// must match the frame size the packet was encoded with (for example 960
// samples for a 20ms frame at 48kHz).
func (c *OpusCodec) Decode(packet []byte, frameSamples int) ([]float32, error) {
	out := make([]float32, frameSamples)
	n, err := c.decoder.DecodeFloat32(packet, out)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return out[:n], nil
}
