package audio

import "encoding/binary"

// PCM16ToFloat32 decodes little-endian signed 16-bit PCM into the
// normalized float32 samples the dataplane passes between stages.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out[i] = float32(v) / 32768.0
	}
	return out
}
