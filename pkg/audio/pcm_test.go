package audio

import "testing"

func TestPCM16ToFloat32(t *testing.T) {
	// 0, max positive (32767), min negative (-32768), little-endian.
	pcm := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}
	samples := PCM16ToFloat32(pcm)

	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[0] != 0 {
		t.Errorf("expected 0 for zero PCM, got %f", samples[0])
	}
	if samples[1] <= 0.99 || samples[1] > 1.0 {
		t.Errorf("expected near 1.0 for max positive PCM, got %f", samples[1])
	}
	if samples[2] != -1.0 {
		t.Errorf("expected exactly -1.0 for min negative PCM, got %f", samples[2])
	}
}

func TestPCM16ToFloat32DropsTrailingOddByte(t *testing.T) {
	samples := PCM16ToFloat32([]byte{0x00, 0x00, 0x01})
	if len(samples) != 1 {
		t.Fatalf("expected a trailing unpaired byte to be dropped, got %d samples", len(samples))
	}
}

func TestPCM16ToFloat32Empty(t *testing.T) {
	samples := PCM16ToFloat32(nil)
	if len(samples) != 0 {
		t.Fatalf("expected no samples from empty input, got %d", len(samples))
	}
}
