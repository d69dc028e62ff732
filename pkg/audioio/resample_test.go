package audioio

import (
	"testing"
)

func TestResample_SameRate(t *testing.T) {
	samples := []int16{100, 200, 300, 400, 500}
	result := Resample(samples, 24000, 24000)

	if len(result) != len(samples) {
		t.Errorf("Expected %d samples, got %d", len(samples), len(result))
	}

	for i, s := range samples {
		if result[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, result[i])
		}
	}
}

func TestResample_Downsample(t *testing.T) {
	// 48kHz -> 24kHz (2:1 ratio)
	samples := make([]int16, 960) // 20ms at 48kHz
	for i := range samples {
		samples[i] = int16(i)
	}

	result := Resample(samples, 48000, 24000)

	// Should get approximately half the samples
	expectedLen := 480
	if len(result) != expectedLen {
		t.Errorf("Expected %d samples, got %d", expectedLen, len(result))
	}
}

func TestResample_Upsample(t *testing.T) {
	// 16kHz -> 24kHz (2:3 ratio)
	samples := make([]int16, 320) // 20ms at 16kHz
	for i := range samples {
		samples[i] = int16(i * 100)
	}

	result := Resample(samples, 16000, 24000)

	// Should get 1.5x samples
	expectedLen := 480
	if len(result) != expectedLen {
		t.Errorf("Expected %d samples, got %d", expectedLen, len(result))
	}
}

func TestResample_Empty(t *testing.T) {
	result := Resample(nil, 24000, 48000)
	if len(result) != 0 {
		t.Errorf("Expected empty result for nil input")
	}

	result = Resample([]int16{}, 24000, 48000)
	if len(result) != 0 {
		t.Errorf("Expected empty result for empty input")
	}
}

func TestBytesToSamples(t *testing.T) {
	data := []byte{0x02, 0x01, 0x04, 0x03}
	samples := BytesToSamples(data)

	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(samples))
	}

	if samples[0] != 0x0102 {
		t.Errorf("Sample 0: expected 0x0102, got 0x%04x", samples[0])
	}

	if samples[1] != 0x0304 {
		t.Errorf("Sample 1: expected 0x0304, got 0x%04x", samples[1])
	}
}

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0x0102, 0x0304}
	data := SamplesToBytes(samples)

	if len(data) != 4 {
		t.Fatalf("Expected 4 bytes, got %d", len(data))
	}

	expected := []byte{0x02, 0x01, 0x04, 0x03}
	for i, b := range expected {
		if data[i] != b {
			t.Errorf("Byte %d: expected 0x%02x, got 0x%02x", i, b, data[i])
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	mono := []int16{100, 200, 300}
	stereo := MonoToStereo(mono)

	if len(stereo) != 6 {
		t.Fatalf("Expected 6 samples, got %d", len(stereo))
	}

	expected := []int16{100, 100, 200, 200, 300, 300}
	for i, s := range expected {
		if stereo[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, stereo[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	stereo := []int16{100, 200, 300, 400}
	mono := StereoToMono(stereo)

	if len(mono) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(mono))
	}

	// (100+200)/2 = 150, (300+400)/2 = 350
	expected := []int16{150, 350}
	for i, s := range expected {
		if mono[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, mono[i])
		}
	}
}

func TestCalculateRMS(t *testing.T) {
	// Silence
	rms := CalculateRMS([]int16{0, 0, 0})
	if rms != 0 {
		t.Errorf("Expected RMS 0 for silence, got %f", rms)
	}

	// Full scale
	samples := []int16{32767, 32767, 32767}
	rms = CalculateRMS(samples)
	if rms < 0.99 || rms > 1.01 {
		t.Errorf("Expected RMS ~1.0 for full scale, got %f", rms)
	}

	// Empty
	rms = CalculateRMS(nil)
	if rms != 0 {
		t.Errorf("Expected RMS 0 for empty, got %f", rms)
	}
}

func TestResampleBytes(t *testing.T) {
	// Create 20ms of 48kHz audio (960 samples)
	samples := make([]int16, 960)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	data := SamplesToBytes(samples)

	// Resample to 24kHz
	result := ResampleBytes(data, 48000, 24000)

	// Should get ~480 samples = 960 bytes
	expectedBytes := 480 * 2
	if len(result) != expectedBytes {
		t.Errorf("Expected %d bytes, got %d", expectedBytes, len(result))
	}
}

// Benchmarks

func BenchmarkResample_2x(b *testing.B) {
	samples := make([]int16, 960)
	for i := range samples {
		samples[i] = int16(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Resample(samples, 48000, 24000)
	}
}

func BenchmarkBytesToSamples(b *testing.B) {
	data := make([]byte, 960)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = BytesToSamples(data)
	}
}

func BenchmarkSamplesToBytes(b *testing.B) {
	samples := make([]int16, 480)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = SamplesToBytes(samples)
	}
}


func TestMixChannels(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		from, to int
		want     []int16
	}{
		{"same", []int16{1, 2}, 2, 2, []int16{1, 2}},
		{"mono to stereo", []int16{5, 7}, 1, 2, []int16{5, 5, 7, 7}},
		{"stereo to mono", []int16{10, 20, -4, 4}, 2, 1, []int16{15, 0}},
		{"quad to stereo", []int16{4, 8, 12, 16}, 4, 2, []int16{10, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MixChannels(tt.in, tt.from, tt.to)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResampleInterleaved(t *testing.T) {
	// 8 stereo frames at 48kHz with constant left/right values.
	in := make([]int16, 16)
	for f := 0; f < 8; f++ {
		in[f*2] = 100
		in[f*2+1] = -100
	}

	out := ResampleInterleaved(in, 2, 48000, 24000)
	if len(out) != 8 {
		t.Fatalf("len = %d, want 8", len(out))
	}
	for f := 0; f < 4; f++ {
		if out[f*2] != 100 || out[f*2+1] != -100 {
			t.Errorf("frame %d = (%d, %d), channels were mixed", f, out[f*2], out[f*2+1])
		}
	}
}

func TestConvert(t *testing.T) {
	chunk := AudioChunk{Samples: make([]int16, 960), SampleRate: 48000, Channels: 2}
	got := Convert(chunk, 24000, 1)
	if len(got) != 240 {
		t.Errorf("len = %d, want 240", len(got))
	}

	raw := AudioChunk{Samples: []int16{1, 2, 3}}
	if got := Convert(raw, 24000, 1); len(got) != 3 {
		t.Errorf("chunk without format should pass through, got %d samples", len(got))
	}
}

func TestApplyGain(t *testing.T) {
	samples := []int16{1000, -1000, 30000, -30000}
	ApplyGain(samples, 0.5)
	want := []int16{500, -500, 15000, -15000}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, samples[i], want[i])
		}
	}

	loud := []int16{30000, -30000}
	ApplyGain(loud, 2)
	if loud[0] != 32767 || loud[1] != -32768 {
		t.Errorf("expected clipping, got %v", loud)
	}
}
