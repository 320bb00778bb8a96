package audio

import (
	"math"
	"testing"
	"time"
)

func TestSamplesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	data := SamplesToBytes(samples)
	if len(data) != len(samples)*2 {
		t.Fatalf("Expected %d bytes, got %d", len(samples)*2, len(data))
	}

	back, err := BytesToSamples(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("Expected sample %d to be %d, got %d", i, samples[i], back[i])
		}
	}
}

func TestBytesToSamples_OddLength(t *testing.T) {
	if _, err := BytesToSamples([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length data")
	}
}

func TestCalculateRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", []float64{0, 0, 0, 0}, 0},
		{"constant", []float64{0.5, -0.5, 0.5, -0.5}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateRMS(tt.samples)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Expected RMS %f, got %f", tt.want, got)
			}
		})
	}
}

func TestToDecibels(t *testing.T) {
	if db := ToDecibels(1.0); math.Abs(db) > 1e-9 {
		t.Errorf("Expected 0 dBFS for full scale, got %f", db)
	}
	if db := ToDecibels(0); db != MinDecibels {
		t.Errorf("Expected %f for silence, got %f", MinDecibels, db)
	}
}

func TestResample(t *testing.T) {
	samples := make([]int16, 48000)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/48000))
	}

	out, err := Resample(samples, 48000, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(out) < 15000 || len(out) > 16100 {
		t.Errorf("Expected about 16000 samples, got %d", len(out))
	}

	same, err := Resample(samples, 16000, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(same) != len(samples) {
		t.Errorf("Expected unchanged length %d, got %d", len(samples), len(same))
	}

	if _, err := Resample(samples, 0, 16000); err == nil {
		t.Error("Expected error for zero input rate, got nil")
	}
}

func TestDenormalize(t *testing.T) {
	got := Denormalize([]float64{0, 1.5, -2, 0.5})
	want := []int16{0, 32767, -32768, 16383}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %d at %d, got %d", want[i], i, got[i])
		}
	}
}

func TestDownmixStereo(t *testing.T) {
	mono := DownmixStereo([]int16{100, 300, -200, 0})
	if len(mono) != 2 || mono[0] != 200 || mono[1] != -100 {
		t.Errorf("Expected [200 -100], got %v", mono)
	}
}

func TestNewChunk_Duration(t *testing.T) {
	c := NewChunk(1, make([]int16, 320), 16000, time.Now(), "microphone", DetectionResult{})
	if c.Duration != 20*time.Millisecond {
		t.Errorf("Expected 20ms duration, got %v", c.Duration)
	}
	if c.Size() != 640 {
		t.Errorf("Expected 640 bytes, got %d", c.Size())
	}
}
