package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// MinDecibels is the floor used when converting silent levels to dBFS.
const MinDecibels = -90.0

// BytesToSamples decodes little-endian 16-bit PCM.
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Normalize maps int16 samples into [-1, 1).
func Normalize(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}
	return out
}

// CalculateRMS calculates the root mean square of normalized samples.
func CalculateRMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ToDecibels converts a linear level to dBFS, clamped at MinDecibels.
func ToDecibels(level float64) float64 {
	db := 20 * math.Log10(math.Max(level, 1e-10))
	if db < MinDecibels || math.IsNaN(db) {
		return MinDecibels
	}
	return db
}

// Denormalize maps floats in [-1, 1] back to int16, clipping out-of-range values.
func Denormalize(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s >= 1.0:
			out[i] = math.MaxInt16
		case s < -1.0:
			out[i] = math.MinInt16
		default:
			out[i] = int16(s * 32767.0)
		}
	}
	return out
}

// Resample converts mono samples between rates. Equal rates return the input.
func Resample(samples []int16, inputRate, outputRate int) ([]int16, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputRate, outputRate)
	}
	if inputRate == outputRate || len(samples) == 0 {
		return samples, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(inputRate),
		OutputRate: float64(outputRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	out, err := r.Process(Normalize(samples))
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	return Denormalize(out), nil
}

// DownmixStereo averages interleaved stereo samples into mono.
func DownmixStereo(interleaved []int16) []int16 {
	mono := make([]int16, len(interleaved)/2)
	for i := range mono {
		mono[i] = int16((int32(interleaved[2*i]) + int32(interleaved[2*i+1])) / 2)
	}
	return mono
}

// FramesForDuration returns the number of frames covering ms milliseconds at sampleRate.
func FramesForDuration(sampleRate, ms int) int {
	return sampleRate * ms / 1000
}
