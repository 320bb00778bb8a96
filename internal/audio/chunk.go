package audio

import "time"

// VoiceMetrics holds the per-chunk features the detector derives from raw samples.
type VoiceMetrics struct {
	Energy           float64 // RMS of normalized samples
	ZeroCrossingRate float64 // crossings per sample
	SpectralCentroid float64 // Hz, magnitude-difference estimate
	SpectralRolloff  float64 // Hz, derived from the centroid
	BackgroundNoise  float64 // dBFS noise estimate at analysis time
}

// DetectionResult is the outcome of analyzing one chunk.
type DetectionResult struct {
	HasVoice   bool
	Confidence float64
	Metrics    VoiceMetrics
}

// Chunk is one fixed-duration block of mono 16-bit PCM tagged with its detection result.
// A Chunk is not modified once the capture worker hands it off.
type Chunk struct {
	Sequence   uint64
	PCM        []byte // little-endian int16
	SampleRate int
	Timestamp  time.Time
	Duration   time.Duration
	Source     string
	Detection  DetectionResult
}

// NewChunk encodes samples and computes the chunk duration.
func NewChunk(seq uint64, samples []int16, sampleRate int, ts time.Time, source string, det DetectionResult) Chunk {
	var d time.Duration
	if sampleRate > 0 {
		d = time.Duration(len(samples)) * time.Second / time.Duration(sampleRate)
	}
	return Chunk{
		Sequence:   seq,
		PCM:        SamplesToBytes(samples),
		SampleRate: sampleRate,
		Timestamp:  ts,
		Duration:   d,
		Source:     source,
		Detection:  det,
	}
}

// Size returns the payload size in bytes.
func (c Chunk) Size() int {
	return len(c.PCM)
}

// Samples decodes the PCM payload.
func (c Chunk) Samples() []int16 {
	s, _ := BytesToSamples(c.PCM)
	return s
}
