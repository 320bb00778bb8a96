// Package vad implements a self-calibrating voice activity detector that runs
// in O(n) per chunk without an FFT.
package vad

import (
	"math"
	"sync"

	"github.com/lexiqai/audio-streamer/internal/audio"
)

// State is the calibration state of a Detector.
type State int

const (
	StateCalibrating State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateCalibrating:
		return "calibrating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Sub-score weights. They sum to 1.
const (
	energyWeight   = 0.40
	zcrWeight      = 0.20
	centroidWeight = 0.25
	noiseWeight    = 0.15
)

// Speech band limits.
const (
	minSpeechZCR      = 0.05
	maxSpeechZCR      = 0.30
	minSpeechCentroid = 300.0
	maxSpeechCentroid = 3400.0
)

// Config holds tunable detector parameters.
type Config struct {
	WindowSize        int     // energy history length
	CalibrationFrames int     // chunks analyzed before switching to active
	MinThreshold      float64 // RMS floor for the adaptive threshold
	NoiseMarginDB     float64 // margin over the noise floor counted as voice
	NoiseSmoothing    float64 // EMA weight kept on the previous noise estimate
	RolloffFactor     float64 // rolloff = centroid * factor
	VoiceThreshold    float64 // confidence above which a chunk has voice
	RateWindow        int     // decisions tracked for the voice rate
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize:        30,
		CalibrationFrames: 50,
		MinThreshold:      0.01,
		NoiseMarginDB:     10,
		NoiseSmoothing:    0.95,
		RolloffFactor:     1.8,
		VoiceThreshold:    0.5,
		RateWindow:        100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.CalibrationFrames <= 0 {
		c.CalibrationFrames = d.CalibrationFrames
	}
	if c.MinThreshold <= 0 {
		c.MinThreshold = d.MinThreshold
	}
	if c.NoiseMarginDB <= 0 {
		c.NoiseMarginDB = d.NoiseMarginDB
	}
	if c.NoiseSmoothing <= 0 || c.NoiseSmoothing >= 1 {
		c.NoiseSmoothing = d.NoiseSmoothing
	}
	if c.RolloffFactor <= 0 {
		c.RolloffFactor = d.RolloffFactor
	}
	if c.VoiceThreshold <= 0 || c.VoiceThreshold >= 1 {
		c.VoiceThreshold = d.VoiceThreshold
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	return c
}

// Status is a point-in-time view of the detector.
type Status struct {
	State        State   `json:"-"`
	StateName    string  `json:"state"`
	Calibrating  bool    `json:"calibrating"`
	Progress     float64 `json:"progress"`
	Threshold    float64 `json:"threshold"`
	NoiseFloorDB float64 `json:"noise_floor_db"`
	VoiceRate    float64 `json:"voice_rate"`
	Analyzed     uint64  `json:"analyzed"`
}

// Detector classifies chunks as voice or non-voice.
//
// Analyze and ResetCalibration are called from the capture worker only.
// Status may be called from any goroutine.
type Detector struct {
	cfg Config

	mu         sync.RWMutex
	state      State
	threshold  float64
	noiseDB    float64
	calibrated int
	analyzed   uint64
	energies   *audio.RingBuffer
	decisions  *audio.RingBuffer
}

// New creates a detector in the calibrating state.
func New(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	d := &Detector{
		cfg:       cfg,
		energies:  audio.NewRingBuffer(cfg.WindowSize),
		decisions: audio.NewRingBuffer(cfg.RateWindow),
	}
	d.reset()
	return d
}

func (d *Detector) reset() {
	d.state = StateCalibrating
	d.threshold = d.cfg.MinThreshold
	d.noiseDB = audio.MinDecibels
	d.calibrated = 0
	d.energies.Clear()
	d.decisions.Clear()
}

// ResetCalibration returns the detector to the calibrating state with an empty history.
func (d *Detector) ResetCalibration() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}

// Analyze scores one chunk. Invalid input yields a zero result.
func (d *Detector) Analyze(samples []int16, sampleRate int) audio.DetectionResult {
	if len(samples) == 0 || sampleRate <= 0 {
		return audio.DetectionResult{}
	}

	x := audio.Normalize(samples)
	f := extract(x, sampleRate, d.cfg.RolloffFactor)
	if !f.valid() {
		return audio.DetectionResult{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.analyzed++
	energyDB := audio.ToDecibels(f.energy)

	calibrating := d.state == StateCalibrating
	if calibrating {
		d.energies.Push(f.energy)
		d.recomputeThreshold()
		d.noiseDB = audio.ToDecibels(d.energies.Mean())
		d.calibrated++
		if d.calibrated >= d.cfg.CalibrationFrames {
			d.state = StateActive
		}
	}

	conf := d.confidence(f, energyDB)
	hasVoice := conf > d.cfg.VoiceThreshold

	// Once active, only non-voice chunks move the threshold and noise floor.
	if !calibrating && !hasVoice {
		d.energies.Push(f.energy)
		d.recomputeThreshold()
		d.noiseDB = d.noiseDB*d.cfg.NoiseSmoothing + energyDB*(1-d.cfg.NoiseSmoothing)
	}

	if hasVoice {
		d.decisions.Push(1)
	} else {
		d.decisions.Push(0)
	}

	return audio.DetectionResult{
		HasVoice:   hasVoice,
		Confidence: conf,
		Metrics: audio.VoiceMetrics{
			Energy:           f.energy,
			ZeroCrossingRate: f.zcr,
			SpectralCentroid: f.centroid,
			SpectralRolloff:  f.rolloff,
			BackgroundNoise:  d.noiseDB,
		},
	}
}

func (d *Detector) recomputeThreshold() {
	t := d.energies.Mean() + 2*d.energies.StdDev()
	if math.IsNaN(t) || t < d.cfg.MinThreshold {
		t = d.cfg.MinThreshold
	}
	d.threshold = t
}

func (d *Detector) confidence(f features, energyDB float64) float64 {
	conf := energyWeight*energyScore(f.energy, d.threshold) +
		zcrWeight*bandScore(f.zcr, minSpeechZCR, maxSpeechZCR) +
		centroidWeight*bandScore(f.centroid, minSpeechCentroid, maxSpeechCentroid)
	if energyDB > d.noiseDB+d.cfg.NoiseMarginDB {
		conf += noiseWeight
	}
	return clamp01(conf)
}

// Status returns a snapshot of the calibration state.
func (d *Detector) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	progress := 1.0
	if d.state == StateCalibrating {
		progress = float64(d.calibrated) / float64(d.cfg.CalibrationFrames)
	}
	return Status{
		State:        d.state,
		StateName:    d.state.String(),
		Calibrating:  d.state == StateCalibrating,
		Progress:     progress,
		Threshold:    d.threshold,
		NoiseFloorDB: d.noiseDB,
		VoiceRate:    d.decisions.Mean(),
		Analyzed:     d.analyzed,
	}
}

// energyScore is 0 below threshold and ramps to 1 at twice the threshold.
func energyScore(energy, threshold float64) float64 {
	if threshold <= 0 || energy < threshold {
		return 0
	}
	return clamp01((energy - threshold) / threshold)
}

// bandScore is 1 inside [lo, hi] and decays linearly outside it.
func bandScore(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return clamp01(v / lo)
	case v > hi:
		return clamp01(1 - (v-hi)/hi)
	default:
		return 1
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
