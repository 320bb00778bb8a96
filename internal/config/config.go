package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/lexiqai/audio-streamer/internal/audio"
	"github.com/lexiqai/audio-streamer/internal/capture"
	"github.com/lexiqai/audio-streamer/internal/resilience"
	"github.com/lexiqai/audio-streamer/internal/session"
	"github.com/lexiqai/audio-streamer/internal/streaming"
	"github.com/lexiqai/audio-streamer/internal/transport"
	"github.com/lexiqai/audio-streamer/internal/upstream"
	"github.com/lexiqai/audio-streamer/internal/vad"
)

// Config holds all configuration for the audio streamer
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Capture configuration
	SampleRate       int      `envconfig:"SAMPLE_RATE" default:"16000"`
	ChunkDurationMs  int      `envconfig:"CHUNK_DURATION_MS" default:"20"`
	SourcePreference string   `envconfig:"SOURCE_PREFERENCE" default:"adaptive"` // microphone, system_audio, adaptive
	DeviceName       string   `envconfig:"DEVICE_NAME" default:""`               // Substring match; empty uses the default input
	ExcludedDevices  []string `envconfig:"EXCLUDED_DEVICES" default:""`
	ReplayFile       string   `envconfig:"REPLAY_FILE" default:""` // WAV file replayed instead of a device
	ReplayLoop       bool     `envconfig:"REPLAY_LOOP" default:"false"`
	QueueCapacity    int      `envconfig:"QUEUE_CAPACITY" default:"50"`

	// Voice activity detection
	VADWindowSize        int     `envconfig:"VAD_WINDOW_SIZE" default:"30"`
	VADCalibrationFrames int     `envconfig:"VAD_CALIBRATION_FRAMES" default:"50"`
	VADMinThreshold      float64 `envconfig:"VAD_MIN_THRESHOLD" default:"0.01"`
	VADRolloffFactor     float64 `envconfig:"VAD_ROLLOFF_FACTOR" default:"1.8"`

	// Streaming batcher
	VoiceConfidenceThreshold float64 `envconfig:"VOICE_CONFIDENCE_THRESHOLD" default:"0.6"`
	MaxBatchBytes            int     `envconfig:"MAX_BATCH_BYTES" default:"65536"`
	MaxBatchIntervalMs       int     `envconfig:"MAX_BATCH_INTERVAL_MS" default:"1000"` // 0 disables the time trigger
	MaxBatchChunks           int     `envconfig:"MAX_BATCH_CHUNKS" default:"10"`

	// Resilience configuration
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Total send attempts per batch
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Milliseconds, multiplied by attempt number
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"60"` // Seconds before attempting recovery
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // Milliseconds

	// Remote session service
	ServerURL     string `envconfig:"SERVER_URL" default:"http://localhost:8000"`
	SessionID     string `envconfig:"SESSION_ID" default:""` // Empty asks the server for a new session
	PingInterval  int    `envconfig:"PING_INTERVAL" default:"30"` // Seconds
	UpstreamGRPC  string `envconfig:"UPSTREAM_GRPC_ADDR" default:""`
	UpstreamTLS   bool   `envconfig:"UPSTREAM_TLS_ENABLED" default:"false"`
	DialTimeoutMs int    `envconfig:"DIAL_TIMEOUT_MS" default:"5000"`

	// Optional Deepgram transcription tap
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.ChunkDurationMs <= 0 || audio.FramesForDuration(c.SampleRate, c.ChunkDurationMs) == 0 {
		return fmt.Errorf("CHUNK_DURATION_MS must yield at least one frame, got %d", c.ChunkDurationMs)
	}
	if _, err := capture.ParsePreference(c.SourcePreference); err != nil {
		return fmt.Errorf("SOURCE_PREFERENCE: %w", err)
	}
	if c.VoiceConfidenceThreshold < 0 || c.VoiceConfidenceThreshold > 1 {
		return fmt.Errorf("VOICE_CONFIDENCE_THRESHOLD must be within [0,1], got %f", c.VoiceConfidenceThreshold)
	}
	if c.MaxBatchBytes <= 0 || c.MaxBatchChunks <= 0 {
		return fmt.Errorf("MAX_BATCH_BYTES and MAX_BATCH_CHUNKS must be positive")
	}
	if c.MaxBatchIntervalMs < 0 {
		return fmt.Errorf("MAX_BATCH_INTERVAL_MS must not be negative, got %d", c.MaxBatchIntervalMs)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	return nil
}

// CaptureConfig projects the capture settings.
func (c *Config) CaptureConfig() capture.Config {
	pref, _ := capture.ParsePreference(c.SourcePreference)
	return capture.Config{
		SampleRate:      c.SampleRate,
		FramesPerChunk:  audio.FramesForDuration(c.SampleRate, c.ChunkDurationMs),
		Preference:      pref,
		DeviceName:      c.DeviceName,
		ExcludedDevices: c.ExcludedDevices,
		ReplayFile:      c.ReplayFile,
		ReplayLoop:      c.ReplayLoop,
	}
}

// VADConfig projects the detector settings.
func (c *Config) VADConfig() vad.Config {
	cfg := vad.DefaultConfig()
	cfg.WindowSize = c.VADWindowSize
	cfg.CalibrationFrames = c.VADCalibrationFrames
	cfg.MinThreshold = c.VADMinThreshold
	cfg.RolloffFactor = c.VADRolloffFactor
	return cfg
}

// BatcherConfig projects the streaming settings for a session.
func (c *Config) BatcherConfig(sessionID string) streaming.Config {
	cfg := streaming.DefaultConfig()
	cfg.SessionID = sessionID
	cfg.ConfidenceThreshold = c.VoiceConfidenceThreshold
	cfg.MaxBatchBytes = c.MaxBatchBytes
	cfg.MaxBatchInterval = time.Duration(c.MaxBatchIntervalMs) * time.Millisecond
	cfg.MaxBatchChunks = c.MaxBatchChunks
	cfg.MaxAttempts = c.RetryMaxAttempts
	cfg.RetryBaseDelay = time.Duration(c.RetryInitialBackoff) * time.Millisecond
	return cfg
}

// ReconnectConfig projects the transport reconnection settings.
func (c *Config) ReconnectConfig() *resilience.ReconnectConfig {
	cfg := resilience.DefaultReconnectConfig()
	cfg.MaxAttempts = c.ReconnectMaxAttempts
	cfg.Backoff = time.Duration(c.ReconnectBackoff) * time.Millisecond
	cfg.Jitter = true
	return cfg
}

// WebSocketConfig projects the session socket settings.
func (c *Config) WebSocketConfig(sessionID string) transport.WebSocketConfig {
	cfg := transport.DefaultWebSocketConfig(c.ServerURL, sessionID)
	cfg.PingInterval = time.Duration(c.PingInterval) * time.Second
	cfg.HandshakeTimeout = c.DialTimeout()
	cfg.BreakerMaxFailures = c.CircuitBreakerMaxFailures
	cfg.BreakerReset = time.Duration(c.CircuitBreakerResetTimeout) * time.Second
	cfg.Reconnect = c.ReconnectConfig()
	return cfg
}

// DeepgramConfig projects the transcription tap settings.
func (c *Config) DeepgramConfig() transport.DeepgramConfig {
	return transport.DeepgramConfig{
		APIKey:             c.DeepgramAPIKey,
		Model:              c.DeepgramModel,
		Language:           c.DeepgramLanguage,
		SampleRate:         c.SampleRate,
		BreakerMaxFailures: c.CircuitBreakerMaxFailures,
		BreakerReset:       time.Duration(c.CircuitBreakerResetTimeout) * time.Second,
	}
}

// ProbeConfig projects the upstream health probe settings.
func (c *Config) ProbeConfig() upstream.ProbeConfig {
	return upstream.ProbeConfig{
		Addr:       c.UpstreamGRPC,
		TLSEnabled: c.UpstreamTLS,
		Timeout:    c.DialTimeout(),
	}
}

// SessionSettings describes this capture setup to the session server.
func (c *Config) SessionSettings() upstream.SessionSettings {
	return upstream.SessionSettings{
		AudioSource:     c.SourcePreference,
		SampleRate:      c.SampleRate,
		ChunkDurationMs: c.ChunkDurationMs,
		VoiceThreshold:  c.VoiceConfidenceThreshold,
	}
}

// SessionConfig assembles the pipeline configuration for a session.
func (c *Config) SessionConfig(sessionID string) session.Config {
	return session.Config{
		ID:            sessionID,
		Capture:       c.CaptureConfig(),
		VAD:           c.VADConfig(),
		Streaming:     c.BatcherConfig(sessionID),
		QueueCapacity: c.QueueCapacity,
	}
}

// DialTimeout returns the network dial timeout.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
