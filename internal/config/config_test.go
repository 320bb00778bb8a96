package config

import (
	"os"
	"testing"
	"time"

	"github.com/lexiqai/audio-streamer/internal/capture"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("Expected default SampleRate 16000, got %d", cfg.SampleRate)
	}
	if cfg.SourcePreference != "adaptive" {
		t.Errorf("Expected default SourcePreference 'adaptive', got '%s'", cfg.SourcePreference)
	}
	if cfg.VoiceConfidenceThreshold != 0.6 {
		t.Errorf("Expected default VoiceConfidenceThreshold 0.6, got %f", cfg.VoiceConfidenceThreshold)
	}
	if cfg.MaxBatchBytes != 64*1024 {
		t.Errorf("Expected default MaxBatchBytes 65536, got %d", cfg.MaxBatchBytes)
	}
	if cfg.MaxBatchChunks != 10 {
		t.Errorf("Expected default MaxBatchChunks 10, got %d", cfg.MaxBatchChunks)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.QueueCapacity != 50 {
		t.Errorf("Expected default QueueCapacity 50, got %d", cfg.QueueCapacity)
	}
	if cfg.DeepgramAPIKey != "" {
		t.Errorf("Expected Deepgram to be disabled by default, got key '%s'", cfg.DeepgramAPIKey)
	}
}

func TestLoad_Overrides(t *testing.T) {
	os.Setenv("SOURCE_PREFERENCE", "system_audio")
	os.Setenv("MAX_BATCH_INTERVAL_MS", "250")
	os.Setenv("EXCLUDED_DEVICES", "zoom,teams")
	defer os.Unsetenv("SOURCE_PREFERENCE")
	defer os.Unsetenv("MAX_BATCH_INTERVAL_MS")
	defer os.Unsetenv("EXCLUDED_DEVICES")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	capCfg := cfg.CaptureConfig()
	if capCfg.Preference != capture.PreferSystemAudio {
		t.Errorf("Expected system_audio preference, got %s", capCfg.Preference)
	}
	if len(capCfg.ExcludedDevices) != 2 || capCfg.ExcludedDevices[1] != "teams" {
		t.Errorf("Expected excluded devices [zoom teams], got %v", capCfg.ExcludedDevices)
	}

	b := cfg.BatcherConfig("abc")
	if b.MaxBatchInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms interval, got %v", b.MaxBatchInterval)
	}
	if b.SessionID != "abc" {
		t.Errorf("Expected session id 'abc', got '%s'", b.SessionID)
	}
}

func TestCaptureConfig_Frames(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if got := cfg.CaptureConfig().FramesPerChunk; got != 320 {
		t.Errorf("Expected 320 frames per 20ms chunk, got %d", got)
	}
}

func TestSessionConfig_Projection(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	sc := cfg.SessionConfig("abc")
	if sc.ID != "abc" || sc.Streaming.SessionID != "abc" {
		t.Errorf("Expected session id abc, got %q / %q", sc.ID, sc.Streaming.SessionID)
	}
	if sc.QueueCapacity != 50 {
		t.Errorf("Expected queue capacity 50, got %d", sc.QueueCapacity)
	}

	ws := cfg.WebSocketConfig("abc")
	if ws.PingInterval != 30*time.Second {
		t.Errorf("Expected ping interval 30s, got %v", ws.PingInterval)
	}
	if ws.Reconnect == nil || ws.Reconnect.MaxAttempts != 5 {
		t.Errorf("Expected 5 reconnect attempts, got %+v", ws.Reconnect)
	}

	dg := cfg.DeepgramConfig()
	if dg.SampleRate != 16000 || dg.Model != "nova-2" {
		t.Errorf("Expected nova-2 at 16000 Hz, got %s at %d Hz", dg.Model, dg.SampleRate)
	}

	if got := cfg.ProbeConfig().Timeout; got != 5*time.Second {
		t.Errorf("Expected probe timeout 5s, got %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad preference", func(c *Config) { c.SourcePreference = "speakers" }},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"threshold above one", func(c *Config) { c.VoiceConfidenceThreshold = 1.5 }},
		{"negative interval", func(c *Config) { c.MaxBatchIntervalMs = -1 }},
		{"no attempts", func(c *Config) { c.RetryMaxAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromEnv()
			if err != nil {
				t.Fatalf("LoadFromEnv() failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("AUDIO_STREAMER_TEST_KEY", "value")
	defer os.Unsetenv("AUDIO_STREAMER_TEST_KEY")

	if got := GetEnv("AUDIO_STREAMER_TEST_KEY", "default"); got != "value" {
		t.Errorf("Expected 'value', got '%s'", got)
	}
	if got := GetEnv("AUDIO_STREAMER_MISSING_KEY", "default"); got != "default" {
		t.Errorf("Expected 'default', got '%s'", got)
	}
}
