// Package session runs one capture-to-delivery pipeline: a capture controller
// feeding a bounded queue that a streaming batcher drains into a transport.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/audio-streamer/internal/audio"
	"github.com/lexiqai/audio-streamer/internal/capture"
	"github.com/lexiqai/audio-streamer/internal/observability"
	"github.com/lexiqai/audio-streamer/internal/streaming"
	"github.com/lexiqai/audio-streamer/internal/vad"
)

// Config wires the pipeline components.
type Config struct {
	ID            string
	Capture       capture.Config
	VAD           vad.Config
	Streaming     streaming.Config
	QueueCapacity int
}

// Status is the combined snapshot served on /status.
type Status struct {
	SessionID          string          `json:"session_id"`
	Running            bool            `json:"running"`
	StartedAt          time.Time       `json:"started_at,omitempty"`
	UptimeSeconds      float64         `json:"uptime_seconds"`
	TransportConnected bool            `json:"transport_connected"`
	Capture            capture.Status  `json:"capture"`
	Streaming          streaming.Stats `json:"streaming"`
}

// Session owns the detector, queue, controller and batcher for one session id.
type Session struct {
	id        string
	logger    zerolog.Logger
	metrics   *observability.Metrics
	transport streaming.Transport

	detector   *vad.Detector
	queue      *audio.ChunkQueue
	controller *capture.Controller
	batcher    *streaming.Batcher

	mu        sync.Mutex
	running   bool
	startedAt time.Time
}

// New builds a stopped session. logger is expected to carry the session fields
// (see observability.WithSession).
func New(cfg Config, factory capture.SourceFactory, transport streaming.Transport, logger zerolog.Logger) (*Session, error) {
	if cfg.ID == "" {
		return nil, errors.New("session id is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}

	metrics := observability.NewSessionMetrics(cfg.ID)

	detector := vad.New(cfg.VAD)
	queue := audio.NewChunkQueue(cfg.QueueCapacity)

	streamCfg := cfg.Streaming
	streamCfg.SessionID = cfg.ID

	return &Session{
		id:         cfg.ID,
		logger:     logger,
		metrics:    metrics,
		transport:  transport,
		detector:   detector,
		queue:      queue,
		controller: capture.NewController(cfg.Capture, factory, detector, queue, logger, metrics),
		batcher:    streaming.New(streamCfg, queue, transport, logger, metrics),
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Start launches the batcher, then capture. If capture cannot open a source
// the batcher is stopped again and the capture error returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.batcher.Start(ctx)
	if err := s.controller.Start(ctx, nil); err != nil {
		s.batcher.Stop()
		return fmt.Errorf("start capture: %w", err)
	}

	s.running = true
	s.startedAt = time.Now()
	s.metrics.RecordSessionStart()
	s.logger.Info().Msg("Session started")
	return nil
}

// Stop ends capture first so nothing new is queued, then the batcher, which
// makes one final delivery attempt. Safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.controller.Stop()
	s.batcher.Stop()
	s.running = false
	s.metrics.RecordSessionEnd()

	if left := len(s.queue.Drain()); left > 0 {
		s.logger.Debug().Int("chunks", left).Msg("Discarded queued chunks at shutdown")
	}
	s.logger.Info().Dur("duration", time.Since(s.startedAt)).Msg("Session stopped")
}

// SwitchSource restarts capture with a new preference. Calibration resets when
// the resulting source type differs from the previous one.
func (s *Session) SwitchSource(ctx context.Context, pref capture.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return errors.New("session is not running")
	}
	if err := s.controller.SwitchSource(ctx, pref); err != nil {
		return fmt.Errorf("switch source to %s: %w", pref, err)
	}
	return nil
}

// Errors reports fatal capture errors, including io.EOF from replayed files.
func (s *Session) Errors() <-chan error {
	return s.controller.Errors()
}

// Status snapshots capture and streaming.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		SessionID: s.id,
		Running:   s.running,
		StartedAt: s.startedAt,
	}
	s.mu.Unlock()

	if st.Running {
		st.UptimeSeconds = time.Since(st.StartedAt).Seconds()
	}
	st.TransportConnected = s.transport.IsConnected()
	st.Capture = s.controller.Status()
	st.Streaming = s.batcher.Stats()
	return st
}
