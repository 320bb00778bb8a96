package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/audio-streamer/internal/audio"
	"github.com/lexiqai/audio-streamer/internal/observability"
	"github.com/lexiqai/audio-streamer/internal/vad"
)

// Config holds capture settings.
type Config struct {
	SampleRate      int
	FramesPerChunk  int
	Preference      Preference
	DeviceName      string
	ExcludedDevices []string
	ReplayFile      string // replaces device capture when set
	ReplayLoop      bool
}

// DefaultConfig returns 16 kHz capture in 20 ms chunks with adaptive selection.
func DefaultConfig() Config {
	return Config{
		SampleRate:     16000,
		FramesPerChunk: 320,
		Preference:     PreferAdaptive,
	}
}

// Status is a snapshot of capture health.
type Status struct {
	Active         bool          `json:"active"`
	Source         SourceType    `json:"source,omitempty"`
	Preference     Preference    `json:"preference"`
	FellBack       bool          `json:"fell_back"`
	SampleRate     int           `json:"sample_rate"`
	BufferSize     int           `json:"buffer_size"`
	AverageLatency time.Duration `json:"average_latency_ns"`
	ChunksCaptured uint64        `json:"chunks_captured"`
	DroppedFrames  uint64        `json:"dropped_frames"`
	QueueDepth     int           `json:"queue_depth"`
	VAD            vad.Status    `json:"vad"`
	LastError      string        `json:"last_error,omitempty"`
}

// Controller owns one open Source and the detector, and runs the capture loop.
type Controller struct {
	cfg      Config
	factory  SourceFactory
	detector *vad.Detector
	queue    *audio.ChunkQueue
	logger   zerolog.Logger
	metrics  *observability.Metrics
	errCh    chan error

	mu         sync.Mutex
	running    bool
	source     Source
	sourceType SourceType
	lastType   SourceType
	fellBack   bool
	onChunk    func(audio.Chunk)
	cancel     context.CancelFunc
	done       chan struct{}

	active       atomic.Bool
	seq          atomic.Uint64
	captured     atomic.Uint64
	dropped      atomic.Uint64
	latencyTotal atomic.Int64
	lastErr      atomic.Value // string
}

// NewController wires a controller. A nil factory uses DefaultFactory.
func NewController(cfg Config, factory SourceFactory, detector *vad.Detector, queue *audio.ChunkQueue, logger zerolog.Logger, metrics *observability.Metrics) *Controller {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}
	if cfg.FramesPerChunk <= 0 {
		cfg.FramesPerChunk = audio.FramesForDuration(cfg.SampleRate, 20)
	}
	if cfg.Preference == "" {
		cfg.Preference = PreferAdaptive
	}
	if factory == nil {
		factory = DefaultFactory{ReplayFile: cfg.ReplayFile, ReplayLoop: cfg.ReplayLoop}
	}
	if detector == nil {
		detector = vad.New(vad.DefaultConfig())
	}
	if queue == nil {
		queue = audio.NewChunkQueue(audio.DefaultQueueCapacity)
	}
	if metrics == nil {
		metrics = observability.NewSessionMetrics("")
	}

	c := &Controller{
		cfg:      cfg,
		factory:  factory,
		detector: detector,
		queue:    queue,
		logger:   logger.With().Str("component", "capture").Logger(),
		metrics:  metrics,
		errCh:    make(chan error, 1),
	}
	c.lastErr.Store("")
	return c
}

// Queue returns the hand-off queue the controller pushes to.
func (c *Controller) Queue() *audio.ChunkQueue {
	return c.queue
}

// Errors delivers fatal capture errors raised after Start returned.
func (c *Controller) Errors() <-chan error {
	return c.errCh
}

// Start opens a source according to the preference and launches the capture
// worker. Open failures are returned as *CaptureError. onChunk, if not nil,
// runs on the worker for every analyzed chunk before it is queued.
func (c *Controller) Start(ctx context.Context, onChunk func(audio.Chunk)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx, onChunk)
}

func (c *Controller) startLocked(ctx context.Context, onChunk func(audio.Chunk)) error {
	if c.running {
		if c.active.Load() {
			return nil
		}
		// The previous worker exited on its own; reap it before reopening.
		c.stopLocked()
	}

	src, fellBack, err := c.openSource()
	if err != nil {
		c.lastErr.Store(err.Error())
		c.metrics.RecordError("open", "capture")
		return err
	}

	// Ambient profiles differ between sources.
	if c.lastType != "" && c.lastType != src.Type() {
		c.detector.ResetCalibration()
		c.logger.Info().
			Str("from", string(c.lastType)).
			Str("to", string(src.Type())).
			Msg("Capture source changed, recalibrating")
	}

	c.source = src
	c.sourceType = src.Type()
	c.lastType = src.Type()
	c.fellBack = fellBack
	c.onChunk = onChunk
	c.lastErr.Store("")

	wctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.active.Store(true)
	c.metrics.SetCaptureActive(true)

	go c.run(wctx, src, onChunk, c.done)

	c.logger.Info().
		Str("source", string(src.Type())).
		Str("preference", string(c.cfg.Preference)).
		Bool("fell_back", fellBack).
		Int("sample_rate", c.cfg.SampleRate).
		Int("frames_per_chunk", c.cfg.FramesPerChunk).
		Msg("Capture started")
	return nil
}

// openSource applies the fallback policy: system_audio falls back to the
// microphone only when loopback is unsupported, adaptive on any loopback failure.
func (c *Controller) openSource() (Source, bool, error) {
	if c.cfg.ReplayFile != "" {
		src, err := c.tryOpen(SourceFile)
		return src, false, err
	}

	switch c.cfg.Preference {
	case PreferMicrophone:
		src, err := c.tryOpen(SourceMicrophone)
		return src, false, err

	case PreferSystemAudio, PreferAdaptive:
		src, err := c.tryOpen(SourceSystemAudio)
		if err == nil {
			return src, false, nil
		}
		if c.cfg.Preference == PreferSystemAudio && KindOf(err) != KindLoopbackUnavailable {
			return nil, false, err
		}

		c.logger.Warn().Err(err).Msg("System audio unavailable, falling back to microphone")
		src, micErr := c.tryOpen(SourceMicrophone)
		if micErr != nil {
			return nil, false, micErr
		}
		return src, true, nil

	default:
		return nil, false, fmt.Errorf("unknown source preference %q", c.cfg.Preference)
	}
}

func (c *Controller) tryOpen(t SourceType) (Source, error) {
	src, err := c.factory.NewSource(t)
	if err != nil {
		return nil, asCaptureError(err, KindDeviceUnavailable, t, "create")
	}
	if err := src.Open(c.sourceConfig()); err != nil {
		_ = src.Close()
		return nil, asCaptureError(err, classifyPortAudio(err), t, "open")
	}
	return src, nil
}

func (c *Controller) sourceConfig() SourceConfig {
	return SourceConfig{
		SampleRate:      c.cfg.SampleRate,
		FramesPerChunk:  c.cfg.FramesPerChunk,
		DeviceName:      c.cfg.DeviceName,
		ExcludedDevices: c.cfg.ExcludedDevices,
	}
}

// run owns src: it closes it on every exit path, including cancellation of
// the parent context handed to Start.
func (c *Controller) run(ctx context.Context, src Source, onChunk func(audio.Chunk), done chan struct{}) {
	defer close(done)
	defer func() {
		c.active.Store(false)
		c.metrics.SetCaptureActive(false)
		if err := src.Close(); err != nil {
			c.logger.Warn().Err(err).Str("source", string(src.Type())).Msg("Failed to close capture source")
		}
	}()

	buf := make([]int16, c.cfg.FramesPerChunk)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := src.ReadChunk(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.fail(src.Type(), err)
			return
		}
		if n == 0 {
			continue
		}

		readAt := time.Now()
		samples := buf[:n]
		det := c.detector.Analyze(samples, c.cfg.SampleRate)
		chunk := audio.NewChunk(c.seq.Add(1), samples, c.cfg.SampleRate, readAt, string(src.Type()), det)

		if onChunk != nil {
			onChunk(chunk)
		}

		if !c.queue.TryPush(chunk) {
			dropped := c.dropped.Add(1)
			c.metrics.RecordChunkDropped()
			if dropped == 1 || dropped%50 == 0 {
				c.logger.Warn().
					Uint64("dropped", dropped).
					Int("queue_capacity", c.queue.Cap()).
					Msg("Hand-off queue full, dropping chunk")
			}
		}

		latency := time.Since(readAt)
		c.captured.Add(1)
		c.latencyTotal.Add(int64(latency))
		c.metrics.RecordChunkCaptured(string(src.Type()), latency, det.HasVoice)
		c.metrics.UpdateQueueDepth(c.queue.Len())
		if c.captured.Load()%50 == 0 {
			st := c.detector.Status()
			c.metrics.UpdateVAD(st.Threshold, st.Calibrating)
		}
	}
}

// fail records a fatal read error and hands it to Errors without blocking.
func (c *Controller) fail(t SourceType, err error) {
	c.active.Store(false)
	c.metrics.SetCaptureActive(false)

	if errors.Is(err, io.EOF) {
		c.logger.Info().Str("source", string(t)).Msg("Capture source exhausted")
	} else {
		err = asCaptureError(err, KindReadFailed, t, "read")
		c.metrics.RecordError("read", "capture")
		c.logger.Error().Err(err).Str("source", string(t)).Msg("Capture failed")
	}
	c.lastErr.Store(err.Error())

	select {
	case c.errCh <- err:
	default:
	}
}

// Stop ends the worker and closes the source. No chunk is delivered after
// Stop returns. It is safe to call from any goroutine and more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if !c.running {
		return
	}

	// The worker closes the source before done is closed.
	c.cancel()
	<-c.done

	c.running = false
	c.source = nil
	c.active.Store(false)
	c.metrics.SetCaptureActive(false)

	c.logger.Info().
		Uint64("chunks_captured", c.captured.Load()).
		Uint64("dropped", c.dropped.Load()).
		Msg("Capture stopped")
}

// SwitchSource restarts capture with a new preference and the same callback.
func (c *Controller) SwitchSource(ctx context.Context, pref Preference) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	onChunk := c.onChunk
	c.stopLocked()
	c.cfg.Preference = pref
	return c.startLocked(ctx, onChunk)
}

// Status builds a capture snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		Source:     c.sourceType,
		Preference: c.cfg.Preference,
		FellBack:   c.fellBack,
		SampleRate: c.cfg.SampleRate,
		BufferSize: c.cfg.FramesPerChunk,
	}
	c.mu.Unlock()

	st.Active = c.active.Load()
	st.ChunksCaptured = c.captured.Load()
	st.DroppedFrames = c.dropped.Load()
	st.QueueDepth = c.queue.Len()
	st.VAD = c.detector.Status()
	st.LastError, _ = c.lastErr.Load().(string)
	if st.ChunksCaptured > 0 {
		st.AverageLatency = time.Duration(c.latencyTotal.Load() / int64(st.ChunksCaptured))
	}
	return st
}

// asCaptureError keeps an existing *CaptureError and wraps anything else as kind.
func asCaptureError(err error, kind Kind, t SourceType, op string) error {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return err
	}
	return NewError(kind, t, op, err)
}
