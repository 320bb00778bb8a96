// Package streaming turns voice-tagged chunks into batched wire messages and
// delivers them to a Transport with bounded retries.
package streaming

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/audio-streamer/internal/audio"
	"github.com/lexiqai/audio-streamer/internal/observability"
	"github.com/lexiqai/audio-streamer/internal/resilience"
	"github.com/lexiqai/audio-streamer/internal/wire"
)

// Config holds batching and delivery parameters.
type Config struct {
	SessionID           string
	ConfidenceThreshold float64       // minimum confidence for a voice chunk to be kept
	MaxBatchBytes       int           // flush once the batch holds this many PCM bytes
	MaxBatchInterval    time.Duration // flush once the oldest chunk is this old; 0 disables
	MaxBatchChunks      int           // flush once the batch holds this many chunks
	MaxAttempts         int           // send attempts per batch, including the first
	RetryBaseDelay      time.Duration // delay after attempt n is RetryBaseDelay * n
	PollInterval        time.Duration // longest wait on the queue between checks
	FinalFlushTimeout   time.Duration // bound on the single send made by Stop
}

// DefaultConfig returns the default batcher configuration.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.6,
		MaxBatchBytes:       64 * 1024,
		MaxBatchInterval:    time.Second,
		MaxBatchChunks:      10,
		MaxAttempts:         3,
		RetryBaseDelay:      100 * time.Millisecond,
		PollInterval:        50 * time.Millisecond,
		FinalFlushTimeout:   2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = d.MaxBatchBytes
	}
	if c.MaxBatchChunks <= 0 {
		c.MaxBatchChunks = d.MaxBatchChunks
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryBaseDelay < 0 {
		c.RetryBaseDelay = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.FinalFlushTimeout <= 0 {
		c.FinalFlushTimeout = d.FinalFlushTimeout
	}
	if c.MaxBatchInterval < 0 {
		c.MaxBatchInterval = 0
	}
	return c
}

// Batcher drains a ChunkQueue on its own goroutine, accumulates eligible
// chunks and sends each completed batch to the Transport.
type Batcher struct {
	cfg       Config
	queue     *audio.ChunkQueue
	transport Transport
	logger    zerolog.Logger
	metrics   *observability.Metrics
	retry     *resilience.RetryConfig

	// Owned by the worker while running, by Stop afterwards.
	batch      []audio.Chunk
	batchBytes int
	batchStart time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	stats counters
}

// New creates a batcher reading from queue and sending to transport.
func New(cfg Config, queue *audio.ChunkQueue, transport Transport, logger zerolog.Logger, metrics *observability.Metrics) *Batcher {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = observability.NewSessionMetrics(cfg.SessionID)
	}

	b := &Batcher{
		cfg:       cfg,
		queue:     queue,
		transport: transport,
		logger:    logger.With().Str("component", "batcher").Logger(),
		metrics:   metrics,
	}
	b.retry = &resilience.RetryConfig{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.RetryBaseDelay,
		Strategy:       resilience.BackoffLinear,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			b.stats.retries.Add(1)
			b.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", cfg.MaxAttempts).
				Dur("backoff", delay).
				Msg("Batch send failed, retrying")
		},
	}
	b.stats.reset()
	return b
}

// Start launches the worker. Calling Start on a running batcher is a no-op.
func (b *Batcher) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true

	go b.run(ctx, b.done)

	b.logger.Info().
		Int("max_batch_bytes", b.cfg.MaxBatchBytes).
		Int("max_batch_chunks", b.cfg.MaxBatchChunks).
		Dur("max_batch_interval", b.cfg.MaxBatchInterval).
		Msg("Streaming started")
}

// Stop halts the worker, then makes one send attempt for a pending batch.
// Nothing is delivered after Stop returns. Calling Stop twice is a no-op.
func (b *Batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.cancel()
	<-b.done
	b.running = false

	if len(b.batch) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.FinalFlushTimeout)
		b.flush(ctx, 1)
		if len(b.batch) > 0 {
			b.dropBatch(ctx.Err())
		}
		cancel()
	}

	b.logger.Info().
		Uint64("batches_sent", b.stats.batchesSent.Load()).
		Uint64("errors", b.stats.errors.Load()).
		Msg("Streaming stopped")
}

// IsRunning reports whether the worker is active.
func (b *Batcher) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Batcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		wait := b.cfg.PollInterval
		if len(b.batch) > 0 && b.cfg.MaxBatchInterval > 0 {
			remaining := b.cfg.MaxBatchInterval - time.Since(b.batchStart)
			if remaining <= 0 {
				b.flush(ctx, b.cfg.MaxAttempts)
				continue
			}
			if remaining < wait {
				wait = remaining
			}
		}

		if chunk, ok := b.queue.Pop(ctx, wait); ok {
			b.add(ctx, chunk)
		}
		b.metrics.UpdateQueueDepth(b.queue.Len())
	}
}

// add applies the eligibility filter and the size and count triggers.
func (b *Batcher) add(ctx context.Context, c audio.Chunk) {
	b.stats.received.Add(1)

	if !b.eligible(c) {
		b.stats.discarded.Add(1)
		b.metrics.RecordChunkDiscarded()
		return
	}

	if len(b.batch) > 0 && b.batchBytes+c.Size() > b.cfg.MaxBatchBytes {
		b.flush(ctx, b.cfg.MaxAttempts)
	}

	if len(b.batch) == 0 {
		b.batchStart = time.Now()
	}
	b.batch = append(b.batch, c)
	b.batchBytes += c.Size()
	b.stats.depth.Store(int64(len(b.batch)))

	if b.batchBytes >= b.cfg.MaxBatchBytes || len(b.batch) >= b.cfg.MaxBatchChunks {
		b.flush(ctx, b.cfg.MaxAttempts)
	}
}

func (b *Batcher) eligible(c audio.Chunk) bool {
	return c.Detection.HasVoice && c.Detection.Confidence >= b.cfg.ConfidenceThreshold
}

// flush sends the current batch with up to attempts tries. The batch is
// cleared on success or exhaustion and kept when ctx ends first.
func (b *Batcher) flush(ctx context.Context, attempts int) {
	if len(b.batch) == 0 {
		return
	}

	msg, err := wire.NewAudioStream(b.cfg.SessionID, b.batch, time.Now())
	if err != nil {
		b.stats.errors.Add(1)
		b.metrics.RecordError("serialize", "batcher")
		b.logger.Error().Err(err).Int("chunks", len(b.batch)).Msg("Failed to serialize batch, dropping")
		b.clearBatch()
		return
	}

	retry := *b.retry
	retry.MaxAttempts = attempts

	err = resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
		sendErr := b.send(ctx, msg)
		b.metrics.RecordSendAttempt(sendErr == nil)
		if sendErr != nil {
			b.stats.sendFailures.Add(1)
		}
		return sendErr
	}, &retry, nil)

	switch {
	case err == nil:
		b.stats.batchesSent.Add(1)
		b.stats.chunksSent.Add(uint64(len(b.batch)))
		b.stats.bytesSent.Add(uint64(b.batchBytes))
		b.metrics.RecordBatchSent(b.batchBytes)
		b.logger.Debug().
			Int("chunks", len(b.batch)).
			Int("bytes", b.batchBytes).
			Msg("Batch delivered")
		b.clearBatch()

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if ctx.Err() == nil {
			// the transport itself timed out; treat as an exhausted send
			b.dropBatch(err)
			return
		}
		b.logger.Debug().Int("chunks", len(b.batch)).Msg("Flush interrupted, keeping batch")

	default:
		b.dropBatch(err)
	}
}

func (b *Batcher) send(ctx context.Context, msg *wire.Message) error {
	if b.transport == nil || !b.transport.IsConnected() {
		return ErrNotConnected
	}
	return b.transport.Send(ctx, msg)
}

func (b *Batcher) dropBatch(err error) {
	b.stats.errors.Add(1)
	b.metrics.RecordBatchDropped()
	b.metrics.RecordError("send", "batcher")
	b.logger.Error().
		Err(err).
		Int("chunks", len(b.batch)).
		Int("bytes", b.batchBytes).
		Msg("Dropping batch after failed delivery")
	b.clearBatch()
}

func (b *Batcher) clearBatch() {
	b.batch = nil
	b.batchBytes = 0
	b.batchStart = time.Time{}
	b.stats.depth.Store(0)
}
