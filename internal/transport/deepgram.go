package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/audio-streamer/internal/observability"
	"github.com/lexiqai/audio-streamer/internal/resilience"
	"github.com/lexiqai/audio-streamer/internal/streaming"
	"github.com/lexiqai/audio-streamer/internal/wire"
)

// Transcript is a transcription result returned by the live STT tap.
type Transcript struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
	StartTime  float64 `json:"start_time"`
	Duration   float64 `json:"duration"`
}

// DeepgramConfig configures the live transcription tap.
type DeepgramConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int

	BreakerMaxFailures int
	BreakerReset       time.Duration
}

// liveClient is the subset of the SDK websocket client the tap drives.
type liveClient interface {
	Connect() bool
	Write(p []byte) (int, error)
	Finish()
}

// callbackHandler embeds the SDK default handler and routes results to the tap.
type callbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse)
}

func (h *callbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	h.onMessage(msg)
	return nil
}

func (h *callbackHandler) Error(resp *msginterfaces.ErrorResponse) error {
	h.onError(resp)
	return nil
}

// Deepgram forwards batch audio to Deepgram live transcription as linear16.
type Deepgram struct {
	cfg     DeepgramConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
	breaker *resilience.CircuitBreaker

	mu     sync.RWMutex
	client liveClient
	active bool
	ctx    context.Context
	cancel context.CancelFunc

	transcripts chan Transcript
	newClient   func(ctx context.Context, cb *callbackHandler) (liveClient, error)
}

// NewDeepgram creates an inactive tap. metrics may be nil.
func NewDeepgram(cfg DeepgramConfig, logger zerolog.Logger, metrics *observability.Metrics) *Deepgram {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = 60 * time.Second
	}

	breaker := resilience.NewCircuitBreaker("deepgram", cfg.BreakerMaxFailures, cfg.BreakerReset)
	breaker.OnStateChange = func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	}

	d := &Deepgram{
		cfg:         cfg,
		logger:      logger.With().Str("component", "deepgram_tap").Logger(),
		metrics:     metrics,
		breaker:     breaker,
		transcripts: make(chan Transcript, 100),
	}
	d.newClient = d.dialSDK
	return d
}

func (d *Deepgram) dialSDK(ctx context.Context, cb *callbackHandler) (liveClient, error) {
	opts := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       d.cfg.Language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.cfg.SampleRate,
	}
	client, err := listenClient.NewWSUsingCallback(ctx, d.cfg.APIKey, nil, opts, cb)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Start opens the live transcription socket.
func (d *Deepgram) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return errors.New("deepgram tap is already active")
	}
	if d.cfg.APIKey == "" {
		return errors.New("deepgram api key is not configured")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	cb := &callbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              d.handleMessage,
		onError:                d.handleError,
	}

	client, err := d.newClient(d.ctx, cb)
	if err != nil {
		d.cancel()
		return fmt.Errorf("failed to create deepgram client: %w", err)
	}
	if !client.Connect() {
		d.cancel()
		return errors.New("failed to connect to deepgram")
	}

	d.client = client
	d.active = true
	observability.SetTransportConnected("deepgram", true)

	d.logger.Info().
		Str("model", d.cfg.Model).
		Str("language", d.cfg.Language).
		Int("sample_rate", d.cfg.SampleRate).
		Msg("Deepgram tap started")
	return nil
}

// IsConnected reports whether the tap accepts audio.
func (d *Deepgram) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active
}

// Send writes the concatenated PCM of an audio_stream batch. Other message
// types are ignored.
func (d *Deepgram) Send(_ context.Context, msg *wire.Message) error {
	if msg == nil || msg.Type != wire.TypeAudioStream {
		return nil
	}
	stream, err := msg.AudioStream()
	if err != nil {
		return err
	}
	pcm, err := stream.PCM()
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}

	return d.breaker.Call(func() error {
		d.mu.RLock()
		client, active := d.client, d.active
		d.mu.RUnlock()

		if !active || client == nil {
			return streaming.ErrNotConnected
		}
		if _, err := client.Write(pcm); err != nil {
			return fmt.Errorf("failed to send audio to deepgram: %w", err)
		}
		return nil
	})
}

// Transcripts delivers interim and final results.
func (d *Deepgram) Transcripts() <-chan Transcript {
	return d.transcripts
}

func (d *Deepgram) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "SpeechStarted":
		d.logger.Debug().Msg("Speech started")

	case "UtteranceEnd":
		d.logger.Debug().Msg("Utterance ended")

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		start, duration := msg.Start, msg.Duration
		if duration == 0 && len(alt.Words) > 0 {
			start = alt.Words[0].Start
			duration = alt.Words[len(alt.Words)-1].End - start
		}

		t := Transcript{
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: alt.Confidence,
			StartTime:  start,
			Duration:   duration,
		}
		if d.metrics != nil {
			d.metrics.RecordTranscript(t.IsFinal)
		}

		select {
		case d.transcripts <- t:
			d.logger.Debug().Bool("final", t.IsFinal).Str("text", t.Text).Msg("Transcript received")
		default:
			d.logger.Warn().Msg("Transcript channel full, dropping transcript")
		}

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Ignoring deepgram message")
	}
}

func (d *Deepgram) handleError(resp *msginterfaces.ErrorResponse) {
	d.logger.Error().Interface("response", resp).Msg("Deepgram error")
	d.breaker.RecordResult(false)
	if d.metrics != nil {
		d.metrics.RecordError("stt_error", "deepgram")
	}

	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
	observability.SetTransportConnected("deepgram", false)
}

// Close finishes the stream. Safe to call on an inactive tap.
func (d *Deepgram) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	if !d.active {
		return nil
	}
	d.client.Finish()
	d.active = false
	observability.SetTransportConnected("deepgram", false)
	d.logger.Info().Msg("Deepgram tap stopped")
	return nil
}
