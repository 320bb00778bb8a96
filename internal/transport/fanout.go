package transport

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lexiqai/audio-streamer/internal/streaming"
	"github.com/lexiqai/audio-streamer/internal/wire"
)

// FanOut delivers to a primary transport and mirrors successful sends to taps.
// Only the primary decides the outcome; tap failures are logged.
type FanOut struct {
	primary streaming.Transport
	taps    []streaming.Transport
	logger  zerolog.Logger
}

// NewFanOut wraps primary. Nil taps are skipped.
func NewFanOut(logger zerolog.Logger, primary streaming.Transport, taps ...streaming.Transport) *FanOut {
	f := &FanOut{primary: primary, logger: logger.With().Str("component", "fanout").Logger()}
	for _, t := range taps {
		if t != nil {
			f.taps = append(f.taps, t)
		}
	}
	return f
}

// IsConnected follows the primary.
func (f *FanOut) IsConnected() bool {
	return f.primary.IsConnected()
}

// Send returns the primary's error. Taps only see messages the primary
// accepted, so retried batches are not mirrored twice.
func (f *FanOut) Send(ctx context.Context, msg *wire.Message) error {
	if err := f.primary.Send(ctx, msg); err != nil {
		return err
	}
	for i, tap := range f.taps {
		if !tap.IsConnected() {
			continue
		}
		if err := tap.Send(ctx, msg); err != nil {
			f.logger.Warn().Err(err).Int("tap", i).Str("type", msg.Type).Msg("Tap send failed")
		}
	}
	return nil
}
