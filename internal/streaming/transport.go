package streaming

import (
	"context"
	"errors"

	"github.com/lexiqai/audio-streamer/internal/wire"
)

// ErrNotConnected is reported when the transport has no live connection.
// The batcher counts it as a failed attempt.
var ErrNotConnected = errors.New("transport not connected")

// Transport is the persistent connection batches are delivered over.
// Reconnection and session identity are the implementation's concern.
type Transport interface {
	IsConnected() bool
	Send(ctx context.Context, msg *wire.Message) error
}
