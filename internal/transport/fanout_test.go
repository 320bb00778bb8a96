package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/audio-streamer/internal/wire"
)

type stubTransport struct {
	connected bool
	err       error
	sends     int
}

func (s *stubTransport) IsConnected() bool { return s.connected }

func (s *stubTransport) Send(ctx context.Context, msg *wire.Message) error {
	s.sends++
	return s.err
}

func TestFanOutSend(t *testing.T) {
	tests := []struct {
		name         string
		primaryErr   error
		tapConnected bool
		tapErr       error
		wantErr      bool
		wantTapSends int
	}{
		{"primary ok mirrors to tap", nil, true, nil, false, 1},
		{"primary failure skips tap", errors.New("down"), true, nil, true, 0},
		{"disconnected tap skipped", nil, false, nil, false, 0},
		{"tap failure ignored", nil, true, errors.New("tap down"), false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &stubTransport{connected: true, err: tt.primaryErr}
			tap := &stubTransport{connected: tt.tapConnected, err: tt.tapErr}
			f := NewFanOut(zerolog.Nop(), primary, tap, nil)

			msg, _ := wire.NewMessage(wire.TypeAudioStream, "s", time.Now(), nil)
			err := f.Send(context.Background(), msg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if tap.sends != tt.wantTapSends {
				t.Errorf("Expected %d tap sends, got %d", tt.wantTapSends, tap.sends)
			}
		})
	}
}

func TestFanOutConnectedFollowsPrimary(t *testing.T) {
	primary := &stubTransport{connected: false}
	tap := &stubTransport{connected: true}
	f := NewFanOut(zerolog.Nop(), primary, tap)

	if f.IsConnected() {
		t.Error("Expected fan-out to report primary's disconnected state")
	}
	primary.connected = true
	if !f.IsConnected() {
		t.Error("Expected fan-out to report connected")
	}
}
