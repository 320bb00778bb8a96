package capture

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/audio-streamer/internal/audio"
	"github.com/lexiqai/audio-streamer/internal/vad"
)

type fakeSource struct {
	kind    SourceType
	openErr error
	readErr error
	delay   time.Duration
	sample  int16

	mu     sync.Mutex
	opened bool
	closed bool
	reads  int
}

func (s *fakeSource) Type() SourceType { return s.kind }

func (s *fakeSource) Open(cfg SourceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.opened = true
	s.closed = false
	return nil
}

func (s *fakeSource) ReadChunk(buf []int16) (int, error) {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.readErr != nil && s.reads > 3 {
		return 0, s.readErr
	}
	for i := range buf {
		buf[i] = s.sample
	}
	return len(buf), nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = nil
	s.reads = 0
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeFactory struct {
	sources map[SourceType]*fakeSource
	created []SourceType
}

func (f *fakeFactory) NewSource(t SourceType) (Source, error) {
	f.created = append(f.created, t)
	src, ok := f.sources[t]
	if !ok {
		return nil, errors.New("no such source")
	}
	return src, nil
}

func testCaptureConfig(pref Preference) Config {
	return Config{SampleRate: 16000, FramesPerChunk: 160, Preference: pref}
}

func newTestController(t *testing.T, pref Preference, f *fakeFactory, queueCap int) *Controller {
	t.Helper()
	return NewController(testCaptureConfig(pref), f, vad.New(vad.DefaultConfig()), audio.NewChunkQueue(queueCap), zerolog.Nop(), nil)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestController_StartAndTagChunks(t *testing.T) {
	mic := &fakeSource{kind: SourceMicrophone, delay: time.Millisecond}
	c := newTestController(t, PreferMicrophone, &fakeFactory{sources: map[SourceType]*fakeSource{SourceMicrophone: mic}}, 50)

	var seen atomic.Int64
	if err := c.Start(context.Background(), func(ch audio.Chunk) {
		if ch.Source != string(SourceMicrophone) {
			t.Errorf("Expected source microphone, got %s", ch.Source)
		}
		if ch.Duration != 10*time.Millisecond {
			t.Errorf("Expected 10ms chunk, got %v", ch.Duration)
		}
		seen.Add(1)
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitUntil(t, func() bool { return c.Queue().Len() >= 5 })
	c.Stop()

	if !mic.isClosed() {
		t.Error("Expected source to be closed after stop")
	}
	status := c.Status()
	if status.Active {
		t.Error("Expected capture to be inactive after stop")
	}
	if status.ChunksCaptured == 0 || uint64(seen.Load()) != status.ChunksCaptured {
		t.Errorf("Expected callback for every captured chunk, got %d callbacks for %d chunks", seen.Load(), status.ChunksCaptured)
	}

	first, _ := c.Queue().Pop(context.Background(), time.Millisecond)
	second, _ := c.Queue().Pop(context.Background(), time.Millisecond)
	if second.Sequence != first.Sequence+1 {
		t.Errorf("Expected consecutive sequences, got %d then %d", first.Sequence, second.Sequence)
	}
}

func TestController_DropsWhenQueueFull(t *testing.T) {
	mic := &fakeSource{kind: SourceMicrophone}
	c := newTestController(t, PreferMicrophone, &fakeFactory{sources: map[SourceType]*fakeSource{SourceMicrophone: mic}}, 2)

	if err := c.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitUntil(t, func() bool { return c.Status().DroppedFrames >= 10 })
	c.Stop()

	status := c.Status()
	if c.Queue().Len() != 2 {
		t.Errorf("Expected full queue of 2, got %d", c.Queue().Len())
	}
	if status.ChunksCaptured != status.DroppedFrames+2 {
		t.Errorf("Expected captured = dropped + queued, got %d vs %d+2", status.ChunksCaptured, status.DroppedFrames)
	}
}

func TestController_OpenErrorReturned(t *testing.T) {
	mic := &fakeSource{kind: SourceMicrophone, openErr: NewError(KindPermissionDenied, SourceMicrophone, "open", nil)}
	c := newTestController(t, PreferMicrophone, &fakeFactory{sources: map[SourceType]*fakeSource{SourceMicrophone: mic}}, 5)

	err := c.Start(context.Background(), nil)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Expected permission denied, got %v", err)
	}
	status := c.Status()
	if status.Active {
		t.Error("Expected inactive status after failed start")
	}
	if status.LastError == "" {
		t.Error("Expected last error to be recorded")
	}
}

func TestController_FallbackPolicy(t *testing.T) {
	loopbackMissing := NewError(KindLoopbackUnavailable, SourceSystemAudio, "open", nil)
	loopbackBusy := NewError(KindDeviceBusy, SourceSystemAudio, "open", nil)

	tests := []struct {
		name       string
		pref       Preference
		loopErr    error
		wantSource SourceType
		wantErr    error
	}{
		{"system audio available", PreferSystemAudio, nil, SourceSystemAudio, nil},
		{"system audio unsupported falls back", PreferSystemAudio, loopbackMissing, SourceMicrophone, nil},
		{"system audio busy is fatal", PreferSystemAudio, loopbackBusy, "", ErrDeviceBusy},
		{"adaptive falls back on any failure", PreferAdaptive, loopbackBusy, SourceMicrophone, nil},
		{"adaptive prefers loopback", PreferAdaptive, nil, SourceSystemAudio, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFactory{sources: map[SourceType]*fakeSource{
				SourceMicrophone:  {kind: SourceMicrophone, delay: time.Millisecond},
				SourceSystemAudio: {kind: SourceSystemAudio, delay: time.Millisecond, openErr: tt.loopErr},
			}}
			c := newTestController(t, tt.pref, f, 5)

			err := c.Start(context.Background(), nil)
			defer c.Stop()

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			status := c.Status()
			if status.Source != tt.wantSource {
				t.Errorf("Expected source %s, got %s", tt.wantSource, status.Source)
			}
			if status.FellBack != (tt.wantSource != SourceSystemAudio) {
				t.Errorf("Unexpected fallback flag %v", status.FellBack)
			}
		})
	}
}

func TestController_ReadErrorIsFatal(t *testing.T) {
	mic := &fakeSource{kind: SourceMicrophone, readErr: errors.New("device vanished")}
	c := newTestController(t, PreferMicrophone, &fakeFactory{sources: map[SourceType]*fakeSource{SourceMicrophone: mic}}, 50)

	if err := c.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	select {
	case err := <-c.Errors():
		if !errors.Is(err, ErrReadFailed) {
			t.Errorf("Expected read failure, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected fatal error to be surfaced")
	}

	if c.Status().Active {
		t.Error("Expected status inactive after fatal error")
	}
}

func TestController_RestartAfterFatalError(t *testing.T) {
	mic := &fakeSource{kind: SourceMicrophone, delay: time.Millisecond, readErr: errors.New("device vanished")}
	f := &fakeFactory{sources: map[SourceType]*fakeSource{SourceMicrophone: mic}}
	c := newTestController(t, PreferMicrophone, f, 500)

	if err := c.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	select {
	case <-c.Errors():
	case <-time.After(time.Second):
		t.Fatal("Expected fatal error to be surfaced")
	}
	waitUntil(t, mic.isClosed)
	before := c.Status().ChunksCaptured

	mic.heal()
	if err := c.Start(context.Background(), nil); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}

	if len(f.created) != 2 {
		t.Errorf("Expected a new source to be created on restart, got %d creations", len(f.created))
	}
	if !c.Status().Active {
		t.Error("Expected capture to be active after restart")
	}
	waitUntil(t, func() bool { return c.Status().ChunksCaptured >= before+5 })
}

func TestController_ParentCancelMarksInactive(t *testing.T) {
	mic := &fakeSource{kind: SourceMicrophone, delay: time.Millisecond}
	c := newTestController(t, PreferMicrophone, &fakeFactory{sources: map[SourceType]*fakeSource{SourceMicrophone: mic}}, 500)

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	waitUntil(t, func() bool { return c.Status().ChunksCaptured > 0 })
	cancel()

	waitUntil(t, func() bool { return !c.Status().Active })
	waitUntil(t, mic.isClosed)

	// A fresh Start after the parent context ended opens the source again.
	if err := c.Start(context.Background(), nil); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if mic.isClosed() {
		t.Error("Expected source to be reopened after restart")
	}
}

func TestController_StopIsBoundedAndFinal(t *testing.T) {
	mic := &fakeSource{kind: SourceMicrophone, delay: 10 * time.Millisecond}
	c := newTestController(t, PreferMicrophone, &fakeFactory{sources: map[SourceType]*fakeSource{SourceMicrophone: mic}}, 50)

	var delivered atomic.Int64
	if err := c.Start(context.Background(), func(audio.Chunk) { delivered.Add(1) }); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitUntil(t, func() bool { return delivered.Load() >= 2 })

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Stop did not return in time")
	}

	after := delivered.Load()
	time.Sleep(50 * time.Millisecond)
	if delivered.Load() != after {
		t.Errorf("Expected no chunks after stop, got %d more", delivered.Load()-after)
	}

	c.Stop()
}

func TestController_SwitchSourceResetsCalibration(t *testing.T) {
	f := &fakeFactory{sources: map[SourceType]*fakeSource{
		SourceMicrophone:  {kind: SourceMicrophone},
		SourceSystemAudio: {kind: SourceSystemAudio},
	}}
	c := newTestController(t, PreferMicrophone, f, 500)

	if err := c.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitUntil(t, func() bool { return !c.Status().VAD.Calibrating })

	if err := c.SwitchSource(context.Background(), PreferSystemAudio); err != nil {
		t.Fatalf("SwitchSource failed: %v", err)
	}
	c.Stop()

	status := c.Status()
	if status.Source != SourceSystemAudio {
		t.Errorf("Expected system audio after switch, got %s", status.Source)
	}
	if status.VAD.Analyzed == 0 {
		t.Error("Expected the detector to have analyzed chunks")
	}
	if !f.sources[SourceMicrophone].isClosed() {
		t.Error("Expected the previous source to be closed")
	}
}

func TestController_VoiceTagged(t *testing.T) {
	mic := &fakeSource{kind: SourceMicrophone}
	c := newTestController(t, PreferMicrophone, &fakeFactory{sources: map[SourceType]*fakeSource{SourceMicrophone: mic}}, 500)

	var voiced atomic.Int64
	if err := c.Start(context.Background(), func(ch audio.Chunk) {
		if ch.Detection.Confidence < 0 || ch.Detection.Confidence > 1 || math.IsNaN(ch.Detection.Confidence) {
			t.Errorf("Confidence out of range: %f", ch.Detection.Confidence)
		}
		if ch.Detection.HasVoice {
			voiced.Add(1)
		}
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitUntil(t, func() bool { return c.Status().ChunksCaptured >= 60 })
	c.Stop()

	if voiced.Load() != 0 {
		t.Errorf("Expected silent source to produce no voice chunks, got %d", voiced.Load())
	}
}
