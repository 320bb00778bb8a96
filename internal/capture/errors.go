package capture

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// Kind classifies capture failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindDeviceUnavailable
	KindDeviceBusy
	KindNotInitialized
	KindPermissionDenied
	KindFormatUnsupported
	KindLoopbackUnavailable
	KindReadFailed
)

// Sentinels matched by errors.Is against a *CaptureError of the same kind.
var (
	ErrDeviceUnavailable   = errors.New("device unavailable")
	ErrDeviceBusy          = errors.New("device busy")
	ErrNotInitialized      = errors.New("device not initialized")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrFormatUnsupported   = errors.New("format unsupported")
	ErrLoopbackUnavailable = errors.New("loopback capture unavailable")
	ErrReadFailed          = errors.New("read failed")
)

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return "unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case KindDeviceUnavailable:
		return ErrDeviceUnavailable
	case KindDeviceBusy:
		return ErrDeviceBusy
	case KindNotInitialized:
		return ErrNotInitialized
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindFormatUnsupported:
		return ErrFormatUnsupported
	case KindLoopbackUnavailable:
		return ErrLoopbackUnavailable
	case KindReadFailed:
		return ErrReadFailed
	}
	return nil
}

// CaptureError is a fatal failure of the current capture session.
type CaptureError struct {
	Kind   Kind
	Source SourceType
	Op     string
	Err    error
}

func (e *CaptureError) Error() string {
	msg := fmt.Sprintf("capture %s %s: %s", e.Source, e.Op, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *CaptureError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// NewError builds a CaptureError.
func NewError(kind Kind, source SourceType, op string, err error) *CaptureError {
	return &CaptureError{Kind: kind, Source: source, Op: op, Err: err}
}

// KindOf returns the kind of the first CaptureError in err's chain.
func KindOf(err error) Kind {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// classifyPortAudio maps PortAudio failures onto capture kinds.
func classifyPortAudio(err error) Kind {
	var paErr portaudio.Error
	if errors.As(err, &paErr) {
		switch paErr {
		case portaudio.NotInitialized:
			return KindNotInitialized
		case portaudio.InvalidChannelCount, portaudio.InvalidSampleRate, portaudio.SampleFormatNotSupported:
			return KindFormatUnsupported
		case portaudio.DeviceUnavailable:
			return KindDeviceBusy
		case portaudio.InvalidDevice:
			return KindDeviceUnavailable
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not permitted"), strings.Contains(msg, "denied"):
		return KindPermissionDenied
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return KindDeviceBusy
	case strings.Contains(msg, "sample rate"), strings.Contains(msg, "format"):
		return KindFormatUnsupported
	}
	return KindDeviceUnavailable
}
