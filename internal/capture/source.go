package capture

import (
	"fmt"
	"strings"
)

// SourceType identifies a capture source variant.
type SourceType string

const (
	SourceMicrophone  SourceType = "microphone"
	SourceSystemAudio SourceType = "system_audio"
	SourceFile        SourceType = "file"
)

// Preference is the requested source selection policy.
type Preference string

const (
	PreferMicrophone  Preference = "microphone"
	PreferSystemAudio Preference = "system_audio"
	PreferAdaptive    Preference = "adaptive"
)

// ParsePreference accepts microphone, system_audio or adaptive.
func ParsePreference(s string) (Preference, error) {
	switch p := Preference(strings.ToLower(strings.TrimSpace(s))); p {
	case PreferMicrophone, PreferSystemAudio, PreferAdaptive:
		return p, nil
	case "system-audio", "system":
		return PreferSystemAudio, nil
	case "":
		return PreferAdaptive, nil
	default:
		return "", fmt.Errorf("unknown source preference %q", s)
	}
}

// SourceConfig is what a source needs to open.
type SourceConfig struct {
	SampleRate      int
	FramesPerChunk  int
	DeviceName      string
	ExcludedDevices []string
}

// Source produces fixed-size blocks of mono 16-bit PCM.
//
// ReadChunk blocks for at most about one chunk duration. Close is idempotent.
// A source is used by one goroutine at a time.
type Source interface {
	Type() SourceType
	Open(cfg SourceConfig) error
	ReadChunk(buf []int16) (int, error)
	Close() error
}

// SourceFactory creates an unopened source of the given type.
type SourceFactory interface {
	NewSource(t SourceType) (Source, error)
}

// DefaultFactory builds PortAudio sources, or a file source when ReplayFile is set.
type DefaultFactory struct {
	ReplayFile string
	ReplayLoop bool
}

// NewSource implements SourceFactory.
func (f DefaultFactory) NewSource(t SourceType) (Source, error) {
	switch t {
	case SourceMicrophone:
		return NewMicrophoneSource(), nil
	case SourceSystemAudio:
		return NewLoopbackSource(), nil
	case SourceFile:
		if f.ReplayFile == "" {
			return nil, NewError(KindDeviceUnavailable, SourceFile, "create", fmt.Errorf("no replay file configured"))
		}
		return NewFileSource(f.ReplayFile, f.ReplayLoop), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", t)
	}
}
