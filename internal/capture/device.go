package capture

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	systemKeywords    = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower", "stereo mix"}
	micKeywords       = []string{"microphone", "input", "mic", "built-in"}
	preferredKeywords = []string{"macbook", "built-in"}
)

// deviceSource reads from a PortAudio input stream in blocking mode.
type deviceSource struct {
	kind     SourceType
	loopback bool

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	device string
	open   bool
}

// MicrophoneSource captures from a physical input device.
type MicrophoneSource struct{ deviceSource }

// LoopbackSource captures system output through a loopback input device.
type LoopbackSource struct{ deviceSource }

// NewMicrophoneSource creates an unopened microphone source.
func NewMicrophoneSource() *MicrophoneSource {
	return &MicrophoneSource{deviceSource{kind: SourceMicrophone}}
}

// NewLoopbackSource creates an unopened loopback source.
func NewLoopbackSource() *LoopbackSource {
	return &LoopbackSource{deviceSource{kind: SourceSystemAudio, loopback: true}}
}

func (s *deviceSource) Type() SourceType { return s.kind }

// DeviceName returns the name of the opened device.
func (s *deviceSource) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

func (s *deviceSource) Open(cfg SourceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return NewError(KindDeviceBusy, s.kind, "open", errors.New("source already open"))
	}
	if cfg.SampleRate <= 0 || cfg.FramesPerChunk <= 0 {
		return NewError(KindFormatUnsupported, s.kind, "open",
			fmt.Errorf("invalid format: %d Hz, %d frames", cfg.SampleRate, cfg.FramesPerChunk))
	}

	if err := portaudio.Initialize(); err != nil {
		return NewError(KindNotInitialized, s.kind, "initialize", err)
	}

	dev, err := s.selectDevice(cfg)
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerChunk,
	}

	buf := make([]int16, cfg.FramesPerChunk)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return NewError(classifyPortAudio(err), s.kind, "open "+dev.Name, err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return NewError(classifyPortAudio(err), s.kind, "start "+dev.Name, err)
	}

	s.stream = stream
	s.buf = buf
	s.device = dev.Name
	s.open = true
	return nil
}

func (s *deviceSource) selectDevice(cfg SourceConfig) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, NewError(classifyPortAudio(err), s.kind, "enumerate", err)
	}

	if s.loopback {
		for _, dev := range devices {
			if dev.MaxInputChannels < 1 || isExcluded(dev.Name, cfg.ExcludedDevices) {
				continue
			}
			if cfg.DeviceName != "" && !containsFold(dev.Name, cfg.DeviceName) {
				continue
			}
			if classifyDevice(dev.Name) == SourceSystemAudio {
				return dev, nil
			}
		}
		return nil, NewError(KindLoopbackUnavailable, s.kind, "open", errors.New("no loopback input device found"))
	}

	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || isExcluded(dev.Name, cfg.ExcludedDevices) {
			continue
		}
		if cfg.DeviceName != "" {
			if containsFold(dev.Name, cfg.DeviceName) {
				return dev, nil
			}
			continue
		}
		if classifyDevice(dev.Name) != SourceMicrophone {
			continue
		}
		if best == nil || preferDevice(dev.Name, best.Name) {
			best = dev
		}
	}
	if best != nil {
		return best, nil
	}
	if cfg.DeviceName != "" {
		return nil, NewError(KindDeviceUnavailable, s.kind, "open", fmt.Errorf("no input device matching %q", cfg.DeviceName))
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, NewError(classifyPortAudio(err), s.kind, "open default", err)
	}
	return dev, nil
}

func (s *deviceSource) ReadChunk(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return 0, NewError(KindNotInitialized, s.kind, "read", errors.New("source not open"))
	}

	if err := s.stream.Read(); err != nil {
		// Overflow still delivers a full buffer; earlier samples were lost.
		if !errors.Is(err, portaudio.InputOverflowed) {
			return 0, NewError(KindReadFailed, s.kind, "read "+s.device, err)
		}
	}
	return copy(buf, s.buf), nil
}

func (s *deviceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	s.open = false

	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, err)
	}
	s.stream = nil
	return errors.Join(errs...)
}

// classifyDevice guesses the source type from a device name.
func classifyDevice(name string) SourceType {
	for _, kw := range systemKeywords {
		if containsFold(name, kw) {
			return SourceSystemAudio
		}
	}
	for _, kw := range micKeywords {
		if containsFold(name, kw) {
			return SourceMicrophone
		}
	}
	return ""
}

func isExcluded(name string, excluded []string) bool {
	for _, ex := range excluded {
		if ex != "" && containsFold(name, ex) {
			return true
		}
	}
	return false
}

// preferDevice reports whether name should replace current as the chosen mic.
func preferDevice(name, current string) bool {
	for _, p := range preferredKeywords {
		if containsFold(name, p) && !containsFold(current, p) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
