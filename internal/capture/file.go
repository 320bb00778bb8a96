package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/lexiqai/audio-streamer/internal/audio"
)

// FileSource replays a 16-bit PCM WAV file at real-time pace.
type FileSource struct {
	path string
	loop bool

	mu      sync.Mutex
	samples []int16
	pos     int
	frames  int
	chunk   time.Duration
	next    time.Time
	open    bool
}

// NewFileSource creates an unopened file source.
func NewFileSource(path string, loop bool) *FileSource {
	return &FileSource{path: path, loop: loop}
}

func (s *FileSource) Type() SourceType { return SourceFile }

// Open decodes the file and converts it to mono at the configured rate.
func (s *FileSource) Open(cfg SourceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return NewError(KindDeviceBusy, SourceFile, "open", errors.New("source already open"))
	}
	if cfg.SampleRate <= 0 || cfg.FramesPerChunk <= 0 {
		return NewError(KindFormatUnsupported, SourceFile, "open",
			fmt.Errorf("invalid format: %d Hz, %d frames", cfg.SampleRate, cfg.FramesPerChunk))
	}

	f, err := os.Open(s.path)
	if err != nil {
		kind := KindDeviceUnavailable
		if errors.Is(err, os.ErrPermission) {
			kind = KindPermissionDenied
		}
		return NewError(kind, SourceFile, "open "+s.path, err)
	}
	defer f.Close()

	w, err := ReadWAV(f)
	if err != nil {
		return NewError(KindFormatUnsupported, SourceFile, "decode "+s.path, err)
	}

	samples := w.Samples
	if w.Channels == 2 {
		samples = audio.DownmixStereo(samples)
	}
	resampled, err := audio.Resample(samples, w.SampleRate, cfg.SampleRate)
	if err != nil {
		return NewError(KindFormatUnsupported, SourceFile, "resample "+s.path, err)
	}
	s.samples = resampled
	s.frames = cfg.FramesPerChunk
	s.chunk = time.Duration(cfg.FramesPerChunk) * time.Second / time.Duration(cfg.SampleRate)
	s.pos = 0
	s.next = time.Now()
	s.open = true
	return nil
}

// ReadChunk returns the next block, sleeping until it is due.
// It returns io.EOF once the file is exhausted and looping is off.
func (s *FileSource) ReadChunk(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return 0, NewError(KindNotInitialized, SourceFile, "read", errors.New("source not open"))
	}

	if s.pos >= len(s.samples) {
		if !s.loop || len(s.samples) == 0 {
			return 0, io.EOF
		}
		s.pos = 0
	}

	if wait := time.Until(s.next); wait > 0 {
		time.Sleep(wait)
	}
	s.next = s.next.Add(s.chunk)
	if behind := time.Since(s.next); behind > 10*s.chunk {
		s.next = time.Now()
	}

	end := s.pos + s.frames
	if end > len(s.samples) {
		end = len(s.samples)
	}
	n := copy(buf, s.samples[s.pos:end])
	s.pos += n
	return n, nil
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.samples = nil
	return nil
}

// WAV is a decoded 16-bit PCM WAV file.
type WAV struct {
	SampleRate int
	Channels   int
	Samples    []int16 // interleaved
}

// maxFmtChunk bounds the fmt chunk; WAVE_FORMAT_EXTENSIBLE needs 40 bytes.
const maxFmtChunk = 1 << 10

// ReadWAV decodes a RIFF/WAVE stream containing 16-bit PCM.
func ReadWAV(r io.Reader) (*WAV, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}

	var w WAV
	var haveFmt bool
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d", size)
			}
			if size > maxFmtChunk {
				return nil, fmt.Errorf("fmt chunk too large: %d", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("read fmt: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			w.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("unsupported encoding: format %d, %d bits", format, bits)
			}
			if w.Channels != 1 && w.Channels != 2 {
				return nil, fmt.Errorf("unsupported channel count %d", w.Channels)
			}
			if w.SampleRate <= 0 {
				return nil, fmt.Errorf("invalid sample rate %d", w.SampleRate)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, errors.New("data chunk before fmt chunk")
			}
			// Streaming writers leave the size at 0xFFFFFFFF; read what is there.
			body, err := io.ReadAll(io.LimitReader(r, size))
			if err != nil {
				return nil, fmt.Errorf("read data: %w", err)
			}
			n := len(body)
			samples, err := audio.BytesToSamples(body[:n-n%2])
			if err != nil {
				return nil, err
			}
			w.Samples = samples
			return &w, nil

		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// WriteWAV encodes mono or stereo 16-bit PCM as a WAV stream.
func WriteWAV(w io.Writer, sampleRate, channels int, samples []int16) error {
	data := audio.SamplesToBytes(samples)
	blockAlign := channels * 2

	hdr := make([]byte, 44)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+len(data)))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], 16)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(data)))

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
