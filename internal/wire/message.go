// Package wire defines the JSON envelopes exchanged with the remote session service.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lexiqai/audio-streamer/internal/audio"
)

// Message types.
const (
	TypeAudioStream  = "audio_stream"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeNotification = "notification"
	TypeError        = "error"
	TypeSessionEnd   = "session_end"
)

// Message is the envelope for every frame on the session socket.
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// AudioStream is the payload of an audio_stream message.
type AudioStream struct {
	Chunks   []ChunkRecord `json:"chunks"`
	Metadata BatchMetadata `json:"metadata"`
}

// ChunkRecord describes one voice chunk in a batch.
type ChunkRecord struct {
	Sequence         uint64    `json:"sequence"`
	Audio            string    `json:"audio"`
	Timestamp        time.Time `json:"timestamp"`
	DurationMs       float64   `json:"durationMs"`
	SampleRate       int       `json:"sampleRate"`
	Source           string    `json:"source,omitempty"`
	HasVoice         bool      `json:"hasVoice"`
	VoiceConfidence  float64   `json:"voiceConfidence"`
	Energy           float64   `json:"energy"`
	ZeroCrossingRate float64   `json:"zeroCrossingRate"`
	SpectralCentroid float64   `json:"spectralCentroid"`
	SpectralRolloff  float64   `json:"spectralRolloff"`
}

// BatchMetadata summarizes a batch.
type BatchMetadata struct {
	ChunkCount        int     `json:"chunkCount"`
	TotalDurationMs   float64 `json:"totalDurationMs"`
	AverageConfidence float64 `json:"averageConfidence"`
	BatchBytes        int     `json:"batchBytes"`
}

// Notification is the payload of a server notification message.
type Notification struct {
	Title    string `json:"title,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
}

// ErrorPayload is the payload of a server error message.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewAudioStream builds an audio_stream message from chunks in order.
func NewAudioStream(sessionID string, chunks []audio.Chunk, now time.Time) (*Message, error) {
	payload := AudioStream{Chunks: make([]ChunkRecord, 0, len(chunks))}

	var confSum float64
	for _, c := range chunks {
		det := c.Detection
		payload.Chunks = append(payload.Chunks, ChunkRecord{
			Sequence:         c.Sequence,
			Audio:            base64.StdEncoding.EncodeToString(c.PCM),
			Timestamp:        c.Timestamp,
			DurationMs:       durationMs(c.Duration),
			SampleRate:       c.SampleRate,
			Source:           c.Source,
			HasVoice:         det.HasVoice,
			VoiceConfidence:  det.Confidence,
			Energy:           det.Metrics.Energy,
			ZeroCrossingRate: det.Metrics.ZeroCrossingRate,
			SpectralCentroid: det.Metrics.SpectralCentroid,
			SpectralRolloff:  det.Metrics.SpectralRolloff,
		})
		payload.Metadata.TotalDurationMs += durationMs(c.Duration)
		payload.Metadata.BatchBytes += len(c.PCM)
		confSum += det.Confidence
	}
	payload.Metadata.ChunkCount = len(chunks)
	if len(chunks) > 0 {
		payload.Metadata.AverageConfidence = confSum / float64(len(chunks))
	}

	return NewMessage(TypeAudioStream, sessionID, now, payload)
}

// NewMessage wraps payload in an envelope. A nil payload leaves Data empty.
func NewMessage(msgType, sessionID string, now time.Time, payload interface{}) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		SessionID: sessionID,
		Timestamp: now.UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		msg.Data = data
	}
	return msg, nil
}

// Encode serializes the message.
func Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses an envelope.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message missing type")
	}
	return &msg, nil
}

// AudioStream decodes the audio_stream payload.
func (m *Message) AudioStream() (*AudioStream, error) {
	if m.Type != TypeAudioStream {
		return nil, fmt.Errorf("expected %s message, got %s", TypeAudioStream, m.Type)
	}
	var payload AudioStream
	if err := json.Unmarshal(m.Data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode audio stream: %w", err)
	}
	return &payload, nil
}

// DecodeInto unmarshals the payload into v.
func (m *Message) DecodeInto(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no data", m.Type)
	}
	return json.Unmarshal(m.Data, v)
}

// PCM returns the decoded audio of the record.
func (r ChunkRecord) PCM() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.Audio)
}

// PCM concatenates the audio of every chunk in order.
func (a *AudioStream) PCM() ([]byte, error) {
	var out []byte
	for i, r := range a.Chunks {
		pcm, err := r.PCM()
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		out = append(out, pcm...)
	}
	return out, nil
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
