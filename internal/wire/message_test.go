package wire

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/lexiqai/audio-streamer/internal/audio"
)

func testChunks() []audio.Chunk {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var chunks []audio.Chunk
	for i := 0; i < 4; i++ {
		samples := make([]int16, 320)
		for j := range samples {
			samples[j] = int16(i*100 + j)
		}
		det := audio.DetectionResult{
			HasVoice:   i%2 == 0,
			Confidence: 0.5 + float64(i)/10,
			Metrics:    audio.VoiceMetrics{Energy: 0.1, ZeroCrossingRate: 0.12, SpectralCentroid: 900, SpectralRolloff: 1620},
		}
		chunks = append(chunks, audio.NewChunk(uint64(i+1), samples, 16000, base.Add(time.Duration(i)*20*time.Millisecond), "microphone", det))
	}
	return chunks
}

func TestAudioStream_RoundTrip(t *testing.T) {
	chunks := testChunks()
	msg, err := NewAudioStream("session-1", chunks, time.Now())
	if err != nil {
		t.Fatalf("Failed to build message: %v", err)
	}

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if decoded.Type != TypeAudioStream {
		t.Errorf("Expected type %s, got %s", TypeAudioStream, decoded.Type)
	}
	if decoded.SessionID != "session-1" {
		t.Errorf("Expected session id session-1, got %s", decoded.SessionID)
	}

	stream, err := decoded.AudioStream()
	if err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if len(stream.Chunks) != len(chunks) {
		t.Fatalf("Expected %d chunks, got %d", len(chunks), len(stream.Chunks))
	}
	if stream.Metadata.ChunkCount != len(chunks) {
		t.Errorf("Expected chunk count %d, got %d", len(chunks), stream.Metadata.ChunkCount)
	}

	for i, rec := range stream.Chunks {
		if rec.Sequence != chunks[i].Sequence {
			t.Errorf("Chunk %d: expected sequence %d, got %d", i, chunks[i].Sequence, rec.Sequence)
		}
		if rec.HasVoice != chunks[i].Detection.HasVoice {
			t.Errorf("Chunk %d: expected hasVoice %v, got %v", i, chunks[i].Detection.HasVoice, rec.HasVoice)
		}
		pcm, err := rec.PCM()
		if err != nil {
			t.Fatalf("Chunk %d: failed to decode audio: %v", i, err)
		}
		if !bytes.Equal(pcm, chunks[i].PCM) {
			t.Errorf("Chunk %d: audio payload mismatch", i)
		}
	}
}

func TestAudioStream_Metadata(t *testing.T) {
	chunks := testChunks()
	msg, err := NewAudioStream("s", chunks, time.Now())
	if err != nil {
		t.Fatalf("Failed to build message: %v", err)
	}
	stream, err := msg.AudioStream()
	if err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}

	if stream.Metadata.TotalDurationMs != 80 {
		t.Errorf("Expected total duration 80ms, got %f", stream.Metadata.TotalDurationMs)
	}
	if stream.Metadata.BatchBytes != 4*640 {
		t.Errorf("Expected %d batch bytes, got %d", 4*640, stream.Metadata.BatchBytes)
	}
	want := (0.5 + 0.6 + 0.7 + 0.8) / 4
	if diff := stream.Metadata.AverageConfidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected average confidence %f, got %f", want, stream.Metadata.AverageConfidence)
	}
}

func TestAudioStream_CamelCaseKeys(t *testing.T) {
	msg, _ := NewAudioStream("abc", testChunks()[:1], time.Now())
	data, _ := Encode(msg)

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if _, ok := raw["sessionId"]; !ok {
		t.Error("Expected sessionId key")
	}

	chunks := raw["data"].(map[string]interface{})["chunks"].([]interface{})
	rec := chunks[0].(map[string]interface{})
	for _, key := range []string{"audio", "durationMs", "hasVoice", "voiceConfidence", "zeroCrossingRate", "spectralCentroid", "spectralRolloff"} {
		if _, ok := rec[key]; !ok {
			t.Errorf("Expected chunk key %q", key)
		}
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "nope"},
		{"missing type", `{"sessionId":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); err == nil {
				t.Error("Expected decode error")
			}
		})
	}
}

func TestMessage_WrongType(t *testing.T) {
	msg, _ := NewMessage(TypePing, "s", time.Now(), nil)
	if _, err := msg.AudioStream(); err == nil {
		t.Error("Expected error decoding ping as audio stream")
	}
}
