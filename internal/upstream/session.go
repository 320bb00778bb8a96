package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionSettings is sent when a session is created.
type SessionSettings struct {
	AudioSource     string  `json:"audioSource"`
	SampleRate      int     `json:"sampleRate"`
	ChunkDurationMs int     `json:"chunkDurationMs"`
	VoiceThreshold  float64 `json:"voiceThreshold"`
}

// SessionInfo describes a created session.
type SessionInfo struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"-"`
	// Local is set when the id was generated here because the server was unreachable.
	Local bool `json:"-"`
}

// SessionClient manages sessions on the remote service over REST.
type SessionClient struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewSessionClient creates a client for baseURL (http or https).
func NewSessionClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *SessionClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SessionClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "session_client").Logger(),
	}
}

// Create asks the server for a session id. When the server cannot be reached or
// answers with an error, a local UUID is returned with Local set.
func (c *SessionClient) Create(ctx context.Context, settings SessionSettings) (*SessionInfo, error) {
	body, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session settings: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	info, err := c.do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		local := &SessionInfo{ID: uuid.New().String(), CreatedAt: time.Now().UTC(), Local: true}
		c.logger.Warn().Err(err).Str("session_id", local.ID).Msg("Session server unavailable, using local session id")
		return local, nil
	}

	c.logger.Info().Str("session_id", info.ID).Msg("Session created")
	return info, nil
}

func (c *SessionClient) do(req *http.Request) (*SessionInfo, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("create session: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var info SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("session response missing session_id")
	}
	info.CreatedAt = time.Now().UTC()
	return &info, nil
}

// Delete ends a server-side session. A 404 is not an error.
func (c *SessionClient) Delete(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delete session %s: status %d", sessionID, resp.StatusCode)
	}
	return nil
}
