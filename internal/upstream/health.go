// Package upstream talks to the remote analysis service outside the audio path.
package upstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/lexiqai/audio-streamer/internal/observability"
)

// ProbeConfig configures the gRPC health probe.
type ProbeConfig struct {
	Addr       string
	Service    string // empty checks overall server health
	TLSEnabled bool
	Timeout    time.Duration
}

// HealthProbe checks the remote service with the standard gRPC health protocol.
type HealthProbe struct {
	cfg    ProbeConfig
	logger zerolog.Logger

	mu     sync.RWMutex
	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

// NewHealthProbe dials addr. The dial does not block; failures surface on Check.
func NewHealthProbe(cfg ProbeConfig, logger zerolog.Logger) (*HealthProbe, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("health probe address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	var opts []grpc.DialOption
	if cfg.TLSEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Addr, err)
	}

	p := &HealthProbe{
		cfg:    cfg,
		logger: logger.With().Str("component", "health_probe").Str("addr", cfg.Addr).Logger(),
		conn:   conn,
		client: healthpb.NewHealthClient(conn),
	}
	p.logger.Info().Msg("Health probe configured")
	return p, nil
}

// Check returns nil when the remote reports SERVING.
func (p *HealthProbe) Check(ctx context.Context) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("health probe closed")
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.cfg.Service})
	if err != nil {
		observability.RecordError("health_check", "upstream")
		return fmt.Errorf("health check %s: %w", p.cfg.Addr, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("upstream %s is %s", p.cfg.Addr, resp.GetStatus())
	}
	return nil
}

// Close releases the connection.
func (p *HealthProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	p.client = nil
	return err
}
