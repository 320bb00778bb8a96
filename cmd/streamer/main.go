package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/audio-streamer/internal/capture"
	"github.com/lexiqai/audio-streamer/internal/config"
	"github.com/lexiqai/audio-streamer/internal/observability"
	"github.com/lexiqai/audio-streamer/internal/resilience"
	"github.com/lexiqai/audio-streamer/internal/session"
	"github.com/lexiqai/audio-streamer/internal/streaming"
	"github.com/lexiqai/audio-streamer/internal/transport"
	"github.com/lexiqai/audio-streamer/internal/upstream"
	"github.com/lexiqai/audio-streamer/internal/wire"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("server_url", cfg.ServerURL).
		Str("source_preference", cfg.SourcePreference).
		Int("sample_rate", cfg.SampleRate).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Audio streamer starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Audio streamer failed")
	}
	logger.Info().Msg("Audio streamer exited gracefully")
}

func run(ctx context.Context, stop context.CancelFunc, cfg *config.Config, logger zerolog.Logger) error {
	sessions := upstream.NewSessionClient(cfg.ServerURL, cfg.DialTimeout(), logger)

	sessionID := cfg.SessionID
	serverSession := false
	if sessionID == "" {
		info, err := sessions.Create(ctx, cfg.SessionSettings())
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = info.ID
		serverSession = !info.Local
	}
	sessLogger := observability.WithSession(sessionID)

	// Primary transport
	ws := transport.NewWebSocket(cfg.WebSocketConfig(sessionID), sessLogger)
	if err := resilience.Reconnect(ctx, ws.Connect, withLogger(cfg.ReconnectConfig(), sessLogger)); err != nil {
		return fmt.Errorf("connect session socket: %w", err)
	}
	defer ws.Close()

	var out streaming.Transport = ws
	var tap *transport.Deepgram
	if cfg.DeepgramAPIKey != "" {
		tap = transport.NewDeepgram(cfg.DeepgramConfig(), sessLogger, observability.NewSessionMetrics(sessionID))
		if err := tap.Start(ctx); err != nil {
			sessLogger.Warn().Err(err).Msg("Transcription tap unavailable, continuing without it")
			tap = nil
		} else {
			defer tap.Close()
			out = transport.NewFanOut(sessLogger, ws, tap)
		}
	}

	var probe *upstream.HealthProbe
	if cfg.UpstreamGRPC != "" {
		p, err := upstream.NewHealthProbe(cfg.ProbeConfig(), sessLogger)
		if err != nil {
			sessLogger.Warn().Err(err).Msg("Upstream health probe disabled")
		} else {
			probe = p
			defer probe.Close()
		}
	}

	factory := capture.DefaultFactory{ReplayFile: cfg.ReplayFile, ReplayLoop: cfg.ReplayLoop}
	sess, err := session.New(cfg.SessionConfig(sessionID), factory, out, sessLogger)
	if err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      newMux(cfg, sess, ws, probe, sessLogger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		sessLogger.Info().Str("port", cfg.Port).Msg("Status server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		sessLogger.Info().Msg("Shutting down...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// A fatal capture error or the end of a replayed file ends the run.
	eg.Go(func() error {
		select {
		case <-egCtx.Done():
			return nil
		case err := <-sess.Errors():
			if errors.Is(err, io.EOF) {
				sessLogger.Info().Msg("Replay finished")
				stop()
				return nil
			}
			return err
		}
	})

	eg.Go(func() error {
		logNotifications(egCtx, ws.Notifications(), sessLogger)
		return nil
	})

	if tap != nil {
		eg.Go(func() error {
			logTranscripts(egCtx, tap.Transcripts(), sessLogger)
			return nil
		})
	}

	runErr := eg.Wait()

	sess.Stop()
	if serverSession {
		deleteCtx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout())
		if err := sessions.Delete(deleteCtx, sessionID); err != nil {
			sessLogger.Warn().Err(err).Msg("Failed to end server session")
		}
		cancel()
	}

	st := sess.Status().Streaming
	sessLogger.Info().
		Uint64("batches_sent", st.BatchesSent).
		Uint64("bytes_sent", st.BytesSent).
		Uint64("errors", st.Errors).
		Msg("Session summary")
	return runErr
}

func newMux(cfg *config.Config, sess *session.Session, ws *transport.WebSocket, probe *upstream.HealthProbe, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", observability.HealthCheckHandler())

	checks := map[string]observability.HealthCheckFunc{
		"transport": func(ctx context.Context) (bool, error) {
			if !ws.IsConnected() {
				return false, streaming.ErrNotConnected
			}
			return true, nil
		},
		"capture": func(ctx context.Context) (bool, error) {
			if st := sess.Status().Capture; !st.Active {
				return false, fmt.Errorf("capture inactive: %s", st.LastError)
			}
			return true, nil
		},
	}
	if probe != nil {
		checks["upstream"] = func(ctx context.Context) (bool, error) {
			if err := probe.Check(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	mux.HandleFunc("/status", observability.StatusHandler(func() interface{} {
		return sess.Status()
	}))

	mux.HandleFunc("/source", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		pref, err := capture.ParsePreference(r.URL.Query().Get("preference"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := sess.SwitchSource(r.Context(), pref); err != nil {
			logger.Error().Err(err).Str("preference", string(pref)).Msg("Source switch failed")
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sess.Status().Capture)
	})

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}
	return mux
}

func withLogger(rc *resilience.ReconnectConfig, logger zerolog.Logger) *resilience.ReconnectConfig {
	rc.Logger = &logger
	return rc
}

func logNotifications(ctx context.Context, ch <-chan *wire.Message, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			var n wire.Notification
			if err := msg.DecodeInto(&n); err != nil {
				logger.Warn().Err(err).Msg("Malformed notification")
				continue
			}
			logger.Info().
				Str("title", n.Title).
				Str("severity", n.Severity).
				Str("message", n.Message).
				Msg("Server notification")
		}
	}
}

func logTranscripts(ctx context.Context, ch <-chan transport.Transcript, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ch:
			if !t.IsFinal {
				continue
			}
			logger.Info().
				Str("text", t.Text).
				Float64("confidence", t.Confidence).
				Msg("Transcript")
		}
	}
}
