package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/groundworkhq/groundwork/internal/groundwork"
	"github.com/groundworkhq/groundwork/internal/httpapi"
	"github.com/groundworkhq/groundwork/internal/session"
)

func main() {
	logger := buildLogger()

	addr := envOrDefault("GROUNDWORK_ADDR", ":8090")
	dataDir := envOrDefault("GROUNDWORK_DATA_DIR", ".groundwork")

	stateBackend, err := buildStateBackendFromEnv(dataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize state backend")
	}
	remote, err := groundwork.BuildRemoteTransportFromDSN(os.Getenv("GROUNDWORK_REMOTE_DSN"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize remote transport")
	}

	sessions := session.NewStaticProvider()
	if userID := strings.TrimSpace(os.Getenv("GROUNDWORK_USER_ID")); userID != "" {
		sessions.SignIn(userID)
	}

	store, err := groundwork.NewStore(groundwork.StoreOptions{
		StateBackend:   stateBackend,
		Remote:         remote,
		Sessions:       sessions,
		DebounceWindow: durationEnv("GROUNDWORK_FLUSH_DEBOUNCE", 0),
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("store close failed")
		}
	}()

	syncer := groundwork.NewSyncer(store, remote, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if importDir := strings.TrimSpace(os.Getenv("GROUNDWORK_IMPORT_DIR")); importDir != "" {
		watcher, err := groundwork.NewImportWatcher(store, importDir, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("dir", importDir).Msg("failed to watch import directory")
		}
		go func() {
			if err := watcher.Run(rootCtx); err != nil {
				logger.Error().Err(err).Msg("import watcher stopped")
			}
		}()
	}

	syncInterval := durationEnv("GROUNDWORK_SYNC_INTERVAL", 30*time.Second)
	syncJitter := clampJitterRatio(floatEnv("GROUNDWORK_SYNC_INTERVAL_JITTER", 0.2))
	syncTimeout := durationEnv("GROUNDWORK_SYNC_TIMEOUT", 30*time.Second)
	go runSyncLoop(rootCtx, syncer, sessions, logger, syncInterval, syncJitter, syncTimeout)

	server := httpapi.NewServer(store, syncer, sessions, httpapi.ServerConfig{
		MaxBodyBytes: int64Env("GROUNDWORK_MAX_BODY_BYTES", 0),
		Logger:       logger,
	})
	httpServer := &http.Server{Addr: addr, Handler: server}
	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("groundworkd listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

// runSyncLoop drives periodic sync and reacts to sign-in transitions. The
// interval is jittered so a fleet of devices on the same schedule does not
// hammer the remote in lockstep.
func runSyncLoop(ctx context.Context, syncer *groundwork.Syncer, sessions *session.StaticProvider, logger zerolog.Logger, interval time.Duration, jitter float64, timeout time.Duration) {
	transitions, cancel := sessions.Subscribe()
	defer cancel()

	run := func() {
		sess := sessions.Current()
		if !sess.SignedIn || sess.UserID == "" {
			return
		}
		syncCtx, cancelSync := context.WithTimeout(ctx, timeout)
		defer cancelSync()
		if err := syncer.Sync(syncCtx, sess.UserID); err != nil && !errors.Is(err, groundwork.ErrSyncInProgress) {
			logger.Warn().Err(err).Msg("scheduled sync failed")
		}
	}

	run()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case sess := <-transitions:
			if sess.SignedIn {
				run()
			}
		case <-timer.C:
			run()
			timer.Reset(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
		}
	}
}

func buildLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(envOrDefault("GROUNDWORK_LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if strings.EqualFold(envOrDefault("GROUNDWORK_LOG_FORMAT", "console"), "json") {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func buildStateBackendFromEnv(dataDir string) (groundwork.StateBackend, error) {
	if dsn := strings.TrimSpace(os.Getenv("GROUNDWORK_STATE_DSN")); dsn != "" {
		return groundwork.BuildStateBackendFromDSN(dsn)
	}
	return groundwork.NewJSONFileStateBackend(filepath.Join(dataDir, "state.json")), nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
