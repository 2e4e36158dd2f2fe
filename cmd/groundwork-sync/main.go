package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/groundworkhq/groundwork/internal/groundwork"
	"github.com/groundworkhq/groundwork/internal/session"
)

// groundwork-sync runs sync cycles against a local state file without the
// HTTP surface: one-shot from scripts with --once, or as a long-running
// sidecar on a jittered interval.
func main() {
	stateDSN := flag.String("state", envOrDefault("GROUNDWORK_STATE_DSN", ""), "state backend DSN or file path")
	remoteDSN := flag.String("remote", strings.TrimSpace(os.Getenv("GROUNDWORK_REMOTE_DSN")), "remote transport DSN")
	userID := flag.String("user", strings.TrimSpace(os.Getenv("GROUNDWORK_USER_ID")), "owner user ID")
	interval := flag.Duration("interval", durationEnv("GROUNDWORK_SYNC_INTERVAL", 30*time.Second), "sync interval")
	intervalJitter := flag.Float64("interval-jitter", 0.2, "sync interval jitter ratio (0.0-1.0)")
	timeout := flag.Duration("timeout", durationEnv("GROUNDWORK_SYNC_TIMEOUT", 30*time.Second), "per-cycle timeout")
	once := flag.Bool("once", false, "run one sync cycle and exit")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if strings.TrimSpace(*userID) == "" {
		logger.Fatal().Msg("user is required (--user or GROUNDWORK_USER_ID)")
	}
	if strings.TrimSpace(*remoteDSN) == "" {
		logger.Fatal().Msg("remote is required (--remote or GROUNDWORK_REMOTE_DSN)")
	}
	if strings.TrimSpace(*stateDSN) == "" {
		*stateDSN = filepath.Join(".groundwork", "state.json")
	}
	if *interval <= 0 {
		*interval = 30 * time.Second
	}
	if *timeout <= 0 {
		*timeout = 30 * time.Second
	}

	stateBackend, err := groundwork.BuildStateBackendFromDSN(*stateDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize state backend")
	}
	remote, err := groundwork.BuildRemoteTransportFromDSN(*remoteDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize remote transport")
	}

	sessions := session.NewStaticProvider()
	sessions.SignIn(strings.TrimSpace(*userID))

	store, err := groundwork.NewStore(groundwork.StoreOptions{
		StateBackend: stateBackend,
		Remote:       remote,
		Sessions:     sessions,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		_ = store.Close()
	}()

	syncer := groundwork.NewSyncer(store, remote, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := func() {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		if err := syncer.Sync(ctx, sessions.Current().UserID); err != nil {
			logger.Warn().Err(err).Msg("sync cycle failed")
			return
		}
		logger.Info().Int("documents", len(store.List())).Msg("sync cycle completed")
	}

	run()
	if *once {
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("sync loop stopping")
			return
		case <-timer.C:
			run()
			timer.Reset(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
		}
	}
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
