package groundwork

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SyncStatus is the externally visible outcome of sync cycles. It is the only
// channel through which the rest of the system learns whether syncing works;
// there is no separate event stream.
type SyncStatus struct {
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
	InProgress   bool       `json:"inProgress"`
	LastError    *string    `json:"lastError"`
}

// Syncer drives sync cycles: pull, merge, persist, push. It is the single
// writer of SyncStatus and enforces single-flight execution, so a timer and a
// manual "sync now" firing together cannot interleave two cycles.
type Syncer struct {
	store  *Store
	remote RemoteTransport
	logger zerolog.Logger

	mu          sync.Mutex
	status      SyncStatus
	subscribers map[int]chan SyncStatus
	nextSubID   int
}

func NewSyncer(store *Store, remote RemoteTransport, logger zerolog.Logger) *Syncer {
	if remote == nil {
		remote = UnconfiguredRemote{}
	}
	return &Syncer{
		store:       store,
		remote:      remote,
		logger:      logger,
		subscribers: map[int]chan SyncStatus{},
	}
}

// Sync runs one cycle for ownerID. A cycle already in flight makes the call
// return ErrSyncInProgress without touching anything; callers treat that as
// "already being handled". A pull failure aborts the cycle before any local
// state changes. A push failure keeps the merge result: local state is
// correct even when propagation lags, and the next cycle is the retry.
func (y *Syncer) Sync(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: empty owner id", ErrInvalidInput)
	}

	y.mu.Lock()
	if y.status.InProgress {
		y.mu.Unlock()
		return ErrSyncInProgress
	}
	y.status.InProgress = true
	y.status.LastError = nil
	y.publishLocked()
	y.mu.Unlock()

	err := y.runCycle(ctx, ownerID)

	y.mu.Lock()
	y.status.InProgress = false
	if err != nil {
		msg := err.Error()
		y.status.LastError = &msg
	} else {
		now := time.Now().UTC()
		y.status.LastSyncedAt = &now
		y.status.LastError = nil
	}
	y.publishLocked()
	y.mu.Unlock()

	return err
}

func (y *Syncer) runCycle(ctx context.Context, ownerID string) error {
	remote, err := y.remote.Pull(ctx, ownerID)
	if err != nil {
		y.logger.Warn().Err(err).Msg("sync pull failed")
		return fmt.Errorf("pull: %w", err)
	}

	merged := y.store.Reconcile(remote)

	if err := y.remote.Push(ctx, merged, ownerID); err != nil {
		y.logger.Warn().Err(err).Int("documents", len(merged)).Msg("sync push failed, merge result kept locally")
		return fmt.Errorf("push: %w", err)
	}

	y.logger.Info().
		Int("pulled", len(remote)).
		Int("pushed", len(merged)).
		Msg("sync cycle complete")
	return nil
}

// Status returns the current sync status.
func (y *Syncer) Status() SyncStatus {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.status
}

// Subscribe returns a channel receiving status updates and a cancel function.
// Slow receivers see the most recent update rather than a full history.
func (y *Syncer) Subscribe() (<-chan SyncStatus, func()) {
	y.mu.Lock()
	defer y.mu.Unlock()
	id := y.nextSubID
	y.nextSubID++
	ch := make(chan SyncStatus, 1)
	y.subscribers[id] = ch
	return ch, func() {
		y.mu.Lock()
		defer y.mu.Unlock()
		delete(y.subscribers, id)
	}
}

func (y *Syncer) publishLocked() {
	for _, ch := range y.subscribers {
		select {
		case ch <- y.status:
		default:
			// Drop the stale update and replace it with the current one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- y.status:
			default:
			}
		}
	}
}
