// Package upload implements the C8 upload scheduler: a single persistent
// "wake" timer driving PendingUpload rows to completion, grounded on
// spec.md §4.8 and entropy/backends/localaxiom.py's PendingMigration
// bookkeeping style applied to the durable queue in pkg/backend/local.
// The background goroutine's lifecycle uses golang.org/x/sync/errgroup,
// the pack's idiomatic replacement (per upbound-xgql's bbolt cache Start)
// for a hand-rolled sync.WaitGroup + error channel.
package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fusionapp/entropy/pkg/backend"
	"github.com/fusionapp/entropy/pkg/backend/local"
	"github.com/fusionapp/entropy/pkg/object"
)

// DefaultBackoff is the fixed back-off a failed upload's scheduled time is
// advanced by, per spec.md §3's PendingUpload lifecycle.
const DefaultBackoff = 2 * time.Minute

// Scheduler is the C8 upload scheduler. It is single-flight per process:
// at most one PendingUpload is being attempted at a time.
type Scheduler struct {
	local    *local.Store
	backends map[string]backend.WriteBackend
	backoff  time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	wakeCh chan struct{}
	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds a Scheduler over the durable queue kept in local and the set
// of deferred-write backends it may dispatch to, keyed by Name().
func New(localStore *local.Store, backends []backend.WriteBackend, log zerolog.Logger) *Scheduler {
	byName := make(map[string]backend.WriteBackend, len(backends))
	for _, b := range backends {
		byName[b.Name()] = b
	}
	return &Scheduler{
		local:    localStore,
		backends: byName,
		backoff:  DefaultBackoff,
		log:      log.With().Str("component", "upload-scheduler").Logger(),
		wakeCh:   make(chan struct{}, 1),
	}
}

// Start launches the scheduler's background loop and schedules an
// immediate wake, per spec.md §4.8's startup duty.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	group, groupCtx := errgroup.WithContext(ctx)
	s.group = group
	s.mu.Unlock()

	group.Go(func() error {
		s.loop(groupCtx)
		return nil
	})
	s.Wake()
}

// Stop cancels the wake timer and waits for any in-flight attempt to
// finish; it does not cancel an attempt already in progress.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	group := s.group
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if group != nil {
		return group.Wait()
	}
	return nil
}

// Wake implements store.Waker: re-evaluate the queue now, used both by the
// startup duty and by the coordinator after enqueuing a new PendingUpload.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.stopTimer()
			return
		case <-s.wakeCh:
			s.evaluate(ctx)
		case <-s.timerChan():
			s.evaluate(ctx)
		}
	}
}

// timerChan returns the active timer's channel, or a nil channel (which
// blocks forever in a select) when no timer is pending.
func (s *Scheduler) timerChan() <-chan time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return nil
	}
	return s.timer.C
}

func (s *Scheduler) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// evaluate is spec.md §4.8's wake(): cancel any pending timer, dispatch the
// earliest due row if one exists, or arm a timer for the next one.
func (s *Scheduler) evaluate(ctx context.Context) {
	s.stopTimer()

	row, ok, err := s.local.NextPendingUpload(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reading pending upload queue failed")
		return
	}
	if !ok {
		return // queue empty, stay idle
	}

	now := time.Now().UTC()
	if row.Scheduled.After(now) {
		s.armTimer(row.Scheduled.Sub(now))
		return
	}

	// The attempt runs on a context that Stop does not cancel, so an
	// in-flight upload is allowed to finish.
	if err := s.attemptUpload(context.WithoutCancel(ctx), row); err != nil {
		s.log.Warn().Err(err).Str("object_id", row.ObjectID).Str("backend", row.Backend).Msg("deferred upload attempt failed")
	}
	s.Wake() // re-evaluate immediately; more due rows may remain
}

func (s *Scheduler) armTimer(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = time.NewTimer(d)
}

// attemptUpload implements spec.md §4.8's attemptUpload: load the local
// object, push it to the target backend, delete the row on success or
// back it off by DefaultBackoff on failure. Errors are returned to the
// caller (evaluate) in addition to being logged, matching spec.md §7's
// propagation policy.
func (s *Scheduler) attemptUpload(ctx context.Context, row local.PendingUpload) error {
	wb, ok := s.backends[row.Backend]
	if !ok {
		s.reschedule(ctx, row)
		return fmt.Errorf("pending upload %d: unknown deferred backend %q", row.ID, row.Backend)
	}

	obj, err := s.local.GetObject(ctx, row.ObjectID)
	if err != nil {
		s.reschedule(ctx, row)
		return fmt.Errorf("pending upload %d: loading local object %s: %w", row.ID, row.ObjectID, err)
	}
	content, err := object.ReadAll(ctx, obj)
	if err != nil {
		s.reschedule(ctx, row)
		return fmt.Errorf("pending upload %d: reading local object %s: %w", row.ID, row.ObjectID, err)
	}

	_, err = wb.StoreObject(ctx, backend.StoreOptions{
		Content:     content,
		ContentType: obj.ContentType(),
		Created:     obj.Created(),
		ObjectID:    row.ObjectID,
	})
	if err != nil {
		s.reschedule(ctx, row)
		return fmt.Errorf("pending upload %d: storing to %s: %w", row.ID, row.Backend, err)
	}

	if err := s.local.DeletePendingUpload(ctx, row.ID); err != nil {
		return fmt.Errorf("pending upload %d: deleting completed row: %w", row.ID, err)
	}
	return nil
}

func (s *Scheduler) reschedule(ctx context.Context, row local.PendingUpload) {
	next := row.Scheduled.Add(s.backoff)
	if err := s.local.ReschedulePendingUpload(ctx, row.ID, next); err != nil {
		s.log.Error().Err(err).Uint64("pending_upload_id", row.ID).Msg("rescheduling failed upload row failed")
	}
}
