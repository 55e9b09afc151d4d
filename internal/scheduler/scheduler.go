// Package scheduler runs the periodic maintenance sweeps: expiring stale
// pending actions and pruning idle conversations.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// ActionJanitor expires stale pending actions and reports the backlog.
type ActionJanitor interface {
	ExpirePending(ctx context.Context, maxAge time.Duration) (int64, error)
	CountPending(ctx context.Context) (int, error)
}

// ConversationPruner deletes conversations idle since the cutoff.
type ConversationPruner interface {
	PruneIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// Gauge publishes the pending-action backlog after each sweep.
type Gauge interface {
	SetPendingActions(n int)
}

type Options struct {
	ExpireSpec          string        // cron spec for the pending-action sweep
	PruneSpec           string        // cron spec for the conversation sweep
	PendingTTL          time.Duration // pending actions older than this are cancelled
	IdleConversationAge time.Duration // conversations idle longer than this are deleted
	Gauge               Gauge
}

// Scheduler owns the cron entries. Sweeps also run standalone via
// SweepActions and PruneConversations, which is what the cron entries call.
type Scheduler struct {
	cron    *cron.Cron
	actions ActionJanitor
	conv    ConversationPruner
	opts    Options
}

func New(actions ActionJanitor, conversations ConversationPruner, opts Options) *Scheduler {
	if opts.ExpireSpec == "" {
		opts.ExpireSpec = "@every 1h"
	}
	if opts.PruneSpec == "" {
		opts.PruneSpec = "@daily"
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 24 * time.Hour
	}
	if opts.IdleConversationAge <= 0 {
		opts.IdleConversationAge = 30 * 24 * time.Hour
	}
	return &Scheduler{
		cron:    cron.New(),
		actions: actions,
		conv:    conversations,
		opts:    opts,
	}
}

// Start registers the sweeps and launches the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.opts.ExpireSpec, func() {
		s.SweepActions(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduler: expire spec %q: %w", s.opts.ExpireSpec, err)
	}
	if _, err := s.cron.AddFunc(s.opts.PruneSpec, func() {
		s.PruneConversations(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduler: prune spec %q: %w", s.opts.PruneSpec, err)
	}
	s.cron.Start()
	log.Printf("scheduler: started (expire %q, prune %q)", s.opts.ExpireSpec, s.opts.PruneSpec)
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// SweepActions cancels pending actions older than the TTL and republishes the
// backlog gauge.
func (s *Scheduler) SweepActions(ctx context.Context) {
	n, err := s.actions.ExpirePending(ctx, s.opts.PendingTTL)
	if err != nil {
		log.Printf("scheduler: expire pending: %v", err)
		return
	}
	if n > 0 {
		log.Printf("scheduler: expired %d stale pending action(s)", n)
	}
	if s.opts.Gauge == nil {
		return
	}
	count, err := s.actions.CountPending(ctx)
	if err != nil {
		log.Printf("scheduler: count pending: %v", err)
		return
	}
	s.opts.Gauge.SetPendingActions(count)
}

// PruneConversations deletes conversations idle past the configured age.
func (s *Scheduler) PruneConversations(ctx context.Context) {
	cutoff := time.Now().Add(-s.opts.IdleConversationAge)
	n, err := s.conv.PruneIdle(ctx, cutoff)
	if err != nil {
		log.Printf("scheduler: prune conversations: %v", err)
		return
	}
	if n > 0 {
		log.Printf("scheduler: pruned %d idle conversation(s)", n)
	}
}
