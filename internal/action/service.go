package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/adjutant/adjutant/internal/executor"
	"github.com/adjutant/adjutant/internal/provider"
)

// Executor runs an approved invocation.
type Executor interface {
	Execute(ctx context.Context, userID, capability string, params any) (*executor.Result, error)
}

// Catalog re-validates stored params before execution; staged rows can
// outlive a config reload that narrowed the catalog.
type Catalog interface {
	Validate(name string, params map[string]any) (any, error)
}

// Conversations receives outcome digests so the next turn has them in
// context.
type Conversations interface {
	AppendMessages(ctx context.Context, id string, msgs ...provider.Message) error
}

// Service drives the approval lifecycle: approve executes, reject cancels,
// and either way the owning conversation gets a digest of what happened.
type Service struct {
	store   *Store
	catalog Catalog
	exec    Executor
	conv    Conversations
}

func NewService(store *Store, catalog Catalog, exec Executor, conv Conversations) *Service {
	return &Service{store: store, catalog: catalog, exec: exec, conv: conv}
}

// Decision is the outcome of one approval or rejection.
type Decision struct {
	ActionID string `json:"action_id"`
	Status   string `json:"status,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Outcome reports a batch of decisions with a one-line digest of what
// settled, e.g. "1/2 approved action(s) completed.".
type Outcome struct {
	Decisions []Decision `json:"decisions"`
	Digest    string     `json:"digest,omitempty"`
}

// Approve executes each listed action that is still pending. Every id
// settles independently; a stale or failing action does not stop the rest.
func (s *Service) Approve(ctx context.Context, userID string, actionIDs []string) (*Outcome, error) {
	out := &Outcome{Decisions: make([]Decision, 0, len(actionIDs))}
	var settled []Decision
	byConv := make(map[string][]Decision)
	for _, id := range actionIDs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		d, convID := s.approveOne(ctx, userID, id)
		out.Decisions = append(out.Decisions, d)
		if convID != "" {
			settled = append(settled, d)
			byConv[convID] = append(byConv[convID], d)
		}
	}
	out.Digest = digestText(settled)
	s.appendDigests(ctx, byConv)
	return out, nil
}

func (s *Service) approveOne(ctx context.Context, userID, id string) (Decision, string) {
	a, err := s.store.Get(ctx, id)
	if err != nil || a.UserID != userID {
		// Foreign actions look like missing ones; ownership gates every path.
		return Decision{ActionID: id, Error: "not found"}, ""
	}
	if err := s.store.Transition(ctx, id, StatusPending, StatusApproved); err != nil {
		return staleDecision(id, err), ""
	}
	if err := s.store.Transition(ctx, id, StatusApproved, StatusExecuting); err != nil {
		return staleDecision(id, err), ""
	}
	typed, err := s.catalog.Validate(a.Capability, a.Params)
	if err != nil {
		_ = s.store.MarkFailed(ctx, id, err.Error(), 0)
		return Decision{ActionID: id, Status: StatusFailed, Error: err.Error()}, a.ConversationID
	}
	res, err := s.exec.Execute(ctx, a.UserID, a.Capability, typed)
	if err != nil {
		if merr := s.store.MarkFailed(ctx, id, err.Error(), 0); merr != nil {
			log.Printf("action: mark failed %s: %v", id, merr)
		}
		return Decision{ActionID: id, Status: StatusFailed, Error: err.Error()}, a.ConversationID
	}
	raw, merr := json.Marshal(res)
	if merr != nil {
		raw = nil
	}
	if err := s.store.MarkExecuted(ctx, id, raw, res.Duration); err != nil {
		log.Printf("action: mark executed %s: %v", id, err)
	}
	return Decision{ActionID: id, Status: StatusExecuted, Summary: res.Summary}, a.ConversationID
}

// Reject cancels each listed pending action without executing it.
func (s *Service) Reject(ctx context.Context, userID string, actionIDs []string) (*Outcome, error) {
	out := &Outcome{Decisions: make([]Decision, 0, len(actionIDs))}
	var settled []Decision
	byConv := make(map[string][]Decision)
	for _, id := range actionIDs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		a, err := s.store.Get(ctx, id)
		if err != nil || a.UserID != userID {
			out.Decisions = append(out.Decisions, Decision{ActionID: id, Error: "not found"})
			continue
		}
		if err := s.store.Cancel(ctx, id, "rejected"); err != nil {
			out.Decisions = append(out.Decisions, staleDecision(id, err))
			continue
		}
		d := Decision{ActionID: id, Status: StatusCancelled}
		out.Decisions = append(out.Decisions, d)
		settled = append(settled, d)
		byConv[a.ConversationID] = append(byConv[a.ConversationID], d)
	}
	out.Digest = digestText(settled)
	s.appendDigests(ctx, byConv)
	return out, nil
}

// Get loads one action for its owner.
func (s *Service) Get(ctx context.Context, userID, id string) (*Action, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, fmt.Errorf("action %q: not found", id)
	}
	return a, nil
}

// List returns the user's actions, optionally filtered by status.
func (s *Service) List(ctx context.Context, userID, status string, limit, offset int) ([]*Action, error) {
	return s.store.List(ctx, userID, status, limit, offset)
}

// ExpirePending cancels pending actions older than maxAge and reports how
// many were cancelled.
func (s *Service) ExpirePending(ctx context.Context, maxAge time.Duration) (int64, error) {
	return s.store.ExpireOlderThan(ctx, time.Now().Add(-maxAge))
}

// CountPending reports how many actions are awaiting a decision.
func (s *Service) CountPending(ctx context.Context) (int, error) {
	return s.store.CountPending(ctx)
}

func staleDecision(id string, err error) Decision {
	var st *StaleTransitionError
	if errors.As(err, &st) {
		return Decision{ActionID: id, Status: st.Status, Error: "already " + st.Status}
	}
	return Decision{ActionID: id, Error: err.Error()}
}

func (s *Service) appendDigests(ctx context.Context, byConv map[string][]Decision) {
	if s.conv == nil {
		return
	}
	for convID, ds := range byConv {
		text := digestText(ds)
		if text == "" {
			continue
		}
		err := s.conv.AppendMessages(ctx, convID, provider.Message{
			Role:    provider.RoleAssistant,
			Content: text,
		})
		if err != nil {
			log.Printf("action: digest for %s: %v", convID, err)
		}
	}
}

// digestText summarizes settled decisions in one line, e.g.
// "1/2 approved action(s) completed. Booked \"Offsite\" ...".
func digestText(ds []Decision) string {
	if len(ds) == 0 {
		return ""
	}
	executed, cancelled := 0, 0
	for _, d := range ds {
		switch d.Status {
		case StatusExecuted:
			executed++
		case StatusCancelled:
			cancelled++
		}
	}
	var b strings.Builder
	if cancelled == len(ds) {
		fmt.Fprintf(&b, "%d action(s) declined.", cancelled)
		return b.String()
	}
	fmt.Fprintf(&b, "%d/%d approved action(s) completed.", executed, len(ds))
	for _, d := range ds {
		switch {
		case d.Summary != "":
			b.WriteString(" ")
			b.WriteString(d.Summary)
		case d.Status == StatusFailed && d.Error != "":
			fmt.Fprintf(&b, " One action failed: %s.", d.Error)
		}
	}
	return b.String()
}
