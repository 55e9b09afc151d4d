// Package executor runs capability invocations against the backing services.
// Dispatch is a typed handler table; adding a capability means registering a
// handler, there is no default case to fall through.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/adjutant/adjutant/internal/capability"
	"github.com/adjutant/adjutant/internal/knowledge"
	"github.com/adjutant/adjutant/internal/lua"
	"github.com/adjutant/adjutant/internal/oauth"
	"github.com/adjutant/adjutant/internal/workspace"
)

const defaultTimeout = 30 * time.Second

// Result is what one capability execution produced.
type Result struct {
	Data     any           `json:"data,omitempty"`
	Summary  string        `json:"summary"`
	Duration time.Duration `json:"duration"`
}

// ExecutionError reports a failed capability execution.
type ExecutionError struct {
	Capability string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s: %v", e.Capability, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Handler executes one invocation with catalog-validated parameters.
type Handler func(ctx context.Context, userID string, params any) (*Result, error)

// KnowledgeService is the read-only lookup surface handlers delegate to.
type KnowledgeService interface {
	ResolveEmployee(ctx context.Context, key string) (*knowledge.Profile, error)
	Search(ctx context.Context, query string, limit int, category string) ([]knowledge.Result, error)
	ListTasks(ctx context.Context, assignee, status string) ([]knowledge.Task, error)
}

// TokenSource hands out and refreshes per-user workspace access tokens.
type TokenSource interface {
	Token(ctx context.Context, userID, provider string) (string, error)
	Refresh(ctx context.Context, userID, provider string) (string, error)
}

// CalendarService is the slice of the calendar client the handlers use.
type CalendarService interface {
	ListEvents(ctx context.Context, token, calendarID, start, end string) ([]workspace.Event, error)
	CreateEvent(ctx context.Context, token string, req workspace.EventRequest) (*workspace.Event, error)
}

// MailService sends mail on behalf of a user.
type MailService interface {
	Send(ctx context.Context, token string, msg workspace.MailMessage) (*workspace.SentReceipt, error)
}

// Metrics records execution outcomes.
type Metrics interface {
	ObserveExecution(capability, status string, d time.Duration)
}

// Deps carries the services the built-in handlers need. A nil service leaves
// its capabilities unregistered.
type Deps struct {
	Knowledge KnowledgeService
	Tokens    TokenSource
	Calendar  CalendarService
	Mail      MailService
}

// Executor dispatches capability invocations through the handler table.
type Executor struct {
	handlers map[string]Handler
	timeout  time.Duration
	metrics  Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout sets the per-execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMetrics attaches an execution metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func New(deps Deps, opts ...Option) *Executor {
	e := &Executor{
		handlers: make(map[string]Handler),
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	e.registerBuiltins(deps)
	return e
}

// Register adds a handler for a capability name, replacing any previous one.
func (e *Executor) Register(name string, h Handler) {
	e.handlers[name] = h
}

// RegisterScript registers a Lua-scripted capability. The script's global
// handle(params) returns the summary and optional data.
func (e *Executor) RegisterScript(name, scriptPath string) {
	e.Register(name, func(ctx context.Context, _ string, params any) (*Result, error) {
		args, _ := params.(capability.CustomParams)
		res, err := lua.RunHandle(ctx, scriptPath, map[string]any(args))
		if err != nil {
			return nil, &ExecutionError{Capability: name, Err: err}
		}
		return &Result{Data: res.Data, Summary: res.Summary}, nil
	})
}

// Handles reports whether a handler is registered for name.
func (e *Executor) Handles(name string) bool {
	_, ok := e.handlers[name]
	return ok
}

// Execute runs one invocation under the per-execution deadline and stamps the
// measured duration on the result. Callers own exactly-once semantics; nothing
// here retries.
func (e *Executor) Execute(ctx context.Context, userID, capName string, params any) (*Result, error) {
	h, ok := e.handlers[capName]
	if !ok {
		return nil, &ExecutionError{Capability: capName, Err: errors.New("no handler registered")}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	res, err := h(execCtx, userID, params)
	elapsed := time.Since(start)

	if err != nil {
		e.observe(capName, "error", elapsed)
		if ctx.Err() != nil {
			// The caller abandoned the turn; report that, not the handler's
			// wrapped version of it.
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = &ExecutionError{Capability: capName, Err: fmt.Errorf("timed out after %s", e.timeout)}
		} else {
			err = e.classify(capName, err)
		}
		log.Printf("executor: %s user=%s failed: %v", capName, userID, err)
		return nil, err
	}

	res.Duration = elapsed
	e.observe(capName, "ok", elapsed)
	return res, nil
}

// classify keeps reconnect errors and already-typed execution errors intact
// and wraps everything else.
func (e *Executor) classify(capName string, err error) error {
	var re *oauth.ReconnectError
	if errors.As(err, &re) {
		return err
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	return &ExecutionError{Capability: capName, Err: err}
}

func (e *Executor) observe(capName, status string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.ObserveExecution(capName, status, d)
	}
}

// withToken runs call with the user's current access token. A 401 from the
// service triggers exactly one forced refresh and one retry; a second 401
// means the account needs reconnecting.
func withToken[T any](ctx context.Context, tokens TokenSource, userID, provider string, call func(token string) (T, error)) (T, error) {
	var zero T
	token, err := tokens.Token(ctx, userID, provider)
	if err != nil {
		return zero, err
	}
	out, err := call(token)
	if err == nil || !workspace.IsUnauthorized(err) {
		return out, err
	}
	token, err = tokens.Refresh(ctx, userID, provider)
	if err != nil {
		return zero, err
	}
	out, err = call(token)
	if err != nil && workspace.IsUnauthorized(err) {
		return zero, &oauth.ReconnectError{UserID: userID, Provider: provider, Err: err}
	}
	return out, err
}
