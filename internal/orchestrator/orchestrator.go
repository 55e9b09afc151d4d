// Package orchestrator runs the per-turn agent loop: model completion,
// capability validation and classification, execution or staging, and
// conversation persistence. A turn is serial; separate turns share nothing
// mutable.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adjutant/adjutant/internal/action"
	"github.com/adjutant/adjutant/internal/capability"
	"github.com/adjutant/adjutant/internal/executor"
	"github.com/adjutant/adjutant/internal/knowledge"
	"github.com/adjutant/adjutant/internal/provider"
	"github.com/adjutant/adjutant/internal/state/store"
)

const (
	defaultMaxIterations = 10

	// fallbackReply is substituted when the model produces an empty final
	// answer; the user never sees a blank turn.
	fallbackReply = "I was not able to put together an answer for that. Could you rephrase the request?"

	defaultPersona = "You are Adjutant, a workplace assistant for employees. " +
		"You look up people, policies, tasks and calendars, and you prepare emails " +
		"and bookings that the user approves before anything is sent."
)

// Model completes a request, retrying transient overload internally.
type Model interface {
	Execute(ctx context.Context, model provider.ModelRef, req *provider.CompletionRequest) (*provider.CompletionResponse, error)
}

// Executor runs validated invocations.
type Executor interface {
	Execute(ctx context.Context, userID, capability string, params any) (*executor.Result, error)
}

// Profiles resolves the requesting user for personalization context.
type Profiles interface {
	ResolveEmployee(ctx context.Context, key string) (*knowledge.Profile, error)
}

// Metrics records turn outcomes.
type Metrics interface {
	ObserveTurn(outcome string, iterations int, d time.Duration)
}

// Deps carries the services a turn needs.
type Deps struct {
	Model         Model
	ModelRef      provider.ModelRef
	Catalog       *capability.Catalog
	Executor      Executor
	Conversations *store.ConversationStore
	Actions       *action.Store
	Profiles      Profiles
}

type Orchestrator struct {
	model    Model
	modelRef provider.ModelRef
	catalog  *capability.Catalog
	exec     Executor
	conv     *store.ConversationStore
	actions  *action.Store
	profiles Profiles

	guard    *Guard
	rules    *RulesConfig
	persona  string
	maxIters int
	metrics  Metrics
	now      func() time.Time
}

type Option func(*Orchestrator)

// WithMaxIterations caps the model round-trips per turn.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIters = n
		}
	}
}

// WithRules replaces the rule set built into the system prompt.
func WithRules(rc *RulesConfig) Option {
	return func(o *Orchestrator) {
		if rc != nil {
			o.rules = rc
		}
	}
}

// WithPersona replaces the leading persona line of the system prompt.
func WithPersona(s string) Option {
	return func(o *Orchestrator) {
		if strings.TrimSpace(s) != "" {
			o.persona = s
		}
	}
}

// WithMetrics attaches a turn metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces the clock, for tests.
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) { o.now = fn }
}

func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		model:    deps.Model,
		modelRef: deps.ModelRef,
		catalog:  deps.Catalog,
		exec:     deps.Executor,
		conv:     deps.Conversations,
		actions:  deps.Actions,
		profiles: deps.Profiles,
		guard:    NewGuard(),
		rules:    DefaultRulesConfig(),
		persona:  defaultPersona,
		maxIters: defaultMaxIterations,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunTurn processes one user message to completion: a final answer, or a
// partial answer with staged actions awaiting approval.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	start := time.Now()
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("orchestrator: empty message")
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("orchestrator: missing user id")
	}
	convID := req.ConversationID
	if convID == "" {
		convID = "conv_" + uuid.NewString()
	}

	conv, err := o.conv.Ensure(ctx, convID, req.UserID)
	if err != nil {
		return nil, o.cancelledOr(ctx, "load conversation", err)
	}

	// Profile misses are logged and non-fatal; the turn runs without
	// personalization context.
	profile := o.lookupProfile(ctx, req.UserID)

	userMsg := provider.Message{Role: provider.RoleUser, Content: req.Message}
	if err := o.conv.AppendMessages(ctx, convID, userMsg); err != nil {
		return nil, o.cancelledOr(ctx, "persist message", err)
	}

	system := o.systemPrompt(profile)
	tools := o.catalog.ToolDefinitions()
	history := append(append([]provider.Message{}, conv.Messages...), userMsg)

	result := &TurnResult{ConversationID: convID}

	for i := 0; i < o.maxIters; i++ {
		result.Iterations = i + 1

		msgs := make([]provider.Message, 0, len(history)+1)
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: system})
		msgs = append(msgs, history...)

		resp, err := o.model.Execute(ctx, o.modelRef, &provider.CompletionRequest{
			Messages: msgs,
			Tools:    tools,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, &CancelledError{Stage: "model", Err: ctx.Err()}
			}
			o.observe("error", result.Iterations, start)
			return nil, fmt.Errorf("model completion: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			final := strings.TrimSpace(resp.Content)
			if final == "" {
				final = fallbackReply
			}
			result.FinalText = final
			if err := o.conv.AppendMessages(ctx, convID, provider.Message{
				Role:    provider.RoleAssistant,
				Content: final,
			}); err != nil {
				return nil, o.cancelledOr(ctx, "persist reply", err)
			}
			o.observe("final", result.Iterations, start)
			log.Printf("orchestrator: turn done user=%s conv=%s iterations=%d", req.UserID, convID, result.Iterations)
			return result, nil
		}

		// Validate the whole batch before anything runs; one bad call fails
		// the batch and nothing from it executes.
		invocations, err := o.validateCalls(resp.ToolCalls)
		if err != nil {
			o.observe("error", result.Iterations, start)
			log.Printf("orchestrator: turn rejected user=%s conv=%s: %v", req.UserID, convID, err)
			return nil, err
		}

		assistantMsg := provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		history = append(history, assistantMsg)
		if err := o.conv.AppendMessages(ctx, convID, assistantMsg); err != nil {
			return nil, o.cancelledOr(ctx, "persist reply", err)
		}

		var gatedBatch []invocation
		for idx, inv := range invocations {
			if inv.gated {
				gatedBatch = append(gatedBatch, inv)
				continue
			}
			toolMsg, execErr := o.executeAuto(ctx, convID, req.UserID, inv, result)
			history = append(history, toolMsg)
			if err := o.conv.AppendMessages(ctx, convID, toolMsg); err != nil {
				log.Printf("orchestrator: persist tool result conv=%s: %v", convID, err)
			}
			if execErr != nil {
				// Halt the turn; the calls after this one never run, but each
				// still gets a result message so the history stays well formed.
				o.settleRemaining(ctx, convID, invocations[idx+1:], &history)
				o.observe("error", result.Iterations, start)
				if ctx.Err() != nil {
					return nil, &CancelledError{Stage: "execute", Err: ctx.Err()}
				}
				log.Printf("orchestrator: turn failed user=%s conv=%s capability=%s: %v",
					req.UserID, convID, inv.call.Name, execErr)
				return nil, execErr
			}
		}

		if len(gatedBatch) > 0 {
			pending, err := o.stageGated(ctx, convID, req.UserID, gatedBatch, &history)
			if err != nil {
				o.observe("error", result.Iterations, start)
				return nil, o.cancelledOr(ctx, "stage actions", err)
			}
			partial := strings.TrimSpace(resp.Content)
			if partial == "" {
				partial = describeBatch(pending)
			}
			result.PartialText = partial
			result.PendingActions = pending
			result.AwaitingApproval = true
			o.observe("awaiting_approval", result.Iterations, start)
			log.Printf("orchestrator: turn staged user=%s conv=%s pending=%d", req.UserID, convID, len(pending))
			return result, nil
		}
	}

	o.observe("iteration_limit", o.maxIters, start)
	err = &IterationLimitError{ConversationID: convID, Limit: o.maxIters}
	log.Printf("orchestrator: user=%s conv=%s: %v", req.UserID, convID, err)
	return nil, err
}

// validateCalls validates every call of a response up front; the first
// failure rejects the batch.
func (o *Orchestrator) validateCalls(calls []provider.ToolCall) ([]invocation, error) {
	out := make([]invocation, 0, len(calls))
	for _, call := range calls {
		typed, err := o.catalog.Validate(call.Name, call.Arguments)
		if err != nil {
			return nil, err
		}
		gated, err := o.catalog.Classify(call.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, invocation{call: call, typed: typed, gated: gated})
	}
	return out, nil
}

// executeAuto runs one ungated invocation, records the audit row, and builds
// the tool result message for the model. The returned error halts the turn.
func (o *Orchestrator) executeAuto(ctx context.Context, convID, userID string, inv invocation, result *TurnResult) (provider.Message, error) {
	rec := o.newActionRecord(convID, userID, inv)

	res, err := o.exec.Execute(ctx, userID, inv.call.Name, inv.typed)
	if err != nil {
		// The audit row must land even when the turn's context is gone.
		if rerr := o.actions.RecordFailed(context.WithoutCancel(ctx), rec, err.Error()); rerr != nil {
			log.Printf("orchestrator: record failed action conv=%s: %v", convID, rerr)
		}
		result.ExecutedActions = append(result.ExecutedActions, rec)
		return provider.Message{
			Role: provider.RoleTool,
			ToolResult: &provider.ToolResult{
				CallID:  inv.call.ID,
				Content: o.guard.Sanitize(err.Error()),
				IsError: true,
			},
		}, err
	}

	raw, merr := json.Marshal(res)
	if merr != nil {
		raw = nil
	}
	if rerr := o.actions.RecordExecuted(ctx, rec, raw, res.Duration); rerr != nil {
		log.Printf("orchestrator: record executed action conv=%s: %v", convID, rerr)
	}
	result.ExecutedActions = append(result.ExecutedActions, rec)

	return provider.Message{
		Role: provider.RoleTool,
		ToolResult: &provider.ToolResult{
			CallID:  inv.call.ID,
			Content: o.guard.Sanitize(resultContent(res)),
		},
	}, nil
}

// settleRemaining closes out calls that never ran because an earlier one
// failed, so no tool call is left dangling in the history.
func (o *Orchestrator) settleRemaining(ctx context.Context, convID string, rest []invocation, history *[]provider.Message) {
	for _, inv := range rest {
		msg := provider.Message{
			Role: provider.RoleTool,
			ToolResult: &provider.ToolResult{
				CallID:  inv.call.ID,
				Content: "not executed: an earlier action in this turn failed",
				IsError: true,
			},
		}
		*history = append(*history, msg)
		if err := o.conv.AppendMessages(context.WithoutCancel(ctx), convID, msg); err != nil {
			log.Printf("orchestrator: persist tool result conv=%s: %v", convID, err)
		}
	}
}

// stageGated stages the approval-gated calls of a response as one pending
// batch and closes out their tool results as queued.
func (o *Orchestrator) stageGated(ctx context.Context, convID, userID string, gated []invocation, history *[]provider.Message) ([]*action.Action, error) {
	batch := make([]*action.Action, 0, len(gated))
	for _, inv := range gated {
		batch = append(batch, o.newActionRecord(convID, userID, inv))
	}
	if err := o.actions.Stage(ctx, batch); err != nil {
		return nil, err
	}
	for _, inv := range gated {
		msg := provider.Message{
			Role: provider.RoleTool,
			ToolResult: &provider.ToolResult{
				CallID:  inv.call.ID,
				Content: "queued for user approval",
			},
		}
		*history = append(*history, msg)
		if err := o.conv.AppendMessages(ctx, convID, msg); err != nil {
			log.Printf("orchestrator: persist tool result conv=%s: %v", convID, err)
		}
	}
	return batch, nil
}

func (o *Orchestrator) newActionRecord(convID, userID string, inv invocation) *action.Action {
	desc, err := o.catalog.Describe(inv.call.Name, inv.call.Arguments)
	if err != nil {
		desc = inv.call.Name
	}
	return &action.Action{
		ConversationID: convID,
		UserID:         userID,
		Capability:     inv.call.Name,
		Params:         inv.call.Arguments,
		Description:    desc,
	}
}

func (o *Orchestrator) lookupProfile(ctx context.Context, userID string) *knowledge.Profile {
	if o.profiles == nil {
		return nil
	}
	p, err := o.profiles.ResolveEmployee(ctx, userID)
	if err != nil {
		if !errors.Is(err, knowledge.ErrNotFound) {
			log.Printf("orchestrator: profile lookup user=%s: %v", userID, err)
		}
		return nil
	}
	return p
}

func (o *Orchestrator) systemPrompt(profile *knowledge.Profile) string {
	var sb strings.Builder
	sb.WriteString(o.persona)
	sb.WriteString("\n\n")
	sb.WriteString(o.rules.BuildPromptSection())
	fmt.Fprintf(&sb, "Today's date is %s.\n\n", o.now().UTC().Format("2006-01-02"))

	if profile != nil {
		sb.WriteString("## Requesting user\n")
		fmt.Fprintf(&sb, "Name: %s\n", profile.Name)
		if profile.Title != "" {
			fmt.Fprintf(&sb, "Title: %s\n", profile.Title)
		}
		if profile.Department != "" {
			fmt.Fprintf(&sb, "Department: %s\n", profile.Department)
		}
		if profile.Email != "" {
			fmt.Fprintf(&sb, "Email: %s\n", profile.Email)
		}
		if profile.Location != "" {
			fmt.Fprintf(&sb, "Location: %s\n", profile.Location)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Capabilities\n")
	for _, name := range o.catalog.Names() {
		sig, err := o.catalog.Signature(name)
		if err != nil {
			continue
		}
		if gated, _ := o.catalog.Classify(name); gated {
			fmt.Fprintf(&sb, "- %s (requires approval)\n", sig)
		} else {
			fmt.Fprintf(&sb, "- %s\n", sig)
		}
	}
	sb.WriteString("\n")

	return sb.String()
}

func (o *Orchestrator) cancelledOr(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil {
		return &CancelledError{Stage: stage, Err: ctx.Err()}
	}
	return err
}

func (o *Orchestrator) observe(outcome string, iterations int, start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveTurn(outcome, iterations, time.Since(start))
	}
}

// resultContent renders an execution result for the model: the summary line,
// then the data payload as JSON when there is one.
func resultContent(res *executor.Result) string {
	if res.Data == nil {
		return res.Summary
	}
	data, err := json.Marshal(res.Data)
	if err != nil {
		return res.Summary
	}
	return res.Summary + "\n" + string(data)
}

func describeBatch(batch []*action.Action) string {
	var sb strings.Builder
	sb.WriteString("I need your approval before I can continue:")
	for _, a := range batch {
		sb.WriteString("\n- ")
		sb.WriteString(a.Description)
	}
	return sb.String()
}
