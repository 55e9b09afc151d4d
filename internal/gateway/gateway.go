// Package gateway exposes the assistant over HTTP and WebSocket: a chat
// endpoint that runs turns, the approval API for staged actions, and the
// operational endpoints (health, metrics). Authentication is terminated
// upstream; the gateway trusts the user header the proxy injects.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adjutant/adjutant/internal/action"
	"github.com/adjutant/adjutant/internal/actor"
	"github.com/adjutant/adjutant/internal/capability"
	"github.com/adjutant/adjutant/internal/executor"
	"github.com/adjutant/adjutant/internal/failover"
	"github.com/adjutant/adjutant/internal/oauth"
	"github.com/adjutant/adjutant/internal/orchestrator"
	"github.com/adjutant/adjutant/internal/provider"
	"github.com/adjutant/adjutant/internal/version"
	"github.com/adjutant/adjutant/pkg/api"
)

// UserHeader carries the authenticated user id. The reverse proxy in front
// of the gateway sets it after authenticating the request.
const UserHeader = "X-Adjutant-User"

// statusClientClosedRequest is the nginx convention for a client that went
// away before the response was ready.
const statusClientClosedRequest = 499

// Turner runs one conversation turn.
type Turner interface {
	RunTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error)
}

// Approvals settles staged actions and lists a user's action history.
type Approvals interface {
	Approve(ctx context.Context, userID string, actionIDs []string) (*action.Outcome, error)
	Reject(ctx context.Context, userID string, actionIDs []string) (*action.Outcome, error)
	List(ctx context.Context, userID, status string, limit, offset int) ([]*action.Action, error)
}

// Metrics counts approval decisions by how they settled.
type Metrics interface {
	ObserveApproval(status string)
}

// Server is the HTTP surface. Construct with New, mount via Handler.
type Server struct {
	turns     Turner
	approvals Approvals
	metrics   Metrics
	gatherer  prometheus.Gatherer
	mux       *http.ServeMux
}

type Option func(*Server)

// WithMetrics records approval decisions on the given collector.
func WithMetrics(m Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithGatherer serves the registry at GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func New(turns Turner, approvals Approvals, opts ...Option) *Server {
	s := &Server{turns: turns, approvals: approvals}
	for _, opt := range opts {
		opt(s)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/chat/ws", s.handleChatSocket)
	mux.HandleFunc("/v1/actions", s.handleListActions)
	mux.HandleFunc("/v1/actions/approve", s.handleApprove)
	mux.HandleFunc("/v1/actions/reject", s.handleReject)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.mux = mux
	return s
}

// Handler returns the root handler for an http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

// handleChat runs one turn and returns the result. POST /v1/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req api.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	ctx := actor.WithIdentity(r.Context(), actor.Identity{
		UserID:         userID,
		ConversationID: req.ConversationID,
	})
	res, err := s.turns.RunTurn(ctx, orchestrator.TurnRequest{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
	})
	if err != nil {
		s.writeTurnError(w, userID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chatResponse(res))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, api.Health{Status: "ok", Version: version.Version})
}

// turnError maps a turn failure to a status code and response message.
// Client-attributable failures carry the error text; everything else is
// logged and reported as an opaque internal error. The WebSocket path uses
// the message and drops the status.
func turnError(userID string, err error) (int, string) {
	var (
		verr *capability.ValidationError
		rerr *oauth.ReconnectError
		xerr *failover.AllExhaustedError
		lerr *orchestrator.IterationLimitError
		cerr *orchestrator.CancelledError
		eerr *executor.ExecutionError
		perr *provider.ProviderError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.As(err, &rerr):
		return http.StatusForbidden, err.Error()
	case errors.As(err, &xerr):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &lerr):
		return http.StatusBadGateway, err.Error()
	case errors.As(err, &cerr):
		return statusClientClosedRequest, err.Error()
	case errors.As(err, &eerr):
		return http.StatusBadGateway, err.Error()
	case errors.As(err, &perr):
		return http.StatusBadGateway, err.Error()
	default:
		log.Printf("gateway: turn user=%s: %v", userID, err)
		return http.StatusInternalServerError, "internal server error"
	}
}

func (s *Server) writeTurnError(w http.ResponseWriter, userID string, err error) {
	status, msg := turnError(userID, err)
	s.writeError(w, status, msg)
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" {
		s.writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
		return "", false
	}
	return userID, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("gateway: encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, api.Error{Error: msg})
}

func chatResponse(res *orchestrator.TurnResult) api.ChatResponse {
	return api.ChatResponse{
		ConversationID:   res.ConversationID,
		FinalText:        res.FinalText,
		PartialText:      res.PartialText,
		ExecutedActions:  actionViews(res.ExecutedActions),
		PendingActions:   actionViews(res.PendingActions),
		AwaitingApproval: res.AwaitingApproval,
		Iterations:       res.Iterations,
	}
}

func actionViews(as []*action.Action) []api.Action {
	if len(as) == 0 {
		return nil
	}
	out := make([]api.Action, len(as))
	for i, a := range as {
		out[i] = actionView(a)
	}
	return out
}

func actionView(a *action.Action) api.Action {
	return api.Action{
		ID:             a.ID,
		ConversationID: a.ConversationID,
		Capability:     a.Capability,
		Params:         a.Params,
		Description:    a.Description,
		Status:         a.Status,
		BatchID:        a.BatchID,
		Result:         a.Result,
		Error:          a.Error,
		ExecutedAt:     a.ExecutedAt,
		DurationMs:     a.DurationMs,
		CreatedAt:      a.CreatedAt,
	}
}

func decisionResponse(out *action.Outcome) api.DecisionResponse {
	resp := api.DecisionResponse{
		Decisions: make([]api.Decision, len(out.Decisions)),
		Digest:    out.Digest,
	}
	for i, d := range out.Decisions {
		resp.Decisions[i] = api.Decision{
			ActionID: d.ActionID,
			Status:   d.Status,
			Summary:  d.Summary,
			Error:    d.Error,
		}
	}
	return resp
}
