package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adjutant/adjutant/internal/action"
	"github.com/adjutant/adjutant/internal/actor"
	"github.com/adjutant/adjutant/internal/capability"
	"github.com/adjutant/adjutant/internal/executor"
	"github.com/adjutant/adjutant/internal/failover"
	"github.com/adjutant/adjutant/internal/metrics"
	"github.com/adjutant/adjutant/internal/oauth"
	"github.com/adjutant/adjutant/internal/orchestrator"
	"github.com/adjutant/adjutant/internal/provider"
	"github.com/adjutant/adjutant/pkg/api"
)

// fakeTurner is locked because the socket tests run it from the test
// server's handler goroutine.
type fakeTurner struct {
	mu       sync.Mutex
	res      *orchestrator.TurnResult
	err      error
	lastReq  orchestrator.TurnRequest
	identity actor.Identity
	calls    int
}

func (f *fakeTurner) RunTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	f.identity = actor.FromContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeTurner) set(res *orchestrator.TurnResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.res, f.err = res, err
}

func (f *fakeTurner) last() (orchestrator.TurnRequest, actor.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq, f.identity
}

type fakeApprovals struct {
	outcome *action.Outcome
	actions []*action.Action
	err     error

	method     string
	lastUser   string
	lastIDs    []string
	lastStatus string
	lastLimit  int
	lastOffset int
}

func (f *fakeApprovals) Approve(ctx context.Context, userID string, ids []string) (*action.Outcome, error) {
	f.method, f.lastUser, f.lastIDs = "approve", userID, ids
	return f.outcome, f.err
}

func (f *fakeApprovals) Reject(ctx context.Context, userID string, ids []string) (*action.Outcome, error) {
	f.method, f.lastUser, f.lastIDs = "reject", userID, ids
	return f.outcome, f.err
}

func (f *fakeApprovals) List(ctx context.Context, userID, status string, limit, offset int) ([]*action.Action, error) {
	f.lastUser, f.lastStatus, f.lastLimit, f.lastOffset = userID, status, limit, offset
	return f.actions, f.err
}

type fakeApprovalMetrics struct {
	statuses []string
}

func (f *fakeApprovalMetrics) ObserveApproval(status string) {
	f.statuses = append(f.statuses, status)
}

func do(t *testing.T, s *Server, method, target, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestChatRunsTurn(t *testing.T) {
	turner := &fakeTurner{res: &orchestrator.TurnResult{
		ConversationID: "conv_7",
		FinalText:      "Done.",
		Iterations:     2,
	}}
	s := New(turner, &fakeApprovals{})

	rec := do(t, s, http.MethodPost, "/v1/chat", "emp_1", api.ChatRequest{ConversationID: "conv_7", Message: "hello"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	resp := decode[api.ChatResponse](t, rec)
	if resp.ConversationID != "conv_7" || resp.FinalText != "Done." || resp.Iterations != 2 {
		t.Errorf("response = %+v", resp)
	}
	if turner.lastReq.UserID != "emp_1" || turner.lastReq.Message != "hello" {
		t.Errorf("turn request = %+v", turner.lastReq)
	}
	if turner.identity.UserID != "emp_1" || turner.identity.ConversationID != "conv_7" {
		t.Errorf("context identity = %+v", turner.identity)
	}
}

func TestChatConvertsActions(t *testing.T) {
	executed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	turner := &fakeTurner{res: &orchestrator.TurnResult{
		ConversationID:   "conv_1",
		PartialText:      "I need approval first.",
		AwaitingApproval: true,
		Iterations:       1,
		PendingActions: []*action.Action{{
			ID:             "act_1",
			ConversationID: "conv_1",
			UserID:         "emp_1",
			Capability:     "send_email",
			Description:    `Send email "Hi" to bob@corp.example`,
			Status:         action.StatusPending,
			BatchID:        "bat_1",
			CreatedAt:      executed,
		}},
	}}
	s := New(turner, &fakeApprovals{})

	rec := do(t, s, http.MethodPost, "/v1/chat", "emp_1", api.ChatRequest{Message: "email bob"})

	resp := decode[api.ChatResponse](t, rec)
	if !resp.AwaitingApproval || len(resp.PendingActions) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	got := resp.PendingActions[0]
	if got.ID != "act_1" || got.Capability != "send_email" || got.Status != action.StatusPending {
		t.Errorf("pending action = %+v", got)
	}
	if got.BatchID != "bat_1" || got.ConversationID != "conv_1" {
		t.Errorf("pending action = %+v", got)
	}
}

func TestChatRequiresUserHeader(t *testing.T) {
	s := New(&fakeTurner{}, &fakeApprovals{})

	rec := do(t, s, http.MethodPost, "/v1/chat", "", api.ChatRequest{Message: "hello"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	resp := decode[api.Error](t, rec)
	if !strings.Contains(resp.Error, UserHeader) {
		t.Errorf("error = %q, want mention of %s", resp.Error, UserHeader)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	turner := &fakeTurner{}
	s := New(turner, &fakeApprovals{})

	rec := do(t, s, http.MethodPost, "/v1/chat", "emp_1", api.ChatRequest{Message: "  \n"})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if turner.calls != 0 {
		t.Errorf("turner called %d times for a rejected request", turner.calls)
	}
}

func TestChatRejectsInvalidJSON(t *testing.T) {
	s := New(&fakeTurner{}, &fakeApprovals{})

	rec := do(t, s, http.MethodPost, "/v1/chat", "emp_1", "not json")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestChatMethodNotAllowed(t *testing.T) {
	s := New(&fakeTurner{}, &fakeApprovals{})

	rec := do(t, s, http.MethodGet, "/v1/chat", "emp_1", nil)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestChatTurnErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "validation",
			err:  &capability.ValidationError{Capability: "send_email", Missing: []string{"subject"}},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "reconnect",
			err:  &oauth.ReconnectError{UserID: "emp_1", Provider: "google"},
			want: http.StatusForbidden,
		},
		{
			name: "all models exhausted",
			err:  &failover.AllExhaustedError{Attempted: []string{"primary/model-a"}},
			want: http.StatusServiceUnavailable,
		},
		{
			name: "iteration limit",
			err:  &orchestrator.IterationLimitError{ConversationID: "conv_1", Limit: 10},
			want: http.StatusBadGateway,
		},
		{
			name: "cancelled",
			err:  &orchestrator.CancelledError{Stage: "model", Err: context.Canceled},
			want: statusClientClosedRequest,
		},
		{
			name: "execution failure",
			err:  &executor.ExecutionError{Capability: "check_calendar", Err: errors.New("calendar api returned 500")},
			want: http.StatusBadGateway,
		},
		{
			name: "provider error",
			err:  &provider.ProviderError{StatusCode: 500, Message: "upstream down"},
			want: http.StatusBadGateway,
		},
		{
			name: "wrapped provider error",
			err:  fmt.Errorf("model completion: %w", &provider.ProviderError{StatusCode: 400, Message: "bad request"}),
			want: http.StatusBadGateway,
		},
		{
			name: "unclassified",
			err:  errors.New("database exploded"),
			want: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeTurner{err: tt.err}, &fakeApprovals{})
			rec := do(t, s, http.MethodPost, "/v1/chat", "emp_1", api.ChatRequest{Message: "hello"})
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			resp := decode[api.Error](t, rec)
			if tt.want == http.StatusInternalServerError {
				if resp.Error != "internal server error" {
					t.Errorf("error = %q, want opaque message", resp.Error)
				}
			} else if resp.Error == "" {
				t.Error("error body is empty")
			}
		})
	}
}

func TestApproveSettlesBatch(t *testing.T) {
	approvals := &fakeApprovals{outcome: &action.Outcome{
		Decisions: []action.Decision{
			{ActionID: "act_1", Status: action.StatusExecuted, Summary: "Email sent"},
			{ActionID: "act_2", Error: "not found"},
		},
		Digest: "1/1 approved action(s) completed.",
	}}
	observed := &fakeApprovalMetrics{}
	s := New(&fakeTurner{}, approvals, WithMetrics(observed))

	rec := do(t, s, http.MethodPost, "/v1/actions/approve", "emp_1", api.DecisionRequest{ActionIDs: []string{"act_1", "act_2"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if approvals.method != "approve" || approvals.lastUser != "emp_1" {
		t.Errorf("service saw method=%q user=%q", approvals.method, approvals.lastUser)
	}
	if len(approvals.lastIDs) != 2 || approvals.lastIDs[0] != "act_1" {
		t.Errorf("service saw ids %v", approvals.lastIDs)
	}
	resp := decode[api.DecisionResponse](t, rec)
	if len(resp.Decisions) != 2 || resp.Digest == "" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Decisions[0].Status != action.StatusExecuted || resp.Decisions[1].Error != "not found" {
		t.Errorf("decisions = %+v", resp.Decisions)
	}
	want := []string{action.StatusExecuted, "not_found"}
	if len(observed.statuses) != 2 || observed.statuses[0] != want[0] || observed.statuses[1] != want[1] {
		t.Errorf("observed approval statuses %v, want %v", observed.statuses, want)
	}
}

func TestRejectCancelsBatch(t *testing.T) {
	approvals := &fakeApprovals{outcome: &action.Outcome{
		Decisions: []action.Decision{{ActionID: "act_1", Status: action.StatusCancelled}},
		Digest:    "1 action(s) rejected.",
	}}
	s := New(&fakeTurner{}, approvals)

	rec := do(t, s, http.MethodPost, "/v1/actions/reject", "emp_1", api.DecisionRequest{ActionIDs: []string{"act_1"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if approvals.method != "reject" {
		t.Errorf("service saw method %q, want reject", approvals.method)
	}
	resp := decode[api.DecisionResponse](t, rec)
	if len(resp.Decisions) != 1 || resp.Decisions[0].Status != action.StatusCancelled {
		t.Errorf("response = %+v", resp)
	}
}

func TestDecisionRequiresActionIDs(t *testing.T) {
	s := New(&fakeTurner{}, &fakeApprovals{})

	rec := do(t, s, http.MethodPost, "/v1/actions/approve", "emp_1", api.DecisionRequest{})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestDecisionRequiresUserHeader(t *testing.T) {
	s := New(&fakeTurner{}, &fakeApprovals{})

	rec := do(t, s, http.MethodPost, "/v1/actions/reject", "", api.DecisionRequest{ActionIDs: []string{"act_1"}})

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestListActionsScopedToUser(t *testing.T) {
	approvals := &fakeApprovals{actions: []*action.Action{{
		ID:         "act_1",
		UserID:     "emp_1",
		Capability: "book_meeting_room",
		Status:     action.StatusPending,
	}}}
	s := New(&fakeTurner{}, approvals)

	rec := do(t, s, http.MethodGet, "/v1/actions?status=pending&limit=5&offset=10", "emp_1", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if approvals.lastUser != "emp_1" || approvals.lastStatus != "pending" {
		t.Errorf("service saw user=%q status=%q", approvals.lastUser, approvals.lastStatus)
	}
	if approvals.lastLimit != 5 || approvals.lastOffset != 10 {
		t.Errorf("service saw limit=%d offset=%d", approvals.lastLimit, approvals.lastOffset)
	}
	resp := decode[api.ActionList](t, rec)
	if len(resp.Actions) != 1 || resp.Actions[0].ID != "act_1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestListActionsRejectsBadLimit(t *testing.T) {
	for _, target := range []string{"/v1/actions?limit=x", "/v1/actions?offset=-1"} {
		rec := do(t, New(&fakeTurner{}, &fakeApprovals{}), http.MethodGet, target, "emp_1", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", target, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestHealth(t *testing.T) {
	s := New(&fakeTurner{}, &fakeApprovals{})

	rec := do(t, s, http.MethodGet, "/healthz", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	resp := decode[api.Health](t, rec)
	if resp.Status != "ok" || resp.Version == "" {
		t.Errorf("health = %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New(nil)
	m.ObserveApproval(action.StatusExecuted)
	s := New(&fakeTurner{}, &fakeApprovals{}, WithMetrics(m), WithGatherer(m.Registry()))

	rec := do(t, s, http.MethodGet, "/metrics", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "adjutant_actions_approvals_total") {
		t.Error("exposition is missing the approvals counter")
	}
}

func TestMetricsEndpointAbsentWithoutGatherer(t *testing.T) {
	s := New(&fakeTurner{}, &fakeApprovals{})

	rec := do(t, s, http.MethodGet, "/metrics", "", nil)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
