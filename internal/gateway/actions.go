package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/adjutant/adjutant/internal/action"
	"github.com/adjutant/adjutant/pkg/api"
)

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, s.approvals.Approve)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, s.approvals.Reject)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, decide func(context.Context, string, []string) (*action.Outcome, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req api.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.ActionIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "action_ids is required")
		return
	}
	out, err := decide(r.Context(), userID, req.ActionIDs)
	if err != nil {
		// The service settles ids independently; an error here means the
		// request context died mid-batch.
		s.writeError(w, statusClientClosedRequest, err.Error())
		return
	}
	if s.metrics != nil {
		for _, d := range out.Decisions {
			status := d.Status
			if status == "" {
				status = "not_found"
			}
			s.metrics.ObserveApproval(status)
		}
	}
	s.writeJSON(w, http.StatusOK, decisionResponse(out))
}

// handleListActions serves GET /v1/actions?status=&limit=&offset= scoped to
// the requesting user.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, ok := s.queryInt(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	offset, ok := s.queryInt(w, q.Get("offset"), "offset")
	if !ok {
		return
	}
	acts, err := s.approvals.List(r.Context(), userID, q.Get("status"), limit, offset)
	if err != nil {
		log.Printf("gateway: list actions user=%s: %v", userID, err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	list := api.ActionList{Actions: make([]api.Action, len(acts))}
	for i, a := range acts {
		list.Actions[i] = actionView(a)
	}
	s.writeJSON(w, http.StatusOK, list)
}

// queryInt parses an optional non-negative integer parameter; empty means 0,
// which the store replaces with its defaults.
func (s *Server) queryInt(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		s.writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
