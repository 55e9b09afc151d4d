package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/adjutant/adjutant/internal/actor"
	"github.com/adjutant/adjutant/internal/orchestrator"
	"github.com/adjutant/adjutant/pkg/api"
)

// socketReadLimit bounds one inbound frame. The default 32 KiB limit is too
// tight for pasted documents in a chat message.
const socketReadLimit = 1 << 20

// handleChatSocket serves GET /v1/chat/ws. Frames in are api.ChatRequest,
// frames out are api.ChatResponse, one per turn, in request order. A turn
// failure produces an api.Error frame and keeps the session open.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" {
		s.writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("gateway: websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(socketReadLimit)

	// The request context stays live while this handler runs and ends the
	// session when the server shuts down.
	ctx := r.Context()
	for {
		var req api.ChatRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			logSocketClose(userID, err)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			if err := wsjson.Write(ctx, conn, api.Error{Error: "message is required"}); err != nil {
				return
			}
			continue
		}
		turnCtx := actor.WithIdentity(ctx, actor.Identity{
			UserID:         userID,
			ConversationID: req.ConversationID,
		})
		res, err := s.turns.RunTurn(turnCtx, orchestrator.TurnRequest{
			UserID:         userID,
			ConversationID: req.ConversationID,
			Message:        req.Message,
		})
		if err != nil {
			_, msg := turnError(userID, err)
			if werr := wsjson.Write(ctx, conn, api.Error{Error: msg}); werr != nil {
				return
			}
			continue
		}
		if err := wsjson.Write(ctx, conn, chatResponse(res)); err != nil {
			return
		}
	}
}

// logSocketClose keeps ordinary disconnects out of the log.
func logSocketClose(userID string, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	log.Printf("gateway: websocket read user=%s: %v", userID, err)
}
