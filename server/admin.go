package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	contractx "github.com/dmelendez/enerbot/agent/contract"
	statex "github.com/dmelendez/enerbot/agent/state"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}

	summaries, err := s.agent.ListConversations(r.Context(), limit, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing conversations failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (s *Server) handleConversationDetail(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactID")
	detail, err := s.agent.ConversationDetail(r.Context(), contactID)
	switch {
	case errors.Is(err, statex.ErrMemoryNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, contractx.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "loading conversation failed")
	default:
		writeJSON(w, http.StatusOK, detail)
	}
}

type flagRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFlagConversation(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid flag payload")
		return
	}

	err := s.agent.Flag(r.Context(), chi.URLParam(r, "contactID"), req.Reason)
	switch {
	case errors.Is(err, statex.ErrMemoryNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, contractx.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "flagging conversation failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "flagged"})
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Metrics())
}
