package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"nano-chat-go/store"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.clients.Count(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": s.registry.List(),
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetOrCreateDefaultUser()
	if err != nil {
		s.logger.Error("default user lookup failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal storage error")
		return
	}
	conversations, err := s.store.ListConversations(user.ID)
	if err != nil {
		s.logger.Error("conversation list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	s.writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if err := s.store.DeleteConversation(uint(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("conversation delete failed", "conversation", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// messagePayload is the wire shape of one stored message. IDs go out
// as strings because the frontend treats them as opaque keys.
type messagePayload struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	ImageURL  string `json:"image_url,omitempty"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if _, err := s.store.GetConversation(uint(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("conversation lookup failed", "conversation", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal storage error")
		return
	}

	messages, err := s.store.ListMessages(uint(id))
	if err != nil {
		s.logger.Error("message list failed", "conversation", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	payload := make([]messagePayload, 0, len(messages))
	for _, m := range messages {
		payload = append(payload, messagePayload{
			ID:        strconv.FormatUint(uint64(m.ID), 10),
			Content:   m.Content,
			Role:      m.Role,
			Timestamp: m.CreatedAt.UTC().Format(time.RFC3339),
			ImageURL:  m.ImageURL,
		})
	}
	s.writeJSON(w, http.StatusOK, payload)
}
