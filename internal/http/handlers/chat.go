package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aix/internal/chat"
	"aix/internal/domain"
)

type chatSessionResponse struct {
	ID        string               `json:"id"`
	CreatedAt time.Time            `json:"created_at"`
	Messages  []domain.ChatMessage `json:"messages"`
}

type chatSendRequest struct {
	Text string `json:"text"`
}

type chatSendResponse struct {
	Reply domain.ChatMessage `json:"reply"`
}

func sessionResponse(s *chat.Session) chatSessionResponse {
	return chatSessionResponse{ID: s.ID(), CreatedAt: s.CreatedAt(), Messages: s.Messages()}
}

func (a *App) ChatCreate(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusCreated, sessionResponse(a.Chats.Create()))
}

func (a *App) ChatGet(w http.ResponseWriter, r *http.Request) {
	s, err := a.Chats.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, sessionResponse(s))
}

func (a *App) ChatSend(w http.ResponseWriter, r *http.Request) {
	s, err := a.Chats.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req chatSendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	reply, err := s.Send(r.Context(), req.Text)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, chatSendResponse{Reply: reply})
}

func (a *App) ChatDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.Chats.Dispose(chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
