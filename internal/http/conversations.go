package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ai-interview-voice-service/internal/errorhandler"
	"ai-interview-voice-service/internal/schema"
	"ai-interview-voice-service/internal/service/conversation"
	"ai-interview-voice-service/internal/session"
	"ai-interview-voice-service/internal/state"
)

type conversationResponse struct {
	ID    string         `json:"id"`
	Phase string         `json:"phase"`
	State state.Snapshot `json:"state"`
}

func respond(sess *session.Session) conversationResponse {
	return conversationResponse{
		ID:    sess.ID,
		Phase: sess.Conversation.Phase().String(),
		State: sess.Store.Snapshot(),
	}
}

func (s *server) createConversation(w http.ResponseWriter, r *http.Request) {
	sess, err := s.app.Sessions.Create(nil, userFrom(r.Context()))
	switch {
	case errors.Is(err, session.ErrTooManySessions):
		writeError(w, http.StatusServiceUnavailable, "Too many active conversations", "")
		return
	case errors.Is(err, session.ErrTransportRequired):
		writeError(w, http.StatusBadRequest, "This recognition provider requires the WebSocket API", "")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to create conversation", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, respond(sess))
}

// session resolves {id} and checks it belongs to the caller.
func (s *server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.app.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil || sess.Conversation.Identity().Email != userFrom(r.Context()).Email {
		writeError(w, http.StatusNotFound, "Conversation not found", "")
		return nil, false
	}
	return sess, true
}

func (s *server) getConversation(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		writeJSON(w, http.StatusOK, respond(sess))
	}
}

func (s *server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	_ = s.app.Sessions.Close(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) startConversation(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Conversation.StartConversation(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, conversation.ErrMicrophoneDisabled) {
			status = http.StatusConflict
		}
		writeError(w, status, errorhandler.UserMessage(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, respond(sess))
}

func (s *server) stopConversation(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		sess.Conversation.StopListening()
		writeJSON(w, http.StatusOK, respond(sess))
	}
}

func (s *server) endConversation(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		sess.Conversation.EndConversation()
		writeJSON(w, http.StatusOK, respond(sess))
	}
}

func (s *server) toggleMicrophone(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		enabled := sess.Conversation.ToggleMicrophone()
		writeJSON(w, http.StatusOK, map[string]bool{"microphoneEnabled": enabled})
	}
}

func (s *server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req schema.TextMessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	switch err := sess.Conversation.SendText(req.Text); {
	case errors.Is(err, conversation.ErrTurnInProgress):
		writeError(w, http.StatusConflict, "A reply is still being generated", "")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error(), "")
	default:
		writeJSON(w, http.StatusAccepted, respond(sess))
	}
}
