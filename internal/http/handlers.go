package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ai-interview-voice-service/internal/errorhandler"
	"ai-interview-voice-service/internal/schema"
	"ai-interview-voice-service/internal/service/persistence"
	"ai-interview-voice-service/internal/userinfo"
)

func (s *server) setUserInfo(w http.ResponseWriter, r *http.Request) {
	var req schema.UserInfoRequest
	if !s.decode(w, r, &req) {
		return
	}
	info := userinfo.Info{Name: req.Name, Email: req.Email}
	if err := userinfo.Set(w, info, s.now()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save user info", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *server) getUserInfo(w http.ResponseWriter, r *http.Request) {
	info, err := userinfo.Get(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "User info not found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *server) clearUserInfo(w http.ResponseWriter, _ *http.Request) {
	userinfo.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) chat(w http.ResponseWriter, r *http.Request) {
	var req schema.ChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	reply, err := s.app.Chat.Complete(r.Context(), req.Messages)
	if err != nil {
		s.providerError(w, err, "Kimi API credentials not configured", "Failed to get AI response")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *server) tts(w http.ResponseWriter, r *http.Request) {
	var req schema.TTSRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.app.TTS == nil {
		writeError(w, http.StatusInternalServerError, "API credentials not configured", "")
		return
	}
	audio, err := s.app.TTS.Synthesize(r.Context(), strings.TrimSpace(req.Text))
	if err != nil {
		s.providerError(w, err, "API credentials not configured", "Failed to generate speech")
		return
	}
	w.Header().Set("Content-Type", audio.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Data)
}

func (s *server) interviewSummary(w http.ResponseWriter, r *http.Request) {
	var req schema.SummaryRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.app.Summarizer.Summarize(r.Context(), req.Messages)
	if err != nil {
		s.providerError(w, err, "Kimi API credentials not configured", "Failed to generate summary")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// providerError hides raw provider text behind a fixed message; the
// details field carries the original error.
func (s *server) providerError(w http.ResponseWriter, err error, notConfigured, failed string) {
	s.app.Errors.Handle(err, "HTTP "+failed)
	if errors.Is(err, errorhandler.ErrNotConfigured) {
		writeError(w, http.StatusInternalServerError, notConfigured, "")
		return
	}
	writeError(w, http.StatusInternalServerError, failed, err.Error())
}

func (s *server) upload(w http.ResponseWriter, r *http.Request) {
	var req schema.UploadRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Table != persistence.AgentsTable {
		writeError(w, http.StatusBadRequest, "Unsupported table type", "")
		return
	}
	if s.app.Store == nil {
		writeError(w, http.StatusInternalServerError, "Failed to upload data to database", "persistence is not configured")
		return
	}

	var agent persistence.Agent
	raw, _ := json.Marshal(req.Data)
	if err := json.Unmarshal(raw, &agent); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid agent data", err.Error())
		return
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = s.now().UTC()
	}

	row, err := s.app.Store.InsertAgent(r.Context(), agent)
	if err != nil {
		s.log.Error().Err(err).Str("table", req.Table).Msg("Upload failed")
		status := http.StatusInternalServerError
		if errors.Is(err, persistence.ErrInvalidAgent) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "Failed to upload data to database", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    row,
		"message": "Agent data uploaded successfully",
	})
}

type queryFailure struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *server) query(w http.ResponseWriter, r *http.Request) {
	var req schema.QueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.app.DB == nil {
		writeJSON(w, http.StatusInternalServerError, queryFailure{"Database query failed", "database not configured"})
		return
	}
	res, err := s.app.DB.Query(r.Context(), req.Query, req.Params...)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, queryFailure{"Database query failed", err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"data":     res.Rows,
		"rowCount": res.RowCount,
	})
}

func (s *server) queryCheck(w http.ResponseWriter, r *http.Request) {
	if s.app.DB == nil {
		writeJSON(w, http.StatusInternalServerError, queryFailure{"Database connection failed", "database not configured"})
		return
	}
	res, err := s.app.DB.Query(r.Context(), "SELECT NOW() AS current_time")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, queryFailure{"Database connection failed", err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Database connection successful",
		"data":    res.Rows,
	})
}
