package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/harun/aiguide/internal/media"
	"github.com/harun/aiguide/internal/observability"
	"github.com/harun/aiguide/internal/tracing"
	"github.com/harun/aiguide/pkg/agent"
	"github.com/harun/aiguide/pkg/session"
)

const (
	sessionHeader = "X-Session-ID"
	sessionCookie = "session_id"
	sessionField  = "session_id"
)

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type messagesResponse struct {
	Messages []session.Notification `json:"messages"`
	HasMore  bool                   `json:"has_more"`
}

type statusResponse struct {
	session.Info
	Active bool `json:"active"`
}

type healthResponse struct {
	Status   string `json:"status"`
	DBStatus bool   `json:"db_status"`
	Sessions int    `json:"sessions"`
	Version  string `json:"version"`
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	r.Route("/session", func(r chi.Router) {
		r.Post("/create", s.handleCreateSession)
		r.Get("/status", s.handleSessionStatus)
	})

	r.With(s.limiter.Middleware).Post("/chat", s.handleChat)
	r.Get("/messages", s.handleMessages)
	r.Get("/ws/messages", s.handlePushSocket)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		DBStatus: true,
		Sessions: s.sessions.Count(),
		Version:  s.cfg.Version,
	}

	if s.cfg.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.cfg.Store.Ping(ctx); err != nil {
			logger := tracing.LoggerFromContext(r.Context(), s.logger)
			logger.Warn().Err(err).Msg("Knowledge store health check failed")
			resp.Status = "degraded"
			resp.DBStatus = false
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.CreateSession()
	setSessionCookie(w, id)
	writeJSON(w, http.StatusOK, createSessionResponse{
		SessionID: id,
		Message:   "session created",
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	req, image, err := s.parseChat(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := firstNonEmpty(r.Header.Get(sessionHeader), cookieValue(r), req.SessionID)

	result, err := s.sessions.ProcessQuery(r.Context(), id, req.Message, image)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	setSessionCookie(w, result.SessionID)
	writeJSON(w, http.StatusOK, result)
}

// parseChat reads a multipart form or a JSON body. A supplied image is
// normalized here so the model only ever sees bounded input.
func (s *Server) parseChat(r *http.Request) (chatRequest, *agent.Attachment, error) {
	var req chatRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		return req, nil, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
			return req, nil, fmt.Errorf("invalid multipart form: %w", err)
		}
	default:
		if err := r.ParseForm(); err != nil {
			return req, nil, fmt.Errorf("invalid form: %w", err)
		}
	}

	req.Message = r.FormValue("message")
	req.SessionID = r.FormValue(sessionField)

	if r.MultipartForm == nil || len(r.MultipartForm.File["image"]) == 0 {
		return req, nil, nil
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return req, nil, fmt.Errorf("invalid image upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return req, nil, fmt.Errorf("failed to read image: %w", err)
	}

	img, err := media.Normalize(data, s.cfg.Image)
	if err != nil {
		return req, nil, fmt.Errorf("invalid image: %w", err)
	}

	return req, &agent.Attachment{Data: img.Data, MimeType: img.MimeType}, nil
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := requestSessionID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	notifications, err := s.sessions.PendingNotifications(id)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messagesResponse{Messages: notifications})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := requestSessionID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	state, ok := s.sessions.GetSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session not found: %s", id))
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Info: state.Info(), Active: true})
}

// writeSessionError maps registry errors onto status codes
func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	var inputErr *agent.InputError
	switch {
	case errors.As(err, &inputErr):
		writeError(w, http.StatusBadRequest, inputErr.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// requestSessionID reads the id from the header, then the query, then the cookie
func requestSessionID(r *http.Request) string {
	return firstNonEmpty(r.Header.Get(sessionHeader), r.URL.Query().Get(sessionField), cookieValue(r))
}

func cookieValue(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func setSessionCookie(w http.ResponseWriter, id string) {
	w.Header().Set(sessionHeader, id)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(24 * time.Hour),
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
