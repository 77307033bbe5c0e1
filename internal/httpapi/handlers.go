package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/learnhub/courses/internal/auth"
	"github.com/learnhub/courses/internal/logger"
	"github.com/learnhub/courses/internal/messaging"
	"github.com/learnhub/courses/internal/metrics"
	"github.com/learnhub/courses/internal/middleware"
	"github.com/learnhub/courses/internal/progress"
	"github.com/learnhub/courses/internal/session"
	"github.com/learnhub/courses/internal/user"
)

type handlers struct {
	store   SessionStore
	auth    Authenticator
	tracker Tracker
	events  messaging.Publisher
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type userResponse struct {
	User *user.User `json:"user"`
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "auth: "))
		return
	case errors.Is(err, user.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "username or email already exists")
		return
	case err != nil:
		logger.Errorw("[user] register failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	if !h.signIn(w, r, u) {
		return
	}
	logger.Infow("[user] registered", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, userResponse{User: u})
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.auth.Login(r.Context(), req.Identifier, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		logger.Errorw("[user] login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	if !h.signIn(w, r, u) {
		return
	}
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, userResponse{User: u})
}

// signIn binds u to a freshly issued session. The new record holds only the
// user id; anything the anonymous session tracked is dropped.
func (h *handlers) signIn(w http.ResponseWriter, r *http.Request, u *user.User) bool {
	rec, err := h.store.Regenerate(w, r, session.Fields{UserID: &u.ID})
	if err != nil {
		logger.Errorw("[user] create session failed", "user_id", u.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "session unavailable")
		return false
	}
	mc := middleware.FromContext(r.Context())
	mc.Session, mc.User = rec, u
	return true
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	mc := middleware.FromContext(r.Context())
	if err := h.store.Remove(w, r); err != nil {
		logger.Warnw("[user] logout: revoke session", "error", err)
	} else if mc.User != nil {
		ev := messaging.Event{Type: "session_revoked", UserID: mc.User.ID, At: time.Now().UTC()}
		if err := h.events.PublishEvent(messaging.SubjectSessionRevoked, ev); err != nil {
			logger.Warnf("[user] publish %s: %v", messaging.SubjectSessionRevoked, err)
		}
	}
	mc.Session, mc.User = nil, nil
	http.Redirect(w, r, "/", http.StatusFound)
}

type sessionInfo struct {
	Anonymous bool      `json:"anonymous"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type meResponse struct {
	User    *user.User   `json:"user"`
	Session *sessionInfo `json:"session"`
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	mc := middleware.FromContext(r.Context())
	resp := meResponse{User: mc.User}
	if mc.Session != nil {
		resp.Session = &sessionInfo{
			Anonymous: mc.Session.Anonymous(),
			CreatedAt: mc.Session.Created().UTC(),
			ExpiresAt: mc.Session.ExpiresAt(h.store.MaxDuration()).UTC(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type lessonRequest struct {
	CourseID string `json:"courseId"`
	LessonID string `json:"lessonId"`
}

type trackFunc func(w http.ResponseWriter, r *http.Request, courseID, lessonID string) error

func (h *handlers) updateProgress(w http.ResponseWriter, r *http.Request) {
	h.track(w, r, h.tracker.UpdateProgress)
}

func (h *handlers) videoStart(w http.ResponseWriter, r *http.Request) {
	h.track(w, r, h.tracker.TrackVideoStart)
}

func (h *handlers) videoComplete(w http.ResponseWriter, r *http.Request) {
	h.track(w, r, h.tracker.TrackVideoComplete)
}

func (h *handlers) track(w http.ResponseWriter, r *http.Request, fn trackFunc) {
	var req lessonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CourseID == "" || req.LessonID == "" {
		writeError(w, http.StatusBadRequest, "courseId and lessonId are required")
		return
	}

	err := fn(w, r, req.CourseID, req.LessonID)
	if errors.Is(err, progress.ErrNoSession) {
		writeError(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}
	if err != nil {
		logger.Errorw("[progress] track failed", "path", r.URL.Path, "course_id", req.CourseID, "lesson_id", req.LessonID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not record progress")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) courseProgress(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	sum, err := h.tracker.CourseProgress(r.Context(), courseID)
	if err != nil {
		logger.Errorw("[progress] course progress failed", "course_id", courseID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load progress")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *handlers) protected(w http.ResponseWriter, r *http.Request) {
	u := middleware.FromContext(r.Context()).User
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello, " + u.Username})
}
