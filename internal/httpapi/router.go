// Package httpapi exposes the learnhub HTTP surface: account endpoints,
// progress tracking, health and metrics.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/learnhub/courses/internal/messaging"
	"github.com/learnhub/courses/internal/metrics"
	"github.com/learnhub/courses/internal/middleware"
	"github.com/learnhub/courses/internal/progress"
	"github.com/learnhub/courses/internal/ratelimit"
	"github.com/learnhub/courses/internal/session"
	"github.com/learnhub/courses/internal/user"
)

// requestTimeout bounds every request handled by the router.
const requestTimeout = 30 * time.Second

// SessionStore is the session.Store surface the handlers use.
type SessionStore interface {
	Save(w http.ResponseWriter, r *http.Request, f session.Fields) (*session.Record, error)
	Remove(w http.ResponseWriter, r *http.Request) error
	Regenerate(w http.ResponseWriter, r *http.Request, f session.Fields) (*session.Record, error)
	MaxDuration() time.Duration
}

// Authenticator registers and logs in users.
type Authenticator interface {
	Register(ctx context.Context, username, email, password string) (*user.User, error)
	Login(ctx context.Context, identifier, password string) (*user.User, error)
}

// Tracker records course progress for the request's visitor.
type Tracker interface {
	UpdateProgress(w http.ResponseWriter, r *http.Request, courseID, lessonID string) error
	TrackVideoStart(w http.ResponseWriter, r *http.Request, courseID, lessonID string) error
	TrackVideoComplete(w http.ResponseWriter, r *http.Request, courseID, lessonID string) error
	CourseProgress(ctx context.Context, courseID string) (progress.Summary, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators of the router. Limiter, Events and Checks are
// optional.
type Deps struct {
	Store     SessionStore
	Sessions  *middleware.Session
	Auth      Authenticator
	Tracker   Tracker
	Limiter   *ratelimit.Limiter
	LoginRule ratelimit.Rule
	Events    messaging.Publisher
	Checks    map[string]HealthCheck
}

// NewRouter builds the application's HTTP handler.
func NewRouter(d Deps) http.Handler {
	events := d.Events
	if events == nil {
		events = messaging.Nop{}
	}
	h := &handlers{store: d.Store, auth: d.Auth, tracker: d.Tracker, events: events}

	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		requestLogger,
		chimw.Timeout(requestTimeout),
	)

	// Probes and metrics do not get a session.
	r.Get("/health", healthHandler(d.Checks))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(d.Sessions.Handler)

		r.Route("/user", func(r chi.Router) {
			r.With(rateLimit(d.Limiter, ratelimit.RegisterRule, nil)).Post("/register", h.register)
			r.With(rateLimit(d.Limiter, d.LoginRule, func(*http.Request) {
				metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
			})).Post("/login", h.login)
			// POST only; GET /user/logout answers 405.
			r.Post("/logout", h.logout)
		})

		r.Route("/api", func(r chi.Router) {
			r.Use(jsonContentType)
			r.Get("/me", h.me)
			r.Post("/progress", h.updateProgress)
			r.Post("/video/start", h.videoStart)
			r.Post("/video/complete", h.videoComplete)
			r.Get("/courses/{courseID}/progress", h.courseProgress)
		})

		r.With(middleware.RequireUser).Get("/protected", h.protected)
	})

	return r
}

func rateLimit(l *ratelimit.Limiter, rule ratelimit.Rule, onLimited func(*http.Request)) func(http.Handler) http.Handler {
	if l == nil || rule.Limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return l.Middleware(rule, onLimited)
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
