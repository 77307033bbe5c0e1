// Package app wires the learnhub server together from its configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/learnhub/courses/internal/auth"
	"github.com/learnhub/courses/internal/config"
	"github.com/learnhub/courses/internal/course"
	"github.com/learnhub/courses/internal/db"
	"github.com/learnhub/courses/internal/httpapi"
	"github.com/learnhub/courses/internal/logger"
	"github.com/learnhub/courses/internal/messaging"
	"github.com/learnhub/courses/internal/middleware"
	"github.com/learnhub/courses/internal/progress"
	"github.com/learnhub/courses/internal/ratelimit"
	"github.com/learnhub/courses/internal/session"
	"github.com/learnhub/courses/internal/user"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 35 * time.Second // longer than the router's request timeout
	idleTimeout       = 60 * time.Second
)

var errNATSDisconnected = errors.New("disconnected")

// App owns the server and its connections.
type App struct {
	cfg    config.Config
	rdb    *redis.Client
	db     *sql.DB
	nats   *messaging.NATSClient
	server *http.Server
}

// New connects to Redis, PostgreSQL and (optionally) NATS and builds the
// HTTP server. Redis and PostgreSQL are required; NATS is not.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{cfg: cfg}

	a.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := a.rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: connect to redis: %w", err)
	}

	dbCtx, cancel := context.WithTimeout(ctx, cfg.DBTimeout)
	a.db, err = db.Open(dbCtx, cfg.DatabaseDSN)
	cancel()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: connect to postgres: %w", err)
	}

	var events messaging.Publisher = messaging.Nop{}
	if cfg.NATSURL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Name = "learnhub-server"
		nc, err := messaging.NewNATSClient(natsCfg)
		if err != nil {
			logger.Warnf("[app] nats unavailable, progress events disabled: %v", err)
		} else {
			a.nats = nc
			events = nc
		}
	}

	var backendOpts []session.RedisOption
	if cfg.SessionKeyTTL > 0 {
		backendOpts = append(backendOpts, session.WithKeyTTL(cfg.SessionKeyTTL))
	}
	backend := session.NewRedisBackend(a.rdb, backendOpts...)

	store, err := session.NewStore(backend, session.Options{
		Secret:       []byte(cfg.SessionSecret),
		MaxDuration:  cfg.SessionMaxDuration,
		CacheTTL:     cfg.SessionCacheTTL,
		MaxUnits:     cfg.SessionMaxUnits,
		CookieSecure: cfg.CookieSecure,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: session store: %w", err)
	}

	checks := map[string]httpapi.HealthCheck{
		"redis":    backend.Ping,
		"postgres": a.db.PingContext,
	}
	if a.nats != nil {
		checks["nats"] = func(context.Context) error {
			if !a.nats.Connected() {
				return errNATSDisconnected
			}
			return nil
		}
	}

	users := user.NewRepository(a.db)
	router := httpapi.NewRouter(httpapi.Deps{
		Store: store,
		Sessions: middleware.NewSession(store, users, middleware.Config{
			SessionTimeout: cfg.SessionTimeout,
			UserTimeout:    cfg.UserLookupTimeout,
		}),
		Auth:      auth.NewService(users, auth.BcryptHasher{}),
		Tracker:   progress.NewTracker(progress.NewStore(a.db), store, course.NewRepository(a.db), events),
		Limiter:   ratelimit.NewLimiter(a.rdb),
		LoginRule: ratelimit.LoginRule(cfg.LoginRateLimit, cfg.LoginRateWindow),
		Events:    events,
		Checks:    checks,
	})

	a.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return a, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	logger.Infof("learnhub server starting")
	logger.Infof("  listen_addr:          %s", a.cfg.ListenAddr)
	logger.Infof("  redis_addr:           %s", a.cfg.RedisAddr)
	logger.Infof("  nats_enabled:         %v", a.nats != nil)
	logger.Infof("  session_max_duration: %s", a.cfg.SessionMaxDuration)
	logger.Infof("  session_cache_ttl:    %s", a.cfg.SessionCacheTTL)
	logger.Infof("  session_key_ttl:      %s", a.cfg.SessionKeyTTL)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infof("[app] shutting down (timeout %s)", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: shutdown: %w", err)
	}
	return nil
}

// Close releases every connection. It is safe to call on a partially
// constructed App.
func (a *App) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warnf("[app] close postgres: %v", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			logger.Warnf("[app] close redis: %v", err)
		}
	}
}
