package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"stairs/internal/bot"
	"stairs/internal/core"
	"stairs/internal/log"
	"stairs/internal/middleware/ratelimit"
	"stairs/internal/middleware/security"
	"stairs/internal/middleware/trace"
)

// Ledger is the read side of services.LedgerService.
type Ledger interface {
	Today() core.DateKey
	Record(userID string) (core.UserRecord, bool)
	Leaderboard(day core.DateKey) []core.LeaderboardEntry
	Series(days int) core.Series
}

// EventHandler handles chat events. *bot.Handler implements it.
type EventHandler interface {
	Handle(ctx context.Context, ev bot.Event) bot.Result
}

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Addr string

	// RateLimitPerMinute bounds chat events per user (default: 60)
	RateLimitPerMinute int

	// ReadyCheck is consulted by /readyz in addition to shutdown state
	ReadyCheck func(ctx context.Context) error
}

type Server struct {
	http.Server
	ledger     Ledger
	events     EventHandler
	userLimit  *ratelimit.Limiter
	ipLimit    *ratelimit.Limiter
	tracer     *trace.Middleware
	readyCheck func(ctx context.Context) error
	logger     *log.Logger

	shuttingDown atomic.Bool
	shutdownOnce sync.Once
}

// NewServer wires routes and middleware and returns a server ready to run.
func NewServer(cfg ServerConfig, ledger Ledger, events EventHandler, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = ratelimit.DefaultConfig().RequestsPerMinute
	}

	s := &Server{
		ledger:     ledger,
		events:     events,
		userLimit:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		ipLimit:    ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute * 10}),
		tracer:     trace.NewMiddleware(clientIP, logger),
		readyCheck: cfg.ReadyCheck,
		logger:     logger.WithComponent(log.ComponentHTTP),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/events", s.handleEvent)
	api.HandleFunc("GET /api/users/{id}", s.handleUser)
	api.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	api.HandleFunc("GET /api/series", s.handleSeries)
	mux.Handle("/api/", s.ipLimit.Middleware(clientIP, func(w http.ResponseWriter, r *http.Request) {
		TooManyRequestsError().Write(w)
	})(api))

	var handler http.Handler = mux
	handler = security.Headers(security.DefaultHeadersConfig())(handler)
	handler = log.Middleware(logger.WithComponent(log.ComponentHTTP), trace.GetRequestID)(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// eventRequest is the body of POST /api/events.
type eventRequest struct {
	UserID          string `json:"userId"`
	Text            string `json:"text"`
	DisplayNameHint string `json:"displayNameHint"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	ev := bot.Event{
		UserID:          sanitizeInput(req.UserID),
		Text:            sanitizeInput(req.Text),
		DisplayNameHint: sanitizeInput(req.DisplayNameHint),
	}
	if ev.UserID == "" {
		BadRequestError("userId is required").Write(w)
		return
	}
	if !s.userLimit.Allow(ev.UserID) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Chat event rate limited", log.FieldUserID, ev.UserID)
		TooManyRequestsError().Write(w)
		return
	}

	NewJSONResponse().Data(s.events.Handle(r.Context(), ev)).Write(w)
}

// userResponse exposes the record id, which core.UserRecord keeps out of
// its JSON form.
type userResponse struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Total     int                  `json:"total"`
	Today     int                  `json:"today"`
	Days      map[core.DateKey]int `json:"days"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	id := sanitizeInput(r.PathValue("id"))
	rec, ok := s.ledger.Record(id)
	if !ok {
		ErrorFor(core.ErrUserNotFound).Write(w)
		return
	}
	NewJSONResponse().Data(userResponse{
		ID:        id,
		Name:      rec.Name,
		Total:     rec.Total,
		Today:     rec.Days[s.ledger.Today()],
		Days:      rec.Days,
		UpdatedAt: rec.UpdatedAt,
	}).Write(w)
}

type leaderboardResponse struct {
	Day     core.DateKey            `json:"day,omitempty"`
	Entries []core.LeaderboardEntry `json:"entries"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	day, err := ParseDayParam(r.URL.Query(), s.ledger.Today())
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	entries := s.ledger.Leaderboard(day)
	if entries == nil {
		entries = []core.LeaderboardEntry{}
	}
	NewJSONResponse().Data(leaderboardResponse{Day: day, Entries: entries}).Write(w)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	days, err := ParseDaysParam(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	NewJSONResponse().Data(s.ledger.Series(days)).Write(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		ErrorResponse(http.StatusServiceUnavailable, "shutting_down", "server is shutting down").Write(w)
		return
	}
	if s.readyCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.readyCheck(ctx); err != nil {
			s.logger.WarnContext(ctx, "Readiness check failed", log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "not_ready", err.Error()).Write(w)
			return
		}
	}
	NewJSONResponse().Data(map[string]string{"status": "ready"}).Write(w)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	return serve(ctx, &s.Server, s.Shutdown, shutdownTimeout, s.logger)
}

// serve runs srv until ctx is done or it fails, then calls shutdown with a
// fresh context bounded by shutdownTimeout.
func serve(ctx context.Context, srv *http.Server, shutdown func(context.Context) error, shutdownTimeout time.Duration, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return shutdown(shutdownCtx)
}

// Shutdown marks the server not ready, stops the limiters and drains
// in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.shuttingDown.Store(true)
		s.userLimit.Stop()
		s.ipLimit.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// Metrics returns request counters from the trace middleware.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}
