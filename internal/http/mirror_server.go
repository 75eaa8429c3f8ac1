package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"stairs/internal/core"
	"stairs/internal/log"
	"stairs/internal/middleware/ratelimit"
	"stairs/internal/middleware/security"
	"stairs/internal/middleware/trace"
)

// MirrorReader is the query side of storage.Mirror.
type MirrorReader interface {
	Ping(ctx context.Context) error
	Leaderboard(ctx context.Context, day core.DateKey) ([]core.LeaderboardEntry, error)
	DayValue(ctx context.Context, userID string, day core.DateKey) (int, bool, error)
}

// MirrorServerConfig holds configuration for the read-model server
type MirrorServerConfig struct {
	Addr string

	// RateLimitPerMinute bounds queries per client IP (default: 60)
	RateLimitPerMinute int

	// Clock resolves "today" in queries (default: system clock)
	Clock core.Clock
}

// MirrorServer answers leaderboard and per-day queries from the SQLite
// mirror, so reporting load never touches the ledger process.
type MirrorServer struct {
	http.Server
	mirror MirrorReader
	clock  core.Clock
	limit  *ratelimit.Limiter
	logger *log.Logger

	shuttingDown atomic.Bool
	shutdownOnce sync.Once
}

func NewMirrorServer(cfg MirrorServerConfig, mirror MirrorReader, logger *log.Logger) *MirrorServer {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = ratelimit.DefaultConfig().RequestsPerMinute
	}
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock
	}

	s := &MirrorServer{
		mirror: mirror,
		clock:  cfg.Clock,
		limit:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		logger: logger.WithComponent(log.ComponentHTTP),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		NewJSONResponse().Data(map[string]string{"status": "ok"}).Write(w)
	})
	mux.HandleFunc("GET /readyz", s.handleReady)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	api.HandleFunc("GET /api/users/{id}/days/{day}", s.handleDay)
	mux.Handle("/api/", s.limit.Middleware(clientIP, func(w http.ResponseWriter, r *http.Request) {
		TooManyRequestsError().Write(w)
	})(api))

	var handler http.Handler = mux
	handler = security.Headers(security.DefaultHeadersConfig())(handler)
	handler = log.Middleware(s.logger, trace.GetRequestID)(handler)
	handler = trace.NewMiddleware(clientIP, logger).Middleware(handler)

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

func (s *MirrorServer) today() core.DateKey {
	return core.Today(s.clock())
}

func (s *MirrorServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	day, err := ParseDayParam(r.URL.Query(), s.today())
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	entries, err := s.mirror.Leaderboard(r.Context(), day)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Mirror leaderboard query failed", log.FieldError, err)
		ErrorFor(err).Write(w)
		return
	}
	if entries == nil {
		entries = []core.LeaderboardEntry{}
	}
	NewJSONResponse().Data(leaderboardResponse{Day: day, Entries: entries}).Write(w)
}

type dayValueResponse struct {
	UserID string       `json:"userId"`
	Day    core.DateKey `json:"day"`
	Value  int          `json:"value"`
}

func (s *MirrorServer) handleDay(w http.ResponseWriter, r *http.Request) {
	id := sanitizeInput(r.PathValue("id"))
	today := s.today()
	day := today
	if raw := r.PathValue("day"); raw != "today" {
		var err error
		if day, err = core.ParseDateKey(raw, today.Time()); err != nil {
			ErrorFor(err).Write(w)
			return
		}
	}

	v, found, err := s.mirror.DayValue(r.Context(), id, day)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Mirror day query failed", log.FieldError, err, log.FieldUserID, id)
		ErrorFor(err).Write(w)
		return
	}
	if !found {
		NotFoundError("no entry mirrored for this user and day").Write(w)
		return
	}
	NewJSONResponse().Data(dayValueResponse{UserID: id, Day: day, Value: v}).Write(w)
}

func (s *MirrorServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		ErrorResponse(http.StatusServiceUnavailable, "shutting_down", "server is shutting down").Write(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.mirror.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "Mirror database not reachable", log.FieldError, err)
		ErrorResponse(http.StatusServiceUnavailable, "not_ready", "mirror database unavailable").Write(w)
		return
	}
	NewJSONResponse().Data(map[string]string{"status": "ready"}).Write(w)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *MirrorServer) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	return serve(ctx, &s.Server, s.Shutdown, shutdownTimeout, s.logger)
}

func (s *MirrorServer) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.shuttingDown.Store(true)
		s.limit.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
