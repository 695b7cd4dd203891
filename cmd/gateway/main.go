package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/mind-engage/mindengage-assessment/internal/api/http"
	auth "github.com/mind-engage/mindengage-assessment/internal/auth/middleware"
	"github.com/mind-engage/mindengage-assessment/internal/cache"
	"github.com/mind-engage/mindengage-assessment/internal/clock"
	"github.com/mind-engage/mindengage-assessment/internal/config"
	"github.com/mind-engage/mindengage-assessment/internal/db"
	"github.com/mind-engage/mindengage-assessment/internal/exam"
	"github.com/mind-engage/mindengage-assessment/internal/i18n"
	syncx "github.com/mind-engage/mindengage-assessment/internal/sync"
)

func main() {
	cfg := config.Load()
	log := cfg.Logger(os.Stderr)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("gateway stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// --- DB ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN, cfg.DBAutoMigrate)
	if err != nil {
		return err
	}
	defer dbh.Close()
	store := exam.NewSQLStore(dbh)
	clk := clock.System{}

	// --- Stats cache ---
	var stats exam.StatsCache = cache.NewMemory(clk)
	if cfg.RedisURL != "" {
		rdb, err := cache.Dial(openCtx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		stats = cache.NewRedis(rdb, "assessment:")
	}

	svc := exam.NewService(store, store,
		exam.WithClock(clk),
		exam.WithEvents(syncx.NewEventRepo(dbh, cfg.SiteID, clk)),
		exam.WithStatsCache(stats, cfg.StatsCacheTTL),
		exam.WithLogger(log),
	)
	loc := i18n.New(cfg.DefaultLocale)
	eng := i18n.Wrap(svc, loc)

	authSvc := auth.NewAuthService(cfg.AuthHMACSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language"},
		ExposedHeaders:   []string{"Content-Length", "Content-Language"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(loc.Middleware)

	// Protected API (JWT → role in context → RBAC per route)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Route("/tests", func(tr chi.Router) {
			api.MountTests(tr, eng, log)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "mode", cfg.Mode, "db", cfg.DBDriver, "redis", cfg.RedisURL != "")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
