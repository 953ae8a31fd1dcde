package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/walletkun/Bookstagram/internal/platform/auth"
	"github.com/walletkun/Bookstagram/internal/platform/config"
	"github.com/walletkun/Bookstagram/internal/platform/db"
	"github.com/walletkun/Bookstagram/internal/platform/events"
	"github.com/walletkun/Bookstagram/internal/platform/httpserver"
	"github.com/walletkun/Bookstagram/internal/platform/logging"
	"github.com/walletkun/Bookstagram/internal/platform/natsconn"
	"github.com/walletkun/Bookstagram/internal/platform/run"
	"github.com/walletkun/Bookstagram/services/comments/internal/handlers"
	"github.com/walletkun/Bookstagram/services/comments/internal/store"
	"github.com/walletkun/Bookstagram/services/comments/internal/tree"
	"github.com/walletkun/Bookstagram/services/comments/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	nodes, ready, closePool := initNodeStore(log)
	if closePool != nil {
		defer closePool()
	}
	engine := tree.NewEngine(nodes, cfg.Engine.MaxRetries)

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	verifier := auth.JWTVerifier{Secret: []byte(jwtSecret)}

	// NATS is optional: without it lifecycle events are dropped and
	// engagement counters only move through the REST endpoints.
	var pub *events.Publisher
	nc, err := natsconn.Connect(natsconn.Options{Name: cfg.ServiceName})
	if err != nil {
		log.Warn("nats unavailable, lifecycle events disabled", zap.Error(err))
	} else {
		defer nc.Close()
		js, jsErr := nc.JetStream()
		if jsErr != nil {
			log.Warn("jetstream unavailable", zap.Error(jsErr))
		} else {
			pub = events.New(js, log)
		}
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: ready})

	// Thread reads are public; every mutation needs an authenticated user.
	r.Get("/v1/{kind}/{owner_id}/comments", handlers.GetThread(engine))
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))
		r.Post("/v1/{kind}/{owner_id}/comments", handlers.CreateComment(engine, pub))
		r.Put("/v1/comments/{comment_id}", handlers.UpdateComment(engine, pub))
		r.Delete("/v1/comments/{comment_id}", handlers.DeleteComment(engine, pub))
		r.Post("/v1/comments/{comment_id}/like", handlers.LikeComment(engine))
		r.Post("/v1/comments/{comment_id}/flag", handlers.FlagComment(engine))

		// Reparenting is a moderation tool.
		r.With(auth.RequireAdmin).Post("/v1/comments/{comment_id}/move", handlers.MoveComment(engine, pub))
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		if nc != nil {
			// Launches its own consume loop goroutine.
			worker.StartEngagementConsumer(ctx, nc, nodes)
		}
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initNodeStore selects the storage backend. Production requires a
// working Postgres connection; development falls back to memory. The
// readiness func backs /readyz and pings the pool when Postgres is in
// play; the memory store is always ready.
func initNodeStore(log *zap.Logger) (tree.NodeStore, func() error, func()) {
	isProd := strings.EqualFold(strings.TrimSpace(os.Getenv("APP_ENV")), "production")

	pool, err := db.Open(context.Background())
	if err != nil {
		if isProd {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("postgres unavailable, using in-memory node store (development only)", zap.Error(err))
		return store.NewMemory(), nil, nil
	}

	ready := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(ctx)
	}
	log.Info("node store: postgres")
	return store.NewPostgres(pool), ready, pool.Close
}
