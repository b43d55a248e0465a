package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/questloop/chatd/internal/auth"
	"github.com/questloop/chatd/internal/chat"
	"github.com/questloop/chatd/internal/config"
	"github.com/questloop/chatd/internal/httpx"
	"github.com/questloop/chatd/internal/storage/postgres"
	"github.com/questloop/chatd/internal/storage/sqlite"
)

// store is what the engine and the operational surface need from a backend.
type store interface {
	chat.MessageStore
	chat.MembershipValidator
	Ping(ctx context.Context) error
	Migrate(path string) error
	Close() error
}

func main() {
	migrate := flag.Bool("migrate", false, "run migrations and exit")
	flag.Parse()

	// .env is optional outside dev
	_ = godotenv.Load()
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Error loading database: %v", err)
	}
	defer st.Close()

	if *migrate {
		if err := st.Migrate(schemaPath(cfg.DBDriver)); err != nil {
			log.Fatalf("Migration failed %v", err)
		}
		logger.Info("migration completed")
		return
	}

	gw := chat.NewGateway(chat.Options{
		SendTimeout:   cfg.SendTimeout,
		PresenceGrace: cfg.PresenceGrace,
		TypingTTL:     cfg.TypingTTL,
		MaxContentLen: cfg.MaxMessageLen,
	}, auth.Verifier{Secret: cfg.JWTSecret}, st, st, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		if err := st.Ping(c.Request.Context()); err != nil {
			httpx.Err(c, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
		httpx.OK(c, gin.H{"status": "ok"})
	})
	gw.RegisterWS(r.Group(""))

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	gw.Shutdown(cfg.ShutdownGrace)
}

func schemaPath(driver string) string {
	if driver == "postgres" {
		return "sql/schema_postgres.sql"
	}
	return "sql/schema.sql"
}

func openStore(cfg config.Config) (store, error) {
	if cfg.DBDriver == "postgres" {
		return postgres.New(cfg.PostgresDSN)
	}
	return sqlite.New(cfg.SQLiteDSN)
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
