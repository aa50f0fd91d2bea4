package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"nano-chat-go/engine"
	"nano-chat-go/model"
	"nano-chat-go/server"
	"nano-chat-go/store"
)

func main() {
	// .env is optional; flags win over it.
	godotenv.Load()

	addr := flag.String("addr", envOr("CHATD_ADDR", ":8000"), "listen address")
	dbPath := flag.String("db", envOr("CHATD_DB", "chat.db"), "sqlite database path")
	modelsPath := flag.String("models", envOr("CHATD_MODELS", "models.json"), "model catalog file")
	uploadsDir := flag.String("uploads", envOr("CHATD_UPLOADS", "uploads"), "image upload directory")
	origin := flag.String("origin", envOr("CHATD_ORIGIN", "http://localhost:3000"), "allowed CORS origin")
	parallel := flag.Int64("parallel", 4, "max concurrent generations")
	maxModelLen := flag.Int("max-model-len", 4096, "context window in tokens")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*addr, *dbPath, *modelsPath, *uploadsDir, *origin, *parallel, *maxModelLen, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(addr, dbPath, modelsPath, uploadsDir, origin string, parallel int64, maxModelLen int, logger *slog.Logger) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	registry, err := model.LoadRegistryFile(modelsPath, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	engineCfg := engine.NewConfig(engine.WithMaxModelLen(maxModelLen))
	srv := server.New(server.Config{
		Addr:          addr,
		UploadsDir:    uploadsDir,
		AllowedOrigin: origin,
		MaxConcurrent: parallel,
	}, st, registry, engineCfg, logger)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "db", dbPath, "models", modelsPath)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
