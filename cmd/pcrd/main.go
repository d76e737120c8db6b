// Entry point for the report server: chi router, JWT sessions, encrypted
// draft storage in SQLite.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jacob-Maurice/PCR/dbopen"
	"github.com/Jacob-Maurice/PCR/server"
	_ "modernc.org/sqlite"
)

func main() {
	port := env("PORT", "8090")
	dbPath := env("PCR_DB", "db/pcr.db")
	logLevel := env("LOG_LEVEL", "info")

	secretInput := os.Getenv("SESSION_SECRET")
	if secretInput == "" {
		slog.Error("SESSION_SECRET is required")
		os.Exit(1)
	}
	// Derive a full-length JWT secret regardless of input size.
	secretHash := sha256.Sum256([]byte(secretInput))

	masterKey := os.Getenv("MASTER_KEY")
	if masterKey == "" {
		slog.Error("MASTER_KEY is required (base64, 32 bytes)")
		os.Exit(1)
	}

	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv, err := server.New(ctx, db, server.Config{
		Secret:        secretHash[:],
		MasterKey:     masterKey,
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}, logger)
	if err != nil {
		slog.Error("server init", "error", err)
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		httpSrv.Shutdown(shutCtx)
	}()

	slog.Info("report server listening", "port", port)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server", "error", err)
		os.Exit(1)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
