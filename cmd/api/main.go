package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/gatherly/server/internal/auth"
	"github.com/gatherly/server/internal/bridge"
	"github.com/gatherly/server/internal/channel"
	"github.com/gatherly/server/internal/config"
	"github.com/gatherly/server/internal/db"
	"github.com/gatherly/server/internal/gateway"
	httphandler "github.com/gatherly/server/internal/http"
	"github.com/gatherly/server/internal/http/handlers"
	"github.com/gatherly/server/internal/repo"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	var sessions repo.SessionRepo
	var ch channel.Channel
	if cfg.DevMode {
		log.Println("DEV_MODE=true: using in-memory session store and stub channel")
		sessions = repo.NewMemSessionRepo()
		ch = channel.NewStub()
	} else {
		database, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()

		if err := runMigrations(database); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		sessions = repo.NewSessionRepo(database)
		ch = channel.NewRelayChannel(cfg.RelayURL, cfg.RelayToken)
	}

	manager := bridge.NewManager(sessions, ch, cfg.SessionTimeout)
	gw := gateway.New(sessions, ch, manager)
	jwtService := auth.NewJWTService(cfg.JWTSecret)

	sessionHandler := handlers.NewSessionHandler(manager)
	messageHandler := handlers.NewMessageHandler(gw)
	eventHandler := handlers.NewEventHandler(manager, cfg.RelayWebhookSecret)

	router := httphandler.NewRouter(sessionHandler, messageHandler, eventHandler, jwtService)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from repo root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
