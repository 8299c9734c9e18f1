package tests

import (
	"context"
	"database/sql"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/gatherly/server/internal/auth"
	"github.com/gatherly/server/internal/bridge"
	"github.com/gatherly/server/internal/channel"
	"github.com/gatherly/server/internal/db"
	"github.com/gatherly/server/internal/gateway"
	httphandler "github.com/gatherly/server/internal/http"
	"github.com/gatherly/server/internal/http/handlers"
	"github.com/gatherly/server/internal/repo"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testWebhookSecret = "test-relay-secret"
)

// ResolveMigrationDir returns the first existing migrations directory,
// whether tests run from the repo root, or from internal/tests via
// go test ./...
func ResolveMigrationDir() string {
	for _, dir := range []string{"internal/db/migrations", "../../internal/db/migrations"} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			abs, _ := filepath.Abs(dir)
			return abs
		}
	}
	return ""
}

// RunMigrations runs goose Up using the resolved migration directory.
func RunMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	dir := ResolveMigrationDir()
	if dir == "" {
		return fmt.Errorf("migrations directory not found; run tests from repo root")
	}
	if err := goose.Up(database, dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// TestServer bundles the full HTTP stack over a real database and a stub
// channel.
type TestServer struct {
	Server   *httptest.Server
	DB       *sql.DB
	JWT      *auth.JWTService
	Sessions repo.SessionRepo
}

func (ts *TestServer) BaseURL() string { return ts.Server.URL }

// TruncateSessions wipes the session table for a clean test state.
func (ts *TestServer) TruncateSessions(t *testing.T) {
	t.Helper()
	if _, err := ts.DB.ExecContext(context.Background(), "TRUNCATE TABLE wa_sessions"); err != nil {
		t.Fatalf("truncate wa_sessions: %v", err)
	}
}

// newTestServer wires the stack the same way cmd/api does, with the stub
// channel in place of a live relay. Requires DATABASE_URL.
func newTestServer(t *testing.T) *TestServer {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	database, err := db.Open(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if err := RunMigrations(database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	sessions := repo.NewSessionRepo(database)
	ch := channel.NewStub()
	manager := bridge.NewManager(sessions, ch, 5*time.Minute)
	gw := gateway.New(sessions, ch, manager)
	jwtService := auth.NewJWTService(testJWTSecret)

	router := httphandler.NewRouter(
		handlers.NewSessionHandler(manager),
		handlers.NewMessageHandler(gw),
		handlers.NewEventHandler(manager, testWebhookSecret),
		jwtService,
	)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &TestServer{Server: server, DB: database, JWT: jwtService, Sessions: sessions}
}
