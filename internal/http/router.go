package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gatherly/server/internal/auth"
	"github.com/gatherly/server/internal/http/handlers"
	"github.com/gatherly/server/internal/middleware"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(
	sessionHandler *handlers.SessionHandler,
	messageHandler *handlers.MessageHandler,
	eventHandler *handlers.EventHandler,
	jwtService *auth.JWTService,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	// Relay webhook; authenticated by shared secret, not user tokens.
	r.Post("/internal/events", eventHandler.HandleEvent)

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.HandleCreate)
			r.Get("/{sessionID}", sessionHandler.HandleStatus)
			r.Post("/{sessionID}/disconnect", sessionHandler.HandleDisconnect)
		})

		r.Post("/messages", messageHandler.HandleSend)
	})

	return r
}
