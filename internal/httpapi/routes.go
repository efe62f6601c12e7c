package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/tungdtfgw/ccviz/internal/journal"
	"github.com/tungdtfgw/ccviz/internal/relay"
	"github.com/tungdtfgw/ccviz/internal/ws"
)

type Deps struct {
	Relay   *relay.Relay
	Journal *journal.Writer // nil when journaling is off
	Log     *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "http"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	// hooks run locally and the renderer may be served from a dev server or file://
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))

	// Hook ingress
	r.Post("/api/events", PostEvent(d.Relay, log))

	// Clients
	r.Get("/ws", ws.Handler(d.Relay, log))

	// Diagnostics
	r.Get("/health", Health)
	r.Get("/api/state", GetState(d.Relay))
	r.Get("/api/journal", GetJournal(d.Journal))
	return r
}
