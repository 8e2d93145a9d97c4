package vcode

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"vcoded/pkg/cache"
)

// API wires the service and the optional proof cache into HTTP handlers.
type API struct {
	svc   *Service
	cache *cache.Cache
}

// NewAPI builds the HTTP layer. cache may be nil.
func NewAPI(svc *Service, c *cache.Cache) (*API, error) {
	if svc == nil {
		return nil, errors.New("service is required")
	}
	return &API{svc: svc, cache: c}, nil
}

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", a.handleScheduleSession)
		r.Get("/sessions", a.handleListUserSessions)
		r.Get("/sessions/{sessionID}", a.handleGetSession)
		r.Post("/sessions/{sessionID}/start", a.handleStartSession)
		r.Post("/sessions/{sessionID}/cancel", a.handleCancelSession)
		r.Post("/sessions/{sessionID}/end", a.handleEndSession)
		r.Post("/sessions/{sessionID}/participants", a.handleAddParticipant)
		r.Delete("/sessions/{sessionID}/participants/{userID}", a.handleRemoveParticipant)
		r.Post("/sessions/{sessionID}/interpreter", a.handleAssignInterpreter)
		r.Post("/sessions/{sessionID}/sign", a.handleSignSession)
		r.Post("/sessions/{sessionID}/recording", a.handleAttachRecording)
		r.Get("/sessions/{sessionID}/verify", a.handleVerifySession)
		r.Get("/sessions/{sessionID}/proof", a.handleGetProof)
		r.Get("/stats", a.handleStats)
	})

	return r, nil
}
