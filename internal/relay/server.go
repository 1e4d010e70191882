package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Server is the relay's HTTP surface: the per-session websocket endpoint
// plus health and stats endpoints.
type Server struct {
	hub  *Hub
	http *http.Server
}

// NewServer builds the relay server from config.
func NewServer(cfg Config) *Server {
	hub := NewHub(cfg.Conn)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /rooms/{session}/ws", func(w http.ResponseWriter, r *http.Request) {
		session := r.PathValue("session")
		if session == "" {
			http.Error(w, "session id is required", http.StatusBadRequest)
			return
		}
		hub.Serve(w, r, session)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.Stats())
	})

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(mux)

	return &Server{
		hub: hub,
		http: &http.Server{
			Addr:    cfg.Addr,
			Handler: handler,
		},
	}
}

// Hub exposes the underlying hub, mainly for stats.
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the hub and the HTTP listener until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.http.Addr).Msg("relay listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
