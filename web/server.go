package web

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"fusion-engine-go/monitoring"
	"fusion-engine-go/server"
)

// Server exposes live positions over websocket and the latest snapshot
// over HTTP.
type Server struct {
	Hub *Hub

	// Latest returns the last update of every agent. Nil disables
	// /positions.
	Latest func() []server.Update
}

func NewServer(latest func() []server.Update) *Server {
	return &Server{
		Hub:    NewHub(),
		Latest: latest,
	}
}

// Handler builds the HTTP routes. configDir serves project.xml, distDir a
// static frontend; either may be empty.
func (s *Server) Handler(distDir, configDir string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.Hub)

	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		if s.Latest == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Latest()); err != nil {
			monitoring.Logf("web: encode positions: %v", err)
		}
	})

	if configDir != "" {
		mux.HandleFunc("/project.xml", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, filepath.Join(configDir, "project.xml"))
		})
		mapDir := filepath.Join(configDir, "Map")
		if _, err := os.Stat(mapDir); err == nil {
			mux.Handle("/Map/", http.StripPrefix("/Map/", http.FileServer(http.Dir(mapDir))))
		}
	}

	if distDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(distDir)))
	}
	return mux
}

// ListenAndServe runs the hub and serves on addr until the listener fails.
func (s *Server) ListenAndServe(addr, distDir, configDir string) error {
	go s.Hub.Run()
	monitoring.Logf("web: listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler(distDir, configDir))
}
