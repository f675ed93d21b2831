// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package statusapi exposes a read-only HTTP introspection view of a
// running broker: service/worker counts and the mmi.service-equivalent
// lookup, outside the wire protocol entirely. It carries no ability to
// mutate broker state, matching the broker's non-goal of authentication
// and authorization machinery sitting in front of something that can
// only read.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// BrokerView is the subset of Broker that the status API needs. It is an
// interface, rather than a concrete *hermes.Broker, so it can be driven
// from fakes in tests without having to stand up a real broker.
type BrokerView interface {
	ServiceNames() []string
	ServiceWorkerCount(name string) (int, bool)
	Stats() Stats
}

// Stats mirrors hermes.Stats, decoupling this package from hermes so the
// dependency runs one direction: cmd wires hermes.Broker into BrokerView,
// statusapi never imports hermes.
type Stats struct {
	Services      int
	Workers       int
	WaitingCount  int
	RecentClients int
}

// Server is the read-only HTTP introspection server.
type Server struct {
	broker BrokerView
	log    zerolog.Logger
	server *http.Server
}

// New builds a Server that will read from broker when started.
func New(broker BrokerView, address string, log zerolog.Logger) *Server {
	s := &Server{broker: broker, log: log}

	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	router.HandleFunc("/services", s.handleServices).Methods("GET")
	router.HandleFunc("/services/{name}", s.handleService).Methods("GET")
	router.HandleFunc("/stats", s.handleStats).Methods("GET")

	s.server = &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Handler returns the server's http.Handler, so tests can drive the real
// route table and handlers without binding a TCP listener.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	return s.server.Shutdown(context.Background())
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("status api request")
	})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	names := s.broker.ServiceNames()
	out := make(map[string]int, len(names))
	for _, name := range names {
		count, _ := s.broker.ServiceWorkerCount(name)
		out[name] = count
	}
	s.sendJSON(w, http.StatusOK, out)
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	count, ok := s.broker.ServiceWorkerCount(name)
	if !ok {
		s.sendJSON(w, http.StatusNotFound, map[string]string{"error": "unknown service"})
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]int{"worker_count": count})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.broker.Stats())
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("failed to encode status api response")
	}
}
