// Package viewer implements the read-only HTTP/JSON inspector named in
// SPEC_FULL.md's ambient-stack expansion: topology, NHDP links, the
// routing table and a handful of counters, each behind its own endpoint.
// No router/mux library appears anywhere in the example pack's go.mod
// set, so this is one of the few places the standard library's
// http.ServeMux is used directly rather than an ecosystem dependency
// (see DESIGN.md).
package viewer

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// LinkView is one NHDP link as surfaced to the inspector.
type LinkView struct {
	Interface string `json:"interface"`
	Remote    string `json:"remote_mac"`
	Status    string `json:"status"`
	Neighbor  string `json:"neighbor_originator,omitempty"`
}

// NeighborView is one NHDP neighbor as surfaced to the inspector.
type NeighborView struct {
	Originator     string `json:"originator"`
	SymmetricLinks int    `json:"symmetric_links"`
}

// TcNodeView is one OLSRv2TC node as surfaced to the inspector.
type TcNodeView struct {
	Originator     string   `json:"originator"`
	Ansn           uint16   `json:"ansn"`
	DirectNeighbor bool     `json:"direct_neighbor"`
	Edges          []string `json:"edges"`
}

// RouteView is one installed route as surfaced to the inspector.
type RouteView struct {
	Destination string `json:"destination"`
	Source      string `json:"source,omitempty"`
	NextHop     string `json:"next_hop"`
	Cost        int32  `json:"cost"`
	Hops        int    `json:"hops"`
	Domain      uint8  `json:"domain"`
}

// Counters is the free-form counter snapshot (sent/received/dropped
// packets, rate-limit suppressions, Dijkstra run count, etc).
type Counters map[string]int64

// Source is the read-only data seam the viewer pulls from; the daemon
// wiring layer implements it over the live component set.
type Source interface {
	Links() []LinkView
	Neighbors() []NeighborView
	TcNodes() []TcNodeView
	Routes() []RouteView
	Counters() Counters
}

// Server is the HTTP inspector.
type Server struct {
	mux    *http.ServeMux
	source Source
	log    *logrus.Entry
}

// New builds a Server backed by source; call ListenAndServe (or use the
// exported Handler directly in tests) to actually serve.
func New(source Source, log *logrus.Entry) *Server {
	s := &Server{mux: http.NewServeMux(), source: source, log: log}
	s.mux.HandleFunc("/links", s.handleLinks)
	s.mux.HandleFunc("/neighbors", s.handleNeighbors)
	s.mux.HandleFunc("/topology", s.handleTopology)
	s.mux.HandleFunc("/routes", s.handleRoutes)
	s.mux.HandleFunc("/counters", s.handleCounters)
	return s
}

// Handler returns the http.Handler for embedding in a larger mux or
// exercising directly from tests via httptest.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) ListenAndServe(addr string) error {
	s.log.WithField("addr", addr).Info("viewer listening")
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("viewer: failed to encode response")
	}
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.source.Links())
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.source.Neighbors())
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.source.TcNodes())
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.source.Routes())
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.source.Counters())
}
