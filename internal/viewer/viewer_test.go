package viewer

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

type fakeSource struct {
	links     []LinkView
	neighbors []NeighborView
	nodes     []TcNodeView
	routes    []RouteView
	counters  Counters
}

func (f fakeSource) Links() []LinkView         { return f.links }
func (f fakeSource) Neighbors() []NeighborView { return f.neighbors }
func (f fakeSource) TcNodes() []TcNodeView     { return f.nodes }
func (f fakeSource) Routes() []RouteView       { return f.routes }
func (f fakeSource) Counters() Counters        { return f.counters }

func newTestServer(src Source) *Server {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(src, log.WithField("test", true))
}

func TestLinksEndpointReturnsJSON(t *testing.T) {
	src := fakeSource{links: []LinkView{{Interface: "wlan0", Remote: "aa:bb", Status: "symmetric"}}}
	srv := newTestServer(src)
	req := httptest.NewRequest(http.MethodGet, "/links", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []LinkView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 1 || got[0].Interface != "wlan0" {
		t.Fatalf("unexpected body: %+v", got)
	}
}

func TestCountersEndpointReturnsJSON(t *testing.T) {
	src := fakeSource{counters: Counters{"packets_sent": 42}}
	srv := newTestServer(src)
	req := httptest.NewRequest(http.MethodGet, "/counters", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	var got Counters
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["packets_sent"] != 42 {
		t.Fatalf("expected packets_sent=42, got %+v", got)
	}
}

func TestTopologyAndRoutesEndpoints(t *testing.T) {
	src := fakeSource{
		nodes:  []TcNodeView{{Originator: "10.0.0.1", Ansn: 5, Edges: []string{"10.0.0.2"}}},
		routes: []RouteView{{Destination: "10.0.0.2", NextHop: "10.0.0.1", Cost: 10, Hops: 1}},
	}
	srv := newTestServer(src)

	for _, path := range []string{"/topology", "/routes"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if rec.Body.Len() == 0 {
			t.Fatalf("%s: expected non-empty body", path)
		}
	}
}
