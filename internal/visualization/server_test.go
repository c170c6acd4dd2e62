package visualization

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/cellsim/internal/metrics"
	"github.com/nvandessel/cellsim/internal/ratelimit"
	"github.com/nvandessel/cellsim/internal/simulation"
	"github.com/nvandessel/cellsim/internal/store"
)

func startServer(t *testing.T, srv *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	waitForServer(t, srv, 2*time.Second)
}

func get(t *testing.T, srv *Server, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get("http://" + srv.Addr() + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestServer_GraphEndpoints(t *testing.T) {
	srv := NewServer(setupLineage(t), nil, "")
	startServer(t, srv)

	resp, body := get(t, srv, "/graph.dot")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /graph.dot status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "s1 -> s2;") {
		t.Errorf("GET /graph.dot body missing link:\n%s", body)
	}

	resp, body = get(t, srv, "/graph.json")
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var graph map[string]interface{}
	if err := json.Unmarshal([]byte(body), &graph); err != nil {
		t.Fatalf("decode graph: %v", err)
	}
	if graph["node_count"] != float64(4) {
		t.Errorf("node_count = %v, want 4", graph["node_count"])
	}

	resp, _ = get(t, srv, "/metrics")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /metrics without collector status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_SpotsEndpoint(t *testing.T) {
	srv := NewServer(setupLineage(t), nil, "")
	startServer(t, srv)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantSpots  int
	}{
		{"timepoint with daughters", "?t=1", http.StatusOK, 2},
		{"empty timepoint", "?t=9", http.StatusOK, 0},
		{"missing parameter", "", http.StatusBadRequest, -1},
		{"invalid timepoint", "?t=abc", http.StatusBadRequest, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, srv, "/spots"+tt.query)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantSpots < 0 {
				return
			}
			var spots []store.Spot
			if err := json.Unmarshal([]byte(body), &spots); err != nil {
				t.Fatalf("decode spots: %v", err)
			}
			if len(spots) != tt.wantSpots {
				t.Errorf("got %d spots, want %d", len(spots), tt.wantSpots)
			}
		})
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	c := metrics.NewCollector()
	c.Observe(simulation.StepResult{Time: 3, Agents: 5, Births: 2, Divisions: 1})

	srv := NewServer(store.NewInMemoryLineageStore(), c.Handler(), "")
	startServer(t, srv)

	resp, body := get(t, srv, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want 200", resp.StatusCode)
	}
	for _, want := range []string{"cellsim_agents_alive 5", "cellsim_births_total 2", "cellsim_timepoint 3"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestServer_RateLimitsGraphEndpoints(t *testing.T) {
	srv := NewServer(setupLineage(t), nil, "", WithRateLimit(ratelimit.NewLimiter(0.01, 2)))
	startServer(t, srv)

	for i := 0; i < 2; i++ {
		if resp, _ := get(t, srv, "/graph.dot"); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, resp.StatusCode)
		}
	}
	resp, _ := get(t, srv, "/graph.json")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 once the burst is spent", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}

	// /spots is not limited
	if resp, _ := get(t, srv, "/spots?t=0"); resp.StatusCode != http.StatusOK {
		t.Errorf("GET /spots status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_NoRateLimit(t *testing.T) {
	srv := NewServer(setupLineage(t), nil, "", WithRateLimit(nil))
	startServer(t, srv)

	for i := 0; i < 30; i++ {
		if resp, _ := get(t, srv, "/graph.json"); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, resp.StatusCode)
		}
	}
}

func TestServer_CleanShutdown(t *testing.T) {
	srv := NewServer(store.NewInMemoryLineageStore(), nil, "")
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	waitForServer(t, srv, 2*time.Second)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("unexpected error on shutdown: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down within 3 seconds")
	}
}

// waitForServer polls the server until it's ready or the timeout is reached.
func waitForServer(t *testing.T, srv *Server, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		addr := srv.Addr()
		if addr == "" {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		resp, err := http.Get("http://" + addr + "/spots?t=0")
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not start within timeout")
}
