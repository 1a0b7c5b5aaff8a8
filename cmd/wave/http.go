package main

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ryandielhenn/wavetree/internal/telemetry"
	"github.com/ryandielhenn/wavetree/pkg/coordinator"
)

// runStatus is what /info reports about the current run.
type runStatus struct {
	mu    sync.RWMutex
	phase string
	tree  *coordinator.Tree
}

func (s *runStatus) set(phase string, tree *coordinator.Tree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	s.tree = tree
}

func newObservabilityServer(addr string, status *runStatus) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(status.info)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// healthz returns 200 OK to indicate the process is alive.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// info writes a JSON payload with the process ID, current time and run progress.
func (s *runStatus) info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID       int       `json:"pid"`
		Now       time.Time `json:"now"`
		Phase     string    `json:"phase"`
		Root      string    `json:"root,omitempty"`
		Nodes     int       `json:"nodes"`
		Reached   int       `json:"reached"`
		Unreached []string  `json:"unreached,omitempty"`
	}
	s.mu.RLock()
	out := resp{PID: os.Getpid(), Now: time.Now(), Phase: s.phase}
	if s.tree != nil {
		out.Root = string(s.tree.Root)
		out.Nodes = len(s.tree.Nodes)
		out.Reached = len(s.tree.Reached())
		for _, id := range s.tree.Unreached() {
			out.Unreached = append(out.Unreached, string(id))
		}
	}
	s.mu.RUnlock()

	data, _ := json.Marshal(out)
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// listenAddr cuts http:// and https:// prefixes and adds defPort when addr
// has none. A bare port number becomes ":port".
func listenAddr(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	if addr != "" && strings.Trim(addr, "0123456789") == "" {
		return ":" + addr
	}
	return addr + ":" + defPort
}
