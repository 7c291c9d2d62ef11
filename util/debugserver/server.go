// Package debugserver implements the client's local "/proc"-style HTTP
// surface: runtime counters, process CPU/memory usage, dynamic log
// level control and the Prometheus scrape endpoint, all behind one
// gorilla/mux router mounted on the mount command's ProfPort.
package debugserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gopsutil "github.com/shirou/gopsutil/process"

	"github.com/extentfs/extentfs/util/log"
)

// Server bundles the debug HTTP surface's router and the process
// handle gopsutil queries for CPU/memory counters.
type Server struct {
	router *mux.Router
	proc   *gopsutil.Process
}

// New builds a debug server for the running process.
func New() (*Server, error) {
	proc, err := gopsutil.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("debugserver: %w", err)
	}
	s := &Server{router: mux.NewRouter(), proc: proc}

	s.router.HandleFunc("/debug/vars", s.handleVars).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/loglevel", s.handleLogLevel).Methods(http.MethodGet, http.MethodPost)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.HandleFunc("/debug/pprof/", pprof.Index)
	s.router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	s.router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	s.router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	s.router.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return s, nil
}

// Handler returns the assembled router for http.Serve.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleVars(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"gomaxprocs": runtime.GOMAXPROCS(0),
		"numCPU":     runtime.NumCPU(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cpuPct, err := s.proc.CPUPercent()
	if err != nil {
		log.LogWarnf("debugserver: cpu percent: %v", err)
	}
	var rss, vms uint64
	if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
		rss, vms = mem.RSS, mem.VMS
	} else if err != nil {
		log.LogWarnf("debugserver: memory info: %v", err)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"cpuPercent": cpuPct,
		"rssBytes":   rss,
		"vmsBytes":   vms,
	})
}

// handleLogLevel lets an operator raise or lower the running client's
// log verbosity without a restart: GET describes usage, POST
// ?level=debug|info|warn|error applies it.
func (s *Server) handleLogLevel(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		fmt.Fprintln(w, "POST /debug/loglevel?level=debug|info|warn|error")
		return
	}
	switch r.URL.Query().Get("level") {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		http.Error(w, "unknown level", http.StatusBadRequest)
		return
	}
	fmt.Fprintln(w, "ok")
}
