// Package server exposes the stored index over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/jcdickinson/docindex/internal/db"
	"github.com/jcdickinson/docindex/internal/indexer"
	"github.com/jcdickinson/docindex/internal/rpc"
	"github.com/jcdickinson/docindex/internal/searchindex"
)

type Server struct {
	db   *db.DB
	ix   *indexer.Indexer
	addr string

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer returns a server for addr. The caller keeps ownership of
// database.
func NewServer(database *db.DB, ix *indexer.Indexer, addr string) *Server {
	return &Server{db: database, ix: ix, addr: addr}
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search-index.js", s.handleSearchIndex)
	mux.HandleFunc("GET /crates", s.handleListCrates)
	mux.HandleFunc("GET /crates/{name}", s.handleGetCrate)
	mux.HandleFunc("GET /crates/{name}/search-index.js", s.handleCrateIndex)
	mux.HandleFunc("DELETE /crates/{name}", s.handleRemoveCrate)
	mux.HandleFunc("GET /find", s.handleFind)
	mux.HandleFunc("POST /build", s.handleBuild)
	return logRequests(mux)
}

// Listen binds the listening socket without serving yet.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.Handler()}
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address once Listen has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Serve blocks until the server is stopped.
func (s *Server) Serve() error {
	s.mu.Lock()
	srv, listener := s.httpServer, s.listener
	s.mu.Unlock()
	if srv == nil {
		return errors.New("server is not listening")
	}

	slog.Info("serving search index", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// Start listens and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop(context.Background())
		case <-done:
		}
	}()
	return s.Serve()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, listener := s.httpServer, s.listener
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "err", err)
			errs = append(errs, err)
		}
	}
	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Error("listener close error", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) handleSearchIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := s.db.LoadIndex(r.URL.Query()["crate"]...)
	if errors.Is(err, db.ErrCrateNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := searchindex.WriteJS(w, idx); err != nil {
		slog.Warn("writing search index", "err", err)
	}
}

func (s *Server) handleListCrates(w http.ResponseWriter, r *http.Request) {
	crates, err := s.db.ListCrates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := rpc.CratesResponse{Crates: make([]rpc.CrateInfo, 0, len(crates))}
	for _, c := range crates {
		resp.Crates = append(resp.Crates, rpc.CrateInfoFrom(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetCrate(w http.ResponseWriter, r *http.Request) {
	doc, err := s.db.LoadCrateDoc(r.PathValue("name"))
	if errors.Is(err, db.ErrCrateNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleCrateIndex(w http.ResponseWriter, r *http.Request) {
	js, err := s.ix.RenderedIndex(r.PathValue("name"))
	if errors.Is(err, db.ErrCrateNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(js)
}

func (s *Server) handleRemoveCrate(w http.ResponseWriter, r *http.Request) {
	removed, err := s.ix.Remove(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if !removed {
		status = http.StatusNotFound
	}
	writeJSON(w, status, rpc.RemoveResponse{Removed: removed})
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := db.FindQuery{Text: q.Get("q"), Crate: q.Get("crate")}
	if q.Get("q") == "" {
		writeError(w, http.StatusBadRequest, "missing query")
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		query.Limit = limit
	}
	if v := q.Get("kind"); v != "" {
		kind, err := searchindex.ParseItemType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		query.Kind = &kind
	}

	matches, err := s.db.FindItems(query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if matches == nil {
		matches = []db.Match{}
	}
	writeJSON(w, http.StatusOK, rpc.FindResponse{Matches: matches})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req rpc.BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Crates) == 0 {
		writeError(w, http.StatusBadRequest, "no crates requested")
		return
	}
	specs := make([]indexer.CrateSpec, 0, len(req.Crates))
	for _, c := range req.Crates {
		if c.Name == "" {
			writeError(w, http.StatusBadRequest, "crate name is required")
			return
		}
		specs = append(specs, indexer.CrateSpec{Name: c.Name, Version: c.Version})
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	var mu sync.Mutex
	enc := json.NewEncoder(w)
	send := func(line rpc.ProgressLine) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(line); err != nil {
			slog.Debug("build client disconnected", "err", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	results, err := s.ix.Build(r.Context(), specs, indexer.BuildOptions{
		Force: req.Force,
		Progress: func(msg string) {
			send(rpc.ProgressLine{Type: "progress", Message: msg})
		},
	})
	for i := range results {
		if results[i].Name == "" {
			continue
		}
		send(rpc.ProgressLine{Type: "result", Result: &results[i]})
	}
	if err != nil {
		send(rpc.ProgressLine{Type: "error", Message: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, rpc.ErrorResponse{Error: msg})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
