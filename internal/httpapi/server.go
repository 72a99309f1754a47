// Package httpapi is the admin and ingest surface: post events come in,
// subscription rules are listed and edited.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/dispatch"
	"chatrelay/internal/forum"
	"chatrelay/internal/rules"
	logx "chatrelay/pkg/logx"
)

// PostHandler is the pipeline entry behind POST /api/events.
// relay.Service implements it.
type PostHandler interface {
	HandlePostCreated(ctx context.Context, ev forum.PostEvent) ([]dispatch.Outcome, error)
}

type Config struct {
	Addr  string
	Token string // optional bearer token; empty disables auth

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

type Server struct {
	cfg    Config
	svc    PostHandler
	engine *rules.Engine
	log    logx.Logger
}

func New(cfg Config, svc PostHandler, engine *rules.Engine, log logx.Logger) *Server {
	cfg.setDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, svc: svc, engine: engine, log: log}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)
	<-done
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/events", s.withAuth(s.handleEvent))
	mux.HandleFunc("GET /api/rules", s.withAuth(s.handleListRules))
	mux.HandleFunc("PUT /api/rules", s.withAuth(s.handleAddRule))
	mux.HandleFunc("DELETE /api/rules", s.withAuth(s.handleRemoveRule))
	mux.HandleFunc("POST /api/filters/category", s.withAuth(s.handleCategoryFilter))
	mux.HandleFunc("POST /api/filters/tag", s.withAuth(s.handleTagFilter))

	return mux
}

func (s *Server) withAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		h(w, r)
	}
}

// ---- Handlers ----

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev forum.PostEvent
	if err := decodeJSON(r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.svc.HandlePostCreated(r.Context(), ev)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type result struct {
		Channel string `json:"channel"`
		Updated bool   `json:"updated"`
		Error   string `json:"error,omitempty"`
	}
	results := make([]result, 0, len(out))
	for _, o := range out {
		res := result{Channel: o.Channel, Updated: o.Updated}
		if o.Err != nil {
			res.Error = o.Err.Error()
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivered": results})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	scope := rules.ScopeFor(r.URL.Query().Get("scope"))
	list, err := s.engine.Rules(r.Context(), scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scope": scope, "rules": list})
}

// ruleRequest is the shared body of the rule mutation endpoints. Filter is
// parsed, not passed through, so an unknown level fails fast.
type ruleRequest struct {
	Channel string   `json:"channel"`
	Scope   string   `json:"scope"`
	Filter  string   `json:"filter"`
	Tag     string   `json:"tag,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	req, level, ok := s.decodeRule(w, r)
	if !ok {
		return
	}
	err := s.engine.AddFilter(r.Context(), req.Channel, rules.ScopeFor(req.Scope), level, req.Tags)
	s.finishMutation(w, err)
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := s.engine.RemoveFilter(r.Context(), req.Channel, rules.ScopeFor(req.Scope), req.Tags)
	s.finishMutation(w, err)
}

func (s *Server) handleCategoryFilter(w http.ResponseWriter, r *http.Request) {
	req, level, ok := s.decodeRule(w, r)
	if !ok {
		return
	}
	err := s.engine.SetCategoryFilter(r.Context(), req.Channel, rules.ScopeFor(req.Scope), level)
	s.finishMutation(w, err)
}

func (s *Server) handleTagFilter(w http.ResponseWriter, r *http.Request) {
	req, level, ok := s.decodeRule(w, r)
	if !ok {
		return
	}
	err := s.engine.SetTagFilter(r.Context(), req.Channel, rules.ScopeFor(req.Scope), level, req.Tag)
	s.finishMutation(w, err)
}

func (s *Server) decodeRule(w http.ResponseWriter, r *http.Request) (ruleRequest, rules.Level, bool) {
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, rules.LevelUnset, false
	}
	level, err := rules.ParseLevel(req.Filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, rules.LevelUnset, false
	}
	return req, level, true
}

func (s *Server) finishMutation(w http.ResponseWriter, err error) {
	var tnf *rules.TagNotFoundError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case errors.As(err, &tnf):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "tag_not_found", "tag": tnf.Tag})
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// ---- JSON plumbing ----

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
