package panel

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dynatheme/internal/command"
	"dynatheme/internal/settings"
	logx "dynatheme/pkg/logx"
)

//go:embed assets/panel.html.tmpl
var assets embed.FS

var panelTmpl = template.Must(template.ParseFS(assets, "assets/panel.html.tmpl"))

// ErrNotRunning is returned by Open while the HTTP listener is down.
var ErrNotRunning = errors.New("panel server not running")

const maxMessageBytes = 64 << 10

// Config controls the HTTP panel listener.
type Config struct {
	Enabled bool
	Addr    string
	Title   string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "127.0.0.1:7077"
	}
	if strings.TrimSpace(c.Title) == "" {
		c.Title = "Dynamic Theme Switcher"
	}
	return c
}

// Server hosts the browser panel and the command endpoint.
type Server struct {
	ch   *Channel
	cmds *command.Registry
	log  logx.Logger

	sess *sessions

	// mu serializes start/stop. Handlers only read the atomics so a
	// shutdown waiting on them cannot deadlock.
	mu    sync.Mutex
	srv   *http.Server
	ln    net.Listener
	bind  string       // configured address, may use port 0
	addr  atomic.Value // string
	title atomic.Value // string
}

func NewServer(ch *Channel, cmds *command.Registry, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		ch:   ch,
		cmds: cmds,
		log:  log.With(logx.String("comp", "panel.http")),
		sess: newSessions(),
	}
	s.addr.Store("")
	s.title.Store(Config{}.withDefaults().Title)
	return s
}

// Handler returns the panel routes. It is usable without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /api/message", s.sameOrigin(s.handleMessage))
	mux.HandleFunc("GET /api/commands", s.handleListCommands)
	mux.HandleFunc("POST /api/commands/{id}", s.sameOrigin(s.handleCommand))
	mux.HandleFunc("GET /api/panels", s.handleListPanels)
	mux.HandleFunc("DELETE /api/panels/{id}", s.sameOrigin(s.handleDispose))
	return s.localHost(mux)
}

// localHost rejects requests whose Host header names neither a loopback
// host nor the listen address, so a rebound DNS name cannot reach the panel.
func (s *Server) localHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allowedHost(r.Host) {
			writeError(w, http.StatusForbidden, fmt.Errorf("host %q not allowed", r.Host))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedHost(hostport string) bool {
	if hostport != "" && hostport == s.Addr() {
		return true
	}
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// sameOrigin guards the state-changing routes: a browser Origin must be the
// panel itself and bodies must be declared as JSON. A cross-site page can
// only send text/plain or form bodies without a preflight.
func (s *Server) sameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && origin != "http://"+r.Host {
			writeError(w, http.StatusForbidden, fmt.Errorf("origin %q not allowed", origin))
			return
		}
		if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
			writeError(w, http.StatusForbidden, errors.New("cross-site request"))
			return
		}
		if r.Method == http.MethodPost {
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "application/json" {
				writeError(w, http.StatusUnsupportedMediaType, errors.New("content type must be application/json"))
				return
			}
		}
		next(w, r)
	}
}

// Apply starts or stops the listener according to cfg. A running listener on
// the same address is kept.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.title.Store(cfg.Title)

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return nil
	}
	if s.srv != nil && s.bind == cfg.Addr {
		return nil
	}
	s.stopLocked(ctx)
	return s.startLocked(cfg)
}

func (s *Server) startLocked(cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("panel listen %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	addr := ln.Addr().String()
	s.srv = srv
	s.ln = ln
	s.bind = cfg.Addr
	s.addr.Store(addr)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("panel server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("panel listening", logx.String("url", "http://"+addr))
	return nil
}

// Stop shuts the listener down and disposes every open panel.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, ln, addr := s.srv, s.ln, s.Addr()
	s.srv, s.ln, s.bind = nil, nil, ""
	s.addr.Store("")

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("panel shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.sess.reset()
	s.log.Info("panel stopped", logx.String("addr", addr))
}

// Addr reports the listen address, empty when stopped.
func (s *Server) Addr() string {
	a, _ := s.addr.Load().(string)
	return a
}

// Open creates a panel session and returns the URL to show it at.
func (s *Server) Open() (Session, error) {
	addr := s.Addr()
	if addr == "" {
		return Session{}, ErrNotRunning
	}
	sess, err := s.sess.open("http://"+addr, time.Now())
	if err != nil {
		return Session{}, err
	}
	s.log.Info("panel opened", logx.String("panel", sess.ID))
	return sess, nil
}

// Dispose closes a panel session. It reports whether the session existed.
func (s *Server) Dispose(id string) bool {
	return s.sess.dispose(id)
}

type indexData struct {
	Title    string
	PanelID  string
	Themes   []string
	Defaults settings.Record
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("panel")
	if id != "" {
		if _, ok := s.sess.get(id); !ok {
			http.Error(w, "panel disposed", http.StatusNotFound)
			return
		}
	}
	title, _ := s.title.Load().(string)
	data := indexData{
		Title:    title,
		PanelID:  id,
		Themes:   s.ch.ThemeOptions(r.Context()),
		Defaults: settings.Defaults(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := panelTmpl.Execute(w, data); err != nil {
		s.log.Warn("render panel failed", logx.Err(err))
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if id := r.Header.Get("X-Panel-ID"); id != "" {
		if _, ok := s.sess.get(id); !ok {
			writeError(w, http.StatusNotFound, errors.New("panel disposed"))
			return
		}
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read message: %w", err))
		return
	}

	reply, err := s.ch.HandleJSON(r.Context(), raw)
	switch {
	case errors.Is(err, ErrMalformed):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, settings.ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	case reply == nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, reply)
	}
}

func (s *Server) handleListCommands(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cmds.List())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	res, err := s.cmds.Execute(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, command.ErrUnknown):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	case res == nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleListPanels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.list())
}

func (s *Server) handleDispose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.Dispose(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown panel %s", id))
		return
	}
	s.log.Info("panel disposed", logx.String("panel", id))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ThemeOptions lists the themes offered by the panel selects: the two
// defaults, then the configured and active themes.
func (c *Channel) ThemeOptions(ctx context.Context) []string {
	seen := map[string]bool{}
	out := []string{settings.DefaultDayTheme, settings.DefaultNightTheme}
	for _, t := range out {
		seen[t] = true
	}

	var extra []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t != "" && !seen[t] {
			seen[t] = true
			extra = append(extra, t)
		}
	}
	if rec, err := settings.Read(ctx, c.store); err == nil {
		add(rec.DayTheme)
		add(rec.NightTheme)
	}
	if active, err := settings.String(ctx, c.store, settings.KeyColorTheme, ""); err == nil {
		add(active)
	}
	sort.Strings(extra)
	return append(out, extra...)
}
