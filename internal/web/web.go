package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/bcrypt"

	"pic2contact/internal/app"
	"pic2contact/internal/config"
	"pic2contact/internal/export"
	"pic2contact/internal/ics"
	appLog "pic2contact/internal/log"
	"pic2contact/internal/model"
)

// Server exposes the photo workflow to a browser on the kiosk. Every
// browser session drives its own app.Component.
type Server struct {
	cfg      *config.Config
	router   *mux.Router
	sessions *Sessions
	importer export.Saver
}

// embeddedStatic contains the kiosk page.
//
//go:embed all:static
var embeddedStatic embed.FS

// maxUploadBytes bounds a multipart photo upload from the page.
const maxUploadBytes = 32 << 20

// NewServer builds the kiosk server. importer may be nil, which hides the
// remote calendar action.
func NewServer(cfg *config.Config, deps DepsFunc, importer export.Saver) *Server {
	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		sessions: NewSessions(deps, cfg.SessionTTL()),
		importer: importer,
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler, wrapped in basic auth when
// credentials are configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) Sessions() *Sessions {
	return s.sessions
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.PasswordHash != ""
}

// basicAuthMiddleware guards everything except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	hash := []byte(s.cfg.BasicAuth.PasswordHash)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || u != username || bcrypt.CompareHashAndPassword(hash, []byte(p)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="pic2contact", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartServer serves the kiosk on cfg.Listen until ctx is canceled, then
// shuts down gracefully and releases every session's camera.
func StartServer(ctx context.Context, cfg *config.Config, deps DepsFunc, importer export.Saver) error {
	s := NewServer(cfg, deps, importer)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.SessionSweep, func() {
		if n := s.sessions.Sweep(); n > 0 {
			appLog.Info("idle sessions closed", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("session sweep schedule %q: %w", cfg.SessionSweep, err)
	}
	sweeper.Start()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		serveErr = srv.Shutdown(shutdownCtx)
		cancel()
	case serveErr = <-errCh:
	}

	<-sweeper.Stop().Done()
	s.sessions.CloseAll()

	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return serveErr
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/camera", s.action(func(ctx context.Context, c *app.Component) error {
		return c.RequestCamera(ctx)
	})).Methods(http.MethodPost)
	api.HandleFunc("/capture", s.action(func(ctx context.Context, c *app.Component) error {
		return c.CaptureFrame(ctx)
	})).Methods(http.MethodPost)
	api.HandleFunc("/send", s.action(func(ctx context.Context, c *app.Component) error {
		return c.SendPhoto(ctx)
	})).Methods(http.MethodPost)
	api.HandleFunc("/clear", s.action(func(_ context.Context, c *app.Component) error {
		c.Clear()
		return nil
	})).Methods(http.MethodPost)
	api.HandleFunc("/import", s.handleImport).Methods(http.MethodPost)
	api.HandleFunc("/photo", s.handleChoosePhoto).Methods(http.MethodPost)
	api.HandleFunc("/photo", s.handlePhoto).Methods(http.MethodGet)
	api.HandleFunc("/event.ics", s.handleDownload).Methods(http.MethodGet)
	api.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.PathPrefix("/").Handler(s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// stateResponse is the JSON shape every API call answers with.
type stateResponse struct {
	model.Snapshot
	Preview       *ics.Preview `json:"preview,omitempty"`
	ImportEnabled bool         `json:"import_enabled"`
	Alerts        []string     `json:"alerts"`
}

func (s *Server) stateFor(sess *session) stateResponse {
	snap := sess.comp.Snapshot()
	resp := stateResponse{
		Snapshot:      snap,
		ImportEnabled: s.importer != nil,
		Alerts:        sess.alerts.Drain(),
	}
	if resp.Alerts == nil {
		resp.Alerts = []string{}
	}
	if snap.Calendar != "" {
		p := ics.BuildPreview(snap.Calendar, time.Now(), time.Local)
		resp.Preview = &p
	}
	return resp
}

// handleState answers with the empty state until the browser starts
// acting, so polling alone never allocates a session.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Lookup(r)
	if sess == nil {
		writeJSON(w, http.StatusOK, stateResponse{
			Snapshot:      model.Snapshot{Mode: model.ModeEmpty},
			ImportEnabled: s.importer != nil,
			Alerts:        []string{},
		})
		return
	}
	writeJSON(w, http.StatusOK, s.stateFor(sess))
}

// action adapts a workflow call into a handler. Workflow failures are
// already alerted, so the response is always the fresh state.
func (s *Server) action(fn func(ctx context.Context, c *app.Component) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := s.sessions.Resolve(w, r)
		// Actions run to completion even if the browser goes away.
		ctx := context.WithoutCancel(r.Context())
		if err := fn(ctx, sess.comp); err != nil {
			appLog.Debug("action returned", "path", r.URL.Path, "session", sess.id, "err", err)
		}
		writeJSON(w, http.StatusOK, s.stateFor(sess))
	}
}

func (s *Server) handleChoosePhoto(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Resolve(w, r)
	ctx := context.WithoutCancel(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	var file io.Reader
	f, _, err := r.FormFile("file")
	switch {
	case err == nil:
		defer f.Close()
		file = f
	case errors.Is(err, http.ErrMissingFile):
		// No file selected: the workflow treats nil as a no-op.
	default:
		writeError(w, http.StatusBadRequest, "invalid upload")
		return
	}

	if err := sess.comp.ChoosePhoto(ctx, file); err != nil {
		appLog.Debug("choose photo returned", "session", sess.id, "err", err)
	}
	writeJSON(w, http.StatusOK, s.stateFor(sess))
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Lookup(r)
	if sess == nil {
		writeError(w, http.StatusNotFound, "no photo")
		return
	}
	photo := sess.comp.Photo()
	if photo == "" {
		writeError(w, http.StatusNotFound, "no photo")
		return
	}
	mime, data, err := photo.Decode()
	if err != nil {
		appLog.Error("held photo not decodable", err, "session", sess.id)
		writeError(w, http.StatusInternalServerError, "photo unavailable")
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// handleDownload streams event.ics as an attachment. The confirmation
// alert is queued and picked up by the page's next state poll.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Lookup(r)
	if sess == nil {
		writeError(w, http.StatusNotFound, "no calendar result")
		return
	}
	err := sess.comp.Export(r.Context(), attachmentSaver{w: w})
	switch {
	case err == nil:
	case errors.Is(err, app.ErrNoResult):
		writeError(w, http.StatusNotFound, "no calendar result")
	default:
		writeError(w, http.StatusInternalServerError, "download failed")
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		writeError(w, http.StatusNotFound, "calendar import not configured")
		return
	}
	s.action(func(ctx context.Context, c *app.Component) error {
		return c.Import(ctx, s.importer)
	})(w, r)
}

// attachmentSaver hands an artifact to the browser as a file download.
type attachmentSaver struct {
	w http.ResponseWriter
}

func (a attachmentSaver) Save(_ context.Context, name, mimeType string, data []byte) error {
	h := a.w.Header()
	h.Set("Content-Type", mimeType)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	h.Set("Content-Length", strconv.Itoa(len(data)))
	a.w.WriteHeader(http.StatusOK)
	_, err := a.w.Write(data)
	return err
}

var _ export.Saver = attachmentSaver{}

func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}
	return http.FileServer(http.FS(sub))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
