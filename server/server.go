package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/hosseinskia/imageflow/auditlog"
	"github.com/hosseinskia/imageflow/config"
	"github.com/hosseinskia/imageflow/media"
	"github.com/hosseinskia/imageflow/pipeline"
	"github.com/hosseinskia/imageflow/progress"
	"github.com/hosseinskia/imageflow/storage"
	"github.com/hosseinskia/imageflow/tokens"
)

const shutdownTimeout = 30 * time.Second

type PublicError struct {
	Code    int
	Message string
}

func (pe PublicError) Error() string {
	return pe.Message
}

// HandlerWithError is a wrapper around a http.Handler that allows you to return an error.
// Errors are rendered as JSON.
type HandlerWithError func(w http.ResponseWriter, r *http.Request) error

// Deps are the components the server routes requests to.
type Deps struct {
	Logger     *zap.Logger
	Store      *storage.Store
	Logs       auditlog.Store
	Tokens     *tokens.Registry
	Pipeline   *pipeline.Pipeline
	Normalizer *media.Normalizer
	Hub        *progress.Hub
}

type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *storage.Store
	logs     auditlog.Store
	audit    *auditlog.Logger
	tokens   *tokens.Registry
	pipeline *pipeline.Pipeline
	norm     *media.Normalizer
	hub      *progress.Hub
	sessions *sessions.CookieStore
	mux      *chi.Mux
}

// New creates a new server instance from the config and its dependencies.
func New(cfg *config.Config, deps Deps) *Server {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionMaxAge / time.Second),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}

	return &Server{
		cfg:      cfg,
		logger:   deps.Logger,
		store:    deps.Store,
		logs:     deps.Logs,
		audit:    auditlog.NewLogger(deps.Logs, deps.Logger),
		tokens:   deps.Tokens,
		pipeline: deps.Pipeline,
		norm:     deps.Normalizer,
		hub:      deps.Hub,
		sessions: store,
	}
}

func (s *Server) SetupHTTP() error {
	mux := chi.NewMux()

	if s.cfg.TrustProxy {
		mux.Use(middleware.RealIP)
	}
	mux.Use(middleware.RequestID)
	mux.Use(s.logRequests)
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.CleanPath)
	mux.Use(s.preHandleAuthentication)

	loginLimiter := httprate.Limit(
		s.cfg.LoginRateLimitMax,
		s.cfg.LoginRateLimitWindow(),
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(s.handleRateLimited),
	)

	// Public routes
	mux.With(loginLimiter).Handle("GET /login", FrontendHandlerWithError(s.handleLoginPage))
	mux.With(loginLimiter).Handle("POST /login", FrontendHandlerWithError(s.handlePostLoginPage))
	mux.Handle("GET /download/{token}", FrontendHandlerWithError(s.handleDownload))
	mux.Handle("GET /healthz", HandlerWithError(s.handleHealth))

	// API routes
	mux.Group(func(r chi.Router) {
		r.Use(s.preHandleRequireAuthentication)

		r.Handle("POST /upload", HandlerWithError(s.handleUpload))
		r.Handle("GET /events/{correlationId}", HandlerWithError(s.handleEvents))
		r.Handle("GET /images", HandlerWithError(s.handleListImages))
		r.Handle("DELETE /images/{file}", HandlerWithError(s.handleDeleteImage))
		r.Handle("DELETE /images", HandlerWithError(s.handleDeleteAllImages))
		r.Handle("GET /api/logs", HandlerWithError(s.handleLogs))
		r.Handle("GET /api/picture/{pictureId}", HandlerWithError(s.handlePicture))
		r.Handle("POST /api/download/{pictureId}", HandlerWithError(s.handleDownloadLink))
		r.Handle("GET /previews/{file}", HandlerWithError(s.handlePreview))
	})

	// Frontend routes
	mux.Group(func(r chi.Router) {
		r.Use(s.preHandleRequirePageAuthentication)

		r.Handle("GET /", http.RedirectHandler("/home", http.StatusFound))
		r.Handle("GET /home", FrontendHandlerWithError(s.handleHomePage))
		r.Handle("GET /pictures", FrontendHandlerWithError(s.handlePicturesPage))
		r.Handle("GET /pictures/{pictureId}", FrontendHandlerWithError(s.handlePictureDetailPage))
		r.Handle("GET /logs", FrontendHandlerWithError(s.handleLogsPage))
		r.Handle("GET /logout", FrontendHandlerWithError(s.handleLogout))
	})

	// Not found handler
	mux.NotFound(FrontendHandlerWithError(s.handleNotFound).ServeHTTP)

	s.mux = mux

	return nil
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.mux == nil {
		return errors.New("the http mux hasn't been configured yet, call setuphttp()")
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ImageFlow listening", zap.String("addr", "http://"+srv.Addr), zap.String("env", s.cfg.Env))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server shutdown success")

	return nil
}

func (h HandlerWithError) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r)

	defer func() {
		if err := recover(); err != nil {
			logger.Error("recovered from panic while handling request",
				zap.String("remote", r.RemoteAddr),
				zap.String("uri", r.RequestURI),
				zap.Any("panic", err),
			)

			writeJson(w, http.StatusInternalServerError, jMap{
				"error": "Unrecoverable Serverside Panic!",
			})
		}
	}()

	err := h(w, r)
	if err != nil {
		var perr PublicError
		if errors.As(err, &perr) {
			logger.Info("public error while serving request",
				zap.String("uri", r.RequestURI),
				zap.Int("status", perr.Code),
				zap.String("error", perr.Message),
			)
			writeJson(w, perr.Code, jMap{
				"error": perr.Message,
			})

			return
		}

		logger.Error("error while serving request", zap.String("uri", r.RequestURI), zap.Error(err))
		writeJson(w, http.StatusInternalServerError, jMap{
			"error": "Internal Server Error!",
		})
	}
}
