package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hosseinskia/imageflow/auditlog"
	"github.com/hosseinskia/imageflow/server/pages"
	"github.com/hosseinskia/imageflow/storage"
	"github.com/hosseinskia/imageflow/tokens"
)

// FrontendHandlerWithError is almost identical to HandlerWithError, but it handles
// erroneous responses by responding with an error page, not json
type FrontendHandlerWithError func(w http.ResponseWriter, r *http.Request) error

func (h FrontendHandlerWithError) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r)

	defer func() {
		if err := recover(); err != nil {
			logger.Error("recovered from panic while handling frontend request",
				zap.String("remote", r.RemoteAddr),
				zap.String("uri", r.RequestURI),
				zap.Any("panic", err),
			)
			_ = writeHTML(w, http.StatusInternalServerError, pages.Error("PANIC", "500 - Internal Server Error", "Unrecoverable Server Panic"))
		}
	}()

	start := time.Now()
	err := h(w, r)
	dur := time.Since(start).String()
	if err != nil {
		var perr PublicError
		if errors.As(err, &perr) {
			logger.Info("public error while serving frontend request",
				zap.String("uri", r.RequestURI),
				zap.Int("status", perr.Code),
				zap.String("error", perr.Message),
			)
			_ = writeHTML(w, perr.Code, pages.Error(dur, strconv.Itoa(perr.Code)+" - "+http.StatusText(perr.Code), perr.Message))

			return
		}

		logger.Error("error while serving frontend request", zap.String("uri", r.RequestURI), zap.Error(err))
		_ = writeHTML(w, http.StatusInternalServerError, pages.Error(dur, "500 - Internal Server Error", "Internal Server Error"))
		return
	}
}

func writeHTML(w http.ResponseWriter, status int, html templ.Component) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	return html.Render(context.Background(), w)
}

var loginErrors = map[string]string{
	"missing": "Please enter a username and password.",
	"invalid": "Invalid username or password.",
	"server":  "Something went wrong, please try again.",
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) error {
	if user, _ := authenticatedUser(r); user != "" {
		http.Redirect(w, r, "/home", http.StatusFound)
		return nil
	}

	return writeHTML(w, http.StatusOK, pages.Login(loginErrors[r.URL.Query().Get("error")]))
}

func (s *Server) handlePostLoginPage(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login?error=missing", http.StatusFound)
		return nil
	}

	username := r.FormValue("username")
	password := r.FormValue("password")
	if username == "" || password == "" {
		http.Redirect(w, r, "/login?error=missing", http.StatusFound)
		return nil
	}

	// the hash is compared even for a wrong username so both take about as long
	err := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password))
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) == 1
	switch {
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) || (err == nil && !userOK):
		loggerFrom(r).Info("failed login attempt", zap.String("username", username))
		http.Redirect(w, r, "/login?error=invalid", http.StatusFound)
		return nil
	case err != nil:
		loggerFrom(r).Error("password check failed", zap.Error(err))
		http.Redirect(w, r, "/login?error=server", http.StatusFound)
		return nil
	}

	// a stale cookie from an older secret still yields a usable new session
	sess, _ := s.sessions.Get(r, sessionName)
	sess.Values[sessionAuthenticated] = true
	sess.Values[sessionUser] = username
	if err := sess.Save(r, w); err != nil {
		loggerFrom(r).Error("failed to save session", zap.Error(err))
		http.Redirect(w, r, "/login?error=server", http.StatusFound)
		return nil
	}

	s.audit.Log(r.Context(), requester(r), auditlog.ActionLogin, "")

	http.Redirect(w, r, "/home", http.StatusFound)
	return nil
}

// handleRateLimited is called by the login limiter once a client exceeds its budget.
func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	s.audit.Log(r.Context(), requester(r), auditlog.ActionRateLimitExceeded, "")
	_ = writeHTML(w, http.StatusTooManyRequests, pages.TooManyRequests(s.cfg.LoginRateLimitWindow()))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) error {
	s.audit.Log(r.Context(), requester(r), auditlog.ActionLogout, "")

	sess, _ := s.sessions.Get(r, sessionName)
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		return err
	}

	http.Redirect(w, r, "/login", http.StatusFound)
	return nil
}

func (s *Server) handleHomePage(w http.ResponseWriter, r *http.Request) error {
	user, err := authenticatedUser(r)
	if err != nil {
		return err
	}

	return writeHTML(w, http.StatusOK, pages.Home(user, pages.UploadLimits{
		MaxFiles:          s.cfg.MaxFiles,
		MaxFileSize:       s.cfg.MaxFileSize,
		AllowedExtensions: s.cfg.NormalizedExtensions(),
	}))
}

func (s *Server) handlePicturesPage(w http.ResponseWriter, r *http.Request) error {
	images, err := s.store.List()
	if err != nil {
		return err
	}

	return writeHTML(w, http.StatusOK, pages.Pictures(images))
}

func (s *Server) handleLogsPage(w http.ResponseWriter, r *http.Request) error {
	records, err := s.logs.ReadAll(r.Context())
	if err != nil {
		loggerFrom(r).Error("failed to read audit log", zap.Error(err))
		records = nil
	}

	return writeHTML(w, http.StatusOK, pages.Logs(records))
}

func (s *Server) handlePictureDetailPage(w http.ResponseWriter, r *http.Request) error {
	pictureID := chi.URLParam(r, "pictureId")

	ok, err := s.store.HasPreview(pictureID)
	if err != nil {
		return err
	}
	if !ok {
		return writeHTML(w, http.StatusNotFound, pages.ImageNotFound())
	}

	return writeHTML(w, http.StatusOK, pages.PictureDetail(pictureID))
}

// handleDownload serves the original behind a download token with the fixed
// metadata block embedded.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) error {
	path, err := s.tokens.Redeem(chi.URLParam(r, "token"))
	if errors.Is(err, tokens.ErrNotFound) {
		return writeHTML(w, http.StatusNotFound, pages.NotFound())
	}
	if err != nil {
		return err
	}

	file := filepath.Base(path)
	imageLink := ""
	if fn, err := storage.DecodeFileName(file); err == nil {
		imageLink = storage.PictureLink(fn.PictureID)
	}

	failed := func(err error) error {
		loggerFrom(r).Error("download failed", zap.String("file", file), zap.Error(err))
		s.audit.Log(r.Context(), requester(r), auditlog.ActionDownloadFailed, imageLink)
		return PublicError{http.StatusInternalServerError, "Failed to prepare the download."}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return writeHTML(w, http.StatusNotFound, pages.NotFound())
	}
	if err != nil {
		return failed(err)
	}

	out, err := s.norm.ReEmbed(r.Context(), data, filepath.Ext(file))
	if err != nil {
		return failed(err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file}))
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)

	return nil
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) error {
	return writeHTML(w, http.StatusNotFound, pages.NotFound())
}
