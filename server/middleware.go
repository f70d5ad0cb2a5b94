package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hosseinskia/imageflow/auditlog"
)

type contextKey string

const (
	AuthenticatedUserContextKey contextKey = "imageflow::authenticated_user"
	loggerContextKey            contextKey = "imageflow::logger"

	sessionName          = "imageflow_session"
	sessionAuthenticated = "authenticated"
	sessionUser          = "user"
	sessionMaxAge        = 24 * time.Hour
)

// logRequests attaches a request scoped logger and logs every request once
// it completes.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))
		ctx := context.WithValue(r.Context(), loggerContextKey, logger)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func loggerFrom(r *http.Request) *zap.Logger {
	if l, ok := r.Context().Value(loggerContextKey).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// preHandleAuthentication sets the context with the key AuthenticatedUserContextKey to be either the
// name of the authenticated user, or an empty string if the user isn't authenticated.
func (s *Server) preHandleAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := ""

		// a bad or stale cookie just means we're logged out
		sess, err := s.sessions.Get(r, sessionName)
		if err == nil {
			if ok, _ := sess.Values[sessionAuthenticated].(bool); ok {
				user, _ = sess.Values[sessionUser].(string)
			}
		}

		ctx := context.WithValue(r.Context(), AuthenticatedUserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) preHandleRequireAuthentication(next http.Handler) http.Handler {
	return HandlerWithError(func(w http.ResponseWriter, r *http.Request) error {
		username, err := authenticatedUser(r)
		if err != nil {
			return err
		}

		if username == "" {
			return PublicError{http.StatusUnauthorized, "Unauthorized"}
		}

		next.ServeHTTP(w, r)

		return nil
	})
}

// preHandleRequirePageAuthentication redirects anonymous visitors to the login page.
func (s *Server) preHandleRequirePageAuthentication(next http.Handler) http.Handler {
	return FrontendHandlerWithError(func(w http.ResponseWriter, r *http.Request) error {
		username, err := authenticatedUser(r)
		if err != nil {
			return err
		}

		if username == "" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return nil
		}

		next.ServeHTTP(w, r)

		return nil
	})
}

func authenticatedUser(r *http.Request) (string, error) {
	username, ok := r.Context().Value(AuthenticatedUserContextKey).(string)
	if !ok {
		return "", errors.New("attempted to require authentication when the prehandleauthentication middleware isn't called")
	}
	return username, nil
}

// requester describes the client for audit records.
func requester(r *http.Request) auditlog.Requester {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	return auditlog.Requester{IP: ip, UserAgent: r.UserAgent()}
}
