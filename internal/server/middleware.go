package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	signatureHeader = "X-Fax-Signature"
	maxWebhookBody  = 50 << 20
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Service) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("http request")
	})
}

func (s *Service) RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  fmt.Sprint(rec),
					"stack":  string(debug.Stack()),
				}).Error("handler panicked")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Service) StripTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path != "/" && strings.HasSuffix(path, "/") {
			newURL := *r.URL
			newURL.Path = strings.TrimSuffix(path, "/")

			// 308 keeps the method and body of webhook posts.
			http.Redirect(w, r, newURL.String(), http.StatusPermanentRedirect)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// VerifySignature checks the hex HMAC-SHA256 of the body against the
// X-Fax-Signature header when a webhook secret is configured.
func (s *Service) VerifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.logger.WithField("path", r.URL.Path).WithField("limit", tooLarge.Limit).Warn("webhook body too large")
				s.renderError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			s.renderError(w, r, http.StatusBadRequest, "unable to read body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if s.config.WebhookSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		got, err := hex.DecodeString(r.Header.Get(signatureHeader))
		if err != nil || !hmac.Equal(got, sign([]byte(s.config.WebhookSecret), body)) {
			s.logger.WithField("path", r.URL.Path).Warn("webhook signature mismatch")
			s.renderError(w, r, http.StatusUnauthorized, "invalid signature")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
