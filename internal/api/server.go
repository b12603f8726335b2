// Package api exposes the booking engine over HTTP/JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"gaia/internal/access"
	"gaia/internal/booking"
	"gaia/internal/idempotency"
	"gaia/internal/metrics"
	"gaia/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderPrincipal   = "X-Principal-ID"
	HeaderRequestID   = "X-Request-ID"
	HeaderIdempotency = "Idempotency-Key"
)

// RoleLookup is the admin identity lookup.
type RoleLookup interface {
	Role(ctx context.Context, principalID string) (model.Role, error)
}

type HTTPServer struct {
	manager *booking.Manager
	roles   RoleLookup
	idem    idempotency.Store
	logger  zerolog.Logger
	mux     *http.ServeMux
	server  *http.Server
}

// NewHTTPServer builds the API. idem may be nil to disable Idempotency-Key.
func NewHTTPServer(port int, manager *booking.Manager, roles RoleLookup, idem idempotency.Store, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	s := &HTTPServer{
		manager: manager,
		roles:   roles,
		idem:    idem,
		logger:  l.With().Str("component", "api").Logger(),
		mux:     http.NewServeMux(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s
}

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("GET /api/halls", s.handleHalls)
	s.mux.HandleFunc("GET /api/halls/{slug}/slots", s.handleSlots)
	s.mux.HandleFunc("POST /api/halls/{slug}/blocks", s.handleCreateBlock)
	s.mux.HandleFunc("DELETE /api/blocks/{id}", s.handleRemoveBlock)
	s.mux.HandleFunc("GET /api/reservations", s.handleListReservations)
	s.mux.HandleFunc("POST /api/reservations", s.handleCreateReservation)
	s.mux.HandleFunc("GET /api/reservations/{id}", s.handleGetReservation)
	s.mux.HandleFunc("POST /api/reservations/{id}/{action}", s.handleTransition)
}

// Handler returns the mux wrapped with request id, logging and metrics.
func (s *HTTPServer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, reqID)
		logger := s.logger.With().Str("request_id", reqID).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		s.mux.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.IncHTTP(route, strconv.Itoa(rec.status/100)+"xx")
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeBookingError maps engine errors to HTTP statuses.
func writeBookingError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, booking.ErrInvalidRange):
		status, code = http.StatusBadRequest, "invalid_range"
	case errors.Is(err, booking.ErrOutsideBusinessHours):
		status, code = http.StatusBadRequest, "outside_business_hours"
	case errors.Is(err, booking.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, booking.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, booking.ErrBlocked):
		status, code = http.StatusConflict, "blocked"
	case errors.Is(err, booking.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, booking.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, booking.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "transient"
	case access.IsAccessDenied(err):
		status, code = http.StatusForbidden, "forbidden"
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// requireStaff resolves the caller from X-Principal-ID and checks its role.
func (s *HTTPServer) requireStaff(w http.ResponseWriter, r *http.Request) (booking.Actor, bool) {
	principal := r.Header.Get(HeaderPrincipal)
	if principal == "" {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "missing " + HeaderPrincipal, Code: "forbidden"})
		return booking.Actor{}, false
	}
	role, err := s.roles.Role(r.Context(), principal)
	if err != nil {
		writeBookingError(w, r, booking.Transient(err))
		return booking.Actor{}, false
	}
	if !role.IsPrivileged() {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "staff role required", Code: "forbidden"})
		return booking.Actor{}, false
	}
	return booking.Actor{PrincipalID: principal, Role: role}, true
}
