// Package httpapi serves any remote.Gateway over the PostgREST-style table
// API that remote.HTTPGateway speaks. Every table route requires an HS256
// bearer token; rows are only readable and writable by the owner named in
// the token subject.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/liftsync/internal/entity"
	"github.com/roach88/liftsync/internal/remote"
)

const (
	// MaxPageSize caps the limit parameter of range queries.
	MaxPageSize = 1000

	maxBodyBytes = 1 << 20
)

type ctxKey struct{}

// Server exposes a Gateway over HTTP.
type Server struct {
	gw     remote.Gateway
	secret []byte
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server backed by gw that verifies tokens with secret.
func New(gw remote.Gateway, secret []byte, opts ...Option) *Server {
	s := &Server{
		gw:     gw,
		secret: secret,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/rest/v1/{table}", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/", s.handleUpsert)
		r.Delete("/", s.handleDelete)
		r.Get("/", s.handleQuery)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("remote api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("remote api shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		owner, err := VerifyToken(s.secret, raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, owner)))
	})
}

func subject(r *http.Request) string {
	owner, _ := r.Context().Value(ctxKey{}).(string)
	return owner
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if oc := r.URL.Query().Get("on_conflict"); oc != "" && oc != "id" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported on_conflict %q", oc))
		return
	}

	rows, err := decodeRows(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	owner := subject(r)
	for _, row := range rows {
		if row.OwnerID != owner {
			writeError(w, http.StatusForbidden, fmt.Sprintf("row %s: owner_id does not match token", row.ID))
			return
		}
	}
	for _, row := range rows {
		if err := s.checkOwner(r.Context(), table, row.ID, owner); err != nil {
			writeGatewayError(w, err)
			return
		}
		if err := s.gw.Upsert(r.Context(), table, row); err != nil {
			writeGatewayError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	id, ok := strings.CutPrefix(r.URL.Query().Get("id"), "eq.")
	if !ok || id == "" {
		writeError(w, http.StatusBadRequest, "delete requires id=eq.<id>")
		return
	}

	if err := s.checkOwner(r.Context(), table, id, subject(r)); err != nil {
		writeGatewayError(w, err)
		return
	}
	if err := s.gw.Delete(r.Context(), table, id); err != nil {
		writeGatewayError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	q := r.URL.Query()
	owner := subject(r)

	if v := q.Get("owner_id"); v != "" {
		filter, ok := strings.CutPrefix(v, "eq.")
		if !ok {
			writeError(w, http.StatusBadRequest, "owner_id filter must be eq.<owner>")
			return
		}
		if filter != owner {
			writeError(w, http.StatusForbidden, "owner_id does not match token")
			return
		}
	}

	var since string
	if v := q.Get("updated_at"); v != "" {
		rev, ok := strings.CutPrefix(v, "gt.")
		if !ok {
			writeError(w, http.StatusBadRequest, "updated_at filter must be gt.<revision>")
			return
		}
		since = rev
	}
	if order := q.Get("order"); order != "" && !strings.HasPrefix(order, "updated_at.asc") {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported order %q", order))
		return
	}

	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset: "+err.Error())
		return
	}
	limit, err := intParam(q.Get("limit"), MaxPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	rows, err := s.gw.QueryRange(r.Context(), table, owner, since, offset, limit)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// checkOwner refuses writes to a row another owner holds, when the gateway
// can tell. The lookup and the write are separate calls, so upserts also
// rely on the gateway's own guard (Memory and pg check inside the write).
func (s *Server) checkOwner(ctx context.Context, table, id, owner string) error {
	lookup, ok := s.gw.(remote.OwnerLookup)
	if !ok {
		return nil
	}
	current, found, err := lookup.RowOwner(ctx, table, id)
	if err != nil {
		return err
	}
	if found && current != owner {
		return remote.Rejected(http.StatusForbidden, fmt.Sprintf("row %s belongs to another owner", id))
	}
	return nil
}

// decodeRows accepts a single row object or an array of rows.
func decodeRows(body io.Reader) ([]entity.Row, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty body")
	}

	var rows []entity.Row
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode rows: %w", err)
		}
	} else {
		var row entity.Row
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must be non-negative")
	}
	return n, nil
}

func writeGatewayError(w http.ResponseWriter, err error) {
	var re *remote.Error
	if errors.As(err, &re) {
		status := re.Status
		if status == 0 {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, re.Message)
		return
	}
	writeError(w, http.StatusServiceUnavailable, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
