package queryapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rpattn/hfql/internal/cache"
	"github.com/rpattn/hfql/internal/domain"
	"github.com/rpattn/hfql/internal/export"
	"github.com/rpattn/hfql/internal/filter"
	"github.com/rpattn/hfql/internal/huntflow"
	"github.com/rpattn/hfql/internal/middleware"
	"github.com/rpattn/hfql/internal/query"
)

const maxBodyBytes = 1 << 20

// Executor runs parsed queries.
type Executor interface {
	Execute(ctx context.Context, q query.Query) (query.Result, error)
}

// CacheAdmin exposes cache inspection and invalidation.
type CacheAdmin interface {
	Stats() cache.Stats
	InvalidateAll()
}

type Handler struct {
	executor Executor
	cache    CacheAdmin
	exporter *export.Service
	logger   *slog.Logger
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHTTPHandler serves the query endpoint and cache administration.
func NewHTTPHandler(executor Executor, c CacheAdmin, exporter *export.Service, opts ...Option) http.Handler {
	h := &Handler{executor: executor, cache: c, exporter: exporter, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodPost && path == "/query":
		h.handleQuery(w, r)
	case r.Method == http.MethodGet && path == "/entities":
		h.handleEntities(w)
	case r.Method == http.MethodGet && path == "/cache/stats":
		writeJSON(w, http.StatusOK, h.cache.Stats())
	case r.Method == http.MethodDelete && path == "/cache":
		h.cache.InvalidateAll()
		w.WriteHeader(http.StatusNoContent)
	case path == "/query" || path == "/entities" || path == "/cache" || path == "/cache/stats":
		writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	default:
		writeError(w, r, http.StatusNotFound, errors.New("not found"))
	}
}

type queryResponse struct {
	query.Result
	DurationMS int64 `json:"duration_ms"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req query.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	var format export.Format
	if raw := r.URL.Query().Get("format"); raw != "" && raw != "json" {
		f, err := export.ParseFormat(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		format = f
	}

	q, err := query.Parse(req)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	res, err := h.executor.Execute(r.Context(), q)
	if err != nil {
		h.logger.Error("query failed",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("entity", string(q.Entity)),
			slog.Any("error", err),
		)
		writeError(w, r, statusFor(err), err)
		return
	}

	if format == "" {
		writeJSON(w, http.StatusOK, queryResponse{Result: res, DurationMS: res.Duration.Milliseconds()})
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.exporter.FileName(res, format)))
	if err := h.exporter.Write(w, format, res); err != nil {
		// headers are already sent
		h.logger.Error("export failed", slog.String("execution_id", res.ExecutionID), slog.Any("error", err))
	}
}

type entityInfo struct {
	Name   domain.EntityKind `json:"name"`
	Fields []string          `json:"fields"`
}

func (h *Handler) handleEntities(w http.ResponseWriter) {
	kinds := domain.EntityKinds()
	out := make([]entityInfo, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, entityInfo{Name: kind, Fields: domain.FieldsOf(kind)})
	}
	writeJSON(w, http.StatusOK, out)
}

func statusFor(err error) int {
	var validation *filter.ValidationError
	var upstream *huntflow.FetchError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: middleware.RequestIDFromContext(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
