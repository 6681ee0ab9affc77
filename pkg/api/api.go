// Package api exposes the ingestion pipeline and the stored activities
// over HTTP. Responses are JSON; series endpoints downsample on the way
// out so a multi-hour ride never ships hundreds of thousands of points to
// a browser.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"fittrail/pkg/database"
	"fittrail/pkg/downsample"
	"fittrail/pkg/importer"
	"fittrail/pkg/model"
)

// Handler carries the dependencies the HTTP layer needs. Construct it with
// NewHandler so the cache and the import gate are wired.
type Handler struct {
	DB        *database.Database
	Importer  *importer.Importer
	MaxPoints int // series point budget when the client sends no max

	cache      *responseCache
	importGate chan struct{}
}

// NewHandler wires a handler with a response cache of the given TTL.
// cacheTTL <= 0 disables caching.
func NewHandler(db *database.Database, imp *importer.Importer, maxPoints int, cacheTTL time.Duration) *Handler {
	if maxPoints <= 0 {
		maxPoints = downsample.DefaultTarget
	}
	gate := make(chan struct{}, 1)
	gate <- struct{}{}
	return &Handler{
		DB:         db,
		Importer:   imp,
		MaxPoints:  maxPoints,
		cache:      newResponseCache(cacheTTL),
		importGate: gate,
	}
}

// Router builds the route table.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/activities", h.handleListActivities)
	r.Get("/api/activities/{id}", h.handleActivityDetail)
	r.Get("/api/activities/{id}/samples", h.handleActivitySamples)
	r.Get("/api/activities/{id}/route", h.handleActivityRoute)
	r.Post("/api/import", h.handleImport)
	return r
}

// Close releases the handler's background resources.
func (h *Handler) Close() {
	h.cache.Close()
}

// handleListActivities serves the calendar view: summaries newest first,
// optionally windowed by time and filtered by sport.
func (h *Handler) handleListActivities(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid from: %v", err))
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid to: %v", err))
		return
	}
	sport := r.URL.Query().Get("sport")

	key := "list|" + r.URL.RawQuery
	data, err := h.cached(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		activities, err := h.DB.ListActivities(ctx, from, to, sport)
		if err != nil {
			return nil, err
		}
		return json.Marshal(activities)
	})
	if err != nil {
		h.writeStorageError(w, "list activities", err)
		return
	}
	writeRawJSON(w, http.StatusOK, data)
}

// activityDetail is the full payload for one activity page.
type activityDetail struct {
	Activity    *model.Activity    `json:"activity"`
	Samples     []model.Sample     `json:"samples"`
	RoutePoints []model.RoutePoint `json:"route_points"`
	Laps        []model.Lap        `json:"laps"`
}

func (h *Handler) handleActivityDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := h.activityID(w, r)
	if !ok {
		return
	}
	max := h.maxParam(r)

	key := fmt.Sprintf("detail|%d|%d", id, max)
	data, err := h.cached(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		activity, samples, route, laps, err := h.DB.GetActivityDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(activityDetail{
			Activity:    activity,
			Samples:     downsample.Samples(samples, max),
			RoutePoints: downsample.RoutePoints(route, max),
			Laps:        laps,
		})
	})
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "activity not found")
		return
	}
	if err != nil {
		h.writeStorageError(w, "activity detail", err)
		return
	}
	writeRawJSON(w, http.StatusOK, data)
}

func (h *Handler) handleActivitySamples(w http.ResponseWriter, r *http.Request) {
	id, ok := h.activityID(w, r)
	if !ok {
		return
	}
	max := h.maxParam(r)

	key := fmt.Sprintf("samples|%d|%d", id, max)
	data, err := h.cached(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		_, samples, _, _, err := h.DB.GetActivityDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(downsample.Samples(samples, max))
	})
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "activity not found")
		return
	}
	if err != nil {
		h.writeStorageError(w, "activity samples", err)
		return
	}
	writeRawJSON(w, http.StatusOK, data)
}

func (h *Handler) handleActivityRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.activityID(w, r)
	if !ok {
		return
	}
	max := h.maxParam(r)

	key := fmt.Sprintf("route|%d|%d", id, max)
	data, err := h.cached(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		_, _, route, _, err := h.DB.GetActivityDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(downsample.RoutePoints(route, max))
	})
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "activity not found")
		return
	}
	if err != nil {
		h.writeStorageError(w, "activity route", err)
		return
	}
	writeRawJSON(w, http.StatusOK, data)
}

// handleImport triggers a batch import of the given path. Imports are
// serialized through a one-slot gate: a second request queues behind the
// first instead of doubling the write load.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid force value")
			return
		}
		force = parsed
	}

	select {
	case <-h.importGate:
	case <-r.Context().Done():
		writeError(w, http.StatusRequestTimeout, "request cancelled")
		return
	}
	defer func() { h.importGate <- struct{}{} }()

	report, err := h.Importer.ImportPath(r.Context(), path, force)
	if report != nil && report.Imported > 0 {
		h.cache.Invalidate()
	}
	if err != nil {
		log.Printf("api import %s: %v", path, err)
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrStorage) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"error":  err.Error(),
			"report": report,
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// cached routes reads through the response cache when it is enabled and
// falls back to a direct load when it is not.
func (h *Handler) cached(ctx context.Context, key string, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	data, err := h.cache.Get(ctx, key, loader)
	if errors.Is(err, errCacheDisabled) || errors.Is(err, errCacheStopped) {
		return loader(ctx)
	}
	return data, err
}

func (h *Handler) activityID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity id")
		return 0, false
	}
	return id, true
}

// maxParam reads the series point budget, falling back to the handler's
// default. A non-numeric value falls back too: the budget is a rendering
// hint, not a contract worth failing the request over.
func (h *Handler) maxParam(r *http.Request) int {
	raw := r.URL.Query().Get("max")
	if raw == "" {
		return h.MaxPoints
	}
	max, err := strconv.Atoi(raw)
	if err != nil || max <= 0 {
		return h.MaxPoints
	}
	return max
}

func (h *Handler) writeStorageError(w http.ResponseWriter, op string, err error) {
	log.Printf("api %s: %v", op, err)
	status := http.StatusInternalServerError
	if errors.Is(err, database.ErrStorage) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, "storage unavailable")
}

// parseTimeParam accepts RFC 3339 timestamps or bare dates. Empty input
// means no bound.
func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 or YYYY-MM-DD, got %q", raw)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	writeRawJSON(w, status, data)
}

func writeRawJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
