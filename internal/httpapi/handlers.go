package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"hemicycle.org/internal/audit"
	"hemicycle.org/internal/auth"
	"hemicycle.org/internal/dataset"
	"hemicycle.org/internal/obs"
	"hemicycle.org/internal/parliament"
	"hemicycle.org/internal/query"
	"hemicycle.org/internal/refresh"
	"hemicycle.org/internal/stream"
)

// Refresher is the scheduler surface used by the API.
type Refresher interface {
	Trigger() bool
	Status() refresh.Status
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	version   string
	store     *dataset.Store
	queries   query.Service
	refresher Refresher
	stream    *stream.Stream
	tokens    *auth.Tokens

	rateBurst   int
	ratePerSec  float64
	corsOrigins []string
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec, a.rateBurst = perSecond, burst
		}
	}
}

// WithTokens requires an operator bearer token on POST /v1/refresh.
func WithTokens(t *auth.Tokens) Option {
	return func(a *API) { a.tokens = t }
}

// WithCORSOrigins allows extra browser origins besides localhost.
func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.corsOrigins = append(a.corsOrigins, origins...) }
}

func New(version string, store *dataset.Store, queries query.Service, refresher Refresher, events *stream.Stream, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		version:    version,
		store:      store,
		queries:    queries,
		refresher:  refresher,
		stream:     events,
		rateBurst:  40,
		ratePerSec: 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// queries
	a.mux.HandleFunc("/v1/members", a.handleMembersCollection)
	a.mux.HandleFunc("/v1/members/", a.handleMemberResource)
	a.mux.HandleFunc("/v1/bodies", a.handleBodiesCollection)
	a.mux.HandleFunc("/v1/bodies/", a.handleBodyResource)
	a.mux.HandleFunc("/v1/ballots", a.handleBallots)
	a.mux.HandleFunc("/v1/ballots/", a.handleBallotResource)

	// operations
	a.mux.HandleFunc("/v1/refresh", a.requireRole(auth.RoleOperator, a.handleRefresh))
	a.mux.HandleFunc("/v1/events", a.Stream)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler wraps the mux in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigins...)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "hemicycle",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	state := a.store.State()
	if state != dataset.StateReady {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"state":  state,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"generation": a.store.Current().ID(),
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"name":    "hemicycle",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"state":   a.store.State(),
	}
	if d := a.store.Current(); d != nil {
		payload["generation"] = d.ID()
		payload["built_at"] = d.BuiltAt().UTC().Format(time.RFC3339)
		payload["counts"] = d.Stats().Map()
	}
	if a.refresher != nil {
		payload["refresh"] = a.refresher.Status()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.refresher == nil {
		writeError(w, r, http.StatusServiceUnavailable, "refresh disabled")
		return
	}

	code, outcome := http.StatusAccepted, "started"
	if !a.refresher.Trigger() {
		code, outcome = http.StatusOK, "already_running"
	}
	ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))
	actor := clientIP(r)
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		actor = claims.Subject
	}
	ctx = audit.WithActor(ctx, actor)
	_ = audit.LogEvent(ctx, "refresh.trigger", map[string]any{"outcome": outcome})

	writeJSON(w, code, map[string]any{
		"status":  outcome,
		"refresh": a.refresher.Status(),
	})
}

// --- helpers ---

type candidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// handleQueryError maps query outcomes to status codes.
func handleQueryError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		nf  *parliament.NotFoundError
		amb *parliament.AmbiguousQueryError
	)
	switch {
	case errors.As(err, &amb):
		cands := make([]candidate, 0, len(amb.Candidates))
		for _, m := range amb.Candidates {
			cands = append(cands, candidate{ID: m.ID, Name: m.FullName()})
		}
		writeErrorKind(w, r, http.StatusMultipleChoices, "ambiguous", err.Error(), map[string]any{
			"query":      amb.Query,
			"candidates": cands,
		})
	case errors.As(err, &nf):
		writeErrorKind(w, r, http.StatusNotFound, "not_found", err.Error(), map[string]any{
			"entity": nf.Kind,
			"id":     nf.ID,
		})
	case errors.Is(err, parliament.ErrNotReady):
		writeErrorKind(w, r, http.StatusServiceUnavailable, "not_ready", err.Error(), nil)
	case errors.Is(err, query.ErrInvalidQuery):
		writeErrorKind(w, r, http.StatusBadRequest, "invalid", err.Error(), nil)
	default:
		obs.Component("httpapi").Error("query failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorKind(w, r, code, "", msg, nil)
}

func writeErrorKind(w http.ResponseWriter, r *http.Request, code int, kind, msg string, extra map[string]any) {
	payload := map[string]any{
		"error": msg,
	}
	if kind != "" {
		payload["kind"] = kind
	}
	for k, v := range extra {
		payload[k] = v
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
