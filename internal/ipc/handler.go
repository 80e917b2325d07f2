// Package ipc provides the HTTP API of the alphagate pipeline.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/quantforge/alphagate/internal/budget"
	"github.com/quantforge/alphagate/internal/catalog"
	"github.com/quantforge/alphagate/internal/domain"
	"github.com/quantforge/alphagate/internal/events"
	"github.com/quantforge/alphagate/internal/fastexpr"
	"github.com/quantforge/alphagate/internal/store"
	"github.com/quantforge/alphagate/internal/workflow"
)

// Handler holds all dependencies for the HTTP handlers. Store, Batch, Bus
// and Metrics are optional.
type Handler struct {
	Catalog      catalog.Provider
	Orchestrator *workflow.Orchestrator
	Batch        *workflow.BatchRunner
	Handoff      *workflow.Handoff
	Ledger       *budget.Ledger
	Store        *store.Store
	Bus          *events.Bus
	Metrics      http.Handler
	Logger       *zap.Logger
}

// ValidateRequest is the body for POST /api/v1/validate.
type ValidateRequest struct {
	Expression string `json:"expression" validate:"required,max=20000"`
}

// RunRequest is the body for POST /api/v1/runs.
type RunRequest struct {
	RunID       string `json:"run_id" validate:"omitempty,max=128"`
	CandidateID string `json:"candidate_id" validate:"omitempty,max=128"`
	Query       string `json:"query" validate:"required,max=2000"`
}

// BatchRequest is the body for POST /api/v1/batches.
type BatchRequest struct {
	Queries []string `json:"queries" validate:"required,min=1,max=200,dive,required,max=2000"`
}

// BudgetStatus is the response for GET /api/v1/budget.
type BudgetStatus struct {
	Day    string              `json:"day"`
	Action domain.CostAction   `json:"action"`
	Scopes []domain.ScopeUsage `json:"scopes"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var requestValidate = validator.New(validator.WithRequiredStructEnabled())

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if snap, err := h.Catalog.Snapshot(r.Context()); err == nil {
		ops, datasets, fields := snap.Stats()
		resp["catalog"] = map[string]int{"operators": ops, "datasets": datasets, "fields": fields}
	} else {
		resp["status"] = "degraded"
		resp["catalog_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Validate handles POST /api/v1/validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decode(w, r, &req) {
		return
	}
	snap, err := h.Catalog.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fastexpr.Validate(req.Expression, snap))
}

// CreateRun handles POST /api/v1/runs. The run executes synchronously and
// the response carries its summary.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RunID != "" {
		if _, err := h.Handoff.State(r.Context(), req.RunID); err == nil {
			writeError(w, domain.NewEngineError(domain.ErrDuplicateRun.Code, "run "+req.RunID+" already exists"))
			return
		}
	}
	snap, err := h.Catalog.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := h.Orchestrator.Run(r.Context(), workflow.Request{
		RunID:       req.RunID,
		CandidateID: req.CandidateID,
		Query:       req.Query,
		Snapshot:    snap,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st.Summary())
}

// CreateBatch handles POST /api/v1/batches.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	if h.Batch == nil {
		writeJSON(w, http.StatusNotImplemented, APIError{Code: 501, Message: "batch runs are not enabled"})
		return
	}
	var req BatchRequest
	if !decode(w, r, &req) {
		return
	}
	snap, err := h.Catalog.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	states, err := h.Batch.Run(r.Context(), snap, req.Queries)
	if err != nil {
		writeError(w, err)
		return
	}
	sums := make([]domain.RunSummary, 0, len(states))
	for _, st := range states {
		if st != nil {
			sums = append(sums, st.Summary())
		}
	}
	writeJSON(w, http.StatusCreated, sums)
}

// ListRuns handles GET /api/v1/runs?limit=N.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeJSON(w, http.StatusOK, []domain.RunSummary{})
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	sums, err := h.Store.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if sums == nil {
		sums = []domain.RunSummary{}
	}
	writeJSON(w, http.StatusOK, sums)
}

// GetRun handles GET /api/v1/runs/{runID}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	st, err := h.Handoff.State(r.Context(), r.PathValue("runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st.Summary())
}

// ListEvents handles GET /api/v1/runs/{runID}/events?since_seq=N.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	sinceSeq := int64(0)
	if s := r.URL.Query().Get("since_seq"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			sinceSeq = parsed
		}
	}

	st, err := h.Handoff.State(r.Context(), r.PathValue("runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	evs := []domain.RunEvent{}
	for _, e := range st.Events {
		if e.SeqNo > sinceSeq {
			evs = append(evs, e)
		}
	}
	writeJSON(w, http.StatusOK, evs)
}

// ListAttempts handles GET /api/v1/runs/{runID}/attempts.
func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	st, err := h.Handoff.State(r.Context(), r.PathValue("runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	attempts := st.Attempts
	if attempts == nil {
		attempts = []domain.RepairAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

// GetCandidate handles GET /api/v1/runs/{runID}/candidate.
func (h *Handler) GetCandidate(w http.ResponseWriter, r *http.Request) {
	cand, err := h.Handoff.GetValidatedCandidate(r.Context(), r.PathValue("runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cand)
}

// GetBudget handles GET /api/v1/budget.
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BudgetStatus{
		Day:    h.Ledger.Day(),
		Action: h.Ledger.Action(),
		Scopes: h.Ledger.Status(),
	})
}

// StreamEvents handles GET /api/v1/events/stream (SSE). It forwards live
// pipeline events, optionally filtered by ?run_id=.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		writeJSON(w, http.StatusNotImplemented, APIError{Code: 501, Message: "event streaming is not enabled"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}
	runID := r.URL.Query().Get("run_id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan domain.RunEvent, 64)
	id := h.Bus.Subscribe(func(e domain.RunEvent) {
		if runID != "" && e.RunID != runID {
			return
		}
		select {
		case ch <- e:
		default:
			h.logger().Warn("dropping event for slow stream client", zap.String("run_id", e.RunID))
		}
	})
	defer h.Bus.Unsubscribe(id)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			writeSSEEvent(w, flusher, ev)
		}
	}
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// decode reads and validates a JSON body, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return false
	}
	if err := requestValidate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrRunNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrDuplicateRun.Code, domain.ErrCandidateNotValidated.Code:
			status = http.StatusConflict
		case domain.ErrBudgetExceeded.Code:
			status = http.StatusForbidden
		case domain.ErrRateLimitExceeded.Code:
			status = http.StatusTooManyRequests
		case domain.ErrCatalogEmpty.Code, domain.ErrCatalogLoad.Code, domain.ErrGenerationUnavailable.Code:
			status = http.StatusServiceUnavailable
		case domain.ErrInvalidTransition.Code:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: engErr.Error()})
		return
	}
	if errors.Is(err, context.Canceled) {
		writeJSON(w, http.StatusServiceUnavailable, APIError{Code: -1, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, ev domain.RunEvent) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	f.Flush()
}
