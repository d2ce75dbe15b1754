// Package handlers implements the HTTP handlers for the asklens control
// plane: question answering, compile-only report preview, and the resilience
// status endpoint.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/asklens/asklens/internal/api/middleware"
	"github.com/asklens/asklens/internal/catalog"
	"github.com/asklens/asklens/internal/compiler"
	"github.com/asklens/asklens/internal/llm"
	"github.com/asklens/asklens/internal/pipeline"
	"github.com/asklens/asklens/internal/resilience"
	"github.com/asklens/asklens/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Pipeline *pipeline.Pipeline
	Gate     *resilience.Gate
}

// New creates a Handlers instance.
func New(p *pipeline.Pipeline, gate *resilience.Gate) *Handlers {
	return &Handlers{Pipeline: p, Gate: gate}
}

// AskRequest is the body of POST /api/v1/ask. Mode defaults to "report" when
// a definition is present and "freeform" otherwise.
type AskRequest struct {
	Message    string                   `json:"message"`
	Mode       models.IntentMode        `json:"mode,omitempty"`
	Dataset    string                   `json:"dataset,omitempty"`
	Definition *models.ReportDefinition `json:"definition,omitempty"`
	History    []models.ChatMessage     `json:"history,omitempty"`
}

// CompileRequest is the body of POST /api/v1/reports/compile.
type CompileRequest struct {
	Dataset    string                   `json:"dataset"`
	Definition *models.ReportDefinition `json:"definition"`
}

// Ask answers a business question end to end.
func (h *Handlers) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = models.IntentModeFreeform
		if req.Definition != nil {
			mode = models.IntentModeReport
		}
	}

	tenantID := middleware.GetTenantID(r.Context())
	resp, err := h.Pipeline.Ask(r.Context(), tenantID, models.ResolvedIntent{
		Mode:       mode,
		Dataset:    req.Dataset,
		Definition: req.Definition,
		Message:    req.Message,
		History:    req.History,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	log.Info().
		Str("tenant_id", tenantID).
		Str("request_id", resp.RequestID).
		Str("mode", string(mode)).
		Int("attempts", resp.Attempts).
		Int64("tokens", resp.Usage.TotalTokens).
		Msg("question answered")
	respondJSON(w, http.StatusOK, resp)
}

// CompileReport compiles a report definition without executing it.
func (h *Handlers) CompileReport(w http.ResponseWriter, r *http.Request) {
	var req CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tenantID := middleware.GetTenantID(r.Context())
	query, err := h.Pipeline.CompileReport(r.Context(), tenantID, req.Dataset, req.Definition)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, query)
}

// Resilience reports the state of the breaker, limiter, and coalescer.
func (h *Handlers) Resilience(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Gate.Status())
}

// writeDomainError maps the error taxonomy to HTTP: bad input 400, unknown
// datasets 404, catalog/definition mismatches 422, admission rejections 429
// with Retry-After, provider failures 502.
func writeDomainError(w http.ResponseWriter, err error) {
	var notFound *catalog.ErrNotFound
	var unknownField *compiler.UnknownFieldError
	var invalidRange *compiler.InvalidRangeError
	var tooWide *compiler.RangeTooWideError
	var ungrouped *compiler.UngroupedColumnError
	var circuitOpen *resilience.CircuitOpenError
	var limitHit *resilience.ConcurrencyLimitError
	var transport *llm.TransportError

	switch {
	case errors.Is(err, pipeline.ErrMissingDefinition):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &unknownField),
		errors.As(err, &invalidRange),
		errors.As(err, &tooWide),
		errors.As(err, &ungrouped):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &circuitOpen):
		w.Header().Set("Retry-After", retryAfterSeconds(circuitOpen.RetryAfter))
		respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &limitHit):
		respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &transport):
		if transport.Kind == llm.ErrRateLimit {
			if transport.RetryAfter > 0 {
				w.Header().Set("Retry-After", retryAfterSeconds(transport.RetryAfter))
			}
			respondError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		log.Error().Err(err).Msg("unhandled pipeline error")
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d", secs)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
