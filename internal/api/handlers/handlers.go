// Package handlers implements the HTTP handlers for the verdin admission
// service: orchestration, manual deferred-task resolution, grid views and
// receipt transparency.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/verdin-ai/verdin/internal/grid"
	"github.com/verdin-ai/verdin/internal/llm"
	"github.com/verdin-ai/verdin/internal/orchestrator"
	"github.com/verdin-ai/verdin/internal/resolver"
	"github.com/verdin-ai/verdin/internal/store"
	"github.com/verdin-ai/verdin/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Resolver     *resolver.Resolver
	Grid         *grid.Engine
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, orch *orchestrator.Orchestrator, res *resolver.Resolver, g *grid.Engine) *Handlers {
	return &Handlers{Store: s, Orchestrator: orch, Resolver: res, Grid: g}
}

// orchestrateRequest is the inbound request contract.
type orchestrateRequest struct {
	Prompt    string `json:"prompt"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	IsUrgent  bool   `json:"is_urgent"`
	BypassEco bool   `json:"bypass_eco"`
	Deadline  string `json:"deadline,omitempty"`
}

func (r *orchestrateRequest) toModel() (*models.Request, error) {
	req := &models.Request{
		Prompt:    r.Prompt,
		UserID:    r.UserID,
		ProjectID: r.ProjectID,
		IsUrgent:  r.IsUrgent,
		BypassEco: r.BypassEco,
	}
	if r.Deadline != "" {
		deadline, err := time.Parse(time.RFC3339, r.Deadline)
		if err != nil {
			return nil, orchestrator.ErrInvalidDeadline
		}
		req.Deadline = &deadline
	}
	return req, nil
}

// Orchestrate handles POST /orchestrate: the admission-control entry point.
func (h *Handlers) Orchestrate(w http.ResponseWriter, r *http.Request) {
	var body orchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	req, err := body.toModel()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.Orchestrator.Process(r.Context(), req)
	if err != nil {
		h.writeProcessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// Bypass handles POST /bypass: direct execution with no eco routing.
func (h *Handlers) Bypass(w http.ResponseWriter, r *http.Request) {
	var body orchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	body.BypassEco = true

	req, err := body.toModel()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.Orchestrator.Process(r.Context(), req)
	if err != nil {
		h.writeProcessError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"response":   outcome.Response,
		"receipt_id": outcome.ReceiptID,
		"eco_stats":  outcome.Receipt,
		"warning":    "No CO2 savings applied",
	})
}

// ExecuteDeferred handles POST /deferred/execute/{taskID}: the manual
// trigger that force-resolves one task regardless of grid state.
func (h *Handlers) ExecuteDeferred(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	receipt, err := h.Resolver.ResolveOne(r.Context(), taskID)
	if err != nil {
		switch {
		case store.IsNotFound(err):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusConflict, "task already completed")
		default:
			h.writeProcessError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "completed",
		"task_id":    taskID,
		"receipt_id": receipt.ID,
		"eco_stats":  receipt,
	})
}

// GetDeferred handles GET /deferred/{taskID}.
func (h *Handlers) GetDeferred(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	task, err := h.Store.GetTask(r.Context(), taskID)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GridStatus handles GET /grid: the current default-region snapshot.
func (h *Handlers) GridStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.Grid.Snapshot(r.Context(), h.Grid.DefaultRegion())
	writeJSON(w, http.StatusOK, snap)
}

// GridMap handles GET /grid/map: snapshots plus sustainability scores for
// the fixed region registry.
func (h *Handlers) GridMap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"regions": h.Grid.Map(r.Context()),
	})
}

// GetReceipt handles GET /receipt/{receiptID}.
func (h *Handlers) GetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Store.GetReceipt(r.Context(), chi.URLParam(r, "receiptID"))
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// GetNutrition handles GET /analytics/nutrition/{receiptID}: the
// nutrition-label view of a receipt.
func (h *Handlers) GetNutrition(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Store.GetReceipt(r.Context(), chi.URLParam(r, "receiptID"))
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"energy_kwh":            receipt.ActualWh / 1000,
		"grid_source":           receipt.GridMix,
		"og_co2":                receipt.BaselineCO2,
		"end_co2":               receipt.ActualCO2,
		"net_savings":           receipt.NetSavings,
		"efficiency_multiplier": receipt.EfficiencyMultiplier,
		"wh_saved":              receipt.WhSaved,
	})
}

// writeProcessError maps orchestration failures to HTTP statuses. Only
// generation failures and invalid deadlines ever reach the caller as
// explicit errors; infrastructure degradation is absorbed upstream.
func (h *Handlers) writeProcessError(w http.ResponseWriter, err error) {
	var genErr *llm.GenerationError
	switch {
	case errors.Is(err, orchestrator.ErrInvalidDeadline):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &genErr):
		writeError(w, http.StatusServiceUnavailable, genErr.Error())
	default:
		log.Error().Err(err).Msg("Unexpected orchestration failure")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
