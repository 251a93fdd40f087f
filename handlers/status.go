// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/labelmesh/labelrounds/db"
	"github.com/labelmesh/labelrounds/middleware"
	"github.com/labelmesh/labelrounds/models"
	"github.com/labelmesh/labelrounds/registry"
	"github.com/labelmesh/labelrounds/rounds"
)

// StatusHandler serves the read-only observation endpoints.
type StatusHandler struct {
	ctrl     *rounds.Controller
	store    *db.Store
	registry *registry.Registry
}

func NewStatusHandler(ctrl *rounds.Controller, store *db.Store, reg *registry.Registry) *StatusHandler {
	return &StatusHandler{ctrl: ctrl, store: store, registry: reg}
}

// Status handles GET /status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := h.ctrl.Status()
	if resp.Batch != nil {
		resp.Batch.OpenedAgo = humanize.Time(resp.Batch.OpenedAt)
	}

	runs, err := h.store.TrainingRuns()
	if err != nil {
		slog.Error("failed to load training runs", "error", err)
	} else {
		resp.TrainingRuns = runs
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// Sample handles GET /samples/{id}
func (h *StatusHandler) Sample(w http.ResponseWriter, r *http.Request) {
	sampleID := r.PathValue("id")
	if sampleID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "sample id is required")
		return
	}

	s, round, err := h.ctrl.Sample(sampleID)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusNotFound, "Sample not found")
		return
	}

	rec := models.SampleRecord{
		SampleID: sampleID,
		Round:    round,
		State:    s.State(),
		Deadline: s.Deadline(),
		Votes:    s.Votes(),
	}
	if rec.State == models.SampleFinalized {
		o := s.Outcome()
		rec.FinalLabel = o.Label
		rec.Reason = o.Reason
	}

	middleware.JSONResponse(w, http.StatusOK, rec)
}

// Tally handles GET /samples/{id}/tally
func (h *StatusHandler) Tally(w http.ResponseWriter, r *http.Request) {
	sampleID := r.PathValue("id")
	if sampleID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "sample id is required")
		return
	}

	s, _, err := h.ctrl.Sample(sampleID)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusNotFound, "Sample not found")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, s.Tally())
}

// History handles GET /samples/{id}/history
func (h *StatusHandler) History(w http.ResponseWriter, r *http.Request) {
	sampleID := r.PathValue("id")
	if sampleID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "sample id is required")
		return
	}

	s, round, err := h.ctrl.Sample(sampleID)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusNotFound, "Sample not found")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.HistoryResponse{
		SampleID: sampleID,
		Round:    round,
		Votes:    s.Votes(),
	})
}

// Participants handles GET /participants
func (h *StatusHandler) Participants(w http.ResponseWriter, r *http.Request) {
	parts, err := h.registry.Participants(r.Context())
	if err != nil {
		slog.Error("failed to load participants", "error", err)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Participant registry unavailable")
		return
	}

	stats, err := h.store.ParticipantStats()
	if err != nil {
		slog.Error("failed to load participant stats", "error", err)
		stats = map[string]db.VoterStats{}
	}

	views := make([]models.ParticipantView, 0, len(parts))
	for _, p := range parts {
		view := models.ParticipantView{
			Participant: p,
			Eligible:    p.CanVote(),
		}
		if st, ok := stats[p.Address]; ok {
			view.LabelsSubmitted = st.LabelsSubmitted
			view.LastSubmission = st.LastSubmission
		}
		views = append(views, view)
	}

	middleware.JSONResponse(w, http.StatusOK, views)
}

// Health handles GET /health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.JSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
