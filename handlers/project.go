// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labelmesh/labelrounds/auth"
	"github.com/labelmesh/labelrounds/cliparse"
	"github.com/labelmesh/labelrounds/middleware"
	"github.com/labelmesh/labelrounds/models"
	"github.com/labelmesh/labelrounds/rounds"
)

// ProjectHandler serves the coordinator command endpoints. Every route
// here requires the X-Coordinator-Key header.
type ProjectHandler struct {
	ctrl *rounds.Controller
	cfg  cliparse.Config
}

func NewProjectHandler(ctrl *rounds.Controller, cfg cliparse.Config) *ProjectHandler {
	return &ProjectHandler{ctrl: ctrl, cfg: cfg}
}

func (h *ProjectHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("X-Coordinator-Key")
	if key == "" {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "X-Coordinator-Key header required")
		return false
	}
	if err := auth.ValidateCoordinatorKey(h.cfg.ProjectID, key, h.cfg.CoordinatorKeySalt); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid coordinator key")
		return false
	}
	return true
}

// EndProject handles POST /project/end
func (h *ProjectHandler) EndProject(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	reason := h.ctrl.EndProject(r.Context())

	slog.Info("project end requested", "reason", reason)

	middleware.JSONResponse(w, http.StatusOK, models.EndProjectResponse{
		Status:    models.ProjectEnded,
		EndReason: reason,
	})
}

// NextRound handles POST /project/next-round
func (h *ProjectHandler) NextRound(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	if err := h.ctrl.StartNextRound(); err != nil {
		if errors.Is(err, rounds.ErrProjectEnded) {
			middleware.ErrorResponse(w, http.StatusConflict, "Project has ended")
			return
		}
		slog.Error("failed to start next round", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start next round")
		return
	}

	middleware.JSONResponse(w, http.StatusAccepted, models.NextRoundResponse{
		Status:  "accepted",
		Message: "open sessions will be finalized and the round advanced",
	})
}
