// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labelmesh/labelrounds/auth"
	"github.com/labelmesh/labelrounds/cliparse"
	"github.com/labelmesh/labelrounds/middleware"
	"github.com/labelmesh/labelrounds/models"
	"github.com/labelmesh/labelrounds/rounds"
	"github.com/labelmesh/labelrounds/session"
)

type VoteHandler struct {
	ctrl *rounds.Controller
	cfg  cliparse.Config
}

func NewVoteHandler(ctrl *rounds.Controller, cfg cliparse.Config) *VoteHandler {
	return &VoteHandler{ctrl: ctrl, cfg: cfg}
}

// SubmitVote handles POST /votes
func (h *VoteHandler) SubmitVote(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitVoteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.SampleID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "sample_id is required")
		return
	}
	if req.Label == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "label is required")
		return
	}

	voter, err := auth.NormalizeAddress(req.Voter)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "invalid voter address")
		return
	}

	// IP hash for abuse tracking only; eligibility is address-based
	clientIP := middleware.GetClientIP(r)
	ipHash := auth.HashIP(clientIP, h.cfg.CoordinatorKeySalt)

	finalized, err := h.ctrl.SubmitVote(req.SampleID, voter, req.Label, ipHash, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrDuplicateVote):
			// Idempotent: the first vote stands, the retry is acknowledged
			slog.Info("duplicate vote ignored", "sample_id", req.SampleID, "voter", voter)
			middleware.JSONResponse(w, http.StatusOK, models.SubmitVoteResponse{
				SampleID: req.SampleID,
				Recorded: false,
				Message:  "vote already recorded for this sample",
			})
		case errors.Is(err, session.ErrUnauthorized):
			middleware.ErrorResponse(w, http.StatusUnauthorized, "address is not an eligible voter for this batch")
		case errors.Is(err, session.ErrUnknownSample):
			middleware.ErrorResponse(w, http.StatusNotFound, "Sample not found in the open batch")
		case errors.Is(err, session.ErrNotActive):
			middleware.ErrorResponse(w, http.StatusConflict, "Voting session is already finalized")
		case errors.Is(err, rounds.ErrProjectEnded):
			middleware.ErrorResponse(w, http.StatusConflict, "Project has ended")
		case errors.Is(err, rounds.ErrNoOpenBatch):
			middleware.ErrorResponse(w, http.StatusConflict, "No batch is open for voting")
		default:
			slog.Error("failed to submit vote", "error", err, "sample_id", req.SampleID)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to submit vote")
		}
		return
	}

	slog.Info("vote recorded", "sample_id", req.SampleID, "voter", voter, "finalized", finalized)

	middleware.JSONResponse(w, http.StatusCreated, models.SubmitVoteResponse{
		SampleID:  req.SampleID,
		Recorded:  true,
		Finalized: finalized,
	})
}
