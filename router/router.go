// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"net/http"

	"github.com/labelmesh/labelrounds/cliparse"
	"github.com/labelmesh/labelrounds/db"
	"github.com/labelmesh/labelrounds/handlers"
	"github.com/labelmesh/labelrounds/middleware"
	"github.com/labelmesh/labelrounds/registry"
	"github.com/labelmesh/labelrounds/rounds"
)

func NewRouter(ctrl *rounds.Controller, store *db.Store, reg *registry.Registry, cfg cliparse.Config) *http.ServeMux {
	mux := http.NewServeMux()

	// Initialize handlers
	voteHandler := handlers.NewVoteHandler(ctrl, cfg)
	projectHandler := handlers.NewProjectHandler(ctrl, cfg)
	statusHandler := handlers.NewStatusHandler(ctrl, store, reg)

	// Health check
	mux.HandleFunc("GET /health", statusHandler.Health)

	// Vote submission (eligible participants)
	mux.HandleFunc("POST /votes", middleware.WithLogging(voteHandler.SubmitVote))

	// Project commands (coordinator only)
	mux.HandleFunc("POST /project/end", middleware.WithLogging(projectHandler.EndProject))
	mux.HandleFunc("POST /project/next-round", middleware.WithLogging(projectHandler.NextRound))

	// Observation (public, read-only)
	mux.HandleFunc("GET /status", middleware.WithLogging(statusHandler.Status))
	mux.HandleFunc("GET /samples/{id}", middleware.WithLogging(statusHandler.Sample))
	mux.HandleFunc("GET /samples/{id}/tally", middleware.WithLogging(statusHandler.Tally))
	mux.HandleFunc("GET /samples/{id}/history", middleware.WithLogging(statusHandler.History))
	mux.HandleFunc("GET /participants", middleware.WithLogging(statusHandler.Participants))

	// Root endpoint
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("labelrounds API v1"))
	})

	return mux
}
