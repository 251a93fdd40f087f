package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/mattn/go-isatty"
	_ "modernc.org/sqlite"

	"github.com/labelmesh/labelrounds/cliparse"
	"github.com/labelmesh/labelrounds/db"
	"github.com/labelmesh/labelrounds/middleware"
	"github.com/labelmesh/labelrounds/registry"
	"github.com/labelmesh/labelrounds/rounds"
	"github.com/labelmesh/labelrounds/router"
	"github.com/labelmesh/labelrounds/scheduler"
)

func main() {
	// Load .env if present; real env vars win
	_ = godotenv.Load()

	// Text logs on a terminal, JSON for collectors
	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, nil)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	driver := "postgres"
	if cfg.DatabaseType == "sqlite" {
		driver = "sqlite"
	}
	dbConn, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	// Verify connection
	if err := dbConn.Ping(); err != nil {
		slog.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	// Create schema (tables)
	if err := db.CreateSchema(dbConn); err != nil {
		slog.Error("schema creation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database schema ready")

	store := db.NewStore(dbConn)
	reg := registry.New(store)

	var publisher rounds.Publisher
	if cfg.PublisherURL != "" {
		publisher = rounds.NewHTTPPublisher(cfg.PublisherURL)
	}

	ctrl := rounds.New(rounds.Options{
		Logger:            logger,
		Store:             store,
		Registry:          reg,
		Trainer:           rounds.NewHTTPTrainer(cfg.TrainerURL, cfg.ProjectID),
		Publisher:         publisher,
		ProjectID:         cfg.ProjectID,
		Rule:              cfg.ConsensusRule,
		UnanimityFallback: cfg.UnanimityFallback,
		MinVotes:          cfg.MinVotes,
		VoteTimeout:       cfg.VoteTimeout,
		MaxIterations:     cfg.MaxIterations,
		TrainRetries:      cfg.TrainRetries,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load persisted state and queue the first phase, then start the
	// round loop and the deadline sweeper.
	if err := ctrl.Start(ctx); err != nil {
		slog.Error("controller start failed", "error", err)
		os.Exit(1)
	}
	go ctrl.Run(ctx)
	go scheduler.New(logger, ctrl, cfg.TickInterval).Run(ctx)

	// Create server
	mux := router.NewRouter(ctrl, store, reg, cfg)
	server := http.Server{
		Handler: middleware.CORS(mux),
		Addr:    ":" + strconv.Itoa(cfg.Port),
	}

	// signal.Notify requires the channel to be buffered
	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)
	go func() {
		// Wait for Ctrl-C signal
		<-ctrlc
		cancel()
		server.Close()
	}()

	// Start server
	slog.Info("Listening", "port", cfg.Port, "project_id", cfg.ProjectID, "rule", cfg.ConsensusRule)
	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		slog.Error("Server closed", "error", err)
	} else {
		slog.Info("Server closed", "error", err)
	}
}
