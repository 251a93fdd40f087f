// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package rounds

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sethvargo/go-retry"

	"github.com/labelmesh/labelrounds/consensus"
	"github.com/labelmesh/labelrounds/db"
	"github.com/labelmesh/labelrounds/models"
	"github.com/labelmesh/labelrounds/registry"
	"github.com/labelmesh/labelrounds/session"
)

var (
	ErrProjectEnded = errors.New("project has ended")
	ErrNoOpenBatch  = errors.New("no open voting batch")
)

// Controller phases.
const (
	StateAwaitingBatch = "awaiting_batch"
	StateVoting        = "voting"
	StateTraining      = "training"
	StateEnded         = "ended"
)

// Trainer is the external model-training service. Train receives the
// labeled set of the round that just completed (nil on the bootstrap
// call at project start) and returns the updated model reference plus
// the samples the model wants labeled next.
type Trainer interface {
	Train(ctx context.Context, labeled []models.LabeledSample) (models.TrainResult, error)
}

// Publisher archives the final result bundle when the project ends and
// returns a content reference for it.
type Publisher interface {
	Publish(ctx context.Context, bundle models.ResultBundle) (string, error)
}

// Events receives outbound lifecycle notifications. The default
// implementation logs them.
type Events interface {
	RoundAdvanced(round uint64)
	ProjectEnded(reason string)
}

// Options configures a Controller.
type Options struct {
	Logger    *slog.Logger
	Store     *db.Store
	Registry  *registry.Registry
	Trainer   Trainer
	Publisher Publisher
	Events    Events

	ProjectID         string
	Rule              consensus.Rule
	UnanimityFallback bool
	MinVotes          int
	VoteTimeout       time.Duration

	// MaxIterations bounds the number of completed rounds; zero means
	// unbounded. The guard runs before a batch opens, so a project with
	// MaxIterations N never opens batch N+1.
	MaxIterations uint64

	// TrainRetries bounds training attempts per round beyond the first.
	TrainRetries uint64
}

// Controller drives the active-learning loop: open a voting batch, wait
// for it to complete, hand the labeled set to the trainer, open the next
// batch from the trainer's query set. One controller instance owns the
// whole project lifecycle.
//
// Phase transitions are serialized through the Run goroutine; HTTP
// handlers only submit votes, raise signals, and read views.
type Controller struct {
	logger    *slog.Logger
	store     *db.Store
	registry  *registry.Registry
	trainer   Trainer
	publisher Publisher
	events    Events

	projectID         string
	rule              consensus.Rule
	unanimityFallback bool
	minVotes          int
	voteTimeout       time.Duration
	maxIterations     uint64
	trainRetries      uint64

	mu           sync.Mutex
	currentRound uint64
	status       string
	endReason    string
	ctlState     string
	stalled      bool

	batch *session.Batch
	past  map[uint64]*session.Batch

	// pendingLabeled and pendingSamples carry the in-flight round data
	// across a stall so a manual kick can resume where the phase failed.
	pendingLabeled []models.LabeledSample
	pendingSamples []string

	batchDone chan struct{}
	kickCh    chan struct{}
	stopped   chan struct{}
}

func New(opts Options) *Controller {
	events := opts.Events
	if events == nil {
		events = LogEvents{Logger: opts.Logger}
	}
	return &Controller{
		logger:            opts.Logger,
		store:             opts.Store,
		registry:          opts.Registry,
		trainer:           opts.Trainer,
		publisher:         opts.Publisher,
		events:            events,
		projectID:         opts.ProjectID,
		rule:              opts.Rule,
		unanimityFallback: opts.UnanimityFallback,
		minVotes:          opts.MinVotes,
		voteTimeout:       opts.VoteTimeout,
		maxIterations:     opts.MaxIterations,
		trainRetries:      opts.TrainRetries,
		status:            models.ProjectRunning,
		ctlState:          StateAwaitingBatch,
		past:              make(map[uint64]*session.Batch),
		batchDone:         make(chan struct{}, 1),
		kickCh:            make(chan struct{}, 1),
		stopped:           make(chan struct{}),
	}
}

// Start loads persisted state and queues the first phase. A fresh project
// bootstraps with a nil labeled set; a restarted one resumes the open
// batch or re-runs training for the last completed round. Run must be
// started for the queued phase to execute.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.store.InitProject(c.projectID, string(c.rule)); err != nil {
		return err
	}
	round, status, reason, err := c.store.ProjectState()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.currentRound = round
	c.mu.Unlock()

	if status == models.ProjectEnded {
		c.mu.Lock()
		c.status = models.ProjectEnded
		c.endReason = reason
		c.ctlState = StateEnded
		c.mu.Unlock()
		close(c.stopped)
		c.logger.Info("project already ended", "reason", reason)
		return nil
	}

	pb, err := c.store.OpenBatchState()
	if err != nil {
		return err
	}
	if pb != nil {
		return c.resumeBatch(ctx, pb)
	}

	if round == 0 {
		// Fresh project: bootstrap training selects the first batch.
		c.mu.Lock()
		c.ctlState = StateTraining
		c.pendingLabeled = nil
		c.mu.Unlock()
		c.logger.Info("bootstrapping project", "project_id", c.projectID)
	} else {
		// Crashed between batch completion and the next open; re-run
		// training from the persisted labeled set.
		labeled, err := c.store.LabeledSet(round)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.ctlState = StateTraining
		c.pendingLabeled = labeled
		c.mu.Unlock()
		c.logger.Info("resuming training after restart", "round", round, "labeled", len(labeled))
	}
	c.kick()
	return nil
}

// resumeBatch rebuilds the in-memory batch from persisted rows. The
// electorate is re-snapshotted; recorded votes keep their original
// weights through session restore.
func (c *Controller) resumeBatch(ctx context.Context, pb *db.PersistedBatch) error {
	snapshot, err := c.registry.Snapshot(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(pb.Samples))
	finalized := make(map[string]session.Outcome, len(pb.Samples))
	for _, ps := range pb.Samples {
		ids = append(ids, ps.SampleID)
		if ps.State == models.SampleFinalized {
			finalized[ps.SampleID] = session.Outcome{Label: ps.FinalLabel, Reason: ps.Reason}
		}
	}

	b, err := session.Open(session.Config{
		Round:             pb.Round,
		SampleIDs:         ids,
		Voters:            snapshot,
		Rule:              c.rule,
		UnanimityFallback: c.unanimityFallback,
		MinVotes:          c.minVotes,
		OpenedAt:          pb.OpenedAt,
		Timeout:           pb.Deadline.Sub(pb.OpenedAt),
		OnComplete:        c.signalBatchDone,
		OnFinalized:       c.persistOutcome(pb.Round),
	})
	if err != nil {
		return err
	}
	b.Restore(pb.Votes, finalized)

	c.mu.Lock()
	c.batch = b
	c.ctlState = StateVoting
	c.mu.Unlock()

	c.logger.Info("resumed open batch", "round", pb.Round, "samples", len(ids), "finalized", len(finalized))

	if len(finalized) == len(pb.Samples) {
		// Every session had already finalized; finish the completion
		// that the crash interrupted.
		c.signalBatchDone()
	}
	return nil
}

// Run executes phase transitions until the context is canceled or the
// project ends. It is the only goroutine that opens batches and trains.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopped:
			return
		case <-c.batchDone:
			c.advance(ctx)
		case <-c.kickCh:
			c.resume(ctx)
		}
	}
}

// SubmitVote routes a vote to the open batch and persists it. The bool
// result reports whether this vote finalized its sample.
func (c *Controller) SubmitVote(sampleID, voter, label, ipHash string, now time.Time) (bool, error) {
	c.mu.Lock()
	if c.status == models.ProjectEnded {
		c.mu.Unlock()
		return false, ErrProjectEnded
	}
	b := c.batch
	c.mu.Unlock()
	if b == nil {
		return false, ErrNoOpenBatch
	}

	finalized, err := b.SubmitVote(sampleID, voter, label, now)
	if err != nil {
		return false, err
	}

	s, serr := b.Session(sampleID)
	if serr == nil {
		if v, ok := s.Vote(voter); ok {
			if err := c.store.RecordVote(b.Round(), v, ipHash); err != nil {
				c.logger.Error("failed to persist vote", "sample_id", sampleID, "voter", voter, "error", err)
			}
		}
	}
	return finalized, nil
}

// Tick sweeps the open batch for expired sessions. Wired to the
// scheduler; this is what unblocks rounds with absent voters.
func (c *Controller) Tick(now time.Time) int {
	c.mu.Lock()
	b := c.batch
	c.mu.Unlock()
	if b == nil {
		return 0
	}
	n := b.Tick(now)
	if n > 0 {
		c.logger.Info("deadline sweep finalized sessions", "round", b.Round(), "count", n)
	}
	return n
}

// EndProject ends the project on coordinator request. Idempotent; a
// second call reports the recorded end reason.
func (c *Controller) EndProject(ctx context.Context) string {
	c.mu.Lock()
	if c.status == models.ProjectEnded {
		reason := c.endReason
		c.mu.Unlock()
		return reason
	}
	c.mu.Unlock()

	c.end(ctx, models.EndCoordinator)
	return models.EndCoordinator
}

// StartNextRound is the coordinator override. During voting it manually
// finalizes every open session, which completes the batch and lets the
// loop advance; during a stalled training or open phase it re-runs the
// failed phase.
func (c *Controller) StartNextRound() error {
	c.mu.Lock()
	if c.status == models.ProjectEnded {
		c.mu.Unlock()
		return ErrProjectEnded
	}
	state := c.ctlState
	b := c.batch
	c.mu.Unlock()

	if state == StateVoting && b != nil {
		c.logger.Info("coordinator forced round resolution", "round", b.Round())
		b.FinalizeAll(models.ReasonManual)
		return nil
	}
	c.logger.Info("coordinator kicked stalled phase", "state", state)
	c.kick()
	return nil
}

// advance runs after a batch completes: persist completion, hand the
// labeled set to training, open the next batch. A persistence failure
// stalls the round rather than advancing on unrecorded state.
func (c *Controller) advance(ctx context.Context) {
	c.mu.Lock()
	b := c.batch
	if b == nil || c.status == models.ProjectEnded {
		c.mu.Unlock()
		return
	}
	round := b.Round()
	c.ctlState = StateTraining
	c.mu.Unlock()

	if err := c.persistRetry(ctx, func() error {
		return c.store.SetBatchState(round, models.BatchCompleted)
	}); err != nil {
		c.stall("persist batch completion", err)
		return
	}
	if err := c.persistRetry(ctx, func() error {
		return c.store.AdvanceRound(round)
	}); err != nil {
		c.stall("persist round counter", err)
		return
	}

	labeled := b.LabeledSet()
	c.mu.Lock()
	c.currentRound = round
	c.past[round] = b
	c.batch = nil
	c.pendingLabeled = labeled
	c.mu.Unlock()

	c.logger.Info("round completed", "round", round, "labeled", len(labeled))
	c.events.RoundAdvanced(round)
	c.train(ctx)
}

// resume re-runs the phase a stall left in flight.
func (c *Controller) resume(ctx context.Context) {
	c.mu.Lock()
	state := c.ctlState
	c.mu.Unlock()

	switch state {
	case StateTraining:
		c.train(ctx)
	case StateAwaitingBatch:
		c.openNext(ctx)
	}
}

func (c *Controller) train(ctx context.Context) {
	c.mu.Lock()
	labeled := c.pendingLabeled
	round := c.currentRound
	c.mu.Unlock()

	res, err := c.runTraining(ctx, round, labeled)
	if err != nil {
		c.stall("training", err)
		return
	}

	c.mu.Lock()
	c.stalled = false
	c.pendingLabeled = nil
	c.pendingSamples = dedup(res.NextSamples)
	c.ctlState = StateAwaitingBatch
	c.mu.Unlock()

	c.logger.Info("training complete", "round", round, "model_ref", res.ModelRef, "next_samples", len(res.NextSamples))
	c.openNext(ctx)
}

// runTraining calls the trainer with Fibonacci backoff and records the
// attempt in the training_run history.
func (c *Controller) runTraining(ctx context.Context, round uint64, labeled []models.LabeledSample) (models.TrainResult, error) {
	runID, err := c.store.StartTrainingRun(round, time.Now())
	if err != nil {
		c.logger.Error("failed to record training run", "round", round, "error", err)
	}

	var res models.TrainResult
	bo := retry.WithMaxRetries(c.trainRetries, retry.WithJitter(100*time.Millisecond, retry.NewFibonacci(500*time.Millisecond)))
	trainErr := retry.Do(ctx, bo, func(ctx context.Context) error {
		r, err := c.trainer.Train(ctx, labeled)
		if err != nil {
			c.logger.Warn("training attempt failed", "round", round, "error", err)
			return retry.RetryableError(err)
		}
		res = r
		return nil
	})

	if runID != "" {
		if err := c.store.FinishTrainingRun(runID, res.ModelRef, trainErr, time.Now()); err != nil {
			c.logger.Error("failed to record training result", "round", round, "error", err)
		}
	}
	return res, trainErr
}

// openNext opens the following batch, or ends the project when the
// iteration cap is hit or the trainer has no more samples to query.
func (c *Controller) openNext(ctx context.Context) {
	c.mu.Lock()
	if c.status == models.ProjectEnded {
		c.mu.Unlock()
		return
	}
	round := c.currentRound
	samples := c.pendingSamples
	c.mu.Unlock()

	if c.maxIterations > 0 && round >= c.maxIterations {
		c.end(ctx, models.EndMaxIterations)
		return
	}
	if len(samples) == 0 {
		c.end(ctx, models.EndSamplesExhausted)
		return
	}

	snapshot, err := c.registry.Snapshot(ctx)
	if err != nil {
		c.stall("registry snapshot", err)
		return
	}

	next := round + 1
	openedAt := time.Now()
	if err := c.persistRetry(ctx, func() error {
		return c.store.OpenBatch(next, samples, openedAt, openedAt.Add(c.voteTimeout))
	}); err != nil {
		c.stall("persist batch open", err)
		return
	}

	b, err := session.Open(session.Config{
		Round:             next,
		SampleIDs:         samples,
		Voters:            snapshot,
		Rule:              c.rule,
		UnanimityFallback: c.unanimityFallback,
		MinVotes:          c.minVotes,
		OpenedAt:          openedAt,
		Timeout:           c.voteTimeout,
		OnComplete:        c.signalBatchDone,
		OnFinalized:       c.persistOutcome(next),
	})
	if err != nil {
		c.stall("open batch", err)
		return
	}

	c.mu.Lock()
	c.batch = b
	c.pendingSamples = nil
	c.stalled = false
	c.ctlState = StateVoting
	c.mu.Unlock()

	c.logger.Info("batch opened", "round", next, "samples", len(samples), "voters", len(snapshot), "deadline", b.Deadline())
}

// end is terminal: it force-finalizes any open batch, persists the end
// state, and publishes the result bundle. At most one caller wins.
func (c *Controller) end(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.status == models.ProjectEnded {
		c.mu.Unlock()
		return
	}
	c.status = models.ProjectEnded
	c.endReason = reason
	c.ctlState = StateEnded
	b := c.batch
	c.batch = nil
	finalRound := c.currentRound
	if b != nil {
		c.past[b.Round()] = b
		finalRound = b.Round()
		c.currentRound = finalRound
	}
	c.mu.Unlock()

	if b != nil {
		b.FinalizeAll(models.ReasonManual)
		if err := c.store.SetBatchState(b.Round(), models.BatchCompleted); err != nil {
			c.logger.Error("failed to persist final batch state", "round", b.Round(), "error", err)
		}
		if err := c.store.AdvanceRound(b.Round()); err != nil {
			c.logger.Error("failed to persist final round", "round", b.Round(), "error", err)
		}
	}
	if err := c.store.EndProject(reason); err != nil {
		c.logger.Error("failed to persist project end", "error", err)
	}
	close(c.stopped)

	c.logger.Info("project ended", "reason", reason, "final_round", finalRound)
	c.events.ProjectEnded(reason)
	c.publish(ctx, reason, finalRound)
}

// publish sends the result bundle. Best effort; publication failure is
// logged but never blocks the end transition.
func (c *Controller) publish(ctx context.Context, reason string, finalRound uint64) {
	if c.publisher == nil {
		return
	}

	c.mu.Lock()
	rounds := make([]uint64, 0, len(c.past))
	for r := range c.past {
		rounds = append(rounds, r)
	}
	c.mu.Unlock()
	sortRounds(rounds)

	bundle := models.ResultBundle{
		ProjectID:  c.projectID,
		FinalRound: finalRound,
		EndReason:  reason,
		EndedAt:    time.Now(),
	}
	for _, r := range rounds {
		c.mu.Lock()
		b := c.past[r]
		c.mu.Unlock()
		bundle.Samples = append(bundle.Samples, b.Records()...)
	}

	ref, err := c.publisher.Publish(ctx, bundle)
	if err != nil {
		c.logger.Error("failed to publish result bundle", "error", err)
		return
	}
	c.logger.Info("result bundle published", "ref", ref, "samples", len(bundle.Samples))
}

// persistRetry retries an advancement-gating store write with bounded
// exponential backoff before the round is held for a manual kick.
func (c *Controller) persistRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func (c *Controller) stall(phase string, err error) {
	c.mu.Lock()
	c.stalled = true
	c.mu.Unlock()
	c.logger.Error("round held pending manual kick", "phase", phase, "error", err)
}

func (c *Controller) kick() {
	select {
	case c.kickCh <- struct{}{}:
	default:
	}
}

func (c *Controller) signalBatchDone() {
	select {
	case c.batchDone <- struct{}{}:
	default:
	}
}

// persistOutcome is the write-through hook for session finalization. It
// runs on the vote and tick paths, so the retry budget is kept short.
func (c *Controller) persistOutcome(round uint64) func(string, session.Outcome) {
	return func(sampleID string, out session.Outcome) {
		at := time.Now()
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 50 * time.Millisecond
		bo.MaxElapsedTime = 2 * time.Second
		err := backoff.Retry(func() error {
			return c.store.FinalizeSample(round, sampleID, out.Label, out.Reason, at)
		}, bo)
		if err != nil {
			c.logger.Error("failed to persist sample outcome", "round", round, "sample_id", sampleID, "error", err)
		}
	}
}

// Views

// Status reports the project and current batch state. The caller fills
// presentation fields such as relative times.
func (c *Controller) Status() models.StatusResponse {
	c.mu.Lock()
	resp := models.StatusResponse{
		ProjectID:       c.projectID,
		Status:          c.status,
		EndReason:       c.endReason,
		CurrentRound:    c.currentRound,
		MaxIterations:   c.maxIterations,
		ControllerState: c.ctlState,
		Stalled:         c.stalled,
	}
	b := c.batch
	c.mu.Unlock()

	if b != nil {
		resp.Batch = &models.BatchStatus{
			Round:    b.Round(),
			State:    b.State(),
			OpenedAt: b.OpenedAt(),
			Deadline: b.Deadline(),
			Samples:  b.Summaries(),
		}
	}
	return resp
}

// Sample finds a voting session by sample ID, searching the open batch
// first and then past rounds newest-first.
func (c *Controller) Sample(sampleID string) (*session.SampleSession, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.batch != nil {
		if s, err := c.batch.Session(sampleID); err == nil {
			return s, c.batch.Round(), nil
		}
	}
	rounds := make([]uint64, 0, len(c.past))
	for r := range c.past {
		rounds = append(rounds, r)
	}
	sortRounds(rounds)
	for i := len(rounds) - 1; i >= 0; i-- {
		if s, err := c.past[rounds[i]].Session(sampleID); err == nil {
			return s, rounds[i], nil
		}
	}
	return nil, 0, session.ErrUnknownSample
}

func sortRounds(rs []uint64) {
	sort.Slice(rs, func(i, j int) bool { return rs[i] < rs[j] })
}

func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
