package schedule

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/synzen/feedtracker/pkg/domain"
	"github.com/synzen/feedtracker/pkg/metrics"
)

// isolated strategy defaults
const (
	DefaultWorkerConcurrency = 2
	DefaultPerFeedTimeout    = 30 * time.Second
	maxWorkerLine            = 64 * 1024 * 1024
)

// Isolated runs every batch in its own worker process, at most Concurrency of them at once.
// The worker is started as Command with Args and speaks the RunWorker protocol.
// A worker that exits early or misses its deadline fails all its unfinished feeds with domain.ErrWorkerFault.
type Isolated struct {
	Command        string
	Args           []string
	Env            []string // extra environment, added to the current one
	Concurrency    int
	PerFeedTimeout time.Duration // batch deadline is len(batch) * PerFeedTimeout
}

// NewIsolated makes an isolated strategy running the current executable with the given args
func NewIsolated(concurrency int, perFeedTimeout time.Duration, args ...string) (*Isolated, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("can't locate executable for workers: %w", err)
	}
	return &Isolated{Command: exe, Args: args, Concurrency: concurrency, PerFeedTimeout: perFeedTimeout}, nil
}

// Name returns strategy name
func (s *Isolated) Name() string { return "isolated" }

// Dispatch starts workers for all batches, bounded by Concurrency
func (s *Isolated) Dispatch(ctx context.Context, job Job, out chan<- domain.Outcome) {
	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultWorkerConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, batch := range job.Batches {
		g.Go(func() error {
			s.runBatch(ctx, i, batch, out)
			return nil
		})
	}
	_ = g.Wait()
}

// runBatch runs a single worker. All feeds of the batch get a terminal outcome.
func (s *Isolated) runBatch(ctx context.Context, idx int, batch []domain.FeedSnapshot, out chan<- domain.Outcome) {
	pending := make(map[string]domain.FeedSnapshot, len(batch))
	for _, snap := range batch {
		pending[snap.ID] = snap
	}

	perFeed := s.PerFeedTimeout
	if perFeed <= 0 {
		perFeed = DefaultPerFeedTimeout
	}
	bctx, cancel := context.WithTimeout(ctx, time.Duration(len(batch))*perFeed)
	defer cancel()

	reason := s.exchange(bctx, idx, batch, pending, out)
	if len(pending) == 0 {
		return
	}
	if bctx.Err() != nil {
		reason = fmt.Errorf("batch %d: %w", idx, bctx.Err())
	}
	lgr.Printf("[WARN] worker for batch %d failed with %d unfinished feeds: %v", idx, len(pending), reason)
	metrics.ObserveWorkerFault()
	for _, snap := range batch {
		if _, ok := pending[snap.ID]; !ok {
			continue
		}
		out <- domain.Outcome{Kind: domain.OutcomeFailure, FeedID: snap.ID, SourceURI: snap.SourceURI,
			Err: fmt.Errorf("%w: %v", domain.ErrWorkerFault, reason)}
	}
}

// exchange starts the worker, sends the batch and forwards its messages until the batch is drained.
// Terminal outcomes remove feeds from pending. The returned error describes why the worker stopped early.
func (s *Isolated) exchange(ctx context.Context, idx int, batch []domain.FeedSnapshot, pending map[string]domain.FeedSnapshot,
	out chan<- domain.Outcome) error {
	cmd := exec.CommandContext(ctx, s.Command, s.Args...) // #nosec G204 - command is our own executable
	cmd.Stderr = os.Stderr
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err = cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()
	lgr.Printf("[DEBUG] worker %d started for batch %d with %d feeds", cmd.Process.Pid, idx, len(batch))

	go func() {
		defer stdin.Close()
		if encErr := json.NewEncoder(stdin).Encode(workerRequest{Batch: batch}); encErr != nil {
			lgr.Printf("[WARN] failed to send batch %d to worker: %v", idx, encErr)
		}
	}()

	drained := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxWorkerLine)
	for scanner.Scan() {
		var msg workerMessage
		if err = json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			lgr.Printf("[WARN] malformed message from worker of batch %d: %v", idx, err)
			continue
		}
		if msg.Status == statusBatchConnected {
			drained = true
			break
		}
		if _, ok := pending[msg.FeedID]; !ok {
			lgr.Printf("[DEBUG] worker of batch %d reported unknown or finished feed %q", idx, msg.FeedID)
			continue
		}
		o, ok := msg.toOutcome()
		if !ok {
			lgr.Printf("[WARN] unexpected message status %q from worker of batch %d", msg.Status, idx)
			continue
		}
		if o.Terminal() {
			delete(pending, msg.FeedID)
		}
		out <- o
	}
	scanErr := scanner.Err()

	if drained {
		// worker is done with the batch, no need to wait for a graceful exit
		if killErr := cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			lgr.Printf("[DEBUG] kill worker %d: %v", cmd.Process.Pid, killErr)
		}
		_ = cmd.Wait()
		if len(pending) > 0 {
			return errors.New("worker drained batch without reporting all feeds")
		}
		return nil
	}

	waitErr := cmd.Wait()
	switch {
	case scanErr != nil:
		return fmt.Errorf("read worker output: %w", scanErr)
	case waitErr != nil:
		return fmt.Errorf("worker exited: %w", waitErr)
	default:
		return errors.New("worker exited before completing batch")
	}
}
