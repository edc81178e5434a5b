package schedule

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/synzen/feedtracker/pkg/domain"
	"github.com/synzen/feedtracker/pkg/novelty"
)

// Job is the work of a single cycle handed to a strategy
type Job struct {
	Batches [][]domain.FeedSnapshot
	Fetcher Fetcher
	Now     func() time.Time
}

// Strategy executes batches. Dispatch must write exactly one terminal outcome (success or failure)
// for every feed of every batch and return only once all of them were written.
type Strategy interface {
	Name() string
	Dispatch(ctx context.Context, job Job, out chan<- domain.Outcome)
}

// Concurrent runs batches one after another in-process, feeds of a batch are fetched concurrently
type Concurrent struct {
	MaxConcurrent int // limit of parallel fetches within a batch, 0 means the whole batch at once
}

// Name returns strategy name
func (c *Concurrent) Name() string { return "concurrent" }

// Dispatch processes the batches sequentially
func (c *Concurrent) Dispatch(ctx context.Context, job Job, out chan<- domain.Outcome) {
	emit := func(o domain.Outcome) error {
		out <- o
		return nil
	}
	for _, batch := range job.Batches {
		var g errgroup.Group
		if c.MaxConcurrent > 0 {
			g.SetLimit(c.MaxConcurrent)
		}
		for _, snap := range batch {
			g.Go(func() error {
				return processFeed(ctx, job.Fetcher, snap, job.Now(), emit)
			})
		}
		_ = g.Wait() // emit never fails here
	}
}

// processFeed fetches a single feed and emits its outcomes, the last one is always terminal.
// It returns only emit errors.
func processFeed(ctx context.Context, fetcher Fetcher, snap domain.FeedSnapshot, now time.Time, emit func(domain.Outcome) error) error {
	entries, err := fetcher.Fetch(ctx, snap.SourceURI, snap.Options.Fetch)
	if err != nil {
		var fe *domain.FetchError
		if !errors.As(err, &fe) {
			err = &domain.FetchError{SourceURI: snap.SourceURI, Err: err}
		}
		return emit(domain.Outcome{Kind: domain.OutcomeFailure, FeedID: snap.ID, SourceURI: snap.SourceURI, Err: err})
	}
	for o := range novelty.Evaluate(snap, entries, now) {
		if err := emit(o); err != nil {
			return err
		}
	}
	return nil
}
