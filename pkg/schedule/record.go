package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/synzen/feedtracker/pkg/domain"
)

// Record is a polled feed together with the entries already seen in it.
// The seen-set is replaced only by the owning Schedule after a successful cycle for the feed.
type Record struct {
	id        string
	sourceURI string
	options   domain.FeedOptions

	mu          sync.RWMutex
	seen        []domain.Entry
	initialized bool
}

// NewRecord makes an uninitialized record for the given source
func NewRecord(sourceURI string, opts domain.FeedOptions) (*Record, error) {
	if sourceURI == "" {
		return nil, fmt.Errorf("%w: empty feed source", domain.ErrConfiguration)
	}
	return &Record{id: uuid.NewString(), sourceURI: sourceURI, options: opts}, nil
}

// ID returns the record id, unique within a Schedule
func (r *Record) ID() string { return r.id }

// SourceURI returns the polled location
func (r *Record) SourceURI() string { return r.sourceURI }

// Options returns the feed options
func (r *Record) Options() domain.FeedOptions { return r.options }

// Initialized reports whether the record got its initial seen-set
func (r *Record) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Initialize fetches the feed once and marks everything in it as seen, so nothing
// already published is reported as new. Calling it again on an initialized record does nothing.
func (r *Record) Initialize(ctx context.Context, fetcher Fetcher) error {
	if r.Initialized() {
		return nil
	}
	entries, err := fetcher.Fetch(ctx, r.sourceURI, r.options.Fetch)
	if err != nil {
		var fe *domain.FetchError
		if !errors.As(err, &fe) {
			err = &domain.FetchError{SourceURI: r.sourceURI, Err: err}
		}
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = entries
	r.initialized = true
	return nil
}

// Restore seeds the seen-set from a persisted snapshot instead of fetching
func (r *Record) Restore(entries []domain.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append([]domain.Entry(nil), entries...)
	r.initialized = true
}

// SeenEntries returns a copy of the seen-set
func (r *Record) SeenEntries() []domain.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Entry(nil), r.seen...)
}

// Snapshot returns the serializable projection handed to strategies and workers
func (r *Record) Snapshot() domain.FeedSnapshot {
	return domain.FeedSnapshot{
		ID:          r.id,
		SourceURI:   r.sourceURI,
		Options:     r.options,
		SeenEntries: r.SeenEntries(),
	}
}

func (r *Record) seenCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.seen)
}

// applySuccess replaces the seen-set with the one from a terminal success outcome
func (r *Record) applySuccess(entries []domain.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = entries
}
