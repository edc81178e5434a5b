package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/synzen/feedtracker/pkg/domain"
)

// message statuses of the worker protocol
const (
	statusArticle        = "article"
	statusSuccess        = "success"
	statusFailed         = "failed"
	statusBatchConnected = "batch_connected"
)

// workerRequest is written to the worker's stdin as a single json document
type workerRequest struct {
	Batch []domain.FeedSnapshot `json:"batch"`
}

// workerMessage is one json line written by the worker to stdout
type workerMessage struct {
	Status       string         `json:"status"`
	FeedID       string         `json:"feedId,omitempty"`
	SourceURI    string         `json:"sourceURI,omitempty"`
	Article      *domain.Entry  `json:"article,omitempty"`
	SeenEntries  []domain.Entry `json:"seenEntries,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// RunWorker is the child side of the Isolated strategy. It reads one batch from in, processes
// its feeds sequentially and writes outcomes to out as json lines, followed by the
// batch_connected message once every feed reached a terminal outcome.
// Nothing else may be written to out, logs go to stderr.
func RunWorker(ctx context.Context, in io.Reader, out io.Writer, fetcher Fetcher, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	var req workerRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decode batch: %w", err)
	}

	enc := json.NewEncoder(out)
	emit := func(o domain.Outcome) error {
		if err := enc.Encode(toMessage(o)); err != nil {
			return fmt.Errorf("write %s message for %s: %w", o.Kind, o.SourceURI, err)
		}
		return nil
	}
	for _, snap := range req.Batch {
		if err := processFeed(ctx, fetcher, snap, now(), emit); err != nil {
			return err
		}
	}
	if err := enc.Encode(workerMessage{Status: statusBatchConnected}); err != nil {
		return fmt.Errorf("write batch completion: %w", err)
	}
	return nil
}

func toMessage(o domain.Outcome) workerMessage {
	msg := workerMessage{Status: o.Kind.String(), FeedID: o.FeedID, SourceURI: o.SourceURI}
	switch o.Kind {
	case domain.OutcomeNewEntry:
		msg.Article = o.Entry
	case domain.OutcomeSuccess:
		msg.SeenEntries = o.SeenEntries
		if msg.SeenEntries == nil {
			msg.SeenEntries = []domain.Entry{}
		}
	case domain.OutcomeFailure:
		// the parent wraps it into a FetchError again, keep only the cause
		err := o.Err
		var fe *domain.FetchError
		if errors.As(err, &fe) {
			err = fe.Err
		}
		if err != nil {
			msg.ErrorMessage = err.Error()
		}
	}
	return msg
}

// toOutcome converts a worker message back to an outcome, ok is false for unknown statuses
func (m workerMessage) toOutcome() (o domain.Outcome, ok bool) {
	o = domain.Outcome{FeedID: m.FeedID, SourceURI: m.SourceURI}
	switch m.Status {
	case statusArticle:
		if m.Article == nil {
			return o, false
		}
		o.Kind, o.Entry = domain.OutcomeNewEntry, m.Article
	case statusSuccess:
		o.Kind, o.SeenEntries = domain.OutcomeSuccess, m.SeenEntries
		if o.SeenEntries == nil {
			o.SeenEntries = []domain.Entry{}
		}
	case statusFailed:
		o.Kind = domain.OutcomeFailure
		o.Err = &domain.FetchError{SourceURI: m.SourceURI, Err: errors.New(m.ErrorMessage)}
	default:
		return o, false
	}
	return o, true
}
