// Package novelty decides which freshly fetched entries of a feed are new.
//
// Evaluate is a pure function of the feed snapshot, the fetched entries and the current time.
// It yields a NewEntry outcome for every new entry, oldest first, followed by exactly one
// Success outcome with the updated seen-set. The seen-set only grows: every fetched entry with
// an unknown identity is appended to it regardless of how it was classified.
package novelty

import (
	"fmt"
	"iter"
	"time"

	"github.com/synzen/feedtracker/pkg/domain"
)

// DateCutoff is how old a dated entry may be before it is assumed seen
const DateCutoff = 24 * time.Hour

// excludedComparisons can't be used as custom comparisons, they are covered by built-in checks
var excludedComparisons = map[string]bool{
	"":          true,
	"id":        true,
	"guid":      true,
	"title":     true,
	"pubdate":   true,
	"pubDate":   true,
	"published": true,
}

// missingValue is the comparison key used for entries without the compared field
const missingValue = "\x00missing"

// Evaluate classifies fresh entries of a single feed against its seen-set.
// Fresh entries are expected in document order (newest first), they are reported oldest first.
func Evaluate(feed domain.FeedSnapshot, fresh []domain.Entry, now time.Time) iter.Seq[domain.Outcome] {
	return func(yield func(domain.Outcome) bool) {
		res := classify(feed, fresh, now)
		for i := range res.newEntries {
			o := domain.Outcome{Kind: domain.OutcomeNewEntry, FeedID: feed.ID, SourceURI: feed.SourceURI, Entry: &res.newEntries[i]}
			if !yield(o) {
				return
			}
		}
		yield(domain.Outcome{Kind: domain.OutcomeSuccess, FeedID: feed.ID, SourceURI: feed.SourceURI, SeenEntries: res.seen})
	}
}

type result struct {
	newEntries []domain.Entry
	seen       []domain.Entry
}

func classify(feed domain.FeedSnapshot, fresh []domain.Entry, now time.Time) result {
	opts := feed.Options
	knownIDs := make(map[string]struct{}, len(feed.SeenEntries))
	knownTitles := make(map[string]struct{}, len(feed.SeenEntries))
	comparisons := customComparisons(opts.CustomComparisons)
	priorValues := make(map[string]map[string]struct{}, len(comparisons))

	for _, s := range feed.SeenEntries {
		knownIDs[s.ID] = struct{}{}
		knownTitles[s.Title] = struct{}{}
		for _, name := range comparisons {
			key, ok := scalarKey(s, name)
			if !ok {
				continue
			}
			if priorValues[name] == nil {
				priorValues[name] = map[string]struct{}{}
			}
			priorValues[name][key] = struct{}{}
		}
	}

	seen := make([]domain.Entry, len(feed.SeenEntries), len(feed.SeenEntries)+len(fresh))
	copy(seen, feed.SeenEntries)
	for _, e := range fresh {
		if _, ok := knownIDs[e.ID]; !ok {
			seen = append(seen, e)
		}
	}

	cutoff := now.Add(-DateCutoff)
	backlog := len(knownIDs) == 0 && len(fresh) > 1

	res := result{seen: seen}
	for i := len(fresh) - 1; i >= 0; i-- {
		e := fresh[i]
		isSeen := backlog || isKnown(e, knownIDs, knownTitles, opts, cutoff)
		if isSeen && !novelComparison(e, comparisons, priorValues) {
			continue
		}
		res.newEntries = append(res.newEntries, e)
	}
	return res
}

// isKnown applies the built-in checks: identity, optional title and optional date cutoff
func isKnown(e domain.Entry, ids, titles map[string]struct{}, opts domain.FeedOptions, cutoff time.Time) bool {
	if _, ok := ids[e.ID]; ok {
		return true
	}
	if opts.CheckTitles {
		if _, ok := titles[e.Title]; ok {
			return true
		}
	}
	if opts.DateChecks() && e.HasValidDate() && e.Published.Before(cutoff) {
		return true
	}
	return false
}

// novelComparison reports whether any custom comparison field of e holds a value never recorded before.
// Fields without recorded values are ignored.
func novelComparison(e domain.Entry, comparisons []string, prior map[string]map[string]struct{}) bool {
	for _, name := range comparisons {
		values, ok := prior[name]
		if !ok {
			continue
		}
		key, _ := scalarKey(e, name)
		if _, found := values[key]; !found {
			return true
		}
	}
	return false
}

func customComparisons(names []string) []string {
	res := make([]string, 0, len(names))
	for _, n := range names {
		if !excludedComparisons[n] {
			res = append(res, n)
		}
	}
	return res
}

// scalarKey returns the comparable form of a field value. Objects, lists and explicit nulls
// are not comparable and give false; an absent field is keyed as missingValue.
func scalarKey(e domain.Entry, name string) (string, bool) {
	v, ok := e.Field(name)
	if !ok {
		return missingValue, true
	}
	switch v.(type) {
	case nil, map[string]any, []any, []string:
		return "", false
	}
	return fmt.Sprint(v), true
}
