package domain

// OutcomeKind enumerates per-feed results of a cycle
type OutcomeKind int

const (
	// OutcomeNewEntry reports one new entry, never terminal
	OutcomeNewEntry OutcomeKind = iota
	// OutcomeSuccess is terminal and carries the updated seen-set
	OutcomeSuccess
	// OutcomeFailure is terminal and carries the error
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNewEntry:
		return "article"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is a single result produced while processing one feed
type Outcome struct {
	Kind        OutcomeKind
	FeedID      string
	SourceURI   string
	Entry       *Entry  // set for OutcomeNewEntry
	SeenEntries []Entry // set for OutcomeSuccess
	Err         error   // set for OutcomeFailure
}

// Terminal reports whether the outcome closes processing of its feed for the cycle
func (o Outcome) Terminal() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeFailure
}
