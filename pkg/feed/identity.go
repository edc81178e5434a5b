package feed

import (
	"time"

	"github.com/synzen/feedtracker/pkg/domain"
)

// IdentityOf derives the stable identity of an entry: guid, then title, then the raw publication time.
// Entries without any of these get an empty identity.
func IdentityOf(e domain.Entry) string {
	if e.GUID != "" {
		return e.GUID
	}
	if e.Title != "" {
		return e.Title
	}
	if e.HasValidDate() {
		return e.Published.UTC().Format(time.RFC3339Nano)
	}
	return ""
}
