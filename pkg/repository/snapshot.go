package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/synzen/feedtracker/pkg/domain"
)

// SnapshotRepository stores the seen-set of every feed, keyed by schedule and source
type SnapshotRepository struct {
	db *sqlx.DB
}

// snapshotSQL represents a snapshot row for SQL operations
type snapshotSQL struct {
	Schedule   string     `db:"schedule"`
	SourceURI  string     `db:"source_uri"`
	Entries    entriesSQL `db:"entries"`
	EntryCount int        `db:"entry_count"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

// SnapshotInfo describes a stored snapshot without its entries
type SnapshotInfo struct {
	Schedule   string    `json:"schedule"`
	SourceURI  string    `json:"source_uri"`
	EntryCount int       `json:"entry_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// entriesSQL is a JSON array of entries for SQL operations
type entriesSQL []domain.Entry

// Value implements driver.Valuer for database storage
func (e entriesSQL) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]domain.Entry(e))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database retrieval
func (e *entriesSQL) Scan(value any) error {
	if value == nil {
		*e = entriesSQL{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unexpected entries type %T", value)
	}

	return json.Unmarshal(data, (*[]domain.Entry)(e))
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(database *sqlx.DB) *SnapshotRepository {
	return &SnapshotRepository{db: database}
}

// SaveSnapshot replaces the stored seen-set of a feed
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, schedule, sourceURI string, entries []domain.Entry) error {
	row := snapshotSQL{Schedule: schedule, SourceURI: sourceURI, Entries: entries, EntryCount: len(entries)}
	query := `
		INSERT INTO snapshots (schedule, source_uri, entries, entry_count, updated_at)
		VALUES (:schedule, :source_uri, :entries, :entry_count, CURRENT_TIMESTAMP)
		ON CONFLICT (schedule, source_uri) DO UPDATE SET
			entries = excluded.entries,
			entry_count = excluded.entry_count,
			updated_at = CURRENT_TIMESTAMP
	`
	err := retryLocked(ctx, func() error {
		_, err := r.db.NamedExecContext(ctx, query, row)
		return err
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s/%s: %w", schedule, sourceURI, err)
	}
	return nil
}

// LoadSnapshot returns the stored seen-set of a feed, found is false if there is none
func (r *SnapshotRepository) LoadSnapshot(ctx context.Context, schedule, sourceURI string) (entries []domain.Entry, found bool, err error) {
	var row snapshotSQL
	err = r.db.GetContext(ctx, &row,
		"SELECT * FROM snapshots WHERE schedule = ? AND source_uri = ?", schedule, sourceURI)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot %s/%s: %w", schedule, sourceURI, err)
	}
	return []domain.Entry(row.Entries), true, nil
}

// ListSnapshots returns stored snapshots of a schedule, all schedules if empty
func (r *SnapshotRepository) ListSnapshots(ctx context.Context, schedule string) ([]SnapshotInfo, error) {
	query := "SELECT schedule, source_uri, entry_count, updated_at FROM snapshots"
	args := []any{}
	if schedule != "" {
		query += " WHERE schedule = ?"
		args = append(args, schedule)
	}
	query += " ORDER BY schedule, source_uri"

	var rows []snapshotSQL
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	res := make([]SnapshotInfo, 0, len(rows))
	for _, row := range rows {
		res = append(res, SnapshotInfo{Schedule: row.Schedule, SourceURI: row.SourceURI,
			EntryCount: row.EntryCount, UpdatedAt: row.UpdatedAt})
	}
	return res, nil
}

// DeleteSnapshot removes the stored seen-set of a feed
func (r *SnapshotRepository) DeleteSnapshot(ctx context.Context, schedule, sourceURI string) error {
	err := retryLocked(ctx, func() error {
		_, err := r.db.ExecContext(ctx, "DELETE FROM snapshots WHERE schedule = ? AND source_uri = ?", schedule, sourceURI)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete snapshot %s/%s: %w", schedule, sourceURI, err)
	}
	return nil
}
