package repository

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/synzen/feedtracker/pkg/domain"
)

const defaultArticleLimit = 50

// ArticleRepository keeps a log of emitted articles
type ArticleRepository struct {
	db *sqlx.DB
}

// StoredArticle is an emitted article with its origin
type StoredArticle struct {
	ID        int64          `json:"id"`
	Schedule  string         `json:"schedule"`
	SourceURI string         `json:"source_uri"`
	Article   domain.Article `json:"article"`
	CreatedAt time.Time      `json:"created_at"`
}

// ArticleFilter narrows down Recent results
type ArticleFilter struct {
	Schedule  string
	SourceURI string
	Limit     int
}

// articleSQL represents an article row for SQL operations
type articleSQL struct {
	ID        int64      `db:"id"`
	Schedule  string     `db:"schedule"`
	SourceURI string     `db:"source_uri"`
	ArticleID string     `db:"article_id"`
	Title     string     `db:"title"`
	Link      string     `db:"link"`
	Published *time.Time `db:"published"`
	Payload   payloadSQL `db:"payload"`
	CreatedAt time.Time  `db:"created_at"`
}

// payloadSQL is the whole article as JSON for SQL operations
type payloadSQL domain.Article

// Value implements driver.Valuer for database storage
func (p payloadSQL) Value() (driver.Value, error) {
	b, err := json.Marshal(domain.Article(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database retrieval
func (p *payloadSQL) Scan(value any) error {
	if value == nil {
		*p = payloadSQL{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unexpected payload type %T", value)
	}

	return json.Unmarshal(data, (*domain.Article)(p))
}

// NewArticleRepository creates a new article repository
func NewArticleRepository(database *sqlx.DB) *ArticleRepository {
	return &ArticleRepository{db: database}
}

// SaveArticle appends an article to the log. An article already logged for the same
// schedule and source is ignored.
func (r *ArticleRepository) SaveArticle(ctx context.Context, schedule, sourceURI string, a domain.Article) error {
	row := articleSQL{
		Schedule:  schedule,
		SourceURI: sourceURI,
		ArticleID: a.ID,
		Title:     a.Title,
		Link:      a.Link,
		Payload:   payloadSQL(a),
	}
	if !a.RawDate.IsZero() {
		published := a.RawDate.UTC()
		row.Published = &published
	}

	query := `
		INSERT OR IGNORE INTO articles (schedule, source_uri, article_id, title, link, published, payload)
		VALUES (:schedule, :source_uri, :article_id, :title, :link, :published, :payload)
	`
	err := retryLocked(ctx, func() error {
		_, err := r.db.NamedExecContext(ctx, query, row)
		return err
	})
	if err != nil {
		return fmt.Errorf("save article %s from %s: %w", a.ID, sourceURI, err)
	}
	return nil
}

// Recent returns the latest logged articles, newest first
func (r *ArticleRepository) Recent(ctx context.Context, filter ArticleFilter) ([]StoredArticle, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultArticleLimit
	}
	query := "SELECT * FROM articles WHERE 1=1"
	args := []any{}
	if filter.Schedule != "" {
		query += " AND schedule = ?"
		args = append(args, filter.Schedule)
	}
	if filter.SourceURI != "" {
		query += " AND source_uri = ?"
		args = append(args, filter.SourceURI)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.Limit)

	var rows []articleSQL
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("get recent articles: %w", err)
	}
	res := make([]StoredArticle, 0, len(rows))
	for _, row := range rows {
		res = append(res, StoredArticle{
			ID:        row.ID,
			Schedule:  row.Schedule,
			SourceURI: row.SourceURI,
			Article:   domain.Article(row.Payload),
			CreatedAt: row.CreatedAt,
		})
	}
	return res, nil
}

// Prune drops articles older than the given age, returns the number removed
func (r *ArticleRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	var removed int64
	err := retryLocked(ctx, func() error {
		res, err := r.db.ExecContext(ctx, "DELETE FROM articles WHERE created_at < datetime('now', ?)",
			fmt.Sprintf("-%d seconds", int64(olderThan.Seconds())))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune articles: %w", err)
	}
	return removed, nil
}
