package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"rssdigest/internal/domain"
	"rssdigest/internal/ports"
)

// PostgresStore persists fetched articles for the stage-restricted variant.
// Articles are keyed by link; re-recording an already known link is a no-op.
type PostgresStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.ArticleStore = (*PostgresStore)(nil)

// Open connects to Postgres with the lib/pq driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Record inserts fetched articles, skipping links already present, and
// returns the number of newly stored rows.
func (s *PostgresStore) Record(ctx context.Context, articles []domain.Article) (int, error) {
	if s.db == nil || len(articles) == 0 {
		return 0, nil
	}

	stored := 0
	for _, a := range articles {
		query, args, err := s.builder.
			Insert("articles").
			Columns("link", "title", "description", "source", "published", "processed").
			Values(a.Link, a.Title, a.Description, a.Source, a.Published, false).
			Suffix("ON CONFLICT (link) DO NOTHING").
			ToSql()
		if err != nil {
			return stored, fmt.Errorf("build insert: %w", err)
		}

		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return stored, fmt.Errorf("insert article %s: %w", a.Link, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			stored++
		}
	}

	return stored, nil
}

// Unprocessed returns recorded articles not yet marked processed, oldest
// first.
func (s *PostgresStore) Unprocessed(ctx context.Context) ([]domain.Article, error) {
	query, args, err := s.builder.
		Select("link", "title", "description", "source", "published").
		From("articles").
		Where(sq.Eq{"processed": false}).
		OrderBy("published ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	return s.queryArticles(ctx, query, args)
}

// MarkProcessed flags the given links as processed.
func (s *PostgresStore) MarkProcessed(ctx context.Context, links []string) error {
	if s.db == nil || len(links) == 0 {
		return nil
	}

	query, args, err := s.builder.
		Update("articles").
		Set("processed", true).
		Where(sq.Expr("link = ANY(?)", pq.StringArray(links))).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// UnsentProcessed returns processed articles not yet included in a sent
// digest, oldest first.
func (s *PostgresStore) UnsentProcessed(ctx context.Context) ([]domain.Article, error) {
	query, args, err := s.builder.
		Select("link", "title", "description", "source", "published").
		From("articles").
		Where(sq.Eq{"processed": true}).
		Where(sq.Eq{"sent_at": nil}).
		OrderBy("published ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	return s.queryArticles(ctx, query, args)
}

// MarkSent records the digest date for the given links.
func (s *PostgresStore) MarkSent(ctx context.Context, links []string, sentAt time.Time) error {
	if s.db == nil || len(links) == 0 {
		return nil
	}

	query, args, err := s.builder.
		Update("articles").
		Set("sent_at", sentAt).
		Where(sq.Expr("link = ANY(?)", pq.StringArray(links))).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryArticles(ctx context.Context, query string, args []any) ([]domain.Article, error) {
	if s.db == nil {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var articles []domain.Article
	for rows.Next() {
		var a domain.Article
		if err := rows.Scan(&a.Link, &a.Title, &a.Description, &a.Source, &a.Published); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return articles, nil
}
