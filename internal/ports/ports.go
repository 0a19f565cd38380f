package ports

import (
	"context"
	"time"

	"rssdigest/internal/domain"
)

// ArticleSource pulls recent articles from the configured feeds. A feed that
// cannot be fetched contributes zero articles; total failure yields an empty
// slice, never an error.
type ArticleSource interface {
	FetchRecent(ctx context.Context, now time.Time, days int) []domain.Article
}

// DigestGenerator produces a digest body from the full article set in a
// single provider call.
type DigestGenerator interface {
	GenerateDigest(ctx context.Context, articles []domain.Article, dateRange string) (domain.DigestResult, error)
}

// DigestDeliverer sends the rendered digest and writes local HTML backups.
type DigestDeliverer interface {
	SendDigest(ctx context.Context, digestHTML, dateRange string, articleCount int) error
	SaveDigestHTML(digestHTML, dateRange string, now time.Time) (string, error)
}

// ArticleStore persists fetched articles for the stage-restricted variant.
// The canonical stateless run never touches it.
type ArticleStore interface {
	Record(ctx context.Context, articles []domain.Article) (int, error)
	Unprocessed(ctx context.Context) ([]domain.Article, error)
	MarkProcessed(ctx context.Context, links []string) error
	UnsentProcessed(ctx context.Context) ([]domain.Article, error)
	MarkSent(ctx context.Context, links []string, sentAt time.Time) error
}
