package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"rssdigest/internal/config"
	"rssdigest/internal/domain"
	"rssdigest/internal/ports"
)

// Reader retrieves RSS/Atom feeds and normalizes entries within the
// lookback window. Feeds are fetched one at a time in configured order; a
// failing feed is logged and skipped, never aborting the batch.
type Reader struct {
	feeds  []config.FeedConfig
	parser *gofeed.Parser
	client *http.Client
	logger *slog.Logger
}

var _ ports.ArticleSource = (*Reader)(nil)

// NewReader wires the configured feeds with an HTTP client.
func NewReader(feeds []config.FeedConfig, client *http.Client, logger *slog.Logger) *Reader {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Reader{
		feeds:  feeds,
		parser: gofeed.NewParser(),
		client: client,
		logger: logger,
	}
}

// FetchRecent returns all entries published at or after now minus days.
// The cutoff boundary is inclusive; entries without a parseable timestamp
// are excluded.
func (r *Reader) FetchRecent(ctx context.Context, now time.Time, days int) []domain.Article {
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)

	var all []domain.Article
	for _, f := range r.feeds {
		articles, err := r.fetchFeed(ctx, f, cutoff)
		if err != nil {
			r.warn("fetch feed failed", "feed", f.Label, "url", f.URL, "error", err)
			continue
		}
		r.debug("feed fetched", "feed", f.Label, "count", len(articles))
		all = append(all, articles...)
	}

	r.debug("fetch recent done", "total_articles", len(all))
	return all
}

func (r *Reader) fetchFeed(ctx context.Context, f config.FeedConfig, cutoff time.Time) ([]domain.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "rssdigest/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	parsed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var articles []domain.Article
	for _, item := range parsed.Items {
		published, ok := entryPublished(item)
		if !ok || published.Before(cutoff) {
			continue
		}
		if item.Link == "" || item.Title == "" {
			continue
		}

		articles = append(articles, domain.Article{
			Title:       strings.TrimSpace(item.Title),
			Link:        strings.TrimSpace(item.Link),
			Published:   published,
			Source:      f.Label,
			Description: flattenDescription(item.Description),
		})
	}

	return articles, nil
}

// entryPublished resolves the entry timestamp, preferring the published
// field and falling back to updated.
func entryPublished(item *gofeed.Item) (time.Time, bool) {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed, true
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed, true
	}
	return time.Time{}, false
}

// flattenDescription strips HTML markup from a feed summary and collapses
// whitespace, leaving plain text for the prompt.
func flattenDescription(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return raw
	}

	return strings.Join(strings.Fields(doc.Text()), " ")
}

func (r *Reader) debug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func (r *Reader) warn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
