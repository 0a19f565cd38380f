package usecase

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"rssdigest/internal/config"
	"rssdigest/internal/domain"
)

type fakeSource struct {
	articles []domain.Article
	calls    int
}

func (f *fakeSource) FetchRecent(ctx context.Context, now time.Time, days int) []domain.Article {
	f.calls++
	return f.articles
}

type fakeGenerator struct {
	result    domain.DigestResult
	err       error
	calls     int
	gotTitles []string
}

func (f *fakeGenerator) GenerateDigest(ctx context.Context, articles []domain.Article, dateRange string) (domain.DigestResult, error) {
	f.calls++
	f.gotTitles = nil
	for _, a := range articles {
		f.gotTitles = append(f.gotTitles, a.Title)
	}
	if f.err != nil {
		return domain.DigestResult{}, f.err
	}
	return f.result, nil
}

type fakeDeliverer struct {
	sendCalls int
	saveCalls int
	sendErr   error
	saveErr   error
}

func (f *fakeDeliverer) SendDigest(ctx context.Context, digestHTML, dateRange string, articleCount int) error {
	f.sendCalls++
	return f.sendErr
}

func (f *fakeDeliverer) SaveDigestHTML(digestHTML, dateRange string, now time.Time) (string, error) {
	f.saveCalls++
	if f.saveErr != nil {
		return "", f.saveErr
	}
	return "digest_20260831_093015.html", nil
}

func makeArticles(n int, source string) []domain.Article {
	articles := make([]domain.Article, 0, n)
	for i := 0; i < n; i++ {
		articles = append(articles, domain.Article{
			Title:     fmt.Sprintf("Article %d", i+1),
			Link:      fmt.Sprintf("https://example.org/%d", i+1),
			Source:    source,
			Published: time.Date(2026, time.August, 30, 0, 0, 0, 0, time.UTC),
		})
	}
	return articles
}

func newTestPipeline(source *fakeSource, gen *fakeGenerator, del *fakeDeliverer, opts config.Options) *Pipeline {
	return NewPipeline(PipelineDeps{
		Source:         source,
		Generator:      gen,
		Deliverer:      del,
		Options:        opts,
		InputPriceUSD:  0.075,
		OutputPriceUSD: 0.30,
	})
}

func TestRunEmptyFetchShortCircuits(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	gen := &fakeGenerator{}
	del := &fakeDeliverer{}
	opts := config.DefaultOptions()

	report, err := newTestPipeline(source, gen, del, opts).Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("empty fetch must not be an error: %v", err)
	}
	if report.Status != domain.StatusSkippedEmpty {
		t.Fatalf("expected skipped-empty, got %s", report.Status)
	}
	if gen.calls != 0 || del.sendCalls != 0 || del.saveCalls != 0 {
		t.Fatalf("no downstream calls expected: gen=%d send=%d save=%d", gen.calls, del.sendCalls, del.saveCalls)
	}
}

func TestRunTestModeTruncatesToFive(t *testing.T) {
	t.Parallel()

	source := &fakeSource{articles: makeArticles(8, "A")}
	gen := &fakeGenerator{result: domain.DigestResult{Content: "<p>d</p>"}}
	del := &fakeDeliverer{}
	opts := config.DefaultOptions()
	opts.TestMode = true
	opts.DryRun = true

	report, err := newTestPipeline(source, gen, del, opts).Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if len(gen.gotTitles) != 5 {
		t.Fatalf("expected generator to see 5 articles, got %d", len(gen.gotTitles))
	}
	for i, title := range gen.gotTitles {
		want := fmt.Sprintf("Article %d", i+1)
		if title != want {
			t.Fatalf("truncation must keep the front of the set: got %q at %d", title, i)
		}
	}
	if report.ArticleCount != 8 {
		t.Fatalf("report should count fetched articles, got %d", report.ArticleCount)
	}
}

func TestRunDryRunSavesWithoutSending(t *testing.T) {
	t.Parallel()

	source := &fakeSource{articles: makeArticles(3, "A")}
	gen := &fakeGenerator{result: domain.DigestResult{Content: "<p>d</p>"}}
	del := &fakeDeliverer{}
	opts := config.DefaultOptions()
	opts.DryRun = true

	report, err := newTestPipeline(source, gen, del, opts).Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if del.sendCalls != 0 {
		t.Fatalf("dry run must not send, got %d send calls", del.sendCalls)
	}
	if del.saveCalls != 1 {
		t.Fatalf("expected one backup write, got %d", del.saveCalls)
	}
	if report.Status != domain.StatusDryRun {
		t.Fatalf("expected dry-run status, got %s", report.Status)
	}
	if report.BackupPath == "" {
		t.Fatal("expected backup path in report")
	}
}

func TestRunNoSaveSkipsBackup(t *testing.T) {
	t.Parallel()

	source := &fakeSource{articles: makeArticles(2, "A")}
	gen := &fakeGenerator{result: domain.DigestResult{Content: "<p>d</p>"}}
	del := &fakeDeliverer{}
	opts := config.DefaultOptions()
	opts.DryRun = true
	opts.SaveHTML = false

	if _, err := newTestPipeline(source, gen, del, opts).Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if del.saveCalls != 0 {
		t.Fatalf("save disabled but got %d save calls", del.saveCalls)
	}
}

func TestRunGenerateFailureIsFatal(t *testing.T) {
	t.Parallel()

	source := &fakeSource{articles: makeArticles(2, "A")}
	gen := &fakeGenerator{err: fmt.Errorf("auth rejected")}
	del := &fakeDeliverer{}

	report, err := newTestPipeline(source, gen, del, config.DefaultOptions()).Run(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected fatal generate error")
	}
	if report.Status != domain.StatusFailed || report.FailedStage != "generate" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if del.sendCalls != 0 || del.saveCalls != 0 {
		t.Fatal("no delivery calls expected after generate failure")
	}
}

func TestRunSendFailureIsFatalDespiteBackup(t *testing.T) {
	t.Parallel()

	source := &fakeSource{articles: makeArticles(2, "A")}
	gen := &fakeGenerator{result: domain.DigestResult{Content: "<p>d</p>"}}
	del := &fakeDeliverer{sendErr: fmt.Errorf("bounce")}

	report, err := newTestPipeline(source, gen, del, config.DefaultOptions()).Run(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected fatal send error")
	}
	if report.Status != domain.StatusFailed || report.FailedStage != "send" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if del.saveCalls != 1 || report.BackupPath == "" {
		t.Fatal("backup should have been written before the send attempt")
	}
}

func TestRunBackupFailureDoesNotMaskSend(t *testing.T) {
	t.Parallel()

	source := &fakeSource{articles: makeArticles(2, "A")}
	gen := &fakeGenerator{result: domain.DigestResult{Content: "<p>d</p>"}}
	del := &fakeDeliverer{saveErr: fmt.Errorf("disk full")}

	report, err := newTestPipeline(source, gen, del, config.DefaultOptions()).Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("backup failure must not fail the run: %v", err)
	}
	if report.Status != domain.StatusSent {
		t.Fatalf("expected sent status, got %s", report.Status)
	}
	if report.BackupErr == nil {
		t.Fatal("backup failure must stay observable in the report")
	}
	if del.sendCalls != 1 {
		t.Fatalf("expected exactly one send, got %d", del.sendCalls)
	}
}

func TestRunReportsUsageAndCost(t *testing.T) {
	t.Parallel()

	source := &fakeSource{articles: makeArticles(2, "A")}
	gen := &fakeGenerator{result: domain.DigestResult{
		Content: "<p>d</p>",
		Usage:   domain.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000},
	}}
	del := &fakeDeliverer{}
	opts := config.DefaultOptions()
	opts.DryRun = true

	report, err := newTestPipeline(source, gen, del, opts).Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if report.Usage.PromptTokens != 1_000_000 {
		t.Fatalf("usage not propagated: %+v", report.Usage)
	}
	if math.Abs(report.EstimatedUSD-0.375) > 1e-9 {
		t.Fatalf("unexpected cost estimate: %f", report.EstimatedUSD)
	}
}

func TestRunDryRunScenario(t *testing.T) {
	t.Parallel()

	source := &fakeSource{articles: makeArticles(3, "A")}
	gen := &fakeGenerator{result: domain.DigestResult{Content: "<p>d</p>"}}
	del := &fakeDeliverer{}
	opts := config.DefaultOptions()
	opts.DryRun = true

	report, err := newTestPipeline(source, gen, del, opts).Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if report.FeedCounts["A"] != 3 || report.ArticleCount != 3 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if gen.calls != 1 || len(gen.gotTitles) != 3 {
		t.Fatalf("generator called %d times with %d articles", gen.calls, len(gen.gotTitles))
	}
	if del.saveCalls != 1 || del.sendCalls != 0 {
		t.Fatalf("expected one backup and zero sends: save=%d send=%d", del.saveCalls, del.sendCalls)
	}
	if report.Status != domain.StatusDryRun {
		t.Fatalf("expected dry-run status, got %s", report.Status)
	}
}

type fakeStore struct {
	unprocessed     []domain.Article
	unsent          []domain.Article
	recorded        []domain.Article
	processedLinks  []string
	sentLinks       []string
	recordErr       error
	markProcessed   int
	markSentCalls   int
	unprocessedErrs error
}

func (f *fakeStore) Record(ctx context.Context, articles []domain.Article) (int, error) {
	if f.recordErr != nil {
		return 0, f.recordErr
	}
	f.recorded = append(f.recorded, articles...)
	return len(articles), nil
}

func (f *fakeStore) Unprocessed(ctx context.Context) ([]domain.Article, error) {
	return f.unprocessed, f.unprocessedErrs
}

func (f *fakeStore) MarkProcessed(ctx context.Context, links []string) error {
	f.markProcessed++
	f.processedLinks = append(f.processedLinks, links...)
	return nil
}

func (f *fakeStore) UnsentProcessed(ctx context.Context) ([]domain.Article, error) {
	return f.unsent, nil
}

func (f *fakeStore) MarkSent(ctx context.Context, links []string, sentAt time.Time) error {
	f.markSentCalls++
	f.sentLinks = append(f.sentLinks, links...)
	return nil
}

func TestRunFetchOnlyRecordsWithoutGenerating(t *testing.T) {
	t.Parallel()

	source := &fakeSource{articles: makeArticles(4, "A")}
	gen := &fakeGenerator{}
	del := &fakeDeliverer{}
	store := &fakeStore{}
	opts := config.DefaultOptions()
	opts.FetchOnly = true

	pipeline := NewPipeline(PipelineDeps{
		Source: source, Generator: gen, Deliverer: del, Store: store, Options: opts,
	})

	report, err := pipeline.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if report.Status != domain.StatusFetched {
		t.Fatalf("expected fetched status, got %s", report.Status)
	}
	if len(store.recorded) != 4 {
		t.Fatalf("expected 4 recorded articles, got %d", len(store.recorded))
	}
	if gen.calls != 0 || del.sendCalls != 0 {
		t.Fatal("fetch-only must not generate or send")
	}
}

func TestRunProcessOnlyMarksProcessed(t *testing.T) {
	t.Parallel()

	store := &fakeStore{unprocessed: makeArticles(2, "A")}
	opts := config.DefaultOptions()
	opts.ProcessOnly = true

	pipeline := NewPipeline(PipelineDeps{
		Source: &fakeSource{}, Generator: &fakeGenerator{}, Deliverer: &fakeDeliverer{},
		Store: store, Options: opts,
	})

	report, err := pipeline.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if report.Status != domain.StatusProcessed {
		t.Fatalf("expected processed status, got %s", report.Status)
	}
	if len(store.processedLinks) != 2 {
		t.Fatalf("expected 2 processed links, got %d", len(store.processedLinks))
	}
}

func TestRunSendOnlyDeliversAndMarksSent(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	gen := &fakeGenerator{result: domain.DigestResult{Content: "<p>d</p>"}}
	del := &fakeDeliverer{}
	store := &fakeStore{unsent: makeArticles(3, "A")}
	opts := config.DefaultOptions()
	opts.SendOnly = true

	pipeline := NewPipeline(PipelineDeps{
		Source: source, Generator: gen, Deliverer: del, Store: store, Options: opts,
	})

	report, err := pipeline.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if report.Status != domain.StatusSent {
		t.Fatalf("expected sent status, got %s", report.Status)
	}
	if source.calls != 0 {
		t.Fatal("send-only must read persisted state, not live feeds")
	}
	if del.sendCalls != 1 || store.markSentCalls != 1 || len(store.sentLinks) != 3 {
		t.Fatalf("unexpected delivery bookkeeping: send=%d markSent=%d links=%d",
			del.sendCalls, store.markSentCalls, len(store.sentLinks))
	}
}

func TestFormatDateRange(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC)
	got := formatDateRange(now, 7)
	if got != "Aug 24 - Aug 31, 2026" {
		t.Fatalf("unexpected date range: %q", got)
	}
}

func TestReportLogsFeedCountsAtInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	source := &fakeSource{articles: append(makeArticles(2, "Europe"), makeArticles(1, "Business")...)}
	gen := &fakeGenerator{result: domain.DigestResult{Content: "<p>d</p>"}}
	del := &fakeDeliverer{}
	opts := config.DefaultOptions()
	opts.DryRun = true

	pipeline := NewPipeline(PipelineDeps{
		Source:    source,
		Generator: gen,
		Deliverer: del,
		Options:   opts,
		Logger:    logger,
	})
	if _, err := pipeline.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "run complete") {
		t.Fatalf("missing run summary in log output: %s", out)
	}
	// Per-feed counts belong to the run report, so they must show up at the
	// default info level.
	if !strings.Contains(out, "feed=Europe") || !strings.Contains(out, "count=2") {
		t.Fatalf("missing per-feed counts in log output: %s", out)
	}
	if !strings.Contains(out, "feed=Business") {
		t.Fatalf("missing second feed in log output: %s", out)
	}
}
