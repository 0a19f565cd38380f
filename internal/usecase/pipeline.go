package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rssdigest/internal/config"
	"rssdigest/internal/domain"
	"rssdigest/internal/ports"
)

// testModeLimit caps the article set fed to the generator in test mode.
// Fetching itself is never limited.
const testModeLimit = 5

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source         ports.ArticleSource
	Generator      ports.DigestGenerator
	Deliverer      ports.DigestDeliverer
	Store          ports.ArticleStore
	Options        config.Options
	InputPriceUSD  float64
	OutputPriceUSD float64
	Logger         *slog.Logger
}

// Pipeline implements the digest workflow: fetch, optional truncate,
// generate, deliver, report. Execution is strictly linear and synchronous;
// each stage either completes or raises a fatal condition that halts the
// run.
type Pipeline struct {
	source         ports.ArticleSource
	generator      ports.DigestGenerator
	deliverer      ports.DigestDeliverer
	store          ports.ArticleStore
	opts           config.Options
	inputPriceUSD  float64
	outputPriceUSD float64
	logger         *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		source:         deps.Source,
		generator:      deps.Generator,
		deliverer:      deps.Deliverer,
		store:          deps.Store,
		opts:           deps.Options,
		inputPriceUSD:  deps.InputPriceUSD,
		outputPriceUSD: deps.OutputPriceUSD,
		logger:         deps.Logger,
	}
}

// Run executes one pipeline invocation. An empty fetch is a distinct
// terminal status, not an error; stage failures return the report alongside
// the error so the final state stays observable.
func (p *Pipeline) Run(ctx context.Context, now time.Time) (domain.RunReport, error) {
	switch {
	case p.opts.FetchOnly:
		return p.runFetchOnly(ctx, now)
	case p.opts.ProcessOnly:
		return p.runProcessOnly(ctx, now)
	case p.opts.SendOnly:
		return p.runSendOnly(ctx, now)
	}
	return p.runFull(ctx, now)
}

func (p *Pipeline) runFull(ctx context.Context, now time.Time) (domain.RunReport, error) {
	start := time.Now()
	report := newReport()

	articles := p.source.FetchRecent(ctx, now, p.opts.LookbackDays)
	report.ArticleCount = len(articles)
	for _, a := range articles {
		report.FeedCounts[a.Source]++
	}

	if len(articles) == 0 {
		report.Status = domain.StatusSkippedEmpty
		return p.finish(report, start), nil
	}

	articles = p.truncateForTestMode(articles)
	dateRange := formatDateRange(now, p.opts.LookbackDays)

	result, err := p.generator.GenerateDigest(ctx, articles, dateRange)
	if err != nil {
		report.Status = domain.StatusFailed
		report.FailedStage = "generate"
		report = p.finish(report, start)
		return report, fmt.Errorf("generate digest: %w", err)
	}
	report.Usage = result.Usage
	report.EstimatedUSD = p.estimateCost(result.Usage)

	p.saveBackup(&report, result.Content, dateRange, now)

	if p.opts.DryRun {
		report.Status = domain.StatusDryRun
		return p.finish(report, start), nil
	}

	if err := p.deliverer.SendDigest(ctx, result.Content, dateRange, len(articles)); err != nil {
		report.Status = domain.StatusFailed
		report.FailedStage = "send"
		report = p.finish(report, start)
		return report, fmt.Errorf("send digest: %w", err)
	}

	report.Status = domain.StatusSent
	return p.finish(report, start), nil
}

// runFetchOnly fetches live feeds and records the articles, leaving
// processing and delivery to later invocations.
func (p *Pipeline) runFetchOnly(ctx context.Context, now time.Time) (domain.RunReport, error) {
	start := time.Now()
	report := newReport()

	articles := p.source.FetchRecent(ctx, now, p.opts.LookbackDays)
	report.ArticleCount = len(articles)
	for _, a := range articles {
		report.FeedCounts[a.Source]++
	}

	if len(articles) == 0 {
		report.Status = domain.StatusSkippedEmpty
		return p.finish(report, start), nil
	}

	articles = p.truncateForTestMode(articles)

	stored, err := p.store.Record(ctx, articles)
	if err != nil {
		report.Status = domain.StatusFailed
		report.FailedStage = "record"
		report = p.finish(report, start)
		return report, fmt.Errorf("record articles: %w", err)
	}

	p.info("articles recorded", "fetched", len(articles), "new", stored)
	report.Status = domain.StatusFetched
	return p.finish(report, start), nil
}

// runProcessOnly marks recorded articles as ready for digest inclusion.
func (p *Pipeline) runProcessOnly(ctx context.Context, now time.Time) (domain.RunReport, error) {
	start := time.Now()
	report := newReport()

	articles, err := p.store.Unprocessed(ctx)
	if err != nil {
		report.Status = domain.StatusFailed
		report.FailedStage = "load"
		report = p.finish(report, start)
		return report, fmt.Errorf("load unprocessed: %w", err)
	}
	report.ArticleCount = len(articles)
	for _, a := range articles {
		report.FeedCounts[a.Source]++
	}

	if len(articles) == 0 {
		report.Status = domain.StatusSkippedEmpty
		return p.finish(report, start), nil
	}

	articles = p.truncateForTestMode(articles)

	if err := p.store.MarkProcessed(ctx, articleLinks(articles)); err != nil {
		report.Status = domain.StatusFailed
		report.FailedStage = "process"
		report = p.finish(report, start)
		return report, fmt.Errorf("mark processed: %w", err)
	}

	report.Status = domain.StatusProcessed
	return p.finish(report, start), nil
}

// runSendOnly generates and delivers a digest from persisted, processed
// articles and marks them sent.
func (p *Pipeline) runSendOnly(ctx context.Context, now time.Time) (domain.RunReport, error) {
	start := time.Now()
	report := newReport()

	articles, err := p.store.UnsentProcessed(ctx)
	if err != nil {
		report.Status = domain.StatusFailed
		report.FailedStage = "load"
		report = p.finish(report, start)
		return report, fmt.Errorf("load unsent: %w", err)
	}
	report.ArticleCount = len(articles)
	for _, a := range articles {
		report.FeedCounts[a.Source]++
	}

	if len(articles) == 0 {
		report.Status = domain.StatusSkippedEmpty
		return p.finish(report, start), nil
	}

	dateRange := formatDateRange(now, p.opts.LookbackDays)

	result, err := p.generator.GenerateDigest(ctx, articles, dateRange)
	if err != nil {
		report.Status = domain.StatusFailed
		report.FailedStage = "generate"
		report = p.finish(report, start)
		return report, fmt.Errorf("generate digest: %w", err)
	}
	report.Usage = result.Usage
	report.EstimatedUSD = p.estimateCost(result.Usage)

	p.saveBackup(&report, result.Content, dateRange, now)

	if p.opts.DryRun {
		report.Status = domain.StatusDryRun
		return p.finish(report, start), nil
	}

	if err := p.deliverer.SendDigest(ctx, result.Content, dateRange, len(articles)); err != nil {
		report.Status = domain.StatusFailed
		report.FailedStage = "send"
		report = p.finish(report, start)
		return report, fmt.Errorf("send digest: %w", err)
	}

	if err := p.store.MarkSent(ctx, articleLinks(articles), now); err != nil {
		p.warn("mark sent failed", "error", err)
	}

	report.Status = domain.StatusSent
	return p.finish(report, start), nil
}

func (p *Pipeline) truncateForTestMode(articles []domain.Article) []domain.Article {
	if p.opts.TestMode && len(articles) > testModeLimit {
		p.info("test mode: truncating article set", "kept", testModeLimit, "fetched", len(articles))
		return articles[:testModeLimit]
	}
	return articles
}

// saveBackup writes the HTML artifact when enabled. A write failure is
// recorded on the report and logged; it never masks the send outcome.
func (p *Pipeline) saveBackup(report *domain.RunReport, content, dateRange string, now time.Time) {
	if !p.opts.SaveHTML {
		return
	}

	path, err := p.deliverer.SaveDigestHTML(content, dateRange, now)
	if err != nil {
		report.BackupErr = err
		p.warn("digest backup failed", "error", err)
		return
	}
	report.BackupPath = path
}

func (p *Pipeline) estimateCost(usage domain.TokenUsage) float64 {
	input := float64(usage.PromptTokens) / 1_000_000 * p.inputPriceUSD
	output := float64(usage.CompletionTokens) / 1_000_000 * p.outputPriceUSD
	return input + output
}

func (p *Pipeline) finish(report domain.RunReport, start time.Time) domain.RunReport {
	report.Elapsed = time.Since(start)
	p.report(report)
	return report
}

func (p *Pipeline) report(report domain.RunReport) {
	if p.logger == nil {
		return
	}

	args := []any{
		"status", string(report.Status),
		"articles", report.ArticleCount,
		"prompt_tokens", report.Usage.PromptTokens,
		"completion_tokens", report.Usage.CompletionTokens,
		"estimated_cost_usd", fmt.Sprintf("%.4f", report.EstimatedUSD),
		"elapsed", report.Elapsed.Round(time.Millisecond).String(),
	}
	if report.FailedStage != "" {
		args = append(args, "failed_stage", report.FailedStage)
	}
	if report.BackupPath != "" {
		args = append(args, "backup", report.BackupPath)
	}
	if report.BackupErr != nil {
		args = append(args, "backup_error", report.BackupErr.Error())
	}
	p.logger.Info("run complete", args...)

	for feed, count := range report.FeedCounts {
		p.logger.Info("feed articles", "feed", feed, "count", count)
	}
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func articleLinks(articles []domain.Article) []string {
	links := make([]string, 0, len(articles))
	for _, a := range articles {
		links = append(links, a.Link)
	}
	return links
}

func formatDateRange(now time.Time, days int) string {
	start := now.AddDate(0, 0, -days)
	return fmt.Sprintf("%s - %s", start.Format("Jan 02"), now.Format("Jan 02, 2006"))
}

func newReport() domain.RunReport {
	return domain.RunReport{FeedCounts: map[string]int{}}
}
