package domain

import "time"

// Article is one feed entry normalized for downstream use. Instances are
// built fresh each run and never mutated after creation.
type Article struct {
	Title       string
	Link        string
	Published   time.Time
	Source      string
	Description string
}

// TokenUsage carries provider-reported token counts for one generation call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// DigestResult is the generator output: the digest body plus usage accounting.
type DigestResult struct {
	Content string
	Usage   TokenUsage
}

// RunStatus enumerates terminal pipeline outcomes.
type RunStatus string

const (
	StatusSent         RunStatus = "sent"
	StatusDryRun       RunStatus = "dry-run"
	StatusSkippedEmpty RunStatus = "skipped-empty"
	StatusFetched      RunStatus = "fetched"
	StatusProcessed    RunStatus = "processed"
	StatusFailed       RunStatus = "failed"
)

// RunReport summarizes one pipeline execution for logging. The estimated
// cost is reporting-only and never affects control flow.
type RunReport struct {
	Status       RunStatus
	FailedStage  string
	ArticleCount int
	FeedCounts   map[string]int
	Usage        TokenUsage
	EstimatedUSD float64
	Elapsed      time.Duration
	BackupPath   string
	BackupErr    error
}
