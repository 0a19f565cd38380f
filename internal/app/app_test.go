package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"rssdigest/internal/config"
)

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()

	pubDate := time.Now().UTC().Format(time.RFC1123Z)
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Tech</title>
    <item>
      <title>A recent story</title>
      <link>https://example.org/a</link>
      <pubDate>%s</pubDate>
    </item>
  </channel>
</rss>`, pubDate)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func llmServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"<h2>Digest</h2>"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func testAppConfig(t *testing.T, outputDir string) config.Config {
	t.Helper()

	cfg := config.Config{
		Feeds: []config.FeedConfig{{Label: "Tech", URL: feedServer(t).URL}},
		LLM: config.LLMConfig{
			Endpoint:       llmServer(t).URL,
			Model:          "test/model",
			APIKey:         "sk-test",
			InputPriceUSD:  0.075,
			OutputPriceUSD: 0.30,
		},
		Email: config.EmailConfig{
			Endpoint:   "https://example.org/mail",
			APIKey:     "sg-test",
			Sender:     "digest@example.org",
			SenderName: "Weekly Digest",
			Recipient:  "reader@example.org",
			OutputDir:  outputDir,
		},
		Logging: config.LoggingConfig{Level: "info"},
	}
	return cfg
}

func backupCount(t *testing.T, dir string) int {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, "digest_*.html"))
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	return len(matches)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunWritesBackupToConfiguredDir(t *testing.T) {
	t.Parallel()

	configured := t.TempDir()
	cfg := testAppConfig(t, configured)

	opts := config.DefaultOptions()
	opts.DryRun = true

	application, err := New(cfg, opts, discardLogger())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := application.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if got := backupCount(t, configured); got != 1 {
		t.Fatalf("expected 1 backup in configured dir, got %d", got)
	}
}

func TestRunOutputDirOptionOverridesConfig(t *testing.T) {
	t.Parallel()

	configured := t.TempDir()
	overridden := t.TempDir()
	cfg := testAppConfig(t, configured)

	opts := config.DefaultOptions()
	opts.DryRun = true
	opts.OutputDir = overridden

	application, err := New(cfg, opts, discardLogger())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := application.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if got := backupCount(t, overridden); got != 1 {
		t.Fatalf("expected 1 backup in override dir, got %d", got)
	}
	if got := backupCount(t, configured); got != 0 {
		t.Fatalf("expected configured dir untouched, got %d backups", got)
	}
}
