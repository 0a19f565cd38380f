package email

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rssdigest/internal/config"
	"rssdigest/internal/ports"
)

//go:embed template.html
var defaultTemplate string

const backupTimeFormat = "20060102_150405"

// Sender delivers the rendered digest through a transactional email API
// (SendGrid mail/send payload shape) and writes timestamped HTML backups.
type Sender struct {
	endpoint   string
	apiKey     string
	sender     string
	senderName string
	recipient  string
	outputDir  string
	tmpl       *template.Template
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ports.DigestDeliverer = (*Sender)(nil)

// NewSender builds a sender from configuration. A template path in the
// config replaces the embedded presentation template.
func NewSender(cfg config.EmailConfig, logger *slog.Logger) (*Sender, error) {
	source := defaultTemplate
	if cfg.TemplatePath != "" {
		raw, err := os.ReadFile(cfg.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("read email template %s: %w", cfg.TemplatePath, err)
		}
		source = string(raw)
	}

	tmpl, err := template.New("digest").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse email template: %w", err)
	}

	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = "."
	}

	return &Sender{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		sender:     cfg.Sender,
		senderName: cfg.SenderName,
		recipient:  cfg.Recipient,
		outputDir:  outputDir,
		tmpl:       tmpl,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailPersonalization struct {
	To []mailAddress `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailPayload struct {
	Personalizations []mailPersonalization `json:"personalizations"`
	From             mailAddress           `json:"from"`
	Subject          string                `json:"subject"`
	Content          []mailContent         `json:"content"`
}

// SendDigest wraps the digest body in the presentation template and posts
// it to the email API as one message for the configured recipient. The
// sender address must be pre-verified with the provider; this system does
// not verify it.
func (s *Sender) SendDigest(ctx context.Context, digestHTML, dateRange string, articleCount int) error {
	if s.apiKey == "" || s.endpoint == "" || s.sender == "" || s.recipient == "" {
		return fmt.Errorf("email sender misconfigured")
	}

	full, err := s.render(digestHTML, dateRange)
	if err != nil {
		return fmt.Errorf("render digest: %w", err)
	}

	payload := mailPayload{
		Personalizations: []mailPersonalization{{To: []mailAddress{{Email: s.recipient}}}},
		From:             mailAddress{Email: s.sender, Name: s.senderName},
		Subject:          fmt.Sprintf("Your Weekly Digest: %s (%d articles)", dateRange, articleCount),
		Content:          []mailContent{{Type: "text/html", Value: full}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	s.debug("send digest", "recipient", s.recipient, "articles", articleCount)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("email provider error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	return nil
}

// SaveDigestHTML writes the template-wrapped digest to a timestamped file
// in the output directory and returns its path. Saving is independent of
// sending, so dry runs still produce an artifact.
func (s *Sender) SaveDigestHTML(digestHTML, dateRange string, now time.Time) (string, error) {
	full, err := s.render(digestHTML, dateRange)
	if err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}

	path := filepath.Join(s.outputDir, "digest_"+now.Format(backupTimeFormat)+".html")
	if err := os.WriteFile(path, []byte(full), 0o644); err != nil {
		return "", fmt.Errorf("write digest backup: %w", err)
	}

	s.debug("digest saved", "path", path)
	return path, nil
}

func (s *Sender) render(digestHTML, dateRange string) (string, error) {
	var buf bytes.Buffer
	err := s.tmpl.Execute(&buf, struct {
		DateRange string
		Body      template.HTML
	}{
		DateRange: dateRange,
		Body:      template.HTML(digestHTML),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Sender) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
