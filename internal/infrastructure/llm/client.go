package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rssdigest/internal/config"
	"rssdigest/internal/domain"
	"rssdigest/internal/ports"
)

const (
	digestTemperature = 0.5
	digestMaxTokens   = 3000
)

// Client implements ports.DigestGenerator backed by OpenAI-compatible chat
// completion APIs (OpenRouter by default). One run issues exactly one call;
// there is no retry, no streaming and no chunking of the article set.
type Client struct {
	endpoint       string
	model          string
	apiKey         string
	systemPrompt   string
	promptTemplate string
	httpClient     *http.Client
	logger         *slog.Logger
}

var _ ports.DigestGenerator = (*Client)(nil)

// NewClient builds a client from configuration.
func NewClient(cfg config.LLMConfig, logger *slog.Logger) *Client {
	return &Client{
		endpoint:       cfg.Endpoint,
		model:          cfg.Model,
		apiKey:         cfg.APIKey,
		systemPrompt:   cfg.SystemPrompt,
		promptTemplate: cfg.PromptTemplate,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// GenerateDigest serializes the full article set into the instruction
// template and posts a single completion request. Any transport or API
// failure propagates to the caller; usage counters missing from the
// response are reported as zero.
func (c *Client) GenerateDigest(ctx context.Context, articles []domain.Article, dateRange string) (domain.DigestResult, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.DigestResult{}, fmt.Errorf("llm client misconfigured")
	}

	prompt := buildPrompt(c.promptTemplate, articles, dateRange)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: safeSystemPrompt(c.systemPrompt)},
			{Role: "user", Content: prompt},
		},
		Temperature: digestTemperature,
		MaxTokens:   digestMaxTokens,
	})
	if err != nil {
		return domain.DigestResult{}, fmt.Errorf("marshal completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.DigestResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.debug("generate digest", "model", c.model, "articles", len(articles))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.DigestResult{}, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.DigestResult{}, fmt.Errorf("completion error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.DigestResult{}, fmt.Errorf("decode completion response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return domain.DigestResult{}, fmt.Errorf("completion response has no choices")
	}

	content := stripCodeFence(strings.TrimSpace(parsed.Choices[0].Message.Content))
	if content == "" {
		return domain.DigestResult{}, fmt.Errorf("completion response is empty")
	}

	return domain.DigestResult{
		Content: content,
		Usage: domain.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

// buildPrompt substitutes the article list into the instruction template.
// The whole set goes into one request body regardless of article count; any
// size bound is upstream truncation or a provider-side context limit.
func buildPrompt(template string, articles []domain.Article, dateRange string) string {
	if strings.TrimSpace(template) == "" {
		template = defaultPromptTemplate
	}

	blocks := make([]string, 0, len(articles))
	for i, a := range articles {
		var b strings.Builder
		b.WriteString("Article " + strconv.Itoa(i+1) + ":\n")
		b.WriteString("Title: " + a.Title + "\n")
		b.WriteString("URL: " + a.Link + "\n")
		b.WriteString("Feed: " + a.Source + "\n")
		b.WriteString("Published: " + a.Published.Format("2006-01-02") + "\n")
		b.WriteString("Summary: " + summaryOrPlaceholder(a.Description))
		blocks = append(blocks, b.String())
	}

	replacer := strings.NewReplacer(
		"{date_range}", dateRange,
		"{article_count}", strconv.Itoa(len(articles)),
		"{article_list}", strings.Join(blocks, "\n\n---\n\n"),
	)
	return replacer.Replace(template)
}

func summaryOrPlaceholder(description string) string {
	if strings.TrimSpace(description) == "" {
		return "No summary available"
	}
	return description
}

func safeSystemPrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You are a skilled editor creating weekly news digests. Format your output in clean, semantic HTML."
	}
	return prompt
}

// stripCodeFence unwraps digests that the model returned inside a markdown
// code block.
func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}

	content = strings.TrimPrefix(content, "```")
	if idx := strings.Index(content, "\n"); idx >= 0 {
		content = content[idx+1:]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

const defaultPromptTemplate = `You are creating a weekly digest for a reader interested in markets and policy.

ARTICLES FROM {date_range} ({article_count} articles):
{article_list}

TASK: Analyze these articles and create a comprehensive digest with the following sections:

1. THIS WEEK'S BIG PICTURE
   - Identify the main story or theme this week in ONE paragraph of simple, clear language.

2. TOP 3 ARTICLES TO READ
   - Select the 3 most important articles. For each provide the title as a
     clickable link, a 2-3 sentence summary in plain language, and one
     sentence on why it matters.

3. WHAT'S HAPPENING
   - Pick ONE article per region or theme not already covered above, each
     with a linked title and a simple 2-sentence summary.

4. STORY IDEAS
   - Specific follow-up angles, datasets or sources mentioned, and trends
     worth tracking.

FORMATTING REQUIREMENTS:
- Use simple, clear language throughout.
- Format as clean, semantic HTML: <h2> for main sections, <h3> for
  subsections, <p> for paragraphs, <ul>/<li> for lists, <a href="url"> for
  article links.
- Each article should appear only ONCE in the entire digest.
- Do NOT include introductory text like "Here is your weekly digest...".
- Return ONLY the HTML content for the digest body (no html/head/body tags).

Begin your analysis and digest creation now:
`
