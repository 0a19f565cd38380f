package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv    = "RSS_DIGEST_CONFIG"
	llmAPIKeyEnv     = "LLM_API_KEY"
	llmModelEnv      = "LLM_MODEL"
	llmEndpointEnv   = "LLM_ENDPOINT"
	emailAPIKeyEnv   = "EMAIL_API_KEY"
	senderEmailEnv   = "SENDER_EMAIL"
	recipientEnv     = "RECIPIENT_EMAIL"
	databaseDSNEnv   = "DATABASE_DSN"
	defaultLookback  = 7
	defaultOutputDir = "."
)

// Config holds high-level settings required across the application.
type Config struct {
	Feeds    []FeedConfig   `yaml:"feeds"`
	LLM      LLMConfig      `yaml:"llm"`
	Email    EmailConfig    `yaml:"email"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// FeedConfig describes a single feed with its category label. Feeds are a
// list, not a map, so the configured order is preserved.
type FeedConfig struct {
	Label string `yaml:"label"`
	URL   string `yaml:"url"`
}

// LLMConfig defines how to contact the text-generation API.
type LLMConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	Model          string  `yaml:"model"`
	APIKey         string  `yaml:"apiKey"`
	SystemPrompt   string  `yaml:"systemPrompt"`
	PromptTemplate string  `yaml:"promptTemplate"`
	InputPriceUSD  float64 `yaml:"inputPricePerMTok"`
	OutputPriceUSD float64 `yaml:"outputPricePerMTok"`
}

// EmailConfig wires all data required to send the digest.
type EmailConfig struct {
	Endpoint     string `yaml:"endpoint"`
	APIKey       string `yaml:"apiKey"`
	Sender       string `yaml:"sender"`
	SenderName   string `yaml:"senderName"`
	Recipient    string `yaml:"recipient"`
	TemplatePath string `yaml:"templatePath"`
	OutputDir    string `yaml:"outputDir"`
}

// DatabaseConfig describes the optional Postgres connection for the
// stage-restricted variant.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Options is the per-invocation run configuration assembled from CLI flags.
// It is resolved once at startup and passed down; no stage re-reads it from
// the environment.
type Options struct {
	LookbackDays int
	TestMode     bool
	DryRun       bool
	SaveHTML     bool
	Verbose      bool
	FetchOnly    bool
	ProcessOnly  bool
	SendOnly     bool
	OutputDir    string
}

// Validate rejects flag combinations that cannot be executed.
func (o Options) Validate(hasStore bool) error {
	stages := 0
	for _, set := range []bool{o.FetchOnly, o.ProcessOnly, o.SendOnly} {
		if set {
			stages++
		}
	}
	if stages > 1 {
		return fmt.Errorf("at most one of -fetch-only, -process-only, -send-only may be set")
	}
	if stages == 1 && !hasStore {
		return fmt.Errorf("stage-restricted flags require a configured database DSN")
	}
	if o.LookbackDays < 0 {
		return fmt.Errorf("lookback days must be non-negative, got %d", o.LookbackDays)
	}
	return nil
}

// Load reads YAML configuration (if present) and applies environment
// overrides. An empty path falls back to the RSS_DIGEST_CONFIG variable.
// An explicitly passed path that cannot be read or parsed is an error; a
// broken env fallback only logs and proceeds on defaults.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			if explicit {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				if explicit {
					return Config{}, fmt.Errorf("parse config %s: %w", path, err)
				}
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()

	if len(cfg.Feeds) == 0 {
		cfg.Feeds = defaultConfig().Feeds
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(llmAPIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(llmModelEnv); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv(llmEndpointEnv); v != "" {
		c.LLM.Endpoint = v
	}

	if v := os.Getenv(emailAPIKeyEnv); v != "" {
		c.Email.APIKey = v
	}
	if v := os.Getenv(senderEmailEnv); v != "" {
		c.Email.Sender = v
	}
	if v := os.Getenv(recipientEnv); v != "" {
		c.Email.Recipient = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
}

func mergeConfig(base, override Config) Config {
	if len(override.Feeds) > 0 {
		base.Feeds = override.Feeds
	}

	if override.LLM.Endpoint != "" {
		base.LLM.Endpoint = override.LLM.Endpoint
	}
	if override.LLM.Model != "" {
		base.LLM.Model = override.LLM.Model
	}
	if override.LLM.APIKey != "" {
		base.LLM.APIKey = override.LLM.APIKey
	}
	if override.LLM.SystemPrompt != "" {
		base.LLM.SystemPrompt = override.LLM.SystemPrompt
	}
	if override.LLM.PromptTemplate != "" {
		base.LLM.PromptTemplate = override.LLM.PromptTemplate
	}
	if override.LLM.InputPriceUSD > 0 {
		base.LLM.InputPriceUSD = override.LLM.InputPriceUSD
	}
	if override.LLM.OutputPriceUSD > 0 {
		base.LLM.OutputPriceUSD = override.LLM.OutputPriceUSD
	}

	if override.Email.Endpoint != "" {
		base.Email.Endpoint = override.Email.Endpoint
	}
	if override.Email.APIKey != "" {
		base.Email.APIKey = override.Email.APIKey
	}
	if override.Email.Sender != "" {
		base.Email.Sender = override.Email.Sender
	}
	if override.Email.SenderName != "" {
		base.Email.SenderName = override.Email.SenderName
	}
	if override.Email.Recipient != "" {
		base.Email.Recipient = override.Email.Recipient
	}
	if override.Email.TemplatePath != "" {
		base.Email.TemplatePath = override.Email.TemplatePath
	}
	if override.Email.OutputDir != "" {
		base.Email.OutputDir = override.Email.OutputDir
	}

	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Feeds: []FeedConfig{
			{Label: "Finance & Economics", URL: "https://www.economist.com/finance-and-economics/rss.xml"},
			{Label: "Europe", URL: "https://www.economist.com/europe/rss.xml"},
			{Label: "Business", URL: "https://www.economist.com/business/rss.xml"},
			{Label: "Leaders", URL: "https://www.economist.com/leaders/rss.xml"},
			{Label: "International", URL: "https://www.economist.com/international/rss.xml"},
			{Label: "Science & Technology", URL: "https://www.economist.com/science-and-technology/rss.xml"},
			{Label: "Data journalism", URL: "https://www.economist.com/graphic-detail/rss.xml"},
		},
		LLM: LLMConfig{
			Endpoint:       "https://openrouter.ai/api/v1/chat/completions",
			Model:          "google/gemini-flash-1.5-8b",
			SystemPrompt:   "You are a skilled editor creating weekly news digests for data journalists. Format your output in clean, semantic HTML.",
			InputPriceUSD:  0.075,
			OutputPriceUSD: 0.30,
		},
		Email: EmailConfig{
			Endpoint:   "https://api.sendgrid.com/v3/mail/send",
			Sender:     "digest@example.org",
			SenderName: "Weekly Digest",
			OutputDir:  defaultOutputDir,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultOptions mirrors the CLI flag defaults. OutputDir stays empty so an
// unset -out flag defers to the configured email.outputDir.
func DefaultOptions() Options {
	return Options{
		LookbackDays: defaultLookback,
		SaveHTML:     true,
	}
}
