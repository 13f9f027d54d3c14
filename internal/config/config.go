// Package config builds the single configuration object the pipeline is
// wired with. It is constructed once at process start from viper (config
// file, environment, flags) and passed by reference into the driver, the
// translator and the ledger manager.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Supported container extensions. Legacy formats are upgraded before
// translation.
var (
	SupportedExtensions   = []string{".docx", ".xlsx", ".pptx"}
	ConvertibleExtensions = []string{".doc"}
)

// Config holds every tunable of the pipeline.
type Config struct {
	// Translation provider: "gemini" (default) or "openai".
	Provider  string
	GeminiKey string
	OpenAIKey string
	Model     string

	// Folder layout. Origin holds the untranslated sources, Completed
	// mirrors its structure and receives backups plus working copies.
	OriginFolder    string
	CompletedFolder string

	// LedgerPath is the SQLite database tracking task rows.
	LedgerPath string

	// Batch sizes per container kind. Word paragraphs are long, so the
	// batch is small; slide and cell texts are short.
	BatchSizeDocx int
	BatchSizePptx int
	BatchSizeXlsx int

	// APIDelay paces consecutive translate calls.
	APIDelay time.Duration

	// CheckpointInterval is the number of applied batches between
	// intermediate saves and token flushes.
	CheckpointInterval int

	// Glossary settings.
	GlossaryPath     string
	GlossaryMaxTerms int

	SlackWebhookURL string
}

// Load assembles a Config from viper, applying defaults for anything unset.
func Load() *Config {
	cfg := &Config{
		Provider:           viper.GetString("translate.provider"),
		GeminiKey:          viper.GetString("translate.gemini_key"),
		OpenAIKey:          viper.GetString("translate.openai_key"),
		Model:              viper.GetString("translate.model"),
		OriginFolder:       viper.GetString("folders.origin"),
		CompletedFolder:    viper.GetString("folders.completed"),
		LedgerPath:         viper.GetString("ledger.path"),
		BatchSizeDocx:      viper.GetInt("translate.batch_size_docx"),
		BatchSizePptx:      viper.GetInt("translate.batch_size_pptx"),
		BatchSizeXlsx:      viper.GetInt("translate.batch_size_xlsx"),
		APIDelay:           viper.GetDuration("translate.api_delay"),
		CheckpointInterval: viper.GetInt("translate.checkpoint_interval"),
		GlossaryPath:       viper.GetString("glossary.path"),
		GlossaryMaxTerms:   viper.GetInt("glossary.max_terms"),
		SlackWebhookURL:    viper.GetString("notify.slack_webhook_url"),
	}

	if cfg.Provider == "" {
		cfg.Provider = "gemini"
	}
	if cfg.GeminiKey == "" {
		cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.OpenAIKey == "" {
		cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		if cfg.Provider == "openai" {
			cfg.Model = "gpt-4o-mini"
		} else {
			cfg.Model = "gemini-2.5-flash"
		}
	}
	if cfg.OriginFolder == "" {
		cfg.OriginFolder = filepath.Join("data", "origin_data_folder")
	}
	if cfg.CompletedFolder == "" {
		cfg.CompletedFolder = filepath.Join("data", "completed_folder")
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = filepath.Join("data", "ledger.db")
	}
	if cfg.BatchSizeDocx == 0 {
		cfg.BatchSizeDocx = 30
	}
	if cfg.BatchSizePptx == 0 {
		cfg.BatchSizePptx = 70
	}
	if cfg.BatchSizeXlsx == 0 {
		cfg.BatchSizeXlsx = 70
	}
	if cfg.APIDelay == 0 {
		cfg.APIDelay = 500 * time.Millisecond
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 10
	}
	if cfg.GlossaryPath == "" {
		cfg.GlossaryPath = filepath.Join("data", "glossary.xlsx")
	}
	if cfg.GlossaryMaxTerms == 0 {
		cfg.GlossaryMaxTerms = 200
	}
	if cfg.SlackWebhookURL == "" {
		cfg.SlackWebhookURL = os.Getenv("SLACK_WEBHOOK_URL")
	}

	return cfg
}

// APIKey returns the key for the configured provider.
func (c *Config) APIKey() string {
	if c.Provider == "openai" {
		return c.OpenAIKey
	}
	return c.GeminiKey
}

// Validate fails fast on configuration the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.APIKey() == "" {
		return fmt.Errorf("no API key configured for provider %q", c.Provider)
	}
	if _, err := os.Stat(c.OriginFolder); err != nil {
		return fmt.Errorf("origin folder not accessible: %w", err)
	}
	return nil
}

// EnsureFolders creates the completed folder tree and the ledger directory.
func (c *Config) EnsureFolders() error {
	if err := os.MkdirAll(c.CompletedFolder, 0755); err != nil {
		return fmt.Errorf("failed to create completed folder: %w", err)
	}
	if dir := filepath.Dir(c.LedgerPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	return nil
}

// BatchSize returns the configured batch size for a file extension.
func (c *Config) BatchSize(ext string) int {
	switch ext {
	case ".pptx":
		return c.BatchSizePptx
	case ".xlsx":
		return c.BatchSizeXlsx
	default:
		return c.BatchSizeDocx
	}
}
