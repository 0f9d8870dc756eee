package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Slack       SlackConfig               `json:"slack"`
	Storage     StorageConfig             `json:"storage"`
	Speech      SpeechConfig              `json:"speech"`
	Summary     SummaryConfig             `json:"summary"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Notion      NotionConfig              `json:"notion"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // minutes
	ScratchDir        string `json:"scratch_dir"`
	QueueTopic        string `json:"queue_topic"`
	CallbackURL       string `json:"callback_url"`
	TextPendingWindow int    `json:"text_pending_window"` // minutes
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type SlackConfig struct {
	SigningSecret string `json:"signing_secret"`
	BotToken      string `json:"bot_token"`
}

type StorageConfig struct {
	Bucket    string `json:"bucket"`
	ProjectID string `json:"project_id"`
}

type SpeechConfig struct {
	LanguageCode string `json:"language_code"`
	WaitTimeout  int    `json:"wait_timeout"` // minutes
}

type SummaryConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type NotionConfig struct {
	APIKey     string `json:"api_key"`
	DatabaseID string `json:"database_id"`
}

// Load reads configuration from the provided path (defaults to
// config.json). A missing file is not fatal: secrets can arrive entirely
// through the environment, and any stage whose credential is still absent
// degrades at runtime instead of crashing the process.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	if err == nil {
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.Slack.SigningSecret, "SLACK_SIGNING_SECRET")
	overrideString(&c.Slack.BotToken, "SLACK_BOT_TOKEN")
	overrideString(&c.Storage.Bucket, "GCS_BUCKET_NAME")
	overrideString(&c.Storage.ProjectID, "GOOGLE_CLOUD_PROJECT")
	overrideString(&c.Notion.APIKey, "NOTION_API_KEY")
	overrideString(&c.Notion.DatabaseID, "NOTION_DB_ID")
	overrideString(&c.BasicConfig.QueueTopic, "QUEUE_TOPIC_MEETING_JOBS")
	overrideString(&c.BasicConfig.CallbackURL, "CALLBACK_URL")

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		prov := c.Providers["gemini"]
		prov.APIKey = key
		c.Providers["gemini"] = prov
	}
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8080"
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "./data/dagitoru.db"}
	}
	if c.BasicConfig.MinWorkers <= 0 {
		c.BasicConfig.MinWorkers = 1
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		c.BasicConfig.MaxWorkers = c.BasicConfig.MinWorkers * 4
	}
	if c.BasicConfig.QueueSize <= 0 {
		c.BasicConfig.QueueSize = 64
	}
	if c.BasicConfig.QueueTopic == "" {
		c.BasicConfig.QueueTopic = "meeting-jobs"
	}
	if c.BasicConfig.ScratchDir == "" {
		c.BasicConfig.ScratchDir = filepath.Join(os.TempDir(), "dagitoru")
	}
	if c.BasicConfig.TextPendingWindow <= 0 {
		c.BasicConfig.TextPendingWindow = 10
	}
	if c.Speech.LanguageCode == "" {
		c.Speech.LanguageCode = "ja-JP"
	}
	if c.Speech.WaitTimeout <= 0 {
		c.Speech.WaitTimeout = 30
	}
	if c.Summary.Provider == "" {
		c.Summary.Provider = "gemini"
	}
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
