package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app"`
	Logging    Logging    `mapstructure:"logging"`
	AI         AI         `mapstructure:"ai"`
	Embedding  Embedding  `mapstructure:"embedding"`
	Database   Database   `mapstructure:"database"`
	Feeds      Feeds      `mapstructure:"feeds"`
	Pipeline   Pipeline   `mapstructure:"pipeline"`
	Clustering Clustering `mapstructure:"clustering"`
	Report     Report     `mapstructure:"report"`
	Scheduler  Scheduler  `mapstructure:"scheduler"`
	Server     Server     `mapstructure:"server"`
	Events     Events     `mapstructure:"events"`
}

// App holds general application configuration
type App struct {
	Name  string `mapstructure:"name"`
	Debug bool   `mapstructure:"debug"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AI holds reasoning collaborator configuration. Provider selects which
// backend serves prompts; "none" or a missing key runs in degraded mode.
type AI struct {
	Provider string         `mapstructure:"provider"`
	Timeout  string         `mapstructure:"timeout"`
	DeepSeek DeepSeekConfig `mapstructure:"deepseek"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
}

// DeepSeekConfig holds the OpenAI-compatible chat endpoint configuration
type DeepSeekConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// Embedding holds embedder configuration
type Embedding struct {
	Provider   string `mapstructure:"provider"`
	Dimensions int    `mapstructure:"dimensions"`
}

// Database holds persistence configuration
type Database struct {
	Driver           string `mapstructure:"driver"`
	ConnectionString string `mapstructure:"connection_string"`
}

// FeedSource is one upstream feed
type FeedSource struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
	Type string `mapstructure:"type"`
}

// Feeds holds RSS/feed configuration
type Feeds struct {
	Sources         []FeedSource `mapstructure:"sources"`
	UserAgent       string       `mapstructure:"user_agent"`
	Timeout         string       `mapstructure:"timeout"`
	MaxItemsPerFeed int          `mapstructure:"max_items_per_feed"`
}

// Pipeline holds orchestrator tuning
type Pipeline struct {
	CurationWindow     string `mapstructure:"curation_window"`
	CurationLimit      int    `mapstructure:"curation_limit"`
	FallbackSize       int    `mapstructure:"fallback_size"`
	MaxConcurrency     int    `mapstructure:"max_concurrency"`
	ClusterWindow      string `mapstructure:"cluster_window"`
	IndexWindow        string `mapstructure:"index_window"`
	KeywordPass        bool   `mapstructure:"keyword_pass"`
	ResearchMinMembers int    `mapstructure:"research_min_members"`
}

// Clustering holds similarity thresholds
type Clustering struct {
	JaccardThreshold float64 `mapstructure:"jaccard_threshold"`
	CosineThreshold  float64 `mapstructure:"cosine_threshold"`
}

// Report holds report cache configuration
type Report struct {
	TTL          string `mapstructure:"ttl"`
	ContextLimit int    `mapstructure:"context_limit"`
	MinLength    int    `mapstructure:"min_length"`
}

// Scheduler holds periodic job intervals
type Scheduler struct {
	Enabled          bool   `mapstructure:"enabled"`
	PipelineInterval string `mapstructure:"pipeline_interval"`
	IndexInterval    string `mapstructure:"index_interval"`
}

// Server holds HTTP server configuration
type Server struct {
	Host            string   `mapstructure:"host"`
	Port            int      `mapstructure:"port"`
	ReadTimeout     string   `mapstructure:"read_timeout"`
	WriteTimeout    string   `mapstructure:"write_timeout"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

// Events holds the alert event sink configuration
type Events struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig holds Kafka publisher configuration
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".narrativeos")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.name", "narrativeos")
	viper.SetDefault("app.debug", false)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("ai.provider", "deepseek")
	viper.SetDefault("ai.timeout", "30s")
	viper.SetDefault("ai.deepseek.model", "deepseek-chat")
	viper.SetDefault("ai.deepseek.base_url", "https://api.deepseek.com/v1")
	viper.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	viper.SetDefault("ai.gemini.embedding_model", "text-embedding-004")

	viper.SetDefault("embedding.provider", "hash")
	viper.SetDefault("embedding.dimensions", 384)

	viper.SetDefault("database.driver", "memory")

	viper.SetDefault("feeds.sources", []map[string]any{
		{"name": "36Kr", "url": "https://36kr.com/feed", "type": "news"},
		{"name": "TechCrunch", "url": "https://techcrunch.com/feed/", "type": "news"},
		{"name": "CoinDesk", "url": "https://www.coindesk.com/arc/outboundfeeds/rss/", "type": "news"},
	})
	viper.SetDefault("feeds.user_agent", "NarrativeOS/1.0")
	viper.SetDefault("feeds.timeout", "30s")
	viper.SetDefault("feeds.max_items_per_feed", 50)

	viper.SetDefault("pipeline.curation_window", "24h")
	viper.SetDefault("pipeline.curation_limit", 100)
	viper.SetDefault("pipeline.fallback_size", 5)
	viper.SetDefault("pipeline.max_concurrency", 5)
	viper.SetDefault("pipeline.cluster_window", "24h")
	viper.SetDefault("pipeline.index_window", "168h")
	viper.SetDefault("pipeline.keyword_pass", false)
	viper.SetDefault("pipeline.research_min_members", 5)

	viper.SetDefault("clustering.jaccard_threshold", 0.15)
	viper.SetDefault("clustering.cosine_threshold", 0.85)

	viper.SetDefault("report.ttl", "24h")
	viper.SetDefault("report.context_limit", 30)
	viper.SetDefault("report.min_length", 100)

	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.pipeline_interval", "30m")
	viper.SetDefault("scheduler.index_interval", "1h")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 3001)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.allowed_origins", []string{"*"})

	viper.SetDefault("events.kafka.enabled", false)
	viper.SetDefault("events.kafka.topic", "narrative-alerts")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.deepseek.api_key", []string{
		"DEEPSEEK_API_KEY",
		"OPENAI_API_KEY",
	})

	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("database.connection_string", []string{
		"DATABASE_URL",
		"POSTGRES_URL",
	})

	bindEnvKeys("server.port", []string{
		"PORT",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"NARRATIVEOS_DEBUG",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.App.Debug {
		config.Logging.Level = "debug"
	}

	durations := map[string]string{
		"ai.timeout":                  config.AI.Timeout,
		"feeds.timeout":               config.Feeds.Timeout,
		"pipeline.curation_window":    config.Pipeline.CurationWindow,
		"pipeline.cluster_window":     config.Pipeline.ClusterWindow,
		"pipeline.index_window":       config.Pipeline.IndexWindow,
		"report.ttl":                  config.Report.TTL,
		"scheduler.pipeline_interval": config.Scheduler.PipelineInterval,
		"scheduler.index_interval":    config.Scheduler.IndexInterval,
		"server.read_timeout":         config.Server.ReadTimeout,
		"server.write_timeout":        config.Server.WriteTimeout,
		"server.shutdown_timeout":     config.Server.ShutdownTimeout,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// validateConfig ensures configuration values are coherent. Missing AI
// credentials are not an error: the pipeline runs in degraded mode.
func validateConfig(config *Config) error {
	var errors []string

	switch config.AI.Provider {
	case "deepseek", "gemini", "none":
	default:
		errors = append(errors, fmt.Sprintf("Unknown AI provider: %s. Supported: deepseek, gemini, none", config.AI.Provider))
	}

	switch config.Embedding.Provider {
	case "hash", "gemini":
	default:
		errors = append(errors, fmt.Sprintf("Unknown embedding provider: %s. Supported: hash, gemini", config.Embedding.Provider))
	}
	if config.Embedding.Dimensions <= 0 {
		errors = append(errors, "embedding.dimensions must be positive")
	}

	switch config.Database.Driver {
	case "memory":
	case "postgres":
		if config.Database.ConnectionString == "" {
			errors = append(errors, "Postgres requires a connection string. Set DATABASE_URL or database.connection_string")
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown database driver: %s. Supported: memory, postgres", config.Database.Driver))
	}

	for i, src := range config.Feeds.Sources {
		if src.URL == "" {
			errors = append(errors, fmt.Sprintf("feeds.sources[%d] is missing a url", i))
		}
		if src.Type != "" && src.Type != "news" && src.Type != "social" {
			errors = append(errors, fmt.Sprintf("feeds.sources[%d] has unknown type %q", i, src.Type))
		}
	}

	if t := config.Clustering.JaccardThreshold; t <= 0 || t > 1 {
		errors = append(errors, "clustering.jaccard_threshold must be in (0, 1]")
	}
	if t := config.Clustering.CosineThreshold; t <= 0 || t > 1 {
		errors = append(errors, "clustering.cosine_threshold must be in (0, 1]")
	}

	if config.Events.Kafka.Enabled && len(config.Events.Kafka.Brokers) == 0 {
		errors = append(errors, "Kafka events require at least one broker")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Duration parses a duration that postProcessConfig already validated.
// Empty or invalid values yield fallback.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// HasAICredentials reports whether the selected provider has an API key.
func (a AI) HasAICredentials() bool {
	switch a.Provider {
	case "deepseek":
		return isValidAPIKey(a.DeepSeek.APIKey)
	case "gemini":
		return isValidAPIKey(a.Gemini.APIKey)
	default:
		return false
	}
}

// isValidAPIKey checks if an API key is valid (not empty and not a placeholder)
func isValidAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}

	placeholders := []string{
		"your-api-key", "your-deepseek-key", "your-gemini-key",
		"YOUR_API_KEY", "PLACEHOLDER", "TODO", "CHANGE_ME",
	}

	for _, placeholder := range placeholders {
		if apiKey == placeholder {
			return false
		}
	}

	return true
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
