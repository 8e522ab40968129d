package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	IndexBackendZilliz = "zilliz"
	IndexBackendMilvus = "milvus"
	IndexBackendMemory = "memory"
)

type Config struct {
	Server    ServerConfig
	Index     IndexConfig
	Embedding EmbeddingConfig
	LLM       LLMConfig
	Redis     RedisConfig
	History   HistoryConfig
	Ingestion IngestionConfig
	Retrieval RetrievalConfig
	Notify    NotifyConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	Env          string
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type IndexConfig struct {
	Backend   string
	Endpoint  string
	APIKey    string
	Name      string
	Dimension int
}

type EmbeddingConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	BatchSize  int
	TimeoutSec int
}

type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type RedisConfig struct {
	Enabled         bool
	Host            string
	Port            int
	Password        string
	DB              int
	EmbeddingTTLSec int
}

type HistoryConfig struct {
	Enabled bool
	Path    string
}

type IngestionConfig struct {
	BatchPages   int
	ChunkSize    int
	ChunkOverlap int
	TempDir      string
	MaxFiles     int
}

type RetrievalConfig struct {
	AskK     int
	ExtractK int
	AuditK   int
}

type NotifyConfig struct {
	DelaySec   int
	TimeoutSec int
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// envAliases keeps the variable names used by earlier deployments working.
var envAliases = map[string][]string{
	"llm.apiKey":       {"CONTRACT_LLM_APIKEY", "GROQ_API_KEY"},
	"index.apiKey":     {"CONTRACT_INDEX_APIKEY", "ZILLIZ_API_KEY", "INDEX_API_KEY"},
	"index.name":       {"CONTRACT_INDEX_NAME", "INDEX_NAME"},
	"embedding.model":  {"CONTRACT_EMBEDDING_MODEL", "EMBEDDING_MODEL"},
	"embedding.apiKey": {"CONTRACT_EMBEDDING_APIKEY", "EMBEDDING_API_KEY"},
	"redis.password":   {"CONTRACT_REDIS_PASSWORD", "REDIS_PASSWORD"},
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/contract-intel")

	v.SetEnvPrefix("CONTRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range envAliases {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.LLM.APIKey) == "" {
		errs = append(errs, errors.New("llm.apiKey is required (GROQ_API_KEY)"))
	}

	switch c.Index.Backend {
	case IndexBackendZilliz:
		if strings.TrimSpace(c.Index.APIKey) == "" {
			errs = append(errs, errors.New("index.apiKey is required for the zilliz backend (ZILLIZ_API_KEY)"))
		}
	case IndexBackendMilvus, IndexBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown index.backend %q", c.Index.Backend))
	}

	if c.Index.Dimension <= 0 {
		errs = append(errs, errors.New("index.dimension must be positive"))
	}
	if c.Ingestion.BatchPages <= 0 {
		errs = append(errs, errors.New("ingestion.batchPages must be positive"))
	}
	if c.Ingestion.ChunkSize <= 0 || c.Ingestion.ChunkOverlap < 0 || 2*c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		errs = append(errs, errors.New("ingestion.chunkOverlap must be non-negative and less than half of ingestion.chunkSize"))
	}
	if c.Retrieval.AskK <= 0 || c.Retrieval.ExtractK <= 0 || c.Retrieval.AuditK <= 0 {
		errs = append(errs, errors.New("retrieval top-k values must be positive"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.env", "production")
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 52428800)

	v.SetDefault("index.backend", IndexBackendZilliz)
	v.SetDefault("index.endpoint", "localhost:19530")
	v.SetDefault("index.name", "contract_intelligence")
	v.SetDefault("index.dimension", 384)

	v.SetDefault("embedding.baseURL", "http://localhost:7997/v1")
	v.SetDefault("embedding.model", "BAAI/bge-small-en-v1.5")
	v.SetDefault("embedding.batchSize", 64)
	v.SetDefault("embedding.timeoutSec", 30)

	v.SetDefault("llm.baseURL", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.temperature", 0)
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTLSec", 86400)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "./data/contracts.db")

	v.SetDefault("ingestion.batchPages", 10)
	v.SetDefault("ingestion.chunkSize", 1000)
	v.SetDefault("ingestion.chunkOverlap", 100)
	v.SetDefault("ingestion.tempDir", "")
	v.SetDefault("ingestion.maxFiles", 20)

	v.SetDefault("retrieval.askK", 4)
	v.SetDefault("retrieval.extractK", 10)
	v.SetDefault("retrieval.auditK", 15)

	v.SetDefault("notify.delaySec", 5)
	v.SetDefault("notify.timeoutSec", 10)

	v.SetDefault("rateLimit.enabled", false)
	v.SetDefault("rateLimit.requestsPerMinute", 120)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
