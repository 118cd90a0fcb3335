// Package config provides unified configuration loading for the
// retrieval engine. Supports YAML files, environment variable
// overrides, and programmatic defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the retrieval engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Graph         GraphConfig         `yaml:"graph"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	LLM           LLMConfig           `yaml:"llm"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
	Databases     []SourceDBConfig    `yaml:"databases"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// GraphConfig selects and configures the graph store adapter backend.
type GraphConfig struct {
	Backend  string         `yaml:"backend"` // postgres or sqlite
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Vector   VectorConfig   `yaml:"vector"`
	Fulltext FulltextConfig `yaml:"fulltext"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// VectorConfig holds vector-index settings common to both backends.
type VectorConfig struct {
	Dimension int    `yaml:"dimension"` // default 1024
	Metric    string `yaml:"metric"`    // cosine
	IndexType string `yaml:"index_type"` // ivfflat or hnsw (postgres backend)
	Lists     int    `yaml:"lists"`
}

// FulltextConfig holds bleve index settings.
type FulltextConfig struct {
	IndexDir string `yaml:"index_dir"` // empty = in-memory
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Backend string      `yaml:"backend"` // redis or memory
	Redis   RedisConfig `yaml:"redis"`
	TTL     time.Duration `yaml:"ttl"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// EmbeddingConfig holds embedding client settings.
type EmbeddingConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Dimension     int    `yaml:"dimension"`
	ChunkSize     int    `yaml:"chunk_size"`     // default 64
	MaxConcurrent int    `yaml:"max_concurrent"` // default 20
	MaxAttempts   int    `yaml:"max_attempts"`
}

// LLMConfig holds per-model LLM client settings, one entry per named
// model used across the pipeline (filter, extend, etc.), matching the
// original source's per-model config map.
type LLMConfig struct {
	Models      map[string]LLMModelConfig `yaml:"models"`
	FilterModel string                    `yaml:"filter_model"`
	ExtendModel string                    `yaml:"extend_model"`
}

// LLMModelConfig holds connection settings for one named LLM model.
type LLMModelConfig struct {
	BaseURL string                 `yaml:"base_url"`
	APIKey  string                 `yaml:"api_key"`
	Model   string                 `yaml:"model"`
	Params  map[string]interface{} `yaml:"params"`
}

// RetrievalConfig holds retrieval-engine tuning knobs.
type RetrievalConfig struct {
	RRFk                  int     `yaml:"rrf_k"` // default 60
	DenseScoreThreshold   float64 `yaml:"dense_score_threshold"`
	KnowledgeTopDense     int     `yaml:"knowledge_top_dense"`
	KnowledgeTopSparse    int     `yaml:"knowledge_top_sparse"`
	KnowledgeTopFused     int     `yaml:"knowledge_top_fused"`
	ColumnTopDense        int     `yaml:"column_top_dense"`
	CellTopDense          int     `yaml:"cell_top_dense"`
	CellTopSparse         int     `yaml:"cell_top_sparse"`
	CellTopFused          int     `yaml:"cell_top_fused"`
	CellScoreScale        float64 `yaml:"cell_score_scale"`
}

// IngestionConfig holds ingestor tuning knobs.
type IngestionConfig struct {
	FewshotSampleLimit   int `yaml:"fewshot_sample_limit"` // 10000 rows
	FewshotQuota         int `yaml:"fewshot_quota"`        // 5 values/column
	FewshotMaxLen        int `yaml:"fewshot_max_len"`      // 300 chars
	AtomBatchSize        int `yaml:"atom_batch_size"`      // 128
	CellPartitionSize    int `yaml:"cell_partition_size"`  // 5000 rows
	CellMaxConcurrent    int `yaml:"cell_max_concurrent"`  // 20
	EmbedMaxAttempts     int `yaml:"embed_max_attempts"`   // 3
}

// PipelineConfig holds pipeline-runtime settings.
type PipelineConfig struct {
	StateStore    string `yaml:"state_store"` // file or sqlite
	SessionDir    string `yaml:"session_dir"`
	SQLitePath    string `yaml:"sqlite_path"`
	MaxTbNum      int    `yaml:"max_tb_num"`
	MaxColPerTb   int    `yaml:"max_col_per_tb"`
	TableFilterBatchSize int `yaml:"table_filter_batch_size"` // 5
	MaxConcurrent        int `yaml:"max_concurrent"`          // 20
	PromptDir            string `yaml:"prompt_dir"`
}

// ObservabilityConfig holds logging/observability settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json or console
	Service   string `yaml:"service"`
}

// AuthConfig holds auth subsystem settings.
type AuthConfig struct {
	Enabled             bool          `yaml:"enabled"`
	SecretKey           string        `yaml:"secret_key"`
	Algorithm           string        `yaml:"algorithm"` // HS256
	AccessTokenTTL      time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL     time.Duration `yaml:"refresh_token_ttl"`
	AuthDB              PostgresConfig `yaml:"auth_db"`
}

// SourceDBConfig is the per-database ingestion configuration:
// connection parameters plus the table/knowledge manifest.
type SourceDBConfig struct {
	DBCode   string            `yaml:"db_code"`
	DBName   string            `yaml:"db_name"`
	DBType   string            `yaml:"db_type"` // mysql or postgresql
	DSN      string            `yaml:"dsn"`
	Database string            `yaml:"database"`
	Tables   []TableDecl       `yaml:"tables"`
	Knowledge []KnowledgeDecl  `yaml:"knowledge"`
}

// TableDecl declares one table to ingest.
type TableDecl struct {
	TbCode    string   `yaml:"tb_code"`
	TbName    string   `yaml:"tb_name"`
	TbMeaning string   `yaml:"tb_meaning"`
	SyncCol   []string `yaml:"sync_col,omitempty"`
	NoSyncCol []string `yaml:"no_sync_col,omitempty"`
	Column    map[string]ColumnOverride `yaml:"column,omitempty"`
}

// ColumnOverride carries per-column config overrides (e.g. FK hints).
type ColumnOverride struct {
	ColMeaning   string                 `yaml:"col_meaning,omitempty"`
	ColAlias     []string               `yaml:"col_alias,omitempty"`
	FieldMeaning map[string]interface{} `yaml:"field_meaning,omitempty"`
	RelCol       string                 `yaml:"rel_col,omitempty"`
}

// KnowledgeDecl declares one knowledge node to ingest.
type KnowledgeDecl struct {
	KnCode  string   `yaml:"kn_code"`
	KnName  string   `yaml:"kn_name"`
	KnDesc  string   `yaml:"kn_desc"`
	KnDef   string   `yaml:"kn_def"`
	KnAlias []string `yaml:"kn_alias,omitempty"`
	RelKn   []string `yaml:"rel_kn,omitempty"`
	RelCol  []string `yaml:"rel_col,omitempty"`
}

// DefaultConfig returns sensible development defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     15 * time.Second,
			IdleTimeout:      60 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Graph: GraphConfig{
			Backend: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "./data/graph.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Vector: VectorConfig{
				Dimension: 1024,
				Metric:    "cosine",
				IndexType: "ivfflat",
				Lists:     100,
			},
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     5 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Dimension:     1024,
			ChunkSize:     64,
			MaxConcurrent: 20,
			MaxAttempts:   2,
		},
		LLM: LLMConfig{
			Models: map[string]LLMModelConfig{},
		},
		Retrieval: RetrievalConfig{
			RRFk:                60,
			DenseScoreThreshold: 0.7,
			KnowledgeTopDense:   10,
			KnowledgeTopSparse:  20,
			KnowledgeTopFused:   5,
			ColumnTopDense:      10,
			CellTopDense:        20,
			CellTopSparse:       20,
			CellTopFused:        10,
			CellScoreScale:      30,
		},
		Ingestion: IngestionConfig{
			FewshotSampleLimit: 10000,
			FewshotQuota:       5,
			FewshotMaxLen:      300,
			AtomBatchSize:      128,
			CellPartitionSize:  5000,
			CellMaxConcurrent:  20,
			EmbedMaxAttempts:   3,
		},
		Pipeline: PipelineConfig{
			StateStore:           "file",
			SessionDir:           "./data/sessions",
			SQLitePath:           "./data/pipeline.db",
			MaxTbNum:             5,
			MaxColPerTb:          20,
			TableFilterBatchSize: 5,
			MaxConcurrent:        20,
			PromptDir:            "./prompts",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
			Service:   "retrieval-engine",
		},
		Auth: AuthConfig{
			Enabled:         false,
			Algorithm:       "HS256",
			AccessTokenTTL:  30 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
	}
}

// Load reads a YAML config file, applies environment overrides, and
// validates the result. A missing file is not an error: DefaultConfig
// is used as the base instead.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks structural invariants of the loaded configuration.
func (c *Config) Validate() error {
	if c.Graph.Backend != "postgres" && c.Graph.Backend != "sqlite" {
		return fmt.Errorf("graph.backend must be postgres or sqlite, got %q", c.Graph.Backend)
	}
	if c.Embedding.ChunkSize <= 0 {
		return fmt.Errorf("embedding.chunk_size must be positive")
	}
	if c.Embedding.MaxConcurrent <= 0 {
		return fmt.Errorf("embedding.max_concurrent must be positive")
	}
	if c.Auth.Enabled && c.Auth.SecretKey == "" {
		return fmt.Errorf("auth.secret_key is required when auth is enabled")
	}
	for _, db := range c.Databases {
		if db.DBType != "mysql" && db.DBType != "postgresql" {
			return fmt.Errorf("database %q: db_type must be mysql or postgresql, got %q", db.DBCode, db.DBType)
		}
	}
	return nil
}

// IsDevelopment reports whether the configured log format indicates a
// local development setup.
func (c *Config) IsDevelopment() bool {
	return c.Observability.LogFormat == "console"
}

// ResolveRelativePath resolves targetPath relative to the directory of
// configPath, when targetPath is not already absolute.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) || targetPath == "" {
		return targetPath
	}
	return filepath.Join(filepath.Dir(configPath), targetPath)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("GRAPH_BACKEND"); v != "" {
		cfg.Graph.Backend = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Graph.Postgres.DSN = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Graph.SQLite.Path = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Backend = "redis"
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		cfg.Auth.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("AUTH_SECRET_KEY"); v != "" {
		cfg.Auth.SecretKey = v
	}
	if v := os.Getenv("PIPELINE_SESSION_DIR"); v != "" {
		cfg.Pipeline.SessionDir = v
	}
}
