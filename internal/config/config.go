package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	DataStore     DataStoreConfig
	Catalog       CatalogConfig
	ObjectStore   ObjectStoreConfig
	Embedding     EmbeddingConfig
	Index         IndexConfig
	AI            AIConfig
	Retrieval     RetrievalConfig
	Ingest        IngestConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DataStoreConfig points at the DuckDB file holding the imported source tables.
type DataStoreConfig struct {
	Path string
}

type CatalogConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObjectStoreConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type EmbeddingConfig struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Normalize  bool
	Timeout    time.Duration
}

type IndexConfig struct {
	Path         string
	// SnapshotName is the mirrored object name under kb/snapshots/.
	SnapshotName string
	Metric       string
	MaxElements  int
	M            int
	EfSearch     int
}

type AIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

type RetrievalConfig struct {
	TopK           int
	HistoryPairs   int
	RowLimit       int
	MaxFieldValues int
	CallTimeout    time.Duration
}

type IngestConfig struct {
	Delimiter  string
	Extensions []string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("TABLERAG_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid TABLERAG_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "TABLERAG_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "TABLERAG_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "TABLERAG_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "TABLERAG_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "TABLERAG_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "TABLERAG_DATA_PATH", &cfg.DataStore.Path) },

		func() error { return applyString(lookup, "TABLERAG_CATALOG_DRIVER", &cfg.Catalog.Driver) },
		func() error { return applyString(lookup, "TABLERAG_CATALOG_DSN", &cfg.Catalog.DSN) },
		func() error { return applyInt(lookup, "TABLERAG_CATALOG_MAX_OPEN_CONNS", &cfg.Catalog.MaxOpenConns) },
		func() error { return applyInt(lookup, "TABLERAG_CATALOG_MAX_IDLE_CONNS", &cfg.Catalog.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "TABLERAG_CATALOG_CONN_MAX_IDLE_TIME", &cfg.Catalog.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "TABLERAG_CATALOG_CONN_MAX_LIFETIME", &cfg.Catalog.ConnMaxLifetime)
		},

		func() error { return applyBool(lookup, "TABLERAG_OBJECTSTORE_ENABLED", &cfg.ObjectStore.Enabled) },
		func() error { return applyString(lookup, "TABLERAG_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "TABLERAG_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "TABLERAG_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "TABLERAG_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "TABLERAG_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "TABLERAG_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "TABLERAG_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "TABLERAG_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyString(lookup, "TABLERAG_EMBEDDING_PROVIDER", &cfg.Embedding.Provider) },
		func() error { return applyString(lookup, "TABLERAG_EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL) },
		func() error { return applyString(lookup, "TABLERAG_EMBEDDING_API_KEY", &cfg.Embedding.APIKey) },
		func() error { return applyString(lookup, "TABLERAG_EMBEDDING_MODEL", &cfg.Embedding.Model) },
		func() error { return applyInt(lookup, "TABLERAG_EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions) },
		func() error { return applyBool(lookup, "TABLERAG_EMBEDDING_NORMALIZE", &cfg.Embedding.Normalize) },
		func() error { return applyDuration(lookup, "TABLERAG_EMBEDDING_TIMEOUT", &cfg.Embedding.Timeout) },

		func() error { return applyString(lookup, "TABLERAG_INDEX_PATH", &cfg.Index.Path) },
		func() error { return applyString(lookup, "TABLERAG_INDEX_SNAPSHOT_NAME", &cfg.Index.SnapshotName) },
		func() error { return applyString(lookup, "TABLERAG_INDEX_METRIC", &cfg.Index.Metric) },
		func() error { return applyInt(lookup, "TABLERAG_INDEX_MAX_ELEMENTS", &cfg.Index.MaxElements) },
		func() error { return applyInt(lookup, "TABLERAG_INDEX_M", &cfg.Index.M) },
		func() error { return applyInt(lookup, "TABLERAG_INDEX_EF_SEARCH", &cfg.Index.EfSearch) },

		func() error { return applyString(lookup, "TABLERAG_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "TABLERAG_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "TABLERAG_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "TABLERAG_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyInt(lookup, "TABLERAG_AI_MAX_TOKENS", &cfg.AI.MaxTokens) },
		func() error { return applyDuration(lookup, "TABLERAG_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "TABLERAG_AI_MAX_RETRIES", &cfg.AI.MaxRetries) },
		func() error { return applyDuration(lookup, "TABLERAG_AI_RETRY_DELAY", &cfg.AI.RetryDelay) },

		func() error { return applyInt(lookup, "TABLERAG_RETRIEVAL_TOP_K", &cfg.Retrieval.TopK) },
		func() error { return applyInt(lookup, "TABLERAG_RETRIEVAL_HISTORY_PAIRS", &cfg.Retrieval.HistoryPairs) },
		func() error { return applyInt(lookup, "TABLERAG_RETRIEVAL_ROW_LIMIT", &cfg.Retrieval.RowLimit) },
		func() error {
			return applyInt(lookup, "TABLERAG_RETRIEVAL_MAX_FIELD_VALUES", &cfg.Retrieval.MaxFieldValues)
		},
		func() error { return applyDuration(lookup, "TABLERAG_RETRIEVAL_CALL_TIMEOUT", &cfg.Retrieval.CallTimeout) },

		func() error { return applyString(lookup, "TABLERAG_INGEST_DELIMITER", &cfg.Ingest.Delimiter) },
		func() error { return applyList(lookup, "TABLERAG_INGEST_EXTENSIONS", &cfg.Ingest.Extensions) },

		func() error { return applyBool(lookup, "TABLERAG_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "TABLERAG_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "TABLERAG_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "TABLERAG_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch cfg.Catalog.Driver {
	case "duckdb", "pgx":
	default:
		return fmt.Errorf("invalid TABLERAG_CATALOG_DRIVER: %q", cfg.Catalog.Driver)
	}
	switch cfg.Embedding.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("invalid TABLERAG_EMBEDDING_PROVIDER: %q", cfg.Embedding.Provider)
	}
	switch cfg.Index.Metric {
	case "cosine", "euclidean":
	default:
		return fmt.Errorf("invalid TABLERAG_INDEX_METRIC: %q", cfg.Index.Metric)
	}
	if cfg.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top k must be > 0")
	}
	if cfg.Retrieval.HistoryPairs < 0 {
		return fmt.Errorf("retrieval history pairs must be >= 0")
	}
	if len([]rune(cfg.Ingest.Delimiter)) != 1 {
		return fmt.Errorf("ingest delimiter must be a single character")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "tablerag-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		DataStore: DataStoreConfig{
			Path: "data_store.duckdb",
		},
		Catalog: CatalogConfig{
			Driver:          "duckdb",
			DSN:             "entities.duckdb",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "tablerag",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			AutoCreateBucket: true,
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			Normalize:  true,
			Timeout:    30 * time.Second,
		},
		Index: IndexConfig{
			Path:         "vector_index.bin",
			SnapshotName: "vector_index.bin",
			Metric:       "cosine",
			MaxElements:  0,
			M:            16,
			EfSearch:     50,
		},
		AI: AIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.1,
			MaxTokens:   1000,
			Timeout:     60 * time.Second,
			MaxRetries:  2,
			RetryDelay:  time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:           20,
			HistoryPairs:   3,
			RowLimit:       200,
			MaxFieldValues: 0,
			CallTimeout:    60 * time.Second,
		},
		Ingest: IngestConfig{
			Delimiter:  ";",
			Extensions: []string{".csv", ".parquet"},
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	items := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, part)
		}
	}
	*dst = items
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
