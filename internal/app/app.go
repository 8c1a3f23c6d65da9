package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tablerag/tablerag/internal/catalog"
	"github.com/tablerag/tablerag/internal/catalog/sqlrepo"
	"github.com/tablerag/tablerag/internal/config"
	"github.com/tablerag/tablerag/internal/embedding"
	"github.com/tablerag/tablerag/internal/ingest"
	"github.com/tablerag/tablerag/internal/kb"
	"github.com/tablerag/tablerag/internal/llm"
	"github.com/tablerag/tablerag/internal/migrations"
	"github.com/tablerag/tablerag/internal/query"
	"github.com/tablerag/tablerag/internal/query/duckdb"
	"github.com/tablerag/tablerag/internal/rag"
	"github.com/tablerag/tablerag/internal/storage"
	s3store "github.com/tablerag/tablerag/internal/storage/s3"
	"github.com/tablerag/tablerag/internal/vectorindex"
)

// App owns every long-lived resource of a process. Embedding and LLM clients
// are created on first use so commands that never need them run without keys.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Data     *duckdb.Store
	Catalog  *sqlrepo.Repository
	Objects  storage.ObjectStore
	Mirror   *kb.SnapshotMirror
	Live     *kb.Live
	Ingest   *ingest.Service
	Sessions *rag.SessionStore

	dataDB    *sql.DB
	catalogDB *sql.DB

	mu           sync.Mutex
	embedder     embedding.Service
	llmClient    llm.Client
	builder      *kb.Builder
	orchestrator *rag.Orchestrator
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Live: kb.NewLive(nil), Sessions: rag.NewSessionStore()}

	dataDB, err := duckdb.Open(ctx, cfg.DataStore.Path)
	if err != nil {
		return nil, err
	}
	a.dataDB = dataDB
	a.Data = duckdb.NewStore(dataDB, kb.ReservedTables...)

	if err := a.openCatalog(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.ObjectStore.Enabled {
		objects, err := s3store.New(ctx, s3store.ConfigFrom(cfg.ObjectStore))
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("initialize object store: %w", err)
		}
		a.Objects = objects
		a.Mirror, err = kb.NewSnapshotMirror(objects, cfg.Index.SnapshotName)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	a.Ingest, err = ingest.NewService(a.Data, ingest.Options{
		Delimiter:  cfg.Ingest.Delimiter,
		Extensions: cfg.Ingest.Extensions,
	}, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// openCatalog connects the entity catalogue. A DuckDB catalogue pointing at the
// data store file shares its handle; DuckDB catalogues are migrated in place.
func (a *App) openCatalog(ctx context.Context) error {
	cfg := a.Config.Catalog
	if cfg.Driver == sqlrepo.DriverDuckDB && sameFile(cfg.DSN, a.Config.DataStore.Path) {
		a.catalogDB = a.dataDB
	} else {
		db, err := sqlrepo.Open(ctx, sqlrepo.DBConfig{
			Driver:          cfg.Driver,
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("open catalog db: %w", err)
		}
		a.catalogDB = db
	}
	if cfg.Driver == sqlrepo.DriverDuckDB {
		if _, err := migrations.NewRunner().Up(ctx, a.catalogDB, 0); err != nil {
			return fmt.Errorf("migrate catalog: %w", err)
		}
	}
	a.Catalog = sqlrepo.NewRepository(a.catalogDB)
	return nil
}

func sameFile(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

// LoadIndex loads the persisted snapshot into Live. A knowledge base that was
// never built is not an error; loaded reports whether an index is now live.
func (a *App) LoadIndex(ctx context.Context) (bool, error) {
	index, err := kb.Load(ctx, a.Config.Index.Path, a.Mirror, a.Catalog, a.Logger)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.Logger.WarnContext(ctx, "no knowledge base snapshot found; run a build first", slog.String("path", a.Config.Index.Path))
			return false, nil
		}
		return false, err
	}
	a.Live.Swap(index)
	a.Logger.InfoContext(ctx, "knowledge base loaded", slog.Int("entities", index.Len()))
	return true, nil
}

// UseEmbedder replaces the configured embedding provider. It must be called
// before Builder or Orchestrator.
func (a *App) UseEmbedder(embedder embedding.Service) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.embedder = embedder
}

// UseLLM replaces the configured completion client. It must be called before
// Orchestrator.
func (a *App) UseLLM(client llm.Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.llmClient = client
}

func (a *App) Embedder() (embedding.Service, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.embedderLocked()
}

func (a *App) embedderLocked() (embedding.Service, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	cfg := a.Config.Embedding
	switch cfg.Provider {
	case "ollama":
		a.embedder = embedding.NewOllamaEmbedder(embedding.OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	default:
		embedder, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize embedder: %w", err)
		}
		a.embedder = embedder
	}
	return a.embedder, nil
}

func (a *App) llmLocked() (llm.Client, error) {
	if a.llmClient != nil {
		return a.llmClient, nil
	}
	cfg := a.Config.AI
	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize llm client: %w", err)
	}
	a.llmClient = client
	return client, nil
}

func (a *App) Builder() (*kb.Builder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.builder != nil {
		return a.builder, nil
	}
	embedder, err := a.embedderLocked()
	if err != nil {
		return nil, err
	}
	deps := kb.Dependencies{
		Source:   a.Data,
		Store:    a.Catalog,
		Embedder: embedder,
		Live:     a.Live,
		Mirror:   a.Mirror,
		Logger:   a.Logger,
	}
	if a.Objects != nil {
		objects := a.Objects
		deps.Exports = func(ctx context.Context, buildID string) (string, error) {
			return kb.PublishExport(ctx, a.Catalog, objects, buildID)
		}
	}
	builder, err := kb.NewBuilder(kb.Config{
		SnapshotPath: a.Config.Index.Path,
		Index: vectorindex.Config{
			Metric:      vectorindex.Metric(a.Config.Index.Metric),
			MaxElements: a.Config.Index.MaxElements,
			M:           a.Config.Index.M,
			EfSearch:    a.Config.Index.EfSearch,
		},
		MaxFieldValues: a.Config.Retrieval.MaxFieldValues,
		Normalize:      a.Config.Embedding.Normalize,
	}, deps)
	if err != nil {
		return nil, err
	}
	a.builder = builder
	return builder, nil
}

func (a *App) Orchestrator() (*rag.Orchestrator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.orchestrator != nil {
		return a.orchestrator, nil
	}
	embedder, err := a.embedderLocked()
	if err != nil {
		return nil, err
	}
	client, err := a.llmLocked()
	if err != nil {
		return nil, err
	}
	orchestrator, err := rag.NewOrchestrator(rag.Config{
		TopK:         a.Config.Retrieval.TopK,
		HistoryPairs: a.Config.Retrieval.HistoryPairs,
		RowLimit:     a.Config.Retrieval.RowLimit,
		CallTimeout:  a.Config.Retrieval.CallTimeout,
		Normalize:    a.Config.Embedding.Normalize,
	}, rag.Dependencies{
		Embedder:  embedder,
		Index:     a.Live,
		Catalog:   a.Catalog,
		Schema:    a.Data,
		LLM:       client,
		Engine:    a.Data,
		Validator: query.ReadOnlyValidator{},
		Logger:    a.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.orchestrator = orchestrator
	return orchestrator, nil
}

// KBStatus summarizes the live knowledge base against the catalogue.
type KBStatus struct {
	Entities  int64                `json:"entity_count"`
	IndexSize int                  `json:"index_size"`
	InSync    bool                 `json:"in_sync"`
	LastBuild *catalog.BuildRecord `json:"last_build,omitempty"`
}

func (a *App) KBStatus(ctx context.Context) (KBStatus, error) {
	count, err := a.Catalog.CountEntities(ctx)
	if err != nil {
		return KBStatus{}, err
	}
	status := KBStatus{Entities: count, IndexSize: a.Live.Len()}
	if a.Live.Current() != nil {
		status.InSync = kb.VerifySync(ctx, a.Catalog, a.Live) == nil
	}
	last, err := a.Catalog.LatestBuild(ctx)
	switch {
	case err == nil:
		status.LastBuild = &last
	case !errors.Is(err, catalog.ErrNotFound):
		return KBStatus{}, err
	}
	return status, nil
}

func (a *App) HealthCheck(ctx context.Context) error {
	if err := a.dataDB.PingContext(ctx); err != nil {
		return fmt.Errorf("data store: %w", err)
	}
	return a.Catalog.HealthCheck(ctx)
}

func (a *App) Close() error {
	var errs []error
	if a.catalogDB != nil && a.catalogDB != a.dataDB {
		errs = append(errs, a.catalogDB.Close())
	}
	if a.dataDB != nil {
		errs = append(errs, a.dataDB.Close())
	}
	return errors.Join(errs...)
}
