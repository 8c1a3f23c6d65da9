package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablerag/tablerag/internal/catalog"
	"github.com/tablerag/tablerag/internal/embedding"
	"github.com/tablerag/tablerag/internal/observability"
	"github.com/tablerag/tablerag/internal/vectorindex"
)

var ErrEmptyCatalogue = errors.New("kb: no entities to index")

// ReservedTables are bookkeeping tables that never enter the catalogue.
var ReservedTables = []string{catalog.TableName, "kb_build", "tablerag_schema_migrations"}

type Config struct {
	SnapshotPath   string
	Index          vectorindex.Config
	MaxFieldValues int
	Normalize      bool
	// BatchSize bounds texts per embedding request.
	BatchSize int
}

type Store interface {
	catalog.Reader
	catalog.Writer
	catalog.BuildLog
	EntityLister
}

type Dependencies struct {
	Source   catalog.TableSource
	Store    Store
	Embedder embedding.Service
	Live     *Live
	// Mirror and Exports are optional.
	Mirror  *SnapshotMirror
	Exports func(ctx context.Context, buildID string) (string, error)
	Logger  *slog.Logger
}

// Builder runs one build at a time.
type Builder struct {
	cfg  Config
	deps Dependencies
	mu   sync.Mutex
}

type BuildResult struct {
	Record   catalog.BuildRecord
	Failures []catalog.TableFailure
	Counts   map[catalog.EntityType]int
}

func NewBuilder(cfg Config, deps Dependencies) (*Builder, error) {
	if cfg.SnapshotPath == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("table source is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("catalogue store is required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Live == nil {
		deps.Live = NewLive(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &Builder{cfg: cfg, deps: deps}, nil
}

func (b *Builder) Live() *Live {
	return b.deps.Live
}

// Build rebuilds the knowledge base from the current data store. The live index
// is swapped as soon as the new catalogue commits; a failure before that commit
// leaves the previous knowledge base untouched.
func (b *Builder) Build(ctx context.Context) (BuildResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	started := time.Now().UTC()
	buildID := uuid.NewString()
	logger := observability.WithBuild(observability.LoggerFromContext(ctx, b.deps.Logger), buildID)

	firstID, err := b.nextGenerationID(ctx)
	if err != nil {
		return BuildResult{}, err
	}
	collected, err := catalog.Collect(ctx, b.deps.Source, catalog.CollectOptions{
		Exclude:        ReservedTables,
		MaxFieldValues: b.cfg.MaxFieldValues,
		FirstID:        firstID,
	})
	if err != nil {
		return BuildResult{}, err
	}
	for _, failure := range collected.Failures {
		logger.WarnContext(ctx, "table skipped during catalogue build", slog.String("table", failure.Table), slog.Any("error", failure.Err))
	}
	if len(collected.Entities) == 0 {
		return BuildResult{}, ErrEmptyCatalogue
	}

	vectors, err := b.embed(ctx, collected.Entities)
	if err != nil {
		return BuildResult{}, err
	}

	indexCfg := b.cfg.Index
	indexCfg.Dimensions = len(vectors[0])
	index, err := vectorindex.New(indexCfg)
	if err != nil {
		return BuildResult{}, err
	}
	ids := make([]int64, len(collected.Entities))
	for i, entity := range collected.Entities {
		ids[i] = entity.ID
	}
	if err := index.AddItems(vectors, ids); err != nil {
		return BuildResult{}, fmt.Errorf("index entities: %w", err)
	}

	staging := b.cfg.SnapshotPath + ".staging"
	if err := index.SaveIndex(staging); err != nil {
		return BuildResult{}, err
	}
	if err := b.deps.Store.ReplaceEntities(ctx, collected.Entities); err != nil {
		_ = os.Remove(staging)
		return BuildResult{}, fmt.Errorf("replace catalogue: %w", err)
	}
	// The new catalogue is visible from here on; the old index goes with the old ids.
	if err := VerifySync(ctx, b.deps.Store, index); err != nil {
		_ = os.Remove(staging)
		observability.IncrementCatalogueDesync()
		return BuildResult{}, err
	}
	b.deps.Live.Swap(index)

	if err := os.Rename(staging, b.cfg.SnapshotPath); err != nil {
		return BuildResult{}, fmt.Errorf("publish snapshot: %w", err)
	}
	if b.deps.Mirror != nil {
		if err := b.deps.Mirror.Upload(ctx, b.cfg.SnapshotPath); err != nil {
			logger.WarnContext(ctx, "snapshot mirror upload failed", slog.Any("error", err))
		}
	}

	failed := make([]string, 0, len(collected.Failures))
	for _, failure := range collected.Failures {
		failed = append(failed, failure.Table)
	}
	record := catalog.BuildRecord{
		BuildID:        buildID,
		StartedAt:      started,
		FinishedAt:     time.Now().UTC(),
		EntityCount:    int64(len(collected.Entities)),
		TableCount:     int64(len(collected.Tables)),
		FailedTables:   failed,
		EmbeddingModel: b.deps.Embedder.Model(),
		SnapshotPath:   b.cfg.SnapshotPath,
	}
	if err := b.deps.Store.RecordBuild(ctx, record); err != nil {
		logger.WarnContext(ctx, "record build failed", slog.Any("error", err))
	}
	if b.deps.Exports != nil {
		if key, err := b.deps.Exports(ctx, buildID); err != nil {
			logger.WarnContext(ctx, "entities export failed", slog.Any("error", err))
		} else {
			logger.InfoContext(ctx, "entities exported", slog.String("key", key))
		}
	}

	elapsed := record.FinishedAt.Sub(started)
	observability.ObserveKBBuild(elapsed)
	observability.SetKBEntities(record.EntityCount)
	logger.InfoContext(ctx, "knowledge base built",
		slog.Int64("entities", record.EntityCount),
		slog.Int64("tables", record.TableCount),
		slog.Int("failed_tables", len(failed)),
		slog.Duration("elapsed", elapsed),
	)
	return BuildResult{Record: record, Failures: collected.Failures, Counts: collected.Counts()}, nil
}

// nextGenerationID returns the first id of a new catalogue generation. Ids never
// repeat across generations, so a lookup through a superseded index misses.
func (b *Builder) nextGenerationID(ctx context.Context) (int64, error) {
	ids, err := b.deps.Store.ListEntityIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list catalogue ids: %w", err)
	}
	var highest int64
	for _, id := range ids {
		if id > highest {
			highest = id
		}
	}
	return highest + 1, nil
}

func (b *Builder) embed(ctx context.Context, entities []catalog.Entity) ([][]float32, error) {
	vectors := make([][]float32, 0, len(entities))
	for start := 0; start < len(entities); start += b.cfg.BatchSize {
		end := start + b.cfg.BatchSize
		if end > len(entities) {
			end = len(entities)
		}
		texts := make([]string, end-start)
		for i, entity := range entities[start:end] {
			texts[i] = entity.Description
		}
		batch, err := b.deps.Embedder.EmbedBatch(ctx, texts, b.cfg.Normalize)
		if err != nil {
			return nil, fmt.Errorf("embed entities %d-%d: %w", start+1, end, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// Load opens the snapshot at path, fetching it from mirror first when the local
// file is missing, and checks it against the catalogue. A missing snapshot with
// no mirror copy returns os.ErrNotExist.
func Load(ctx context.Context, path string, mirror *SnapshotMirror, reader catalog.Reader, logger *slog.Logger) (*vectorindex.Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	exists, err := fileExists(path)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	if !exists && mirror != nil {
		found, err := mirror.Download(ctx, path)
		if err != nil {
			return nil, err
		}
		if found {
			logger.InfoContext(ctx, "snapshot restored from object store", slog.String("key", mirror.Key()))
		}
		exists = found
	}
	if !exists {
		return nil, fmt.Errorf("snapshot %s: %w", path, os.ErrNotExist)
	}

	index, err := vectorindex.LoadIndex(path)
	if err != nil {
		return nil, err
	}
	if reader != nil {
		if err := VerifySync(ctx, reader, index); err != nil {
			observability.IncrementCatalogueDesync()
			return nil, err
		}
	}
	observability.SetKBEntities(int64(index.Len()))
	return index, nil
}
