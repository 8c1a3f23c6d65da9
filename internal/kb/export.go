package kb

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/tablerag/tablerag/internal/catalog"
	"github.com/tablerag/tablerag/internal/storage"
)

type EntityLister interface {
	ListEntities(ctx context.Context) ([]catalog.Entity, error)
}

type parquetEntity struct {
	ID          int64  `parquet:"id"`
	EntityType  string `parquet:"entity_type"`
	EntityName  string `parquet:"entity_name"`
	Description string `parquet:"entity_description"`
}

// ExportEntities writes the whole catalogue to w as Parquet and returns the row
// count.
func ExportEntities(ctx context.Context, lister EntityLister, w io.Writer) (int, error) {
	entities, err := lister.ListEntities(ctx)
	if err != nil {
		return 0, fmt.Errorf("list entities: %w", err)
	}
	rows := make([]parquetEntity, len(entities))
	for i, entity := range entities {
		rows[i] = parquetEntity{
			ID:          entity.ID,
			EntityType:  string(entity.Type),
			EntityName:  entity.Name,
			Description: entity.Description,
		}
	}

	writer := parquet.NewGenericWriter[parquetEntity](w)
	if _, err := writer.Write(rows); err != nil {
		return 0, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close parquet writer: %w", err)
	}
	return len(rows), nil
}

// PublishExport uploads the Parquet export of a build next to its snapshot.
func PublishExport(ctx context.Context, lister EntityLister, store storage.ObjectStore, buildID string) (string, error) {
	key, err := storage.EntitiesExportKey(buildID)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := ExportEntities(ctx, lister, &buf); err != nil {
		return "", err
	}
	if _, err := store.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), storage.PutOptions{ContentType: "application/vnd.apache.parquet"}); err != nil {
		return "", fmt.Errorf("upload entities export: %w", err)
	}
	return key, nil
}
