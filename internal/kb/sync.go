package kb

import (
	"context"
	"fmt"
	"sort"

	"github.com/tablerag/tablerag/internal/catalog"
)

// IDSource is anything that can enumerate the ids it holds, such as an index.
type IDSource interface {
	IDs() []int64
}

// SyncError lists the ids present on only one side.
type SyncError struct {
	MissingFromCatalogue []int64
	MissingFromIndex     []int64
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("index and catalogue out of sync: %d ids missing from catalogue, %d missing from index",
		len(e.MissingFromCatalogue), len(e.MissingFromIndex))
}

// VerifySync checks that the index and the catalogue hold exactly the same ids.
func VerifySync(ctx context.Context, reader catalog.Reader, index IDSource) error {
	catalogueIDs, err := reader.ListEntityIDs(ctx)
	if err != nil {
		return fmt.Errorf("list catalogue ids: %w", err)
	}
	inCatalogue := make(map[int64]struct{}, len(catalogueIDs))
	for _, id := range catalogueIDs {
		inCatalogue[id] = struct{}{}
	}

	var syncErr SyncError
	inIndex := make(map[int64]struct{})
	for _, id := range index.IDs() {
		inIndex[id] = struct{}{}
		if _, ok := inCatalogue[id]; !ok {
			syncErr.MissingFromCatalogue = append(syncErr.MissingFromCatalogue, id)
		}
	}
	for _, id := range catalogueIDs {
		if _, ok := inIndex[id]; !ok {
			syncErr.MissingFromIndex = append(syncErr.MissingFromIndex, id)
		}
	}
	if len(syncErr.MissingFromCatalogue) == 0 && len(syncErr.MissingFromIndex) == 0 {
		return nil
	}
	sort.Slice(syncErr.MissingFromCatalogue, func(i, j int) bool {
		return syncErr.MissingFromCatalogue[i] < syncErr.MissingFromCatalogue[j]
	})
	sort.Slice(syncErr.MissingFromIndex, func(i, j int) bool {
		return syncErr.MissingFromIndex[i] < syncErr.MissingFromIndex[j]
	})
	return &syncErr
}
