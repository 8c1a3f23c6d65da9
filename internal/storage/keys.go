package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const (
	snapshotDir = "kb/snapshots"
	exportDir   = "kb/exports"
	// SourcePrefix holds remote source files picked up by ingest.
	SourcePrefix = "sources/"
)

var keyComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// SnapshotKey is where the vector index snapshot named name is mirrored.
func SnapshotKey(name string) (string, error) {
	if err := validateKeyComponent(name, "snapshot name"); err != nil {
		return "", err
	}
	return path.Join(snapshotDir, name), nil
}

// EntitiesExportKey is the Parquet export of the catalogue written by build buildID.
func EntitiesExportKey(buildID string) (string, error) {
	if err := validateKeyComponent(buildID, "build id"); err != nil {
		return "", err
	}
	return path.Join(exportDir, "entities-"+buildID+".parquet"), nil
}

// SourceName returns the file name of a source object key, or "" when key is
// not under SourcePrefix or names a directory.
func SourceName(key string) string {
	if !strings.HasPrefix(key, SourcePrefix) {
		return ""
	}
	name := strings.TrimPrefix(key, SourcePrefix)
	if name == "" || strings.HasSuffix(name, "/") {
		return ""
	}
	return path.Base(name)
}

func validateKeyComponent(value, field string) error {
	if !keyComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
