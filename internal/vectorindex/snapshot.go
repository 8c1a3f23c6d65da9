package vectorindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/coder/hnsw"
)

var ErrIncompatibleSnapshot = errors.New("vectorindex: incompatible snapshot")

const snapshotVersion uint16 = 1

var snapshotMagic = [4]byte{'T', 'R', 'A', 'G'}

type snapshotHeader struct {
	Magic       [4]byte
	Version     uint16
	Metric      uint8
	_           uint8
	Dimensions  uint32
	MaxElements uint64
	M           uint32
	EfSearch    uint32
	Count       uint64
}

func metricCode(metric Metric) uint8 {
	if metric == MetricEuclidean {
		return 2
	}
	return 1
}

func metricFromCode(code uint8) (Metric, error) {
	switch code {
	case 1:
		return MetricCosine, nil
	case 2:
		return MetricEuclidean, nil
	default:
		return "", fmt.Errorf("%w: unknown metric code %d", ErrIncompatibleSnapshot, code)
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteTo encodes the header, the id list, then the HNSW graph export.
func (i *Index) WriteTo(w io.Writer) (int64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	cw := &countingWriter{w: w}
	header := snapshotHeader{
		Magic:       snapshotMagic,
		Version:     snapshotVersion,
		Metric:      metricCode(i.cfg.Metric),
		Dimensions:  uint32(i.cfg.Dimensions),
		MaxElements: uint64(i.cfg.MaxElements),
		M:           uint32(i.cfg.M),
		EfSearch:    uint32(i.cfg.EfSearch),
		Count:       uint64(len(i.ids)),
	}
	if err := binary.Write(cw, binary.LittleEndian, header); err != nil {
		return cw.n, fmt.Errorf("write snapshot header: %w", err)
	}
	if err := binary.Write(cw, binary.LittleEndian, i.ids); err != nil {
		return cw.n, fmt.Errorf("write snapshot ids: %w", err)
	}
	if len(i.ids) > 0 {
		if err := i.graph.Export(cw); err != nil {
			return cw.n, fmt.Errorf("export graph: %w", err)
		}
	}
	return cw.n, nil
}

// ReadIndex decodes a snapshot produced by WriteTo.
func ReadIndex(r io.Reader) (*Index, error) {
	var header snapshotHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read snapshot header: %w", err)
	}
	if header.Magic != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrIncompatibleSnapshot)
	}
	if header.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrIncompatibleSnapshot, header.Version, snapshotVersion)
	}
	metric, err := metricFromCode(header.Metric)
	if err != nil {
		return nil, err
	}

	index, err := New(Config{
		Dimensions:  int(header.Dimensions),
		Metric:      metric,
		MaxElements: int(header.MaxElements),
		M:           int(header.M),
		EfSearch:    int(header.EfSearch),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleSnapshot, err)
	}
	if header.Count == 0 {
		return index, nil
	}

	ids := make([]int64, header.Count)
	if err := binary.Read(r, binary.LittleEndian, ids); err != nil {
		return nil, fmt.Errorf("read snapshot ids: %w", err)
	}

	graph := hnsw.NewGraph[int64]()
	if err := graph.Import(r); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	applyGraphConfig(graph, index.cfg)
	if graph.Len() != len(ids) {
		return nil, fmt.Errorf("%w: graph holds %d nodes, header lists %d", ErrIncompatibleSnapshot, graph.Len(), len(ids))
	}
	for _, id := range ids {
		vector, ok := graph.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: id %d missing from graph", ErrIncompatibleSnapshot, id)
		}
		if len(vector) != index.cfg.Dimensions {
			return nil, fmt.Errorf("%w: id %d has %d dimensions", ErrIncompatibleSnapshot, id, len(vector))
		}
		index.present[id] = struct{}{}
	}
	index.graph = graph
	index.ids = ids
	return index, nil
}

// SaveIndex writes the snapshot to a temp file beside path and renames it into
// place, so readers never observe a partial file.
func (i *Index) SaveIndex(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	buffered := bufio.NewWriter(tmp)
	if _, err := i.WriteTo(buffered); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := buffered.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func LoadIndex(path string) (*Index, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = file.Close() }()
	return ReadIndex(bufio.NewReader(file))
}
