package vectorindex

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

var (
	ErrCapacityExceeded  = errors.New("vectorindex: capacity exceeded")
	ErrDuplicateID       = errors.New("vectorindex: duplicate id")
	ErrDimensionMismatch = errors.New("vectorindex: dimension mismatch")
	ErrLengthMismatch    = errors.New("vectorindex: vectors and ids differ in length")
)

type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
)

type Config struct {
	Dimensions int
	Metric     Metric
	// MaxElements caps the index size; 0 means unbounded.
	MaxElements int
	M           int
	EfSearch    int
}

type Neighbor struct {
	ID       int64
	Distance float32
}

// Index is an HNSW graph keyed by entity id. A single writer and any number of
// concurrent readers may use it.
type Index struct {
	mu       sync.RWMutex
	cfg      Config
	distance hnsw.DistanceFunc
	graph    *hnsw.Graph[int64]
	ids      []int64
	present  map[int64]struct{}
}

func New(cfg Config) (*Index, error) {
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}
	graph := hnsw.NewGraph[int64]()
	applyGraphConfig(graph, cfg)
	return &Index{
		cfg:      cfg,
		distance: distanceFor(cfg.Metric),
		graph:    graph,
		ids:      make([]int64, 0),
		present:  make(map[int64]struct{}),
	}, nil
}

func normalizeConfig(cfg Config) (Config, error) {
	if cfg.Dimensions <= 0 {
		return Config{}, fmt.Errorf("dimensions must be > 0")
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if cfg.Metric != MetricCosine && cfg.Metric != MetricEuclidean {
		return Config{}, fmt.Errorf("unsupported metric %q", cfg.Metric)
	}
	if cfg.MaxElements < 0 {
		return Config{}, fmt.Errorf("max elements must be >= 0")
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 50
	}
	return cfg, nil
}

func applyGraphConfig(graph *hnsw.Graph[int64], cfg Config) {
	graph.Distance = distanceFor(cfg.Metric)
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
}

func distanceFor(metric Metric) hnsw.DistanceFunc {
	if metric == MetricEuclidean {
		return hnsw.EuclideanDistance
	}
	return hnsw.CosineDistance
}

func (i *Index) Config() Config {
	return i.cfg
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.ids)
}

// IDs returns the stored ids in insertion order.
func (i *Index) IDs() []int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]int64, len(i.ids))
	copy(out, i.ids)
	return out
}

// AddItems validates the whole batch before inserting anything.
func (i *Index) AddItems(vectors [][]float32, ids []int64) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("%w: %d vectors, %d ids", ErrLengthMismatch, len(vectors), len(ids))
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cfg.MaxElements > 0 && len(i.ids)+len(ids) > i.cfg.MaxElements {
		return fmt.Errorf("%w: %d + %d > %d", ErrCapacityExceeded, len(i.ids), len(ids), i.cfg.MaxElements)
	}
	batch := make(map[int64]struct{}, len(ids))
	for n, id := range ids {
		if len(vectors[n]) != i.cfg.Dimensions {
			return fmt.Errorf("%w: id %d has %d dimensions, want %d", ErrDimensionMismatch, id, len(vectors[n]), i.cfg.Dimensions)
		}
		if _, ok := i.present[id]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateID, id)
		}
		if _, ok := batch[id]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateID, id)
		}
		batch[id] = struct{}{}
	}

	nodes := make([]hnsw.Node[int64], 0, len(ids))
	for n, id := range ids {
		vector := make([]float32, len(vectors[n]))
		copy(vector, vectors[n])
		nodes = append(nodes, hnsw.MakeNode(id, vector))
	}
	i.graph.Add(nodes...)
	for _, id := range ids {
		i.ids = append(i.ids, id)
		i.present[id] = struct{}{}
	}
	return nil
}

// Query returns up to k neighbours per query vector, nearest first. When k is at
// least the index size every item is returned by exact scan.
func (i *Index) Query(vectors [][]float32, k int) ([][]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be > 0")
	}
	for n, vector := range vectors {
		if len(vector) != i.cfg.Dimensions {
			return nil, fmt.Errorf("%w: query %d has %d dimensions, want %d", ErrDimensionMismatch, n, len(vector), i.cfg.Dimensions)
		}
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([][]Neighbor, len(vectors))
	for n, vector := range vectors {
		if len(i.ids) == 0 {
			out[n] = []Neighbor{}
			continue
		}
		if k >= len(i.ids) {
			out[n] = i.exactScan(vector)
			continue
		}
		nodes := i.graph.Search(vector, k)
		neighbors := make([]Neighbor, 0, len(nodes))
		for _, node := range nodes {
			neighbors = append(neighbors, Neighbor{ID: node.Key, Distance: i.distance(vector, node.Value)})
		}
		sortNeighbors(neighbors)
		out[n] = neighbors
	}
	return out, nil
}

func (i *Index) exactScan(vector []float32) []Neighbor {
	neighbors := make([]Neighbor, 0, len(i.ids))
	for _, id := range i.ids {
		stored, ok := i.graph.Lookup(id)
		if !ok {
			continue
		}
		neighbors = append(neighbors, Neighbor{ID: id, Distance: i.distance(vector, stored)})
	}
	sortNeighbors(neighbors)
	return neighbors
}

func sortNeighbors(neighbors []Neighbor) {
	sort.SliceStable(neighbors, func(a, b int) bool {
		if neighbors[a].Distance == neighbors[b].Distance {
			return neighbors[a].ID < neighbors[b].ID
		}
		return neighbors[a].Distance < neighbors[b].Distance
	})
}

// GetItem returns a copy of the stored vector for id.
func (i *Index) GetItem(id int64) ([]float32, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if _, ok := i.present[id]; !ok {
		return nil, false
	}
	stored, ok := i.graph.Lookup(id)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(stored))
	copy(out, stored)
	return out, true
}
