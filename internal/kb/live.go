package kb

import (
	"errors"
	"sync/atomic"

	"github.com/tablerag/tablerag/internal/vectorindex"
)

var ErrNotLoaded = errors.New("kb: no index loaded")

// Live holds the index that queries run against. A rebuild swaps in a new index
// without blocking readers of the old one.
type Live struct {
	current atomic.Pointer[vectorindex.Index]
}

func NewLive(index *vectorindex.Index) *Live {
	live := &Live{}
	if index != nil {
		live.current.Store(index)
	}
	return live
}

func (l *Live) Swap(index *vectorindex.Index) {
	l.current.Store(index)
}

func (l *Live) Current() *vectorindex.Index {
	return l.current.Load()
}

func (l *Live) Query(vectors [][]float32, k int) ([][]vectorindex.Neighbor, error) {
	index := l.current.Load()
	if index == nil {
		return nil, ErrNotLoaded
	}
	return index.Query(vectors, k)
}

func (l *Live) Len() int {
	index := l.current.Load()
	if index == nil {
		return 0
	}
	return index.Len()
}

func (l *Live) IDs() []int64 {
	index := l.current.Load()
	if index == nil {
		return nil
	}
	return index.IDs()
}
