package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrEmptyText = errors.New("embedding: empty text")

// Service maps text to a fixed-dimension vector. Implementations are safe for
// concurrent use and deterministic for a fixed model and input.
type Service interface {
	Embed(ctx context.Context, text string, normalize bool) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, normalize bool) ([][]float32, error)
	Dimensions() int
	Model() string
}

// Normalize scales v to unit L2 length in place. A zero vector stays zero.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
	return v
}

func checkTexts(texts []string) error {
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("text %d: %w", i, ErrEmptyText)
		}
	}
	return nil
}

func finish(vectors [][]float32, want int, dims int, normalize bool) ([][]float32, error) {
	if len(vectors) != want {
		return nil, fmt.Errorf("embedding response has %d vectors, want %d", len(vectors), want)
	}
	for i, vector := range vectors {
		if len(vector) == 0 {
			return nil, fmt.Errorf("embedding %d is empty", i)
		}
		if dims > 0 && len(vector) != dims {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(vector), dims)
		}
		if normalize {
			Normalize(vector)
		}
	}
	return vectors, nil
}
