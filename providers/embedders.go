// Package providers contains Embedder and Reflector implementations used for
// testing and local development, plus retrying decorators for wrapping real
// provider clients.
package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"

	"github.com/deepnoodle-ai/engram"
)

// NullEmbedder returns zero vectors. Useful when recall should rely solely on
// recency and markers, or in tests that don't exercise vector search.
type NullEmbedder struct {
	Dim int
}

var _ engram.Embedder = (*NullEmbedder)(nil)

// NewNullEmbedder creates a null embedder with the given dimension.
func NewNullEmbedder(dim int) *NullEmbedder {
	if dim < 1 {
		dim = 8
	}
	return &NullEmbedder{Dim: dim}
}

func (e *NullEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vectors[i] = make([]float64, e.Dim)
	}
	return vectors, nil
}

func (e *NullEmbedder) Dimension() int { return e.Dim }

// HashEmbedder produces deterministic unit vectors from a hash of the input
// text. Identical texts always embed to identical vectors, so tests can rely
// on exact-match similarity of 1.0 without a real embedding model.
//
// Vectors for different texts are effectively random directions; they carry
// no semantic signal.
type HashEmbedder struct {
	Dim int
}

var _ engram.Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder creates a hash embedder with the given dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim < 1 {
		dim = 32
	}
	return &HashEmbedder{Dim: dim}
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

func (e *HashEmbedder) Dimension() int { return e.Dim }

func (e *HashEmbedder) embedOne(text string) []float64 {
	normalized := strings.ToLower(strings.TrimSpace(text))
	vector := make([]float64, e.Dim)
	seed := sha256.Sum256([]byte(normalized))
	state := seed[:]
	for i := 0; i < e.Dim; i++ {
		if i%4 == 0 && i > 0 {
			next := sha256.Sum256(state)
			state = next[:]
		}
		bits := binary.BigEndian.Uint64(state[(i%4)*8 : (i%4)*8+8])
		// Map to [-1, 1).
		vector[i] = float64(bits)/float64(math.MaxUint64)*2 - 1
	}
	var norm float64
	for _, v := range vector {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vector {
			vector[i] /= norm
		}
	}
	return vector
}
