// Package embed turns text into vectors. Two modes exist: local, an
// in-process model with no network, and remote, an HTTP embedding service.
// The mode and dimension of an embedder decide which collection its vectors
// may be written to.
package embed

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Mode identifies where embeddings are computed.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLocal, ModeRemote:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown embedding mode %q", s)
	}
}

const (
	// DefaultBatchSize is the default number of texts per request.
	DefaultBatchSize = 32

	// MaxBatchSize caps a single request to bound memory.
	MaxBatchSize = 256

	// DefaultTimeout is the default per-request timeout for remote calls.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries for transient remote failures.
	DefaultMaxRetries = 3

	// LocalDimensions is the default size of local vectors.
	LocalDimensions = 384
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns one vector per text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the size of every vector this embedder returns.
	Dimensions() int

	// Mode reports whether vectors are computed locally or remotely.
	Mode() Mode

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// IsZeroVector reports whether every component is zero.
func IsZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
