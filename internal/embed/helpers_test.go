package embed

import (
	"context"
	"math"
	"sync"
)

// vectorMagnitude computes the magnitude of a vector
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, magA, magB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
}

// scriptedEmbedder returns vectors from a function and counts calls.
type scriptedEmbedder struct {
	dims  int
	mode  Mode
	model string
	fn    func(call int, texts []string) ([][]float32, error)

	mu     sync.Mutex
	calls  int
	inputs [][]string
	closed bool
}

func newScripted(dims int, fn func(call int, texts []string) ([][]float32, error)) *scriptedEmbedder {
	return &scriptedEmbedder{dims: dims, mode: ModeLocal, model: "scripted", fn: fn}
}

// constantVectors fills every vector with 1 in dimension 0.
func constantVectors(dims int) func(int, []string) ([][]float32, error) {
	return func(_ int, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = make([]float32, dims)
			out[i][0] = 1
		}
		return out, nil
	}
}

func (s *scriptedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.inputs = append(s.inputs, append([]string(nil), texts...))
	s.mu.Unlock()
	return s.fn(call, texts)
}

func (s *scriptedEmbedder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedEmbedder) Dimensions() int { return s.dims }
func (s *scriptedEmbedder) Mode() Mode { return s.mode }
func (s *scriptedEmbedder) ModelName() string { return s.model }
func (s *scriptedEmbedder) Available(_ context.Context) bool { return !s.closed }
func (s *scriptedEmbedder) Close() error {
	s.closed = true
	return nil
}
