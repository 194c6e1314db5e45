package embed

import (
	"context"
	"fmt"
	"log/slog"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// GuardedEmbedder rejects output that cannot be indexed: vectors of the
// wrong size, and all-zero vectors for non-blank input. A zero vector is
// regenerated once before it becomes an EmbeddingDegenerate error.
type GuardedEmbedder struct {
	Embedder
	logger *slog.Logger
}

// NewGuardedEmbedder wraps inner. A nil logger uses slog.Default.
func NewGuardedEmbedder(inner Embedder, logger *slog.Logger) *GuardedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedEmbedder{
		Embedder: inner,
		logger:   logger.With("component", "embed_guard"),
	}
}

// Embed implements Embedder.
func (g *GuardedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := g.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, amerrors.InternalError(
			fmt.Sprintf("embedder %s returned %d vectors for %d texts", g.ModelName(), len(vecs), len(texts)), nil)
	}
	if err := g.checkDimensions(vecs); err != nil {
		return nil, err
	}

	degenerate := g.degenerate(texts, vecs)
	if len(degenerate) == 0 {
		return vecs, nil
	}

	g.logger.Warn("degenerate_embedding_retry",
		slog.String("model", g.ModelName()),
		slog.Int("count", len(degenerate)))

	retryTexts := make([]string, len(degenerate))
	for i, idx := range degenerate {
		retryTexts[i] = texts[idx]
	}
	again, err := g.Embedder.Embed(ctx, retryTexts)
	if err != nil {
		return nil, err
	}
	if len(again) != len(retryTexts) {
		return nil, amerrors.InternalError("regeneration returned a short batch", nil)
	}
	if err := g.checkDimensions(again); err != nil {
		return nil, err
	}
	for i, idx := range degenerate {
		if IsZeroVector(again[i]) {
			return nil, amerrors.EmbeddingDegenerate(g.ModelName(), idx)
		}
		vecs[idx] = again[i]
	}
	return vecs, nil
}

// degenerate returns indexes of non-blank texts whose vector is all zero.
func (g *GuardedEmbedder) degenerate(texts []string, vecs [][]float32) []int {
	var out []int
	for i, v := range vecs {
		if isBlank(texts[i]) {
			continue
		}
		if IsZeroVector(v) {
			out = append(out, i)
		}
	}
	return out
}

func (g *GuardedEmbedder) checkDimensions(vecs [][]float32) error {
	want := g.Dimensions()
	for _, v := range vecs {
		if len(v) != want {
			return amerrors.DimensionMismatch(g.ModelName(), want, len(v))
		}
	}
	return nil
}

// Unwrap returns the wrapped embedder.
func (g *GuardedEmbedder) Unwrap() Embedder {
	return g.Embedder
}
