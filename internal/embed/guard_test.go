package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

func TestGuardedEmbedder_PassesHealthyVectors(t *testing.T) {
	inner := newScripted(4, constantVectors(4))
	g := NewGuardedEmbedder(inner, nil)

	vecs, err := g.Embed(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 1, inner.Calls())
}

func TestGuardedEmbedder_RegeneratesZeroVectorOnce(t *testing.T) {
	// Given: a model whose first answer for text 1 is all zero
	inner := newScripted(4, func(call int, texts []string) ([][]float32, error) {
		out, _ := constantVectors(4)(call, texts)
		if call == 1 {
			out[1] = make([]float32, 4)
		}
		return out, nil
	})
	g := NewGuardedEmbedder(inner, nil)

	// When: embedding three texts
	vecs, err := g.Embed(context.Background(), []string{"a", "b", "c"})

	// Then: only the degenerate text was regenerated and the result is usable
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Calls())
	assert.Equal(t, []string{"b"}, inner.inputs[1])
	for _, v := range vecs {
		assert.False(t, IsZeroVector(v))
	}
}

func TestGuardedEmbedder_PersistentZeroVector_IsDegenerate(t *testing.T) {
	// Given: a model that always returns zero for the second input
	inner := newScripted(4, func(_ int, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = make([]float32, 4)
			if text != "broken" {
				out[i][2] = 1
			}
		}
		return out, nil
	})
	g := NewGuardedEmbedder(inner, nil)

	// When: embedding
	_, err := g.Embed(context.Background(), []string{"ok", "broken"})

	// Then: EmbeddingDegenerate names index 1
	require.Error(t, err)
	assert.ErrorIs(t, err, amerrors.ErrEmbeddingDegenerate)
	ae, ok := amerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "1", ae.Details["index"])
	assert.Equal(t, 2, inner.Calls())
}

func TestGuardedEmbedder_BlankTextMayBeZero(t *testing.T) {
	inner := newScripted(4, func(_ int, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = make([]float32, 4)
		}
		return out, nil
	})
	g := NewGuardedEmbedder(inner, nil)

	_, err := g.Embed(context.Background(), []string{"  "})

	assert.NoError(t, err)
	assert.Equal(t, 1, inner.Calls())
}

func TestGuardedEmbedder_RejectsWrongDimensions(t *testing.T) {
	inner := newScripted(8, constantVectors(4))
	g := NewGuardedEmbedder(inner, nil)

	_, err := g.Embed(context.Background(), []string{"a"})

	assert.ErrorIs(t, err, amerrors.ErrDimensionMismatch)
}

func TestGuardedEmbedder_PropagatesInnerError(t *testing.T) {
	boom := errors.New("boom")
	g := NewGuardedEmbedder(newScripted(4, func(int, []string) ([][]float32, error) {
		return nil, boom
	}), nil)

	_, err := g.Embed(context.Background(), []string{"a"})

	assert.ErrorIs(t, err, boom)
}
