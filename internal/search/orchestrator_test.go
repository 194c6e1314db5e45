package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanmem/internal/config"
	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
	"github.com/Aman-CERP/amanmem/internal/telemetry"
)

const leaseText = "the state lease is reclaimed after its expiry passes"

func TestSearch_NewerHitOutranksOlderWithSameScore(t *testing.T) {
	// Given: the same text indexed twice, one day and two hundred days old
	h := newHarness(t, nil)
	h.seed(t, "alpha", h.local,
		seedDoc{id: "old", text: leaseText, age: 200 * 24 * time.Hour},
		seedDoc{id: "new", text: leaseText, age: 24 * time.Hour},
	)

	// When: searching for it
	resp, err := h.orch.Search(context.Background(), leaseText, Scope{Project: "alpha"}, Options{})
	require.NoError(t, err)

	// Then: raw scores match but the older hit decays further
	require.Len(t, resp.Results, 2)
	newer, older := resp.Results[0], resp.Results[1]
	assert.Equal(t, "new", newer.ID)
	assert.InDelta(t, newer.Score, older.Score, 1e-6)
	assert.Less(t, older.DecayedScore, newer.DecayedScore)
	assert.InDelta(t, older.Score*Decay(200*24*time.Hour, 90*24*time.Hour), older.DecayedScore, 1e-9)
}

func TestSearch_DropsTimedOutCollection(t *testing.T) {
	// Given: five projects, one of whose collection never answers
	h := newHarness(t, func(c *config.Config) {
		c.Search.CollectionTimeout = 50 * time.Millisecond
	})
	var slow string
	for i := 0; i < 5; i++ {
		project := fmt.Sprintf("project-%d", i)
		name := h.seed(t, project, h.local, seedDoc{id: project, text: leaseText, age: time.Hour})
		if i == 2 {
			slow = name
		}
	}
	h.vectors.slow[slow] = true

	// When: searching every project
	start := time.Now()
	resp, err := h.orch.Search(context.Background(), leaseText, Scope{All: true}, Options{Limit: 10})

	// Then: the other four answer and no error reaches the caller
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, resp.Collections, 5)
	assert.Equal(t, []string{slow}, resp.Dropped)
	assert.ElementsMatch(t, []string{"project-0", "project-1", "project-3", "project-4"}, ids(resp.Results))
	assert.Equal(t, 4, resp.Total)
}

func TestSearch_FailsWhenEveryCollectionFails(t *testing.T) {
	h := newHarness(t, nil)
	a := h.seed(t, "alpha", h.local, seedDoc{id: "a", text: leaseText})
	b := h.seed(t, "beta", h.local, seedDoc{id: "b", text: leaseText})
	h.vectors.fail[a] = errUnavailable
	h.vectors.fail[b] = errUnavailable

	_, err := h.orch.Search(context.Background(), leaseText, Scope{All: true}, Options{})

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeSearchFailed, amerrors.GetCode(err))
	assert.ErrorIs(t, err, errUnavailable)
}

func TestSearch_TimeoutIsCollectionQueryTimeout(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Search.CollectionTimeout = 20 * time.Millisecond
	})
	name := h.seed(t, "alpha", h.local, seedDoc{id: "a", text: leaseText})
	h.vectors.slow[name] = true

	_, err := h.orch.Search(context.Background(), leaseText, Scope{Project: "alpha"}, Options{})

	require.Error(t, err)
	assert.ErrorIs(t, err, amerrors.ErrCollectionQueryTimeout)
}

func TestSearch_ProjectScopeQueriesOneCollection(t *testing.T) {
	h := newHarness(t, nil)
	alpha := h.seed(t, "alpha", h.local, seedDoc{id: "a", text: leaseText})
	h.seed(t, "beta", h.local, seedDoc{id: "b", text: leaseText})

	resp, err := h.orch.Search(context.Background(), leaseText, Scope{Project: "alpha"}, Options{})

	require.NoError(t, err)
	assert.Equal(t, []string{alpha}, resp.Collections)
	assert.Equal(t, []string{"a"}, ids(resp.Results))
	assert.Equal(t, "alpha", resp.Results[0].Project)
}

func TestSearch_PriorModeStaysQueryable(t *testing.T) {
	// Given: local content, then a switch to remote mode
	h := newHarness(t, nil)
	local := h.seed(t, "alpha", h.local, seedDoc{id: "a", text: leaseText})
	require.NoError(t, h.rt.SetEmbeddingMode(config.ModeRemote))

	// When: searching under the current mode and under the old one
	current, err := h.orch.Search(context.Background(), leaseText, Scope{Project: "alpha"}, Options{})
	require.NoError(t, err)
	prior, err := h.orch.Search(context.Background(), leaseText, Scope{Project: "alpha", Mode: config.ModeLocal}, Options{})
	require.NoError(t, err)

	// Then: only the explicit mode finds the local collection
	assert.Equal(t, config.ModeRemote, current.Mode)
	assert.Empty(t, current.Collections)
	assert.Zero(t, current.Total)
	assert.Equal(t, []string{local}, prior.Collections)
	assert.Equal(t, []string{"a"}, ids(prior.Results))
}

func TestSearch_PaginatesRankedResults(t *testing.T) {
	h := newHarness(t, nil)
	var docs []seedDoc
	for i := 0; i < 6; i++ {
		docs = append(docs, seedDoc{id: fmt.Sprintf("d%d", i), text: leaseText, age: time.Duration(i+1) * 24 * time.Hour})
	}
	h.seed(t, "alpha", h.local, docs...)

	resp, err := h.orch.Search(context.Background(), leaseText, Scope{Project: "alpha"}, Options{Limit: 2, Offset: 2})

	require.NoError(t, err)
	assert.Equal(t, 6, resp.Total)
	assert.Equal(t, []string{"d2", "d3"}, ids(resp.Results))

	past, err := h.orch.Search(context.Background(), leaseText, Scope{Project: "alpha"}, Options{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past.Results)
}

func TestSearch_MinScoreFiltersDecayedScore(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "alpha", h.local,
		seedDoc{id: "exact", text: leaseText},
		seedDoc{id: "other", text: "rendering markdown tables in the terminal with lipgloss"},
	)

	resp, err := h.orch.Search(context.Background(), leaseText, Scope{Project: "alpha"}, Options{MinScore: 0.99})

	require.NoError(t, err)
	assert.Equal(t, []string{"exact"}, ids(resp.Results))
}

func TestSearch_Detail(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "alpha", h.local,
		seedDoc{id: "a1", text: leaseText, age: time.Hour, tools: []string{"Read"}, files: []string{"lock.go"}},
		seedDoc{id: "a2", text: leaseText, age: 2 * time.Hour, tools: []string{"Read", "Bash"}},
	)
	h.seed(t, "beta", h.local, seedDoc{id: "b1", text: leaseText, age: 90 * time.Minute})
	ctx := context.Background()

	t.Run("summary", func(t *testing.T) {
		resp, err := h.orch.Search(ctx, leaseText, Scope{All: true}, Options{Detail: DetailSummary})
		require.NoError(t, err)

		assert.Equal(t, 3, resp.Total)
		assert.Empty(t, resp.Results)
		require.NotNil(t, resp.Top)
		assert.Equal(t, "a1", resp.Top.ID)
	})

	t.Run("aggregate", func(t *testing.T) {
		resp, err := h.orch.Search(ctx, leaseText, Scope{All: true}, Options{Detail: DetailAggregate})
		require.NoError(t, err)

		require.Len(t, resp.Groups, 2)
		alpha := resp.Groups[0]
		assert.Equal(t, "alpha", alpha.Project)
		assert.Equal(t, 2, alpha.Count)
		assert.Equal(t, []string{"Read", "Bash"}, alpha.Tools)
		assert.Equal(t, []string{"lock.go"}, alpha.Files)
		assert.Equal(t, "a1", alpha.Top.ID)
		assert.Equal(t, testNow.Add(-time.Hour), alpha.Latest)
		assert.Equal(t, "beta", resp.Groups[1].Project)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := h.orch.Search(ctx, leaseText, Scope{All: true}, Options{Detail: "verbose"})
		assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
	})
}

func TestSearch_RejectsBadInput(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.orch.Search(ctx, "   ", Scope{All: true}, Options{})
	assert.Equal(t, amerrors.ErrCodeQueryEmpty, amerrors.GetCode(err))

	_, err = h.orch.Search(ctx, leaseText, Scope{}, Options{})
	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))

	_, err = h.orch.Search(ctx, leaseText, Scope{All: true, Mode: "hybrid"}, Options{})
	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
}

func TestSearch_NoCollectionsIsEmpty(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := h.orch.Search(context.Background(), leaseText, Scope{All: true}, Options{})

	require.NoError(t, err)
	assert.Zero(t, resp.Total)
	assert.Empty(t, resp.Results)
}

func TestSearch_LimitIsCapped(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Search.MaxLimit = 3 })
	var docs []seedDoc
	for i := 0; i < 5; i++ {
		docs = append(docs, seedDoc{id: fmt.Sprintf("d%d", i), text: leaseText, age: time.Duration(i) * time.Hour})
	}
	h.seed(t, "alpha", h.local, docs...)

	resp, err := h.orch.Search(context.Background(), leaseText, Scope{Project: "alpha"}, Options{Limit: 50})

	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
}

func TestSearch_RecordsTelemetry(t *testing.T) {
	// Given: an orchestrator with an in-memory metrics collector
	metrics := telemetry.New(nil, telemetry.Config{}, nil)
	t.Cleanup(func() { _ = metrics.Close() })
	h := newHarness(t, func(c *config.Config) {
		c.Search.CollectionTimeout = 20 * time.Millisecond
	}, WithMetrics(metrics))
	h.seed(t, "alpha", h.local, seedDoc{id: "a", text: leaseText})
	slow := h.seed(t, "beta", h.local, seedDoc{id: "b", text: leaseText})
	h.vectors.slow[slow] = true

	// When: searching all projects twice, once with no match possible
	_, err := h.orch.Search(context.Background(), leaseText, Scope{All: true}, Options{})
	require.NoError(t, err)
	_, err = h.orch.Search(context.Background(), leaseText, Scope{All: true}, Options{MinScore: 2})
	require.NoError(t, err)

	// Then: both searches and the dropped collection are counted
	snap := metrics.Snapshot()
	assert.Equal(t, int64(2), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, int64(2), snap.ScopeCounts[telemetry.ScopeAll])
	assert.Equal(t, int64(2), snap.DroppedCollections[slow])
}

func TestStatus(t *testing.T) {
	h := newHarness(t, nil)
	name := h.seed(t, "alpha", h.local, seedDoc{id: "a", text: leaseText}, seedDoc{id: "b", text: "second"})

	st, err := h.orch.Status(context.Background())

	require.NoError(t, err)
	assert.Equal(t, config.ModeLocal, st.Mode)
	assert.Zero(t, st.Summary.TotalFiles)
	require.Len(t, st.Vectors, 1)
	assert.Equal(t, name, st.Vectors[0].Name)
	assert.Equal(t, 2, st.Vectors[0].Points)
	assert.Nil(t, st.Telemetry)
}
