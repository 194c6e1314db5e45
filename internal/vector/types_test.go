package vector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionNames_RoundTrip(t *testing.T) {
	// Given: a project path
	name := ConversationCollection("/home/dev/proj", "local", 384)

	// Then: deterministic, 8-hex project hash, parseable
	assert.Equal(t, name, ConversationCollection("/home/dev/proj", "local", 384))
	assert.NotEqual(t, name, ConversationCollection("/home/dev/proj", "remote", 384))
	assert.Regexp(t, `^conv_[0-9a-f]{8}_local_384$`, name)

	parsed, ok := ParseCollectionName(name)
	require.True(t, ok)
	assert.Equal(t, CollectionName{Kind: KindConversation, ProjectHash: ProjectHash("/home/dev/proj"), Mode: "local", Dimensions: 384}, parsed)

	notes, ok := ParseCollectionName(NotesCollection("remote", 768))
	require.True(t, ok)
	assert.Equal(t, KindNote, notes.Kind)
	assert.Equal(t, 768, notes.Dimensions)
}

func TestParseCollectionName_Rejects(t *testing.T) {
	for _, name := range []string{"", "conv_abc", "conv_abc_local_x", "other_a_b_1", "notes_local"} {
		_, ok := ParseCollectionName(name)
		assert.False(t, ok, name)
	}
}

func TestFilter_Match(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := Payload{Kind: KindConversation, Project: "p", Path: "/a.jsonl", Timestamp: ts}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"kind", Filter{Kind: KindNote}, false},
		{"project", Filter{Project: "p"}, true},
		{"other project", Filter{Project: "q"}, false},
		{"path", Filter{Path: "/a.jsonl"}, true},
		{"since inclusive", Filter{Since: ts}, true},
		{"since after", Filter{Since: ts.Add(time.Second)}, false},
		{"until exclusive", Filter{Until: ts}, false},
		{"until after", Filter{Until: ts.Add(time.Second)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(p))
		})
	}
}
