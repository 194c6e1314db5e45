package transcript

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTranscript = `{"type":"user","timestamp":"2026-03-01T10:00:00Z","sessionId":"s1","message":{"role":"user","content":"Why does the lease expire early?"}}
{"type":"assistant","timestamp":"2026-03-01T10:00:05Z","message":{"role":"assistant","content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"Let me read the lock code."},{"type":"tool_use","id":"t1","name":"Read","input":{"file_path":"/src/state/lock.go"}}]}}
{"type":"user","timestamp":"2026-03-01T10:00:06Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"func (l Lease) Valid()"}]}]}}
not json at all
{"type":"summary","summary":"Lease expiry investigation"}
{"type":"assistant","timestamp":"2026-03-01T10:01:00Z","message":{"role":"assistant","content":"The TTL was measured from the wrong clock."}}
`

func readString(t *testing.T, s string) ([]Message, *Reader) {
	t.Helper()
	r := NewReader(context.Background(), strings.NewReader(s), "test.jsonl", nil)
	msgs, err := ReadAll(r)
	require.NoError(t, err)
	return msgs, r
}

func TestReader_ParsesTaggedUnionInOrder(t *testing.T) {
	// When: reading a mixed transcript
	msgs, r := readString(t, sampleTranscript)

	// Then: each content block becomes one message, in source order
	kinds := make([]Kind, len(msgs))
	for i, m := range msgs {
		kinds[i] = m.Kind
		assert.Equal(t, i, m.Index)
	}
	assert.Equal(t, []Kind{KindText, KindText, KindToolCall, KindToolResult, KindSystem, KindText}, kinds)

	// And: the malformed line is skipped and counted
	assert.Equal(t, 1, r.Skipped())
}

func TestReader_FieldExtraction(t *testing.T) {
	msgs, _ := readString(t, sampleTranscript)

	first := msgs[0]
	assert.Equal(t, "user", first.Role)
	assert.Equal(t, "s1", first.SessionID)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), first.Timestamp)
	assert.Equal(t, 1, first.Line)

	call := msgs[2]
	assert.Equal(t, "Read", call.Tool)
	assert.Equal(t, []string{"/src/state/lock.go"}, call.Files)
	assert.JSONEq(t, `{"file_path":"/src/state/lock.go"}`, call.Input)
	assert.False(t, call.IsContent())

	result := msgs[3]
	assert.Equal(t, "Read", result.Tool, "result attributed to its call")
	assert.Equal(t, "func (l Lease) Valid()", result.Text)
	assert.True(t, result.IsContent())

	summary := msgs[4]
	assert.Equal(t, "system", summary.Role)
	assert.Equal(t, "Lease expiry investigation", summary.Text)
}

func TestReader_MalformedShapes(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		msgs    int
		skipped int
	}{
		{"truncated json", `{"type":"user","message":{"role":`, 0, 1},
		{"array record", `[1,2,3]`, 0, 1},
		{"content is a number", `{"type":"user","message":{"role":"user","content":42}}`, 0, 1},
		{"no content is ignored", `{"type":"file-history-snapshot","files":[]}`, 0, 0},
		{"blank text is ignored", `{"type":"user","message":{"role":"user","content":"   "}}`, 0, 0},
		{"flat role/content shape", `{"role":"assistant","content":"hello","timestamp":1767225600000}`, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, r := readString(t, tt.line+"\n")
			assert.Len(t, msgs, tt.msgs)
			assert.Equal(t, tt.skipped, r.Skipped())
		})
	}
}

func TestParseTimestamp_UnixForms(t *testing.T) {
	msgs, _ := readString(t, `{"role":"user","content":"a","timestamp":1767225600000}
{"role":"user","content":"b","timestamp":1767225600}
`)
	require.Len(t, msgs, 2)
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, msgs[0].Timestamp)
	assert.Equal(t, want, msgs[1].Timestamp)
}

func TestReader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReader(ctx, strings.NewReader(sampleTranscript), "x", nil)

	_, err := r.Next()

	assert.ErrorIs(t, err, context.Canceled)
}
