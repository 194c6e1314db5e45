package search

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecay(t *testing.T) {
	halfLife := 90 * 24 * time.Hour

	assert.Equal(t, 1.0, Decay(0, halfLife))
	assert.Equal(t, 1.0, Decay(-time.Hour, halfLife))
	assert.Equal(t, 1.0, Decay(time.Hour, 0))
	assert.InDelta(t, 0.5, Decay(halfLife, halfLife), 1e-12)
	assert.InDelta(t, 0.25, Decay(2*halfLife, halfLife), 1e-12)
}

func TestDecay_StrictlyDecreasingWithAge(t *testing.T) {
	halfLife := 90 * 24 * time.Hour
	prev := Decay(0, halfLife)
	for _, age := range []time.Duration{time.Minute, time.Hour, 24 * time.Hour, 30 * 24 * time.Hour, 365 * 24 * time.Hour} {
		d := Decay(age, halfLife)
		assert.Less(t, d, prev, age.String())
		prev = d
	}
}

func TestParseDetail(t *testing.T) {
	tests := []struct {
		in      string
		want    Detail
		wantErr bool
	}{
		{"", DetailFull, false},
		{"full", DetailFull, false},
		{"summary", DetailSummary, false},
		{"aggregate", DetailAggregate, false},
		{"verbose", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDetail(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestPaginate(t *testing.T) {
	rs := []Result{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	assert.Equal(t, []string{"b", "c"}, ids(paginate(rs, 1, 5)))
	assert.Equal(t, []string{"a"}, ids(paginate(rs, 0, 1)))
	assert.Empty(t, paginate(rs, 3, 1))
}

func TestSnippet_CutsOnRuneBoundary(t *testing.T) {
	text := strings.Repeat("é", snippetChars)

	s := snippet(text)

	assert.True(t, strings.HasSuffix(s, "..."))
	assert.LessOrEqual(t, len(s), snippetChars+3)
	assert.True(t, strings.HasPrefix(text, strings.TrimSuffix(s, "...")))
	assert.Equal(t, "short", snippet("short"))
}
