// Package search answers queries over every collection relevant to a scope.
// A query is embedded once, fanned out to the collections with bounded
// concurrency and a per-collection timeout, and the merged hits are ranked
// by similarity weighted with an exponential time decay.
package search

import (
	"fmt"
	"time"

	"github.com/Aman-CERP/amanmem/internal/state"
	"github.com/Aman-CERP/amanmem/internal/telemetry"
	"github.com/Aman-CERP/amanmem/internal/vector"
)

// Detail selects how a Response is shaped. Every detail level ranks the
// same result list.
type Detail string

const (
	// DetailFull returns every result in the requested window.
	DetailFull Detail = "full"
	// DetailSummary returns the match count and the best hit.
	DetailSummary Detail = "summary"
	// DetailAggregate groups the window by project.
	DetailAggregate Detail = "aggregate"
)

// ParseDetail validates a detail name. The empty string means DetailFull.
func ParseDetail(s string) (Detail, error) {
	switch Detail(s) {
	case "", DetailFull:
		return DetailFull, nil
	case DetailSummary, DetailAggregate:
		return Detail(s), nil
	default:
		return "", fmt.Errorf("unknown detail %q (want full, summary or aggregate)", s)
	}
}

// Scope selects the collections a query runs against.
type Scope struct {
	// Project limits the query to one project's transcripts.
	Project string
	// All queries every project. Project is ignored.
	All bool
	// Mode overrides the current embedding mode, which keeps collections
	// written before a mode switch queryable.
	Mode string
}

func (s Scope) telemetryScope() telemetry.Scope {
	if s.All {
		return telemetry.ScopeAll
	}
	return telemetry.ScopeProject
}

// Options tune one search.
type Options struct {
	Limit        int
	Offset       int
	MinScore     float64
	Detail       Detail
	IncludeNotes bool
}

// Result is one ranked hit.
type Result struct {
	ID           string    `json:"id"`
	Score        float64   `json:"score"`
	DecayedScore float64   `json:"decayed_score"`
	Collection   string    `json:"collection"`
	Kind         string    `json:"kind"`
	Snippet      string    `json:"snippet"`
	Project      string    `json:"project,omitempty"`
	Path         string    `json:"path,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Role         string    `json:"role,omitempty"`
	Tools        []string  `json:"tools,omitempty"`
	Files        []string  `json:"files,omitempty"`
	Concepts     []string  `json:"concepts,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
}

// ProjectGroup aggregates the results of one project.
type ProjectGroup struct {
	Project  string    `json:"project"`
	Count    int       `json:"count"`
	TopScore float64   `json:"top_score"`
	Latest   time.Time `json:"latest"`
	Tools    []string  `json:"tools,omitempty"`
	Files    []string  `json:"files,omitempty"`
	Top      Result    `json:"top"`
}

// Response is the outcome of a search.
type Response struct {
	Query  string `json:"query"`
	Mode   string `json:"mode"`
	Detail Detail `json:"detail"`
	// Total counts ranked hits that passed MinScore, before pagination.
	Total       int            `json:"total"`
	Results     []Result       `json:"results,omitempty"`
	Top         *Result        `json:"top,omitempty"`
	Groups      []ProjectGroup `json:"groups,omitempty"`
	Collections []string       `json:"collections"`
	// Dropped names collections that failed or timed out.
	Dropped []string      `json:"dropped,omitempty"`
	Took    time.Duration `json:"took"`
}

// Note is a stored note.
type Note struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Project    string    `json:"project,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Day is one bucket of a Timeline.
type Day struct {
	Date     string      `json:"date"`
	Chunks   int         `json:"chunks"`
	Messages int         `json:"messages"`
	Notes    int         `json:"notes"`
	Projects []string    `json:"projects"`
	Tools    []ToolCount `json:"tools,omitempty"`
	Files    []string    `json:"files,omitempty"`
}

// ToolCount is how often a tool was used.
type ToolCount struct {
	Tool  string `json:"tool"`
	Count int    `json:"count"`
}

// Timeline is activity between two instants, one bucket per UTC day with
// activity.
type Timeline struct {
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Days    []Day     `json:"days"`
	Dropped []string  `json:"dropped,omitempty"`
}

// Status combines ingestion progress with the live vector collections.
type Status struct {
	Mode      string                  `json:"mode"`
	Summary   state.Summary           `json:"summary"`
	Vectors   []vector.CollectionInfo `json:"vectors"`
	Telemetry *telemetry.Snapshot     `json:"telemetry,omitempty"`
}
