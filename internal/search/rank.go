package search

import (
	"math"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/Aman-CERP/amanmem/internal/vector"
)

// snippetChars bounds Result.Snippet.
const snippetChars = 400

// Decay returns the weight of content of the given age: 1 when new, one
// half after halfLife, approaching 0 with age. Non-positive ages and
// half-lives weigh 1.
func Decay(age, halfLife time.Duration) float64 {
	if age <= 0 || halfLife <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(halfLife))
}

// rank converts hits to results, weighs each by age and orders them best
// first. Ties go to the newer hit, then to the smaller ID.
func (o *Orchestrator) rank(hits []collectionHit, minScore float64) []Result {
	now := o.now()
	halfLife := o.runtime.Config().Search.HalfLife

	out := make([]Result, 0, len(hits))
	for _, ch := range hits {
		r := toResult(ch.collection, ch.hit.ID, ch.hit.Payload)
		r.Score = float64(ch.hit.Score)
		age := time.Duration(0)
		if !r.Timestamp.IsZero() {
			age = now.Sub(r.Timestamp)
		}
		r.DecayedScore = r.Score * Decay(age, halfLife)
		if r.DecayedScore < minScore {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DecayedScore != out[j].DecayedScore {
			return out[i].DecayedScore > out[j].DecayedScore
		}
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func toResult(collection, id string, p vector.Payload) Result {
	return Result{
		ID:         id,
		Collection: collection,
		Kind:       p.Kind,
		Snippet:    snippet(p.Text),
		Project:    p.Project,
		Path:       p.Path,
		Timestamp:  p.Timestamp,
		Role:       p.Role,
		Tools:      p.Tools,
		Files:      p.Files,
		Concepts:   p.Concepts,
		Tags:       p.Tags,
	}
}

func snippet(text string) string {
	if len(text) <= snippetChars {
		return text
	}
	cut := snippetChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func paginate(results []Result, offset, limit int) []Result {
	if offset >= len(results) {
		return nil
	}
	end := len(results)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return results[offset:end]
}

// shape fills the detail-specific fields of resp from one page.
func shape(resp *Response, page []Result) {
	switch resp.Detail {
	case DetailSummary:
		if len(page) > 0 {
			top := page[0]
			resp.Top = &top
		}
	case DetailAggregate:
		resp.Groups = aggregate(page)
	default:
		resp.Results = page
	}
}

// aggregate groups results by project. Groups keep the order in which their
// best result ranks.
func aggregate(results []Result) []ProjectGroup {
	var groups []ProjectGroup
	index := make(map[string]int)
	tools := make(map[string]map[string]bool)
	files := make(map[string]map[string]bool)

	for _, r := range results {
		i, ok := index[r.Project]
		if !ok {
			i = len(groups)
			index[r.Project] = i
			groups = append(groups, ProjectGroup{Project: r.Project, TopScore: r.DecayedScore, Top: r})
			tools[r.Project] = make(map[string]bool)
			files[r.Project] = make(map[string]bool)
		}
		g := &groups[i]
		g.Count++
		if r.Timestamp.After(g.Latest) {
			g.Latest = r.Timestamp
		}
		for _, t := range r.Tools {
			if !tools[r.Project][t] {
				tools[r.Project][t] = true
				g.Tools = append(g.Tools, t)
			}
		}
		for _, f := range r.Files {
			if !files[r.Project][f] {
				files[r.Project][f] = true
				g.Files = append(g.Files, f)
			}
		}
	}
	return groups
}
