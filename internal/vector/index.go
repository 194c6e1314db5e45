package vector

import (
	"math"
	"sort"

	"github.com/coder/hnsw"
)

// index is the in-memory ANN graph for one collection. Points keep their
// vectors and payloads alongside the graph so filtered queries can fall
// back to an exact scan. Not safe for concurrent use; the stores lock.
type index struct {
	dims  int
	graph *hnsw.Graph[uint64]

	idMap   map[string]uint64 // point ID -> graph key
	keyMap  map[uint64]string // graph key -> point ID
	points  map[string]Point
	nextKey uint64
}

// Replaced and removed points stay in the graph as orphans; coder/hnsw
// misbehaves when the last node is deleted. Once orphans reach a quarter
// of the graph, and at least minCompactOrphans, it is rebuilt.
const (
	minCompactOrphans = 64
	compactDivisor    = 4
)

func newGraph() *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 64
	graph.Ml = 0.25
	return graph
}

func newIndex(dims int) *index {
	return &index{
		dims:   dims,
		graph:  newGraph(),
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		points: make(map[string]Point),
	}
}

// put adds or replaces a point.
func (ix *index) put(p Point) {
	if old, ok := ix.idMap[p.ID]; ok {
		delete(ix.keyMap, old)
		delete(ix.idMap, p.ID)
	}

	vec := make([]float32, len(p.Vector))
	copy(vec, p.Vector)
	normalizeVectorInPlace(vec)

	key := ix.nextKey
	ix.nextKey++
	ix.graph.Add(hnsw.MakeNode(key, vec))

	ix.idMap[p.ID] = key
	ix.keyMap[key] = p.ID
	ix.points[p.ID] = Point{ID: p.ID, Vector: vec, Payload: p.Payload}
	ix.maybeCompact()
}

func (ix *index) remove(id string) bool {
	key, ok := ix.idMap[id]
	if !ok {
		return false
	}
	delete(ix.keyMap, key)
	delete(ix.idMap, id)
	delete(ix.points, id)
	ix.maybeCompact()
	return true
}

func (ix *index) maybeCompact() {
	o := ix.orphans()
	if o < minCompactOrphans || o*compactDivisor < ix.graph.Len() {
		return
	}
	ix.compact()
}

// compact rebuilds the graph from the live points. Keys are reassigned in
// ID order.
func (ix *index) compact() {
	ids := make([]string, 0, len(ix.points))
	for id := range ix.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	graph := newGraph()
	idMap := make(map[string]uint64, len(ids))
	keyMap := make(map[uint64]string, len(ids))
	var key uint64
	for _, id := range ids {
		graph.Add(hnsw.MakeNode(key, ix.points[id].Vector))
		idMap[id] = key
		keyMap[key] = id
		key++
	}

	ix.graph = graph
	ix.idMap = idMap
	ix.keyMap = keyMap
	ix.nextKey = key
}

func (ix *index) len() int {
	return len(ix.points)
}

func (ix *index) orphans() int {
	return ix.graph.Len() - len(ix.idMap)
}

// search returns up to limit hits. The graph is over-fetched to absorb
// orphans and filtered-out points; an exact scan covers what it misses.
func (ix *index) search(query []float32, filter Filter, limit int) []Hit {
	if limit <= 0 || len(ix.points) == 0 {
		return nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	k := limit + ix.orphans()
	if !filter.empty() {
		k = limit*4 + ix.orphans()
	}
	k = min(k, ix.graph.Len())

	hits := make([]Hit, 0, limit)
	seen := make(map[string]bool, k)
	for _, node := range ix.graph.Search(q, k) {
		id, ok := ix.keyMap[node.Key]
		if !ok {
			continue
		}
		p := ix.points[id]
		if !filter.Match(p.Payload) {
			continue
		}
		seen[id] = true
		hits = append(hits, Hit{ID: id, Score: distanceToScore(hnsw.CosineDistance(q, node.Value)), Payload: p.Payload})
	}

	if len(hits) < limit && len(hits) < ix.countMatching(filter) {
		for id, p := range ix.points {
			if seen[id] || !filter.Match(p.Payload) {
				continue
			}
			hits = append(hits, Hit{ID: id, Score: distanceToScore(hnsw.CosineDistance(q, p.Vector)), Payload: p.Payload})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (ix *index) countMatching(filter Filter) int {
	if filter.empty() {
		return len(ix.points)
	}
	n := 0
	for _, p := range ix.points {
		if filter.Match(p.Payload) {
			n++
		}
	}
	return n
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore maps cosine distance (0 identical, 2 opposite) to [0, 1].
func distanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}
