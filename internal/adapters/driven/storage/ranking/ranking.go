// Package ranking holds the ordering rules shared by every store backend:
// cosine distance, the distance tie-break and reciprocal-rank fusion.
package ranking

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// Candidate is a chunk scored against the query vector.
type Candidate struct {
	ChunkID   string
	Distance  float64
	Version   int
	VersionAt time.Time
	Ordinal   int
}

// Scored is a fused result.
type Scored struct {
	ChunkID string
	Score   float64
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// SortByDistance orders candidates by ascending distance, then newest
// version, then lowest ordinal. Chunk ID makes the order total.
func SortByDistance(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if !a.VersionAt.Equal(b.VersionAt) {
			return a.VersionAt.After(b.VersionAt)
		}
		if a.Version != b.Version {
			return a.Version > b.Version
		}
		if a.Ordinal != b.Ordinal {
			return a.Ordinal < b.Ordinal
		}
		return a.ChunkID < b.ChunkID
	})
}

// Fuse merges a distance-ordered list and a lexical list using
// Reciprocal Rank Fusion. Each list contributes 1/(k+rank+1).
// Ties keep the vector order, then the lexical order.
func Fuse(vector []Candidate, lexical []string, k int) []Scored {
	if k <= 0 {
		k = domain.DefaultRRFK
	}

	scores := make(map[string]float64, len(vector)+len(lexical))
	order := make(map[string]int, len(vector)+len(lexical))
	var ids []string

	add := func(id string, rank int) {
		if _, ok := order[id]; !ok {
			order[id] = len(ids)
			ids = append(ids, id)
		}
		scores[id] += 1.0 / float64(k+rank+1)
	}
	for rank, c := range vector {
		add(c.ChunkID, rank)
	}
	for rank, id := range lexical {
		add(id, rank)
	}

	results := make([]Scored, 0, len(ids))
	for _, id := range ids {
		results = append(results, Scored{ChunkID: id, Score: scores[id]})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return order[results[i].ChunkID] < order[results[j].ChunkID]
	})
	return results
}

// Pool returns the per-list candidate bound for a query.
func Pool(q domain.SearchQuery) int {
	if q.CandidatePool > 0 {
		return q.CandidatePool
	}
	return max(10*q.K, 100)
}

// termPattern matches indexable words.
var termPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Terms lowercases text and returns its distinct words in order of first
// appearance. Backends quote these before building a lexical query, so
// user input never reaches the query syntax.
func Terms(text string) []string {
	words := termPattern.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
