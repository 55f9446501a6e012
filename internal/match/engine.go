package match

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/facefind/internal/models"
)

// Result is one ranked match for a find-me query.
type Result struct {
	PhotoID uuid.UUID `json:"photo_id"`
	Score   float64   `json:"score"`
}

// Score returns the similarity between two embeddings in [0, 1], where 1.0
// means identical vectors. It is cosine similarity floored at zero, the same
// convention as pgvector's `1 - (a <=> b)` used for stored-side search.
func Score(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	// Single sqrt over the product keeps a == b at exactly 1.0.
	sim := dot / math.Sqrt(normA*normB)
	if sim > 1 {
		sim = 1
	}
	if sim < 0 {
		sim = 0
	}
	return sim
}

// Rank scores every candidate against the query embedding, keeps those at or
// above threshold and returns them sorted by descending score. Ties keep the
// candidates' input order. An empty result is a normal outcome.
func Rank(query []float32, candidates []models.Candidate, threshold float64) []Result {
	return RankBest([][]float32{query}, candidates, threshold)
}

// RankBest ranks candidates against multiple query embeddings (a user's
// active reference faces). The effective score per candidate is the maximum
// across queries, not an average. Zero queries yields an empty result.
func RankBest(queries [][]float32, candidates []models.Candidate, threshold float64) []Result {
	if len(queries) == 0 {
		return nil
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		best := 0.0
		for _, q := range queries {
			if s := Score(q, c.Embedding); s > best {
				best = s
			}
		}
		if best >= threshold {
			results = append(results, Result{PhotoID: c.PhotoID, Score: best})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// Dedupe collapses multiple faces of the same photo to the photo's best
// score, preserving rank order of first appearance. The input is left
// untouched.
func Dedupe(results []Result) []Result {
	seen := make(map[uuid.UUID]bool, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if seen[r.PhotoID] {
			continue
		}
		seen[r.PhotoID] = true
		out = append(out, r)
	}
	return out
}
