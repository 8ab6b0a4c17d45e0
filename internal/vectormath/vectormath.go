// Package vectormath implements the pure numeric operations used by the
// retrieval index: cosine similarity, normalization, and top-K ranking.
// All functions are deterministic and allocate only their return values.
package vectormath

import (
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch is returned when two vectors of different lengths are
// compared. The index treats this as fatal for the single operation, not for
// the whole index.
type ErrDimensionMismatch struct {
	// A and B are the mismatched vector lengths.
	A, B int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vectormath: dimension mismatch: %d vs %d", e.A, e.B)
}

// ErrEmptyVector is returned when a zero-length vector is passed to an
// operation that requires at least one component.
type ErrEmptyVector struct{}

func (e *ErrEmptyVector) Error() string { return "vectormath: empty vector" }

// CosineSimilarity returns dot(a,b) / (‖a‖·‖b‖).
// If either vector has zero norm the result is exactly 0 — never NaN.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, &ErrEmptyVector{}
	}
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{A: len(a), B: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Normalize returns a unit-length copy of v. A zero-norm vector is returned
// as an unchanged copy rather than producing NaN components.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// Scored pairs a candidate index with its similarity score and 1-based rank.
type Scored struct {
	// Index is the candidate's position in the input slice.
	Index int
	// Score is the cosine similarity against the query.
	Score float64
	// Rank is 1-based, assigned after sorting.
	Rank int
}

// TopKSimilar scores every candidate against query, keeps those with
// score ≥ minScore (inclusive), sorts descending by score with ties broken
// by original candidate order, truncates to k, and assigns 1-based ranks.
//
// k ≤ 0 is a configuration error. An empty candidate list yields an empty
// result, not an error. A candidate whose dimensionality differs from the
// query's fails the whole call — mixed dimensionalities within one index
// are an error state, not a skippable condition.
func TopKSimilar(query []float32, candidates [][]float32, k int, minScore float64) ([]Scored, error) {
	if k <= 0 {
		return nil, fmt.Errorf("vectormath: top-k must be positive, got %d", k)
	}
	if len(query) == 0 {
		return nil, &ErrEmptyVector{}
	}

	scored := make([]Scored, 0, len(candidates))
	for i, c := range candidates {
		s, err := CosineSimilarity(query, c)
		if err != nil {
			return nil, fmt.Errorf("vectormath: candidate %d: %w", i, err)
		}
		if s >= minScore {
			scored = append(scored, Scored{Index: i, Score: s})
		}
	}

	// SliceStable keeps insertion order among equal scores, which makes the
	// ranking deterministic across repeated calls on the same inputs.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored, nil
}
