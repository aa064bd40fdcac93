// Package scoring computes weighted candidate scores from per-criterion AI ratings.
package scoring

import (
	"sort"

	"IssueAssembler/internal/domain"
)

const (
	defaultWeight = 1.0
	minScore      = 0.0
	maxScore      = 10.0
)

// Weights builds the module's weight table; unset weights default to 1.0.
func Weights(criteria []domain.Criterion) map[int]float64 {
	out := make(map[int]float64, len(criteria))
	for _, c := range criteria {
		w := defaultWeight
		if c.Weight != nil {
			w = *c.Weight
		}
		out[c.Number] = w
	}
	return out
}

// Score returns Σ score_i × weight_i over every criterion number seen in either input.
// A missing score contributes 0 and a missing weight counts as 1.0.
func Score(scores map[int]float64, criteria []domain.Criterion) float64 {
	return weightedSum(scores, Weights(criteria))
}

func weightedSum(scores map[int]float64, weights map[int]float64) float64 {
	var total float64
	for _, n := range numbers(scores, weights) {
		w, ok := weights[n]
		if !ok {
			w = defaultWeight
		}
		total += scores[n] * w
	}
	return total
}

// numbers yields the sorted union so float summation order is deterministic.
func numbers(scores map[int]float64, weights map[int]float64) []int {
	seen := make(map[int]struct{}, len(scores)+len(weights))
	for n := range scores {
		seen[n] = struct{}{}
	}
	for n := range weights {
		seen[n] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Clamp bounds a raw AI score to the 0–10 scale.
func Clamp(v float64) float64 {
	if v < minScore {
		return minScore
	}
	if v > maxScore {
		return maxScore
	}
	return v
}

// Merge overlays revised criterion scores onto a stored rating and recomputes the total.
// Stored scores for criteria that are not revised are kept as they are.
func Merge(stored domain.Rating, revised map[int]float64, criteria []domain.Criterion) domain.Rating {
	out := stored.Clone()
	if out.Scores == nil {
		out.Scores = make(map[int]float64, len(revised))
	}
	for n, v := range revised {
		out.Scores[n] = Clamp(v)
	}
	out.Weights = Weights(criteria)
	out.Total = weightedSum(out.Scores, out.Weights)
	return out
}

// CandidateScore scores a candidate against a module's criteria; unrated candidates score 0.
func CandidateScore(c domain.Candidate, criteria []domain.Criterion) float64 {
	if c.Rating == nil {
		return 0
	}
	return Score(c.Rating.Scores, criteria)
}
