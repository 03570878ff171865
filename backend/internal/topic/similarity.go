package topic

import (
	"fmt"
	"math"

	"stackqa-memory/backend/internal/constants"
)

// Confidence is the similarity tier
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// SimilarityResult is the drift verdict handed to the prompt layer
type SimilarityResult struct {
	SimilarityScore float64    `json:"similarity_score"`
	IsContinuation  bool       `json:"is_continuation"`
	Confidence      Confidence `json:"confidence"`
	Recommendation  string     `json:"recommendation"`
}

// ScoredMessage is a prior message ranked against the current question
type ScoredMessage struct {
	Similarity float64 `json:"similarity"`
	Role       string  `json:"role"`
	Content    string  `json:"content"`
}

// FirstMessageResult is returned when the session has no topic yet
func FirstMessageResult() SimilarityResult {
	return SimilarityResult{
		SimilarityScore: constants.FirstMessageScore,
		IsContinuation:  true,
		Confidence:      ConfidenceHigh,
		Recommendation:  constants.RecommendationFirstMessage,
	}
}

// NeutralResult is returned when similarity cannot be computed
func NeutralResult() SimilarityResult {
	return SimilarityResult{
		SimilarityScore: constants.NeutralScore,
		IsContinuation:  true,
		Confidence:      ConfidenceLow,
		Recommendation:  constants.RecommendationUndetermined,
	}
}

// Classify maps a score onto its tier. Bounds: (0.75, ∞) high,
// (0.55, 0.75] medium, (-∞, 0.55] low.
func Classify(score float64) SimilarityResult {
	result := SimilarityResult{SimilarityScore: score}
	switch {
	case score > constants.HighConfidenceThreshold:
		result.IsContinuation = true
		result.Confidence = ConfidenceHigh
		result.Recommendation = constants.RecommendationContinuation
	case score > constants.ContinuationThreshold:
		result.IsContinuation = true
		result.Confidence = ConfidenceMedium
		result.Recommendation = constants.RecommendationPossible
	default:
		result.IsContinuation = false
		result.Confidence = ConfidenceLow
		result.Recommendation = constants.RecommendationNewTopic
	}
	return result
}

// CosineSimilarity computes dot(a,b) / (|a|*|b| + eps) in float64.
// Vectors of different length cannot be compared.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("empty vector")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	score := dot / (math.Sqrt(normA)*math.Sqrt(normB) + constants.CosineEpsilon)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("non-finite similarity")
	}
	return score, nil
}
