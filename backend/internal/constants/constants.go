package constants

// Topic similarity thresholds
const (
	// HighConfidenceThreshold: scores strictly above are a confident continuation
	HighConfidenceThreshold = 0.75
	// ContinuationThreshold: scores strictly above are still treated as continuation
	ContinuationThreshold = 0.55
	// TopicCommitThreshold: the stored topic is only replaced strictly below this.
	// Kept apart from ContinuationThreshold on purpose (hysteresis).
	TopicCommitThreshold = 0.4
	// CosineEpsilon guards the cosine denominator against zero norms
	CosineEpsilon = 1e-10
)

// Fallback scores
const (
	FirstMessageScore = 1.0
	NeutralScore      = 0.5
)

// Listing limits
const (
	MaxListedSessions = 100
	MaxListedUsers    = 1000
)

// Context selection
const (
	// DefaultMaxContextMessages is used when callers pass a non-positive limit
	DefaultMaxContextMessages = 3
	// MinRankableMessages: sessions with this many messages or fewer have nothing to rank
	MinRankableMessages = 2
	// EmbeddingConcurrency bounds concurrent embedding calls for one relevance query
	EmbeddingConcurrency = 4
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Recommendations handed to the prompt layer
const (
	RecommendationFirstMessage = "First message in session"
	RecommendationContinuation = "CONTINUATION: User is asking a follow-up on the same topic. Build upon previous context."
	RecommendationPossible     = "POSSIBLE_CONTINUATION: User may be asking a tangential question. Acknowledge the current topic but allow for context shift."
	RecommendationNewTopic     = "NEW_TOPIC: User appears to be switching to a new topic. You can acknowledge this shift gracefully."
	RecommendationUndetermined = "Unable to determine similarity. Proceed with caution."
)
