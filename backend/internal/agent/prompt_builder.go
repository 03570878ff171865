package agent

import (
	"fmt"
	"strings"

	"stackqa-memory/backend/internal/adapter"
	"stackqa-memory/backend/internal/graph"
	"stackqa-memory/backend/internal/topic"
)

// PromptInput is everything the prompt layer needs for one turn
type PromptInput struct {
	SessionTopic    string
	Similarity      topic.SimilarityResult
	RelevantContext []topic.ScoredMessage
	History         []graph.Message
	Question        string
}

const systemTemplate = `First, think step-by-step about the user's question and the provided context.
The material you will see comes from StackExchange, a Q&A platform where people ask and answer questions on many topics.

[Your Job]
- Guide the user (a developer) using questions and answers from the context to sharpen your reasoning.
- Act as a Q&A analyst: give accurate, concise, context-aware answers.
- Explain complex technical concepts plainly, using analogies and examples where appropriate.
- Provide code snippets, and mermaid diagrams for workflows, architectures or processes when relevant.
- Help the user deepen their understanding and assist with their projects with insights, best practices and troubleshooting tips.

### CONVERSATION TOPIC AND CONTINUITY:
**Primary Topic: %s**

**INSTRUCTIONS FOR CONTINUITY:**
This session is a continuous conversation centered around the Primary Topic.
1. Treat the user's current question as a follow-up to the session topic unless the continuity note says otherwise.
2. Reference previous discussion naturally (e.g., "As we discussed...", "Building on that...").
3. Use context from the chat history to provide a cohesive answer.
4. If the user moves to something unrelated, acknowledge the shift and answer the new question directly.`

// fewShot sets the conversational tone before the real turn
var fewShot = []adapter.ChatMessage{
	{Role: "user", Content: "hello there"},
	{Role: "assistant", Content: "Hello there! How can I help you today?"},
}

// BuildSystemPrompt renders the persona and continuity instructions
func BuildSystemPrompt(sessionTopic string) string {
	if sessionTopic == "" {
		sessionTopic = "Not set yet (this is the first question of the session)"
	}
	return fmt.Sprintf(systemTemplate, sessionTopic)
}

// BuildUserPrompt renders the sectioned human message for the turn
func BuildUserPrompt(in PromptInput) string {
	var b strings.Builder

	b.WriteString("### TOPIC:\n")
	if in.SessionTopic != "" {
		b.WriteString(in.SessionTopic)
	} else {
		b.WriteString("(none)")
	}

	b.WriteString("\n\n### TOPIC CONTINUITY:\n")
	fmt.Fprintf(&b, "Similarity: %.2f (%s confidence)\n", in.Similarity.SimilarityScore, in.Similarity.Confidence)
	b.WriteString(in.Similarity.Recommendation)

	b.WriteString("\n\n### RELEVANT CONTEXT FROM CONVERSATION:\n")
	if len(in.RelevantContext) == 0 {
		b.WriteString("(none)")
	}
	for i, msg := range in.RelevantContext {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- [%s, similarity %.2f] %s", msg.Role, msg.Similarity, msg.Content)
	}

	b.WriteString("\n\n### FULL CONVERSATION HISTORY:\n")
	b.WriteString(FormatHistory(in.History))

	b.WriteString("\n\n### CURRENT QUESTION:\n")
	b.WriteString(in.Question)
	return b.String()
}

// FormatHistory renders messages as "Role: content" lines
func FormatHistory(messages []graph.Message) string {
	if len(messages) == 0 {
		return "(no previous messages)"
	}
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		speaker := "User"
		if msg.Role == "assistant" {
			speaker = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, msg.Content))
	}
	return strings.Join(lines, "\n")
}
