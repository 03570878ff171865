package adapter

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"stackqa-memory/backend/pkg/logger"
)

// ChatMessage is one prior turn handed to the model
type ChatMessage struct {
	Role    string // user or assistant
	Content string
}

// Response represents the LLM's answer, split into visible content and the
// model's <think> block when it emits one
type Response struct {
	Content string
	Thought string
}

// Generator produces answers. *LLMAdapter implements it.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []ChatMessage, question string) (*Response, error)
	GenerateStream(ctx context.Context, systemPrompt string, history []ChatMessage, question string, onToken func(string)) (*Response, error)
}

// LLMAdapter handles communication with the LLM via LiteLLM
type LLMAdapter struct {
	client     *openai.Client
	model      string
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewLLMAdapter creates a new LLM adapter
func NewLLMAdapter(baseURL, apiKey, modelID string) *LLMAdapter {
	// For LiteLLM, we can use a dummy API key if not provided
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"

	return &LLMAdapter{
		client:     openai.NewClientWithConfig(config),
		model:      modelID,
		maxRetries: 3,
		backoff:    time.Second,
		logger:     logger.Get(),
	}
}

// Model returns the chat model id
func (a *LLMAdapter) Model() string {
	return a.model
}

func (a *LLMAdapter) buildRequest(systemPrompt string, history []ChatMessage, question string) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: question,
	})

	return openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    messages,
		Temperature: 0.7,
	}
}

// Generate sends a request to the LLM and returns the response
func (a *LLMAdapter) Generate(ctx context.Context, systemPrompt string, history []ChatMessage, question string) (*Response, error) {
	req := a.buildRequest(systemPrompt, history, question)

	// Retry logic with linear backoff
	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * a.backoff
			a.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("llm request abandoned: %w", ctx.Err())
			case <-time.After(wait):
			}
		}

		resp, err = a.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}

		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", a.model),
		)
		if !retryableLLMError(err) {
			break
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to generate response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in LLM response")
	}

	content, thought := ExtractThought(resp.Choices[0].Message.Content)

	a.logger.Debug("LLM response generated",
		zap.String("model", a.model),
		zap.Int("history_turns", len(history)),
		zap.Bool("has_thought", thought != ""),
	)
	return &Response{Content: content, Thought: thought}, nil
}

// GenerateStream streams answer tokens to onToken as they arrive. Text inside
// a leading <think> block is withheld from onToken and returned as Thought.
func (a *LLMAdapter) GenerateStream(ctx context.Context, systemPrompt string, history []ChatMessage, question string, onToken func(string)) (*Response, error) {
	req := a.buildRequest(systemPrompt, history, question)
	req.Stream = true

	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to open response stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	filter := &thinkFilter{}
	for {
		chunk, err := stream.Recv()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("response stream failed: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if visible := filter.Push(delta); visible != "" && onToken != nil {
			onToken(visible)
		}
	}
	if rest := filter.Flush(); rest != "" && onToken != nil {
		onToken(rest)
	}

	content, thought := ExtractThought(full.String())
	return &Response{Content: content, Thought: thought}, nil
}

func retryableLLMError(err error) bool {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return true
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ExtractThought splits a leading <think>...</think> block from the answer.
// An unterminated block is treated as all thought.
func ExtractThought(text string) (content, thought string) {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(trimmed, thinkOpen) {
		return strings.TrimSpace(text), ""
	}
	body := trimmed[len(thinkOpen):]
	end := strings.Index(body, thinkClose)
	if end < 0 {
		return "", strings.TrimSpace(body)
	}
	return strings.TrimSpace(body[end+len(thinkClose):]), strings.TrimSpace(body[:end])
}

type thinkState int

const (
	thinkUndecided thinkState = iota
	thinkInside
	thinkPassthrough
)

// thinkFilter withholds streamed text until it is clear whether the response
// opens with a <think> block, then drops the block
type thinkFilter struct {
	buf   strings.Builder
	state thinkState
}

func (f *thinkFilter) Push(chunk string) string {
	if f.state == thinkPassthrough {
		return chunk
	}
	f.buf.WriteString(chunk)
	pending := f.buf.String()

	if f.state == thinkUndecided {
		lead := strings.TrimLeft(pending, " \t\r\n")
		switch {
		case strings.HasPrefix(lead, thinkOpen):
			f.state = thinkInside
		case strings.HasPrefix(thinkOpen, lead):
			return ""
		default:
			f.state = thinkPassthrough
			f.buf.Reset()
			return pending
		}
	}

	end := strings.Index(pending, thinkClose)
	if end < 0 {
		return ""
	}
	f.state = thinkPassthrough
	f.buf.Reset()
	return strings.TrimLeft(pending[end+len(thinkClose):], " \t\r\n")
}

// Flush returns text still held back when the stream ends undecided
func (f *thinkFilter) Flush() string {
	if f.state != thinkUndecided {
		return ""
	}
	rest := f.buf.String()
	f.buf.Reset()
	return rest
}
