package advice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tradecall/platform/internal/conversation"
	"github.com/tradecall/platform/pkg/logging"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 15 * time.Second

	defaultHistoryHead = 5
	defaultHistoryTail = 15
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds generation settings. HistoryHead/HistoryTail bound the
// context sent to the generator and should match the stored-history window
// so the two never diverge.
type Config struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	HistoryHead int
	HistoryTail int
}

// Client generates interim advice through the OpenAI chat completions API.
// One attempt per call with a hard timeout; the caller applies its own
// fallback policy on failure.
type Client struct {
	client      chatClient
	model       string
	timeout     time.Duration
	historyHead int
	historyTail int
	logger      *logging.Logger
	tracer      trace.Tracer
}

// New builds an OpenAI-backed client.
func New(cfg Config, logger *logging.Logger) *Client {
	return NewWithChatClient(openai.NewClient(cfg.APIKey), cfg, logger)
}

// NewWithChatClient allows injecting a chat client for tests.
func NewWithChatClient(client chatClient, cfg Config, logger *logging.Logger) *Client {
	if client == nil {
		panic("advice: chat client cannot be nil")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HistoryHead <= 0 {
		cfg.HistoryHead = defaultHistoryHead
	}
	if cfg.HistoryTail <= 0 {
		cfg.HistoryTail = defaultHistoryTail
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		client:      client,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		historyHead: cfg.HistoryHead,
		historyTail: cfg.HistoryTail,
		logger:      logger,
		tracer:      otel.Tracer("tradecall.internal.advice"),
	}
}

var _ conversation.Advisor = (*Client)(nil)

// Advise implements conversation.Advisor.
func (c *Client) Advise(ctx context.Context, req conversation.AdviceRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "advice.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("tradecall.category", req.Category),
		attribute.Int("tradecall.history_turns", len(req.History)),
	)

	messages := c.buildMessages(req)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("advice: generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("advice: empty response from generator")
		span.RecordError(err)
		return "", err
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		err := errors.New("advice: blank completion")
		span.RecordError(err)
		return "", err
	}
	return text, nil
}

// buildMessages assembles the system instruction plus the bounded history.
// A call with no history (fresh intake) asks directly about the issue.
func (c *Client) buildMessages(req conversation.AdviceRequest) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt(req.TenantName, req.Category, req.CustomerName, req.Issue),
	}}

	history := conversation.CapHistory(req.History, c.historyHead, c.historyTail)
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == conversation.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	if len(history) == 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf("What's the immediate solution for: %s", req.Issue),
		})
	}
	return messages
}
