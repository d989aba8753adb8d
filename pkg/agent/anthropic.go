package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

const defaultSystemPrompt = "You are a field safety officer. Given a work order, produce a concise safety briefing " +
	"covering weather exposure, site hazards, required control measures and recent incidents."

// AnthropicConfig configures the Messages API provider
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int64
	MaxRetries   int
	SystemPrompt string
}

// AnthropicAgent answers safety checks with a single Messages API call
type AnthropicAgent struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string
	logger    ectologger.Logger
}

// NewAnthropicAgent creates a new Anthropic agent
func NewAnthropicAgent(cfg AnthropicConfig, logger ectologger.Logger) (*AnthropicAgent, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}

	return &AnthropicAgent{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
		system:    cfg.SystemPrompt,
		logger:    logger,
	}, nil
}

// Invoke sends the prompt as one user message and joins the text blocks of the reply
func (a *AnthropicAgent) Invoke(ctx context.Context, invocation Invocation) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "AnthropicAgent.Invoke",
		attribute.String("agent.model", string(a.model)),
		attribute.String("agent.session_id", invocation.SessionID),
	)
	defer span.End()

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: a.system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(invocation.Prompt)),
		},
	})
	if err != nil {
		return nil, tracing.Fail(span, fmt.Errorf("anthropic messages: %w", err), "messages call failed")
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	span.SetAttributes(
		attribute.Int64("agent.input_tokens", message.Usage.InputTokens),
		attribute.Int64("agent.output_tokens", message.Usage.OutputTokens),
	)
	a.logger.WithContext(ctx).WithFields(map[string]any{
		"safety_check_id": invocation.SessionID,
		"input_tokens":    message.Usage.InputTokens,
		"output_tokens":   message.Usage.OutputTokens,
	}).Debug("Anthropic response received")

	if strings.TrimSpace(text.String()) == "" {
		return nil, ErrEmptyResponse
	}
	return &Response{Text: text.String()}, nil
}
