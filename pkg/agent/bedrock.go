package agent

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// BedrockConfig identifies the agent and tunes the SDK transport
type BedrockConfig struct {
	Region         string
	AgentID        string
	AgentAliasID   string
	MaxAttempts    int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// InvokeAgentAPI is the subset of the Bedrock agent runtime client used here
type InvokeAgentAPI interface {
	InvokeAgent(ctx context.Context, params *bedrockagentruntime.InvokeAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.InvokeAgentOutput, error)
}

// responseStream is the event stream returned by InvokeAgent
type responseStream interface {
	Events() <-chan types.ResponseStream
	Close() error
	Err() error
}

// BedrockAgent invokes a Bedrock agent alias and assembles its streamed answer
type BedrockAgent struct {
	client InvokeAgentAPI
	cfg    BedrockConfig
	logger ectologger.Logger
}

// NewBedrockClient builds the runtime client with adaptive retries and bounded connect and read
// timeouts.
func NewBedrockClient(ctx context.Context, cfg BedrockConfig) (*bedrockagentruntime.Client, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 120 * time.Second
	}

	httpClient := awshttp.NewBuildableClient().
		WithTimeout(cfg.ReadTimeout).
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = cfg.ConnectTimeout
		})

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxAttempts),
		config.WithRetryMode(aws.RetryModeAdaptive),
		config.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return bedrockagentruntime.NewFromConfig(awsCfg), nil
}

// NewBedrockAgent creates a new Bedrock agent invoker
func NewBedrockAgent(client InvokeAgentAPI, cfg BedrockConfig, logger ectologger.Logger) *BedrockAgent {
	return &BedrockAgent{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Invoke sends the prompt and concatenates every streamed chunk in order
func (a *BedrockAgent) Invoke(ctx context.Context, invocation Invocation) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "BedrockAgent.Invoke",
		attribute.String("agent.id", a.cfg.AgentID),
		attribute.String("agent.alias_id", a.cfg.AgentAliasID),
		attribute.String("agent.session_id", invocation.SessionID),
	)
	defer span.End()

	out, err := a.client.InvokeAgent(ctx, &bedrockagentruntime.InvokeAgentInput{
		AgentId:      aws.String(a.cfg.AgentID),
		AgentAliasId: aws.String(a.cfg.AgentAliasID),
		SessionId:    aws.String(invocation.SessionID),
		InputText:    aws.String(invocation.Prompt),
		EnableTrace:  aws.Bool(false),
		EndSession:   aws.Bool(false),
	})
	if err != nil {
		return nil, tracing.Fail(span, fmt.Errorf("invoke agent: %w", err), "invoke failed")
	}

	stream := out.GetStream()
	defer stream.Close()

	resp, err := collectChunks(stream)
	if err != nil {
		return nil, tracing.Fail(span, err, "stream failed")
	}

	for _, c := range resp.Citations {
		a.logger.WithContext(ctx).WithFields(map[string]any{
			"safety_check_id": invocation.SessionID,
			"references":      c.References,
		}).Debugf("Agent citation: %s", c.Text)
	}

	span.SetAttributes(attribute.Int("agent.response_length", len(resp.Text)))
	return resp, nil
}

func collectChunks(stream responseStream) (*Response, error) {
	var text strings.Builder
	resp := &Response{}

	for event := range stream.Events() {
		chunk, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}
		text.Write(chunk.Value.Bytes)

		if chunk.Value.Attribution == nil {
			continue
		}
		for _, citation := range chunk.Value.Attribution.Citations {
			resp.Citations = append(resp.Citations, toCitation(citation))
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("agent response stream: %w", err)
	}

	resp.Text = text.String()
	if strings.TrimSpace(resp.Text) == "" {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}

func toCitation(c types.Citation) Citation {
	var out Citation
	if c.GeneratedResponsePart != nil && c.GeneratedResponsePart.TextResponsePart != nil {
		out.Text = aws.ToString(c.GeneratedResponsePart.TextResponsePart.Text)
	}
	for _, ref := range c.RetrievedReferences {
		if ref.Location == nil || ref.Location.S3Location == nil {
			continue
		}
		out.References = append(out.References, aws.ToString(ref.Location.S3Location.Uri))
	}
	return out
}
