// Package agent invokes the external reasoning agent that writes safety briefings.
package agent

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the agent answered with no text
var ErrEmptyResponse = errors.New("agent returned an empty response")

// Invocation is one question for the agent. SessionID groups calls into a conversation and is
// the request id for pipeline calls.
type Invocation struct {
	SessionID string
	Prompt    string
}

// Citation is a piece of generated text the agent attributed to a source
type Citation struct {
	Text       string   `json:"text"`
	References []string `json:"references,omitempty"`
}

// Response is the concatenated agent answer
type Response struct {
	Text      string
	Citations []Citation
}

// Agent is a long-running reasoning call
type Agent interface {
	Invoke(ctx context.Context, invocation Invocation) (*Response, error)
}
