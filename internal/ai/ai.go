package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// ToolCall is a tool invocation requested by the model. It lives only within
// one agent-loop turn.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the structured response to one ToolCall, fed back into the
// conversation verbatim as a JSON payload.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Turn is one model response: either one or more tool calls, or a final text
// answer.
type Turn struct {
	Text      string
	ToolCalls []ToolCall
}

func (t Turn) WantsTools() bool { return len(t.ToolCalls) > 0 }

// Message is one transcript entry. Assistant entries may carry tool calls;
// the entries that answer them carry tool results.
type Message struct {
	Role        string
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client is the reasoning-model endpoint. Implementations must treat the
// remote as slow and unreliable; transport failures are reported as
// *TransportError so callers can retry the transient ones.
type Client interface {
	Chat(ctx context.Context, system string, transcript []Message, tools []llms.Tool) (Turn, error)
}

// TransportError wraps a model call failure. Transient failures (timeouts,
// rate limits, overload) are safe to retry with backoff.
type TransportError struct {
	Err       error
	Transient bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("model transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Transient
}

func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	transient := false
	if errors.Is(err, context.DeadlineExceeded) {
		transient = true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		transient = true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "overloaded", "temporarily", "timeout"} {
		if strings.Contains(msg, marker) {
			transient = true
			break
		}
	}
	return &TransportError{Err: err, Transient: transient}
}
