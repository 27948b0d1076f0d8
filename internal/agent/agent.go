// Package agent provides the single-call LLM agent primitive: one role, one
// prompt template, one model call, one strict-JSON parse. Every reasoning
// capability in beacon (the deliberation chain, signal enrichment, the
// auxiliary analyzers) is a Definition executed through Run.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/agent")

// Provider is the interface for any LLM backend capable of a single
// prompt-to-text completion.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request is the input to a Provider call.
type Request struct {
	Model     string
	MaxTokens int
	System    string
	Prompt    string
}

// Response is the output of a Provider call.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Usage reports token consumption for a single call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Definition describes one agent: a role name, the model to call, and a
// prompt builder that must be pure in its input.
type Definition struct {
	Role        string
	Model       string
	MaxTokens   int
	System      string
	BuildPrompt func(input any) (string, error)
}

// Trace is the append-only audit record of one agent invocation. IncidentID
// is the single late-bind field, filled in once an incident is confirmed.
type Trace struct {
	SessionID  string    `json:"session_id"`
	IncidentID string    `json:"incident_id,omitempty"`
	Step       string    `json:"step"`
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	Model      string    `json:"model"`
	Usage      Usage     `json:"usage"`
	Timestamp  time.Time `json:"timestamp"`
}

// ExecutionError reports an agent call that produced no usable structured
// output: an empty model response or a response that failed JSON parsing.
type ExecutionError struct {
	Role string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Role, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Run executes one agent: build the prompt, call the provider, extract and
// decode the strict-JSON payload into out. The returned Trace is the only
// observable effect; persisting it is the caller's concern.
func Run(ctx context.Context, p Provider, def Definition, sessionID string, input any, out any) (*Trace, error) {
	ctx, span := tracer.Start(ctx, "agent.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("gen_ai.operation.name", "agent.run"),
		attribute.String("beacon.agent.role", def.Role),
		attribute.String("beacon.session.id", sessionID),
	)

	prompt, err := def.BuildPrompt(input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &ExecutionError{Role: def.Role, Err: fmt.Errorf("build prompt: %w", err)}
	}

	resp, err := p.Complete(ctx, &Request{
		Model:     def.Model,
		MaxTokens: def.MaxTokens,
		System:    def.System,
		Prompt:    prompt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &ExecutionError{Role: def.Role, Err: fmt.Errorf("model call: %w", err)}
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)

	payload, err := ExtractJSON(resp.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &ExecutionError{Role: def.Role, Err: err}
	}

	if err := json.Unmarshal([]byte(payload), out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &ExecutionError{Role: def.Role, Err: fmt.Errorf("decode response: %w", err)}
	}

	return &Trace{
		SessionID: sessionID,
		Step:      def.Role,
		Input:     prompt,
		Output:    payload,
		Model:     resp.Model,
		Usage:     resp.Usage,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ExtractJSON locates the JSON object in a model response. Models wrap
// output in markdown fences or prose often enough that a bare
// json.Unmarshal on the raw text is unreliable.
func ExtractJSON(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", fmt.Errorf("empty model response")
	}

	// Strip a markdown code fence if present.
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if i := strings.LastIndex(trimmed, "```"); i >= 0 {
			trimmed = trimmed[:i]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	// Fall back to the outermost braces when the object is embedded in prose.
	if !gjson.Valid(trimmed) {
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start < 0 || end <= start {
			return "", fmt.Errorf("no JSON object in model response")
		}
		trimmed = trimmed[start : end+1]
	}

	if !gjson.Valid(trimmed) {
		return "", fmt.Errorf("malformed JSON in model response")
	}
	return trimmed, nil
}
