package provider

import (
	"encoding/json"
	"fmt"
	"time"
)

// ErrorKind classifies a failed LLM call. Kinds map 1:1 to provider failure
// categories; the gateway never retries on any of them.
type ErrorKind string

const (
	ConfigError         ErrorKind = "config_error"         // missing credential, fails before any network call
	InputError          ErrorKind = "input_error"          // neither messages nor prompt supplied
	ConnectionError     ErrorKind = "connection_error"     // transport failure or timeout
	RateLimited         ErrorKind = "rate_limited"         // 429
	AuthenticationError ErrorKind = "authentication_error" // 401
	BadRequest          ErrorKind = "bad_request"          // invalid model, oversized context, ...
	ProviderError       ErrorKind = "provider_error"       // generic upstream failure
	UnexpectedError     ErrorKind = "unexpected_error"     // catch-all
)

// Message is a structured chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage tracks token consumption as reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// InvokeRequest carries one completion call. Either Messages or Prompt must
// be set; when both are set Messages wins. A bare Prompt is wrapped with
// SystemMessage (or a default) before sending.
type InvokeRequest struct {
	Messages      []Message
	Prompt        string
	SystemMessage string

	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
	Stop        []string
	Seed        *int

	Stream             bool
	IncludeStreamUsage bool
	ReturnRaw          bool
}

// StreamChunk is one fragment of a streaming response. Done marks the final
// fragment; Usage rides on it only when the provider opted in.
type StreamChunk struct {
	Content string `json:"content,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
	Done    bool   `json:"done"`
}

// CallResult is the single normalized outcome shape of an LLM call:
// success with content, a started stream, or a classified failure.
type CallResult struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"status_code,omitempty"`
	Message    string          `json:"message,omitempty"`
	Content    string          `json:"content,omitempty"`
	Usage      *Usage          `json:"usage,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`

	// Stream is non-nil only when streaming was requested: a finite,
	// forward-only channel the caller drains exactly once.
	Stream <-chan StreamChunk `json:"-"`

	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// CallError surfaces a Failure result as an error at the boundary.
type CallError struct {
	StatusCode int
	Kind       ErrorKind
	Detail     string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("llm call failed (%s, status %d): %s", e.Kind, e.StatusCode, e.Detail)
}

// Err converts a failure result into an error; success yields nil.
func (r *CallResult) Err() error {
	if r.Success {
		return nil
	}
	return &CallError{StatusCode: r.StatusCode, Kind: r.ErrorKind, Detail: r.ErrorDetail}
}

// Config holds the provider endpoint settings.
type Config struct {
	Endpoint     string
	APIKey       string
	DefaultModel string
	Timeout      time.Duration
}
