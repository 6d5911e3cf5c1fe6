package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultSystemMessage = "You are a helpful assistant."

// Client is an LLM gateway over an OpenAI-compatible chat-completions API.
// It normalizes every outcome into a CallResult and never retries; retry
// policy belongs to the caller.
type Client struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a gateway client. The timeout bounds the whole call;
// after it the result is a ConnectionError, never a hang.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o-mini"
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Temperature   float64        `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	TopP          float64        `json:"top_p,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Seed          *int           `json:"seed,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Invoke sends one completion call. Configuration and input problems fail
// before any network traffic.
func (c *Client) Invoke(ctx context.Context, req InvokeRequest) *CallResult {
	if c.config.APIKey == "" {
		c.logger.Error("llm call rejected: no API key configured")
		return &CallResult{
			Success:     false,
			StatusCode:  http.StatusUnauthorized,
			Message:     "configuration error",
			ErrorKind:   ConfigError,
			ErrorDetail: "no API key configured",
		}
	}
	if len(req.Messages) == 0 && req.Prompt == "" {
		c.logger.Error("llm call rejected: neither messages nor prompt supplied")
		return &CallResult{
			Success:     false,
			StatusCode:  http.StatusBadRequest,
			Message:     "input error",
			ErrorKind:   InputError,
			ErrorDetail: "neither messages nor prompt supplied",
		}
	}

	messages := req.Messages
	if len(messages) == 0 {
		system := req.SystemMessage
		if system == "" {
			system = defaultSystemMessage
		}
		messages = []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: req.Prompt},
		}
	}

	model := req.Model
	if model == "" {
		model = c.config.DefaultModel
	}

	body := chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Seed:        req.Seed,
	}
	if req.Stream {
		body.Stream = true
		if req.IncludeStreamUsage {
			body.StreamOptions = &streamOptions{IncludeUsage: true}
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return c.unexpected(fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.Endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return c.unexpected(fmt.Sprintf("create request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	c.logger.Info("llm request",
		zap.String("model", model),
		zap.Bool("stream", req.Stream),
		zap.Int("messages", len(messages)))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Error("llm connection failed", zap.Error(err))
		return &CallResult{
			Success:     false,
			StatusCode:  http.StatusServiceUnavailable,
			Message:     "connection error",
			ErrorKind:   ConnectionError,
			ErrorDetail: err.Error(),
		}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return c.classify(resp.StatusCode, string(respBody))
	}

	if req.Stream {
		ch := make(chan StreamChunk, 64)
		go c.readSSEStream(resp.Body, ch)
		return &CallResult{
			Success:    true,
			StatusCode: http.StatusOK,
			Message:    "streaming started",
			Stream:     ch,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.unexpected(fmt.Sprintf("read response: %v", err))
	}
	var completion chatCompletionResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return c.unexpected(fmt.Sprintf("decode response: %v", err))
	}
	if len(completion.Choices) == 0 {
		return c.unexpected("response contained no choices")
	}

	result := &CallResult{
		Success:    true,
		StatusCode: http.StatusOK,
		Message:    "successful",
		Content:    completion.Choices[0].Message.Content,
		Usage:      completion.Usage,
	}
	if req.ReturnRaw {
		result.Raw = raw
	}
	return result
}

// classify maps a provider HTTP status to an ErrorKind.
func (c *Client) classify(status int, detail string) *CallResult {
	kind := ProviderError
	message := "provider error"
	switch {
	case status == http.StatusUnauthorized:
		kind = AuthenticationError
		message = "authentication error"
	case status == http.StatusTooManyRequests:
		kind = RateLimited
		message = "rate limited"
	case status >= 400 && status < 500:
		kind = BadRequest
		message = "bad request"
	}
	c.logger.Error("llm call failed",
		zap.Int("status", status),
		zap.String("kind", string(kind)))
	return &CallResult{
		Success:     false,
		StatusCode:  status,
		Message:     message,
		ErrorKind:   kind,
		ErrorDetail: detail,
	}
}

func (c *Client) unexpected(detail string) *CallResult {
	c.logger.Error("llm call failed unexpectedly", zap.String("detail", detail))
	return &CallResult{
		Success:     false,
		StatusCode:  http.StatusInternalServerError,
		Message:     "unexpected error",
		ErrorKind:   UnexpectedError,
		ErrorDetail: detail,
	}
}

// readSSEStream parses the provider's SSE stream into chunks. The channel
// is closed after the final chunk; the sequence is finite, forward-only and
// not restartable.
func (c *Client) readSSEStream(body io.ReadCloser, ch chan<- StreamChunk) {
	defer close(ch)
	defer body.Close()

	var usage *Usage
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 1024)
	for {
		n, err := body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				line := string(buf[:idx])
				buf = buf[idx+2:]

				if len(line) > 6 && line[:6] == "data: " {
					data := line[6:]
					if data == "[DONE]" {
						ch <- StreamChunk{Done: true, Usage: usage}
						return
					}
					var chunk struct {
						Choices []struct {
							Delta struct {
								Content string `json:"content"`
							} `json:"delta"`
						} `json:"choices"`
						Usage *Usage `json:"usage"`
					}
					if json.Unmarshal([]byte(data), &chunk) != nil {
						continue
					}
					if chunk.Usage != nil {
						usage = chunk.Usage
					}
					if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
						ch <- StreamChunk{Content: chunk.Choices[0].Delta.Content}
					}
				}
			}
		}
		if err != nil {
			// Stream ended without [DONE]; still mark termination.
			ch <- StreamChunk{Done: true, Usage: usage}
			return
		}
	}
}
