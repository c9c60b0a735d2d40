package oracle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"wildfire_crew/internal/domain"
)

const (
	defaultReasoningEffort   = "none"
	defaultAPITimeout        = 2 * time.Minute
	defaultMaxOutputBytes    = 1024 * 1024
	defaultMaxOutputTokens   = 4000
	maxHTTPErrorBodyReadSize = 64 * 1024
)

var allowedReasoningEfforts = map[string]struct{}{
	"none":   {},
	"low":    {},
	"medium": {},
	"high":   {},
}

type HTTPConfig struct {
	Endpoint        string
	Model           string
	ReasoningEffort string
	AuthToken       string
	Timeout         time.Duration
	MaxOutputBytes  int
	MaxOutputTokens int
	Tokens          *TokenCounter
	Logger          *zap.Logger
	Client          *http.Client
}

// HTTPClient is an Oracle backed by a streaming Responses API endpoint. It
// makes exactly one attempt per call; wrap it in Resilient for retries.
type HTTPClient struct {
	endpoint        string
	model           string
	reasoningEffort string
	authToken       string
	maxOutputBytes  int
	maxOutputTokens int
	tokens          *TokenCounter
	logger          *zap.Logger
	client          *http.Client
}

func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("empty API endpoint")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid API endpoint %q: %w", endpoint, err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("empty model")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}
	maxOutputBytes := cfg.MaxOutputBytes
	if maxOutputBytes <= 0 {
		maxOutputBytes = defaultMaxOutputBytes
	}
	maxOutputTokens := cfg.MaxOutputTokens
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultMaxOutputTokens
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = NewTokenCounter("")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
		}
	}

	return &HTTPClient{
		endpoint:        endpoint,
		model:           model,
		reasoningEffort: normalizeReasoningEffort(cfg.ReasoningEffort),
		authToken:       strings.TrimSpace(cfg.AuthToken),
		maxOutputBytes:  maxOutputBytes,
		maxOutputTokens: maxOutputTokens,
		tokens:          tokens,
		logger:          cfg.Logger.With(zap.String("component", "oracle_http")),
		client:          client,
	}, nil
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	payload := responsesRequest{
		Model:           c.model,
		Instructions:    req.System,
		Stream:          true,
		Input:           toInputMessages(req.Turns),
		MaxOutputTokens: c.maxOutputTokens,
	}
	if c.reasoningEffort != "none" {
		payload.Reasoning = &responsesReasoning{Effort: c.reasoningEffort}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("%w: marshal responses request: %v", domain.ErrNonRetryable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: create API request: %v", domain.ErrNonRetryable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("responses api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxHTTPErrorBodyReadSize))
		if readErr != nil {
			return Response{}, fmt.Errorf("responses api status=%d and read body failed: %w", resp.StatusCode, readErr)
		}
		statusErr := apiHTTPError{
			statusCode: resp.StatusCode,
			body:       strings.TrimSpace(string(body)),
		}
		if !isRetryableAPIError(statusErr) {
			return Response{}, fmt.Errorf("%w: %w", domain.ErrNonRetryable, statusErr)
		}
		return Response{}, statusErr
	}

	text, usage, err := readResponsesStream(resp.Body, c.maxOutputBytes)
	if err != nil {
		return Response{}, fmt.Errorf("read responses stream: %w", err)
	}
	out := Response{Text: text, Usage: domain.Usage{Calls: 1}}
	if usage != nil {
		out.Usage.InputTokens = usage.InputTokens
		out.Usage.OutputTokens = usage.OutputTokens
	} else {
		out.Usage.InputTokens = int64(c.tokens.CountRequest(req))
		out.Usage.OutputTokens = int64(c.tokens.Count(text))
	}
	c.logger.Debug("oracle call",
		zap.String("purpose", req.Purpose),
		zap.Int("agent", int(req.Agent)),
		zap.Int64("input_tokens", out.Usage.InputTokens),
		zap.Int64("output_tokens", out.Usage.OutputTokens),
	)
	return out, nil
}

func toInputMessages(turns []Turn) []responsesInputMessage {
	out := make([]responsesInputMessage, 0, len(turns))
	for _, t := range turns {
		contentType := "input_text"
		if t.Role == TurnAssistant {
			contentType = "output_text"
		}
		out = append(out, responsesInputMessage{
			Role:    t.Role,
			Content: []responsesInputContent{{Type: contentType, Text: t.Content}},
		})
	}
	return out
}

func normalizeReasoningEffort(value string) string {
	effort := strings.ToLower(strings.TrimSpace(value))
	if effort == "" {
		return defaultReasoningEffort
	}
	if _, ok := allowedReasoningEfforts[effort]; !ok {
		return defaultReasoningEffort
	}
	return effort
}

func isRetryableAPIError(err error) bool {
	var statusErr apiHTTPError
	if errors.As(err, &statusErr) {
		return statusErr.statusCode == http.StatusTooManyRequests || statusErr.statusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

func readResponsesStream(body io.Reader, maxBytes int) (string, *responsesUsage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBytes+64*1024)

	var output strings.Builder
	var usage *responsesUsage
	var dataLines []string
	processEvent := func(lines []string) error {
		if len(lines) == 0 {
			return nil
		}
		data := strings.TrimSpace(strings.Join(lines, "\n"))
		if data == "" || data == "[DONE]" {
			return nil
		}
		var event responsesStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("unmarshal stream event: %w", err)
		}
		if event.Error != nil {
			return fmt.Errorf("responses stream error: %s", event.Error.Message)
		}
		if event.Response != nil && event.Response.Error != nil {
			return fmt.Errorf("responses completion error: %s", event.Response.Error.Message)
		}
		switch event.Type {
		case "response.output_text.delta":
			if output.Len()+len(event.Delta) > maxBytes {
				return fmt.Errorf("responses output exceeds %d bytes", maxBytes)
			}
			output.WriteString(event.Delta)
		case "response.completed":
			if event.Response == nil {
				return nil
			}
			usage = event.Response.Usage
			if output.Len() == 0 {
				text := extractCompletedResponseText(event.Response)
				if output.Len()+len(text) > maxBytes {
					return fmt.Errorf("responses output exceeds %d bytes", maxBytes)
				}
				output.WriteString(text)
			}
		}
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := processEvent(dataLines); err != nil {
				return "", nil, err
			}
			dataLines = dataLines[:0]
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return "", nil, err
	}
	if err := processEvent(dataLines); err != nil {
		return "", nil, err
	}
	text := strings.TrimSpace(output.String())
	if text == "" {
		return "", nil, fmt.Errorf("empty output stream")
	}
	return text, usage, nil
}

func extractCompletedResponseText(resp *responsesEventResponse) string {
	if resp == nil {
		return ""
	}
	var out strings.Builder
	for _, item := range resp.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" || part.Type == "text" {
				out.WriteString(part.Text)
			}
		}
	}
	return out.String()
}

type responsesRequest struct {
	Model           string                  `json:"model"`
	Instructions    string                  `json:"instructions,omitempty"`
	Stream          bool                    `json:"stream"`
	Reasoning       *responsesReasoning     `json:"reasoning,omitempty"`
	Input           []responsesInputMessage `json:"input"`
	MaxOutputTokens int                     `json:"max_output_tokens,omitempty"`
}

type responsesReasoning struct {
	Effort string `json:"effort"`
}

type responsesInputMessage struct {
	Role    string                  `json:"role"`
	Content []responsesInputContent `json:"content"`
}

type responsesInputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesStreamEvent struct {
	Type     string                  `json:"type"`
	Delta    string                  `json:"delta,omitempty"`
	Response *responsesEventResponse `json:"response,omitempty"`
	Error    *responsesAPIError      `json:"error,omitempty"`
}

type responsesEventResponse struct {
	Error  *responsesAPIError    `json:"error,omitempty"`
	Output []responsesOutputItem `json:"output,omitempty"`
	Usage  *responsesUsage       `json:"usage,omitempty"`
}

type responsesUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type responsesOutputItem struct {
	Type    string                   `json:"type"`
	Content []responsesOutputContent `json:"content,omitempty"`
}

type responsesOutputContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responsesAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

type apiHTTPError struct {
	statusCode int
	body       string
}

func (e apiHTTPError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("responses api status=%d", e.statusCode)
	}
	return fmt.Sprintf("responses api status=%d body=%s", e.statusCode, e.body)
}
