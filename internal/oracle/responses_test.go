package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wildfire_crew/internal/domain"
)

func TestNormalizeReasoningEffort(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty defaults to none", in: "", want: "none"},
		{name: "trim and lower", in: "  MEDIUM ", want: "medium"},
		{name: "unsupported defaults to none", in: "ultra", want: "none"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeReasoningEffort(tc.in)
			if got != tc.want {
				t.Fatalf("normalizeReasoningEffort(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestReadResponsesStreamDelta(t *testing.T) {
	stream := strings.Join([]string{
		"event: response.created",
		`data: {"type":"response.created","response":{"id":"resp_1"}}`,
		"",
		"event: response.output_text.delta",
		`data: {"type":"response.output_text.delta","delta":"<AGENT_1>move to ","sequence_number":1}`,
		"",
		"event: response.output_text.delta",
		`data: {"type":"response.output_text.delta","delta":"(3, 4)</AGENT_1>","sequence_number":2}`,
		"",
		"event: response.completed",
		`data: {"type":"response.completed","response":{"id":"resp_1","status":"completed","usage":{"input_tokens":120,"output_tokens":9}}}`,
		"",
		"data: [DONE]",
		"",
	}, "\n")

	got, usage, err := readResponsesStream(strings.NewReader(stream), 1024*1024)
	if err != nil {
		t.Fatalf("readResponsesStream returned error: %v", err)
	}
	want := `<AGENT_1>move to (3, 4)</AGENT_1>`
	if got != want {
		t.Fatalf("readResponsesStream returned %q want %q", got, want)
	}
	if usage == nil || usage.InputTokens != 120 || usage.OutputTokens != 9 {
		t.Fatalf("usage=%+v", usage)
	}
}

func TestReadResponsesStreamCompletedFallback(t *testing.T) {
	stream := strings.Join([]string{
		"event: response.created",
		`data: {"type":"response.created","response":{"id":"resp_2"}}`,
		"",
		"event: response.completed",
		`data: {"type":"response.completed","response":{"output":[{"type":"message","content":[{"type":"output_text","text":"<feedback>ACCEPT</feedback>"}]}]}}`,
		"",
	}, "\n")

	got, usage, err := readResponsesStream(strings.NewReader(stream), 1024*1024)
	if err != nil {
		t.Fatalf("readResponsesStream returned error: %v", err)
	}
	if got != "<feedback>ACCEPT</feedback>" {
		t.Fatalf("readResponsesStream returned %q", got)
	}
	if usage != nil {
		t.Fatalf("expected no usage, got %+v", usage)
	}
}

func TestIsRetryableAPIError(t *testing.T) {
	if !isRetryableAPIError(apiHTTPError{statusCode: 429}) {
		t.Fatalf("429 should be retryable")
	}
	if !isRetryableAPIError(apiHTTPError{statusCode: 502}) {
		t.Fatalf("5xx should be retryable")
	}
	if isRetryableAPIError(apiHTTPError{statusCode: 400}) {
		t.Fatalf("400 should not be retryable")
	}
	if isRetryableAPIError(errors.New("plain error")) {
		t.Fatalf("plain error should not be retryable")
	}
}

func TestReadResponsesStreamTooLarge(t *testing.T) {
	delta := strings.Repeat("x", 20)
	stream := fmt.Sprintf("data: {\"type\":\"response.output_text.delta\",\"delta\":%q}\n\n", delta)
	_, _, err := readResponsesStream(strings.NewReader(stream), 10)
	if err == nil {
		t.Fatalf("expected size error")
	}
}

func TestHTTPClientSendsTranscript(t *testing.T) {
	var got responsesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("authorization header=%q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"<feedback>ACCEPT</feedback>\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPConfig{Endpoint: srv.URL, Model: "gpt-4o", AuthToken: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := c.Complete(t.Context(), Request{
		Purpose: PurposeFeedback,
		System:  "system prompt",
		Turns: []Turn{
			{Role: TurnUser, Content: "plan?"},
			{Role: TurnAssistant, Content: "<AGENT_1>idle</AGENT_1>"},
			{Role: TurnUser, Content: "feedback"},
		},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "<feedback>ACCEPT</feedback>" {
		t.Fatalf("text=%q", resp.Text)
	}
	if resp.Usage.Calls != 1 || resp.Usage.OutputTokens == 0 {
		t.Fatalf("usage=%+v", resp.Usage)
	}
	if got.Instructions != "system prompt" || len(got.Input) != 3 {
		t.Fatalf("request=%+v", got)
	}
	if got.Input[1].Content[0].Type != "output_text" {
		t.Fatalf("assistant turn type=%q", got.Input[1].Content[0].Type)
	}
}

func TestHTTPClientMarksClientErrorsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPConfig{Endpoint: srv.URL, Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Complete(t.Context(), Request{Turns: []Turn{{Role: TurnUser, Content: "hi"}}})
	if !errors.Is(err, domain.ErrNonRetryable) {
		t.Fatalf("err=%v, want ErrNonRetryable", err)
	}
}
