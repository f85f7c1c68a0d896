package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lifelog/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewGeminiClient(GeminiConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "gemini-test",
	}, nil)
	if err != nil {
		t.Fatalf("NewGeminiClient: %v", err)
	}
	return c
}

func TestCompleteWithToolsRequestShape(t *testing.T) {
	var captured geminiRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "noted!"}},
				},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{
				"promptTokenCount":     120,
				"candidatesTokenCount": 8,
				"totalTokenCount":      128,
			},
		})
	})

	history := []types.Message{
		types.NewUserMessage("log my run"),
		types.NewAssistantMessage("", []types.ToolCall{{ID: "c1", Name: "journal.create_entry", Input: map[string]any{"text": "run"}}}),
		types.NewToolResultMessage("c1", "created"),
	}
	tools := []types.ToolDefinition{{
		Name:        "journal.create_entry",
		Description: "record",
		InputSchema: map[string]any{"type": "object"},
	}}

	resp, err := client.CompleteWithTools(context.Background(), "system text", history, tools)
	if err != nil {
		t.Fatalf("CompleteWithTools: %v", err)
	}

	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "system text" {
		t.Error("system instruction not sent")
	}
	if len(captured.Contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(captured.Contents))
	}
	if captured.Contents[1].Role != "model" || captured.Contents[1].Parts[0].FunctionCall == nil {
		t.Errorf("assistant tool call not mapped: %+v", captured.Contents[1])
	}
	fr := captured.Contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "journal.create_entry" {
		t.Errorf("tool result not mapped to functionResponse: %+v", captured.Contents[2])
	}
	if len(captured.Tools) != 1 || captured.Tools[0].FunctionDeclarations[0].Name != "journal.create_entry" {
		t.Error("tool declarations not sent")
	}

	if resp.Text != "noted!" || resp.StopReason != "end_turn" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Usage.TotalTokens != 128 || resp.Usage.InputTokens != 120 {
		t.Errorf("usage not extracted: %+v", resp.Usage)
	}
}

func TestCompleteWithToolsParsesFunctionCalls(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role": "model",
					"parts": []map[string]any{{
						"functionCall": map[string]any{
							"name": "journal.create_entry",
							"args": map[string]any{"date": "2026-08-25", "text": "long run"},
						},
					}},
				},
			}},
		})
	})

	resp, err := client.CompleteWithTools(context.Background(), "", []types.Message{types.NewUserMessage("log it")}, nil)
	if err != nil {
		t.Fatalf("CompleteWithTools: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "journal.create_entry" || tc.Input["text"] != "long run" {
		t.Errorf("tool call not parsed: %+v", tc)
	}
	if resp.StopReason != "tool_use" {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "ok"}},
				},
			}},
		})
	})

	got, err := client.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ok" || attempts != 2 {
		t.Errorf("got %q after %d attempts", got, attempts)
	}
}

func TestClientErrorIsNotRetried(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad request"}}`))
	})

	if _, err := client.Complete(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", attempts)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 403, "message": "key revoked"},
		})
	})

	_, err := client.Complete(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected API error")
	}
}

func TestFactoryRejectsUnknownProvider(t *testing.T) {
	if _, err := New(Config{Provider: "clippy", APIKey: "k"}, nil); err == nil {
		t.Error("unknown provider must fail")
	}
	if _, err := New(Config{Provider: "gemini"}, nil); err == nil {
		t.Error("missing API key must fail")
	}
}
