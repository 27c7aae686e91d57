package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/skyq/pkg/llm"
)

func TestGeminiClientRequiresKey(t *testing.T) {
	_, err := New(context.Background(), &llm.Config{Model: "gemini-2.0-flash"})
	if !errors.Is(err, llm.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestGeminiClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.0-flash:generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)
		if _, ok := req["systemInstruction"]; !ok {
			t.Error("expected systemInstruction in request")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role":  "model",
						"parts": []map[string]any{{"text": `{"status":"ok"}`}},
					},
				},
			},
			"usageMetadata": map[string]any{
				"promptTokenCount":     12,
				"candidatesTokenCount": 4,
				"totalTokenCount":      16,
			},
		})
	}))
	defer server.Close()

	client, err := New(context.Background(), &llm.Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gemini-2.0-flash",
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Complete(context.Background(), llm.Prompt("flights from EDDF"), llm.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != `{"status":"ok"}` {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("expected 16 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestGeminiClientProviderInterface(t *testing.T) {
	var _ llm.Provider = (*Client)(nil)
}
