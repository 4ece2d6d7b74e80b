package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFakeProviderGenerate(t *testing.T) {
	p := FakeProvider{}
	answer, err := p.Generate(context.Background(), []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hello there"},
	}, Preferences{Model: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "[FAKE:m1] hello there" {
		t.Errorf("unexpected answer: %q", answer)
	}
}

func TestFakeProviderStreamGenerate(t *testing.T) {
	p := FakeProvider{}
	var parts []string
	err := p.StreamGenerate(context.Background(), []Message{{Role: "user", Content: "a reasonably long message to split"}}, Preferences{}, func(s string) error {
		parts = append(parts, s)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parts) == 0 {
		t.Fatal("expected at least one streamed part")
	}
	if strings.Join(parts, "") != strings.TrimSpace(fmt.Sprintf("[FAKE:default] a reasonably long message to split")) {
		t.Errorf("streamed parts did not reassemble to the generated text: %q", strings.Join(parts, ""))
	}
}

func TestOpenAICompatibleProviderGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req chatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("expected stream=false for Generate")
		}
		json.NewEncoder(w).Encode(chatCompletionResponse{
			Choices: []chatCompletionChoice{{Message: chatCompletionChoiceMessage{Content: "answer text"}}},
		})
	}))
	defer server.Close()

	p := NewOpenAICompatibleProvider("openai_local", server.URL, "default-model", "", false, false, true, 30)
	answer, err := p.Generate(context.Background(), []Message{{Role: "user", Content: "q"}}, Preferences{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "answer text" {
		t.Errorf("unexpected answer: %q", answer)
	}
}

func TestOpenAICompatibleProviderRequiresEnabled(t *testing.T) {
	p := NewOpenAICompatibleProvider("openai_cloud", "http://example.invalid", "m", "", true, true, false, 30)
	_, err := p.Generate(context.Background(), []Message{{Role: "user", Content: "q"}}, Preferences{})
	if err == nil {
		t.Fatal("expected error when provider requires enabled but isn't")
	}
}

func TestOpenAICompatibleProviderStreamGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := NewOpenAICompatibleProvider("openai_local", server.URL, "m", "", false, false, true, 30)
	var got strings.Builder
	err := p.StreamGenerate(context.Background(), []Message{{Role: "user", Content: "q"}}, Preferences{}, func(s string) error {
		got.WriteString(s)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != "Hello world" {
		t.Errorf("unexpected streamed text: %q", got.String())
	}
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry(nil, nil)
	if r.Get("fake") == nil {
		t.Fatal("expected fake provider to be registered")
	}
	if r.Get("missing") != nil {
		t.Fatal("expected nil for unknown provider")
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00.000"},
		{61.5, "00:01:01.500"},
		{3661.25, "01:01:01.250"},
	}
	for _, c := range cases {
		if got := FormatTimestamp(c.seconds); got != c.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", c.seconds, got, c.want)
		}
	}
}
