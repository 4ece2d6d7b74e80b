// Package llm provides the chat-completion provider abstraction used by
// the summarize pipeline and the retrieval chat endpoint. The capability
// set generalizes the prior single-method LLMService (Generate/
// GenerateWithImage only) into {Generate, StreamGenerate,
// RequiresConfirmSend}; StreamGenerate is grounded on the original
// Python implementation's OpenAICompatibleProvider.stream_generate, the
// non-streaming half and its retry-then-fallback shape on the prior
// APILLMService.Generate.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Preferences carries the per-request generation knobs, mirroring the
// original implementation's LLMPreferences dataclass.
type Preferences struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Provider is a chat-completion backend.
type Provider interface {
	Name() string
	RequiresConfirmSend() bool
	Generate(ctx context.Context, messages []Message, prefs Preferences) (string, error)
	// StreamGenerate invokes onDelta once per decoded content fragment, in
	// order. It returns the first error either the transport or onDelta
	// produced.
	StreamGenerate(ctx context.Context, messages []Message, prefs Preferences, onDelta func(string) error) error
}

// ErrConfirmSendRequired names the case where a provider requires
// confirm_send=true and the caller didn't pass it. Nothing in this package
// returns it; callers check RequiresConfirmSend themselves.
var ErrConfirmSendRequired = fmt.Errorf("llm: confirm_send required")

// FakeProvider echoes the last user message back, prefixed with the
// requested model name; useful for tests and for running chat/summarize
// with no real backend configured.
type FakeProvider struct{}

func (FakeProvider) Name() string                 { return "fake" }
func (FakeProvider) RequiresConfirmSend() bool     { return false }

func (FakeProvider) Generate(ctx context.Context, messages []Message, prefs Preferences) (string, error) {
	var lastUser string
	for _, m := range messages {
		if m.Role == "user" {
			lastUser = m.Content
		}
	}
	model := prefs.Model
	if model == "" {
		model = "default"
	}
	return strings.TrimSpace(fmt.Sprintf("[FAKE:%s] %s", model, lastUser)), nil
}

func (f FakeProvider) StreamGenerate(ctx context.Context, messages []Message, prefs Preferences, onDelta func(string) error) error {
	text, err := f.Generate(ctx, messages, prefs)
	if err != nil {
		return err
	}
	const partSize = 16
	runes := []rune(text)
	for i := 0; i < len(runes); i += partSize {
		end := i + partSize
		if end > len(runes) {
			end = len(runes)
		}
		if err := onDelta(string(runes[i:end])); err != nil {
			return err
		}
	}
	return nil
}

// OpenAICompatibleProvider talks to any OpenAI-compatible /chat/completions
// endpoint, streaming or not.
type OpenAICompatibleProvider struct {
	ProviderName    string
	BaseURL         string
	DefaultModel    string
	APIKey          string
	ConfirmRequired bool
	RequireEnabled  bool
	Enabled         bool // only consulted when RequireEnabled is true
	TimeoutSeconds  int

	client *http.Client
}

// NewOpenAICompatibleProvider builds a provider bound to baseURL.
func NewOpenAICompatibleProvider(name, baseURL, defaultModel, apiKey string, confirmRequired, requireEnabled, enabled bool, timeoutSeconds int) *OpenAICompatibleProvider {
	if timeoutSeconds < 5 {
		timeoutSeconds = 600
	}
	return &OpenAICompatibleProvider{
		ProviderName:    name,
		BaseURL:         strings.TrimRight(baseURL, "/"),
		DefaultModel:    defaultModel,
		APIKey:          apiKey,
		ConfirmRequired: confirmRequired,
		RequireEnabled:  requireEnabled,
		Enabled:         enabled,
		TimeoutSeconds:  timeoutSeconds,
		client:          &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

func (p *OpenAICompatibleProvider) Name() string             { return p.ProviderName }
func (p *OpenAICompatibleProvider) RequiresConfirmSend() bool { return p.ConfirmRequired }

func (p *OpenAICompatibleProvider) assertAllowed() error {
	if p.RequireEnabled && !p.Enabled {
		return fmt.Errorf("llm: %s: provider disabled", p.ProviderName)
	}
	if p.RequireEnabled && p.APIKey == "" {
		return fmt.Errorf("llm: %s: api key missing", p.ProviderName)
	}
	return nil
}

func (p *OpenAICompatibleProvider) headers() http.Header {
	h := http.Header{"Content-Type": {"application/json"}}
	if p.APIKey != "" {
		h.Set("Authorization", "Bearer "+p.APIKey)
	}
	return h
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type chatCompletionChoice struct {
	Message chatCompletionChoiceMessage `json:"message"`
	Delta   chatCompletionDelta         `json:"delta"`
}

type chatCompletionChoiceMessage struct {
	Content string `json:"content"`
}

type chatCompletionDelta struct {
	Content *string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []chatCompletionChoice `json:"choices"`
}

func (p *OpenAICompatibleProvider) newRequest(ctx context.Context, messages []Message, prefs Preferences, stream bool) (*http.Request, error) {
	model := prefs.Model
	if model == "" {
		model = p.DefaultModel
	}
	payload := chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: prefs.Temperature,
		MaxTokens:   prefs.MaxTokens,
		Stream:      stream,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = p.headers()
	return req, nil
}

// Generate issues a non-streaming completion request, retrying once after
// a short delay before giving up.
func (p *OpenAICompatibleProvider) Generate(ctx context.Context, messages []Message, prefs Preferences) (string, error) {
	if err := p.assertAllowed(); err != nil {
		return "", err
	}
	answer, err := p.callOnce(ctx, messages, prefs)
	if err == nil {
		return answer, nil
	}
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	answer, err = p.callOnce(ctx, messages, prefs)
	if err == nil {
		return answer, nil
	}
	return "", fmt.Errorf("llm: %s: request failed after retry: %w", p.ProviderName, err)
}

func (p *OpenAICompatibleProvider) callOnce(ctx context.Context, messages []Message, prefs Preferences) (string, error) {
	req, err := p.newRequest(ctx, messages, prefs, false)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm_http_%d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// StreamGenerate POSTs with stream:true and decodes the server-sent-events
// body line by line, calling onDelta for each non-empty content fragment.
func (p *OpenAICompatibleProvider) StreamGenerate(ctx context.Context, messages []Message, prefs Preferences, onDelta func(string) error) error {
	if err := p.assertAllowed(); err != nil {
		return err
	}
	req, err := p.newRequest(ctx, messages, prefs, true)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("llm_http_%d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk chatCompletionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == nil {
			continue
		}
		if err := onDelta(*delta); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Registry holds the named providers available to a process, mirroring
// the original implementation's module-level _PROVIDERS map.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a Registry with the fake provider plus local/cloud
// OpenAI-compatible providers constructed from configuration.
func NewRegistry(local, cloud *OpenAICompatibleProvider) *Registry {
	r := &Registry{providers: map[string]Provider{
		"fake": FakeProvider{},
	}}
	if local != nil {
		r.providers["openai_local"] = local
	}
	if cloud != nil {
		r.providers["openai_cloud"] = cloud
	}
	return r
}

// Get returns the named provider, or nil if unknown.
func (r *Registry) Get(name string) Provider {
	return r.providers[strings.TrimSpace(name)]
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

// FormatTimestamp renders seconds as HH:MM:SS.mmm, used by the
// retrieval-only chat answer format.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMs := int64(seconds*1000 + 0.5)
	ms := totalMs % 1000
	totalSec := totalMs / 1000
	s := totalSec % 60
	totalMin := totalSec / 60
	m := totalMin % 60
	h := totalMin / 60
	return fmt.Sprintf("%02d:%02d:%02d.%s", h, m, s, pad3(ms))
}

func pad3(ms int64) string {
	s := strconv.FormatInt(ms, 10)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
