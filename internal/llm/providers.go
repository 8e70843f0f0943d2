package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"prowler/internal/config"
	"prowler/internal/model"
)

const (
	openAIContentLimit    = 100_000
	anthropicContentLimit = 150_000
	googleContentLimit    = 8_000
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func checkStatus(providerName string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &statusError{Provider: providerName, Code: resp.StatusCode, Body: string(body)}
}

// openAI implements provider over the Chat Completions API.
type openAI struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

func newOpenAI(cfg config.OpenAIConfig) *openAI {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	m := cfg.Model
	if cfg.APIKey == "" {
		m = ""
	}
	return &openAI{apiKey: cfg.APIKey, baseURL: base, model: m, http: newHTTPClient()}
}

func (o *openAI) name() string { return "openai" }
func (o *openAI) defaultModel() string { return o.model }
func (o *openAI) contentLimit() int { return openAIContentLimit }

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
}

func (o *openAI) complete(ctx context.Context, modelName, system string, messages []model.ChatMessage) (string, error) {
	msgs := make([]openAIChatMessage, 0, len(messages)+1)
	if system != "" {
		msgs = append(msgs, openAIChatMessage{Role: "system", Content: system})
	}
	for _, m := range messages {
		msgs = append(msgs, openAIChatMessage{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(openAIChatRequest{Model: modelName, Messages: msgs, Temperature: 0.0})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(o.name(), resp); err != nil {
		return "", err
	}

	var parsed openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("openai chat completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (o *openAI) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(o.name(), resp); err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	var out []string
	for _, m := range parsed.Data {
		if strings.HasPrefix(m.ID, "gpt-") {
			out = append(out, m.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// anthropic implements provider over the Messages API.
type anthropic struct {
	apiKey string
	model  string
	http   *http.Client
}

func newAnthropic(cfg config.AnthropicConfig) *anthropic {
	m := cfg.Model
	if cfg.APIKey == "" {
		m = ""
	}
	return &anthropic{apiKey: cfg.APIKey, model: m, http: newHTTPClient()}
}

func (a *anthropic) name() string { return "anthropic" }
func (a *anthropic) defaultModel() string { return a.model }
func (a *anthropic) contentLimit() int { return anthropicContentLimit }

type anthropicMessagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicTextContent `json:"content"`
}

type anthropicTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessagesResponse struct {
	Content []anthropicTextContent `json:"content"`
}

func (a *anthropic) complete(ctx context.Context, modelName, system string, messages []model.ChatMessage) (string, error) {
	msgs := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role == "system" {
			// Anthropic takes system text out of band.
			if system == "" {
				system = m.Content
			}
			continue
		}
		msgs = append(msgs, anthropicMessage{
			Role:    role,
			Content: []anthropicTextContent{{Type: "text", Text: m.Content}},
		})
	}

	payload, err := json.Marshal(anthropicMessagesRequest{
		Model:     modelName,
		MaxTokens: 2048,
		System:    system,
		Messages:  msgs,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(a.name(), resp); err != nil {
		return "", err
	}

	var parsed anthropicMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Content) == 0 {
		return "", errors.New("anthropic messages returned no content")
	}
	return parsed.Content[0].Text, nil
}

func (a *anthropic) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.anthropic.com/v1/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(a.name(), resp); err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		out = append(out, m.ID)
	}
	return out, nil
}

// google implements provider over Gemini's generateContent API.
type google struct {
	apiKey string
	model  string
	http   *http.Client
}

func newGoogle(cfg config.GoogleLLMConfig) *google {
	m := cfg.Model
	if cfg.APIKey == "" {
		m = ""
	}
	return &google{apiKey: cfg.APIKey, model: m, http: newHTTPClient()}
}

func (g *google) name() string { return "google" }
func (g *google) defaultModel() string { return g.model }
func (g *google) contentLimit() int { return googleContentLimit }

const googleBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type googleGenerateContentRequest struct {
	Contents []googleContent `json:"contents"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text,omitempty"`
}

type googleGenerateContentResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
}

func (g *google) complete(ctx context.Context, modelName, system string, messages []model.ChatMessage) (string, error) {
	var contents []googleContent
	if system != "" {
		contents = append(contents, googleContent{Role: "user", Parts: []googlePart{{Text: system}}})
	}
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, googleContent{Role: role, Parts: []googlePart{{Text: m.Content}}})
	}

	payload, err := json.Marshal(googleGenerateContentRequest{Contents: contents})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", googleBaseURL, modelName, url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(g.name(), resp); err != nil {
		return "", err
	}

	var parsed googleGenerateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("google generateContent returned no candidates")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

func (g *google) listModels(ctx context.Context) ([]string, error) {
	endpoint := fmt.Sprintf("%s/models?key=%s", googleBaseURL, url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(g.name(), resp); err != nil {
		return nil, err
	}

	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	var out []string
	for _, m := range parsed.Models {
		id := strings.TrimPrefix(m.Name, "models/")
		if strings.HasPrefix(id, "gemini-") {
			out = append(out, id)
		}
	}
	return out, nil
}
