// Package openailike implements an adapter for backends that speak the
// OpenAI chat completions protocol. Hosted APIs, Ollama and vLLM all expose
// it, so the named presets are thin wrappers around this package.
package openailike

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blueberrycongee/unillm/internal/httputil"
	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/pkg/types"
)

// Info contains preset-specific configuration.
type Info struct {
	// Name is the backend identifier (e.g., "openai", "ollama").
	Name string

	// Kind is the backend family reported by the adapter.
	// Default: provider.KindAPI
	Kind provider.BackendKind

	// DefaultBaseURL is used when the config leaves BaseURL empty.
	DefaultBaseURL string

	// APIKeyHeader is the header carrying the key.
	// Default: "Authorization" with "Bearer " prefix
	APIKeyHeader string

	// APIKeyPrefix is the prefix for the API key value.
	APIKeyPrefix string

	// ChatEndpoint is the path for chat completions.
	// Default: "/chat/completions"
	ChatEndpoint string

	// AllowPrivateBaseURL lets local presets point at loopback hosts.
	AllowPrivateBaseURL bool

	// ExtraHeaders are sent with every request.
	ExtraHeaders map[string]string
}

// Provider is an OpenAI-compatible adapter.
type Provider struct {
	info    Info
	apiKey  string
	baseURL string
	model   string
	headers map[string]string
	timeout time.Duration
	client  *http.Client
}

// New creates an adapter. Options override the preset defaults.
func New(info Info, opts ...Option) *Provider {
	if info.Kind == "" {
		info.Kind = provider.KindAPI
	}
	p := &Provider{
		info:    info,
		baseURL: info.DefaultBaseURL,
		headers: make(map[string]string),
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates an adapter from a Config, validating the effective
// base URL.
func NewFromConfig(info Info, cfg provider.Config) (*Provider, error) {
	p := New(info,
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithModel(cfg.Model),
		WithTimeout(cfg.Timeout),
	)
	for k, v := range cfg.Headers {
		p.headers[k] = v
	}
	if cfg.Name != "" {
		p.info.Name = cfg.Name
	}

	if strings.TrimSpace(p.baseURL) == "" {
		return nil, fmt.Errorf("%w: %s: base_url is required", llmerrors.ErrInvalidConfig, info.Name)
	}
	allowPrivate := info.AllowPrivateBaseURL || cfg.AllowPrivateBaseURL
	if err := provider.ValidateBaseURL(p.baseURL, allowPrivate); err != nil {
		return nil, fmt.Errorf("%s: %w", info.Name, err)
	}
	return p, nil
}

// Name returns the backend identifier.
func (p *Provider) Name() string { return p.info.Name }

// Kind returns the backend family.
func (p *Provider) Kind() provider.BackendKind { return p.info.Kind }

// Model returns the configured model.
func (p *Provider) Model() string { return p.model }

// Close releases idle connections.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Submit sends one chat completion request. Params are forwarded as request
// fields; a "model" param overrides the configured model.
func (p *Provider) Submit(ctx context.Context, input *types.InferenceInput, params types.Params) (*types.InferenceOutput, error) {
	model := p.model
	if m, ok := params["model"].(string); ok && m != "" {
		model = m
	}
	if err := input.Validate(); err != nil {
		return nil, llmerrors.NewInvalidRequestError(p.info.Name, model, err.Error())
	}

	body := make(map[string]any, len(params)+2)
	for k, v := range params {
		body[k] = v
	}
	body["model"] = model
	body["messages"] = buildMessages(input)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var resp chatResponse
	err := httputil.PostJSON(ctx, p.client, httputil.Request{
		URL:     p.endpoint(),
		Headers: p.requestHeaders(),
		Body:    body,
		Backend: p.info.Name,
		Model:   model,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, llmerrors.NewUnknownError(p.info.Name, model, fmt.Errorf("response has no choices"))
	}

	out := &types.InferenceOutput{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Usage: types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Backend: p.info.Name,
		Model:   resp.Model,
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

func (p *Provider) endpoint() string {
	endpoint := p.info.ChatEndpoint
	if endpoint == "" {
		endpoint = "/chat/completions"
	}
	return strings.TrimSuffix(p.baseURL, "/") + endpoint
}

func (p *Provider) requestHeaders() map[string]string {
	headers := make(map[string]string, len(p.info.ExtraHeaders)+len(p.headers)+1)
	if p.apiKey != "" {
		keyHeader := p.info.APIKeyHeader
		if keyHeader == "" {
			keyHeader = "Authorization"
		}
		prefix := p.info.APIKeyPrefix
		if prefix == "" && keyHeader == "Authorization" {
			prefix = "Bearer "
		}
		headers[keyHeader] = prefix + p.apiKey
	}
	for k, v := range p.info.ExtraHeaders {
		headers[k] = v
	}
	for k, v := range p.headers {
		headers[k] = v
	}
	return headers
}

// buildMessages converts an input into chat messages. A prefilled assistant
// prefix is folded into the turn before it, since chat completions has no
// continuation mode. Attachments go on the last user turn as data URLs.
func buildMessages(input *types.InferenceInput) []chatMessage {
	turns := input.Messages
	var prefix string
	if input.Prefilled && len(turns) > 1 {
		prefix = turns[len(turns)-1].Content
		turns = turns[:len(turns)-1]
	}

	msgs := make([]chatMessage, 0, len(turns)+1)
	if input.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: string(types.RoleSystem), Content: input.SystemPrompt})
	}
	lastUser := -1
	for i, m := range turns {
		content := m.Content
		if i == len(turns)-1 {
			content += prefix
		}
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: content})
		if m.Role == types.RoleUser {
			lastUser = len(msgs) - 1
		}
	}

	if len(input.Attachments) > 0 && lastUser >= 0 {
		text, _ := msgs[lastUser].Content.(string)
		parts := []contentPart{{Type: "text", Text: text}}
		for _, a := range input.Attachments {
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: "data:" + a.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)},
			})
		}
		msgs[lastUser].Content = parts
	}
	return msgs
}
