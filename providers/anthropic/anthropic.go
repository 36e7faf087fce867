// Package anthropic provides the adapter for Anthropic's Messages API.
package anthropic

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

const (
	// ProviderName is the identifier for this backend.
	ProviderName = "anthropic"

	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the default Anthropic API version.
	DefaultAPIVersion = "2023-06-01"

	// DefaultMaxTokens is used when params carry no max_tokens; the API
	// requires the field.
	DefaultMaxTokens = 1024
)

// Provider implements the Anthropic Messages API adapter.
type Provider struct {
	name       string
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	timeout    time.Duration
	headers    map[string]string
	client     *http.Client
}

// New creates an Anthropic adapter with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:       ProviderName,
		baseURL:    DefaultBaseURL,
		apiVersion: DefaultAPIVersion,
		headers:    make(map[string]string),
		client:     &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates an adapter from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Adapter, error) {
	p := New(
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithModel(cfg.Model),
		WithTimeout(cfg.Timeout),
	)
	for k, v := range cfg.Headers {
		p.headers[k] = v
	}
	if cfg.Name != "" {
		p.name = cfg.Name
	}
	if err := provider.ValidateBaseURL(p.baseURL, cfg.AllowPrivateBaseURL); err != nil {
		return nil, fmt.Errorf("%s: %w", ProviderName, err)
	}
	return p, nil
}

// Name returns the backend identifier.
func (p *Provider) Name() string { return p.name }

// Kind returns provider.KindAPI.
func (p *Provider) Kind() provider.BackendKind { return provider.KindAPI }

// Model returns the configured model id.
func (p *Provider) Model() string { return p.model }

// Close releases idle connections.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Submit sends one Messages API request. A prefilled input is sent as is:
// the API continues a trailing assistant turn natively.
func (p *Provider) Submit(ctx context.Context, input *types.InferenceInput, params types.Params) (*types.InferenceOutput, error) {
	model := p.model
	if m, ok := params["model"].(string); ok && m != "" {
		model = m
	}
	if err := input.Validate(); err != nil {
		return nil, llmerrors.NewInvalidRequestError(p.name, model, err.Error())
	}

	body := transformParams(params)
	body["model"] = model
	body["messages"] = buildMessages(input)
	if input.SystemPrompt != "" {
		body["system"] = input.SystemPrompt
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": p.apiVersion,
	}
	for k, v := range p.headers {
		headers[k] = v
	}

	var resp messagesResponse
	err := httputil.PostJSON(ctx, p.client, httputil.Request{
		URL:     strings.TrimSuffix(p.baseURL, "/") + "/v1/messages",
		Headers: headers,
		Body:    body,
		Backend: p.name,
		Model:   model,
	}, &resp)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out := &types.InferenceOutput{
		Text:         text.String(),
		FinishReason: resp.StopReason,
		Usage: types.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		Backend: p.name,
		Model:   resp.Model,
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

// transformParams maps generic params onto Messages API fields.
func transformParams(params types.Params) map[string]any {
	body := make(map[string]any, len(params)+4)
	for k, v := range params {
		switch k {
		case types.ParamStop:
			body["stop_sequences"] = params.Stop()
		default:
			body[k] = v
		}
	}
	maxTokens := DefaultMaxTokens
	if n, ok := params.MaxTokens(); ok && n > 0 {
		maxTokens = n
	}
	body[types.ParamMaxTokens] = maxTokens
	return body
}

func buildMessages(input *types.InferenceInput) []message {
	msgs := make([]message, 0, len(input.Messages))
	lastUser := -1
	for _, m := range input.Messages {
		if m.Role == types.RoleSystem {
			continue
		}
		msgs = append(msgs, message{Role: string(m.Role), Content: m.Content})
		if m.Role == types.RoleUser {
			lastUser = len(msgs) - 1
		}
	}

	if len(input.Attachments) > 0 && lastUser >= 0 {
		text, _ := msgs[lastUser].Content.(string)
		blocks := make([]contentBlock, 0, len(input.Attachments)+1)
		for _, a := range input.Attachments {
			blocks = append(blocks, contentBlock{
				Type: "image",
				Source: &imageSource{
					Type:      "base64",
					MediaType: a.MIMEType,
					Data:      base64.StdEncoding.EncodeToString(a.Data),
				},
			})
		}
		blocks = append(blocks, contentBlock{Type: "text", Text: text})
		msgs[lastUser].Content = blocks
	}
	return msgs
}
