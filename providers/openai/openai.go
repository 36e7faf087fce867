// Package openai provides the OpenAI chat completions adapter.
package openai

import (
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/providers/openailike"
)

const (
	// ProviderName is the identifier for this backend.
	ProviderName = "openai"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"
)

var providerInfo = openailike.Info{
	Name:           ProviderName,
	Kind:           provider.KindAPI,
	DefaultBaseURL: DefaultBaseURL,
}

// New creates an OpenAI adapter with the given options.
func New(opts ...openailike.Option) *openailike.Provider {
	return openailike.New(providerInfo, opts...)
}

// NewFromConfig creates an adapter from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Adapter, error) {
	return openailike.NewFromConfig(providerInfo, cfg)
}
