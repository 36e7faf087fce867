// Package gemini provides the Google Gemini adapter over the Gemini API's
// OpenAI-compatible endpoint.
package gemini

import (
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/providers/openailike"
)

const (
	// ProviderName is the identifier for this backend.
	ProviderName = "gemini"

	// DefaultBaseURL is the OpenAI-compatible Gemini endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
)

var providerInfo = openailike.Info{
	Name:           ProviderName,
	Kind:           provider.KindAPI,
	DefaultBaseURL: DefaultBaseURL,
}

// New creates a Gemini adapter with the given options.
func New(opts ...openailike.Option) *openailike.Provider {
	return openailike.New(providerInfo, opts...)
}

// NewFromConfig creates an adapter from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Adapter, error) {
	return openailike.NewFromConfig(providerInfo, cfg)
}
