// Package ollama provides the adapter for models served locally by Ollama
// through its OpenAI-compatible endpoint.
package ollama

import (
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/providers/openailike"
)

const (
	ProviderName   = "ollama"
	DefaultBaseURL = "http://localhost:11434/v1"
)

var providerInfo = openailike.Info{
	Name:                ProviderName,
	Kind:                provider.KindLocalModel,
	DefaultBaseURL:      DefaultBaseURL,
	AllowPrivateBaseURL: true,
}

func New(opts ...openailike.Option) *openailike.Provider {
	return openailike.New(providerInfo, opts...)
}

func NewFromConfig(cfg provider.Config) (provider.Adapter, error) {
	return openailike.NewFromConfig(providerInfo, cfg)
}
