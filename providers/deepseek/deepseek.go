// Package deepseek provides the DeepSeek adapter.
// API Reference: https://platform.deepseek.com/api-docs
package deepseek

import (
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/providers/openailike"
)

const (
	ProviderName   = "deepseek"
	DefaultBaseURL = "https://api.deepseek.com"
)

var providerInfo = openailike.Info{
	Name:           ProviderName,
	Kind:           provider.KindAPI,
	DefaultBaseURL: DefaultBaseURL,
}

func New(opts ...openailike.Option) *openailike.Provider {
	return openailike.New(providerInfo, opts...)
}

func NewFromConfig(cfg provider.Config) (provider.Adapter, error) {
	return openailike.NewFromConfig(providerInfo, cfg)
}
