// Package vllm provides the adapter for a vLLM server. vLLM batches
// concurrent requests internally, so it is reported as a batch engine and
// the dispatcher's concurrency is what feeds its scheduler.
package vllm

import (
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/providers/openailike"
)

const (
	ProviderName   = "vllm"
	DefaultBaseURL = "http://localhost:8000/v1"
)

var providerInfo = openailike.Info{
	Name:                ProviderName,
	Kind:                provider.KindBatchEngine,
	DefaultBaseURL:      DefaultBaseURL,
	AllowPrivateBaseURL: true,
}

func New(opts ...openailike.Option) *openailike.Provider {
	return openailike.New(providerInfo, opts...)
}

func NewFromConfig(cfg provider.Config) (provider.Adapter, error) {
	return openailike.NewFromConfig(providerInfo, cfg)
}
