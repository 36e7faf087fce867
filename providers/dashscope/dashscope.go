// Package dashscope provides the Alibaba Cloud DashScope adapter through its
// OpenAI-compatible mode.
// API Reference: https://help.aliyun.com/zh/model-studio/compatibility-of-openai-with-dashscope
package dashscope

import (
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/providers/openailike"
)

const (
	ProviderName = "dashscope"

	// DefaultBaseURL is the mainland endpoint. International accounts use
	// https://dashscope-intl.aliyuncs.com/compatible-mode/v1.
	DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
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
