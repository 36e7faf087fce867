// Package unillm runs inference requests against interchangeable LLM
// backends with a shared output cache, per-item retries and bounded batch
// concurrency.
//
// Basic usage:
//
//	client, err := unillm.New(
//	    unillm.WithBackend(provider.Config{
//	        Type:   "openai",
//	        Model:  "gpt-4o-mini",
//	        APIKey: os.Getenv("OPENAI_API_KEY"),
//	    }),
//	    unillm.WithCache(memory.New(memory.DefaultConfig())),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	out, err := client.Generate(ctx, unillm.NewInput("2+2?", ""))
package unillm

import (
	"context"

	"github.com/blueberrycongee/unillm/internal/observability"
	"github.com/blueberrycongee/unillm/pkg/errors"
	"github.com/blueberrycongee/unillm/pkg/types"
)

// Version is the current version of unillm.
const Version = "0.3.0"

// Re-export core types for convenience.
type (
	InferenceInput  = types.InferenceInput
	InferenceOutput = types.InferenceOutput
	Message         = types.Message
	Attachment      = types.Attachment
	Params          = types.Params
	Result          = types.Result
	BatchResult     = types.BatchResult
	Usage           = types.Usage

	// LLMError is a classified backend failure.
	LLMError = errors.LLMError
	// ErrorKind classifies an LLMError for retry decisions.
	ErrorKind = errors.Kind
)

// Error kinds.
const (
	KindRateLimited        = errors.KindRateLimited
	KindAuthFailure        = errors.KindAuthFailure
	KindInvalidRequest     = errors.KindInvalidRequest
	KindTimeout            = errors.KindTimeout
	KindBackendUnavailable = errors.KindBackendUnavailable
	KindUnknown            = errors.KindUnknown
)

// Setup errors.
var (
	ErrUnknownBackend = errors.ErrUnknownBackend
	ErrInvalidConfig  = errors.ErrInvalidConfig
)

// NewInput builds a single-turn input.
func NewInput(prompt, systemPrompt string) InferenceInput {
	return types.NewInput(prompt, systemPrompt)
}

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	return errors.KindOf(err)
}

// ContextWithRequestID makes batches run under ctx use requestID instead of
// a generated one.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return observability.ContextWithRequestID(ctx, requestID)
}
