package httputil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
)

// Request is one JSON POST to a backend.
type Request struct {
	URL     string
	Headers map[string]string
	Body    any

	// Backend and Model label the errors produced for this call.
	Backend string
	Model   string
}

// PostJSON sends req and decodes a 2xx response body into out. Every failure
// is returned as an *errors.LLMError, except caller cancellation which is
// returned as the context error.
func PostJSON(ctx context.Context, client *http.Client, req Request, out any) error {
	payload, err := json.Marshal(req.Body)
	if err != nil {
		e := llmerrors.NewInvalidRequestError(req.Backend, req.Model, "encode request body")
		e.Err = err
		return e
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(payload))
	if err != nil {
		e := llmerrors.NewInvalidRequestError(req.Backend, req.Model, "build request")
		e.Err = err
		return e
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return classifyTransport(ctx, req, err)
	}
	defer resp.Body.Close()

	body, err := ReadLimitedBody(resp.Body, DefaultMaxResponseBodyBytes)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llmerrors.FromHTTPStatus(req.Backend, req.Model, resp.StatusCode,
			ErrorMessage(body), resp.Header.Get("Retry-After"))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return classifyTransport(ctx, req, err)
		}
		return llmerrors.NewUnknownError(req.Backend, req.Model, fmt.Errorf("read response: %w", err))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return llmerrors.NewUnknownError(req.Backend, req.Model, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func classifyTransport(ctx context.Context, req Request, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		e := llmerrors.NewTimeoutError(req.Backend, req.Model, "request timed out")
		e.Err = err
		return e
	}
	e := llmerrors.NewServiceUnavailableError(req.Backend, req.Model, "backend unreachable")
	e.Err = err
	return e
}

// ErrorMessage pulls a human-readable message out of an error body. It knows
// the OpenAI and Anthropic shapes and falls back to the raw text.
func ErrorMessage(body []byte) string {
	var shaped struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &shaped); err == nil {
		if len(shaped.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(shaped.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var flat string
			if json.Unmarshal(shaped.Error, &flat) == nil && flat != "" {
				return flat
			}
		}
		if shaped.Message != "" {
			return shaped.Message
		}
	}
	const maxRaw = 512
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxRaw {
		msg = msg[:maxRaw]
	}
	return msg
}
