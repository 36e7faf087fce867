// Package httputil holds the HTTP plumbing shared by the JSON-over-HTTP
// adapters: bounded body reads, request posting and failure classification.
package httputil

import (
	"errors"
	"io"
)

// DefaultMaxResponseBodyBytes caps backend response bodies to 10MB.
const DefaultMaxResponseBodyBytes int64 = 10 * 1024 * 1024

var ErrResponseBodyTooLarge = errors.New("response body too large")

// ReadLimitedBody reads up to maxBytes from r. It returns the truncated body
// together with ErrResponseBodyTooLarge when the limit is exceeded.
func ReadLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}

	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		return body[:int(maxBytes)], ErrResponseBodyTooLarge
	}
	return body, nil
}
