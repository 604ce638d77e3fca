// Package provider unifies the external transformation backends behind one
// capability interface. The retry/correction machinery is provider-agnostic;
// only the adapters in this package know which backend is in use and whether
// a given failure is worth retrying.
package provider

import (
	"context"
	"errors"
)

// Request is one transformation call: a fully built prompt plus model options.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   int64
}

// Provider is the external transformation capability: prompt in, text out.
type Provider interface {
	Name() string
	Transform(ctx context.Context, req Request) (string, error)
}

// Error classifies a provider failure. Non-retriable errors (bad credentials,
// unknown model) abort the run immediately; retriable ones (timeout, transient
// network, rate limit) are subject to the chunk retry policy.
type Error struct {
	Provider  string
	Retriable bool
	Err       error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// IsRetriable reports whether err should be retried. Unclassified errors
// default to retriable so transient network failures wrapped by the SDKs do
// not abort a multi-minute run.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retriable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// retriableStatus reports whether an HTTP status indicates a transient
// server-side condition.
func retriableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
