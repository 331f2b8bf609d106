package apiclient

import (
	"errors"
	"fmt"
)

// Kind classifies a failed request.
type Kind string

// Error kinds. Every kind except KindClient is retried.
const (
	KindRateLimited Kind = "rate_limited"
	KindServer      Kind = "server"
	KindConnection  Kind = "connection"
	KindTimeout     Kind = "timeout"
	KindClient      Kind = "client"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrRateLimited = errors.New("upstream rate limit exceeded")
	ErrServer      = errors.New("upstream server error")
	ErrConnection  = errors.New("connection failure")
	ErrTimeout     = errors.New("request timed out")
	ErrClient      = errors.New("request rejected by upstream")
)

// Error describes one failed physical request.
type Error struct {
	Kind       Kind
	StatusCode int
	URL        string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: GET %s: status %d", e.Kind, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: GET %s: %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrServer:
		return e.Kind == KindServer
	case ErrConnection:
		return e.Kind == KindConnection
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrClient:
		return e.Kind == KindClient
	}
	return false
}

// Retryable reports whether the kind is retried by the client.
func (k Kind) Retryable() bool {
	return k != KindClient
}

func statusError(url string, code int) *Error {
	kind := KindClient
	switch {
	case code == 429:
		kind = KindRateLimited
	case code >= 500:
		kind = KindServer
	}
	return &Error{Kind: kind, StatusCode: code, URL: url}
}
