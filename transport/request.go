package transport

import (
	"context"
	"time"
)

// Request is one outbound call to a provider API.
type Request struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	Idempotency          string
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type Adapter interface {
	Kind() string
	Do(ctx context.Context, req Request) (Response, error)
}
