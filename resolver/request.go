package resolver

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"linkfetch/internal"
)

// Request is one classified resolution request. It is not modified after
// the router creates it.
type Request struct {
	ID       string
	URL      string
	Provider Provider
}

// NewRequest creates a request with a fresh ID
func NewRequest(rawURL string, provider Provider) *Request {
	return &Request{
		ID:       uuid.New().String(),
		URL:      rawURL,
		Provider: provider,
	}
}

// Adapter runs one provider's protocol for a request
type Adapter interface {
	Resolve(ctx context.Context, req *Request) Result
}

// AdapterFunc adapts a plain function to Adapter
type AdapterFunc func(ctx context.Context, req *Request) Result

// Resolve calls f
func (f AdapterFunc) Resolve(ctx context.Context, req *Request) Result {
	return f(ctx, req)
}

// safeResolve runs adapter and turns a panic into a transport Failure
func safeResolve(ctx context.Context, adapter Adapter, req *Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = FailureFrom(internal.NewTransportError(fmt.Sprintf("unexpected fault: %v", r), nil))
		}
	}()
	return adapter.Resolve(ctx, req)
}
