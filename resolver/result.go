package resolver

import (
	"encoding/json"
	"errors"
	"fmt"

	"linkfetch/internal"
)

// Provider tags the adapter family a request was routed to
type Provider string

const (
	ProviderInShortURL Provider = "inshorturl"
	ProviderSoftURL    Provider = "softurl"
	ProviderTerabox    Provider = "terabox"
)

// Result is the outcome of one resolution: either Success with the
// provider's payload, or a Failure with a reason and optional diagnostics.
// Every adapter returns exactly one Result and never panics or returns an
// error across its boundary.
type Result struct {
	Success   bool              `json:"success"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Field     string            `json:"field,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	Provider  Provider          `json:"provider,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// Succeed wraps a JSON payload
func Succeed(payload json.RawMessage) Result {
	return Result{Success: true, Payload: payload}
}

// FailureFrom converts any error into a Failure. A *internal.ResolveError
// keeps its kind, field and context; anything else is reported as a
// transport fault.
func FailureFrom(err error) Result {
	if err == nil {
		return Result{Reason: "unknown failure", Kind: internal.ErrTransport.String()}
	}

	var re *internal.ResolveError
	if !errors.As(err, &re) {
		re = internal.NewTransportError(err.Error(), nil)
	}

	res := Result{
		Reason: re.Error(),
		Kind:   re.Type.String(),
		Field:  re.Field,
	}
	if len(re.Context) > 0 {
		res.Context = make(map[string]string, len(re.Context))
		for k, v := range re.Context {
			res.Context[k] = fmt.Sprint(v)
		}
	}
	return res
}

// Failed reports whether r is a Failure of the given kind
func (r Result) Failed(kind internal.ErrorType) bool {
	return !r.Success && r.Kind == kind.String()
}

// Decode unmarshals the success payload into v
func (r Result) Decode(v interface{}) error {
	if !r.Success {
		return fmt.Errorf("cannot decode failed result: %s", r.Reason)
	}
	return json.Unmarshal(r.Payload, v)
}
