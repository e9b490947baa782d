package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"linkfetch/internal"
	"linkfetch/utils"
)

// SessionSource hands out a fresh transport session per resolution
type SessionSource interface {
	NewSession() (*utils.Session, error)
}

// GateState is a step of the gate-page handshake
type GateState int

const (
	StateInit GateState = iota
	StatePageFetched
	StateTokenFetched
	StateFieldsExtracted
	StateResolved
	StateFailed
)

func (s GateState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StatePageFetched:
		return "PageFetched"
	case StateTokenFetched:
		return "TokenFetched"
	case StateFieldsExtracted:
		return "FieldsExtracted"
	case StateResolved:
		return "Resolved"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// GateField is one hidden form field echoed back to the resolution endpoint
type GateField struct {
	utils.FieldRule
	// Label names the field in failure reasons
	Label    string
	Optional bool
	// Default replaces an absent or empty optional field
	Default string
}

// TokenStep describes the extra pre-step of soft-link gates: a base64 hidden
// field that decodes to a URL carrying a hex token, which must be replayed
// as the bare query string of a second page fetch.
type TokenStep struct {
	Field       utils.FieldRule
	TokenLength int
}

// GateDescriptor configures the shared gate-page state machine for one
// provider
type GateDescriptor struct {
	Provider      Provider
	Name          string
	Signature     string
	BaseURL       string
	ResolvePath   string
	PageHeaders   map[string]string
	SubmitHeaders map[string]string
	TokenStep     *TokenStep
	Fields        []GateField
	SnippetSize   int
}

// GateAdapter resolves gate-page short links
type GateAdapter struct {
	desc        GateDescriptor
	codePattern *regexp.Regexp
	sessions    SessionSource
	logger      *internal.SecureLogger
}

// NewGateAdapter creates an adapter for desc
func NewGateAdapter(desc GateDescriptor, sessions SessionSource, logger *internal.SecureLogger) *GateAdapter {
	if logger == nil {
		logger = internal.GetLogger()
	}
	if desc.ResolvePath == "" {
		desc.ResolvePath = "/links/go"
	}
	if desc.SnippetSize <= 0 {
		desc.SnippetSize = 1000
	}
	desc.BaseURL = strings.TrimRight(desc.BaseURL, "/")
	return &GateAdapter{
		desc:        desc,
		codePattern: utils.ShortCodePattern(desc.Signature),
		sessions:    sessions,
		logger:      logger,
	}
}

// Descriptor returns the adapter's configuration
func (a *GateAdapter) Descriptor() GateDescriptor {
	return a.desc
}

// gateRun holds the session state of one resolution
type gateRun struct {
	adapter *GateAdapter
	req     *Request
	logger  *internal.SecureLogger
	session *utils.Session

	state   GateState
	code    string
	pageURL string
	referer string
	body    string
	form    url.Values
	payload json.RawMessage
}

// Resolve walks Init → PageFetched → [TokenFetched] → FieldsExtracted →
// Resolved, stopping at the first failing step.
func (a *GateAdapter) Resolve(ctx context.Context, req *Request) Result {
	run := &gateRun{
		adapter: a,
		req:     req,
		logger:  a.logger.With("request_id", req.ID),
		state:   StateInit,
	}

	for {
		var err error
		switch run.state {
		case StateInit:
			err = run.fetchPage(ctx)
		case StatePageFetched:
			if a.desc.TokenStep != nil {
				err = run.fetchTokenPage(ctx)
			} else {
				err = run.extractFields()
			}
		case StateTokenFetched:
			err = run.extractFields()
		case StateFieldsExtracted:
			err = run.submit(ctx)
		case StateResolved:
			return Succeed(run.payload)
		default:
			err = internal.NewTransportError(fmt.Sprintf("invalid gate state %s", run.state), nil)
		}

		if err != nil {
			run.logger.Debug("%s gate failed in state %s: %v", a.desc.Name, run.state, err)
			run.state = StateFailed
			return FailureFrom(err)
		}
	}
}

func (r *gateRun) transition(next GateState) {
	r.logger.Debug("%s gate: %s -> %s", r.adapter.desc.Name, r.state, next)
	r.state = next
}

func (r *gateRun) snippet() string {
	return utils.Snippet(r.body, r.adapter.desc.SnippetSize)
}

func (r *gateRun) fetchPage(ctx context.Context) error {
	desc := r.adapter.desc

	code, ok := utils.ExtractShortCode(r.adapter.codePattern, r.req.URL)
	if !ok {
		return internal.NewInvalidInputError(r.req.URL, fmt.Sprintf("Invalid %s format", desc.Name)).
			WithSuggestion(fmt.Sprintf("Expected a link like https://%s/AbC123", desc.Signature))
	}

	session, err := r.adapter.sessions.NewSession()
	if err != nil {
		return internal.NewTransportError("failed to create session", err)
	}
	r.session = session
	r.code = code
	r.pageURL = desc.BaseURL + "/" + code
	r.referer = r.pageURL

	resp, err := r.session.Get(ctx, r.pageURL, desc.PageHeaders)
	if err != nil {
		return internal.NewTransportError(fmt.Sprintf("GET %s", r.pageURL), err)
	}
	r.body = resp.Text()

	r.transition(StatePageFetched)
	return nil
}

func (r *gateRun) fetchTokenPage(ctx context.Context) error {
	step := r.adapter.desc.TokenStep

	encoded, ok := utils.ExtractField(r.body, step.Field)
	if !ok || encoded == "" {
		return internal.NewMissingFieldError(step.Field.Name, fmt.Sprintf("Could not extract %s value", step.Field.Name)).
			WithContext("html_snippet", r.snippet())
	}

	decoded, err := utils.DecodeBase64Text(encoded)
	if err != nil {
		return internal.NewDecodeError("Could not decode base64", err).
			WithContext("html_snippet", r.snippet())
	}

	token, ok := utils.EmbeddedHexToken(decoded, step.TokenLength)
	if !ok {
		return internal.NewMissingFieldError("token", "Could not extract token from decoded URL").
			WithContext("decoded_url", decoded).
			WithContext("html_snippet", r.snippet())
	}

	tokenURL := r.pageURL + "?" + token
	resp, err := r.session.Get(ctx, tokenURL, r.adapter.desc.PageHeaders)
	if err != nil {
		return internal.NewTransportError(fmt.Sprintf("GET %s", tokenURL), err).
			WithContext("step", "token_page")
	}
	r.body = resp.Text()
	r.referer = tokenURL

	r.transition(StateTokenFetched)
	return nil
}

func (r *gateRun) extractFields() error {
	r.form = url.Values{}
	for _, field := range r.adapter.desc.Fields {
		value, ok := utils.ExtractField(r.body, field.FieldRule)
		if !ok || value == "" {
			if !field.Optional {
				return internal.NewMissingFieldError(field.Name, fmt.Sprintf("Could not extract %s", field.Label)).
					WithContext("html_snippet", r.snippet())
			}
			r.logger.Debug("%s absent, using default", field.Name)
			value = field.Default
		}
		r.form.Set(field.Name, value)
	}

	r.transition(StateFieldsExtracted)
	return nil
}

func (r *gateRun) submit(ctx context.Context) error {
	desc := r.adapter.desc

	headers := make(map[string]string, len(desc.SubmitHeaders)+2)
	for k, v := range desc.SubmitHeaders {
		headers[k] = v
	}
	headers["Origin"] = originOf(desc.BaseURL)
	headers["Referer"] = r.referer

	endpoint := desc.BaseURL + desc.ResolvePath
	resp, err := r.session.PostForm(ctx, endpoint, r.form, headers)
	if err != nil {
		return internal.NewTransportError(fmt.Sprintf("POST %s", endpoint), err)
	}

	body := bytes.TrimSpace(resp.Body)
	if !json.Valid(body) {
		return internal.NewDecodeError("Resolution endpoint did not return JSON", nil).
			WithContext("status", resp.StatusCode).
			WithContext("body_snippet", utils.Snippet(resp.Text(), desc.SnippetSize))
	}
	r.payload = json.RawMessage(body)

	r.transition(StateResolved)
	return nil
}

// originOf returns scheme://host of rawURL
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}
