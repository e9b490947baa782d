package utils

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"

	"linkfetch/internal"
)

// MaxBodySize caps how much of a response body a Session will buffer
const MaxBodySize = 10 * 1024 * 1024

// ErrBodyTooLarge is returned when a buffered response exceeds MaxBodySize
var ErrBodyTooLarge = fmt.Errorf("response body exceeds %d bytes", MaxBodySize)

// SessionConfig contains configuration for resolution sessions
type SessionConfig struct {
	Timeout        time.Duration
	ProxyURL       string
	InsecureTLS    bool
	TLSFingerprint string
	Logger         *internal.SecureLogger
	// Streaming drops the whole-request deadline so long transfers are
	// bounded only by the response header timeout and the caller's context
	Streaming bool
}

// SessionConfigFromConfig derives session settings from the application config
func SessionConfigFromConfig(cfg *internal.Config, logger *internal.SecureLogger) SessionConfig {
	return SessionConfig{
		Timeout:        cfg.Timeout,
		ProxyURL:       cfg.ProxyURL,
		InsecureTLS:    cfg.InsecureTLS,
		TLSFingerprint: cfg.TLSFingerprint,
		Logger:         logger,
	}
}

// SessionFactory hands out a fresh Session, with its own cookie jar and
// connection pool, for every resolution.
type SessionFactory struct {
	config SessionConfig
}

// NewSessionFactory creates a factory; the proxy URL is validated eagerly
func NewSessionFactory(config SessionConfig) (*SessionFactory, error) {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = internal.GetLogger()
	}
	if config.ProxyURL != "" {
		if _, err := parseProxyURL(config.ProxyURL); err != nil {
			return nil, err
		}
	}
	return &SessionFactory{config: config}, nil
}

// NewSession returns a Session that shares nothing with any other Session
func (f *SessionFactory) NewSession() (*Session, error) {
	return NewSession(f.config)
}

// Session is one resolution's transport: an HTTP client whose cookie jar
// persists across the steps of that resolution only.
type Session struct {
	client   *http.Client
	jar      http.CookieJar
	logger   *internal.SecureLogger
	requests atomic.Int64
}

// Response is a fully buffered upstream response
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	URL        *url.URL
}

// Text returns the body as a string
func (r *Response) Text() string {
	return string(r.Body)
}

// OK reports whether the status code is 2xx
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// NewSession creates a Session with a public-suffix aware cookie jar
func NewSession(config SessionConfig) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = internal.GetLogger()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: config.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureTLS,
		},
	}

	if config.ProxyURL != "" {
		if err := configureProxy(transport, config.ProxyURL); err != nil {
			return nil, err
		}
	}

	if config.TLSFingerprint == "chrome" {
		dial := transport.DialContext
		insecure := config.InsecureTLS
		transport.ForceAttemptHTTP2 = false
		transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialTLSChrome(ctx, dial, network, addr, insecure)
		}
	}

	clientTimeout := config.Timeout
	if config.Streaming {
		clientTimeout = 0
	}

	client := &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   clientTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return &Session{client: client, jar: jar, logger: logger}, nil
}

func parseProxyURL(proxyURL string) (*url.URL, error) {
	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	switch parsedURL.Scheme {
	case "http", "https", "socks5", "socks5h":
		return parsedURL, nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", parsedURL.Scheme)
	}
}

// configureProxy sets up proxy configuration for the transport
func configureProxy(transport *http.Transport, proxyURL string) error {
	parsedURL, err := parseProxyURL(proxyURL)
	if err != nil {
		return err
	}

	switch parsedURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	default:
		var auth *proxy.Auth
		if parsedURL.User != nil {
			password, _ := parsedURL.User.Password()
			auth = &proxy.Auth{User: parsedURL.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
	}

	return nil
}

// dialTLSChrome performs the TLS handshake with a Chrome ClientHello. ALPN is
// pinned to http/1.1 since the transport cannot speak h2 over a custom conn.
func dialTLSChrome(ctx context.Context, dial func(context.Context, string, string) (net.Conn, error), network, addr string, insecure bool) (net.Conn, error) {
	rawConn, err := dial(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
	if err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("build chrome hello: %w", err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := utls.UClient(rawConn, &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: insecure,
	}, utls.HelloCustom)
	if err := tlsConn.ApplyPreset(&spec); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("apply chrome hello: %w", err)
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// Get issues a GET with the given headers
func (s *Session) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	return s.do(ctx, http.MethodGet, rawURL, nil, headers)
}

// PostForm issues a form-encoded POST
func (s *Session) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (*Response, error) {
	h := withDefault(headers, "Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	return s.do(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), h)
}

// PostJSON issues a POST whose body is payload encoded as JSON
func (s *Session) PostJSON(ctx context.Context, rawURL string, payload interface{}, headers map[string]string) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	h := withDefault(headers, "Content-Type", "application/json")
	return s.do(ctx, http.MethodPost, rawURL, bytes.NewReader(body), h)
}

func withDefault(headers map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	for k := range out {
		if strings.EqualFold(k, key) {
			return out
		}
	}
	out[key] = value
	return out
}

func (s *Session) do(ctx context.Context, method, rawURL string, body io.Reader, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for key, value := range headers {
		// The jar owns Cookie; an explicit Cookie header is added alongside it
		if strings.EqualFold(key, "Cookie") {
			req.Header.Add("Cookie", value)
			continue
		}
		req.Header.Set(key, value)
	}

	s.requests.Add(1)
	s.logger.LogHTTPRequest(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	s.logger.LogHTTPResponse(resp)

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(data) > MaxBodySize {
		return nil, ErrBodyTooLarge
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
		URL:        resp.Request.URL,
	}, nil
}

// Open issues a GET and returns the response with its body unread, for
// streaming transfers that must not be buffered. The caller closes the body.
func (s *Session) Open(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	s.requests.Add(1)
	s.logger.LogHTTPRequest(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	s.logger.LogHTTPResponse(resp)
	return resp, nil
}

// Cookie looks up a cookie the jar would send to rawURL
func (s *Session) Cookie(rawURL, name string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	for _, c := range s.jar.Cookies(u) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Requests returns how many requests this session has issued
func (s *Session) Requests() int64 {
	return s.requests.Load()
}
