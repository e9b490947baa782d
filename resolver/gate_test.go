package resolver

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullGatePage = `<html><body><form id="go-link" method="post" action="/links/go">
<div style="display:none;"><input type="hidden" name="_method" value="POST"/>
<input type="hidden" name="_csrfToken" autocomplete="off" value="csrf-abc"/></div>
<input type="hidden" name="ad_form_data" value="AD-FORM-DATA"/>
<div style="display:none;"><input type="hidden" name="_Token[fields]" autocomplete="off" value="fields%3Axyz"/>
<input type="hidden" name="_Token[unlocked]" autocomplete="off" value="adcopy_challenge"/></div>
</form></body></html>`

// gateServer fakes a gate provider and records what the engine sent
type gateServer struct {
	*httptest.Server

	mu       sync.Mutex
	gets     []string
	posts    []*http.Request
	forms    []map[string]string
	cookies  []string
	pages    map[string]string
	response string
}

func newGateServer(t *testing.T, pages map[string]string, response string) *gateServer {
	t.Helper()
	gs := &gateServer{pages: pages, response: response}
	gs.Server = httptest.NewServer(http.HandlerFunc(gs.handle))
	t.Cleanup(gs.Close)
	return gs
}

func (gs *gateServer) handle(w http.ResponseWriter, r *http.Request) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if c, err := r.Cookie("sid"); err == nil {
		gs.cookies = append(gs.cookies, c.Value)
	}

	switch r.Method {
	case http.MethodGet:
		key := r.URL.Path
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}
		gs.gets = append(gs.gets, key)
		page, ok := gs.pages[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "session-1", Path: "/"})
		fmt.Fprint(w, page)
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		gs.posts = append(gs.posts, r)
		gs.forms = append(gs.forms, form)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, gs.response)
	}
}

func (gs *gateServer) counts() (gets, posts int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return len(gs.gets), len(gs.posts)
}

func exampleShortRouter(t *testing.T, baseURL string, sessions SessionSource) *Router {
	t.Helper()
	desc := InShortURLDescriptor()
	desc.Name = "ExampleShort"
	desc.Provider = "example-short"
	desc.Signature = "example-short.test"
	desc.BaseURL = baseURL
	return NewRouter(testLogger(), GateRoute(NewGateAdapter(desc, sessions, testLogger())))
}

func TestGateEndToEnd(t *testing.T) {
	gs := newGateServer(t, map[string]string{"/abc123": fullGatePage}, `{"url":"https://real.example/file"}`)
	router := exampleShortRouter(t, gs.URL, newSessions(t, 5*time.Second))

	res := router.Resolve(context.Background(), "https://example-short.test/abc123")

	require.True(t, res.Success, res.Reason)
	assert.JSONEq(t, `{"url":"https://real.example/file"}`, string(res.Payload))

	gets, posts := gs.counts()
	assert.Equal(t, 1, gets)
	require.Equal(t, 1, posts)

	form := gs.forms[0]
	assert.Equal(t, "csrf-abc", form["_csrfToken"])
	assert.Equal(t, "AD-FORM-DATA", form["ad_form_data"])
	assert.Equal(t, "fields%3Axyz", form["_Token[fields]"])
	assert.Equal(t, "adcopy_challenge", form["_Token[unlocked]"])

	post := gs.posts[0]
	assert.Equal(t, "/links/go", post.URL.Path)
	assert.Equal(t, "XMLHttpRequest", post.Header.Get("X-Requested-With"))
	assert.Equal(t, gs.URL, post.Header.Get("Origin"))
	assert.Equal(t, gs.URL+"/abc123", post.Header.Get("Referer"))
	assert.Contains(t, post.Header.Get("Content-Type"), "application/x-www-form-urlencoded")

	// the cookie set on the page fetch came back on the POST
	assert.Equal(t, []string{"session-1"}, gs.cookies)
}

func TestGatePageRequestHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			got = r.Header.Clone()
			fmt.Fprint(w, fullGatePage)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	desc := InShortURLDescriptor()
	desc.BaseURL = srv.URL
	adapter := NewGateAdapter(desc, newSessions(t, 5*time.Second), testLogger())

	res := adapter.Resolve(context.Background(), NewRequest("https://inshorturl.in/abc", ProviderInShortURL))
	require.True(t, res.Success, res.Reason)

	assert.Equal(t, "https://mahitimanch.in/", got.Get("Referer"))
	assert.Contains(t, got.Get("User-Agent"), "Firefox")
	assert.Equal(t, "navigate", got.Get("Sec-Fetch-Mode"))
}

func TestGateInvalidFormatMakesNoRequests(t *testing.T) {
	gs := newGateServer(t, map[string]string{}, `{}`)
	sessions := newSessions(t, time.Second)
	router := exampleShortRouter(t, gs.URL, sessions)

	for _, input := range []string{
		"https://example-short.test/",
		"https://example-short.test",
		"https://example-short.test/?x=1",
	} {
		res := router.Resolve(context.Background(), input)
		assert.False(t, res.Success)
		assert.Equal(t, "InvalidInputFormat", res.Kind, input)
		assert.Equal(t, "Invalid ExampleShort format", res.Reason)
	}

	gets, posts := gs.counts()
	assert.Zero(t, gets)
	assert.Zero(t, posts)
	assert.Zero(t, sessions.Count())
}

func TestGateMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		remove string
		field  string
		reason string
	}{
		{"csrf", `name="_csrfToken"`, "_csrfToken", "CSRF"},
		{"ad_form_data", `name="ad_form_data"`, "ad_form_data", "ad_form_data"},
		{"token_fields", `name="_Token[fields]"`, "_Token[fields]", "token fields"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := strings.Replace(fullGatePage, tt.remove, `name="unrelated"`, 1)
			gs := newGateServer(t, map[string]string{"/abc123": page}, `{"url":"x"}`)
			router := exampleShortRouter(t, gs.URL, newSessions(t, 5*time.Second))

			res := router.Resolve(context.Background(), "https://example-short.test/abc123")

			assert.False(t, res.Success)
			assert.Equal(t, "MissingExtractedField", res.Kind)
			assert.Equal(t, tt.field, res.Field)
			assert.Contains(t, res.Reason, tt.reason)
			assert.NotEmpty(t, res.Context["html_snippet"])

			_, posts := gs.counts()
			assert.Zero(t, posts, "no POST may be issued when a field is missing")
		})
	}
}

func TestGateUnlockedDefault(t *testing.T) {
	page := strings.Replace(fullGatePage, `name="_Token[unlocked]"`, `name="other"`, 1)
	gs := newGateServer(t, map[string]string{"/abc123": page}, `{"status":"success"}`)
	router := exampleShortRouter(t, gs.URL, newSessions(t, 5*time.Second))

	res := router.Resolve(context.Background(), "https://example-short.test/abc123")

	require.True(t, res.Success, res.Reason)
	require.Len(t, gs.forms, 1)
	assert.Equal(t, DefaultUnlockedFields, gs.forms[0]["_Token[unlocked]"])
}

func TestGateToleratesAttributeDrift(t *testing.T) {
	page := `<form>
<input value="csrf-drift" name="_csrfToken" type="hidden">
<input type="hidden" data-x="1" name="ad_form_data" value="AD">
<input value="F" type="hidden" name="_Token[fields]">
</form>`
	gs := newGateServer(t, map[string]string{"/abc123": page}, `{"url":"https://real.example/file"}`)
	router := exampleShortRouter(t, gs.URL, newSessions(t, 5*time.Second))

	res := router.Resolve(context.Background(), "https://example-short.test/abc123")

	require.True(t, res.Success, res.Reason)
	require.Len(t, gs.forms, 1)
	assert.Equal(t, "csrf-drift", gs.forms[0]["_csrfToken"])
	assert.Equal(t, "AD", gs.forms[0]["ad_form_data"])
	assert.Equal(t, "F", gs.forms[0]["_Token[fields]"])
}

func TestGatePassesUpstreamFailureThrough(t *testing.T) {
	gs := newGateServer(t, map[string]string{"/abc123": fullGatePage}, `{"status":"error","message":"Bad Request."}`)
	router := exampleShortRouter(t, gs.URL, newSessions(t, 5*time.Second))

	res := router.Resolve(context.Background(), "https://example-short.test/abc123")

	require.True(t, res.Success)
	assert.JSONEq(t, `{"status":"error","message":"Bad Request."}`, string(res.Payload))
}

func TestGateNonJSONResponse(t *testing.T) {
	gs := newGateServer(t, map[string]string{"/abc123": fullGatePage}, `<html>blocked</html>`)
	router := exampleShortRouter(t, gs.URL, newSessions(t, 5*time.Second))

	res := router.Resolve(context.Background(), "https://example-short.test/abc123")

	assert.False(t, res.Success)
	assert.Equal(t, "DecodeFailure", res.Kind)
	assert.Equal(t, "<html>blocked</html>", res.Context["body_snippet"])
}

func TestGateTransportErrors(t *testing.T) {
	t.Run("connection_refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		base := srv.URL
		srv.Close()

		router := exampleShortRouter(t, base, newSessions(t, time.Second))
		res := router.Resolve(context.Background(), "https://example-short.test/abc123")

		assert.False(t, res.Success)
		assert.Equal(t, "TransportError", res.Kind)
		assert.NotEmpty(t, res.Reason)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		router := exampleShortRouter(t, srv.URL, newSessions(t, 100*time.Millisecond))
		start := time.Now()
		res := router.Resolve(context.Background(), "https://example-short.test/abc123")

		assert.False(t, res.Success)
		assert.Equal(t, "TransportError", res.Kind)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestGateOversizedPage(t *testing.T) {
	padding := strings.Repeat("x", 10*1024*1024)
	gs := newGateServer(t, map[string]string{"/abc123": "<!--" + padding + "-->" + fullGatePage}, `{"url":"x"}`)
	router := exampleShortRouter(t, gs.URL, newSessions(t, 5*time.Second))

	res := router.Resolve(context.Background(), "https://example-short.test/abc123")

	assert.False(t, res.Success)
	assert.Equal(t, "TransportError", res.Kind)
	assert.Contains(t, res.Reason, "exceeds")
	_, posts := gs.counts()
	assert.Zero(t, posts)
}

func softToken() string {
	return strings.Repeat("0123456789abcdef", 8)
}

func softPages(baseURL string) map[string]string {
	token := softToken()
	goValue := base64.StdEncoding.EncodeToString([]byte(baseURL + "/EtlG2?" + token))
	return map[string]string{
		"/EtlG2":           `<form><input type="hidden" name="go" value="` + goValue + `"></form>`,
		"/EtlG2?" + token: fullGatePage,
	}
}

func softAdapter(t *testing.T, baseURL string) *GateAdapter {
	desc := SoftURLDescriptor()
	desc.BaseURL = baseURL
	return NewGateAdapter(desc, newSessions(t, 5*time.Second), testLogger())
}

func TestSoftGateEndToEnd(t *testing.T) {
	gs := newGateServer(t, nil, `{"status":"success","url":"https://real.example/soft"}`)
	gs.pages = softPages(gs.URL)

	res := softAdapter(t, gs.URL).Resolve(context.Background(), NewRequest("https://softurl.in/EtlG2", ProviderSoftURL))

	require.True(t, res.Success, res.Reason)
	assert.JSONEq(t, `{"status":"success","url":"https://real.example/soft"}`, string(res.Payload))

	assert.Equal(t, []string{"/EtlG2", "/EtlG2?" + softToken()}, gs.gets)
	require.Len(t, gs.posts, 1)
	assert.Equal(t, gs.URL+"/EtlG2?"+softToken(), gs.posts[0].Header.Get("Referer"))
	assert.Equal(t, "csrf-abc", gs.forms[0]["_csrfToken"])
}

func TestSoftGateSendsLangCookie(t *testing.T) {
	var cookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("lang"); err == nil {
			cookie = c.Value
		}
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	res := softAdapter(t, srv.URL).Resolve(context.Background(), NewRequest("https://softurl.in/EtlG2", ProviderSoftURL))

	assert.False(t, res.Success)
	assert.Equal(t, "en_US", cookie)
}

func TestSoftGateTokenStepFailures(t *testing.T) {
	token := softToken()

	tests := []struct {
		name    string
		page    string
		kind    string
		field   string
		reason  string
		context string
	}{
		{
			name:    "missing_go",
			page:    `<html><p>maintenance</p></html>`,
			kind:    "MissingExtractedField",
			field:   "go",
			reason:  "Could not extract go value",
			context: "html_snippet",
		},
		{
			name:    "bad_base64",
			page:    `<input type="hidden" name="go" value="%%%not-base64%%%">`,
			kind:    "DecodeFailure",
			reason:  "Could not decode base64",
			context: "html_snippet",
		},
		{
			name:    "no_token_in_url",
			page:    `<input type="hidden" name="go" value="` + base64.StdEncoding.EncodeToString([]byte("https://softurl.in/EtlG2?short")) + `">`,
			kind:    "MissingExtractedField",
			field:   "token",
			reason:  "Could not extract token from decoded URL",
			context: "decoded_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gs := newGateServer(t, map[string]string{"/EtlG2": tt.page, "/EtlG2?" + token: fullGatePage}, `{}`)

			res := softAdapter(t, gs.URL).Resolve(context.Background(), NewRequest("https://softurl.in/EtlG2", ProviderSoftURL))

			assert.False(t, res.Success)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.field, res.Field)
			assert.Contains(t, res.Reason, tt.reason)
			assert.NotEmpty(t, res.Context[tt.context])

			gets, posts := gs.counts()
			assert.Equal(t, 1, gets, "only the first page may be fetched")
			assert.Zero(t, posts)
		})
	}
}

func TestSoftGateTokenPageTransportError(t *testing.T) {
	var base string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery == "" {
			fmt.Fprint(w, softPages(base)["/EtlG2"])
			return
		}
		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "no hijack", http.StatusInternalServerError)
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()
	base = srv.URL

	res := softAdapter(t, srv.URL).Resolve(context.Background(), NewRequest("https://softurl.in/EtlG2", ProviderSoftURL))

	assert.False(t, res.Success)
	assert.Equal(t, "TransportError", res.Kind)
	assert.Contains(t, res.Reason, "GET "+srv.URL+"/EtlG2?"+softToken())
	assert.Equal(t, "token_page", res.Context["step"])
}

func TestSoftGateMissingFieldOnSecondPage(t *testing.T) {
	gs := newGateServer(t, nil, `{}`)
	pages := softPages(gs.URL)
	pages["/EtlG2?"+softToken()] = strings.Replace(fullGatePage, `name="ad_form_data"`, `name="x"`, 1)
	gs.pages = pages

	res := softAdapter(t, gs.URL).Resolve(context.Background(), NewRequest("https://softurl.in/EtlG2", ProviderSoftURL))

	assert.False(t, res.Success)
	assert.Equal(t, "ad_form_data", res.Field)
	assert.Contains(t, res.Context["html_snippet"], "_csrfToken")
	_, posts := gs.counts()
	assert.Zero(t, posts)
}

func TestGateSessionsAreIsolated(t *testing.T) {
	gs := newGateServer(t, map[string]string{"/abc123": fullGatePage}, `{"url":"x"}`)
	sessions := newSessions(t, 5*time.Second)
	router := exampleShortRouter(t, gs.URL, sessions)

	first := router.Resolve(context.Background(), "https://example-short.test/abc123")
	second := router.Resolve(context.Background(), "https://example-short.test/abc123")

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, int64(2), sessions.Count())

	// each resolution's first GET arrives without cookies; only its own POST
	// carries the cookie it was just given
	assert.Equal(t, []string{"session-1", "session-1"}, gs.cookies)
}

func TestGateConcurrentResolutions(t *testing.T) {
	gs := newGateServer(t, map[string]string{"/abc123": fullGatePage}, `{"url":"https://real.example/file"}`)
	router := exampleShortRouter(t, gs.URL, newSessions(t, 5*time.Second))

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = router.Resolve(context.Background(), "https://example-short.test/abc123")
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.True(t, res.Success, res.Reason)
	}
	_, posts := gs.counts()
	assert.Equal(t, 8, posts)
}

func TestGateStateString(t *testing.T) {
	assert.Equal(t, "Init", StateInit.String())
	assert.Equal(t, "TokenFetched", StateTokenFetched.String())
	assert.Equal(t, "Failed", StateFailed.String())
	assert.Equal(t, "Unknown", GateState(42).String())
}
