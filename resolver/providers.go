package resolver

import (
	"regexp"

	"linkfetch/internal"
	"linkfetch/utils"
)

// DefaultUnlockedFields is submitted as _Token[unlocked] when the gate page
// does not carry one
const DefaultUnlockedFields = "adcopy_challenge%7Cadcopy_response%7Cg-recaptcha-response%7Ch-captcha-response"

const (
	firefoxUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:147.0) Gecko/20100101 Firefox/147.0"
	edgeUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36 Edg/144.0.0.0"
)

// CloudShareSignatures are the URL substrings routed to the cloud-share
// adapter, most specific first
var CloudShareSignatures = []string{"terabox", "1024tera", "nephobox", "terasharefile", "tera"}

// gateFields returns the four-field form every supported gate submits
func gateFields() []GateField {
	return []GateField{
		{
			FieldRule: utils.FieldRule{Name: "ad_form_data", Pattern: regexp.MustCompile(`name="ad_form_data"\s+value="([^"]+)"`)},
			Label:     "ad_form_data",
		},
		{
			FieldRule: utils.FieldRule{Name: "_Token[fields]", Pattern: regexp.MustCompile(`name="_Token\[fields\]"[^>]+value="([^"]+)"`)},
			Label:     "token fields",
		},
		{
			FieldRule: utils.FieldRule{Name: "_Token[unlocked]", Pattern: regexp.MustCompile(`name="_Token\[unlocked\]"[^>]+value="([^"]+)"`)},
			Label:     "unlocked token fields",
			Optional:  true,
			Default:   DefaultUnlockedFields,
		},
		{
			FieldRule: utils.FieldRule{Name: "_csrfToken", Pattern: regexp.MustCompile(`name="_csrfToken"[^>]+value="([^"]+)"`)},
			Label:     "CSRF token",
		},
	}
}

func gateSubmitHeaders() map[string]string {
	return map[string]string{
		"User-Agent":       firefoxUserAgent,
		"Accept":           "application/json, text/javascript, */*; q=0.01",
		"Accept-Language":  "en-US,en;q=0.9",
		"Content-Type":     "application/x-www-form-urlencoded; charset=UTF-8",
		"X-Requested-With": "XMLHttpRequest",
		"Sec-Fetch-Dest":   "empty",
		"Sec-Fetch-Mode":   "cors",
		"Sec-Fetch-Site":   "same-origin",
		"Pragma":           "no-cache",
		"Cache-Control":    "no-cache",
	}
}

// InShortURLDescriptor is the two-step short-link gate
func InShortURLDescriptor() GateDescriptor {
	return GateDescriptor{
		Provider:    ProviderInShortURL,
		Name:        "InShortURL",
		Signature:   "inshorturl.in",
		BaseURL:     "https://inshorturl.in",
		ResolvePath: "/links/go",
		PageHeaders: map[string]string{
			"User-Agent":                firefoxUserAgent,
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.9",
			"Referer":                   "https://mahitimanch.in/",
			"Upgrade-Insecure-Requests": "1",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "cross-site",
			"Sec-Fetch-User":            "?1",
			"Priority":                  "u=0, i",
			"Pragma":                    "no-cache",
			"Cache-Control":             "no-cache",
		},
		SubmitHeaders: gateSubmitHeaders(),
		Fields:        gateFields(),
	}
}

// SoftURLDescriptor is the three-step soft-link gate with the go token step
func SoftURLDescriptor() GateDescriptor {
	return GateDescriptor{
		Provider:    ProviderSoftURL,
		Name:        "SoftURL",
		Signature:   "softurl.in",
		BaseURL:     "https://softurl.in",
		ResolvePath: "/links/go",
		PageHeaders: map[string]string{
			"User-Agent":                firefoxUserAgent,
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.9",
			"Upgrade-Insecure-Requests": "1",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-User":            "?1",
			"Priority":                  "u=0, i",
			"Te":                        "trailers",
			"Cookie":                    "lang=en_US",
		},
		SubmitHeaders: gateSubmitHeaders(),
		TokenStep: &TokenStep{
			Field:       utils.FieldRule{Name: "go", Pattern: regexp.MustCompile(`name="go"\s+value="([^"]+)"`)},
			TokenLength: 128,
		},
		Fields: gateFields(),
	}
}

// DefaultCloudShareConfig returns the cloud-share settings derived from cfg
func DefaultCloudShareConfig(cfg *internal.Config) CloudShareConfig {
	return CloudShareConfig{
		Mode:             cfg.CloudShare.Mode,
		InfoEndpoint:     cfg.CloudShare.InfoEndpoint,
		DownloadEndpoint: cfg.CloudShare.DownloadEndpoint,
		ProxyBaseURL:     cfg.CloudShare.ProxyBaseURL,
		APIHeaders: map[string]string{
			"User-Agent":               edgeUserAgent,
			"Accept-Language":          "en-US,en;q=0.9",
			"Cache-Control":            "no-cache",
			"Pragma":                   "no-cache",
			"Priority":                 "u=1, i",
			"Referer":                  originOf(cfg.CloudShare.InfoEndpoint) + "/",
			"Sec-Ch-Ua":                `"Not(A:Brand";v="8", "Chromium";v="144", "Microsoft Edge";v="144"`,
			"Sec-Ch-Ua-Mobile":         "?0",
			"Sec-Ch-Ua-Platform":       `"Windows"`,
			"Sec-Fetch-Dest":           "empty",
			"Sec-Fetch-Mode":           "cors",
			"Sec-Fetch-Site":           "same-origin",
			"Sec-Fetch-Storage-Access": "active",
		},
		ProxyPageHeaders: map[string]string{
			"User-Agent":                firefoxUserAgent,
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.9",
			"Upgrade-Insecure-Requests": "1",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "cross-site",
			"Sec-Fetch-User":            "?1",
			"Priority":                  "u=0, i",
			"Te":                        "trailers",
		},
		ProxySubmitHeaders: map[string]string{
			"User-Agent":      firefoxUserAgent,
			"Accept":          "application/json",
			"Content-Type":    "application/json",
			"Accept-Language": "en-US,en;q=0.9",
			"Sec-Fetch-Dest":  "empty",
			"Sec-Fetch-Mode":  "cors",
			"Sec-Fetch-Site":  "same-origin",
			"Priority":        "u=0",
			"Te":              "trailers",
		},
	}
}

// withBaseURL applies a configured base URL override to desc
func withBaseURL(desc GateDescriptor, cfg *internal.Config) GateDescriptor {
	if base, ok := cfg.BaseURL(string(desc.Provider)); ok {
		desc.BaseURL = base
	}
	return desc
}

// NewDefaultRouter wires the built-in providers in priority order:
// InShortURL, SoftURL, then the cloud-share family.
func NewDefaultRouter(cfg *internal.Config, sessions SessionSource, logger *internal.SecureLogger) *Router {
	inshort := withBaseURL(InShortURLDescriptor(), cfg)
	soft := withBaseURL(SoftURLDescriptor(), cfg)

	return NewRouter(logger,
		GateRoute(NewGateAdapter(inshort, sessions, logger)),
		GateRoute(NewGateAdapter(soft, sessions, logger)),
		Route{
			Name:       "Terabox",
			Provider:   ProviderTerabox,
			Signatures: CloudShareSignatures,
			Adapter:    NewCloudShareAdapter(DefaultCloudShareConfig(cfg), sessions, logger),
		},
	)
}

// GateRoute builds the route for a gate adapter from its descriptor
func GateRoute(adapter *GateAdapter) Route {
	desc := adapter.Descriptor()
	return Route{
		Name:       desc.Name,
		Provider:   desc.Provider,
		Signatures: []string{desc.Signature},
		Adapter:    adapter,
	}
}
