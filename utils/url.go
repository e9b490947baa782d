package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"linkfetch/internal"
)

var (
	shareIDPattern  = regexp.MustCompile(`/s/([a-zA-Z0-9_-]+)`)
	passwordPattern = regexp.MustCompile(`[?&]pwd=([^&]+)`)
)

// ShareLink contains the identifiers parsed from a cloud-share URL
type ShareLink struct {
	OriginalURL string
	Domain      string
	ShareID     string
	Password    string
}

// ParseShareLink extracts the share identifier from the /s/{id} path segment
// and the optional pwd query parameter. The host is not checked; routing has
// already decided the link belongs to a cloud-share provider.
func ParseShareLink(rawURL string) (*ShareLink, error) {
	matches := shareIDPattern.FindStringSubmatch(rawURL)
	if len(matches) < 2 {
		return nil, internal.NewInvalidInputError(rawURL, "Could not extract share ID from URL").
			WithSuggestion("Cloud-share links look like https://www.terabox.com/s/1AbC123")
	}

	link := &ShareLink{
		OriginalURL: rawURL,
		ShareID:     matches[1],
	}

	if parsed, err := url.Parse(rawURL); err == nil {
		link.Domain = strings.ToLower(parsed.Hostname())
	}

	if pwd := passwordPattern.FindStringSubmatch(rawURL); len(pwd) > 1 {
		link.Password = pwd[1]
	}

	return link, nil
}

// String returns a string representation of the ShareLink
func (l *ShareLink) String() string {
	return fmt.Sprintf("ShareLink{Domain: %s, ShareID: %s, HasPassword: %t}", l.Domain, l.ShareID, l.Password != "")
}

// ShortCodePattern builds the `{signature}/{code}` matcher used by gate pages
func ShortCodePattern(signature string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(signature) + `/([a-zA-Z0-9]+)`)
}

// ExtractShortCode returns the first path segment after the signature
func ExtractShortCode(pattern *regexp.Regexp, rawURL string) (string, bool) {
	matches := pattern.FindStringSubmatch(rawURL)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}

// ValidateInputURL checks that a CLI or API argument is an absolute http(s) URL
func ValidateInputURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return internal.NewValidationError("url", "URL cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return internal.NewValidationError("url", fmt.Sprintf("invalid URL format: %v", err))
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return internal.NewValidationErrorWithValue("url", "URL must use http or https protocol", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return internal.NewValidationError("url", "URL must include a host")
	}

	return nil
}
