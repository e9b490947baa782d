package utils

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidBase64 is returned when input is not base64 in any common alphabet
	ErrInvalidBase64 = errors.New("invalid base64")
	// ErrInvalidText is returned when decoded bytes are not UTF-8 text
	ErrInvalidText = errors.New("decoded bytes are not valid text")
)

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.RawURLEncoding,
}

// DecodeBase64Text decodes standard or URL-safe base64, padded or not, and
// requires the result to be UTF-8 text.
func DecodeBase64Text(encoded string) (string, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidBase64)
	}

	var lastErr error
	for _, enc := range base64Encodings {
		data, err := enc.DecodeString(encoded)
		if err != nil {
			lastErr = err
			continue
		}
		if !utf8.Valid(data) {
			return "", ErrInvalidText
		}
		return string(data), nil
	}
	return "", fmt.Errorf("%w: %v", ErrInvalidBase64, lastErr)
}

// URLDecode reverses percent-encoding; '+' is left as is
func URLDecode(s string) (string, error) {
	return url.PathUnescape(s)
}

// JSONValue parses s as a JSON object and returns its string field key
func JSONValue(s, key string) (string, bool) {
	return JSONField([]byte(s), key)
}

// CookieToken decodes a cookie holding a percent-encoded JSON object and
// returns its "value" field. Any other shape yields the raw cookie.
func CookieToken(raw string) string {
	decoded, err := URLDecode(raw)
	if err != nil {
		return raw
	}
	if v, ok := JSONValue(decoded, "value"); ok {
		return v
	}
	return raw
}

var hexTokenPatterns = map[int]*regexp.Regexp{
	128: regexp.MustCompile(`\?([a-f0-9]{128})`),
}

// EmbeddedHexToken finds a lowercase hex token of the given length used as
// the bare query string of a URL.
func EmbeddedHexToken(s string, length int) (string, bool) {
	pattern, ok := hexTokenPatterns[length]
	if !ok {
		pattern = regexp.MustCompile(fmt.Sprintf(`\?([a-f0-9]{%d})`, length))
	}
	matches := pattern.FindStringSubmatch(s)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}
