package utils

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FieldRule locates one named value in a response body. Pattern must have
// exactly one capture group; when it is nil the rule matches a hidden input
// by its name attribute.
type FieldRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// InputPattern matches `name="NAME" ... value="VALUE"` inside one tag
func InputPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`name="` + regexp.QuoteMeta(name) + `"[^>]*?value="([^"]*)"`)
}

// ExtractField returns the first value matched by rule. The second return is
// false when the field is absent, which is distinct from an empty value.
//
// The rule's pattern is tried first; if it misses, the body is parsed and an
// <input> with the same name attribute is looked up, which tolerates
// reordered attributes and single quotes.
func ExtractField(body string, rule FieldRule) (string, bool) {
	pattern := rule.Pattern
	if pattern == nil {
		pattern = InputPattern(rule.Name)
	}
	if matches := pattern.FindStringSubmatch(body); len(matches) > 1 {
		return matches[1], true
	}
	return extractInputWithDocument(body, rule.Name)
}

func extractInputWithDocument(body, name string) (string, bool) {
	if !strings.Contains(body, name) {
		return "", false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", false
	}
	selector := fmt.Sprintf(`input[name=%q]`, name)
	return doc.Find(selector).First().Attr("value")
}

// JSONField returns a top-level string or number field of a JSON object
func JSONField(data []byte, key string) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", false
	}
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	return ScalarString(raw)
}

// ScalarString renders a JSON string or number as text
func ScalarString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// Snippet returns at most n bytes of body, cut on a rune boundary
func Snippet(body string, n int) string {
	if len(body) <= n {
		return body
	}
	cut := n
	for cut > 0 && !isRuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
