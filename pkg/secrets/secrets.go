// Package secrets holds the opaque codec the runtime routes secret
// settings through, and the masker that scrubs credential material out of
// anything destined for logs.
package secrets

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// Codec encodes secret values at rest and decodes them on read. The
// runtime never inspects the encoded form.
type Codec interface {
	Encode(value string) (string, error)
	Decode(value string) (string, error)
}

// Plain is the identity codec: values are stored as-is. The default when
// no encryption backend is wired.
type Plain struct{}

func (Plain) Encode(value string) (string, error) { return value, nil }
func (Plain) Decode(value string) (string, error) { return value, nil }

const redacted = "***MASKED***"

// builtinPatterns cover the credential shapes that routinely leak into
// model params and tool output. Invalid patterns are skipped at compile
// time with an error log.
var builtinPatterns = map[string]string{
	"api_key":      `(?i)(api[_-]?key|apikey)["'\s:=]+[A-Za-z0-9_\-]{16,}`,
	"bearer_token": `(?i)bearer\s+[A-Za-z0-9_\-\.=]{16,}`,
	"password":     `(?i)(password|passwd|pwd)["'\s:=]+[^\s"']{6,}`,
	"openai_key":   `sk-[A-Za-z0-9_\-]{20,}`,
	"basic_auth":   `://[^/\s:]+:[^@\s]+@`,
}

// Masker replaces known secret values and credential-shaped substrings
// with a redaction marker. Stateless after construction; safe for
// concurrent use.
type Masker struct {
	mu       sync.RWMutex
	values   []string
	patterns []*regexp.Regexp
}

// NewMasker compiles the built-in credential patterns.
func NewMasker() *Masker {
	m := &Masker{}
	for name, pattern := range builtinPatterns {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			slog.Error("failed to compile masking pattern, skipping", "pattern", name, "error", err)
			continue
		}
		m.patterns = append(m.patterns, compiled)
	}
	return m
}

// AddValue registers a concrete secret value to scrub wherever it appears.
// Short values are ignored: masking them would redact ordinary text.
func (m *Masker) AddValue(value string) {
	if len(value) < 6 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.values {
		if have == value {
			return
		}
	}
	m.values = append(m.values, value)
}

// Mask returns s with every registered value and every credential-shaped
// substring replaced.
func (m *Masker) Mask(s string) string {
	if s == "" {
		return s
	}
	m.mu.RLock()
	values := m.values
	m.mu.RUnlock()
	for _, v := range values {
		s = strings.ReplaceAll(s, v, redacted)
	}
	for _, p := range m.patterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

// MaskAny walks maps, slices, and strings, masking every string leaf.
// Non-string scalars pass through untouched.
func (m *Masker) MaskAny(v any) any {
	switch val := v.(type) {
	case string:
		return m.Mask(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = m.MaskAny(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = m.MaskAny(inner)
		}
		return out
	default:
		return v
	}
}
