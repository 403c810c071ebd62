package enrich

import (
	"encoding/json"
	"fmt"
	"strings"
)

// stripFences removes markdown code fences from model output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractBraceSpan returns the first balanced {...} span in s, tracking
// string literals and escapes so braces inside values don't end the span.
func extractBraceSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// decodeObject runs the defensive parse ladder over free-form model output:
// strip fence markers, try a direct parse, then try the first balanced
// object span. The caller supplies the fallback when every rung fails.
func decodeObject(text string, v any) error {
	cleaned := stripFences(text)

	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}

	if span, ok := extractBraceSpan(cleaned); ok {
		if err := json.Unmarshal([]byte(span), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("no parseable object in model output")
}
