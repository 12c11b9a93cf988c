package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a response contains no parseable JSON document.
var ErrNoJSON = errors.New("no valid JSON found in response")

// thinkTagPattern matches a leading <think>...</think> block emitted by reasoning models.
var thinkTagPattern = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)

// fencePattern matches a Markdown code fence, optionally tagged json.
var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\n?(.*?)```")

// cleanResponse strips reasoning blocks and unwraps the first fenced code block.
func cleanResponse(response string) string {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")
	if m := fencePattern.FindStringSubmatch(cleaned); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(cleaned)
}

// ExtractJSON returns the first balanced JSON object or array in a model response.
// Surrounding prose, code fences and leading <think> blocks are ignored.
func ExtractJSON(response string) (string, error) {
	cleaned := cleanResponse(response)
	if cleaned == "" {
		return "", ErrNoJSON
	}
	if json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}

	objStart := strings.IndexByte(cleaned, '{')
	arrStart := strings.IndexByte(cleaned, '[')

	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		if s, ok := extractBalancedJSON(cleaned[objStart:], '{', '}'); ok && json.Valid([]byte(s)) {
			return s, nil
		}
	}
	if arrStart >= 0 {
		if s, ok := extractBalancedJSON(cleaned[arrStart:], '[', ']'); ok && json.Valid([]byte(s)) {
			return s, nil
		}
	}

	return "", ErrNoJSON
}

// extractBalancedJSON scans s, which must start with openChar, to its matching close.
// Brackets inside string literals are not counted.
func extractBalancedJSON(s string, openChar, closeChar byte) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == openChar:
			depth++
		case c == closeChar:
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}

	return "", false
}

// ParseJSONResponse extracts JSON from a response and unmarshals it into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}

	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}

	return result, nil
}

// ParseJSONArray decodes a response expected to be a JSON array.
// The whole text is tried first; failing that, the substring from the first
// '[' to the last ']'. Anything else is an error and the caller skips the batch.
func ParseJSONArray[T any](response string) ([]T, error) {
	var items []T

	trimmed := strings.TrimSpace(response)
	if err := json.Unmarshal([]byte(trimmed), &items); err == nil {
		return items, nil
	}

	start := strings.IndexByte(trimmed, '[')
	end := strings.LastIndexByte(trimmed, ']')
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}

	items = nil
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("unmarshal JSON array: %w", err)
	}
	return items, nil
}
