package reasoning

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoJSON = errors.New("no JSON object found in model output")

// ExtractJSON returns the first valid JSON object in model output. Code fences and
// surrounding prose are ignored; braces inside strings do not affect balancing.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "\uFEFF")
	if inner, ok := unfence(s); ok {
		s = inner
	}
	for i := strings.IndexByte(s, '{'); i >= 0; {
		if out, ok := balanced(s[i:]); ok && json.Valid([]byte(out)) {
			return out, nil
		}
		next := strings.IndexByte(s[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return "", errNoJSON
}

// unfence returns the body of the first ``` or ~~~ block, dropping its language tag.
func unfence(s string) (string, bool) {
	for _, fence := range []string{"```", "~~~"} {
		start := strings.Index(s, fence)
		if start < 0 {
			continue
		}
		rest := s[start+len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return "", false
		}
		rest = rest[nl+1:]
		end := strings.Index(rest, fence)
		if end < 0 {
			return "", false
		}
		return strings.TrimSpace(rest[:end]), true
	}
	return "", false
}

// balanced returns the prefix of s that closes the object or array s starts with.
func balanced(s string) (string, bool) {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return "", false
			}
			open := stack[len(stack)-1]
			if (open == '{') != (c == '}') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
