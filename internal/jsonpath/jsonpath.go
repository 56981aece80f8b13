// Package jsonpath pulls the transcript out of arbitrary JSON responses using
// dotted paths such as "results[0].alternatives[0].transcript".
package jsonpath

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotFound is returned when no text could be located in the response.
var ErrNotFound = errors.New("no text in response")

type step struct {
	key   string
	index int
	isIdx bool
}

// Path is a compiled lookup path.
type Path []step

// Compile parses a dotted path with optional [n] indexes.
func Compile(path string) (Path, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty path")
	}
	var p Path
	for _, token := range strings.Split(path, ".") {
		if token == "" {
			return nil, fmt.Errorf("empty segment in %q", path)
		}
		key, rest, _ := strings.Cut(token, "[")
		if key != "" {
			p = append(p, step{key: key})
		}
		if rest == "" && !strings.Contains(token, "[") {
			continue
		}
		rest = "[" + rest
		for rest != "" {
			if rest[0] != '[' {
				return nil, fmt.Errorf("invalid index syntax in %q", token)
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("missing ] in %q", token)
			}
			n, err := strconv.Atoi(rest[1:end])
			if err != nil {
				return nil, fmt.Errorf("invalid index %q in %q", rest[1:end], token)
			}
			p = append(p, step{index: n, isIdx: true})
			rest = rest[end+1:]
		}
	}
	return p, nil
}

// Lookup walks root and returns the value the path points at.
func (p Path) Lookup(root any) (any, bool) {
	cur := root
	for _, s := range p {
		if s.isIdx {
			arr, ok := cur.([]any)
			if !ok || s.index < 0 || s.index >= len(arr) {
				return nil, false
			}
			cur = arr[s.index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[s.key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// ExtractText decodes body and returns the text at path. When path is empty
// or misses, a top-level "text" field is tried, then any non-empty top-level
// string.
func ExtractText(body []byte, path string) (string, error) {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if path != "" {
		p, err := Compile(path)
		if err != nil {
			return "", err
		}
		if v, ok := p.Lookup(root); ok {
			if s, ok := scalar(v); ok {
				return s, nil
			}
		}
	}
	m, ok := root.(map[string]any)
	if !ok {
		return "", ErrNotFound
	}
	if s, ok := scalar(m["text"]); ok {
		return s, nil
	}
	for _, v := range m {
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}
	return "", ErrNotFound
}

// ExtractByPath returns the scalar at path inside an already decoded value.
func ExtractByPath(root any, path string) (string, bool) {
	p, err := Compile(path)
	if err != nil {
		return "", false
	}
	v, ok := p.Lookup(root)
	if !ok {
		return "", false
	}
	return scalar(v)
}

// scalar renders strings, numbers and bools. A list of strings is joined
// with spaces, which covers segment-style responses.
func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10), true
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return "", false
			}
			parts = append(parts, strings.TrimSpace(s))
		}
		return strings.Join(parts, " "), len(parts) > 0
	}
	return "", false
}
