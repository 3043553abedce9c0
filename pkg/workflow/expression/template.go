package expression

import (
	"fmt"
	"regexp"
	"strings"
)

// templatePattern matches {{...}} expressions
var templatePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// wholePattern matches strings that consist of exactly one template
var wholePattern = regexp.MustCompile(`^\{\{([^}]+)\}\}$`)

// RenderTemplates resolves {{dotted.path}} templates in s against the
// execution state.
//
// When the entire string is a single template, the resolved value is
// returned as-is so non-string values keep their type:
//
//	RenderTemplates("{{fetch.statusCode}}", state)  => 200 (int)
//
// Otherwise each template is interpolated into the surrounding text:
//
//	RenderTemplates("got {{fetch.statusCode}} from {{input.url}}", state)
//	=> "got 200 from https://example.com"
//
// Paths that cannot be resolved are left verbatim, so handlers see the
// literal template and can surface a meaningful failure.
func RenderTemplates(s string, state map[string]any) any {
	if !strings.Contains(s, "{{") {
		return s
	}

	// Whole-string templates preserve the value's type
	if m := wholePattern.FindStringSubmatch(s); m != nil {
		path := strings.TrimSpace(m[1])
		path = strings.TrimPrefix(path, ".")
		if value, err := resolvePath(path, state); err == nil {
			return value
		}
		return s
	}

	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		path = strings.TrimPrefix(path, ".")

		value, err := resolvePath(path, state)
		if err != nil {
			return match // Keep original on error
		}
		return fmt.Sprintf("%v", value)
	})
}

// resolvePath resolves a dot-separated path in the state.
// Example: "fetch.data.total" => state["fetch"]["data"]["total"]
func resolvePath(path string, state map[string]any) (any, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}

	parts := strings.Split(path, ".")
	var current any = state

	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("invalid path: empty segment at position %d", i)
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[part]
			if !ok {
				return nil, fmt.Errorf("path not found: %s (missing key '%s')", path, part)
			}
			current = val
		default:
			return nil, fmt.Errorf("path not found: %s (cannot index into %T at '%s')", path, current, part)
		}
	}

	return current, nil
}
