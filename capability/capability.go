// Package capability resolves templated scope strings and checks whether a
// set of granted scopes satisfies a required one.
//
// Scopes are ':'-separated, for example "user-{userId}:write-merge". Granted
// scopes are gobwas/glob patterns compiled with ':' as the separator, so '*'
// never crosses a segment boundary:
//   - "user-42:*" matches "user-42:read-session-1"
//   - "user-42:read-session-*" matches "user-42:read-session-1"
//   - "user-*:*" matches any single user's resource
package capability

import (
	"errors"
	"fmt"
	"strings"
)

const separator = ':'

var (
	ErrUnknownPlaceholder = errors.New("unknown placeholder")
	ErrUnbalancedTemplate = errors.New("unbalanced placeholder braces")
	ErrInvalidParamValue  = errors.New("invalid placeholder value")
)

// Resolve substitutes every {name} in template with params[name]. It fails
// when a placeholder has no value, when braces do not balance, or when a
// value would inject glob syntax or a separator.
func Resolve(template string, params map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(template))

	rest := template
	for {
		open := strings.IndexAny(rest, "{}")
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		if rest[open] == '}' {
			return "", fmt.Errorf("%w in %q", ErrUnbalancedTemplate, template)
		}
		b.WriteString(rest[:open])

		end := strings.IndexAny(rest[open+1:], "{}")
		if end < 0 || rest[open+1+end] == '{' {
			return "", fmt.Errorf("%w in %q", ErrUnbalancedTemplate, template)
		}
		name := rest[open+1 : open+1+end]
		value, ok := params[name]
		if !ok || name == "" {
			return "", fmt.Errorf("%w %q in %q", ErrUnknownPlaceholder, name, template)
		}
		if value == "" || strings.ContainsAny(value, "{}:*?[]\\!") {
			return "", fmt.Errorf("%w for %q", ErrInvalidParamValue, name)
		}
		b.WriteString(value)
		rest = rest[open+1+end+1:]
	}
}

// Placeholders lists the names of the {name} placeholders in template in
// order of appearance. Unbalanced braces end the scan.
func Placeholders(template string) []string {
	var names []string
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			return names
		}
		end := strings.IndexByte(rest[open+1:], '}')
		if end < 0 {
			return names
		}
		if name := rest[open+1 : open+1+end]; name != "" {
			names = append(names, name)
		}
		rest = rest[open+1+end+1:]
	}
}

// ResolveAll resolves each template in order.
func ResolveAll(templates []string, params map[string]string) ([]string, error) {
	out := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		resolved, err := Resolve(tmpl, params)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

// Satisfies reports whether any claim matches required. Invalid claim
// patterns never match.
func Satisfies(claims []string, required string) bool {
	return Compile(claims).Allows(required)
}
