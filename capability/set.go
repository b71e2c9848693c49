package capability

import "github.com/gobwas/glob"

type compiledClaim struct {
	pattern string
	glob    glob.Glob
}

// Set is a compiled claim set. The zero value allows nothing.
type Set struct {
	claims []compiledClaim
}

// Compile builds a Set from claims, skipping empty or invalid patterns.
func Compile(claims []string) Set {
	compiled := make([]compiledClaim, 0, len(claims))
	for _, claim := range claims {
		if claim == "" {
			continue
		}
		g, err := glob.Compile(claim, separator)
		if err != nil {
			continue
		}
		compiled = append(compiled, compiledClaim{pattern: claim, glob: g})
	}
	return Set{claims: compiled}
}

// Allows reports whether some claim in the set matches required.
func (s Set) Allows(required string) bool {
	if required == "" {
		return false
	}
	for _, claim := range s.claims {
		if claim.glob.Match(required) {
			return true
		}
	}
	return false
}

// Patterns returns a copy of the compiled claim strings.
func (s Set) Patterns() []string {
	patterns := make([]string, len(s.claims))
	for i, c := range s.claims {
		patterns[i] = c.pattern
	}
	return patterns
}

// Len is the number of usable claims.
func (s Set) Len() int {
	return len(s.claims)
}
