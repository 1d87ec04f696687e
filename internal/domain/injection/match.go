package injection

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// compiled patterns, keyed by source
var globs sync.Map

// Matches reports whether url satisfies any of the patterns
func Matches(patterns []string, url string) bool {
	for _, p := range patterns {
		if MatchPattern(p, url) {
			return true
		}
	}
	return false
}

// MatchPattern reports whether url satisfies a single pattern.
// '*' matches any run of characters, including '/'. Every other character,
// '?' and '[' included, is literal.
func MatchPattern(pattern, url string) bool {
	if pattern == AllURLs {
		return true
	}
	g, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return g.Match(url)
}

func compilePattern(pattern string) (glob.Glob, error) {
	if g, ok := globs.Load(pattern); ok {
		return g.(glob.Glob), nil
	}
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = glob.QuoteMeta(part)
	}
	// no separators, so '*' crosses '/'
	g, err := glob.Compile(strings.Join(parts, "*"))
	if err != nil {
		return nil, err
	}
	globs.Store(pattern, g)
	return g, nil
}
