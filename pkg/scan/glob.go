// The cache admin port lists keys matching Redis-style glob patterns; the following module implements glob matching.
// Cache keys are request paths, so '/' is folded into an ordinary character before matching: `*` spans path
// separators the way it does in Redis' KEYS.

package scan

import (
	"iter"
	"strings"

	"v.io/v23/glob"
)

// slashPlaceholder stands in for '/' so a key is matched as a single glob element.
const slashPlaceholder = "\x1f"

// MatchGlob yields the `keys` matching the given glob `pattern`. An invalid pattern matches nothing.
func MatchGlob(pattern string, keys iter.Seq[string]) iter.Seq[string] {
	parsedPattern, err := glob.Parse(strings.ReplaceAll(pattern, "/", slashPlaceholder))
	if err != nil { // If pattern is invalid, return empty sequence.
		return func(yield func(string) bool) {}
	}
	head := parsedPattern.Head()
	return func(yield func(string) bool) {
		for key := range keys {
			if head.Match(strings.ReplaceAll(key, "/", slashPlaceholder)) {
				if !yield(key) {
					return
				}
			}
		}
	}
}
