// Package config loads the chatstream service configuration.
package config

import (
	"os"
	"regexp"
	"strings"
)

// placeholder matches ${NAME} and ${NAME:-fallback}. A bare $NAME is
// left alone so literal dollar signs survive.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// ExpandEnv substitutes environment placeholders in a config document.
// An unset or empty variable takes its fallback, or the empty string
// when none is given; a missing secret then fails Validate
// (e.g. provider.api_key).
func ExpandEnv(input string) string {
	matches := placeholder.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return input
	}

	var b strings.Builder
	b.Grow(len(input))
	last := 0
	for _, m := range matches {
		b.WriteString(input[last:m[0]])
		last = m[1]

		if v := os.Getenv(input[m[2]:m[3]]); v != "" {
			b.WriteString(v)
		} else if m[4] >= 0 {
			b.WriteString(strings.TrimPrefix(input[m[4]:m[5]], ":-"))
		}
	}
	b.WriteString(input[last:])
	return b.String()
}
