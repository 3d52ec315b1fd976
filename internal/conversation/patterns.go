package conversation

import "strings"

const lookupPrefix = "task:"

type pattern int

const (
	patternNone pattern = iota
	patternLookup
	patternCreate
	patternSearch
)

func classify(text string) pattern {
	switch {
	case strings.HasPrefix(text, lookupPrefix):
		return patternLookup
	case strings.Contains(text, "|"):
		return patternCreate
	case strings.HasPrefix(text, "#"):
		return patternSearch
	}
	return patternNone
}

// parseCommand returns the command name of "/name", "/name@bot" or
// "/name args". Arguments are ignored.
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.TrimPrefix(text, "/")
	if i := strings.IndexAny(name, " \t\n"); i >= 0 {
		name = name[:i]
	}
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}

// parseTags splits "#a, #b" into its non-empty tags.
func parseTags(text string) []string {
	var tags []string
	for _, part := range strings.Split(strings.TrimLeft(text, "#"), ",") {
		tag := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(part), "#"))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func normalizeUsername(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "@")
}

// sameUsername compares chat usernames the way Telegram does: case-insensitive,
// with an optional leading "@".
func sameUsername(a, b string) bool {
	a, b = normalizeUsername(a), normalizeUsername(b)
	return a != "" && strings.EqualFold(a, b)
}
