package pricing

import "strings"

// lookup resolves a model name against the table, tolerating the provider
// prefixes and separator styles that differ between what callers record
// (e.g. "anthropic/claude-3-5-sonnet") and what the pricing sources key on
// (e.g. "claude-3-5-sonnet-20241022").
func lookup(table map[string]Entry, model string) (Entry, bool) {
	key := strings.ToLower(strings.TrimSpace(model))
	if entry, ok := table[key]; ok {
		return entry, true
	}

	queryTokens := normalizeKey(key)
	for token := range queryTokens {
		if entry, ok := table[token]; ok {
			return entry, true
		}
	}

	for candidate, entry := range table {
		if intersects(queryTokens, normalizeKey(candidate)) {
			return entry, true
		}
	}
	return Entry{}, false
}

// normalizeKey expands a model name into the set of aliases it may be keyed
// under: the bare suffix after a provider prefix, separator-swapped variants,
// and date-suffix-trimmed prefixes.
func normalizeKey(value string) map[string]struct{} {
	value = strings.ToLower(strings.TrimSpace(value))
	tokens := make(map[string]struct{})
	if value == "" {
		return tokens
	}
	tokens[value] = struct{}{}

	for _, sep := range []string{":", "/", "."} {
		if strings.Contains(value, sep) {
			parts := strings.Split(value, sep)
			if last := parts[len(parts)-1]; last != "" {
				tokens[last] = struct{}{}
			}
			tokens[strings.Join(parts, ".")] = struct{}{}
		}
	}
	tokens[strings.ReplaceAll(value, ":", ".")] = struct{}{}
	tokens[strings.ReplaceAll(value, "/", ".")] = struct{}{}
	tokens[strings.ReplaceAll(value, ":", "/")] = struct{}{}

	if strings.Contains(value, "-") {
		segments := strings.Split(value, "-")
		for i := len(segments); i > 0; i-- {
			if candidate := strings.Join(segments[:i], "-"); candidate != "" {
				tokens[candidate] = struct{}{}
			}
		}
	}

	delete(tokens, "")
	return tokens
}

func intersects(a, b map[string]struct{}) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for token := range a {
		if _, ok := b[token]; ok {
			return true
		}
	}
	return false
}
