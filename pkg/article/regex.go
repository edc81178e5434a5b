package article

import (
	"regexp"
	"slices"
	"strings"

	"github.com/go-pkgz/lgr"

	"github.com/synzen/feedtracker/pkg/domain"
)

// evalRegexOps runs the configured regex ops for every eligible placeholder.
// The result maps placeholder name to op name to transformed text.
func evalRegexOps(opts domain.FeedOptions, names []string, values map[string]string) map[string]map[string]string {
	res := map[string]map[string]string{}
	for _, name := range names {
		ops, ok := opts.RegexOps[name]
		if !ok || slices.Contains(opts.DisabledRegex, name) {
			continue
		}
		custom := map[string]string{}
		for _, op := range ops {
			if op.Disabled || op.Name == "" {
				continue
			}
			current, exists := custom[op.Name]
			if !exists {
				current = values[name]
			}
			custom[op.Name] = regexReplace(current, op.Search, op.Replacement)
		}
		if len(custom) > 0 {
			res[name] = custom
		}
	}
	return res
}

// regexReplace applies a single search. Without a replacement the selected match (or group) is
// returned; with a replacement either all matches or only the selected one are replaced.
// Anything that doesn't match leaves the input untouched.
func regexReplace(text string, search domain.RegexSearch, replacement *string) string {
	re, err := compile(search.Regex, search.Flags)
	if err != nil {
		lgr.Printf("[WARN] invalid regex %q: %v", search.Regex, err)
		return text
	}

	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text
	}

	matchIdx, groupIdx := 0, 0
	if search.Match != nil {
		matchIdx = *search.Match
	}
	if search.Group != nil {
		groupIdx = *search.Group
	}
	if matchIdx < 0 || matchIdx >= len(matches) || groupIdx < 0 || groupIdx >= len(matches[matchIdx]) {
		return text
	}
	selected := matches[matchIdx][groupIdx]

	if replacement == nil {
		return selected
	}
	if search.Match == nil && search.Group == nil {
		return re.ReplaceAllString(text, *replacement)
	}
	if selected == "" {
		return text
	}
	return strings.ReplaceAll(text, selected, *replacement)
}

// compile translates js-style flags into inline RE2 flags, "g" is implied and ignored
func compile(expr, flags string) (*regexp.Regexp, error) {
	inline := ""
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			inline += string(f)
		}
	}
	if inline != "" {
		expr = "(?" + inline + ")" + expr
	}
	return regexp.Compile(expr)
}
