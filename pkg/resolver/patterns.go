package resolver

import (
	"regexp"
	"strings"
)

// Matcher extracts a product identifier from one URL shape.
type Matcher struct {
	Name    string
	Pattern *regexp.Regexp
	// Group is the capture group holding the identifier.
	Group int
}

// Match returns the identifier captured by m, if any.
func (m Matcher) Match(u string) (string, bool) {
	groups := m.Pattern.FindStringSubmatch(u)
	if len(groups) <= m.Group || groups[m.Group] == "" {
		return "", false
	}
	return groups[m.Group], true
}

// IdentifierPatterns lists the product URL shapes in priority order. The
// first pattern that matches decides the identifier; later patterns are not
// consulted.
var IdentifierPatterns = []Matcher{
	{Name: "product_path", Pattern: regexp.MustCompile(`/product/(\d+)/(\d+)`), Group: 2},
	{Name: "slug_suffix", Pattern: regexp.MustCompile(`-i\.(\d+)\.(\d+)`), Group: 2},
	{Name: "bs_path", Pattern: regexp.MustCompile(`/bs/(\d+)/(\d+)`), Group: 2},
}

// StripQuery drops the query string and fragment from u.
func StripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	return u
}

// ExtractIdentifier runs matchers, in order, against u with its query
// stripped. It returns the identifier and the name of the matcher that
// produced it.
func ExtractIdentifier(u string, matchers []Matcher) (id, matcher string, ok bool) {
	clean := StripQuery(u)
	for _, m := range matchers {
		if id, ok := m.Match(clean); ok {
			return id, m.Name, true
		}
	}
	return "", "", false
}
