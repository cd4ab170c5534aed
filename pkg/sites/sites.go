// Package sites implements the scope predicate that decides whether a
// target URL falls under a plugin's declared site patterns.
package sites

import (
	"net/url"
	"regexp"
	"strings"
)

// Wildcard is the pattern token that matches every site.
const Wildcard = "*"

// Match reports whether target belongs to any of the given scope patterns.
//
// A pattern equal to Wildcard matches unconditionally. A pattern containing
// the wildcard token is compiled into a case-insensitive glob ("*" matching
// any run of characters) and tested against both the hostname and the full
// address. A pattern without a wildcard matches if the hostname or the full
// address contains it as a case-insensitive substring; this is deliberately
// permissive ("le.com" matches "example.com").
//
// Match is pure and safe for concurrent use.
func Match(patterns []string, target *url.URL) bool {
	if target == nil {
		return false
	}
	host := strings.ToLower(target.Hostname())
	full := strings.ToLower(target.String())

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p == Wildcard {
			return true
		}
		if strings.Contains(p, Wildcard) {
			re, err := compileGlob(p)
			if err != nil {
				continue
			}
			if re.MatchString(host) || re.MatchString(full) {
				return true
			}
			continue
		}
		needle := strings.ToLower(p)
		if strings.Contains(host, needle) || strings.Contains(full, needle) {
			return true
		}
	}
	return false
}

// MatchString is Match for a raw URL string. Unparseable targets never match.
func MatchString(patterns []string, rawurl string) bool {
	u, err := url.Parse(rawurl)
	if err != nil {
		return false
	}
	return Match(patterns, u)
}

// compileGlob turns a wildcard pattern into an unanchored case-insensitive
// regular expression. Only "*" is special; everything else is literal.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?i)")
	for i, part := range strings.Split(pattern, Wildcard) {
		if i > 0 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	return regexp.Compile(b.String())
}
