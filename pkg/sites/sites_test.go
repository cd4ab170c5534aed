package sites

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestMatchWildcard(t *testing.T) {
	targets := []string{
		"http://example.com/",
		"https://sub.domain.org/path?q=1",
		"http://127.0.0.1:8080/x",
	}
	for _, raw := range targets {
		assert.True(t, Match([]string{"*"}, mustParse(t, raw)), raw)
	}
}

func TestMatchSubstringIsPermissive(t *testing.T) {
	u := mustParse(t, "https://example.com/index.html")

	assert.True(t, Match([]string{"example.com"}, u))
	// Substring matching is documented behavior, not a defect.
	assert.True(t, Match([]string{"le.com"}, u))
	// Full-address matching covers path components too.
	assert.True(t, Match([]string{"index.html"}, u))
	assert.True(t, Match([]string{"EXAMPLE.COM"}, u))

	assert.False(t, Match([]string{"other.net"}, u))
}

func TestMatchGlob(t *testing.T) {
	u := mustParse(t, "https://api.example.com/v1/users")

	assert.True(t, Match([]string{"*.example.com"}, u))
	assert.True(t, Match([]string{"api.*"}, u))
	assert.True(t, Match([]string{"https://*/v1/*"}, u))
	assert.False(t, Match([]string{"*.example.org"}, u))
}

func TestMatchAnyPatternWins(t *testing.T) {
	u := mustParse(t, "http://foo.test/")
	assert.True(t, Match([]string{"nope.invalid", "foo.test"}, u))
}

func TestMatchEdgeCases(t *testing.T) {
	u := mustParse(t, "http://example.com/")

	assert.False(t, Match(nil, u))
	assert.False(t, Match([]string{}, u))
	assert.False(t, Match([]string{"", "  "}, u))
	assert.False(t, Match([]string{"example.com"}, nil))
}

func TestMatchString(t *testing.T) {
	assert.True(t, MatchString([]string{"*"}, "http://anything/"))
	assert.True(t, MatchString([]string{"example"}, "http://example.com/"))
	assert.False(t, MatchString([]string{"example"}, "://not-a-url"))
}
