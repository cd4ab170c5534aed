package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSourceWithoutMarkers(t *testing.T) {
	delivery, content := SplitSource("  return body;  ")
	assert.Equal(t, "return body;", delivery)
	assert.Empty(t, content)
}

func TestSplitSourceWithRegion(t *testing.T) {
	src := `return body.toUpperCase();
// begin content-context
console.log('inside page', url);
// end content-context
`
	delivery, content := SplitSource(src)
	assert.Equal(t, "return body.toUpperCase();", delivery)
	assert.Equal(t, "console.log('inside page', url);", content)
}

func TestSplitSourceRegionOnly(t *testing.T) {
	src := `// begin content-context
doThing();
// end content-context`
	delivery, content := SplitSource(src)
	assert.Empty(t, delivery)
	assert.Equal(t, "doThing();", content)
}

func TestSplitSourceUnbalancedMarkers(t *testing.T) {
	src := "// begin content-context\nno closing marker"
	delivery, content := SplitSource(src)
	assert.Equal(t, src, delivery)
	assert.Empty(t, content)
}

func TestSplitSourceOnlyFirstRegionRecognized(t *testing.T) {
	src := `a();
// begin content-context
one();
// end content-context
b();
// begin content-context
two();
// end content-context`
	delivery, content := SplitSource(src)
	assert.Equal(t, "one();", content)
	assert.Contains(t, delivery, "a();")
	assert.Contains(t, delivery, "b();")
	// The second region stays in delivery code verbatim.
	assert.Contains(t, delivery, "two();")
}

func TestNewValidation(t *testing.T) {
	_, err := New("", []string{"*"}, "return body;")
	assert.Error(t, err, "name is required")

	_, err = New("p", nil, "return body;")
	assert.Error(t, err, "empty scope is invalid")

	_, err = NewOfKind("p", []string{"*"}, "x", Kind("lua"))
	assert.Error(t, err)

	d, err := New("p", []string{"*"}, "return body;")
	require.NoError(t, err)
	assert.Equal(t, "return body;", d.DeliveryCode())
	assert.True(t, d.HasCode())
}

func TestHasCode(t *testing.T) {
	d, err := New("blank", []string{"*"}, "   \n\t")
	require.NoError(t, err)
	assert.False(t, d.HasCode())

	d, err = New("content-only", []string{"*"},
		"// begin content-context\nx();\n// end content-context")
	require.NoError(t, err)
	assert.True(t, d.HasCode())
}
