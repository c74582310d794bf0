package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputHash_StableAcrossWhitespaceAndCase(t *testing.T) {
	h1 := InputHash("  HP CF217A  ")
	h2 := InputHash("hp cf217a")
	assert.Equal(t, h1, h2)
}

func TestInputHash_DiffersForDifferentInput(t *testing.T) {
	assert.NotEqual(t, InputHash("HP CF217A"), InputHash("Brother TN-2420"))
}

func TestURLHash_IgnoresFragmentAndQueryOrder(t *testing.T) {
	h1 := URLHash("https://Example.com/widget?b=2&a=1#section")
	h2 := URLHash("https://example.com/widget?a=1&b=2")
	assert.Equal(t, h1, h2)
}

func TestURLHash_LowercasesHostOnly(t *testing.T) {
	h1 := URLHash("https://EXAMPLE.com/Path")
	h2 := URLHash("https://example.com/Path")
	assert.Equal(t, h1, h2, "host should be lowercased but path case preserved in comparison basis")
	assert.NotEqual(t, URLHash("https://example.com/Path"), URLHash("https://example.com/path"), "path case should be preserved")
}

func TestCanonicalizeURL_UnparsableFallsBackToLiteral(t *testing.T) {
	got := CanonicalizeURL("  NOT A URL %zz  ")
	assert.Equal(t, "not a url %zz", got)
}

func TestNewID_Unique(t *testing.T) {
	a := NewID()
	b := NewID()
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
}

func TestFixedClock(t *testing.T) {
	at := Fixed{}.Now()
	c := Fixed{At: at}
	assert.Equal(t, at, c.Now())
	assert.Equal(t, at, c.Now())
}
