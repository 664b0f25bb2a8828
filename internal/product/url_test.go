package product

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	t.Parallel()

	valid := []string{
		"https://example.com/faucets/123",
		"http://shop.example.org",
		"https://example.com/p?id=1&x=2",
	}
	for _, u := range valid {
		require.NoError(t, ValidateURL(u), u)
	}

	invalid := []string{
		"",
		"not-a-url",
		"ftp://example.com/file",
		"javascript:alert(1)",
		"https://",
		"/relative/path",
	}
	for _, u := range invalid {
		require.Error(t, ValidateURL(u), u)
	}
}

func TestNormalizeURLEquivalentSpellings(t *testing.T) {
	t.Parallel()

	a, err := NormalizeURL("HTTPS://Example.COM:443/products/?b=2&a=1")
	require.NoError(t, err)
	b, err := NormalizeURL("https://example.com/products?a=1&b=2#reviews")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestHostBlocklist(t *testing.T) {
	t.Parallel()

	bl := NewHostBlocklist([]string{"localhost", "*.internal", " Example.COM "})
	require.True(t, bl.Blocked("http://localhost:8080/x"))
	require.True(t, bl.Blocked("https://svc.internal/page"))
	require.True(t, bl.Blocked("https://example.com/p"))
	require.False(t, bl.Blocked("https://example.org/p"))

	require.Nil(t, NewHostBlocklist(nil))
	require.False(t, (*HostBlocklist)(nil).Blocked("https://anything.example"))
}
