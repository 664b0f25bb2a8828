package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutAndGetObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "captures/a/1.html", "text/html", []byte("body"))
	require.NoError(t, err)
	require.Equal(t, "memory://captures/a/1.html", uri)

	data, ok := store.GetObject("captures/a/1.html")
	require.True(t, ok)
	require.Equal(t, "body", string(data))
	require.Equal(t, 1, store.Len())

	_, ok = store.GetObject("captures/missing")
	require.False(t, ok)
}

func TestPutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("original")
	_, err := store.PutObject(context.Background(), "p", "", payload)
	require.NoError(t, err)

	payload[0] = 'X'
	data, ok := store.GetObject("p")
	require.True(t, ok)
	require.Equal(t, "original", string(data))
}
