package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "pages/job-1/fp.html", "text/html", []byte("<html/>"))
	require.NoError(t, err)
	require.Equal(t, "memory://pages/job-1/fp.html", uri)

	data, ok := store.GetObject("pages/job-1/fp.html")
	require.True(t, ok)
	require.Equal(t, []byte("<html/>"), data)

	_, ok = store.GetObject("missing")
	require.False(t, ok)
}

func TestBlobStoreCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("original")
	_, err := store.PutObject(context.Background(), "p", "", payload)
	require.NoError(t, err)

	payload[0] = 'X'
	data, ok := store.GetObject("p")
	require.True(t, ok)
	require.Equal(t, []byte("original"), data)
}
