package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "pages/abc.html", "text/html", bytes.NewReader([]byte("content")))
	require.NoError(t, err)
	require.Equal(t, "memory://pages/abc.html", uri)

	got, ok := store.Object("pages/abc.html")
	require.True(t, ok)
	got[0] = 'C'
	again, _ := store.Object("pages/abc.html")
	require.Equal(t, "content", string(again))
	require.Equal(t, []string{"pages/abc.html"}, store.Paths())

	_, err = store.PutObject(context.Background(), "", "text/html", bytes.NewReader(nil))
	require.Error(t, err)
}
