package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "acme/acme_1.jpg", "image/jpeg", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://acme/acme_1.jpg", uri)

	payload[0] = 'C'
	obj, ok := store.Get("acme/acme_1.jpg")
	require.True(t, ok)
	assert.Equal(t, "content", string(obj.Data))
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Equal(t, []string{"acme/acme_1.jpg"}, store.Paths())
	assert.Equal(t, 1, store.Len())
}
