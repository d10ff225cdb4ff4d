package gcs_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/product-image-harvester/internal/storage/gcs"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	data := []byte("image-bytes")
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/images/o")
		assert.Equal(t, "harvest/acme/acme_1.jpg", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(data))
		assert.Contains(t, string(body), "image/jpeg")
		fmt.Fprintln(w, `{"name":"harvest/acme/acme_1.jpg","bucket":"images"}`)
	})

	store, err := gcs.New(newTestClient(t, handler), gcs.Config{Bucket: "images", Prefix: "/harvest/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "acme/acme_1.jpg", "image/jpeg", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "gs://images/harvest/acme/acme_1.jpg", uri)
	assert.NoError(t, store.Close())
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store, err := gcs.New(newTestClient(t, handler), gcs.Config{Bucket: "images"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "acme/a.jpg", "image/jpeg", bytes.NewReader([]byte("x")))
	assert.Error(t, err)

	_, err = store.PutObject(context.Background(), " ", "image/jpeg", bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestOpenFailsOnMissingBucket(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{"error":{"code":404,"message":"Not Found"}}`)
	}))
	t.Cleanup(server.Close)

	_, err := gcs.Open(context.Background(), gcs.Config{Bucket: "missing"}, nil,
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	assert.Error(t, err)
}
