package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeBucket simulates the JSON upload API for a single bucket, honoring the
// ifGenerationMatch=0 precondition.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]string
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.URL.Path, "/upload/storage/v1/b/test-bucket/o") {
		http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
		return
	}
	name := r.URL.Query().Get("name")
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.objects[name]; exists && r.URL.Query().Get("ifGenerationMatch") == "0" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintln(w, `{"error":{"code":412,"message":"conditionNotMet"}}`)
		return
	}
	f.objects[name] = string(body)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"bucket":"test-bucket","name":%q}`+"\n", name)
}

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "test-bucket"})
	require.NoError(t, err)
	return store
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestPutObjectUniquifies(t *testing.T) {
	bucket := &fakeBucket{objects: map[string]string{"downloads/cat.jpg": "old"}}
	store := newTestStore(t, bucket)

	uri, err := store.PutObject(context.Background(), "downloads/cat.jpg", "image/jpeg", strings.NewReader("new"))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/downloads/cat (1).jpg", uri)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	assert.Equal(t, "old", bucket.objects["downloads/cat.jpg"])
	assert.Contains(t, bucket.objects["downloads/cat (1).jpg"], "new")
}

func TestPutObjectServerError(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := store.PutObject(context.Background(), "downloads/x.png", "image/png", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestPutObjectEmptyPath(t *testing.T) {
	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), " ", "image/png", strings.NewReader("x"))
	assert.Error(t, err)
}
