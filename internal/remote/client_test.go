package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/fieldsync/backend/internal/errors"
)

func TestNew_validation(t *testing.T) {
	_, err := New("")
	assert.True(t, errors.Is(err, errors.ErrSyncNotConfigured))

	_, err = New("not a url")
	assert.True(t, errors.Is(err, errors.ErrInvalid))

	c, err := New("https://api.example.com/v1/", WithBearerToken("tok"), WithHeader("X-Device-Id", "d1"))
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1", c.BaseURL)
	assert.Equal(t, "Bearer tok", c.Headers.Get("Authorization"))
	assert.Equal(t, "d1", c.Headers.Get("X-Device-Id"))
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/visitas", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "org-1", r.Header.Get("X-Organization-Id"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "v1", body["id"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"remote-9"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/api", WithBearerToken("tok"))
	require.NoError(t, err)

	var out struct {
		ID string `json:"id"`
	}
	headers := http.Header{"X-Organization-Id": {"org-1"}}
	require.NoError(t, c.PostJSON(context.Background(), "visitas", headers, map[string]string{"id": "v1"}, &out))
	assert.Equal(t, "remote-9", out.ID)
}

func TestPostJSON_non2xxIsRemoteError(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusConflict, http.StatusServiceUnavailable} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", status)
		}))

		c, err := New(srv.URL)
		require.NoError(t, err)
		err = c.PostJSON(context.Background(), "/visitas", nil, map[string]string{}, nil)
		srv.Close()

		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrSyncRemote), "status %d: %v", status, err)
		assert.True(t, errors.IsRetryable(err))
		assert.Equal(t, status, StatusCode(err))
	}
}

func TestPostJSON_emptyResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	var out map[string]any
	assert.NoError(t, c.PostJSON(context.Background(), "/acciones", nil, struct{}{}, &out))
	assert.Nil(t, out)
}

func TestPostJSON_malformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	var out map[string]any
	err = c.PostJSON(context.Background(), "/visitas", nil, struct{}{}, &out)
	assert.True(t, errors.Is(err, errors.ErrSyncRemote), "got %v", err)
}

func TestPostJSON_unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := New(url)
	require.NoError(t, err)
	err = c.PostJSON(context.Background(), "/visitas", nil, struct{}{}, nil)
	assert.True(t, errors.IsRetryable(err), "got %v", err)
}

func TestPostJSON_timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	err = c.PostJSON(context.Background(), "/visitas", nil, struct{}{}, nil)
	assert.True(t, errors.Is(err, errors.ErrSyncTimeout), "got %v", err)
}

func TestPostMultipart(t *testing.T) {
	jpeg := []byte("\xff\xd8\xff\xe0 jpeg payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, jpeg, data)
		assert.Equal(t, "f1.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		var meta map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("metadata")), &meta))
		assert.Equal(t, "f1", meta["id"])

		_, _ = w.Write([]byte(`{"url":"https://cdn.example.com/f1.jpg"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	meta, err := JSONPart("metadata", map[string]string{"id": "f1"})
	require.NoError(t, err)
	var out struct {
		URL string `json:"url"`
	}
	parts := []Part{FilePart("file", "f1.jpg", "", jpeg), meta}
	require.NoError(t, c.PostMultipart(context.Background(), "/evidencias/foto", nil, parts, &out))
	assert.Equal(t, "https://cdn.example.com/f1.jpg", out.URL)
}

func TestPing(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	assert.NoError(t, c.Ping(context.Background(), "/health"))

	healthy.Store(false)
	assert.Error(t, c.Ping(context.Background(), "/health"))
}
