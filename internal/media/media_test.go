package media

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/common/config"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pics/cat.gif", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write([]byte("GIF89a..."))
	})
	mux.HandleFunc("/raw", func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("plain"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := newImageServer(t)
	l := NewLoader(zap.NewNop(), &config.MediaConfig{MaxBytes: 32})

	m, err := l.Fetch(context.Background(), srv.URL+"/pics/cat.gif")
	require.NoError(t, err)
	assert.Equal(t, "image/gif", m.MimeType)
	assert.Equal(t, "cat.gif", m.Filename)
	assert.Equal(t, []byte("GIF89a..."), m.Data)

	m, err = l.Fetch(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, DefaultFilename, m.Filename)
	assert.Equal(t, "image/png", m.MimeType)

	m, err = l.Fetch(context.Background(), srv.URL+"/raw")
	require.NoError(t, err)
	assert.Equal(t, DefaultMimeType, m.MimeType)
	assert.Equal(t, "raw", m.Filename)
}

func TestFetchErrors(t *testing.T) {
	srv := newImageServer(t)
	l := NewLoader(zap.NewNop(), &config.MediaConfig{MaxBytes: 32})

	_, err := l.Fetch(context.Background(), srv.URL+"/big")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = l.Fetch(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "unexpected status 404")

	_, err = l.Fetch(context.Background(), "ftp://example.com/a.png")
	assert.Error(t, err)

	_, err = l.Fetch(context.Background(), "::not a url")
	assert.Error(t, err)
}

func uploadHeader(t *testing.T, filename, contentType string, data []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="imageFile"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := multipart.NewReader(&body, w.Boundary())
	form, err := r.ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	require.Len(t, form.File["imageFile"], 1)
	return form.File["imageFile"][0]
}

func TestFromUpload(t *testing.T) {
	l := NewLoader(zap.NewNop(), &config.MediaConfig{MaxBytes: 1024})

	m, err := l.FromUpload(uploadHeader(t, "photo.jpg", "image/jpeg", []byte("jpegdata")))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", m.MimeType)
	assert.Equal(t, "photo.jpg", m.Filename)
	assert.Equal(t, []byte("jpegdata"), m.Data)

	m, err = l.FromUpload(uploadHeader(t, "noext", "", pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "image/png", m.MimeType)
}

func TestFromUploadTooLarge(t *testing.T) {
	l := NewLoader(zap.NewNop(), &config.MediaConfig{MaxBytes: 4})
	_, err := l.FromUpload(uploadHeader(t, "a.png", "image/png", pngHeader))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestNewLoaderDefaults(t *testing.T) {
	l := NewLoader(zap.NewNop(), &config.MediaConfig{})
	assert.Equal(t, DefaultMaxBytes, l.maxBytes)
	assert.Equal(t, DefaultFetchTimeout, l.client.Timeout)
}
