package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cleanstep/internal/steperr"
)

func TestPutSendsFile(t *testing.T) {
	var gotMethod, gotType, gotBody string
	var gotLen int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		gotLen = r.ContentLength
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "cleaned_data.bin")
	require.NoError(t, os.WriteFile(path, []byte("price\n1\n"), 0o644))

	err := New(0).Put(context.Background(), path, srv.URL+"/bucket/key")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "application/octet-stream", gotType)
	assert.Equal(t, int64(8), gotLen)
	assert.Equal(t, "price\n1\n", gotBody)
}

func TestPutFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "x.csv")
	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0o644))

	err := New(0).Put(context.Background(), path, srv.URL)
	assert.ErrorIs(t, err, steperr.ErrRegistration)
	assert.Contains(t, err.Error(), "403")

	err = New(0).Put(context.Background(), filepath.Join(t.TempDir(), "missing"), srv.URL)
	assert.ErrorIs(t, err, steperr.ErrIO)
}
