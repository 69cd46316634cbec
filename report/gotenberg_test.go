package report

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHTMLSendsDocumentAndPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, convertPath, r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "true", r.FormValue("landscape"))
		assert.Equal(t, "11.7", r.FormValue("paperWidth"))
		file, header, err := r.FormFile("files")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "index.html", header.Filename)
		content, _ := io.ReadAll(file)
		assert.Equal(t, "<html>ok</html>", string(content))
		_, _ = w.Write([]byte("%PDF"))
	}))
	defer srv.Close()

	pdf, err := NewClient(srv.URL + "/").RenderHTML(context.Background(), "<html>ok</html>")
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(pdf))
}

func TestRenderHTMLStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chromium crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).RenderHTML(context.Background(), "<html></html>")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Status)
	assert.Contains(t, statusErr.Error(), "chromium crashed")
}

func TestPingHandler(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, healthPath, r.URL.Path)
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	h := NewHandler(NewClient(srv.URL), nil)
	rr := httptest.NewRecorder()
	h.ping(rr, httptest.NewRequest(http.MethodGet, "/report/ping", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ok"`)

	down.Store(true)
	rr = httptest.NewRecorder()
	h.ping(rr, httptest.NewRequest(http.MethodGet, "/report/ping", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
