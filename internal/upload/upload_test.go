package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUploadSendsMultipartFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		require.Equal(t, "20250102030405.txt", hdr.Filename)
		b, err := io.ReadAll(f)
		require.NoError(t, err)
		require.Equal(t, "dm1lc3M6Ly9hYmM=", string(b))
		_, _ = w.Write([]byte(`{"success":true,"url":"https://files.example.com/20250102030405.txt"}`))
	}))
	defer srv.Close()

	u := &Uploader{URL: srv.URL, Now: func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local) }}
	url, err := u.Upload(context.Background(), "dm1lc3M6Ly9hYmM=")
	require.NoError(t, err)
	require.Equal(t, "https://files.example.com/20250102030405.txt", url)
}

func TestUploadFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"url":"x"}`},
		{"not json", http.StatusOK, `<html>`},
		{"rejected", http.StatusOK, `{"success":false,"error":"too big"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				_, _ = w.Write([]byte(c.body))
			}))
			defer srv.Close()
			_, err := (&Uploader{URL: srv.URL}).Upload(context.Background(), "x")
			require.Error(t, err)
		})
	}
}

func TestUploadURLOnlyAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"url":"https://files.example.com/a.txt"}`))
	}))
	defer srv.Close()
	url, err := (&Uploader{URL: srv.URL}).Upload(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, "https://files.example.com/a.txt", url)
}
