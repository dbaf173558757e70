package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingTransportWritesOneLinePerFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	logPath := filepath.Join(t.TempDir(), "fetch.log")
	lt, err := NewLoggingTransport(nil, logPath, true)
	require.NoError(t, err)
	client := &http.Client{Transport: lt}

	for _, p := range []string{"/a.png", "/missing"} {
		resp, err := client.Get(srv.URL + p)
		require.NoError(t, err)
		resp.Body.Close()
	}
	require.NoError(t, lt.Close())

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "GET", entries[0]["method"])
	assert.Equal(t, float64(200), entries[0]["status"])
	assert.Equal(t, "image/png", entries[0]["content_type"])
	assert.Contains(t, entries[0], "request")
	assert.Equal(t, float64(404), entries[1]["status"])
	assert.Equal(t, "warning", entries[1]["level"])
}
