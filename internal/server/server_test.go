package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openmined/artifactsync/internal/fingerprint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, config *Config) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(config)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestServer_PluginFiles(t *testing.T) {
	_, ts := newTestServer(t, &Config{})
	base := ts.URL + "/public/api/plugins/geo/contents/"

	status, _ := do(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, http.MethodPut, base+"python-lib/geo.py", "print(1)")
	require.Equal(t, http.StatusOK, status)

	status, body := do(t, http.MethodGet, base+"python-lib/geo.py", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "print(1)", body)

	status, body = do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, status)
	var listing []listEntry
	require.NoError(t, json.Unmarshal([]byte(body), &listing))
	require.Len(t, listing, 1)
	assert.Equal(t, "python-lib/geo.py", listing[0].Path)
	assert.Equal(t, int64(8), listing[0].Size)
	assert.Equal(t, fingerprint.Sum([]byte("print(1)")).String(), listing[0].Fingerprint)

	status, body = do(t, http.MethodGet, ts.URL+"/public/api/plugins/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[{"id":"geo"}]`, body)

	status, _ = do(t, http.MethodDelete, base+"python-lib/geo.py", "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = do(t, http.MethodDelete, base+"python-lib/geo.py", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = do(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, body)
}

func TestServer_ListingWithoutFingerprints(t *testing.T) {
	srv, ts := newTestServer(t, &Config{OmitFingerprints: true})
	require.NoError(t, srv.Store().WriteFile("library", "PROJ", "python/a.py", []byte("a")))

	status, body := do(t, http.MethodGet, ts.URL+"/public/api/projects/PROJ/libraries/contents/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[{"path":"python/a.py","size":1}]`, body)
}

func TestServer_Recipes(t *testing.T) {
	_, ts := newTestServer(t, &Config{})
	url := ts.URL + "/public/api/projects/PROJ/recipes/compute"

	status, _ := do(t, http.MethodGet, url, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body := do(t, http.MethodPut, url, `{"payload":"print(1)","type":"python"}`)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"versionTag":{"versionNumber":1}}`, body)

	status, body = do(t, http.MethodPut, url, `{"payload":"print(2)"}`)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"versionTag":{"versionNumber":2}}`, body)

	status, body = do(t, http.MethodGet, url, "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"recipe":{"name":"compute","type":"python","versionTag":{"versionNumber":2}},"payload":"print(2)"}`, body)

	status, body = do(t, http.MethodGet, ts.URL+"/public/api/projects/PROJ/recipes/", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[{"name":"compute","type":"python"}]`, body)

	status, _ = do(t, http.MethodPut, url, `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodDelete, url, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = do(t, http.MethodGet, url, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_APIKey(t *testing.T) {
	_, ts := newTestServer(t, &Config{APIKey: "secret"})

	status, _ := do(t, http.MethodGet, ts.URL+"/public/api/plugins/", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/public/api/plugins/", nil)
	require.NoError(t, err)
	req.SetBasicAuth("secret", "")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Faults(t *testing.T) {
	srv, ts := newTestServer(t, &Config{})
	srv.Faults().FailNext(2, http.StatusServiceUnavailable)

	for i := 0; i < 2; i++ {
		status, _ := do(t, http.MethodGet, ts.URL+"/public/api/plugins/", "")
		assert.Equal(t, http.StatusServiceUnavailable, status)
	}
	status, _ := do(t, http.MethodGet, ts.URL+"/public/api/plugins/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(3), srv.Faults().Requests())
}

func TestServer_RateLimit(t *testing.T) {
	_, ts := newTestServer(t, &Config{RateLimit: "2-M"})

	for i := 0; i < 2; i++ {
		status, _ := do(t, http.MethodGet, ts.URL+"/healthz", "")
		assert.Equal(t, http.StatusOK, status)
	}
	status, _ := do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestServer_InvalidConfig(t *testing.T) {
	_, err := New(&Config{RateLimit: "lots"})
	assert.Error(t, err)
}
