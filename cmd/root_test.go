package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestModulesCommandListsCatalog(t *testing.T) {
	out, err := execute(t, "modules")
	require.NoError(t, err)
	for _, name := range []string{"gbif", "bold", "ncbi", "paperdown"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "json,csv,fasta")
}

func TestDownloadRequiresModule(t *testing.T) {
	cfg := writeConfig(t, "storage:\n  backend: memory\n")
	_, err := execute(t, "download", "--config", cfg, "Alpha")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--module")
}

func TestDownloadRequiresElements(t *testing.T) {
	cfg := writeConfig(t, "storage:\n  backend: memory\n")
	_, err := execute(t, "download", "--config", cfg, "-m", "gbif", "  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no elements")
}

func TestDownloadWritesFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/works/10.1/x" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"DOI": "10.1/x", "title": []string{"A paper"}},
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := writeConfig(t, `
output:
  path: out/{module}/{name}
  progress: false
logging:
  development: false
  level: error
storage:
  local_root: `+dir+`
crossref:
  base_url: `+srv.URL+`
  sleep: 0s
`)

	out, err := execute(t, "download", "--config", cfg, "-m", "crossref", "10.1/x")
	require.NoError(t, err)
	assert.Contains(t, out, "1 elements, 1 records, 0 failures, 1 files")

	data, err := os.ReadFile(filepath.Join(dir, "out", "crossref", "10.1_x.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "A paper")
}

func TestDownloadWritesCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"DOI": "10.1/x", "publisher": "Pensoft", "title": []string{"A paper"}},
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := writeConfig(t, `
output:
  path: out/{module}/{name}
  progress: false
logging:
  level: error
storage:
  local_root: `+dir+`
crossref:
  base_url: `+srv.URL+`
  output_format: csv
  sleep: 0s
`)

	_, err := execute(t, "download", "--config", cfg, "-m", "crossref", "10.1/x")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out", "crossref", "10.1_x.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Pensoft")
	assert.Contains(t, string(data), `"[""A paper""]"`)
}

func TestDownloadReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	cfg := writeConfig(t, `
output:
  path: out/{module}/{name}
  progress: false
logging:
  development: false
  level: error
storage:
  local_root: `+dir+`
crossref:
  base_url: `+srv.URL+`
  sleep: 0s
`)

	out, err := execute(t, "download", "--config", cfg, "-m", "crossref", "10.1/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crossref")
	assert.Contains(t, out, "1 failures, 0 files")
}

func TestCollectElementsMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("# names\nBeta\n\nGamma\n"), 0o600))

	els, err := collectElements([]string{"Alpha", " "}, path)
	require.NoError(t, err)
	require.Len(t, els, 3)
	assert.Equal(t, "Alpha", els[0].Query)
	assert.Equal(t, "Gamma", els[2].Query)
}
