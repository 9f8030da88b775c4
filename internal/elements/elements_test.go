package elements

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
)

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FormatJSON, DetectFormat("list.JSON"))
	assert.Equal(t, FormatYAML, DetectFormat("list.yml"))
	assert.Equal(t, FormatYAML, DetectFormat("list.yaml"))
	assert.Equal(t, FormatCSV, DetectFormat("list.csv"))
	assert.Equal(t, FormatText, DetectFormat("list.txt"))
	assert.Equal(t, FormatText, DetectFormat("names"))
}

func TestParseText(t *testing.T) {
	t.Parallel()

	els, err := Parse(strings.NewReader("# species\nAlpha beta\n\n  Gamma delta  \n"), FormatText)
	require.NoError(t, err)
	assert.Equal(t, []biodumpy.Element{{Query: "Alpha beta"}, {Query: "Gamma delta"}}, els)
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	els, err := Parse(strings.NewReader(`["Alpha beta", {"query": "10.1/x", "name": "paper", "year": 2020}, ""]`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, []biodumpy.Element{
		{Query: "Alpha beta"},
		{Query: "10.1/x", Name: "paper", Fields: map[string]string{"year": "2020"}},
	}, els)

	els, err = Parse(strings.NewReader(`{"elements": ["Alpha"]}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, []biodumpy.Element{{Query: "Alpha"}}, els)

	_, err = Parse(strings.NewReader(`{"names": ["Alpha"]}`), FormatJSON)
	require.ErrorContains(t, err, `"elements" list`)

	_, err = Parse(strings.NewReader(`[{"year": 1}]`), FormatJSON)
	require.ErrorIs(t, err, biodumpy.ErrMissingQuery)
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	doc := `
elements:
  - Alpha beta
  - query: Gamma delta
    region: europe
`
	els, err := Parse(strings.NewReader(doc), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, []biodumpy.Element{
		{Query: "Alpha beta"},
		{Query: "Gamma delta", Fields: map[string]string{"region": "europe"}},
	}, els)

	els, err = Parse(strings.NewReader(""), FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, els)
}

func TestParseCSV(t *testing.T) {
	t.Parallel()

	doc := "query,name,country\nAlpha beta,alpha,PT\n,,\nGamma delta,,\n"
	els, err := Parse(strings.NewReader(doc), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, []biodumpy.Element{
		{Query: "Alpha beta", Name: "alpha", Fields: map[string]string{"country": "PT"}},
		{Query: "Gamma delta"},
	}, els)

	els, err = Parse(strings.NewReader("species\nAlpha\n"), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, []biodumpy.Element{{Query: "Alpha"}}, els)
}

func TestParseUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := Parse(strings.NewReader("x"), Format("xml"))
	require.EqualError(t, err, `unknown element format "xml"`)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "names.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- Alpha\n- Beta\n"), 0o600))

	els, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []biodumpy.Element{{Query: "Alpha"}, {Query: "Beta"}}, els)

	_, err = LoadFile(filepath.Join(dir, "missing.txt"))
	require.ErrorContains(t, err, "open element file")
}
