package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNeedsRender_EmptyBody(t *testing.T) {
	t.Parallel()

	require.True(t, New(100).NeedsRender(http.StatusOK, []byte("  \n")))
}

func TestNeedsRender_ShellMarkers(t *testing.T) {
	t.Parallel()

	require.True(t, New(100).NeedsRender(http.StatusOK, []byte(`<div id="__next"></div>`)))
	require.True(t, New(100).NeedsRender(http.StatusOK, []byte(`<DIV ID="root"></DIV>`)))
}

func TestNeedsRender_ScriptRedirect(t *testing.T) {
	t.Parallel()

	body := `<html><body><p>Redirecting</p><script>window.location = "/article"</script>` +
		strings.Repeat("<p>padding</p>", 300) + `</body></html>`
	require.True(t, New(100).NeedsRender(http.StatusOK, []byte(body)))
}

func TestNeedsRender_ScriptDensity(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><script>var a=1;</script><p>t</p></html>`)
	require.True(t, New(1000).NeedsRender(http.StatusOK, body))
	require.False(t, New(10).NeedsRender(http.StatusOK, body))
}

func TestNeedsRender_StaticPage(t *testing.T) {
	t.Parallel()

	body := `<html><body><a href="/paper.pdf">PDF</a>` + strings.Repeat("<p>text</p>", 300) + `</body></html>`
	require.False(t, New(0).NeedsRender(http.StatusOK, []byte(body)))
}

func TestNeedsRender_IgnoresErrors(t *testing.T) {
	t.Parallel()

	require.False(t, New(100).NeedsRender(http.StatusNotFound, nil))
}

func TestScriptShare(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, ScriptShare(nil))
	require.Equal(t, 0, ScriptShare([]byte("<p>no scripts</p>")))
	require.Equal(t, 100, ScriptShare([]byte("<script>x</script>")))
	require.Equal(t, 50, ScriptShare([]byte("<p>abcdefghi</p><script>unclosed")))
}
