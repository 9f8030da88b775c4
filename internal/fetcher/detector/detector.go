// Package detector decides when a page fetched over plain HTTP has to be
// rendered in a browser before its links can be trusted.
package detector

import (
	"bytes"
	"net/http"
)

const defaultMinBytes = 2048

// Detector is a rule-based check for script-driven pages.
type Detector struct {
	// MinBytes is the size below which a script-heavy page is treated as a
	// shell waiting for JavaScript.
	MinBytes int
}

// New creates a Detector. A zero minBytes uses 2048.
func New(minBytes int) *Detector {
	if minBytes <= 0 {
		minBytes = defaultMinBytes
	}
	return &Detector{MinBytes: minBytes}
}

var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// Publisher landing pages that bounce through a script before showing the
// article.
var redirectMarkers = [][]byte{
	[]byte("window.location"),
	[]byte("location.replace("),
	[]byte(`http-equiv="refresh"`),
	[]byte("enable javascript"),
	[]byte("javascript is disabled"),
}

// NeedsRender reports whether a 200 response looks like it needs a
// browser. Error responses never do; they are handled by the caller.
func (d *Detector) NeedsRender(status int, body []byte) bool {
	if status != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range redirectMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	if len(body) < d.MinBytes && ScriptShare(lower) >= 25 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ScriptShare is the percentage of lower (a lowercased document) covered
// by <script> elements. An unclosed script runs to the end.
func ScriptShare(lower []byte) int {
	total := len(lower)
	if total == 0 {
		return 0
	}
	openTag := []byte("<script")
	closeTag := []byte("</script>")
	covered := 0
	pos := 0
	for pos < total {
		start := bytes.Index(lower[pos:], openTag)
		if start == -1 {
			break
		}
		start += pos
		end := bytes.Index(lower[start:], closeTag)
		if end == -1 {
			covered += total - start
			break
		}
		end += start + len(closeTag)
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
