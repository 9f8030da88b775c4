package biodumpy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		module   string
		item     string
		format   OutputFormat
		want     string
	}{
		{"default", "", "gbif", "Apis mellifera", FormatJSON, "downloads/2024-05-01/gbif/Apis mellifera.json"},
		{"doi", "out/{module}/{name}", "crossref", "10.1038/nature12373", FormatJSON, "out/crossref/10.1038_nature12373.json"},
		{"extension kept", "x/{name}.csv", "bold", "Bufo", FormatCSV, "x/Bufo.csv"},
		{"fasta", "{date}/{name}", "ncbi", "a:b", FormatFASTA, "2024-05-01/a_b.fasta"},
		{"dots", "{name}", "ncbi", "..", FormatJSON, "_.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RenderPath(tt.template, "2024-05-01", tt.module, tt.item, tt.format))
		})
	}
}

func TestSplitTemplateRoot(t *testing.T) {
	t.Parallel()

	root, rel := SplitTemplateRoot("/data/out/{date}/{module}/{name}")
	assert.Equal(t, "/data/out", root)
	assert.Equal(t, "{date}/{module}/{name}", rel)

	root, rel = SplitTemplateRoot("downloads/{date}/{module}/{name}")
	assert.Equal(t, "downloads", root)
	assert.Equal(t, "{date}/{module}/{name}", rel)

	root, rel = SplitTemplateRoot("{module}/{name}")
	assert.Empty(t, root)
	assert.Equal(t, "{module}/{name}", rel)

	root, rel = SplitTemplateRoot("")
	assert.Empty(t, root)
	assert.Equal(t, DefaultOutputTemplate, rel)
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseOutputFormat(" CSV ")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseOutputFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	for _, raw := range []string{"xlsx", "pdf"} {
		_, err = ParseOutputFormat(raw)
		require.Error(t, err, raw)
	}
	assert.Equal(t, "text/csv; charset=utf-8", FormatCSV.ContentType())
}
