package biodumpy

import (
	"path"
	"strings"
)

// DefaultOutputTemplate is used when no template is configured.
const DefaultOutputTemplate = "downloads/{date}/{module}/{name}"

// BulkName is the file name used for bulk dumps.
const BulkName = "bulk"

// DateLayout formats the {date} placeholder.
const DateLayout = "2006-01-02"

var nameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", "\x00", "_",
)

// SanitizeName makes a query safe to use as a single path segment.
func SanitizeName(name string) string {
	clean := strings.TrimSpace(nameReplacer.Replace(name))
	if clean == "" || clean == "." || clean == ".." {
		return "_"
	}
	return clean
}

// RenderPath expands the template and appends the format extension.
func RenderPath(template, date, module, name string, format OutputFormat) string {
	if template == "" {
		template = DefaultOutputTemplate
	}
	out := strings.NewReplacer(
		"{date}", date,
		"{module}", module,
		"{name}", SanitizeName(name),
	).Replace(template)
	ext := "." + format.Extension()
	if !strings.HasSuffix(out, ext) {
		out += ext
	}
	return out
}

// SplitTemplateRoot separates the leading directories of a template that
// contain no placeholder from the rest, so an absolute template like
// "/data/out/{date}/{name}" can be rooted at "/data/out".
func SplitTemplateRoot(template string) (root, rel string) {
	if template == "" {
		return "", DefaultOutputTemplate
	}
	dir := path.Dir(template)
	for strings.Contains(dir, "{") {
		dir = path.Dir(dir)
	}
	if dir == "." {
		return "", template
	}
	rel = strings.TrimPrefix(strings.TrimPrefix(template, dir), "/")
	return dir, rel
}
