// ABOUTME: Embedded Strudel reference served to controllers as markdown or HTML
// ABOUTME: HTML is rendered once with goldmark and cached

package reference

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// URI identifies the reference as an MCP resource.
const URI = "strudel://reference"

// MIMEType of Markdown().
const MIMEType = "text/markdown"

//go:embed reference.md
var markdown string

// Markdown returns the reference document.
func Markdown() string {
	return markdown
}

var (
	renderOnce sync.Once
	rendered   []byte
	renderErr  error
)

// HTML returns the reference rendered to an HTML fragment.
func HTML() ([]byte, error) {
	renderOnce.Do(func() {
		md := goldmark.New(goldmark.WithExtensions(extension.Table))
		var buf bytes.Buffer
		if err := md.Convert([]byte(markdown), &buf); err != nil {
			renderErr = fmt.Errorf("rendering reference: %w", err)
			return
		}
		rendered = buf.Bytes()
	})
	return rendered, renderErr
}

var page = template.Must(template.New("reference").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Strudel Pattern Reference</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
pre, code { background: #f4f4f4; border-radius: 4px; }
pre { padding: .75rem; overflow-x: auto; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ddd; padding: .25rem .5rem; }
</style>
</head>
<body>
{{.}}
</body>
</html>
`))

// Handler serves the reference as an HTML page, or as markdown when the
// request asks for ?format=md.
func Handler(logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") == "md" {
			w.Header().Set("Content-Type", MIMEType+"; charset=utf-8")
			_, _ = w.Write([]byte(markdown))
			return
		}

		body, err := HTML()
		if err != nil {
			logger.Error("failed to render reference", "error", err)
			http.Error(w, "failed to render reference", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := page.Execute(w, template.HTML(body)); err != nil {
			logger.Error("failed to write reference page", "error", err)
		}
	})
}
