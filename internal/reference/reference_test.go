// ABOUTME: Tests for the embedded reference document
// ABOUTME: Checks markdown content and the rendered HTML page

package reference

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdown(t *testing.T) {
	md := Markdown()
	assert.Contains(t, md, "# Strudel Pattern Reference")
	assert.Contains(t, md, "setcps")
}

func TestHTML(t *testing.T) {
	body, err := HTML()
	require.NoError(t, err)
	assert.Contains(t, string(body), "<h1>Strudel Pattern Reference</h1>")
	assert.Contains(t, string(body), "<table>")

	again, err := HTML()
	require.NoError(t, err)
	assert.Equal(t, body, again)
}

func TestHandler(t *testing.T) {
	h := Handler(nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reference", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<title>Strudel Pattern Reference</title>")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reference?format=md", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), MIMEType)
	assert.Equal(t, Markdown(), rec.Body.String())
}
