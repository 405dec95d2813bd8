package templater

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageContainsContentUnescaped(t *testing.T) {
	tmpl, err := New("README.md", "dark")
	require.NoError(t, err)

	page, err := tmpl.Page("<h1>Hello</h1>")
	require.NoError(t, err)

	assert.Contains(t, page, "<h1>Hello</h1>")
	assert.NotContains(t, page, "&lt;h1&gt;")
}

func TestPageTitleEscaped(t *testing.T) {
	tmpl, err := New("<script>bad</script>", "dark")
	require.NoError(t, err)

	page, err := tmpl.Page("content")
	require.NoError(t, err)

	assert.NotContains(t, page, "<title><script>")
}

func TestPageTheme(t *testing.T) {
	for _, theme := range []string{"dark", "light"} {
		t.Run(theme, func(t *testing.T) {
			tmpl, err := New("doc", theme)
			require.NoError(t, err)

			page, err := tmpl.Page("content")
			require.NoError(t, err)

			assert.Contains(t, page, `class="ghmd-`+theme+`"`)
		})
	}
}

func TestPageIncludesLiveScript(t *testing.T) {
	tmpl, err := New("doc", "dark")
	require.NoError(t, err)

	page, err := tmpl.Page("content")
	require.NoError(t, err)

	assert.Contains(t, page, "EventSource")
	assert.Contains(t, page, "rate_limited")
	assert.Contains(t, page, "render_error")
}
