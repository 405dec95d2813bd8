package renderer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SabrinaJewson/ghmd/internal/logging"
)

// newTestOcticons serves "<svg>NAME</svg>" for every icon in available and
// 404 for everything else, counting fetches.
func newTestOcticons(t *testing.T, fetches *atomic.Int64, available ...string) *Octicons {
	t.Helper()

	icons := make(map[string]string, len(available))
	for _, name := range available {
		icons["/"+name+".svg"] = fmt.Sprintf("<svg>%s</svg>", name)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		svg, ok := icons[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, svg)
	}))
	t.Cleanup(server.Close)

	return NewOcticons(server.Client(), server.URL, logging.Discard())
}

func TestPopulateSubstitutesIcon(t *testing.T) {
	var fetches atomic.Int64
	octicons := newTestOcticons(t, &fetches, "check-16")

	markup := `<p><span class="octicon octicon-check"></span> done</p>`
	result := octicons.Populate(context.Background(), markup)

	assert.Equal(t, `<p><span class="octicon octicon-check"><svg>check-16</svg></span> done</p>`, result)
	assert.Equal(t, int64(1), fetches.Load())
}

func TestPopulateMultipleIcons(t *testing.T) {
	var fetches atomic.Int64
	octicons := newTestOcticons(t, &fetches, "check-16", "x-16")

	markup := `<p><span class="octicon octicon-check"></span><span class="octicon octicon-x"></span></p>`
	result := octicons.Populate(context.Background(), markup)

	assert.Contains(t, result, "<svg>check-16</svg>")
	assert.Contains(t, result, "<svg>x-16</svg>")
	// Substitution is positional: check comes first.
	assert.Less(t,
		strings.Index(result, "<svg>check-16</svg>"),
		strings.Index(result, "<svg>x-16</svg>"))
}

func TestPopulateUnknownIconDegrades(t *testing.T) {
	var fetches atomic.Int64
	octicons := newTestOcticons(t, &fetches)

	markup := `<p><span class="octicon octicon-missing"></span> text</p>`
	result := octicons.Populate(context.Background(), markup)

	// The span stays empty; the rest of the markup is untouched.
	assert.Equal(t, `<p><span class="octicon octicon-missing"></span> text</p>`, result)

	// Failures are not cached: another populate re-fetches.
	octicons.Populate(context.Background(), markup)
	assert.Equal(t, int64(2), fetches.Load())
}

func TestPopulateCachesFetchedIcons(t *testing.T) {
	var fetches atomic.Int64
	octicons := newTestOcticons(t, &fetches, "check-16")

	markup := `<p><span class="octicon octicon-check"></span></p>`
	octicons.Populate(context.Background(), markup)
	octicons.Populate(context.Background(), markup)

	assert.Equal(t, int64(1), fetches.Load())
}

func TestPopulateWithoutIconsLeavesMarkupAlone(t *testing.T) {
	var fetches atomic.Int64
	octicons := newTestOcticons(t, &fetches)

	markup := `<h1>Hello</h1><p>Plain <em>markup</em> with a <span class="highlight">span</span>.</p>`
	result := octicons.Populate(context.Background(), markup)

	assert.Equal(t, markup, result)
	assert.Equal(t, int64(0), fetches.Load())
}

func TestPopulateSVGNotEscaped(t *testing.T) {
	var fetches atomic.Int64
	octicons := newTestOcticons(t, &fetches, "check-16")

	result := octicons.Populate(context.Background(), `<span class="octicon octicon-check"></span>`)

	require.Contains(t, result, "<svg>")
	assert.NotContains(t, result, "&lt;svg&gt;")
}

func TestIconNameExtraction(t *testing.T) {
	testCases := []struct {
		name   string
		markup string
		want   []string
	}{
		{"plain octicon", `<span class="octicon octicon-check"></span>`, []string{"check-16"}},
		{"extra classes", `<span class="mr-1 octicon octicon-git-branch v-align-middle"></span>`, []string{"git-branch-16"}},
		{"no octicon class", `<span class="octicon-check"></span>`, nil},
		{"marker class only", `<span class="octicon"></span>`, nil},
		{"not a span", `<div class="octicon octicon-check"></div>`, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			names := make(chan []string, 1)
			icons := make(chan []string, 1)
			result := make(chan string, 1)

			go rewriteMarkup(tc.markup, names, icons, result)

			required := <-names
			icons <- make([]string, len(required))
			<-result

			assert.Equal(t, tc.want, required)
		})
	}
}
