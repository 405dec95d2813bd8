package renderer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/SabrinaJewson/ghmd/internal/logging"
)

// Octicons lazily fetches icon artwork referenced by rendered markup and
// caches it for the process lifetime. Fetch failures are not cached, so a
// missing icon is retried the next time it occurs.
type Octicons struct {
	client  *http.Client
	baseURL string
	logger  logging.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewOcticons creates an icon cache fetching from baseURL ("<base>/<name>.svg").
func NewOcticons(client *http.Client, baseURL string, logger logging.Logger) *Octicons {
	return &Octicons{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
		cache:   make(map[string]string),
	}
}

// get returns the SVG for name, fetching and caching it on first use.
// Any failure yields "" and leaves the cache untouched.
func (o *Octicons) get(ctx context.Context, name string) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if svg, ok := o.cache[name]; ok {
		return svg
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s.svg", o.baseURL, name), nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := o.client.Do(req)
	if err != nil {
		o.logger.Debug(ctx, "icon fetch failed", "icon", name, "error", err)
		return ""
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		o.logger.Debug(ctx, "icon unavailable", "icon", name, "status", res.Status)
		return ""
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return ""
	}

	svg := string(data)
	o.cache[name] = svg
	return svg
}

// Populate substitutes fetched icon artwork into rendered markup. It never
// fails: unresolved icons are left as empty substitutions.
//
// The markup rewrite is CPU-bound and runs on its own goroutine; the parse
// tree never leaves it. Exactly one pair of handoffs crosses the boundary:
// the rewrite side sends the list of required icon names out, and this
// (I/O) side sends the fetched results back before the rewrite completes.
func (o *Octicons) Populate(ctx context.Context, markup string) string {
	names := make(chan []string, 1)
	icons := make(chan []string, 1)
	result := make(chan string, 1)

	go rewriteMarkup(markup, names, icons, result)

	required := <-names
	fetched := make([]string, len(required))
	for i, name := range required {
		fetched[i] = o.get(ctx, name)
	}
	icons <- fetched

	return <-result
}

// rewriteMarkup parses markup, reports the icon names it needs, waits for
// the fetched SVGs, and splices them into the output positionally. If the
// markup cannot be parsed it is returned unchanged.
func rewriteMarkup(markup string, names chan<- []string, icons <-chan []string, result chan<- string) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		names <- nil
		<-icons
		result <- markup
		return
	}

	var spans []*html.Node
	var required []string
	for _, node := range nodes {
		collectIconSpans(node, &spans, &required)
	}

	names <- required
	fetched := <-icons

	// SVG cannot be inserted as a text node without being entity-escaped,
	// so mark each span with a placeholder and splice the raw artwork into
	// the serialized output afterwards.
	for i, span := range spans {
		if fetched[i] == "" {
			continue
		}
		span.AppendChild(&html.Node{
			Type: html.TextNode,
			Data: fmt.Sprintf("__OCTICON%d__", i),
		})
	}

	var buf strings.Builder
	for _, node := range nodes {
		if err := html.Render(&buf, node); err != nil {
			result <- markup
			return
		}
	}

	result <- spliceIcons(buf.String(), fetched)
}

// collectIconSpans walks the tree gathering <span class="octicon octicon-X">
// elements and the icon names they require.
func collectIconSpans(node *html.Node, spans *[]*html.Node, required *[]string) {
	if node.Type == html.ElementNode && node.DataAtom == atom.Span {
		if name, ok := iconName(node); ok {
			*spans = append(*spans, node)
			*required = append(*required, name+"-16")
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectIconSpans(child, spans, required)
	}
}

// iconName extracts the requested icon from a span's class list: the element
// must carry the "octicon" class and the name comes from the first
// "octicon-<name>" class.
func iconName(node *html.Node) (string, bool) {
	var classes []string
	for _, attr := range node.Attr {
		if attr.Key == "class" {
			classes = strings.Fields(attr.Val)
			break
		}
	}

	marked := false
	for _, class := range classes {
		if class == "octicon" {
			marked = true
			break
		}
	}
	if !marked {
		return "", false
	}
	for _, class := range classes {
		if name, ok := strings.CutPrefix(class, "octicon-"); ok && name != "" {
			return name, true
		}
	}
	return "", false
}

// spliceIcons replaces the __OCTICON<n>__ placeholders in serialized markup
// with the corresponding raw SVG.
func spliceIcons(markup string, fetched []string) string {
	parts := strings.Split(markup, "__OCTICON")
	var out strings.Builder
	out.WriteString(parts[0])
	for _, part := range parts[1:] {
		numStr, rest, found := strings.Cut(part, "__")
		if !found {
			out.WriteString("__OCTICON")
			out.WriteString(part)
			continue
		}
		i, err := strconv.Atoi(numStr)
		if err != nil || i < 0 || i >= len(fetched) {
			out.WriteString("__OCTICON")
			out.WriteString(part)
			continue
		}
		out.WriteString(fetched[i])
		out.WriteString(rest)
	}
	return out.String()
}
