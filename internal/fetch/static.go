package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// StaticFetcher retrieves pages with a plain HTTP GET and prunes markup
// with an HTML parser. It supports the simple selector forms listing
// configs actually use: "tag", ".class", "#id", and "tag.class". Sites
// that need JavaScript rendering or richer selectors use BrowserFetcher.
type StaticFetcher struct {
	client    *http.Client
	userAgent string
}

// NewStaticFetcher builds a fetcher with the given per-request timeout.
func NewStaticFetcher(timeout time.Duration, userAgent string) *StaticFetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StaticFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Fetch performs the GET and applies selector scoping and exclusion.
// Selectors are validated before the request goes out: a selector this
// fetcher cannot evaluate must fail loudly, not scope to nothing and
// make the page look exhausted.
func (f *StaticFetcher) Fetch(ctx context.Context, url string, opts Options) (*Page, error) {
	if opts.ContentSelector != "" && !supportedSelector(opts.ContentSelector) {
		return nil, &Error{Kind: KindPermanent, URL: url, Err: unsupportedSelectorError(opts.ContentSelector)}
	}
	for _, sel := range opts.ExcludeSelectors {
		if !supportedSelector(sel) {
			return nil, &Error{Kind: KindPermanent, URL: url, Err: unsupportedSelectorError(sel)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindPermanent, URL: url, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindTransient, URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &Error{Kind: KindPermanent, URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, URL: url, Err: err}
	}
	fullDocument := string(body)

	doc, err := html.Parse(strings.NewReader(fullDocument))
	if err != nil {
		return nil, &Error{Kind: KindPermanent, URL: url, Err: fmt.Errorf("parse HTML: %w", err)}
	}

	for _, sel := range opts.ExcludeSelectors {
		removeMatching(doc, sel)
	}

	var content string
	if opts.ContentSelector != "" {
		var sb strings.Builder
		for _, n := range findMatching(doc, opts.ContentSelector) {
			if err := html.Render(&sb, n); err != nil {
				return nil, &Error{Kind: KindPermanent, URL: url, Err: err}
			}
			sb.WriteString("\n")
		}
		content = sb.String()
	} else {
		var sb strings.Builder
		if err := html.Render(&sb, doc); err != nil {
			return nil, &Error{Kind: KindPermanent, URL: url, Err: err}
		}
		content = sb.String()
	}

	page := &Page{URL: url, Content: content}
	markExhausted(page, fullDocument, opts.ExhaustionMarker)
	return page, nil
}

// supportedSelector reports whether the selector fits the grammar this
// fetcher implements: "tag", ".class", "#id", or "tag.class"/"tag#id".
// Combinators, attribute selectors, pseudo-classes, and selector lists
// need the browser fetcher.
func supportedSelector(sel string) bool {
	if sel == "" || strings.ContainsAny(sel, " \t>+~[],:*") {
		return false
	}
	if i := strings.IndexAny(sel, ".#"); i >= 0 {
		rest := sel[i+1:]
		if rest == "" || strings.ContainsAny(rest, ".#") {
			return false
		}
	}
	return true
}

func unsupportedSelectorError(sel string) error {
	return fmt.Errorf("selector %q is not supported by the static fetcher (only tag, .class, #id, and tag.class forms); use the browser fetcher", sel)
}

// matchesSelector checks a node against the supported selector forms.
func matchesSelector(n *html.Node, selector string) bool {
	if n.Type != html.ElementNode {
		return false
	}

	tag := selector
	var class, id string
	if i := strings.IndexAny(selector, ".#"); i >= 0 {
		tag = selector[:i]
		rest := selector[i:]
		switch rest[0] {
		case '.':
			class = rest[1:]
		case '#':
			id = rest[1:]
		}
	}

	if tag != "" && n.Data != tag {
		return false
	}
	if class != "" && !hasClass(n, class) {
		return false
	}
	if id != "" && attrValue(n, "id") != id {
		return false
	}
	return tag != "" || class != "" || id != ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// findMatching walks the tree collecting nodes that match the selector.
// Matched subtrees are not descended into again.
func findMatching(n *html.Node, selector string) []*html.Node {
	if matchesSelector(n, selector) {
		return []*html.Node{n}
	}
	var matches []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		matches = append(matches, findMatching(c, selector)...)
	}
	return matches
}

// removeMatching detaches every matching node from the tree.
func removeMatching(n *html.Node, selector string) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if matchesSelector(c, selector) {
			n.RemoveChild(c)
			continue
		}
		removeMatching(c, selector)
	}
}
