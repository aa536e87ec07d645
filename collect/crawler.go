package collect

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/commonrag/commonrag"
)

// Crawler walks a site breadth-first from a root URL, bounded by page and
// depth limits, and aggregates the extracted page text into one document.
// Robots handling and crawl politeness are out of scope.
type Crawler struct {
	root     string
	maxPages int
	maxDepth int
	client   *http.Client
	log      *zap.Logger
}

func NewCrawler(root string, maxPages, maxDepth int, timeout time.Duration) *Crawler {
	log := zap.L().With(
		zap.String("source", "crawler"),
		zap.String("root", root),
	)

	return &Crawler{
		root:     root,
		maxPages: maxPages,
		maxDepth: maxDepth,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

type page struct {
	url   string
	depth int
}

func (c *Crawler) Collect(ctx context.Context) ([]commonrag.Document, error) {
	rootURL, err := url.Parse(c.root)
	if err != nil {
		return nil, fmt.Errorf("invalid crawl root: %w", err)
	}

	var (
		queue   = []page{{url: rootURL.String(), depth: 0}}
		visited = map[string]bool{rootURL.String(): true}
		texts   []string
		fetched int
	)

	// The page bound counts fetch attempts, so failed or empty pages
	// cannot extend the crawl past the limit.
	for len(queue) > 0 && fetched < c.maxPages {
		next := queue[0]
		queue = queue[1:]
		fetched++

		text, links, err := c.fetch(ctx, next.url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			c.log.Warn("page fetch failed",
				zap.String("url", next.url),
				zap.Error(err),
			)
			continue
		}

		if text != "" {
			texts = append(texts, text)
		}

		if next.depth >= c.maxDepth {
			continue
		}

		for _, link := range links {
			resolved, ok := c.resolve(rootURL, next.url, link)
			if !ok || visited[resolved] {
				continue
			}

			visited[resolved] = true
			queue = append(queue, page{url: resolved, depth: next.depth + 1})
		}
	}

	if len(texts) == 0 {
		return nil, nil
	}

	doc := commonrag.Document{
		Text: strings.Join(texts, "\n\n"),
		Metadata: map[string]string{
			commonrag.MetaSource: rootURL.String(),
		},
	}

	return []commonrag.Document{doc}, nil
}

func (c *Crawler) fetch(ctx context.Context, pageURL string) (string, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "text/html") {
		return "", nil, nil
	}

	node, err := html.Parse(resp.Body)
	if err != nil {
		return "", nil, err
	}

	var (
		texts []string
		links []string
	)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
			return

		case n.Type == html.ElementNode && n.Data == "a":
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					links = append(links, attr.Val)
				}
			}

		case n.Type == html.TextNode:
			if text := strings.TrimSpace(n.Data); text != "" {
				texts = append(texts, text)
			}
		}

		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)

	return strings.Join(texts, " "), links, nil
}

// resolve turns a raw href into an absolute same-host URL, or reports that
// the link should be skipped.
func (c *Crawler) resolve(root *url.URL, base, href string) (string, bool) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}

	linkURL, err := baseURL.Parse(href)
	if err != nil {
		return "", false
	}

	if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
		return "", false
	}

	if linkURL.Host != root.Host {
		return "", false
	}

	linkURL.Fragment = ""

	return linkURL.String(), true
}
