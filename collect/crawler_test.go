package collect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crawlSite(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	for path, body := range pages {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(body))
		})
	}

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func TestCrawlerCollect(t *testing.T) {
	assert := assert.New(t)

	server := crawlSite(t, map[string]string{
		"/": `<html><body>
			<p>Welcome page.</p>
			<a href="/apples">apples</a>
			<a href="/pears">pears</a>
		</body></html>`,
		"/apples": `<html><body><p>Apples grow on trees.</p></body></html>`,
		"/pears":  `<html><body><p>Pears ripen off the tree.</p></body></html>`,
	})

	crawler := NewCrawler(server.URL, 10, 2, 5*time.Second)

	docs, err := crawler.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(server.URL, docs[0].Source())
	assert.Contains(docs[0].Text, "Welcome page.")
	assert.Contains(docs[0].Text, "Apples grow on trees.")
	assert.Contains(docs[0].Text, "Pears ripen off the tree.")
}

func TestCrawlerHonorsPageLimit(t *testing.T) {
	assert := assert.New(t)

	server := crawlSite(t, map[string]string{
		"/":  `<html><body><p>root</p><a href="/a">a</a><a href="/b">b</a></body></html>`,
		"/a": `<html><body><p>page a</p></body></html>`,
		"/b": `<html><body><p>page b</p></body></html>`,
	})

	crawler := NewCrawler(server.URL, 2, 2, 5*time.Second)

	docs, err := crawler.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Contains(docs[0].Text, "root")
	assert.Contains(docs[0].Text, "page a")
	assert.NotContains(docs[0].Text, "page b")
}

func TestCrawlerCountsEmptyPagesAgainstLimit(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>root</p><a href="/empty">empty</a><a href="/b">b</a></body></html>`))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>page b</p></body></html>`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	// Two fetches: the root and the textless page. The budget is spent
	// before /b is reached.
	crawler := NewCrawler(server.URL, 2, 2, 5*time.Second)

	docs, err := crawler.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Contains(docs[0].Text, "root")
	assert.NotContains(docs[0].Text, "page b")
}

func TestCrawlerHonorsDepthLimit(t *testing.T) {
	assert := assert.New(t)

	server := crawlSite(t, map[string]string{
		"/":    `<html><body><p>root</p><a href="/one">one</a></body></html>`,
		"/one": `<html><body><p>depth one</p><a href="/two">two</a></body></html>`,
		"/two": `<html><body><p>depth two</p></body></html>`,
	})

	crawler := NewCrawler(server.URL, 10, 1, 5*time.Second)

	docs, err := crawler.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Contains(docs[0].Text, "depth one")
	assert.NotContains(docs[0].Text, "depth two")
}

func TestCrawlerSkipsScriptAndStyle(t *testing.T) {
	server := crawlSite(t, map[string]string{
		"/": `<html><head><style>body { color: red }</style></head>
			<body><script>var x = 1;</script><p>visible</p></body></html>`,
	})

	crawler := NewCrawler(server.URL, 10, 0, 5*time.Second)

	docs, err := crawler.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Contains(t, docs[0].Text, "visible")
	assert.NotContains(t, docs[0].Text, "color: red")
	assert.NotContains(t, docs[0].Text, "var x = 1;")
}

func TestCrawlerResolve(t *testing.T) {
	assert := assert.New(t)

	root, err := url.Parse("https://example.com/docs/")
	require.NoError(t, err)

	crawler := NewCrawler(root.String(), 10, 2, time.Second)

	resolved, ok := crawler.resolve(root, "https://example.com/docs/", "guide")
	assert.True(ok)
	assert.Equal("https://example.com/docs/guide", resolved)

	resolved, ok = crawler.resolve(root, "https://example.com/docs/", "/about#team")
	assert.True(ok)
	assert.Equal("https://example.com/about", resolved)

	_, ok = crawler.resolve(root, "https://example.com/docs/", "https://other.com/page")
	assert.False(ok)

	_, ok = crawler.resolve(root, "https://example.com/docs/", "mailto:team@example.com")
	assert.False(ok)
}
