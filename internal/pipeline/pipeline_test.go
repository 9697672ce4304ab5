package pipeline

import (
	"context"
	"testing"
	"time"

	"fetchmcp/internal/cache"
	"fetchmcp/internal/fetcher"
	"fetchmcp/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls int
	body  string
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*fetcher.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &fetcher.Result{Body: f.body, FinalURL: rawURL, ContentType: "text/html", StatusCode: 200}, nil
}

func newTestPipeline(t *testing.T, body string) (*Pipeline, *fakeFetcher) {
	t.Helper()
	ff := &fakeFetcher{body: body}
	pool := transform.New(transform.Options{Workers: 2, Timeout: time.Second})
	t.Cleanup(pool.Close)
	store := cache.NewStore(cache.Options{Enabled: true, TTL: time.Minute, MaxEntries: 10})
	t.Cleanup(store.Close)
	return &Pipeline{Fetcher: ff, Transform: pool, Cache: store, Enabled: true}, ff
}

func TestPipeline_CacheMissFetchesAndStores(t *testing.T) {
	t.Parallel()
	p, ff := newTestPipeline(t, "<h1>T</h1><p>hi</p>")

	out, err := p.Run(context.Background(), Params{URL: "https://example.com/a", CacheNamespace: "markdown", Retries: 1})
	require.NoError(t, err)
	assert.False(t, out.FromCache)
	assert.Contains(t, out.Data.Markdown, "hi")
	assert.Equal(t, 1, ff.calls)
}

func TestPipeline_SecondCallHitsCache(t *testing.T) {
	t.Parallel()
	p, ff := newTestPipeline(t, "<p>hi</p>")

	_, err := p.Run(context.Background(), Params{URL: "https://example.com/a", CacheNamespace: "markdown", Retries: 1})
	require.NoError(t, err)

	out2, err := p.Run(context.Background(), Params{URL: "https://example.com/a", CacheNamespace: "markdown", Retries: 1})
	require.NoError(t, err)
	assert.True(t, out2.FromCache)
	assert.Equal(t, 1, ff.calls)
}

func TestPipeline_CacheVaryProducesDistinctEntries(t *testing.T) {
	t.Parallel()
	p, ff := newTestPipeline(t, "<p>hi</p>")

	_, err := p.Run(context.Background(), Params{
		URL: "https://example.com/a", CacheNamespace: "markdown", Retries: 1,
		CacheVary: map[string]any{"includeMetadata": true},
	})
	require.NoError(t, err)
	_, err = p.Run(context.Background(), Params{
		URL: "https://example.com/a", CacheNamespace: "markdown", Retries: 1,
		CacheVary: map[string]any{"includeMetadata": false},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, ff.calls)
}

func TestPipeline_SpillIfOversizedWritesForcedEntry(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline(t, "")
	p.Enabled = false

	data := Data{URL: "https://example.com/a", Markdown: string(make([]byte, 100))}
	key, _ := cache.CreateKey("markdown", data.URL, nil)

	spilled := p.SpillIfOversized("markdown", key, data, nil, 10)
	assert.True(t, spilled)

	_, ok := p.Cache.Get(key, false)
	assert.False(t, ok, "forced entry must be invisible to a normal read")

	entry, ok := p.Cache.Get(key, true)
	assert.True(t, ok)
	assert.Len(t, entry.Content, 100)
}
