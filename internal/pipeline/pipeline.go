// Package pipeline composes the per-tool-call request flow described in
// §4.7: normalise → cache lookup → retry(fetch) → transform → serialise →
// cache store, plus the inline-vs-resource-spill decision.
package pipeline

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"fetchmcp/internal/cache"
	"fetchmcp/internal/fetcher"
	"fetchmcp/internal/retry"
	"fetchmcp/internal/transform"
	"fetchmcp/internal/urlnorm"
)

// Data is the transformed payload a tool call ultimately returns
type Data struct {
	URL       string
	Title     string
	Markdown  string
	Truncated bool
	Links     []transform.Link
}

// ModeMarkdown runs the transform worker pool's HTML→Markdown conversion.
// ModeLinks extracts and dedupes the page's <a href> targets instead,
// bypassing the worker pool entirely (link extraction is not CPU-bound
// enough to need it).
const (
	ModeMarkdown = "markdown"
	ModeLinks    = "links"
)

// Params parameterises one pipeline run
type Params struct {
	URL             string
	Mode            string
	CacheNamespace  string
	CacheVary       map[string]any
	IncludeMetadata bool
	Retries         int

	// Serialize/Deserialize let the namespace choose its own wire form
	// (markdown passes through, JSONL namespaces encode a content-block list)
	Serialize   func(Data) string
	Deserialize func(string) (Data, bool)
}

// Outcome is the result of running the pipeline once
type Outcome struct {
	Data      Data
	FromCache bool
	URL       string
	FetchedAt time.Time
	CacheKey  string
}

// Fetcher is the subset of *fetcher.Client the pipeline depends on
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Result, error)
}

// Pipeline wires the fetcher, retry loop, transform pool, and cache
// together behind a single entry point
type Pipeline struct {
	Fetcher   Fetcher
	Transform *transform.Pool
	Cache     *cache.Store
	Enabled   bool
}

// Run executes steps 1-7 of §4.7. When Serialize/Deserialize are unset, the
// markdown mode stores Data.Markdown as-is and the links mode uses the JSON
// codec of SerializeLinks/DeserializeLinks.
func (p *Pipeline) Run(ctx context.Context, params Params) (Outcome, error) {
	mode := params.Mode
	if mode == "" {
		mode = ModeMarkdown
	}

	serialize := params.Serialize
	deserialize := params.Deserialize
	if serialize == nil || deserialize == nil {
		s, d := defaultCodecFor(mode)
		if serialize == nil {
			serialize = s
		}
		if deserialize == nil {
			deserialize = d
		}
	}

	normalised, err := urlnorm.Normalise(params.URL)
	if err != nil {
		return Outcome{}, err
	}
	// Normalise strips the fragment, but blob-rewrite rules (e.g. a gist's
	// "#file-xxx-ext" deep link) need it, so TransformToRawUrl runs against
	// the normalised URL with its original fragment reattached; the
	// fragment is discarded again unless the rewrite actually consumed it.
	rawURL, transformed := urlnorm.TransformToRawUrl(reattachFragment(normalised, params.URL))
	if !transformed {
		rawURL = normalised
	}

	key, err := cache.CreateKey(params.CacheNamespace, rawURL, params.CacheVary)
	if err != nil {
		return Outcome{}, err
	}

	if entry, ok := p.Cache.Get(key, false); ok {
		if data, ok := deserialize(entry.Content); ok {
			return Outcome{
				Data:      data,
				FromCache: true,
				URL:       rawURL,
				FetchedAt: entry.FetchedAt,
				CacheKey:  key,
			}, nil
		}
	}

	html, err := retry.Do(ctx, params.Retries, func(ctx context.Context) (string, error) {
		res, err := p.Fetcher.Fetch(ctx, rawURL)
		if err != nil {
			return "", err
		}
		return res.Body, nil
	})
	if err != nil {
		return Outcome{}, err
	}

	var data Data
	if mode == ModeLinks {
		links, err := transform.ExtractLinks(html, rawURL)
		if err != nil {
			return Outcome{}, err
		}
		data = Data{URL: rawURL, Links: links}
	} else {
		result, err := p.Transform.Submit(ctx, transform.Task{
			ID:              key,
			HTML:            html,
			URL:             rawURL,
			IncludeMetadata: params.IncludeMetadata,
		})
		if err != nil {
			return Outcome{}, err
		}
		data = Data{URL: rawURL, Title: result.Title, Markdown: result.Markdown, Truncated: result.Truncated}
	}

	now := time.Now()
	if p.Enabled {
		p.Cache.Set(params.CacheNamespace, hashPart(key), key, serialize(data), rawURL, data.Title, false)
	}

	return Outcome{Data: data, FromCache: false, URL: rawURL, FetchedAt: now, CacheKey: key}, nil
}

// SpillIfOversized forces a cache write for data exceeding maxInlineChars
// even when the cache is globally disabled, so the resource-link path can
// still serve it. The cache key is unchanged so repeat calls land on the
// same entry.
func (p *Pipeline) SpillIfOversized(namespace, cacheKey string, data Data, serialize func(Data) string, maxInlineChars int) (spilled bool) {
	if serialize == nil {
		serialize = defaultSerialize
	}
	content := serialize(data)
	if len(content) <= maxInlineChars {
		return false
	}
	p.Cache.Set(namespace, hashPart(cacheKey), cacheKey, content, data.URL, data.Title, !p.Enabled)
	return true
}

// reattachFragment copies the fragment of original onto normalised, so blob
// rewrite rules that key off a URL fragment (gist file deep links) still see
// it even though Normalise itself discards fragments.
func reattachFragment(normalised, original string) string {
	orig, err := url.Parse(original)
	if err != nil || orig.Fragment == "" {
		return normalised
	}
	u, err := url.Parse(normalised)
	if err != nil {
		return normalised
	}
	u.Fragment = orig.Fragment
	u.RawFragment = orig.RawFragment
	return u.String()
}

func defaultSerialize(d Data) string { return d.Markdown }

func defaultDeserialize(content string) (Data, bool) {
	return Data{Markdown: content}, true
}

// defaultCodecFor picks the pass-through markdown codec or the JSON codec
// for links, when the caller doesn't supply its own Serialize/Deserialize.
func defaultCodecFor(mode string) (func(Data) string, func(string) (Data, bool)) {
	if mode == ModeLinks {
		return SerializeLinks, DeserializeLinks
	}
	return defaultSerialize, defaultDeserialize
}

// SerializeLinks and DeserializeLinks are the links namespace's wire codec,
// exported so callers can pass them to SpillIfOversized for the resource
// -spill size check.
func SerializeLinks(d Data) string {
	encoded, err := json.Marshal(d.Links)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func DeserializeLinks(content string) (Data, bool) {
	var links []transform.Link
	if err := json.Unmarshal([]byte(content), &links); err != nil {
		return Data{}, false
	}
	return Data{Links: links}, true
}

func hashPart(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[i+1:]
		}
	}
	return key
}
