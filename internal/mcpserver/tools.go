// Tool handlers are a thin façade over the core: the tool input/output
// schemas themselves are an external collaborator's concern (§1, §6); what
// lives here is just enough wiring to drive the fetch pipeline, cache, and
// transform pool from a JSON-RPC tools/call request.
package mcpserver

import (
	"context"
	"encoding/json"
	"sync"

	perr "fetchmcp/internal/platform/errors"
	pnet "fetchmcp/internal/platform/net"
	"fetchmcp/internal/pipeline"
	"fetchmcp/internal/taskmanager"
)

// ContentBlock mirrors the MCP ToolResponse content union: either inline
// text or a resource_link pointing at a cached entry
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	URI      string `json:"uri,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolResult is the core's half of a ToolResponse
type ToolResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent any            `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

func textResult(text string, structured any) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}, StructuredContent: structured}
}

func resourceLinkResult(uri, name, mimeType string, structured any) ToolResult {
	return ToolResult{
		Content:           []ContentBlock{{Type: "resource_link", URI: uri, Name: name, MimeType: mimeType}},
		StructuredContent: structured,
	}
}

func errorResult(err error) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: perr.WireFrom(err).Message}}, IsError: true}
}

// fetchArgs is the input shape shared by fetch-url, fetch-markdown, and
// fetch-links (single-URL tools)
type fetchArgs struct {
	URL             string `json:"url"`
	IncludeMetadata bool   `json:"includeMetadata"`
}

// fetchUrlsArgs is the input shape for the batching tool
type fetchUrlsArgs struct {
	URLs            []string `json:"urls"`
	IncludeMetadata bool     `json:"includeMetadata"`
}

func (s *Server) resourceURI(namespace, cacheKey string) string {
	_, hash := splitCacheKey(cacheKey)
	return "internal://cache/" + namespace + "/" + hash
}

func splitCacheKey(key string) (namespace, hash string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// CallTool dispatches one tools/call request to the matching core operation
func (s *Server) CallTool(ctx context.Context, name string, rawArgs json.RawMessage) (ToolResult, error) {
	switch name {
	case "fetch-url", "fetch-markdown":
		return s.callFetchMarkdown(ctx, rawArgs)
	case "fetch-links":
		return s.callFetchLinks(ctx, rawArgs)
	case "fetch-urls":
		return s.callFetchUrls(ctx, rawArgs)
	default:
		return ToolResult{}, perr.Validationf("unknown tool %q", name)
	}
}

func (s *Server) callFetchMarkdown(ctx context.Context, rawArgs json.RawMessage) (ToolResult, error) {
	var args fetchArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return ToolResult{}, perr.Validationf("invalid tool arguments: %v", err)
	}
	if args.URL == "" {
		return ToolResult{}, perr.Validationf("url is required")
	}

	out, err := s.Pipeline.Run(ctx, pipeline.Params{
		URL:             args.URL,
		CacheNamespace:  "markdown",
		IncludeMetadata: args.IncludeMetadata,
		Retries:         s.DefaultRetries,
		CacheVary:       map[string]any{"includeMetadata": args.IncludeMetadata},
	})
	if err != nil {
		return errorResult(err), nil
	}

	structured := map[string]any{"url": out.Data.URL, "title": out.Data.Title, "truncated": out.Data.Truncated}

	if len(out.Data.Markdown) > s.Config.MaxInlineContentChars {
		s.Pipeline.SpillIfOversized("markdown", out.CacheKey, out.Data, nil, s.Config.MaxInlineContentChars)
		return resourceLinkResult(s.resourceURI("markdown", out.CacheKey), out.Data.Title, "text/markdown", structured), nil
	}
	return textResult(out.Data.Markdown, structured), nil
}

// callFetchLinks reuses the same cache/pipeline path as callFetchMarkdown,
// with Mode: ModeLinks swapping the HTML→Markdown conversion for
// transform.ExtractLinks and cacheVary={mode:"links"} keeping the "links"
// namespace distinct from "markdown" entries for the same URL.
func (s *Server) callFetchLinks(ctx context.Context, rawArgs json.RawMessage) (ToolResult, error) {
	var args fetchArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return ToolResult{}, perr.Validationf("invalid tool arguments: %v", err)
	}
	if args.URL == "" {
		return ToolResult{}, perr.Validationf("url is required")
	}

	out, err := s.Pipeline.Run(ctx, pipeline.Params{
		URL:            args.URL,
		Mode:           pipeline.ModeLinks,
		CacheNamespace: "links",
		Retries:        s.DefaultRetries,
		CacheVary:      map[string]any{"mode": "links"},
	})
	if err != nil {
		return errorResult(err), nil
	}

	encoded, err := json.Marshal(out.Data.Links)
	if err != nil {
		return ToolResult{}, err
	}
	structured := map[string]any{"url": out.Data.URL, "count": len(out.Data.Links)}

	if len(encoded) > s.Config.MaxInlineContentChars {
		s.Pipeline.SpillIfOversized("links", out.CacheKey, out.Data, pipeline.SerializeLinks, s.Config.MaxInlineContentChars)
		return resourceLinkResult(s.resourceURI("links", out.CacheKey), out.Data.URL, "application/x-ndjson", structured), nil
	}
	return textResult(string(encoded), structured), nil
}

// callFetchUrls fans the batch out across goroutines and registers the run
// as a C10 task under the caller's session, so its progress/result is
// reachable via tasks/get and tasks/wait even though this call itself
// blocks for the whole batch.
func (s *Server) callFetchUrls(ctx context.Context, rawArgs json.RawMessage) (ToolResult, error) {
	var args fetchUrlsArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return ToolResult{}, perr.Validationf("invalid tool arguments: %v", err)
	}
	if len(args.URLs) == 0 {
		return ToolResult{}, perr.Validationf("urls is required")
	}

	owner := pnet.SessionID(ctx)
	task, err := s.Tasks.CreateTask(owner, 0)
	if err != nil {
		return ToolResult{}, err
	}

	type item struct {
		URL   string `json:"url"`
		Data  any    `json:"data,omitempty"`
		Error string `json:"error,omitempty"`
	}
	results := make([]item, len(args.URLs))
	failures := 0

	var wg sync.WaitGroup
	var mu sync.Mutex
	for i, u := range args.URLs {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			out, err := s.Pipeline.Run(ctx, pipeline.Params{
				URL:             u,
				CacheNamespace:  "markdown",
				IncludeMetadata: args.IncludeMetadata,
				Retries:         s.DefaultRetries,
				CacheVary:       map[string]any{"includeMetadata": args.IncludeMetadata},
			})
			if err != nil {
				results[i] = item{URL: u, Error: perr.WireFrom(err).Message}
				mu.Lock()
				failures++
				mu.Unlock()
				return
			}
			results[i] = item{URL: u, Data: out.Data}
		}(i, u)
	}
	wg.Wait()

	if failures == len(results) && len(results) > 0 {
		_ = s.Tasks.UpdateTask(task.ID, taskmanager.StateFailed, results, "all urls failed")
	} else {
		_ = s.Tasks.UpdateTask(task.ID, taskmanager.StateCompleted, results, "")
	}

	encoded, err := json.Marshal(results)
	if err != nil {
		return ToolResult{}, err
	}
	return textResult(string(encoded), map[string]any{"count": len(results), "taskId": task.ID}), nil
}
