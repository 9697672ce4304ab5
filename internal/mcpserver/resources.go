package mcpserver

import (
	"encoding/json"
	"strings"

	perr "fetchmcp/internal/platform/errors"
)

// resourceItem describes one listable cache-backed resource, per §6
type resourceItem struct {
	URI      string `json:"uri"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType"`
}

func mimeTypeForNamespace(namespace string) string {
	if namespace == "links" {
		return "application/x-ndjson"
	}
	return "text/markdown"
}

// dispatchResourcesList enumerates cached entries reachable as
// internal://cache/{namespace}/{urlHash} resources. The cache store does
// not track namespace membership independently of entries, so listing
// walks the namespace the caller names via params (required).
type resourcesListParams struct {
	Namespace string `json:"namespace"`
}

func (s *Server) dispatchResourcesList(rawParams json.RawMessage) (any, error) {
	var p resourcesListParams
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &p); err != nil {
			return nil, perr.Validationf("invalid resources/list params: %v", err)
		}
	}
	items := s.Cache.ListNamespace(p.Namespace)
	out := make([]resourceItem, 0, len(items))
	for _, it := range items {
		out = append(out, resourceItem{
			URI:      "internal://cache/" + p.Namespace + "/" + it.URLHash,
			Name:     it.Title,
			MimeType: mimeTypeForNamespace(p.Namespace),
		})
	}
	return map[string]any{"resources": out}, nil
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

// dispatchResourcesRead returns the cached payload behind a resource URI,
// using a forced read so an oversized entry written while the cache was
// globally disabled is still reachable (§4.5, §4.7 spill path).
func (s *Server) dispatchResourcesRead(rawParams json.RawMessage) (any, error) {
	var p resourcesReadParams
	if err := json.Unmarshal(rawParams, &p); err != nil {
		return nil, perr.Validationf("invalid resources/read params: %v", err)
	}

	namespace, hash, err := parseResourceURI(p.URI)
	if err != nil {
		return nil, err
	}
	key := namespace + ":" + hash

	entry, ok := s.Cache.Get(key, true)
	if !ok {
		return nil, perr.NotFoundf("resource %q not found", p.URI)
	}

	return map[string]any{
		"contents": []map[string]any{{
			"uri":      p.URI,
			"mimeType": mimeTypeForNamespace(namespace),
			"text":     entry.Content,
		}},
	}, nil
}

func parseResourceURI(uri string) (namespace, hash string, err error) {
	const prefix = "internal://cache/"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", perr.Validationf("unsupported resource URI %q", uri)
	}
	rest := strings.TrimPrefix(uri, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", perr.Validationf("malformed resource URI %q", uri)
	}
	return parts[0], parts[1], nil
}
