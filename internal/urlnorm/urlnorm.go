// Package urlnorm canonicalises fetch target URLs and rewrites known "blob"
// view URLs (GitHub, Gist, GitLab, Bitbucket) to their raw-content form.
//
// Pipeline order
// 1 parse, reject non-http(s) schemes and userinfo
// 2 lower-case the host, preserve path/query byte-for-byte
// 3 strip the fragment
// 4 (second pass) rewrite recognised blob URLs to raw URLs
package urlnorm

import (
	"net/url"
	"regexp"
	"strings"

	perr "fetchmcp/internal/platform/errors"
)

var (
	githubBlob    = regexp.MustCompile(`^/([^/]+)/([^/]+)/blob/([^/]+)/(.+)$`)
	gistBlob      = regexp.MustCompile(`^/([^/]+)/([0-9a-fA-F]+)/?$`)
	gitlabBlob    = regexp.MustCompile(`^/(.+)/-/blob/([^/]+)/(.+)$`)
	bitbucketBlob = regexp.MustCompile(`^/([^/]+)/([^/]+)/src/([^/]+)/(.+)$`)
)

// Normalise parses and canonicalises a URL per §4.1: only http/https, no
// userinfo, host lower-cased, fragment stripped, path/query preserved.
// Returns a VALIDATION_ERROR-classified error on any rejection.
func Normalise(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", perr.Validationf("malformed url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", perr.Validationf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", perr.Validationf("empty host")
	}
	if u.User != nil {
		return "", perr.Validationf("userinfo not allowed in url")
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// TransformToRawUrl recognises GitHub/Gist/GitLab/Bitbucket "blob" view URLs
// and rewrites them to their raw-content equivalents. Already-raw URLs, and
// URLs matching none of the patterns, pass through unchanged with
// transformed=false. Idempotent: calling it again on its own output is a
// no-op, since the output never itself matches a blob pattern.
func TransformToRawUrl(raw string) (out string, transformed bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, false
	}
	host := strings.ToLower(u.Host)

	switch {
	case host == "github.com":
		if m := githubBlob.FindStringSubmatch(u.Path); m != nil {
			owner, repo, ref, path := m[1], m[2], m[3], m[4]
			return "https://raw.githubusercontent.com/" + owner + "/" + repo + "/" + ref + "/" + path, true
		}

	case host == "gist.github.com":
		if m := gistBlob.FindStringSubmatch(u.Path); m != nil {
			user, id := m[1], m[2]
			rawURL := "https://gist.githubusercontent.com/" + user + "/" + id + "/raw"
			if file := gistFileFromFragment(u.Fragment); file != "" {
				rawURL += "/" + file
			}
			return rawURL, true
		}

	case strings.HasSuffix(host, "gitlab.com"):
		if m := gitlabBlob.FindStringSubmatch(u.Path); m != nil {
			project, ref, path := m[1], m[2], m[3]
			return "https://" + host + "/" + project + "/-/raw/" + ref + "/" + path, true
		}

	case strings.HasSuffix(host, "bitbucket.org"):
		if m := bitbucketBlob.FindStringSubmatch(u.Path); m != nil {
			owner, repo, ref, path := m[1], m[2], m[3], m[4]
			return "https://" + host + "/" + owner + "/" + repo + "/raw/" + ref + "/" + path, true
		}
	}
	return raw, false
}

// gistFileFromFragment extracts "xxx.ext" from a "#file-xxx-ext" fragment,
// the form GitHub uses to deep-link a single file within a multi-file gist.
func gistFileFromFragment(fragment string) string {
	const prefix = "file-"
	if !strings.HasPrefix(fragment, prefix) {
		return ""
	}
	rest := fragment[len(prefix):]
	idx := strings.LastIndex(rest, "-")
	if idx < 0 {
		return rest
	}
	name, ext := rest[:idx], rest[idx+1:]
	if ext == "" {
		return rest
	}
	return name + "." + ext
}
