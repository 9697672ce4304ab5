package transform

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is one extracted <a href> resolved against the page's base URL
type Link struct {
	URL  string
	Text string
}

// ExtractLinks returns the page's anchors whose href resolves to an http or
// https URL, skipping empty, fragment-only and javascript: hrefs and any
// other scheme; a repeated target is kept once, with its first text
func ExtractLinks(html, baseURL string) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	var links []Link
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		absolute := resolved.String()
		if seen[absolute] {
			return
		}
		seen[absolute] = true
		links = append(links, Link{
			URL:  absolute,
			Text: strings.TrimSpace(sel.Text()),
		})
	})
	return links, nil
}
