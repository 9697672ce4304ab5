package transform

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

// convert runs the actual HTML→Markdown translation for one task. It is the
// CPU-bound call the worker pool exists to keep off the request path; the
// translator itself is an external collaborator per §1, exercised here as
// the one call each worker makes.
func convert(html, url string, includeMetadata bool) (markdown, title string, err error) {
	markdown, err = htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", "", err
	}
	if includeMetadata {
		title = extractTitle(html)
	}
	return markdown, title, nil
}

// extractTitle pulls <title>, falling back to the first <h1>
func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	return ""
}
