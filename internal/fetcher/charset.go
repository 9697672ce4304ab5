package fetcher

import (
	"bytes"
	"io"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// sniffWindow bounds how much of the body is inspected for a meta/XML
// charset declaration, per §4.3 priority rule 3.
const sniffWindow = 8 * 1024

// resolveCharset determines the body's encoding label, trying in order:
// BOM bytes, the Content-Type header's charset parameter, then a meta/XML
// declaration within the first 8 KiB, falling back to a statistical sniff.
func resolveCharset(body []byte, contentTypeHeader string) string {
	if label := bomLabel(body); label != "" {
		return label
	}
	if _, label, ok := charset.DetermineEncoding(nil, []byte(contentTypeHeader)); ok && label != "" {
		if label != "windows-1252" || hasCharsetParam(contentTypeHeader) {
			return label
		}
	}
	window := body
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}
	if _, label, ok := charset.DetermineEncoding(window, contentTypeHeader); ok && label != "" {
		return label
	}
	if det, err := chardet.NewTextDetector().DetectBest(window); err == nil && det != nil {
		return det.Charset
	}
	return "utf-8"
}

func hasCharsetParam(contentType string) bool {
	return bytes.Contains([]byte(contentType), []byte("charset="))
}

// bomLabel returns the encoding label implied by a leading byte-order-mark,
// or "" if none is present
func bomLabel(body []byte) string {
	switch {
	case bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}):
		return "utf-8"
	case bytes.HasPrefix(body, []byte{0xFF, 0xFE, 0x00, 0x00}):
		return "utf-32le"
	case bytes.HasPrefix(body, []byte{0x00, 0x00, 0xFE, 0xFF}):
		return "utf-32be"
	case bytes.HasPrefix(body, []byte{0xFF, 0xFE}):
		return "utf-16le"
	case bytes.HasPrefix(body, []byte{0xFE, 0xFF}):
		return "utf-16be"
	default:
		return ""
	}
}

// decodeBody transcodes body from the resolved label to a UTF-8 string
func decodeBody(body []byte, label string) (string, error) {
	enc, err := htmlindex.Get(label)
	if err != nil || enc == nil || enc == encoding.Nop {
		return string(body), nil
	}
	r := transform.NewReader(bytes.NewReader(body), enc.NewDecoder())
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(body), nil
	}
	return string(decoded), nil
}
