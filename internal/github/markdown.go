package github

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
)

var blankLinesRegex = regexp.MustCompile(`\n{3,}`)

// MarkdownText renders markdown to plain text: goldmark produces HTML and
// the text nodes are kept. Falls back to the source on render failure.
func MarkdownText(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return strings.TrimSpace(md)
	}
	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return strings.TrimSpace(md)
	}
	doc.Find("img, script, style").Remove()
	text := strings.ReplaceAll(doc.Text(), "\r\n", "\n")
	return strings.TrimSpace(blankLinesRegex.ReplaceAllString(text, "\n\n"))
}
