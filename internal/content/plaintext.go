// Package content turns ingested HTML into prompt-ready plain text.
package content

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMaxRunes bounds the source text handed to a single prompt.
const DefaultMaxRunes = 6000

// PlainText strips markup, scripts and styles from an HTML fragment and collapses whitespace.
// Input that does not parse as HTML is returned whitespace-collapsed.
func PlainText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapse(html)
	}
	doc.Find("script, style, noscript, iframe").Remove()

	var b strings.Builder
	doc.Find("body").Contents().Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	})
	return collapse(b.String())
}

// Excerpt returns PlainText truncated to maxRunes on a word boundary.
func Excerpt(html string, maxRunes int) string {
	text := PlainText(html)
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)[:maxRunes]
	cut := string(runes)
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
