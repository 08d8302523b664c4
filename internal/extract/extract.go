// Package extract pulls the readable article out of a crawled HTML payload.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// Document is the readable core of a crawled page.
type Document struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Byline      string     `json:"byline,omitempty"`
	SiteName    string     `json:"site_name,omitempty"`
	Excerpt     string     `json:"excerpt,omitempty"`
	Text        string     `json:"text"`
	HTML        string     `json:"html"`
	Length      int        `json:"length"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// FromHTML runs readability extraction over the payload. The page URL is used
// to resolve relative links inside the article body.
func FromHTML(body []byte, pageURL string) (Document, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return Document{}, fmt.Errorf("parse page url: %w", err)
	}
	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		return Document{}, fmt.Errorf("extract article: %w", err)
	}
	doc := Document{
		URL:         pageURL,
		Title:       strings.TrimSpace(article.Title),
		Byline:      strings.TrimSpace(article.Byline),
		SiteName:    strings.TrimSpace(article.SiteName),
		Excerpt:     strings.TrimSpace(article.Excerpt),
		Text:        strings.TrimSpace(article.TextContent),
		HTML:        article.Content,
		Length:      article.Length,
		PublishedAt: article.PublishedTime,
	}
	if doc.Text == "" {
		return doc, fmt.Errorf("no readable content in %s", pageURL)
	}
	return doc, nil
}

// Summary returns the first maxRunes of the extracted text, cut at a word
// boundary when possible.
func (d Document) Summary(maxRunes int) string {
	runes := []rune(d.Text)
	if len(runes) <= maxRunes {
		return d.Text
	}
	cut := string(runes[:maxRunes])
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > maxRunes/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "..."
}
