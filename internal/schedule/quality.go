package schedule

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// QualityReport summarizes how usable a crawled payload looks.
type QualityReport struct {
	Score      float64 `json:"score"`
	Bytes      int     `json:"bytes"`
	TextRatio  float64 `json:"text_ratio"`
	Paragraphs int     `json:"paragraphs"`
	Headings   int     `json:"headings"`
	HasTitle   bool    `json:"has_title"`
}

// minUsefulBytes is the payload size below which a page is assumed to be an
// empty shell waiting for JavaScript.
const minUsefulBytes = 512

// EvaluateQuality scores a payload's size and structure in [0, 1].
func EvaluateQuality(body []byte) QualityReport {
	report := QualityReport{Bytes: len(body)}
	if len(body) == 0 {
		return report
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		// Not HTML; a non-trivial opaque payload (PDF etc.) still counts.
		if len(body) >= minUsefulBytes {
			report.Score = 0.6
		}
		return report
	}

	doc.Find("script, style, noscript").Remove()
	text := strings.TrimSpace(doc.Text())
	report.TextRatio = float64(len(text)) / float64(len(body))
	report.Paragraphs = doc.Find("p, li, td").Length()
	report.Headings = doc.Find("h1, h2, h3").Length()
	report.HasTitle = strings.TrimSpace(doc.Find("title").Text()) != ""

	var score float64
	if report.Bytes >= minUsefulBytes {
		score += 0.2
	}
	switch {
	case report.TextRatio >= 0.2:
		score += 0.3
	case report.TextRatio >= 0.05:
		score += 0.15
	}
	switch {
	case report.Paragraphs >= 10:
		score += 0.3
	case report.Paragraphs >= 3:
		score += 0.2
	case report.Paragraphs >= 1:
		score += 0.1
	}
	if report.Headings > 0 {
		score += 0.1
	}
	if report.HasTitle {
		score += 0.1
	}
	report.Score = score
	return report
}
