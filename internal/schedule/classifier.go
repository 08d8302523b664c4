package schedule

import (
	"net/url"
	"regexp"
	"strings"
)

// Complexity labels how much rendering a URL likely needs.
type Complexity string

// Complexity values produced by the classifier.
const (
	ComplexityStatic  Complexity = "static"
	ComplexityDynamic Complexity = "dynamic"
	ComplexityUnknown Complexity = "unknown"
)

var (
	// Plain document downloads never need a browser.
	documentExtPattern = regexp.MustCompile(`(?i)\.(pdf|docx?|xlsx?|pptx?|txt|csv|zip)$`)
	// Hash-bang and hash-route fragments mark client-side routed SPAs.
	spaFragmentPattern = regexp.MustCompile(`#!?/`)
	// Interactive search/list endpoints tend to render results client-side.
	dynamicPathPattern = regexp.MustCompile(`(?i)/(search|query|interaction|zcwjk|govsearch)(/|$|\?)`)
)

// heavyQueryThreshold marks URLs whose query strings suggest a dynamic app.
const heavyQueryThreshold = 4

// Classifier assigns a Complexity to URLs using regex heuristics.
type Classifier struct {
	dynamicHosts map[string]bool
}

// NewClassifier builds a Classifier. Hosts listed in dynamicHosts are always
// classified dynamic.
func NewClassifier(dynamicHosts []string) *Classifier {
	hosts := make(map[string]bool, len(dynamicHosts))
	for _, h := range dynamicHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts[h] = true
		}
	}
	return &Classifier{dynamicHosts: hosts}
}

// Classify inspects the URL shape only; it never fetches.
func (c *Classifier) Classify(rawURL string) Complexity {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ComplexityUnknown
	}
	host := strings.ToLower(u.Hostname())

	if documentExtPattern.MatchString(u.Path) {
		return ComplexityStatic
	}
	if c.dynamicHosts[host] {
		return ComplexityDynamic
	}
	if spaFragmentPattern.MatchString(rawURL) {
		return ComplexityDynamic
	}
	if dynamicPathPattern.MatchString(u.Path) {
		return ComplexityDynamic
	}
	if len(u.Query()) >= heavyQueryThreshold {
		return ComplexityDynamic
	}
	if u.RawQuery == "" && u.Fragment == "" {
		return ComplexityStatic
	}
	return ComplexityUnknown
}
