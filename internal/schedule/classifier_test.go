package schedule

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyDocumentExtensions(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	for _, u := range []string{
		"https://example.gov/files/notice.pdf",
		"https://example.gov/files/policy.DOCX",
		"https://example.gov/data/export.xlsx",
	} {
		require.Equal(t, ComplexityStatic, c.Classify(u), u)
	}
}

func TestClassifySPAFragments(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	require.Equal(t, ComplexityDynamic, c.Classify("https://example.gov/app#/policy/123"))
	require.Equal(t, ComplexityDynamic, c.Classify("https://example.gov/app#!/detail"))
}

func TestClassifyDynamicPaths(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	require.Equal(t, ComplexityDynamic, c.Classify("https://example.gov.cn/search?q=pension"))
	require.Equal(t, ComplexityDynamic, c.Classify("https://example.gov.cn/zcwjk/list"))
}

func TestClassifyHeavyQueryStrings(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	require.Equal(t, ComplexityDynamic,
		c.Classify("https://example.gov/page?a=1&b=2&c=3&d=4"))
	require.Equal(t, ComplexityUnknown,
		c.Classify("https://example.gov/page?a=1&b=2"))
}

func TestClassifyConfiguredDynamicHosts(t *testing.T) {
	t.Parallel()

	c := NewClassifier([]string{"spa.example.gov.cn", " OTHER.example.gov "})
	require.Equal(t, ComplexityDynamic, c.Classify("https://spa.example.gov.cn/plain/page"))
	require.Equal(t, ComplexityDynamic, c.Classify("https://other.example.gov/plain/page"))
}

func TestClassifyPlainPagesAreStatic(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	require.Equal(t, ComplexityStatic, c.Classify("https://example.gov/policy/2026/notice.html"))
}

func TestClassifyInvalidURL(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	require.Equal(t, ComplexityUnknown, c.Classify("::not-a-url"))
	require.Equal(t, ComplexityUnknown, c.Classify("relative/path"))
}
