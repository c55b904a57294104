package worker

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xkiire/coredumped/internal/config"
)

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		url  string
		want Strategy
	}{
		{url: "http://origin.test/blogs/index.json", want: NetworkFirst},
		{url: "http://origin.test/blogs/index.json?page=2", want: NetworkFirst},
		{url: "http://origin.test/rss.xml", want: NetworkFirst},
		{url: "http://origin.test/sitemap.xml", want: NetworkFirst},
		{url: "http://origin.test/blogs/some-post.md", want: CacheFirstWithRevalidate},
		{url: "http://origin.test/styles.css", want: CacheFirstWithRevalidate},
		{url: "http://origin.test/", want: CacheFirstWithRevalidate},
		{url: "http://origin.test", want: CacheFirstWithRevalidate},
		{url: "http://origin.test/xml", want: CacheFirstWithRevalidate},
		{url: "http://origin.test/feed.xml.bak", want: CacheFirstWithRevalidate},
	}

	classifier := DefaultClassifier()
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			require.NoError(t, err)

			assert.Equal(t, tt.want, classifier.Classify(u))
			// classification is a pure function of the URL
			assert.Equal(t, tt.want, classifier.Classify(u))
		})
	}
}

func TestClassifierFirstMatchWins(t *testing.T) {
	classifier := NewClassifier(
		Rule{PathPrefix: "/blogs/", PathSuffix: ".json", Strategy: CacheFirstWithRevalidate},
		Rule{PathPrefix: "/blogs/", Strategy: NetworkFirst},
	)

	u, _ := url.Parse("http://origin.test/blogs/tags.json")
	assert.Equal(t, CacheFirstWithRevalidate, classifier.Classify(u))

	u, _ = url.Parse("http://origin.test/blogs/post.md")
	assert.Equal(t, NetworkFirst, classifier.Classify(u))
}

func TestRuleWithoutPatternMatchesNothing(t *testing.T) {
	u, _ := url.Parse("http://origin.test/")
	assert.False(t, Rule{Strategy: NetworkFirst}.Match(u))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("network_first")
	require.NoError(t, err)
	assert.Equal(t, NetworkFirst, s)

	s, err = ParseStrategy(" Cache_First ")
	require.NoError(t, err)
	assert.Equal(t, CacheFirstWithRevalidate, s)

	_, err = ParseStrategy("cache_only")
	require.Error(t, err)

	assert.Equal(t, "network_first", NetworkFirst.String())
	assert.Equal(t, "cache_first", CacheFirstWithRevalidate.String())
}

func TestClassifierFromConfig(t *testing.T) {
	_, err := ClassifierFromConfig([]config.RuleSpec{{Strategy: "bogus", PathSuffix: ".md"}})
	require.Error(t, err)

	classifier, err := ClassifierFromConfig([]config.RuleSpec{{Strategy: "network_first", PathSuffix: ".md"}})
	require.NoError(t, err)

	u, _ := url.Parse("http://origin.test/blogs/post.md")
	assert.Equal(t, NetworkFirst, classifier.Classify(u))
}
