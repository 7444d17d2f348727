package themes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCrawlKind(t *testing.T) {
	t.Parallel()

	for _, kind := range Kinds {
		parsed, err := ParseCrawlKind(string(kind))
		require.NoError(t, err)
		require.Equal(t, kind, parsed)
	}

	_, err := ParseCrawlKind("plugins")
	require.Error(t, err)
	_, err = ParseCrawlKind("")
	require.Error(t, err)
}

func TestStateKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "info_crawler_state", CrawlInfo.StateKey())
	require.Equal(t, "tags_crawler_state", CrawlTags.StateKey())
	require.Equal(t, "stats_crawler_state", CrawlStats.StateKey())
}

func TestUsageScore(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 250.0, UsageScore(1000, 4000), 1e-9)
	require.Zero(t, UsageScore(1000, 0))
	require.Zero(t, UsageScore(1000, -5))
	require.Zero(t, UsageScore(0, 4000))
}

func TestBatchEmpty(t *testing.T) {
	t.Parallel()

	require.True(t, Batch{}.Empty())
	require.False(t, Batch{Themes: []*Theme{{Slug: "astra"}}}.Empty())
	require.False(t, Batch{Snapshots: []*ThemeStatSnapshot{{ThemeSlug: "astra"}}}.Empty())
}
