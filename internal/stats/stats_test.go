package stats

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	smemory "github.com/themewatch/themewatch/internal/store/memory"
	"github.com/themewatch/themewatch/internal/themes"
)

func seedThemes(t *testing.T, store *smemory.Store, rows []*themes.Theme) {
	t.Helper()
	batch := themes.Batch{}
	seen := map[string]bool{}
	for _, row := range rows {
		if !seen[row.AuthorNicename] {
			seen[row.AuthorNicename] = true
			batch.Authors = append(batch.Authors, &themes.ThemeAuthor{UserNicename: row.AuthorNicename})
		}
		batch.Themes = append(batch.Themes, row)
	}
	require.NoError(t, store.ApplyBatch(context.Background(), batch))

	stats := themes.Batch{}
	for _, row := range rows {
		stats.ThemeStats = append(stats.ThemeStats, row)
	}
	require.NoError(t, store.ApplyBatch(context.Background(), stats))
}

func TestAuthorDiversityEvenSplit(t *testing.T) {
	t.Parallel()

	store := smemory.New()
	seedThemes(t, store, []*themes.Theme{
		{Slug: "a", AuthorNicename: "alice", Downloaded: 100},
		{Slug: "b", AuthorNicename: "bob", Downloaded: 100},
		{Slug: "c", AuthorNicename: "carol", Downloaded: 100},
	})

	svc := New(store, nil)
	score, err := svc.AuthorDiversity(context.Background(), nil)
	require.NoError(t, err)
	require.InDelta(t, math.Log(3), score.Score, 1e-9)
	require.InDelta(t, math.Log(3), score.Max, 1e-9)
}

func TestAuthorDiversitySingleDominantAuthor(t *testing.T) {
	t.Parallel()

	store := smemory.New()
	seedThemes(t, store, []*themes.Theme{
		{Slug: "a", AuthorNicename: "alice", Downloaded: 300},
		{Slug: "b", AuthorNicename: "bob", Downloaded: 0},
		{Slug: "c", AuthorNicename: "carol", Downloaded: 0},
	})

	svc := New(store, nil)
	score, err := svc.AuthorDiversity(context.Background(), nil)
	require.NoError(t, err)
	// Only alice has downloads, so the distribution is a single point.
	require.Zero(t, score.Score)
	require.Zero(t, score.Max)
}

func TestAuthorDiversityNoDownloads(t *testing.T) {
	t.Parallel()

	store := smemory.New()
	seedThemes(t, store, []*themes.Theme{
		{Slug: "a", AuthorNicename: "alice", Downloaded: 0},
	})

	svc := New(store, nil)
	score, err := svc.AuthorDiversity(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, score.Score)
	require.Zero(t, score.Max)
}

func TestAuthorDiversityExcludesAuthors(t *testing.T) {
	t.Parallel()

	store := smemory.New()
	seedThemes(t, store, []*themes.Theme{
		{Slug: "a", AuthorNicename: "wordpressdotorg", Downloaded: 1000000},
		{Slug: "b", AuthorNicename: "bob", Downloaded: 100},
		{Slug: "c", AuthorNicename: "carol", Downloaded: 100},
	})

	svc := New(store, nil)
	score, err := svc.AuthorDiversity(context.Background(), []string{"wordpressdotorg"})
	require.NoError(t, err)
	require.InDelta(t, math.Log(2), score.Score, 1e-9)
	require.InDelta(t, math.Log(2), score.Max, 1e-9)
}

func TestCurrentTotals(t *testing.T) {
	t.Parallel()

	store := smemory.New()
	seedThemes(t, store, []*themes.Theme{
		{Slug: "a", AuthorNicename: "alice", ActiveInstalls: 100, Downloaded: 400},
		{Slug: "b", AuthorNicename: "bob", ActiveInstalls: 300, Downloaded: 600},
	})

	svc := New(store, nil)
	totals, err := svc.Current(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, int64(400), totals.ActiveInstalls)
	require.Equal(t, int64(200), totals.AverageInstalls)
	require.Equal(t, int64(1000), totals.Downloaded)
	require.Equal(t, int64(2), totals.TotalThemes)
	require.Equal(t, int64(2), totals.TotalAuthors)
}

func TestAverageRatingIgnoresUnrated(t *testing.T) {
	t.Parallel()

	store := smemory.New()
	seedThemes(t, store, []*themes.Theme{
		{Slug: "a", AuthorNicename: "alice", Rating: 80, NumRatings: 10},
		{Slug: "b", AuthorNicename: "bob", Rating: 100, NumRatings: 2},
		{Slug: "c", AuthorNicename: "carol", Rating: 0, NumRatings: 0},
	})

	svc := New(store, nil)
	rating, err := svc.AverageRating(context.Background(), nil)
	require.NoError(t, err)
	require.InDelta(t, 90.0, rating.AverageRating, 1e-9)
	require.Equal(t, int64(2), rating.TotalThemes)
	require.Equal(t, int64(12), rating.TotalRatings)
}

func TestAverageRatingEmptyDirectory(t *testing.T) {
	t.Parallel()

	svc := New(smemory.New(), nil)
	rating, err := svc.AverageRating(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, rating.AverageRating)
	require.Zero(t, rating.TotalThemes)
}
