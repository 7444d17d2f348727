package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/themewatch/themewatch/internal/clock/system"
	"github.com/themewatch/themewatch/internal/crawl"
	qmemory "github.com/themewatch/themewatch/internal/queue/memory"
	"github.com/themewatch/themewatch/internal/stats"
	smemory "github.com/themewatch/themewatch/internal/store/memory"
	"github.com/themewatch/themewatch/internal/themes"
)

func newTestServer(t *testing.T) (*Server, *smemory.Store) {
	t.Helper()
	store := smemory.New()
	scheduler := crawl.NewScheduler(store, qmemory.New(16), system.Clock{}, crawl.SchedulerConfig{
		Cooldowns: map[themes.CrawlKind]time.Duration{
			themes.CrawlInfo:  time.Minute,
			themes.CrawlTags:  time.Minute,
			themes.CrawlStats: 5 * time.Minute,
		},
		StaleAfter: 6 * time.Hour,
	}, nil)
	return NewServer(store, stats.New(store, nil), scheduler, nil), store
}

func seedDirectory(t *testing.T, store *smemory.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.ApplyBatch(ctx, themes.Batch{
		Authors: []*themes.ThemeAuthor{
			{UserNicename: "brainstormforce"},
			{UserNicename: "wordpressdotorg"},
		},
		Tags: []*themes.ThemeTag{
			{Slug: "blog", Name: "Blog"},
			{Slug: "dark", Name: "Dark"},
		},
		Themes: []*themes.Theme{
			{Slug: "astra", Name: "Astra", AuthorNicename: "brainstormforce", TagSlugs: []string{"blog"}},
			{Slug: "blocksy", Name: "Blocksy", AuthorNicename: "brainstormforce"},
			{Slug: "twentytwentyfive", Name: "Twenty Twenty-Five", AuthorNicename: "wordpressdotorg"},
		},
	}))
	require.NoError(t, store.ApplyBatch(ctx, themes.Batch{ThemeStats: []*themes.Theme{
		{Slug: "astra", Rating: 92, NumRatings: 40, ActiveInstalls: 600, Downloaded: 2000},
		{Slug: "blocksy", ActiveInstalls: 400, Downloaded: 1000},
		{Slug: "twentytwentyfive", Rating: 88, NumRatings: 100, ActiveInstalls: 1000000, Downloaded: 9000000},
	}}))
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListThemesPaginationHeaders(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedDirectory(t, store)

	rec := doRequest(t, s, http.MethodGet, "/v1/themes?page=1&per_page=2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-CURRENT-PAGE"))
	require.Equal(t, "2", rec.Header().Get("X-PER-PAGE"))
	require.Equal(t, "3", rec.Header().Get("X-TOTAL-COUNT"))

	body := decodeBody[[]themeResponse](t, rec)
	require.Len(t, body, 2)
	require.Equal(t, "astra", body[0].Slug)
	require.Equal(t, []string{"blog"}, body[0].Tags)
	require.Equal(t, "blocksy", body[1].Slug)
	require.Empty(t, body[1].Tags)
}

func TestListThemesFilters(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedDirectory(t, store)

	rec := doRequest(t, s, http.MethodGet, "/v1/themes?tag=blog")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-TOTAL-COUNT"))

	rec = doRequest(t, s, http.MethodGet, "/v1/themes?name=twenty")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[[]themeResponse](t, rec)
	require.Len(t, body, 1)
	require.Equal(t, "twentytwentyfive", body[0].Slug)
}

func TestGetTheme(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedDirectory(t, store)

	rec := doRequest(t, s, http.MethodGet, "/v1/themes/astra")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[themeResponse](t, rec)
	require.Equal(t, "Astra", body.Name)
	require.Equal(t, int64(600), body.ActiveInstalls)
	require.Equal(t, "brainstormforce", body.AuthorNicename)

	rec = doRequest(t, s, http.MethodGet, "/v1/themes/ghost")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetThemeSnapshots(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedDirectory(t, store)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.ApplyBatch(context.Background(), themes.Batch{
		Snapshots: []*themes.ThemeStatSnapshot{
			{ThemeSlug: "astra", Downloaded: 100, CreatedAt: base},
			{ThemeSlug: "astra", Downloaded: 200, CreatedAt: base.Add(time.Hour)},
		},
	}))

	rec := doRequest(t, s, http.MethodGet, "/v1/themes/astra/snapshots")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[[]snapshotResponse](t, rec)
	require.Len(t, body, 2)
	require.Equal(t, int64(100), body[0].Downloaded)

	rec = doRequest(t, s, http.MethodGet, "/v1/themes/ghost/snapshots")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTags(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedDirectory(t, store)

	rec := doRequest(t, s, http.MethodGet, "/v1/tags")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[[]tagResponse](t, rec)
	require.Len(t, body, 2)
	require.Equal(t, "blog", body[0].Slug)
	require.Equal(t, int64(1), body[0].ThemeCount)
}

func TestStatsEndpoints(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedDirectory(t, store)

	rec := doRequest(t, s, http.MethodGet, "/v1/stats/current")
	require.Equal(t, http.StatusOK, rec.Code)
	totals := decodeBody[themes.RepoStats](t, rec)
	require.Equal(t, int64(3), totals.TotalThemes)

	rec = doRequest(t, s, http.MethodGet, "/v1/stats/current?excluded_authors=wordpressdotorg")
	require.Equal(t, http.StatusOK, rec.Code)
	totals = decodeBody[themes.RepoStats](t, rec)
	require.Equal(t, int64(2), totals.TotalThemes)
	require.Equal(t, int64(1000), totals.ActiveInstalls)

	rec = doRequest(t, s, http.MethodGet, "/v1/stats/diversity")
	require.Equal(t, http.StatusOK, rec.Code)
	score := decodeBody[themes.DiversityScore](t, rec)
	require.Greater(t, score.Score, 0.0)

	// Excluding the dominant publisher leaves a single author, which is a
	// zero-entropy distribution.
	rec = doRequest(t, s, http.MethodGet, "/v1/stats/diversity?excluded_authors=wordpressdotorg")
	require.Equal(t, http.StatusOK, rec.Code)
	score = decodeBody[themes.DiversityScore](t, rec)
	require.Zero(t, score.Score)

	rec = doRequest(t, s, http.MethodGet, "/v1/stats/rating")
	require.Equal(t, http.StatusOK, rec.Code)
	rating := decodeBody[themes.RatingStats](t, rec)
	require.Equal(t, int64(2), rating.TotalThemes)
	require.InDelta(t, 90.0, rating.AverageRating, 1e-9)
}

func TestCrawlLifecycle(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/crawls/bogus")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/crawls/info")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/crawls/info")
	require.Equal(t, http.StatusAccepted, rec.Code)
	started := decodeBody[map[string]any](t, rec)
	require.Equal(t, true, started["started"])

	rec = doRequest(t, s, http.MethodGet, "/v1/crawls/info")
	require.Equal(t, http.StatusOK, rec.Code)
	state := decodeBody[themes.CrawlState](t, rec)
	require.Equal(t, themes.CrawlRunning, state.Status)
	require.Equal(t, 1, state.CurrentPage)

	// A second start while the run is in flight reports a conflict.
	rec = doRequest(t, s, http.MethodPost, "/v1/crawls/info")
	require.Equal(t, http.StatusConflict, rec.Code)
}
