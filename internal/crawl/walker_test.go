package crawl

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	archmemory "github.com/themewatch/themewatch/internal/archive/memory"
	smemory "github.com/themewatch/themewatch/internal/store/memory"
	"github.com/themewatch/themewatch/internal/themes"
	"github.com/themewatch/themewatch/internal/wpapi"
)

// fakeFetcher serves canned pages and can inject failures.
type fakeFetcher struct {
	mu         sync.Mutex
	infoPages  map[int]*wpapi.ThemesPage
	statsPages map[int]*wpapi.ThemesPage
	tags       *wpapi.TagList
	failFirst  int
	calls      int
}

func (f *fakeFetcher) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return &wpapi.TransportError{Op: "info", URL: "http://test", StatusCode: 500}
	}
	return nil
}

func (f *fakeFetcher) FetchInfoPage(_ context.Context, page int) (*wpapi.ThemesPage, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	p, ok := f.infoPages[page]
	if !ok {
		return nil, fmt.Errorf("no such page %d", page)
	}
	return p, nil
}

func (f *fakeFetcher) FetchStatsPage(_ context.Context, page int) (*wpapi.ThemesPage, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	p, ok := f.statsPages[page]
	if !ok {
		return nil, fmt.Errorf("no such page %d", page)
	}
	return p, nil
}

func (f *fakeFetcher) FetchTags(_ context.Context) (*wpapi.TagList, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.tags, nil
}

func infoPage(page, pages int, slugs ...string) *wpapi.ThemesPage {
	p := &wpapi.ThemesPage{
		Info: wpapi.PageInfo{Page: page, Pages: pages},
		Raw:  []byte(fmt.Sprintf(`{"page":%d}`, page)),
	}
	for _, slug := range slugs {
		p.Themes = append(p.Themes, infoRecord(slug, "author-"+slug, nil))
	}
	return p
}

func newTestWalker(t *testing.T, fetcher Fetcher) (*Walker, *smemory.Store, *archmemory.Archiver, *fakeClock) {
	t.Helper()
	store := smemory.New()
	archiver := archmemory.New()
	clk := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ingestor := NewIngestor(store, clk, false, nil)
	return NewWalker(fetcher, ingestor, store, archiver, clk, nil), store, archiver, clk
}

func markRunning(t *testing.T, store themes.Store, kind themes.CrawlKind, clk *fakeClock) {
	t.Helper()
	require.NoError(t, store.SaveCrawlState(context.Background(), themes.CrawlState{
		Kind:        kind,
		Status:      themes.CrawlRunning,
		StartedAt:   clk.Now(),
		CurrentPage: 1,
	}))
}

func TestWalkerStepContinuesUntilLastPage(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{infoPages: map[int]*wpapi.ThemesPage{
		1: infoPage(1, 3, "one"),
		2: infoPage(2, 3, "two"),
		3: infoPage(3, 3, "three"),
	}}
	walker, store, _, clk := newTestWalker(t, fetcher)
	ctx := context.Background()
	markRunning(t, store, themes.CrawlInfo, clk)

	res, err := walker.Step(ctx, themes.CrawlInfo, 1)
	require.NoError(t, err)
	require.True(t, res.Continues)
	require.Equal(t, 2, res.NextPage)

	state, _, err := store.CrawlState(ctx, themes.CrawlInfo)
	require.NoError(t, err)
	require.Equal(t, themes.CrawlRunning, state.Status)
	require.Equal(t, 2, state.CurrentPage)

	res, err = walker.Step(ctx, themes.CrawlInfo, 2)
	require.NoError(t, err)
	require.True(t, res.Continues)

	res, err = walker.Step(ctx, themes.CrawlInfo, 3)
	require.NoError(t, err)
	require.False(t, res.Continues)

	state, _, err = store.CrawlState(ctx, themes.CrawlInfo)
	require.NoError(t, err)
	require.Equal(t, themes.CrawlFinished, state.Status)

	page, err := store.ListThemes(ctx, themes.ThemeFilter{})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
}

func TestWalkerStepFetchFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{failFirst: 1, infoPages: map[int]*wpapi.ThemesPage{
		1: infoPage(1, 1, "one"),
	}}
	walker, store, _, clk := newTestWalker(t, fetcher)
	ctx := context.Background()
	markRunning(t, store, themes.CrawlInfo, clk)

	_, err := walker.Step(ctx, themes.CrawlInfo, 1)
	require.Error(t, err)

	state, _, err := store.CrawlState(ctx, themes.CrawlInfo)
	require.NoError(t, err)
	require.Equal(t, themes.CrawlRunning, state.Status)
	require.Equal(t, 1, state.CurrentPage)

	// Redelivery of the same page succeeds.
	res, err := walker.Step(ctx, themes.CrawlInfo, 1)
	require.NoError(t, err)
	require.False(t, res.Continues)
}

func TestWalkerTagsFinishInOneStep(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{tags: &wpapi.TagList{
		Tags: []wpapi.Tag{{Slug: "blog", Name: "Blog"}},
		Raw:  []byte(`{"blog":{}}`),
	}}
	walker, store, _, clk := newTestWalker(t, fetcher)
	ctx := context.Background()
	markRunning(t, store, themes.CrawlTags, clk)

	res, err := walker.Step(ctx, themes.CrawlTags, 1)
	require.NoError(t, err)
	require.False(t, res.Continues)

	state, _, err := store.CrawlState(ctx, themes.CrawlTags)
	require.NoError(t, err)
	require.Equal(t, themes.CrawlFinished, state.Status)

	tags, err := store.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
}

func TestWalkerArchivesRawBodies(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{infoPages: map[int]*wpapi.ThemesPage{
		1: infoPage(1, 1, "one"),
	}}
	walker, store, archiver, clk := newTestWalker(t, fetcher)
	ctx := context.Background()
	markRunning(t, store, themes.CrawlInfo, clk)

	_, err := walker.Step(ctx, themes.CrawlInfo, 1)
	require.NoError(t, err)

	body, ok := archiver.Get("info/2025-06-01/page-0001.json")
	require.True(t, ok)
	require.Equal(t, []byte(`{"page":1}`), body)
}

func TestWalkerRunWalksWholeCrawl(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{infoPages: map[int]*wpapi.ThemesPage{
		1: infoPage(1, 2, "one"),
		2: infoPage(2, 2, "two"),
	}}
	walker, store, _, clk := newTestWalker(t, fetcher)
	ctx := context.Background()
	markRunning(t, store, themes.CrawlInfo, clk)

	require.NoError(t, walker.Run(ctx, themes.CrawlInfo))

	state, _, err := store.CrawlState(ctx, themes.CrawlInfo)
	require.NoError(t, err)
	require.Equal(t, themes.CrawlFinished, state.Status)

	page, err := store.ListThemes(ctx, themes.ThemeFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
}

func TestWalkerRunResumesFromCurrentPage(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{infoPages: map[int]*wpapi.ThemesPage{
		2: infoPage(2, 2, "two"),
	}}
	walker, store, _, clk := newTestWalker(t, fetcher)
	ctx := context.Background()

	require.NoError(t, store.SaveCrawlState(ctx, themes.CrawlState{
		Kind:        themes.CrawlInfo,
		Status:      themes.CrawlRunning,
		StartedAt:   clk.Now(),
		CurrentPage: 2,
	}))

	require.NoError(t, walker.Run(ctx, themes.CrawlInfo))

	page, err := store.ListThemes(ctx, themes.ThemeFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "two", page.Themes[0].Slug)
}

func TestWalkerUnknownKind(t *testing.T) {
	t.Parallel()

	walker, _, _, _ := newTestWalker(t, &fakeFetcher{})
	_, err := walker.Step(context.Background(), themes.CrawlKind("bogus"), 1)
	require.Error(t, err)
}
