package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/themewatch/themewatch/internal/archive/noop"
	"github.com/themewatch/themewatch/internal/clock/system"
	"github.com/themewatch/themewatch/internal/crawl"
	qmemory "github.com/themewatch/themewatch/internal/queue/memory"
	smemory "github.com/themewatch/themewatch/internal/store/memory"
	"github.com/themewatch/themewatch/internal/themes"
	"github.com/themewatch/themewatch/internal/wpapi"
)

type stubFetcher struct {
	mu        sync.Mutex
	pages     map[int]*wpapi.ThemesPage
	failFirst int
	calls     int
}

func (f *stubFetcher) FetchInfoPage(_ context.Context, page int) (*wpapi.ThemesPage, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()
	if calls <= f.failFirst {
		return nil, &wpapi.TransportError{Op: "info", URL: "http://test", StatusCode: 500}
	}
	p, ok := f.pages[page]
	if !ok {
		return nil, fmt.Errorf("no such page %d", page)
	}
	return p, nil
}

func (f *stubFetcher) FetchStatsPage(ctx context.Context, page int) (*wpapi.ThemesPage, error) {
	return f.FetchInfoPage(ctx, page)
}

func (f *stubFetcher) FetchTags(context.Context) (*wpapi.TagList, error) {
	return nil, fmt.Errorf("not served")
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func stubPage(page, pages int, slug string) *wpapi.ThemesPage {
	return &wpapi.ThemesPage{
		Info: wpapi.PageInfo{Page: page, Pages: pages},
		Themes: []wpapi.Theme{{
			Slug:   slug,
			Name:   slug,
			Author: wpapi.Author{UserNicename: "author-" + slug},
		}},
		Raw: []byte(fmt.Sprintf(`{"page":%d}`, page)),
	}
}

func newTestWorker(t *testing.T, fetcher crawl.Fetcher, policy crawl.RetryPolicy) (*Worker, *smemory.Store, *qmemory.Queue) {
	t.Helper()
	store := smemory.New()
	queue := qmemory.New(16)
	clk := system.Clock{}
	ingestor := crawl.NewIngestor(store, clk, false, nil)
	walker := crawl.NewWalker(fetcher, ingestor, store, noop.New(), clk, nil)
	return New(queue, walker, policy, nil), store, queue
}

func markRunning(t *testing.T, store themes.Store, kind themes.CrawlKind) {
	t.Helper()
	require.NoError(t, store.SaveCrawlState(context.Background(), themes.CrawlState{
		Kind:        kind,
		Status:      themes.CrawlRunning,
		StartedAt:   time.Now().UTC(),
		CurrentPage: 1,
	}))
}

func waitForFinished(t *testing.T, store themes.Store, kind themes.CrawlKind) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, found, err := store.CrawlState(context.Background(), kind)
		return err == nil && found && state.Status == themes.CrawlFinished
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorkerWalksCrawlAcrossJobs(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[int]*wpapi.ThemesPage{
		1: stubPage(1, 3, "one"),
		2: stubPage(2, 3, "two"),
		3: stubPage(3, 3, "three"),
	}}
	w, store, queue := newTestWorker(t, fetcher, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	markRunning(t, store, themes.CrawlInfo)
	require.NoError(t, queue.Enqueue(ctx, themes.CrawlJob{Kind: themes.CrawlInfo, Page: 1}))

	go w.Run(ctx)

	waitForFinished(t, store, themes.CrawlInfo)

	page, err := store.ListThemes(ctx, themes.ThemeFilter{})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
}

func TestWorkerRetriesTransportFailures(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{
		failFirst: 1,
		pages:     map[int]*wpapi.ThemesPage{1: stubPage(1, 1, "one")},
	}
	w, store, queue := newTestWorker(t, fetcher, crawl.NewExponentialRetryPolicy(3))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	markRunning(t, store, themes.CrawlInfo)
	require.NoError(t, queue.Enqueue(ctx, themes.CrawlJob{Kind: themes.CrawlInfo, Page: 1}))

	go w.Run(ctx)

	waitForFinished(t, store, themes.CrawlInfo)
	require.Equal(t, 2, fetcher.callCount())
}

func TestWorkerAbandonsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{
		failFirst: 100,
		pages:     map[int]*wpapi.ThemesPage{1: stubPage(1, 1, "one")},
	}
	w, store, queue := newTestWorker(t, fetcher, crawl.NewExponentialRetryPolicy(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	markRunning(t, store, themes.CrawlInfo)
	require.NoError(t, queue.Enqueue(ctx, themes.CrawlJob{Kind: themes.CrawlInfo, Page: 1}))

	go w.Run(ctx)

	// Two retries plus the first try, then the job is dropped.
	require.Eventually(t, func() bool {
		return fetcher.callCount() >= 3
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 3, fetcher.callCount())

	state, _, err := store.CrawlState(ctx, themes.CrawlInfo)
	require.NoError(t, err)
	require.Equal(t, themes.CrawlRunning, state.Status)
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	w, _, _ := newTestWorker(t, &stubFetcher{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
