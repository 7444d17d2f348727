package crawl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	qmemory "github.com/themewatch/themewatch/internal/queue/memory"
	smemory "github.com/themewatch/themewatch/internal/store/memory"
	"github.com/themewatch/themewatch/internal/themes"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestScheduler(t *testing.T, clk *fakeClock) (*Scheduler, *smemory.Store, *qmemory.Queue) {
	t.Helper()
	store := smemory.New()
	queue := qmemory.New(16)
	sched := NewScheduler(store, queue, clk, SchedulerConfig{
		Cooldowns: map[themes.CrawlKind]time.Duration{
			themes.CrawlInfo:  time.Minute,
			themes.CrawlTags:  time.Minute,
			themes.CrawlStats: 5 * time.Minute,
		},
		StaleAfter: 6 * time.Hour,
	}, nil)
	return sched, store, queue
}

func TestSchedulerStartsOnFirstCheck(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sched, store, queue := newTestScheduler(t, clk)
	ctx := context.Background()

	started, err := sched.MaybeStart(ctx, themes.CrawlInfo)
	require.NoError(t, err)
	require.True(t, started)

	state, found, err := store.CrawlState(ctx, themes.CrawlInfo)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, themes.CrawlRunning, state.Status)
	require.Equal(t, clk.Now(), state.StartedAt)
	require.Equal(t, 1, state.CurrentPage)

	job, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, themes.CrawlJob{Kind: themes.CrawlInfo, Page: 1}, job)
}

func TestSchedulerRespectsCooldown(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sched, store, _ := newTestScheduler(t, clk)
	ctx := context.Background()

	require.NoError(t, store.SaveCrawlState(ctx, themes.CrawlState{
		Kind:      themes.CrawlInfo,
		Status:    themes.CrawlFinished,
		StartedAt: clk.Now().Add(-30 * time.Second),
	}))

	started, err := sched.MaybeStart(ctx, themes.CrawlInfo)
	require.NoError(t, err)
	require.False(t, started)

	clk.Advance(31 * time.Second)
	started, err = sched.MaybeStart(ctx, themes.CrawlInfo)
	require.NoError(t, err)
	require.True(t, started)
}

func TestSchedulerSkipsRunningCrawl(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sched, store, _ := newTestScheduler(t, clk)
	ctx := context.Background()

	require.NoError(t, store.SaveCrawlState(ctx, themes.CrawlState{
		Kind:      themes.CrawlInfo,
		Status:    themes.CrawlRunning,
		StartedAt: clk.Now().Add(-time.Hour),
	}))

	started, err := sched.MaybeStart(ctx, themes.CrawlInfo)
	require.NoError(t, err)
	require.False(t, started)
}

func TestSchedulerRestartsAbandonedCrawl(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sched, store, queue := newTestScheduler(t, clk)
	ctx := context.Background()

	require.NoError(t, store.SaveCrawlState(ctx, themes.CrawlState{
		Kind:        themes.CrawlStats,
		Status:      themes.CrawlRunning,
		StartedAt:   clk.Now().Add(-7 * time.Hour),
		CurrentPage: 12,
	}))

	started, err := sched.MaybeStart(ctx, themes.CrawlStats)
	require.NoError(t, err)
	require.True(t, started)

	state, _, err := store.CrawlState(ctx, themes.CrawlStats)
	require.NoError(t, err)
	require.Equal(t, themes.CrawlRunning, state.Status)
	require.Equal(t, 1, state.CurrentPage)
	require.Equal(t, clk.Now(), state.StartedAt)

	job, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, job.Page)
}

func TestSchedulerKindsAreIndependent(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sched, store, _ := newTestScheduler(t, clk)
	ctx := context.Background()

	require.NoError(t, store.SaveCrawlState(ctx, themes.CrawlState{
		Kind:      themes.CrawlInfo,
		Status:    themes.CrawlRunning,
		StartedAt: clk.Now(),
	}))

	started, err := sched.MaybeStart(ctx, themes.CrawlStats)
	require.NoError(t, err)
	require.True(t, started)
}
