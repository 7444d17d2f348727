package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/themewatch/themewatch/internal/themes"
)

func TestQueueRoundTrip(t *testing.T) {
	t.Parallel()

	q := New(4)
	ctx := context.Background()

	want := themes.CrawlJob{Kind: themes.CrawlInfo, Page: 7, Attempt: 1}
	require.NoError(t, q.Enqueue(ctx, want))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestQueuePreservesOrder(t *testing.T) {
	t.Parallel()

	q := New(4)
	ctx := context.Background()

	for page := 1; page <= 3; page++ {
		require.NoError(t, q.Enqueue(ctx, themes.CrawlJob{Kind: themes.CrawlStats, Page: page}))
	}
	for page := 1; page <= 3; page++ {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, page, job.Page)
	}
}

func TestQueueDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueEnqueueRespectsContextWhenFull(t *testing.T) {
	t.Parallel()

	q := New(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, themes.CrawlJob{Kind: themes.CrawlInfo, Page: 1}))

	full, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(full, themes.CrawlJob{Kind: themes.CrawlInfo, Page: 2})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	q := New(1)
	q.Close()
	q.Close()

	_, err := q.Dequeue(context.Background())
	require.Error(t, err)
}
