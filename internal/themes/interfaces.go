package themes

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by read-side lookups for absent slugs.
var ErrNotFound = errors.New("not found")

// Store persists crawl state and theme entities. Implementations must
// resolve writes by natural key (theme slug, author nicename, tag slug):
// applying the same batch twice updates rows in place and never duplicates
// them. ApplyBatch is atomic per call.
type Store interface {
	// CrawlState loads the persisted state for a kind. The second return
	// is false when no state has ever been saved.
	CrawlState(ctx context.Context, kind CrawlKind) (CrawlState, bool, error)
	SaveCrawlState(ctx context.Context, state CrawlState) error

	// Batch reads used by the ingestor's resolve phase. Each returns a map
	// indexed by natural key containing only the keys that exist.
	ThemesBySlugs(ctx context.Context, slugs []string) (map[string]*Theme, error)
	AuthorsByNicenames(ctx context.Context, nicenames []string) (map[string]*ThemeAuthor, error)
	TagsBySlugs(ctx context.Context, slugs []string) (map[string]*ThemeTag, error)

	ApplyBatch(ctx context.Context, batch Batch) error

	// Read side.
	ThemeBySlug(ctx context.Context, slug string) (*Theme, error)
	ListThemes(ctx context.Context, filter ThemeFilter) (ThemePage, error)
	ListTags(ctx context.Context) ([]ThemeTag, error)
	SnapshotsByTheme(ctx context.Context, slug string) ([]ThemeStatSnapshot, error)

	// Aggregate rows for the stats service. excludedAuthors filters by
	// author nicename; AuthorDownloads omits authors without downloads.
	RepoTotals(ctx context.Context, excludedAuthors []string) (RepoStats, error)
	AuthorDownloads(ctx context.Context, excludedAuthors []string) ([]AuthorDownloads, error)
	RatingStats(ctx context.Context, excludedAuthors []string) (RatingStats, error)

	Close() error
}

// Queue provides enqueue/dequeue semantics for crawl jobs. Delivery is
// at-least-once; consumers rely on ingestion idempotence.
type Queue interface {
	Enqueue(ctx context.Context, job CrawlJob) error
	Dequeue(ctx context.Context) (CrawlJob, error)
}

// Archiver stores a raw upstream response body and returns a URI.
type Archiver interface {
	Archive(ctx context.Context, path string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
