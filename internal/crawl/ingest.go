package crawl

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/themewatch/themewatch/internal/metrics"
	"github.com/themewatch/themewatch/internal/themes"
	"github.com/themewatch/themewatch/internal/wpapi"
)

// Layouts the upstream uses for last_updated fields.
const (
	lastUpdatedTimeLayout = "2006-01-02 15:04:05"
	lastUpdatedDateLayout = "2006-01-02"
)

// Ingestor reconciles raw API pages against the store. Each call is a
// self-contained resolve/reconcile/persist pass with per-batch indexes;
// nothing is cached across calls, so concurrent workers stay independent.
type Ingestor struct {
	store  themes.Store
	clock  themes.Clock
	logger *zap.Logger

	// snapshots controls whether stats ingestion appends a
	// ThemeStatSnapshot per theme in addition to refreshing the theme's
	// current stat columns.
	snapshots bool
}

// NewIngestor constructs an Ingestor.
func NewIngestor(store themes.Store, clock themes.Clock, snapshots bool, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		store:     store,
		clock:     clock,
		logger:    logger,
		snapshots: snapshots,
	}
}

// IngestInfoPage upserts one page of theme metadata records. Records
// missing a slug or author nicename are skipped; a bad record never fails
// the page. Tag links are replaced wholesale from the record's tag list,
// silently dropping slugs the tags crawl has not seen yet.
func (in *Ingestor) IngestInfoPage(ctx context.Context, records []wpapi.Theme) error {
	if len(records) == 0 {
		return nil
	}

	slugs := make([]string, 0, len(records))
	nicenames := make([]string, 0, len(records))
	tagSlugSet := make(map[string]struct{})
	skipped := 0
	for _, rec := range records {
		if rec.Slug == "" || rec.Author.UserNicename == "" {
			skipped++
			continue
		}
		slugs = append(slugs, rec.Slug)
		nicenames = append(nicenames, rec.Author.UserNicename)
		for slug := range rec.Tags {
			tagSlugSet[slug] = struct{}{}
		}
	}
	if skipped > 0 {
		in.logger.Warn("skipping records without natural keys", zap.Int("count", skipped))
		metrics.ObserveSkipped("missing_key", skipped)
	}
	if len(slugs) == 0 {
		return nil
	}
	tagSlugs := make([]string, 0, len(tagSlugSet))
	for slug := range tagSlugSet {
		tagSlugs = append(tagSlugs, slug)
	}

	existing, err := in.store.ThemesBySlugs(ctx, slugs)
	if err != nil {
		return fmt.Errorf("load themes by slug: %w", err)
	}
	authors, err := in.store.AuthorsByNicenames(ctx, nicenames)
	if err != nil {
		return fmt.Errorf("load authors by nicename: %w", err)
	}
	tags, err := in.store.TagsBySlugs(ctx, tagSlugs)
	if err != nil {
		return fmt.Errorf("load tags by slug: %w", err)
	}

	batch := themes.Batch{}
	seenAuthors := make(map[string]bool, len(authors))
	created, updated := 0, 0

	for _, rec := range records {
		if rec.Slug == "" || rec.Author.UserNicename == "" {
			continue
		}

		theme := existing[rec.Slug]
		if theme == nil {
			theme = &themes.Theme{Slug: rec.Slug}
			existing[rec.Slug] = theme
			created++
		} else {
			updated++
		}

		author := in.reconcileAuthor(rec.Author, theme, authors)
		if !seenAuthors[author.UserNicename] {
			seenAuthors[author.UserNicename] = true
			batch.Authors = append(batch.Authors, author)
		}

		applyInfo(theme, rec)
		theme.AuthorNicename = author.UserNicename

		if len(rec.Tags) > 0 {
			known := make([]string, 0, len(rec.Tags))
			for slug := range rec.Tags {
				if _, ok := tags[slug]; ok {
					known = append(known, slug)
				}
			}
			sort.Strings(known)
			theme.TagSlugs = known
		} else {
			theme.TagSlugs = nil
		}

		batch.Themes = append(batch.Themes, theme)
	}

	if err := in.store.ApplyBatch(ctx, batch); err != nil {
		return fmt.Errorf("persist info page: %w", err)
	}
	metrics.ObserveThemes(created, updated)
	in.logger.Info("ingested theme infos",
		zap.Int("records", len(batch.Themes)),
		zap.Int("created", created),
		zap.Int("updated", updated),
	)
	return nil
}

// reconcileAuthor resolves the author for a record against the per-batch
// index. When the nicename is unseen but the theme already exists, the
// theme's current author row is updated in place (last-write-wins, which
// also covers upstream nicename renames).
func (in *Ingestor) reconcileAuthor(
	raw wpapi.Author,
	theme *themes.Theme,
	index map[string]*themes.ThemeAuthor,
) *themes.ThemeAuthor {
	author := index[raw.UserNicename]
	if author == nil {
		author = &themes.ThemeAuthor{}
		if theme.ID != 0 && theme.AuthorID != 0 {
			author.ID = theme.AuthorID
		}
		index[raw.UserNicename] = author
	}
	author.UserNicename = raw.UserNicename
	author.Profile = raw.Profile
	author.Avatar = raw.Avatar
	author.DisplayName = raw.Name()
	return author
}

// applyInfo maps the static metadata fields of a raw record onto the
// entity. Stat columns are deliberately untouched: the info projection
// masks them out upstream.
func applyInfo(theme *themes.Theme, rec wpapi.Theme) {
	theme.Name = rec.Name
	theme.Version = string(rec.Version)
	theme.PreviewURL = rec.PreviewURL
	theme.ScreenshotURL = rec.ScreenshotURL
	theme.Homepage = rec.Homepage
	theme.Description = rec.Description
	theme.Template = rec.Template
	theme.ThemeURL = string(rec.ThemeURL)
	if t, ok := parseLastUpdated(rec); ok {
		theme.LastUpdated = t
	}
}

func parseLastUpdated(rec wpapi.Theme) (time.Time, bool) {
	if rec.LastUpdatedTime != "" {
		if t, err := time.Parse(lastUpdatedTimeLayout, rec.LastUpdatedTime); err == nil {
			return t.UTC(), true
		}
	}
	if rec.LastUpdated != "" {
		if t, err := time.Parse(lastUpdatedDateLayout, rec.LastUpdated); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// IngestStatsPage refreshes the stat columns of known themes and, when
// snapshots are enabled, appends one ThemeStatSnapshot per theme. Slugs
// the info crawl has not ingested yet are skipped; stats never create
// themes.
func (in *Ingestor) IngestStatsPage(ctx context.Context, records []wpapi.Theme) error {
	if len(records) == 0 {
		return nil
	}

	slugs := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.Slug != "" {
			slugs = append(slugs, rec.Slug)
		}
	}
	existing, err := in.store.ThemesBySlugs(ctx, slugs)
	if err != nil {
		return fmt.Errorf("load themes by slug: %w", err)
	}

	batch := themes.Batch{}
	now := in.clock.Now()
	unknown := 0

	for _, rec := range records {
		theme := existing[rec.Slug]
		if theme == nil {
			unknown++
			continue
		}

		theme.Rating = rec.Rating
		theme.NumRatings = int64(rec.NumRatings)
		theme.ActiveInstalls = int64(rec.ActiveInstalls)
		theme.Downloaded = int64(rec.Downloaded)
		theme.UsageScore = themes.UsageScore(theme.ActiveInstalls, theme.Downloaded)
		batch.ThemeStats = append(batch.ThemeStats, theme)

		if in.snapshots {
			batch.Snapshots = append(batch.Snapshots, &themes.ThemeStatSnapshot{
				ThemeID:        theme.ID,
				ThemeSlug:      theme.Slug,
				Rating:         theme.Rating,
				NumRatings:     theme.NumRatings,
				ActiveInstalls: theme.ActiveInstalls,
				Downloaded:     theme.Downloaded,
				UsageScore:     theme.UsageScore,
				CreatedAt:      now,
			})
		}
	}
	if unknown > 0 {
		in.logger.Debug("stats for unknown themes skipped", zap.Int("count", unknown))
		metrics.ObserveSkipped("unknown_slug", unknown)
	}

	if batch.Empty() {
		return nil
	}
	if err := in.store.ApplyBatch(ctx, batch); err != nil {
		return fmt.Errorf("persist stats page: %w", err)
	}
	metrics.ObserveSnapshots(len(batch.Snapshots))
	in.logger.Info("ingested theme stats",
		zap.Int("themes", len(batch.ThemeStats)),
		zap.Int("snapshots", len(batch.Snapshots)),
	)
	return nil
}

// IngestTags upserts the tag dictionary: create when absent, backfill the
// name when present. No relationship side effects.
func (in *Ingestor) IngestTags(ctx context.Context, tags []wpapi.Tag) error {
	if len(tags) == 0 {
		return nil
	}

	slugs := make([]string, 0, len(tags))
	skipped := 0
	for _, tag := range tags {
		if tag.Slug == "" {
			skipped++
			continue
		}
		slugs = append(slugs, tag.Slug)
	}
	if skipped > 0 {
		metrics.ObserveSkipped("missing_key", skipped)
	}
	if len(slugs) == 0 {
		return nil
	}

	existing, err := in.store.TagsBySlugs(ctx, slugs)
	if err != nil {
		return fmt.Errorf("load tags by slug: %w", err)
	}

	batch := themes.Batch{}
	for _, raw := range tags {
		if raw.Slug == "" {
			continue
		}
		tag := existing[raw.Slug]
		if tag == nil {
			tag = &themes.ThemeTag{Slug: raw.Slug}
			existing[raw.Slug] = tag
		}
		if raw.Name != "" {
			tag.Name = raw.Name
		}
		batch.Tags = append(batch.Tags, tag)
	}

	if err := in.store.ApplyBatch(ctx, batch); err != nil {
		return fmt.Errorf("persist tags: %w", err)
	}
	in.logger.Info("ingested theme tags", zap.Int("count", len(batch.Tags)))
	return nil
}
