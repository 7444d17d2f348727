// Package memory provides an in-memory Store for development and testing.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/themewatch/themewatch/internal/themes"
)

const defaultPerPage = 24

// Store keeps all entities in maps indexed by natural key. Batches are
// applied under one lock, so ApplyBatch is atomic like the SQL providers.
type Store struct {
	mu sync.RWMutex

	states  map[themes.CrawlKind]themes.CrawlState
	bySlug  map[string]*themes.Theme
	authors map[int64]*themes.ThemeAuthor
	// authorIdx maps user nicename to author row ID.
	authorIdx map[string]int64
	tags      map[string]*themes.ThemeTag
	// links maps theme slug to its sorted tag slugs.
	links     map[string][]string
	snapshots []themes.ThemeStatSnapshot

	nextThemeID    int64
	nextAuthorID   int64
	nextTagID      int64
	nextSnapshotID int64
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		states:    make(map[themes.CrawlKind]themes.CrawlState),
		bySlug:    make(map[string]*themes.Theme),
		authors:   make(map[int64]*themes.ThemeAuthor),
		authorIdx: make(map[string]int64),
		tags:      make(map[string]*themes.ThemeTag),
		links:     make(map[string][]string),
	}
}

// CrawlState loads the persisted state for a kind.
func (s *Store) CrawlState(_ context.Context, kind themes.CrawlKind) (themes.CrawlState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[kind]
	return state, ok, nil
}

// SaveCrawlState persists the state for its kind.
func (s *Store) SaveCrawlState(_ context.Context, state themes.CrawlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Kind] = state
	return nil
}

// ThemesBySlugs returns copies of the themes that exist, keyed by slug.
func (s *Store) ThemesBySlugs(_ context.Context, slugs []string) (map[string]*themes.Theme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*themes.Theme, len(slugs))
	for _, slug := range slugs {
		if theme, ok := s.bySlug[slug]; ok {
			cp := *theme
			out[slug] = &cp
		}
	}
	return out, nil
}

// AuthorsByNicenames returns copies of the authors that exist, keyed by
// user nicename.
func (s *Store) AuthorsByNicenames(_ context.Context, nicenames []string) (map[string]*themes.ThemeAuthor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*themes.ThemeAuthor, len(nicenames))
	for _, nicename := range nicenames {
		if id, ok := s.authorIdx[nicename]; ok {
			cp := *s.authors[id]
			out[nicename] = &cp
		}
	}
	return out, nil
}

// TagsBySlugs returns copies of the tags that exist, keyed by slug.
func (s *Store) TagsBySlugs(_ context.Context, slugs []string) (map[string]*themes.ThemeTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*themes.ThemeTag, len(slugs))
	for _, slug := range slugs {
		if tag, ok := s.tags[slug]; ok {
			cp := *tag
			out[slug] = &cp
		}
	}
	return out, nil
}

// ApplyBatch upserts the batch's entities by natural key under one lock.
// Row IDs are written back to the batch entities.
func (s *Store) ApplyBatch(_ context.Context, batch themes.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, author := range batch.Authors {
		s.upsertAuthor(author)
	}
	for _, tag := range batch.Tags {
		s.upsertTag(tag)
	}
	for _, theme := range batch.Themes {
		s.upsertTheme(theme)
	}
	for _, theme := range batch.ThemeStats {
		row, ok := s.bySlug[theme.Slug]
		if !ok {
			continue
		}
		row.Rating = theme.Rating
		row.NumRatings = theme.NumRatings
		row.ActiveInstalls = theme.ActiveInstalls
		row.Downloaded = theme.Downloaded
		row.UsageScore = theme.UsageScore
		theme.ID = row.ID
	}
	for _, snap := range batch.Snapshots {
		cp := *snap
		if cp.ThemeID == 0 {
			if row, ok := s.bySlug[cp.ThemeSlug]; ok {
				cp.ThemeID = row.ID
			}
		}
		s.nextSnapshotID++
		cp.ID = s.nextSnapshotID
		snap.ID = cp.ID
		s.snapshots = append(s.snapshots, cp)
	}
	return nil
}

func (s *Store) upsertAuthor(author *themes.ThemeAuthor) {
	var row *themes.ThemeAuthor
	switch {
	case author.ID != 0:
		row = s.authors[author.ID]
	default:
		if id, ok := s.authorIdx[author.UserNicename]; ok {
			row = s.authors[id]
		}
	}
	if row == nil {
		s.nextAuthorID++
		row = &themes.ThemeAuthor{ID: s.nextAuthorID}
		s.authors[row.ID] = row
	}
	if row.UserNicename != author.UserNicename {
		delete(s.authorIdx, row.UserNicename)
	}
	row.UserNicename = author.UserNicename
	row.Profile = author.Profile
	row.Avatar = author.Avatar
	row.DisplayName = author.DisplayName
	s.authorIdx[row.UserNicename] = row.ID
	author.ID = row.ID
}

func (s *Store) upsertTag(tag *themes.ThemeTag) {
	row, ok := s.tags[tag.Slug]
	if !ok {
		s.nextTagID++
		row = &themes.ThemeTag{ID: s.nextTagID, Slug: tag.Slug}
		s.tags[tag.Slug] = row
	}
	if tag.Name != "" {
		row.Name = tag.Name
	}
	tag.ID = row.ID
}

func (s *Store) upsertTheme(theme *themes.Theme) {
	row, ok := s.bySlug[theme.Slug]
	if !ok {
		s.nextThemeID++
		row = &themes.Theme{ID: s.nextThemeID, Slug: theme.Slug}
		s.bySlug[theme.Slug] = row
	}
	row.Name = theme.Name
	row.Version = theme.Version
	row.PreviewURL = theme.PreviewURL
	row.ScreenshotURL = theme.ScreenshotURL
	row.Homepage = theme.Homepage
	row.Description = theme.Description
	row.Template = theme.Template
	row.ThemeURL = theme.ThemeURL
	row.LastUpdated = theme.LastUpdated
	row.AuthorNicename = theme.AuthorNicename
	if id, ok := s.authorIdx[theme.AuthorNicename]; ok {
		row.AuthorID = id
	}
	theme.ID = row.ID
	theme.AuthorID = row.AuthorID

	if theme.TagSlugs != nil {
		linked := make([]string, 0, len(theme.TagSlugs))
		for _, slug := range theme.TagSlugs {
			if _, ok := s.tags[slug]; ok {
				linked = append(linked, slug)
			}
		}
		sort.Strings(linked)
		s.links[theme.Slug] = linked
	}
}

// ThemeBySlug returns a copy of one theme with its tag links populated.
func (s *Store) ThemeBySlug(_ context.Context, slug string) (*themes.Theme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.bySlug[slug]
	if !ok {
		return nil, themes.ErrNotFound
	}
	cp := *row
	cp.TagSlugs = append([]string(nil), s.links[slug]...)
	return &cp, nil
}

// ListThemes filters and paginates the theme listing, ordered by slug.
func (s *Store) ListThemes(_ context.Context, filter themes.ThemeFilter) (themes.ThemePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	name := strings.ToLower(filter.Name)

	matched := make([]*themes.Theme, 0, len(s.bySlug))
	for slug, row := range s.bySlug {
		if name != "" && !strings.Contains(strings.ToLower(row.Name), name) {
			continue
		}
		if filter.Tag != "" && !containsString(s.links[slug], filter.Tag) {
			continue
		}
		matched = append(matched, row)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Slug < matched[j].Slug })

	result := themes.ThemePage{Total: len(matched), Page: page, PerPage: perPage}
	start := (page - 1) * perPage
	if start >= len(matched) {
		return result, nil
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}
	for _, row := range matched[start:end] {
		cp := *row
		cp.TagSlugs = append([]string(nil), s.links[row.Slug]...)
		result.Themes = append(result.Themes, cp)
	}
	return result, nil
}

// ListTags returns all tags ordered by slug, with per-tag theme counts.
func (s *Store) ListTags(_ context.Context) ([]themes.ThemeTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, slugs := range s.links {
		for _, slug := range slugs {
			counts[slug]++
		}
	}

	out := make([]themes.ThemeTag, 0, len(s.tags))
	for _, tag := range s.tags {
		cp := *tag
		cp.ThemeCount = counts[tag.Slug]
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// SnapshotsByTheme returns a theme's snapshots in chronological order.
func (s *Store) SnapshotsByTheme(_ context.Context, slug string) ([]themes.ThemeStatSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []themes.ThemeStatSnapshot
	for _, snap := range s.snapshots {
		if snap.ThemeSlug == slug {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RepoTotals sums installs and downloads over themes whose author is not
// excluded.
func (s *Store) RepoTotals(_ context.Context, excludedAuthors []string) (themes.RepoStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := toSet(excludedAuthors)
	var totals themes.RepoStats
	authorSet := make(map[string]struct{})
	for _, row := range s.bySlug {
		if _, skip := excluded[row.AuthorNicename]; skip {
			continue
		}
		totals.ActiveInstalls += row.ActiveInstalls
		totals.Downloaded += row.Downloaded
		totals.TotalThemes++
		if row.AuthorNicename != "" {
			authorSet[row.AuthorNicename] = struct{}{}
		}
	}
	totals.TotalAuthors = int64(len(authorSet))
	if totals.TotalThemes > 0 {
		totals.AverageInstalls = totals.ActiveInstalls / totals.TotalThemes
	}
	return totals, nil
}

// AuthorDownloads groups downloads by author, omitting excluded authors
// and authors without downloads. Ordered by downloads, highest first.
func (s *Store) AuthorDownloads(_ context.Context, excludedAuthors []string) ([]themes.AuthorDownloads, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := toSet(excludedAuthors)
	byAuthor := make(map[string]int64)
	for _, row := range s.bySlug {
		if _, skip := excluded[row.AuthorNicename]; skip {
			continue
		}
		if row.AuthorNicename == "" {
			continue
		}
		byAuthor[row.AuthorNicename] += row.Downloaded
	}

	out := make([]themes.AuthorDownloads, 0, len(byAuthor))
	for nicename, downloaded := range byAuthor {
		if downloaded <= 0 {
			continue
		}
		out = append(out, themes.AuthorDownloads{UserNicename: nicename, Downloaded: downloaded})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Downloaded != out[j].Downloaded {
			return out[i].Downloaded > out[j].Downloaded
		}
		return out[i].UserNicename < out[j].UserNicename
	})
	return out, nil
}

// RatingStats aggregates ratings over themes with at least one rating.
func (s *Store) RatingStats(_ context.Context, excludedAuthors []string) (themes.RatingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := toSet(excludedAuthors)
	var stats themes.RatingStats
	var sum float64
	for _, row := range s.bySlug {
		if _, skip := excluded[row.AuthorNicename]; skip {
			continue
		}
		if row.NumRatings <= 0 {
			continue
		}
		sum += row.Rating
		stats.TotalThemes++
		stats.TotalRatings += row.NumRatings
	}
	if stats.TotalThemes > 0 {
		stats.AverageRating = sum / float64(stats.TotalThemes)
	}
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
