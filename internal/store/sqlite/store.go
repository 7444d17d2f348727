// Package sqlite provides an embedded single-file Store backed by
// modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/themewatch/themewatch/internal/themes"
)

const defaultPerPage = 24

const themeColumns = `id, slug, name, version, preview_url, screenshot_url,
	homepage, description, template, theme_url, last_updated,
	rating, num_ratings, active_installs, downloaded, usage_score,
	author_id, author_nicename`

// Store implements themes.Store on an embedded SQLite database.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the database at dsn and applies the
// schema.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CrawlState loads the JSON-encoded state from the options table.
func (s *Store) CrawlState(ctx context.Context, kind themes.CrawlKind) (themes.CrawlState, bool, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT value FROM options WHERE name = ?`, kind.StateKey())
	if errors.Is(err, sql.ErrNoRows) {
		return themes.CrawlState{}, false, nil
	}
	if err != nil {
		return themes.CrawlState{}, false, fmt.Errorf("load option %s: %w", kind.StateKey(), err)
	}
	var state themes.CrawlState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return themes.CrawlState{}, false, fmt.Errorf("decode crawl state %s: %w", kind, err)
	}
	return state, true, nil
}

// SaveCrawlState upserts the JSON-encoded state into the options table.
func (s *Store) SaveCrawlState(ctx context.Context, state themes.CrawlState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode crawl state %s: %w", state.Kind, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO options (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`,
		state.Kind.StateKey(), string(raw))
	if err != nil {
		return fmt.Errorf("save option %s: %w", state.Kind.StateKey(), err)
	}
	return nil
}

// ThemesBySlugs loads existing themes keyed by slug.
func (s *Store) ThemesBySlugs(ctx context.Context, slugs []string) (map[string]*themes.Theme, error) {
	out := make(map[string]*themes.Theme, len(slugs))
	if len(slugs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(
		`SELECT `+themeColumns+` FROM themes WHERE slug IN (?)`, slugs)
	if err != nil {
		return nil, fmt.Errorf("build slug query: %w", err)
	}
	var rows []themes.Theme
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select themes by slug: %w", err)
	}
	for i := range rows {
		out[rows[i].Slug] = &rows[i]
	}
	return out, nil
}

// AuthorsByNicenames loads existing authors keyed by nicename.
func (s *Store) AuthorsByNicenames(ctx context.Context, nicenames []string) (map[string]*themes.ThemeAuthor, error) {
	out := make(map[string]*themes.ThemeAuthor, len(nicenames))
	if len(nicenames) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(
		`SELECT id, user_nicename, profile, avatar, display_name
		 FROM theme_authors WHERE user_nicename IN (?)`, nicenames)
	if err != nil {
		return nil, fmt.Errorf("build nicename query: %w", err)
	}
	var rows []themes.ThemeAuthor
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select authors by nicename: %w", err)
	}
	for i := range rows {
		out[rows[i].UserNicename] = &rows[i]
	}
	return out, nil
}

// TagsBySlugs loads existing tags keyed by slug.
func (s *Store) TagsBySlugs(ctx context.Context, slugs []string) (map[string]*themes.ThemeTag, error) {
	out := make(map[string]*themes.ThemeTag, len(slugs))
	if len(slugs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(
		`SELECT id, slug, name, 0 AS theme_count FROM theme_tags WHERE slug IN (?)`, slugs)
	if err != nil {
		return nil, fmt.Errorf("build tag slug query: %w", err)
	}
	var rows []themes.ThemeTag
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select tags by slug: %w", err)
	}
	for i := range rows {
		out[rows[i].Slug] = &rows[i]
	}
	return out, nil
}

// ApplyBatch applies the whole batch in one transaction: authors and tags
// first so theme rows can resolve foreign keys, then themes and their tag
// links, then stat updates and snapshots.
func (s *Store) ApplyBatch(ctx context.Context, batch themes.Batch) error {
	if batch.Empty() {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, author := range batch.Authors {
		if err := upsertAuthor(ctx, tx, author); err != nil {
			return err
		}
	}
	for _, tag := range batch.Tags {
		if err := upsertTag(ctx, tx, tag); err != nil {
			return err
		}
	}
	for _, theme := range batch.Themes {
		if err := upsertTheme(ctx, tx, theme); err != nil {
			return err
		}
	}
	for _, theme := range batch.ThemeStats {
		if err := updateThemeStats(ctx, tx, theme); err != nil {
			return err
		}
	}
	for _, snap := range batch.Snapshots {
		if err := insertSnapshot(ctx, tx, snap); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch tx: %w", err)
	}
	return nil
}

func upsertAuthor(ctx context.Context, tx *sqlx.Tx, author *themes.ThemeAuthor) error {
	if author.ID != 0 {
		// Known row: update in place, covering upstream nicename renames.
		_, err := tx.ExecContext(ctx, `
			UPDATE theme_authors
			SET user_nicename = ?, profile = ?, avatar = ?, display_name = ?
			WHERE id = ?`,
			author.UserNicename, author.Profile, author.Avatar, author.DisplayName, author.ID)
		if err != nil {
			return fmt.Errorf("update author %d: %w", author.ID, err)
		}
		return nil
	}
	err := tx.GetContext(ctx, &author.ID, `
		INSERT INTO theme_authors (user_nicename, profile, avatar, display_name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_nicename) DO UPDATE SET
			profile = excluded.profile,
			avatar = excluded.avatar,
			display_name = excluded.display_name
		RETURNING id`,
		author.UserNicename, author.Profile, author.Avatar, author.DisplayName)
	if err != nil {
		return fmt.Errorf("upsert author %s: %w", author.UserNicename, err)
	}
	return nil
}

func upsertTag(ctx context.Context, tx *sqlx.Tx, tag *themes.ThemeTag) error {
	err := tx.GetContext(ctx, &tag.ID, `
		INSERT INTO theme_tags (slug, name) VALUES (?, ?)
		ON CONFLICT (slug) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE theme_tags.name END
		RETURNING id`,
		tag.Slug, tag.Name)
	if err != nil {
		return fmt.Errorf("upsert tag %s: %w", tag.Slug, err)
	}
	return nil
}

func upsertTheme(ctx context.Context, tx *sqlx.Tx, theme *themes.Theme) error {
	// Stat columns are left alone on conflict; the stats crawl owns them.
	err := tx.GetContext(ctx, &theme.ID, `
		INSERT INTO themes (
			slug, name, version, preview_url, screenshot_url, homepage,
			description, template, theme_url, last_updated,
			author_id, author_nicename
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			COALESCE((SELECT id FROM theme_authors WHERE user_nicename = ?), 0), ?)
		ON CONFLICT (slug) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			preview_url = excluded.preview_url,
			screenshot_url = excluded.screenshot_url,
			homepage = excluded.homepage,
			description = excluded.description,
			template = excluded.template,
			theme_url = excluded.theme_url,
			last_updated = excluded.last_updated,
			author_id = excluded.author_id,
			author_nicename = excluded.author_nicename
		RETURNING id`,
		theme.Slug, theme.Name, theme.Version, theme.PreviewURL, theme.ScreenshotURL,
		theme.Homepage, theme.Description, theme.Template, theme.ThemeURL, theme.LastUpdated,
		theme.AuthorNicename, theme.AuthorNicename)
	if err != nil {
		return fmt.Errorf("upsert theme %s: %w", theme.Slug, err)
	}

	if theme.TagSlugs == nil {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM theme_tag_links WHERE theme_id = ?`, theme.ID); err != nil {
		return fmt.Errorf("clear tag links for %s: %w", theme.Slug, err)
	}
	for _, slug := range theme.TagSlugs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO theme_tag_links (theme_id, tag_id)
			SELECT ?, id FROM theme_tags WHERE slug = ?`,
			theme.ID, slug); err != nil {
			return fmt.Errorf("link tag %s to %s: %w", slug, theme.Slug, err)
		}
	}
	return nil
}

func updateThemeStats(ctx context.Context, tx *sqlx.Tx, theme *themes.Theme) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE themes SET
			rating = ?, num_ratings = ?, active_installs = ?,
			downloaded = ?, usage_score = ?
		WHERE slug = ?`,
		theme.Rating, theme.NumRatings, theme.ActiveInstalls,
		theme.Downloaded, theme.UsageScore, theme.Slug)
	if err != nil {
		return fmt.Errorf("update stats for %s: %w", theme.Slug, err)
	}
	return nil
}

func insertSnapshot(ctx context.Context, tx *sqlx.Tx, snap *themes.ThemeStatSnapshot) error {
	err := tx.GetContext(ctx, &snap.ID, `
		INSERT INTO theme_stat_snapshots (
			theme_id, theme_slug, rating, num_ratings,
			active_installs, downloaded, usage_score, created_at
		) VALUES (
			CASE WHEN ? != 0 THEN ? ELSE COALESCE((SELECT id FROM themes WHERE slug = ?), 0) END,
			?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		snap.ThemeID, snap.ThemeID, snap.ThemeSlug,
		snap.ThemeSlug, snap.Rating, snap.NumRatings,
		snap.ActiveInstalls, snap.Downloaded, snap.UsageScore, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot for %s: %w", snap.ThemeSlug, err)
	}
	return nil
}

// ThemeBySlug returns one theme with its tag links populated.
func (s *Store) ThemeBySlug(ctx context.Context, slug string) (*themes.Theme, error) {
	var theme themes.Theme
	err := s.db.GetContext(ctx, &theme,
		`SELECT `+themeColumns+` FROM themes WHERE slug = ?`, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, themes.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select theme %s: %w", slug, err)
	}
	if err := s.db.SelectContext(ctx, &theme.TagSlugs, `
		SELECT t.slug FROM theme_tags t
		JOIN theme_tag_links l ON l.tag_id = t.id
		WHERE l.theme_id = ?
		ORDER BY t.slug`, theme.ID); err != nil {
		return nil, fmt.Errorf("select tag links for %s: %w", slug, err)
	}
	return &theme, nil
}

// ListThemes filters and paginates the theme listing, ordered by slug.
func (s *Store) ListThemes(ctx context.Context, filter themes.ThemeFilter) (themes.ThemePage, error) {
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}

	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if filter.Name != "" {
		where = append(where, `name LIKE ? COLLATE NOCASE`)
		args = append(args, "%"+filter.Name+"%")
	}
	if filter.Tag != "" {
		where = append(where, `EXISTS (
			SELECT 1 FROM theme_tag_links l
			JOIN theme_tags t ON t.id = l.tag_id
			WHERE l.theme_id = themes.id AND t.slug = ?)`)
		args = append(args, filter.Tag)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	result := themes.ThemePage{Page: page, PerPage: perPage}
	if err := s.db.GetContext(ctx, &result.Total,
		`SELECT COUNT(*) FROM themes`+clause, args...); err != nil {
		return themes.ThemePage{}, fmt.Errorf("count themes: %w", err)
	}

	args = append(args, perPage, (page-1)*perPage)
	if err := s.db.SelectContext(ctx, &result.Themes,
		`SELECT `+themeColumns+` FROM themes`+clause+` ORDER BY slug LIMIT ? OFFSET ?`,
		args...); err != nil {
		return themes.ThemePage{}, fmt.Errorf("select themes: %w", err)
	}
	return result, nil
}

// ListTags returns all tags ordered by slug, with per-tag theme counts.
func (s *Store) ListTags(ctx context.Context) ([]themes.ThemeTag, error) {
	var out []themes.ThemeTag
	err := s.db.SelectContext(ctx, &out, `
		SELECT t.id, t.slug, t.name, COUNT(l.theme_id) AS theme_count
		FROM theme_tags t
		LEFT JOIN theme_tag_links l ON l.tag_id = t.id
		GROUP BY t.id, t.slug, t.name
		ORDER BY t.slug`)
	if err != nil {
		return nil, fmt.Errorf("select tags: %w", err)
	}
	return out, nil
}

// SnapshotsByTheme returns a theme's snapshots in chronological order.
func (s *Store) SnapshotsByTheme(ctx context.Context, slug string) ([]themes.ThemeStatSnapshot, error) {
	var out []themes.ThemeStatSnapshot
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, theme_id, theme_slug, rating, num_ratings,
		       active_installs, downloaded, usage_score, created_at
		FROM theme_stat_snapshots
		WHERE theme_slug = ?
		ORDER BY created_at`, slug)
	if err != nil {
		return nil, fmt.Errorf("select snapshots for %s: %w", slug, err)
	}
	return out, nil
}

// excludeClause builds an author exclusion fragment, starting the WHERE
// chain with prefix ("WHERE" or "AND").
func excludeClause(prefix string, excludedAuthors []string) (string, []any, error) {
	if len(excludedAuthors) == 0 {
		return "", nil, nil
	}
	query, args, err := sqlx.In(` `+prefix+` author_nicename NOT IN (?)`, excludedAuthors)
	if err != nil {
		return "", nil, fmt.Errorf("build exclusion clause: %w", err)
	}
	return query, args, nil
}

// RepoTotals sums installs and downloads over non-excluded themes.
func (s *Store) RepoTotals(ctx context.Context, excludedAuthors []string) (themes.RepoStats, error) {
	clause, args, err := excludeClause("WHERE", excludedAuthors)
	if err != nil {
		return themes.RepoStats{}, err
	}
	var row struct {
		ActiveInstalls int64 `db:"active_installs"`
		Downloaded     int64 `db:"downloaded"`
		TotalThemes    int64 `db:"total_themes"`
		TotalAuthors   int64 `db:"total_authors"`
	}
	err = s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT COALESCE(SUM(active_installs), 0) AS active_installs,
		       COALESCE(SUM(downloaded), 0) AS downloaded,
		       COUNT(*) AS total_themes,
		       COUNT(DISTINCT NULLIF(author_nicename, '')) AS total_authors
		FROM themes`+clause), args...)
	if err != nil {
		return themes.RepoStats{}, fmt.Errorf("select repo totals: %w", err)
	}
	totals := themes.RepoStats{
		ActiveInstalls: row.ActiveInstalls,
		Downloaded:     row.Downloaded,
		TotalThemes:    row.TotalThemes,
		TotalAuthors:   row.TotalAuthors,
	}
	if totals.TotalThemes > 0 {
		totals.AverageInstalls = totals.ActiveInstalls / totals.TotalThemes
	}
	return totals, nil
}

// AuthorDownloads groups downloads by author, highest first. Authors
// without downloads are omitted.
func (s *Store) AuthorDownloads(ctx context.Context, excludedAuthors []string) ([]themes.AuthorDownloads, error) {
	clause, args, err := excludeClause("AND", excludedAuthors)
	if err != nil {
		return nil, err
	}
	var out []themes.AuthorDownloads
	err = s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT author_nicename AS user_nicename,
		       SUM(downloaded) AS downloaded
		FROM themes
		WHERE author_nicename != ''`+clause+`
		GROUP BY author_nicename
		HAVING SUM(downloaded) > 0
		ORDER BY downloaded DESC, user_nicename`), args...)
	if err != nil {
		return nil, fmt.Errorf("select author downloads: %w", err)
	}
	return out, nil
}

// RatingStats aggregates ratings over themes with at least one rating.
func (s *Store) RatingStats(ctx context.Context, excludedAuthors []string) (themes.RatingStats, error) {
	clause, args, err := excludeClause("AND", excludedAuthors)
	if err != nil {
		return themes.RatingStats{}, err
	}
	var row struct {
		AverageRating float64 `db:"average_rating"`
		TotalThemes   int64   `db:"total_themes"`
		TotalRatings  int64   `db:"total_ratings"`
	}
	err = s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT COALESCE(AVG(rating), 0) AS average_rating,
		       COUNT(*) AS total_themes,
		       COALESCE(SUM(num_ratings), 0) AS total_ratings
		FROM themes
		WHERE num_ratings > 0`+clause), args...)
	if err != nil {
		return themes.RatingStats{}, fmt.Errorf("select rating stats: %w", err)
	}
	return themes.RatingStats{
		AverageRating: row.AverageRating,
		TotalThemes:   row.TotalThemes,
		TotalRatings:  row.TotalRatings,
	}, nil
}
