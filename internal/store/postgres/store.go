// Package postgres provides a Postgres-backed Store on pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/themewatch/themewatch/internal/themes"
)

const defaultPerPage = 24

// Schema is applied on connect; all statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS options (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS theme_authors (
	id BIGSERIAL PRIMARY KEY,
	user_nicename TEXT UNIQUE NOT NULL,
	profile TEXT NOT NULL DEFAULT '',
	avatar TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS themes (
	id BIGSERIAL PRIMARY KEY,
	slug TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	preview_url TEXT NOT NULL DEFAULT '',
	screenshot_url TEXT NOT NULL DEFAULT '',
	homepage TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	template TEXT NOT NULL DEFAULT '',
	theme_url TEXT NOT NULL DEFAULT '',
	last_updated TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	rating DOUBLE PRECISION NOT NULL DEFAULT 0,
	num_ratings BIGINT NOT NULL DEFAULT 0,
	active_installs BIGINT NOT NULL DEFAULT 0,
	downloaded BIGINT NOT NULL DEFAULT 0,
	usage_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	author_id BIGINT NOT NULL DEFAULT 0,
	author_nicename TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_themes_author_nicename ON themes(author_nicename);

CREATE TABLE IF NOT EXISTS theme_tags (
	id BIGSERIAL PRIMARY KEY,
	slug TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS theme_tag_links (
	theme_id BIGINT NOT NULL REFERENCES themes(id) ON DELETE CASCADE,
	tag_id BIGINT NOT NULL REFERENCES theme_tags(id) ON DELETE CASCADE,
	PRIMARY KEY (theme_id, tag_id)
);

CREATE TABLE IF NOT EXISTS theme_stat_snapshots (
	id BIGSERIAL PRIMARY KEY,
	theme_id BIGINT NOT NULL,
	theme_slug TEXT NOT NULL,
	rating DOUBLE PRECISION NOT NULL DEFAULT 0,
	num_ratings BIGINT NOT NULL DEFAULT 0,
	active_installs BIGINT NOT NULL DEFAULT 0,
	downloaded BIGINT NOT NULL DEFAULT 0,
	usage_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_slug_created
	ON theme_stat_snapshots(theme_slug, created_at);
`

const themeColumns = `id, slug, name, version, preview_url, screenshot_url,
	homepage, description, template, theme_url, last_updated,
	rating, num_ratings, active_installs, downloaded, usage_score,
	author_id, author_nicename`

// pool is the slice of pgxpool.Pool the store uses, kept narrow so tests
// can substitute a pgxmock pool.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Store implements themes.Store on Postgres.
type Store struct {
	pool pool
}

// New connects to Postgres and applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := p.Exec(ctx, Schema); err != nil {
		p.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing). The schema is not applied.
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// CrawlState loads the JSON-encoded state from the options table.
func (s *Store) CrawlState(ctx context.Context, kind themes.CrawlKind) (themes.CrawlState, bool, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM options WHERE name = $1`, kind.StateKey()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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
	_, err = s.pool.Exec(ctx, `
		INSERT INTO options (name, value) VALUES ($1, $2)
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
	rows, err := s.pool.Query(ctx,
		`SELECT `+themeColumns+` FROM themes WHERE slug = ANY($1)`, slugs)
	if err != nil {
		return nil, fmt.Errorf("select themes by slug: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		theme, err := scanTheme(rows)
		if err != nil {
			return nil, err
		}
		out[theme.Slug] = theme
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate themes by slug: %w", err)
	}
	return out, nil
}

// AuthorsByNicenames loads existing authors keyed by nicename.
func (s *Store) AuthorsByNicenames(ctx context.Context, nicenames []string) (map[string]*themes.ThemeAuthor, error) {
	out := make(map[string]*themes.ThemeAuthor, len(nicenames))
	if len(nicenames) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_nicename, profile, avatar, display_name
		FROM theme_authors WHERE user_nicename = ANY($1)`, nicenames)
	if err != nil {
		return nil, fmt.Errorf("select authors by nicename: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var author themes.ThemeAuthor
		if err := rows.Scan(&author.ID, &author.UserNicename,
			&author.Profile, &author.Avatar, &author.DisplayName); err != nil {
			return nil, fmt.Errorf("scan author: %w", err)
		}
		out[author.UserNicename] = &author
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authors: %w", err)
	}
	return out, nil
}

// TagsBySlugs loads existing tags keyed by slug.
func (s *Store) TagsBySlugs(ctx context.Context, slugs []string) (map[string]*themes.ThemeTag, error) {
	out := make(map[string]*themes.ThemeTag, len(slugs))
	if len(slugs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, slug, name FROM theme_tags WHERE slug = ANY($1)`, slugs)
	if err != nil {
		return nil, fmt.Errorf("select tags by slug: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag themes.ThemeTag
		if err := rows.Scan(&tag.ID, &tag.Slug, &tag.Name); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out[tag.Slug] = &tag
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

// ApplyBatch applies the whole batch in one transaction.
func (s *Store) ApplyBatch(ctx context.Context, batch themes.Batch) error {
	if batch.Empty() {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

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
		if _, err := tx.Exec(ctx, `
			UPDATE themes SET
				rating = $1, num_ratings = $2, active_installs = $3,
				downloaded = $4, usage_score = $5
			WHERE slug = $6`,
			theme.Rating, theme.NumRatings, theme.ActiveInstalls,
			theme.Downloaded, theme.UsageScore, theme.Slug); err != nil {
			return fmt.Errorf("update stats for %s: %w", theme.Slug, err)
		}
	}
	for _, snap := range batch.Snapshots {
		if err := tx.QueryRow(ctx, `
			INSERT INTO theme_stat_snapshots (
				theme_id, theme_slug, rating, num_ratings,
				active_installs, downloaded, usage_score, created_at
			) VALUES (
				CASE WHEN $1::bigint != 0 THEN $1
					ELSE COALESCE((SELECT id FROM themes WHERE slug = $2), 0) END,
				$2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			snap.ThemeID, snap.ThemeSlug, snap.Rating, snap.NumRatings,
			snap.ActiveInstalls, snap.Downloaded, snap.UsageScore, snap.CreatedAt,
		).Scan(&snap.ID); err != nil {
			return fmt.Errorf("insert snapshot for %s: %w", snap.ThemeSlug, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch tx: %w", err)
	}
	return nil
}

func upsertAuthor(ctx context.Context, tx pgx.Tx, author *themes.ThemeAuthor) error {
	if author.ID != 0 {
		// Known row: update in place, covering upstream nicename renames.
		_, err := tx.Exec(ctx, `
			UPDATE theme_authors
			SET user_nicename = $1, profile = $2, avatar = $3, display_name = $4
			WHERE id = $5`,
			author.UserNicename, author.Profile, author.Avatar, author.DisplayName, author.ID)
		if err != nil {
			return fmt.Errorf("update author %d: %w", author.ID, err)
		}
		return nil
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO theme_authors (user_nicename, profile, avatar, display_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_nicename) DO UPDATE SET
			profile = excluded.profile,
			avatar = excluded.avatar,
			display_name = excluded.display_name
		RETURNING id`,
		author.UserNicename, author.Profile, author.Avatar, author.DisplayName,
	).Scan(&author.ID)
	if err != nil {
		return fmt.Errorf("upsert author %s: %w", author.UserNicename, err)
	}
	return nil
}

func upsertTag(ctx context.Context, tx pgx.Tx, tag *themes.ThemeTag) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO theme_tags (slug, name) VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE theme_tags.name END
		RETURNING id`,
		tag.Slug, tag.Name,
	).Scan(&tag.ID)
	if err != nil {
		return fmt.Errorf("upsert tag %s: %w", tag.Slug, err)
	}
	return nil
}

func upsertTheme(ctx context.Context, tx pgx.Tx, theme *themes.Theme) error {
	// Stat columns are left alone on conflict; the stats crawl owns them.
	err := tx.QueryRow(ctx, `
		INSERT INTO themes (
			slug, name, version, preview_url, screenshot_url, homepage,
			description, template, theme_url, last_updated,
			author_id, author_nicename
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			COALESCE((SELECT id FROM theme_authors WHERE user_nicename = $11), 0), $11)
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
		theme.AuthorNicename,
	).Scan(&theme.ID)
	if err != nil {
		return fmt.Errorf("upsert theme %s: %w", theme.Slug, err)
	}

	if theme.TagSlugs == nil {
		return nil
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM theme_tag_links WHERE theme_id = $1`, theme.ID); err != nil {
		return fmt.Errorf("clear tag links for %s: %w", theme.Slug, err)
	}
	if len(theme.TagSlugs) > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO theme_tag_links (theme_id, tag_id)
			SELECT $1, id FROM theme_tags WHERE slug = ANY($2)
			ON CONFLICT DO NOTHING`,
			theme.ID, theme.TagSlugs); err != nil {
			return fmt.Errorf("link tags to %s: %w", theme.Slug, err)
		}
	}
	return nil
}

func scanTheme(rows pgx.Rows) (*themes.Theme, error) {
	var theme themes.Theme
	err := rows.Scan(
		&theme.ID, &theme.Slug, &theme.Name, &theme.Version,
		&theme.PreviewURL, &theme.ScreenshotURL, &theme.Homepage,
		&theme.Description, &theme.Template, &theme.ThemeURL, &theme.LastUpdated,
		&theme.Rating, &theme.NumRatings, &theme.ActiveInstalls,
		&theme.Downloaded, &theme.UsageScore,
		&theme.AuthorID, &theme.AuthorNicename,
	)
	if err != nil {
		return nil, fmt.Errorf("scan theme: %w", err)
	}
	return &theme, nil
}

// ThemeBySlug returns one theme with its tag links populated.
func (s *Store) ThemeBySlug(ctx context.Context, slug string) (*themes.Theme, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+themeColumns+` FROM themes WHERE slug = $1`, slug)
	if err != nil {
		return nil, fmt.Errorf("select theme %s: %w", slug, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("select theme %s: %w", slug, err)
		}
		return nil, themes.ErrNotFound
	}
	theme, err := scanTheme(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()

	tagRows, err := s.pool.Query(ctx, `
		SELECT t.slug FROM theme_tags t
		JOIN theme_tag_links l ON l.tag_id = t.id
		WHERE l.theme_id = $1
		ORDER BY t.slug`, theme.ID)
	if err != nil {
		return nil, fmt.Errorf("select tag links for %s: %w", slug, err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tagSlug string
		if err := tagRows.Scan(&tagSlug); err != nil {
			return nil, fmt.Errorf("scan tag link: %w", err)
		}
		theme.TagSlugs = append(theme.TagSlugs, tagSlug)
	}
	if err := tagRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag links: %w", err)
	}
	return theme, nil
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

	clause := ""
	args := []any{}
	if filter.Name != "" {
		args = append(args, "%"+filter.Name+"%")
		clause += fmt.Sprintf(" AND name ILIKE $%d", len(args))
	}
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		clause += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM theme_tag_links l
			JOIN theme_tags t ON t.id = l.tag_id
			WHERE l.theme_id = themes.id AND t.slug = $%d)`, len(args))
	}

	result := themes.ThemePage{Page: page, PerPage: perPage}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM themes WHERE TRUE`+clause, args...).Scan(&result.Total)
	if err != nil {
		return themes.ThemePage{}, fmt.Errorf("count themes: %w", err)
	}

	args = append(args, perPage, (page-1)*perPage)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT `+themeColumns+` FROM themes WHERE TRUE`+clause+
			` ORDER BY slug LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return themes.ThemePage{}, fmt.Errorf("select themes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		theme, err := scanTheme(rows)
		if err != nil {
			return themes.ThemePage{}, err
		}
		result.Themes = append(result.Themes, *theme)
	}
	if err := rows.Err(); err != nil {
		return themes.ThemePage{}, fmt.Errorf("iterate themes: %w", err)
	}
	return result, nil
}

// ListTags returns all tags ordered by slug, with per-tag theme counts.
func (s *Store) ListTags(ctx context.Context) ([]themes.ThemeTag, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.slug, t.name, COUNT(l.theme_id) AS theme_count
		FROM theme_tags t
		LEFT JOIN theme_tag_links l ON l.tag_id = t.id
		GROUP BY t.id, t.slug, t.name
		ORDER BY t.slug`)
	if err != nil {
		return nil, fmt.Errorf("select tags: %w", err)
	}
	defer rows.Close()
	var out []themes.ThemeTag
	for rows.Next() {
		var tag themes.ThemeTag
		if err := rows.Scan(&tag.ID, &tag.Slug, &tag.Name, &tag.ThemeCount); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

// SnapshotsByTheme returns a theme's snapshots in chronological order.
func (s *Store) SnapshotsByTheme(ctx context.Context, slug string) ([]themes.ThemeStatSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, theme_id, theme_slug, rating, num_ratings,
		       active_installs, downloaded, usage_score, created_at
		FROM theme_stat_snapshots
		WHERE theme_slug = $1
		ORDER BY created_at`, slug)
	if err != nil {
		return nil, fmt.Errorf("select snapshots for %s: %w", slug, err)
	}
	defer rows.Close()
	var out []themes.ThemeStatSnapshot
	for rows.Next() {
		var snap themes.ThemeStatSnapshot
		if err := rows.Scan(&snap.ID, &snap.ThemeID, &snap.ThemeSlug,
			&snap.Rating, &snap.NumRatings, &snap.ActiveInstalls,
			&snap.Downloaded, &snap.UsageScore, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// RepoTotals sums installs and downloads over non-excluded themes.
func (s *Store) RepoTotals(ctx context.Context, excludedAuthors []string) (themes.RepoStats, error) {
	if excludedAuthors == nil {
		excludedAuthors = []string{}
	}
	var totals themes.RepoStats
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(active_installs), 0),
		       COALESCE(SUM(downloaded), 0),
		       COUNT(*),
		       COUNT(DISTINCT NULLIF(author_nicename, ''))
		FROM themes
		WHERE NOT (author_nicename = ANY($1))`, excludedAuthors,
	).Scan(&totals.ActiveInstalls, &totals.Downloaded, &totals.TotalThemes, &totals.TotalAuthors)
	if err != nil {
		return themes.RepoStats{}, fmt.Errorf("select repo totals: %w", err)
	}
	if totals.TotalThemes > 0 {
		totals.AverageInstalls = totals.ActiveInstalls / totals.TotalThemes
	}
	return totals, nil
}

// AuthorDownloads groups downloads by author, highest first. Authors
// without downloads are omitted.
func (s *Store) AuthorDownloads(ctx context.Context, excludedAuthors []string) ([]themes.AuthorDownloads, error) {
	if excludedAuthors == nil {
		excludedAuthors = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT author_nicename, SUM(downloaded)
		FROM themes
		WHERE author_nicename != '' AND NOT (author_nicename = ANY($1))
		GROUP BY author_nicename
		HAVING SUM(downloaded) > 0
		ORDER BY SUM(downloaded) DESC, author_nicename`, excludedAuthors)
	if err != nil {
		return nil, fmt.Errorf("select author downloads: %w", err)
	}
	defer rows.Close()
	var out []themes.AuthorDownloads
	for rows.Next() {
		var row themes.AuthorDownloads
		if err := rows.Scan(&row.UserNicename, &row.Downloaded); err != nil {
			return nil, fmt.Errorf("scan author downloads: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate author downloads: %w", err)
	}
	return out, nil
}

// RatingStats aggregates ratings over themes with at least one rating.
func (s *Store) RatingStats(ctx context.Context, excludedAuthors []string) (themes.RatingStats, error) {
	if excludedAuthors == nil {
		excludedAuthors = []string{}
	}
	var stats themes.RatingStats
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(rating), 0),
		       COUNT(*),
		       COALESCE(SUM(num_ratings), 0)
		FROM themes
		WHERE num_ratings > 0 AND NOT (author_nicename = ANY($1))`, excludedAuthors,
	).Scan(&stats.AverageRating, &stats.TotalThemes, &stats.TotalRatings)
	if err != nil {
		return themes.RatingStats{}, fmt.Errorf("select rating stats: %w", err)
	}
	return stats, nil
}
