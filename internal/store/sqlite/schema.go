package sqlite

// Schema is applied on every open; all statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS options (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS theme_authors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_nicename TEXT UNIQUE NOT NULL,
	profile TEXT NOT NULL DEFAULT '',
	avatar TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS themes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slug TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	preview_url TEXT NOT NULL DEFAULT '',
	screenshot_url TEXT NOT NULL DEFAULT '',
	homepage TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	template TEXT NOT NULL DEFAULT '',
	theme_url TEXT NOT NULL DEFAULT '',
	last_updated DATETIME NOT NULL DEFAULT '0001-01-01 00:00:00',

	rating REAL NOT NULL DEFAULT 0,
	num_ratings INTEGER NOT NULL DEFAULT 0,
	active_installs INTEGER NOT NULL DEFAULT 0,
	downloaded INTEGER NOT NULL DEFAULT 0,
	usage_score REAL NOT NULL DEFAULT 0,

	author_id INTEGER NOT NULL DEFAULT 0,
	author_nicename TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_themes_author_nicename ON themes(author_nicename);

CREATE TABLE IF NOT EXISTS theme_tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slug TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS theme_tag_links (
	theme_id INTEGER NOT NULL REFERENCES themes(id) ON DELETE CASCADE,
	tag_id INTEGER NOT NULL REFERENCES theme_tags(id) ON DELETE CASCADE,
	PRIMARY KEY (theme_id, tag_id)
);

CREATE TABLE IF NOT EXISTS theme_stat_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	theme_id INTEGER NOT NULL,
	theme_slug TEXT NOT NULL,
	rating REAL NOT NULL DEFAULT 0,
	num_ratings INTEGER NOT NULL DEFAULT 0,
	active_installs INTEGER NOT NULL DEFAULT 0,
	downloaded INTEGER NOT NULL DEFAULT 0,
	usage_score REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_slug_created
	ON theme_stat_snapshots(theme_slug, created_at);
`
