// Package themes defines core types shared across subsystems.
package themes

import (
	"fmt"
	"time"
)

// CrawlKind identifies one of the independent crawl pipelines.
type CrawlKind string

// Crawl kinds. Each kind owns its own CrawlState and cooldown.
const (
	CrawlTags  CrawlKind = "tags"
	CrawlInfo  CrawlKind = "info"
	CrawlStats CrawlKind = "stats"
)

// Kinds lists all crawl kinds in scheduling order: tags first so the
// info crawl can link themes to already-known tags.
var Kinds = []CrawlKind{CrawlTags, CrawlInfo, CrawlStats}

// ParseCrawlKind validates a kind string from config or the API.
func ParseCrawlKind(s string) (CrawlKind, error) {
	switch CrawlKind(s) {
	case CrawlTags, CrawlInfo, CrawlStats:
		return CrawlKind(s), nil
	}
	return "", fmt.Errorf("unknown crawl kind %q", s)
}

// StateKey is the options-table key under which the kind's state is stored.
func (k CrawlKind) StateKey() string {
	return string(k) + "_crawler_state"
}

// CrawlStatus is the lifecycle state of a crawl run.
type CrawlStatus string

// Crawl status values persisted in the options table.
const (
	CrawlRunning  CrawlStatus = "running"
	CrawlFinished CrawlStatus = "finished"
)

// CrawlState records the status of the current or most recent run of a
// crawl kind. Exactly one state exists per kind; it is created on the
// first scheduling decision and never deleted.
type CrawlState struct {
	Kind        CrawlKind   `json:"kind"`
	Status      CrawlStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CurrentPage int         `json:"current_page,omitempty"`
}

// Theme is a logical theme in the directory, identified by its slug.
// Stat columns are refreshed by the stats crawl; the remaining fields by
// the info crawl.
type Theme struct {
	ID            int64     `db:"id"`
	Slug          string    `db:"slug"`
	Name          string    `db:"name"`
	Version       string    `db:"version"`
	PreviewURL    string    `db:"preview_url"`
	ScreenshotURL string    `db:"screenshot_url"`
	Homepage      string    `db:"homepage"`
	Description   string    `db:"description"`
	Template      string    `db:"template"`
	ThemeURL      string    `db:"theme_url"`
	LastUpdated   time.Time `db:"last_updated"`

	Rating         float64 `db:"rating"`
	NumRatings     int64   `db:"num_ratings"`
	ActiveInstalls int64   `db:"active_installs"`
	Downloaded     int64   `db:"downloaded"`
	UsageScore     float64 `db:"usage_score"`

	AuthorID       int64  `db:"author_id"`
	AuthorNicename string `db:"author_nicename"`

	// TagSlugs, when non-nil, is the complete tag set for the theme; the
	// store replaces all existing links with it. A nil slice leaves the
	// stored links untouched.
	TagSlugs []string `db:"-"`
}

// ThemeAuthor is a directory author, identified by user nicename.
type ThemeAuthor struct {
	ID           int64  `db:"id"`
	UserNicename string `db:"user_nicename"`
	Profile      string `db:"profile"`
	Avatar       string `db:"avatar"`
	DisplayName  string `db:"display_name"`
}

// ThemeTag is a directory tag, identified by slug.
type ThemeTag struct {
	ID   int64  `db:"id"`
	Slug string `db:"slug"`
	Name string `db:"name"`

	// ThemeCount is populated on read-side listings only.
	ThemeCount int64 `db:"theme_count"`
}

// ThemeStatSnapshot is one append-only stats observation for a theme.
type ThemeStatSnapshot struct {
	ID             int64     `db:"id"`
	ThemeID        int64     `db:"theme_id"`
	ThemeSlug      string    `db:"theme_slug"`
	Rating         float64   `db:"rating"`
	NumRatings     int64     `db:"num_ratings"`
	ActiveInstalls int64     `db:"active_installs"`
	Downloaded     int64     `db:"downloaded"`
	UsageScore     float64   `db:"usage_score"`
	CreatedAt      time.Time `db:"created_at"`
}

// UsageScore derives the popularity metric from installs and downloads.
// A theme that was never downloaded scores zero.
func UsageScore(activeInstalls, downloaded int64) float64 {
	if downloaded <= 0 {
		return 0
	}
	return (float64(activeInstalls) / float64(downloaded)) * float64(activeInstalls)
}

// CrawlJob is one unit of crawl work carried on the queue.
type CrawlJob struct {
	Kind    CrawlKind `json:"kind"`
	Page    int       `json:"page"`
	Attempt int       `json:"attempt"`
}

// Batch is one page's worth of reconciled entities, applied by the store
// in a single transaction. Authors and tags are upserted before themes so
// theme rows can resolve their foreign keys by natural key.
type Batch struct {
	Authors []*ThemeAuthor
	Tags    []*ThemeTag

	// Themes are full info upserts by slug. Stat columns are left alone.
	Themes []*Theme

	// ThemeStats update only the stat columns of existing themes, by slug.
	ThemeStats []*Theme

	Snapshots []*ThemeStatSnapshot
}

// Empty reports whether the batch carries no work.
func (b Batch) Empty() bool {
	return len(b.Authors) == 0 && len(b.Tags) == 0 && len(b.Themes) == 0 &&
		len(b.ThemeStats) == 0 && len(b.Snapshots) == 0
}

// ThemeFilter selects and paginates the read-side theme listing.
type ThemeFilter struct {
	Page    int
	PerPage int
	Name    string
	Tag     string
}

// ThemePage is one page of the theme listing plus pagination totals.
type ThemePage struct {
	Themes  []Theme
	Total   int
	Page    int
	PerPage int
}

// RepoStats are directory-wide totals over all ingested themes.
type RepoStats struct {
	ActiveInstalls  int64 `json:"activeInstalls"`
	AverageInstalls int64 `json:"averageInstalls"`
	Downloaded      int64 `json:"downloaded"`
	TotalThemes     int64 `json:"totalThemes"`
	TotalAuthors    int64 `json:"totalAuthors"`
}

// AuthorDownloads is one author's share of total downloads, used for the
// diversity score. Stores only return authors with downloads > 0.
type AuthorDownloads struct {
	UserNicename string `db:"user_nicename"`
	Downloaded   int64  `db:"downloaded"`
}

// DiversityScore is the Shannon entropy of download share across authors.
type DiversityScore struct {
	Score float64 `json:"score"`
	Max   float64 `json:"max"`
}

// RatingStats aggregate ratings over themes that have at least one rating.
type RatingStats struct {
	AverageRating float64 `json:"averageRating"`
	TotalThemes   int64   `json:"totalThemes"`
	TotalRatings  int64   `json:"totalRatings"`
}
