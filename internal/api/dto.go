package api

import (
	"time"

	"github.com/themewatch/themewatch/internal/themes"
)

type themeResponse struct {
	Slug           string    `json:"slug"`
	Name           string    `json:"name"`
	Version        string    `json:"version,omitempty"`
	PreviewURL     string    `json:"previewUrl,omitempty"`
	ScreenshotURL  string    `json:"screenshotUrl,omitempty"`
	Homepage       string    `json:"homepage,omitempty"`
	Description    string    `json:"description,omitempty"`
	Template       string    `json:"template,omitempty"`
	ThemeURL       string    `json:"themeUrl,omitempty"`
	LastUpdated    time.Time `json:"lastUpdated"`
	Rating         float64   `json:"rating"`
	NumRatings     int64     `json:"numRatings"`
	ActiveInstalls int64     `json:"activeInstalls"`
	Downloaded     int64     `json:"downloaded"`
	UsageScore     float64   `json:"usageScore"`
	AuthorNicename string    `json:"authorNicename"`
	Tags           []string  `json:"tags"`
}

func toThemeResponse(t *themes.Theme) themeResponse {
	tags := t.TagSlugs
	if tags == nil {
		tags = []string{}
	}
	return themeResponse{
		Slug:           t.Slug,
		Name:           t.Name,
		Version:        t.Version,
		PreviewURL:     t.PreviewURL,
		ScreenshotURL:  t.ScreenshotURL,
		Homepage:       t.Homepage,
		Description:    t.Description,
		Template:       t.Template,
		ThemeURL:       t.ThemeURL,
		LastUpdated:    t.LastUpdated,
		Rating:         t.Rating,
		NumRatings:     t.NumRatings,
		ActiveInstalls: t.ActiveInstalls,
		Downloaded:     t.Downloaded,
		UsageScore:     t.UsageScore,
		AuthorNicename: t.AuthorNicename,
		Tags:           tags,
	}
}

type tagResponse struct {
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	ThemeCount int64  `json:"themeCount"`
}

func toTagResponse(t *themes.ThemeTag) tagResponse {
	return tagResponse{
		Slug:       t.Slug,
		Name:       t.Name,
		ThemeCount: t.ThemeCount,
	}
}

type snapshotResponse struct {
	Rating         float64   `json:"rating"`
	NumRatings     int64     `json:"numRatings"`
	ActiveInstalls int64     `json:"activeInstalls"`
	Downloaded     int64     `json:"downloaded"`
	UsageScore     float64   `json:"usageScore"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toSnapshotResponse(s *themes.ThemeStatSnapshot) snapshotResponse {
	return snapshotResponse{
		Rating:         s.Rating,
		NumRatings:     s.NumRatings,
		ActiveInstalls: s.ActiveInstalls,
		Downloaded:     s.Downloaded,
		UsageScore:     s.UsageScore,
		CreatedAt:      s.CreatedAt,
	}
}
