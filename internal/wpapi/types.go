package wpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TransportError wraps upstream HTTP, network and JSON-decode failures.
// The client never retries; callers decide (message redelivery upstream).
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("wpapi %s %s: status %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("wpapi %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FlexString decodes upstream fields that arrive as string, number,
// boolean false (a "no value" sentinel) or null. False and null decode to
// the empty string.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, string(data) == "null", string(data) == "false":
		*s = ""
		return nil
	case data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	default:
		// Numeric version strings come back as raw numbers for some themes.
		*s = FlexString(strings.TrimSuffix(string(data), ".0"))
		return nil
	}
}

// FlexInt decodes counters that arrive as number or numeric string.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" || string(data) == "false" {
		*n = 0
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse numeric field %q: %w", s, err)
	}
	*n = FlexInt(v)
	return nil
}

// PageInfo is the pagination envelope of a query_themes response.
type PageInfo struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	Results int `json:"results"`
}

// Author is the extended_author projection of a theme record.
type Author struct {
	UserNicename string     `json:"user_nicename"`
	Profile      string     `json:"profile"`
	Avatar       string     `json:"avatar"`
	DisplayName  FlexString `json:"display_name"`
	// Author carries the display name in older payload shapes; false when
	// the author never set one.
	Author    FlexString `json:"author"`
	AuthorURL FlexString `json:"author_url"`
}

// Name returns the best available display name.
func (a Author) Name() string {
	if a.DisplayName != "" {
		return string(a.DisplayName)
	}
	return string(a.Author)
}

// Theme is one raw theme record from a query_themes response. Which
// fields are populated depends on the requested field mask.
type Theme struct {
	Slug          string     `json:"slug"`
	Name          string     `json:"name"`
	Version       FlexString `json:"version"`
	PreviewURL    string     `json:"preview_url"`
	ScreenshotURL string     `json:"screenshot_url"`
	Homepage      string     `json:"homepage"`
	Description   string     `json:"description"`
	Template      string     `json:"template"`
	ThemeURL      FlexString `json:"theme_url"`

	// LastUpdatedTime is "2006-01-02 15:04:05"; LastUpdated is the bare
	// date and is only used when the timestamp is absent.
	LastUpdated     string `json:"last_updated"`
	LastUpdatedTime string `json:"last_updated_time"`

	Rating         float64 `json:"rating"`
	NumRatings     FlexInt `json:"num_ratings"`
	ActiveInstalls FlexInt `json:"active_installs"`
	Downloaded     FlexInt `json:"downloaded"`

	Author Author `json:"author"`

	// Tags maps tag slug to tag name.
	Tags map[string]string `json:"tags"`
}

// ThemesPage is one decoded page of a query_themes response, with the raw
// body retained for archiving.
type ThemesPage struct {
	Info   PageInfo `json:"info"`
	Themes []Theme  `json:"themes"`
	Raw    []byte   `json:"-"`
}

// Tag is one raw tag record from a hot_tags response.
type Tag struct {
	Slug  string  `json:"slug"`
	Name  string  `json:"name"`
	Count FlexInt `json:"count"`
}

// TagList is the decoded hot_tags response plus the raw body.
type TagList struct {
	Tags []Tag
	Raw  []byte
}

// decodeTags accepts both payload shapes the upstream has served: a flat
// array of tag objects and an object keyed by tag slug.
func decodeTags(data []byte) ([]Tag, error) {
	var list []Tag
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var keyed map[string]Tag
	if err := json.Unmarshal(data, &keyed); err != nil {
		return nil, err
	}
	list = make([]Tag, 0, len(keyed))
	for slug, tag := range keyed {
		if tag.Slug == "" {
			tag.Slug = slug
		}
		list = append(list, tag)
	}
	return list, nil
}
