// Package stats computes directory-wide aggregate metrics on top of the
// store's aggregation queries.
package stats

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/themewatch/themewatch/internal/themes"
)

// Service answers aggregate questions about the ingested directory. All
// methods accept an optional author-nicename exclusion list, so dashboard
// users can mask out the dominant default-theme publisher.
type Service struct {
	store  themes.Store
	logger *zap.Logger
}

// New constructs a Service.
func New(store themes.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Current returns directory-wide install and download totals.
func (s *Service) Current(ctx context.Context, excludedAuthors []string) (themes.RepoStats, error) {
	totals, err := s.store.RepoTotals(ctx, excludedAuthors)
	if err != nil {
		return themes.RepoStats{}, fmt.Errorf("repo totals: %w", err)
	}
	return totals, nil
}

// AuthorDiversity measures how evenly downloads spread across authors as
// the Shannon entropy of each author's download share, together with the
// maximum possible entropy ln(n) for the same author count. A directory
// dominated by a single author scores near zero.
func (s *Service) AuthorDiversity(ctx context.Context, excludedAuthors []string) (themes.DiversityScore, error) {
	rows, err := s.store.AuthorDownloads(ctx, excludedAuthors)
	if err != nil {
		return themes.DiversityScore{}, fmt.Errorf("author downloads: %w", err)
	}

	var total float64
	for _, row := range rows {
		total += float64(row.Downloaded)
	}
	if total <= 0 || len(rows) == 0 {
		return themes.DiversityScore{}, nil
	}

	var entropy float64
	for _, row := range rows {
		share := float64(row.Downloaded) / total
		if share > 0 {
			entropy -= share * math.Log(share)
		}
	}
	return themes.DiversityScore{
		Score: entropy,
		Max:   math.Log(float64(len(rows))),
	}, nil
}

// AverageRating aggregates ratings over themes that have at least one
// rating; unrated themes never drag the average down.
func (s *Service) AverageRating(ctx context.Context, excludedAuthors []string) (themes.RatingStats, error) {
	rating, err := s.store.RatingStats(ctx, excludedAuthors)
	if err != nil {
		return themes.RatingStats{}, fmt.Errorf("rating stats: %w", err)
	}
	return rating, nil
}
