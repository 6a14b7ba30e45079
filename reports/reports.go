// Package reports computes read-only visit statistics over a window of UTC
// calendar days.
package reports

import (
	"context"
	"fmt"

	"salonsite/api/models"
	"salonsite/api/store"
)

const DefaultPopularPagesLimit = 10

// PopularPagesExcludedPrefixes hides asset, admin, API and debug traffic from
// the popular pages list, including paths the recorder already skips.
var PopularPagesExcludedPrefixes = []string{
	"/static/",
	"/media/",
	"/admin/",
	"/api/",
	"/favicon.ico",
	"/robots.txt",
	"/__debug__/",
}

// Source is the read side of the visit store.
type Source interface {
	CountVisits(ctx context.Context, w models.Window) (uint64, error)
	CountVisitsByDay(ctx context.Context, w models.Window) ([]models.DayCount, error)
	CountDistinct(ctx context.Context, w models.Window, key store.DistinctKey) (uint64, error)
	TopPaths(ctx context.Context, w models.Window, excludedPrefixes []string, limit int) ([]models.PageCount, error)
}

type Reports struct {
	src Source
}

func New(src Source) *Reports {
	return &Reports{src: src}
}

func (r *Reports) TotalVisits(ctx context.Context, w models.Window) (uint64, error) {
	n, err := r.src.CountVisits(ctx, w)
	if err != nil {
		return 0, fmt.Errorf("total visits: %w", err)
	}
	return n, nil
}

// VisitsByDay returns one entry per day with at least one visit, oldest first.
func (r *Reports) VisitsByDay(ctx context.Context, w models.Window) ([]models.DayVisits, error) {
	rows, err := r.src.CountVisitsByDay(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("visits by day: %w", err)
	}

	days := make([]models.DayVisits, 0, len(rows))
	for _, row := range rows {
		days = append(days, models.DayVisits{
			Day:   row.Day.UTC().Format(models.DateLayout),
			Count: row.Count,
		})
	}
	return days, nil
}

func (r *Reports) UniqueVisitorsByIP(ctx context.Context, w models.Window) (uint64, error) {
	return r.distinct(ctx, w, store.DistinctIP)
}

func (r *Reports) UniqueVisitorsBySession(ctx context.Context, w models.Window) (uint64, error) {
	return r.distinct(ctx, w, store.DistinctSession)
}

func (r *Reports) UniqueAuthenticatedUsers(ctx context.Context, w models.Window) (uint64, error) {
	return r.distinct(ctx, w, store.DistinctUser)
}

// EstimatedUniqueVisitors adds authenticated users to sessions seen only on
// anonymous events. A visitor who switches between logged-in and anonymous
// browsing, or across devices, is counted more than once.
func (r *Reports) EstimatedUniqueVisitors(ctx context.Context, w models.Window) (uint64, error) {
	users, err := r.distinct(ctx, w, store.DistinctUser)
	if err != nil {
		return 0, err
	}
	sessions, err := r.distinct(ctx, w, store.DistinctAnonymousSession)
	if err != nil {
		return 0, err
	}
	return users + sessions, nil
}

// MostPopularPages orders paths by visit count descending, then by path.
func (r *Reports) MostPopularPages(ctx context.Context, w models.Window, limit int) ([]models.PageCount, error) {
	if limit <= 0 {
		limit = DefaultPopularPagesLimit
	}

	pages, err := r.src.TopPaths(ctx, w, PopularPagesExcludedPrefixes, limit)
	if err != nil {
		return nil, fmt.Errorf("popular pages: %w", err)
	}
	if pages == nil {
		pages = []models.PageCount{}
	}
	return pages, nil
}

// BuildOverview runs every aggregation for the window. It stops at the first
// failure.
func (r *Reports) BuildOverview(ctx context.Context, w models.Window, limit int) (*models.Overview, error) {
	var (
		ov  = &models.Overview{DateRange: w.DateRange()}
		err error
	)

	if ov.TotalVisits, err = r.TotalVisits(ctx, w); err != nil {
		return nil, err
	}
	if ov.UniqueIPs, err = r.UniqueVisitorsByIP(ctx, w); err != nil {
		return nil, err
	}
	if ov.UniqueSessions, err = r.UniqueVisitorsBySession(ctx, w); err != nil {
		return nil, err
	}
	if ov.UniqueAuthenticatedUsers, err = r.UniqueAuthenticatedUsers(ctx, w); err != nil {
		return nil, err
	}
	if ov.EstimatedUniqueVisitors, err = r.EstimatedUniqueVisitors(ctx, w); err != nil {
		return nil, err
	}
	if ov.VisitsByDay, err = r.VisitsByDay(ctx, w); err != nil {
		return nil, err
	}
	if ov.PopularPages, err = r.MostPopularPages(ctx, w, limit); err != nil {
		return nil, err
	}
	return ov, nil
}

func (r *Reports) distinct(ctx context.Context, w models.Window, key store.DistinctKey) (uint64, error) {
	n, err := r.src.CountDistinct(ctx, w, key)
	if err != nil {
		return 0, fmt.Errorf("distinct %s: %w", key, err)
	}
	return n, nil
}
