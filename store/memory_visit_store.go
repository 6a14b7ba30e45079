package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"salonsite/api/models"
)

// MemoryVisitStore keeps events in process memory. It backs local development
// and tests, and is the reference for the SQL stores' semantics.
type MemoryVisitStore struct {
	mu     sync.RWMutex
	events []models.VisitEvent
}

func NewMemoryVisitStore() *MemoryVisitStore {
	return &MemoryVisitStore{}
}

func (s *MemoryVisitStore) Append(ctx context.Context, event *models.VisitEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	s.mu.Lock()
	s.events = append(s.events, cloneEvent(event))
	s.mu.Unlock()

	return event.ID, nil
}

func (s *MemoryVisitStore) AppendBatch(ctx context.Context, events []*models.VisitEvent) error {
	for _, ev := range events {
		if _, err := s.Append(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryVisitStore) Query(ctx context.Context, filter models.VisitFilter) ([]models.VisitEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matched := make([]models.VisitEvent, 0)
	s.each(filter.Window, func(ev *models.VisitEvent) {
		if filter.PathPrefix != "" && !strings.HasPrefix(ev.Path, filter.PathPrefix) {
			return
		}
		if hasAnyPrefix(ev.Path, filter.ExcludedPrefixes) {
			return
		}
		if !presenceMatches(filter.HasIPAddress, hasValue(ev.IPAddress)) ||
			!presenceMatches(filter.HasSessionKey, hasValue(ev.SessionKey)) ||
			!presenceMatches(filter.HasUser, ev.UserID != nil) {
			return
		}
		matched = append(matched, cloneEvent(ev))
	})

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit := filter.EffectiveLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryVisitStore) CountVisits(ctx context.Context, w models.Window) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n uint64
	s.each(w, func(*models.VisitEvent) { n++ })
	return n, nil
}

func (s *MemoryVisitStore) CountVisitsByDay(ctx context.Context, w models.Window) ([]models.DayCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := make(map[time.Time]uint64)
	s.each(w, func(ev *models.VisitEvent) {
		counts[models.TruncateDay(ev.Timestamp)]++
	})

	days := make([]models.DayCount, 0, len(counts))
	for day, n := range counts {
		days = append(days, models.DayCount{Day: day, Count: n})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Day.Before(days[j].Day) })
	return days, nil
}

func (s *MemoryVisitStore) CountDistinct(ctx context.Context, w models.Window, key DistinctKey) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var keyOf func(ev *models.VisitEvent) (string, bool)
	switch key {
	case DistinctIP:
		keyOf = func(ev *models.VisitEvent) (string, bool) {
			return deref(ev.IPAddress), hasValue(ev.IPAddress)
		}
	case DistinctSession:
		keyOf = func(ev *models.VisitEvent) (string, bool) {
			return deref(ev.SessionKey), hasValue(ev.SessionKey)
		}
	case DistinctAnonymousSession:
		keyOf = func(ev *models.VisitEvent) (string, bool) {
			return deref(ev.SessionKey), ev.UserID == nil && hasValue(ev.SessionKey)
		}
	case DistinctUser:
		keyOf = func(ev *models.VisitEvent) (string, bool) {
			if ev.UserID == nil {
				return "", false
			}
			return strconv.FormatInt(*ev.UserID, 10), true
		}
	default:
		return 0, ErrUnknownDistinctKey
	}

	seen := make(map[string]struct{})
	s.each(w, func(ev *models.VisitEvent) {
		if k, ok := keyOf(ev); ok {
			seen[k] = struct{}{}
		}
	})
	return uint64(len(seen)), nil
}

func (s *MemoryVisitStore) TopPaths(ctx context.Context, w models.Window, excludedPrefixes []string, limit int) ([]models.PageCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := make(map[string]uint64)
	s.each(w, func(ev *models.VisitEvent) {
		if !hasAnyPrefix(ev.Path, excludedPrefixes) {
			counts[ev.Path]++
		}
	})

	pages := make([]models.PageCount, 0, len(counts))
	for path, n := range counts {
		pages = append(pages, models.PageCount{Path: path, Count: n})
	}
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].Count != pages[j].Count {
			return pages[i].Count > pages[j].Count
		}
		return pages[i].Path < pages[j].Path
	})
	if limit > 0 && len(pages) > limit {
		pages = pages[:limit]
	}
	return pages, nil
}

func (s *MemoryVisitStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryVisitStore) each(w models.Window, fn func(ev *models.VisitEvent)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.events {
		if w.Contains(s.events[i].Timestamp) {
			fn(&s.events[i])
		}
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func presenceMatches(want *bool, present bool) bool {
	return want == nil || *want == present
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneEvent(ev *models.VisitEvent) models.VisitEvent {
	out := *ev
	out.IPAddress = cloneString(ev.IPAddress)
	out.SessionKey = cloneString(ev.SessionKey)
	out.Referrer = cloneString(ev.Referrer)
	out.UserAgent = cloneString(ev.UserAgent)
	out.DeviceType = cloneString(ev.DeviceType)
	if ev.UserID != nil {
		id := *ev.UserID
		out.UserID = &id
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
