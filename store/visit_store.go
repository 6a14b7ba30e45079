package store

import (
	"context"
	"errors"

	"salonsite/api/models"
)

// DistinctKey selects one of the fixed distinct-count query shapes.
type DistinctKey string

const (
	// DistinctIP counts distinct non-empty ip_address values.
	DistinctIP DistinctKey = "ip"
	// DistinctSession counts distinct non-empty session_key values.
	DistinctSession DistinctKey = "session"
	// DistinctUser counts distinct non-null user_id values.
	DistinctUser DistinctKey = "user"
	// DistinctAnonymousSession counts distinct non-empty session_key values
	// on events without a user_id.
	DistinctAnonymousSession DistinctKey = "anonymous_session"
)

var ErrUnknownDistinctKey = errors.New("unknown distinct key")

// VisitStore is the append-only event log. There is deliberately no update
// or delete operation.
type VisitStore interface {
	Append(ctx context.Context, event *models.VisitEvent) (string, error)
	Query(ctx context.Context, filter models.VisitFilter) ([]models.VisitEvent, error)
	CountVisits(ctx context.Context, w models.Window) (uint64, error)
	CountVisitsByDay(ctx context.Context, w models.Window) ([]models.DayCount, error)
	CountDistinct(ctx context.Context, w models.Window, key DistinctKey) (uint64, error)
	TopPaths(ctx context.Context, w models.Window, excludedPrefixes []string, limit int) ([]models.PageCount, error)
	Ping(ctx context.Context) error
}

// BatchAppender is implemented by stores that insert many events in one
// round trip.
type BatchAppender interface {
	AppendBatch(ctx context.Context, events []*models.VisitEvent) error
}

func hasValue(s *string) bool {
	return s != nil && *s != ""
}

// triState encodes an optional presence filter for fixed-shape SQL: -1 means
// "any", 0 "absent", 1 "present".
func triState(b *bool) int8 {
	switch {
	case b == nil:
		return -1
	case *b:
		return 1
	default:
		return 0
	}
}
