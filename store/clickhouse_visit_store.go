package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"salonsite/api/database"
	"salonsite/api/models"
)

type ClickHouseVisitStore struct {
	DB     *database.ClickHouseClient
	logger *zap.Logger
}

func NewClickHouseVisitStore(chClient *database.ClickHouseClient, logger *zap.Logger) *ClickHouseVisitStore {
	return &ClickHouseVisitStore{DB: chClient, logger: logger}
}

const chInsertVisits = `
	INSERT INTO visits (
		event_id, path, timestamp, ip_address, user_id, session_key, referrer, user_agent, device_type
	)
`

const chQueryVisits = `
	SELECT toString(event_id), path, timestamp, ip_address, user_id, session_key, referrer, user_agent, device_type
	FROM visits
	WHERE timestamp >= ? AND timestamp < ?
	  AND (? = '' OR startsWith(path, ?))
	  AND NOT arrayExists(p -> startsWith(path, p), CAST(? AS Array(String)))
	  AND (? = -1 OR (ifNull(ip_address, '') != '') = ?)
	  AND (? = -1 OR (ifNull(session_key, '') != '') = ?)
	  AND (? = -1 OR isNotNull(user_id) = ?)
	ORDER BY timestamp DESC
	LIMIT ?
`

const chCountVisits = `
	SELECT count() FROM visits
	WHERE timestamp >= ? AND timestamp < ?
`

const chCountVisitsByDay = `
	SELECT toDate(timestamp, 'UTC') AS day, count() AS visits
	FROM visits
	WHERE timestamp >= ? AND timestamp < ?
	GROUP BY day
	ORDER BY day ASC
`

var chDistinctQueries = map[DistinctKey]string{
	DistinctIP: `
		SELECT uniqExact(ip_address) FROM visits
		WHERE timestamp >= ? AND timestamp < ?
		  AND isNotNull(ip_address) AND ip_address != ''`,
	DistinctSession: `
		SELECT uniqExact(session_key) FROM visits
		WHERE timestamp >= ? AND timestamp < ?
		  AND isNotNull(session_key) AND session_key != ''`,
	DistinctUser: `
		SELECT uniqExact(user_id) FROM visits
		WHERE timestamp >= ? AND timestamp < ?
		  AND isNotNull(user_id)`,
	DistinctAnonymousSession: `
		SELECT uniqExact(session_key) FROM visits
		WHERE timestamp >= ? AND timestamp < ?
		  AND isNull(user_id)
		  AND isNotNull(session_key) AND session_key != ''`,
}

const chTopPaths = `
	SELECT path, count() AS visits
	FROM visits
	WHERE timestamp >= ? AND timestamp < ?
	  AND NOT arrayExists(p -> startsWith(path, p), CAST(? AS Array(String)))
	GROUP BY path
	ORDER BY visits DESC, path ASC
	LIMIT ?
`

func (s *ClickHouseVisitStore) Append(ctx context.Context, event *models.VisitEvent) (string, error) {
	if err := s.AppendBatch(ctx, []*models.VisitEvent{event}); err != nil {
		return "", err
	}
	return event.ID, nil
}

func (s *ClickHouseVisitStore) AppendBatch(ctx context.Context, events []*models.VisitEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, chInsertVisits)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		if event.ID == "" {
			event.ID = uuid.New().String()
		}
		eventID, err := uuid.Parse(event.ID)
		if err != nil {
			batch.Abort()
			return fmt.Errorf("invalid event id %q: %w", event.ID, err)
		}

		err = batch.Append(
			eventID,
			event.Path,
			event.Timestamp,
			event.IPAddress,
			event.UserID,
			event.SessionKey,
			event.Referrer,
			event.UserAgent,
			event.DeviceType,
		)
		if err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append visit %s to batch: %w", event.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.logger.Debug("Visit batch inserted", zap.Int("count", len(events)))
	return nil
}

func (s *ClickHouseVisitStore) Query(ctx context.Context, filter models.VisitFilter) ([]models.VisitEvent, error) {
	from, until := filter.Window.Bounds()
	excluded := filter.ExcludedPrefixes
	if excluded == nil {
		excluded = []string{}
	}
	hasIP := triState(filter.HasIPAddress)
	hasSession := triState(filter.HasSessionKey)
	hasUser := triState(filter.HasUser)

	rows, err := s.DB.Conn.Query(ctx, chQueryVisits,
		from, until,
		filter.PathPrefix, filter.PathPrefix,
		excluded,
		hasIP, hasIP,
		hasSession, hasSession,
		hasUser, hasUser,
		filter.EffectiveLimit(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	events := make([]models.VisitEvent, 0)
	for rows.Next() {
		var ev models.VisitEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.Path,
			&ev.Timestamp,
			&ev.IPAddress,
			&ev.UserID,
			&ev.SessionKey,
			&ev.Referrer,
			&ev.UserAgent,
			&ev.DeviceType,
		); err != nil {
			return nil, fmt.Errorf("failed to scan visit row: %w", err)
		}
		ev.Timestamp = ev.Timestamp.UTC()
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during visits query: %w", err)
	}
	return events, nil
}

func (s *ClickHouseVisitStore) CountVisits(ctx context.Context, w models.Window) (uint64, error) {
	from, until := w.Bounds()

	var n uint64
	if err := s.DB.Conn.QueryRow(ctx, chCountVisits, from, until).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count visits: %w", err)
	}
	return n, nil
}

func (s *ClickHouseVisitStore) CountVisitsByDay(ctx context.Context, w models.Window) ([]models.DayCount, error) {
	from, until := w.Bounds()

	rows, err := s.DB.Conn.Query(ctx, chCountVisitsByDay, from, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits by day: %w", err)
	}
	defer rows.Close()

	days := make([]models.DayCount, 0)
	for rows.Next() {
		var dc models.DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan visits by day row: %w", err)
		}
		dc.Day = models.TruncateDay(dc.Day)
		days = append(days, dc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for visits by day: %w", err)
	}
	return days, nil
}

func (s *ClickHouseVisitStore) CountDistinct(ctx context.Context, w models.Window, key DistinctKey) (uint64, error) {
	query, ok := chDistinctQueries[key]
	if !ok {
		return 0, ErrUnknownDistinctKey
	}
	from, until := w.Bounds()

	var n uint64
	if err := s.DB.Conn.QueryRow(ctx, query, from, until).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count distinct %s: %w", key, err)
	}
	return n, nil
}

func (s *ClickHouseVisitStore) TopPaths(ctx context.Context, w models.Window, excludedPrefixes []string, limit int) ([]models.PageCount, error) {
	from, until := w.Bounds()
	if excludedPrefixes == nil {
		excludedPrefixes = []string{}
	}

	rows, err := s.DB.Conn.Query(ctx, chTopPaths, from, until, excludedPrefixes, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top paths: %w", err)
	}
	defer rows.Close()

	pages := make([]models.PageCount, 0)
	for rows.Next() {
		var pc models.PageCount
		if err := rows.Scan(&pc.Path, &pc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top paths row: %w", err)
		}
		pages = append(pages, pc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top paths: %w", err)
	}
	return pages, nil
}

func (s *ClickHouseVisitStore) Ping(ctx context.Context) error {
	return s.DB.Conn.Ping(ctx)
}
