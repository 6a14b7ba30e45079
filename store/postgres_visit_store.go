package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"salonsite/api/models"
)

type PostgresVisitStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewPostgresVisitStore(db *sqlx.DB, logger *zap.Logger) *PostgresVisitStore {
	return &PostgresVisitStore{db: db, logger: logger}
}

const pgInsertVisit = `
	INSERT INTO visits (id, path, timestamp, ip_address, user_id, session_key, referrer, user_agent, device_type)
	VALUES (:id, :path, :timestamp, :ip_address, :user_id, :session_key, :referrer, :user_agent, :device_type)
`

const pgQueryVisits = `
	SELECT id, path, timestamp, ip_address, user_id, session_key, referrer, user_agent, device_type
	FROM visits v
	WHERE v.timestamp >= $1 AND v.timestamp < $2
	  AND ($3::text = '' OR left(v.path, length($3::text)) = $3::text)
	  AND NOT EXISTS (
		SELECT 1 FROM unnest($4::text[]) AS x(prefix)
		WHERE left(v.path, length(x.prefix)) = x.prefix
	  )
	  AND ($5::int = -1 OR (COALESCE(v.ip_address, '') <> '') = ($5::int = 1))
	  AND ($6::int = -1 OR (COALESCE(v.session_key, '') <> '') = ($6::int = 1))
	  AND ($7::int = -1 OR (v.user_id IS NOT NULL) = ($7::int = 1))
	ORDER BY v.timestamp DESC
	LIMIT $8
`

const pgCountVisits = `
	SELECT COUNT(*) FROM visits
	WHERE timestamp >= $1 AND timestamp < $2
`

const pgCountVisitsByDay = `
	SELECT (timestamp AT TIME ZONE 'UTC')::date AS day, COUNT(*) AS visits
	FROM visits
	WHERE timestamp >= $1 AND timestamp < $2
	GROUP BY day
	ORDER BY day ASC
`

var pgDistinctQueries = map[DistinctKey]string{
	DistinctIP: `
		SELECT COUNT(DISTINCT ip_address) FROM visits
		WHERE timestamp >= $1 AND timestamp < $2
		  AND ip_address IS NOT NULL AND ip_address <> ''`,
	DistinctSession: `
		SELECT COUNT(DISTINCT session_key) FROM visits
		WHERE timestamp >= $1 AND timestamp < $2
		  AND session_key IS NOT NULL AND session_key <> ''`,
	DistinctUser: `
		SELECT COUNT(DISTINCT user_id) FROM visits
		WHERE timestamp >= $1 AND timestamp < $2
		  AND user_id IS NOT NULL`,
	DistinctAnonymousSession: `
		SELECT COUNT(DISTINCT session_key) FROM visits
		WHERE timestamp >= $1 AND timestamp < $2
		  AND user_id IS NULL
		  AND session_key IS NOT NULL AND session_key <> ''`,
}

const pgTopPaths = `
	SELECT v.path, COUNT(*) AS visits
	FROM visits v
	WHERE v.timestamp >= $1 AND v.timestamp < $2
	  AND NOT EXISTS (
		SELECT 1 FROM unnest($3::text[]) AS x(prefix)
		WHERE left(v.path, length(x.prefix)) = x.prefix
	  )
	GROUP BY v.path
	ORDER BY visits DESC, v.path ASC
	LIMIT $4
`

func (s *PostgresVisitStore) Append(ctx context.Context, event *models.VisitEvent) (string, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if _, err := s.db.NamedExecContext(ctx, pgInsertVisit, event); err != nil {
		return "", fmt.Errorf("failed to insert visit: %w", err)
	}
	return event.ID, nil
}

func (s *PostgresVisitStore) AppendBatch(ctx context.Context, events []*models.VisitEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, pgInsertVisit)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		if event.ID == "" {
			event.ID = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx, event); err != nil {
			return fmt.Errorf("failed to insert visit %s: %w", event.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("Visit batch inserted", zap.Int("count", len(events)))
	return nil
}

func (s *PostgresVisitStore) Query(ctx context.Context, filter models.VisitFilter) ([]models.VisitEvent, error) {
	from, until := filter.Window.Bounds()

	events := make([]models.VisitEvent, 0)
	err := s.db.SelectContext(ctx, &events, pgQueryVisits,
		from, until,
		filter.PathPrefix,
		pq.Array(filter.ExcludedPrefixes),
		triState(filter.HasIPAddress),
		triState(filter.HasSessionKey),
		triState(filter.HasUser),
		filter.EffectiveLimit(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}

	for i := range events {
		events[i].Timestamp = events[i].Timestamp.UTC()
	}
	return events, nil
}

func (s *PostgresVisitStore) CountVisits(ctx context.Context, w models.Window) (uint64, error) {
	from, until := w.Bounds()

	var n uint64
	if err := s.db.GetContext(ctx, &n, pgCountVisits, from, until); err != nil {
		return 0, fmt.Errorf("failed to count visits: %w", err)
	}
	return n, nil
}

func (s *PostgresVisitStore) CountVisitsByDay(ctx context.Context, w models.Window) ([]models.DayCount, error) {
	from, until := w.Bounds()

	days := make([]models.DayCount, 0)
	if err := s.db.SelectContext(ctx, &days, pgCountVisitsByDay, from, until); err != nil {
		return nil, fmt.Errorf("failed to count visits by day: %w", err)
	}

	for i := range days {
		days[i].Day = models.TruncateDay(days[i].Day)
	}
	return days, nil
}

func (s *PostgresVisitStore) CountDistinct(ctx context.Context, w models.Window, key DistinctKey) (uint64, error) {
	query, ok := pgDistinctQueries[key]
	if !ok {
		return 0, ErrUnknownDistinctKey
	}
	from, until := w.Bounds()

	var n uint64
	if err := s.db.GetContext(ctx, &n, query, from, until); err != nil {
		return 0, fmt.Errorf("failed to count distinct %s: %w", key, err)
	}
	return n, nil
}

func (s *PostgresVisitStore) TopPaths(ctx context.Context, w models.Window, excludedPrefixes []string, limit int) ([]models.PageCount, error) {
	from, until := w.Bounds()

	pages := make([]models.PageCount, 0)
	if err := s.db.SelectContext(ctx, &pages, pgTopPaths, from, until, pq.Array(excludedPrefixes), limit); err != nil {
		return nil, fmt.Errorf("failed to query top paths: %w", err)
	}
	return pages, nil
}

func (s *PostgresVisitStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
