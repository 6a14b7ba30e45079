package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"salonsite/api/config"
)

type ClickHouseClient struct {
	Conn   clickhouse.Conn
	logger *zap.Logger
}

const clickHouseVisitsSchema = `
	CREATE TABLE IF NOT EXISTS visits (
		event_id    UUID,
		path        String,
		timestamp   DateTime64(3, 'UTC'),
		ip_address  Nullable(String),
		user_id     Nullable(Int64),
		session_key Nullable(String),
		referrer    Nullable(String),
		user_agent  Nullable(String),
		device_type LowCardinality(Nullable(String)),
		INDEX idx_visits_ip ip_address TYPE bloom_filter GRANULARITY 4,
		INDEX idx_visits_session session_key TYPE bloom_filter GRANULARITY 4,
		INDEX idx_visits_user user_id TYPE bloom_filter GRANULARITY 4
	)
	ENGINE = MergeTree
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (toDate(timestamp), path, timestamp)
`

func NewClickHouseDB(cfg config.ClickHouseConfig, logger *zap.Logger) (*ClickHouseClient, error) {
	if cfg.Host == "" || cfg.NativePort == 0 || cfg.Database == "" {
		return nil, fmt.Errorf("CLICKHOUSE_HOST, CLICKHOUSE_NATIVE_PORT, or CLICKHOUSE_DB_NAME is not set")
	}

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.NativePort)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "salonsite-api", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse via Native TCP: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if err := conn.Exec(ctx, clickHouseVisitsSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create visits table: %w", err)
	}

	logger.Info("ClickHouse connected",
		zap.String("addr", options.Addr[0]),
		zap.String("database", cfg.Database),
	)
	return &ClickHouseClient{Conn: conn, logger: logger}, nil
}

func (c *ClickHouseClient) Close() {
	if c.Conn == nil {
		return
	}
	if err := c.Conn.Close(); err != nil {
		c.logger.Error("could not close ClickHouse connection", zap.Error(err))
		return
	}
	c.logger.Info("ClickHouse connection closed")
}
