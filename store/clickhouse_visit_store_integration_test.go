package store

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"salonsite/api/config"
	"salonsite/api/database"
	"salonsite/api/models"
)

// Runs only against a scratch server: the visits table is truncated.
func newClickHouseTestStore(t *testing.T) *ClickHouseVisitStore {
	t.Helper()
	addr := os.Getenv("CLICKHOUSE_TEST_ADDR")
	if addr == "" {
		t.Skip("CLICKHOUSE_TEST_ADDR not set (integration test)")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("CLICKHOUSE_TEST_ADDR must be host:port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("invalid port %q: %v", portStr, err)
	}

	ch, err := database.NewClickHouseDB(config.ClickHouseConfig{
		Host:       host,
		NativePort: port,
		Database:   "default",
		Username:   "default",
		Password:   os.Getenv("CLICKHOUSE_TEST_PASSWORD"),
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ch.Close)

	if err := ch.Conn.Exec(context.Background(), "TRUNCATE TABLE visits"); err != nil {
		t.Fatal(err)
	}
	return NewClickHouseVisitStore(ch, zap.NewNop())
}

func TestClickHouseVisitStore_Aggregates(t *testing.T) {
	s := newClickHouseTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

	mustAppend(t, s, models.VisitEvent{Path: "/a", Timestamp: day, UserID: i64Ptr(1), SessionKey: strPtr("S"), IPAddress: strPtr("1.2.3.4")})
	mustAppend(t, s, models.VisitEvent{Path: "/b", Timestamp: day.Add(23*time.Hour + 59*time.Minute + 59*time.Second), SessionKey: strPtr("S2"), IPAddress: strPtr("")})
	mustAppend(t, s, models.VisitEvent{Path: "/__debug__/x", Timestamp: day.Add(time.Hour)})
	mustAppend(t, s, models.VisitEvent{Path: "/a", Timestamp: day.AddDate(0, 0, 1)})

	w := models.NewWindow(day, day)

	total, err := s.CountVisits(ctx, w)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Fatalf("total=%d want 3", total)
	}

	ips, err := s.CountDistinct(ctx, w, DistinctIP)
	if err != nil {
		t.Fatal(err)
	}
	if ips != 1 {
		t.Fatalf("distinct ips=%d want 1", ips)
	}

	users, err := s.CountDistinct(ctx, w, DistinctUser)
	if err != nil {
		t.Fatal(err)
	}
	anon, err := s.CountDistinct(ctx, w, DistinctAnonymousSession)
	if err != nil {
		t.Fatal(err)
	}
	if users+anon != 2 {
		t.Fatalf("estimated=%d want 2", users+anon)
	}

	pages, err := s.TopPaths(ctx, w, []string{"/__debug__/"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 || pages[0].Path != "/a" || pages[1].Path != "/b" {
		t.Fatalf("pages=%v", pages)
	}

	unfiltered, err := s.TopPaths(ctx, w, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(unfiltered) != 3 {
		t.Fatalf("pages without exclusions=%v", unfiltered)
	}

	days, err := s.CountVisitsByDay(ctx, models.NewWindow(day, day.AddDate(0, 0, 1)))
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 2 || days[0].Count != 3 || !days[0].Day.Equal(day) || !days[1].Day.Equal(day.AddDate(0, 0, 1)) {
		t.Fatalf("days=%v", days)
	}

	withUser, err := s.Query(ctx, models.VisitFilter{Window: w, HasUser: boolPtr(true)})
	if err != nil {
		t.Fatal(err)
	}
	if len(withUser) != 1 || withUser[0].UserID == nil || *withUser[0].UserID != 1 {
		t.Fatalf("events=%+v", withUser)
	}

	noIP, err := s.Query(ctx, models.VisitFilter{Window: w, HasIPAddress: boolPtr(false), ExcludedPrefixes: []string{"/__debug__/"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(noIP) != 1 || noIP[0].Path != "/b" {
		t.Fatalf("events without ip=%+v", noIP)
	}
}

func TestClickHouseVisitStore_InvalidIDLeavesConnectionUsable(t *testing.T) {
	s := newClickHouseTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

	err := s.AppendBatch(ctx, []*models.VisitEvent{{ID: "not-a-uuid", Path: "/", Timestamp: ts}})
	if err == nil {
		t.Fatal("expected an error for a malformed event id")
	}

	mustAppend(t, s, models.VisitEvent{Path: "/after", Timestamp: ts})
	n, err := s.CountVisits(ctx, models.Window{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("count=%d want 1", n)
	}
}
