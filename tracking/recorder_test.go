package tracking

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"salonsite/api/config"
	"salonsite/api/middleware"
	"salonsite/api/models"
	"salonsite/api/store"
)

var fixedNow = time.Date(2026, 5, 3, 14, 30, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type failingStore struct {
	store.VisitStore
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Append(ctx context.Context, event *models.VisitEvent) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return "", errors.New("database is down")
}

type panickingStore struct {
	store.VisitStore
}

func (panickingStore) Append(ctx context.Context, event *models.VisitEvent) (string, error) {
	panic("boom")
}

func newTestRecorder(t *testing.T, cfg config.TrackingConfig, s store.VisitStore) *Recorder {
	t.Helper()
	r := NewRecorder(cfg, s, zap.NewNop())
	r.now = func() time.Time { return fixedNow }
	t.Cleanup(r.Close)
	return r
}

func newRouter(r *Recorder, beforeTracking ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(beforeTracking...)
	router.Use(r.Middleware())
	router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return router
}

func allVisits(t *testing.T, s *store.MemoryVisitStore) []models.VisitEvent {
	t.Helper()
	events, err := s.Query(context.Background(), models.VisitFilter{Limit: models.MaxVisitLimit})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	return events
}

func TestRecorder_ExcludedPathsAreNotRecorded(t *testing.T) {
	s := store.NewMemoryVisitStore()
	cfg := config.TrackingConfig{ExcludedPrefixes: config.DefaultExcludedPrefixes("/static/", "/media/")}
	r := newTestRecorder(t, cfg, s)
	router := newRouter(r)

	for _, path := range []string{"/static/app.css", "/media/logo.png", "/admin/login", "/api/schema/", "/stripe/webhook/", "/favicon.ico", "/robots.txt", "/__debug__/sql"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status=%d", path, w.Code)
		}
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services/", nil))

	events := allVisits(t, s)
	if len(events) != 1 || events[0].Path != "/services/" {
		t.Fatalf("events=%+v want only /services/", events)
	}
}

func TestRecorder_CapturesRequestFields(t *testing.T) {
	s := store.NewMemoryVisitStore()
	r := newTestRecorder(t, config.TrackingConfig{}, s)
	withIdentity := func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, int64(42))
		c.Set(middleware.ContextSessionKeyKey, "session-abc")
		c.Next()
	}
	router := newRouter(r, withIdentity)

	req := httptest.NewRequest(http.MethodGet, "/book/?utm=x", nil)
	req.RemoteAddr = "9.9.9.9:1234"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	req.Header.Set("Referer", "https://example.com/")
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)")
	router.ServeHTTP(httptest.NewRecorder(), req)

	events := allVisits(t, s)
	if len(events) != 1 {
		t.Fatalf("got %d events want 1", len(events))
	}
	ev := events[0]

	if ev.ID == "" {
		t.Fatal("expected an event id")
	}
	if ev.Path != "/book/" {
		t.Fatalf("path=%q want /book/", ev.Path)
	}
	if !ev.Timestamp.Equal(fixedNow) {
		t.Fatalf("timestamp=%s want %s", ev.Timestamp, fixedNow)
	}
	if ev.IPAddress == nil || *ev.IPAddress != "1.2.3.4" {
		t.Fatalf("ip=%v want 1.2.3.4", ev.IPAddress)
	}
	if ev.UserID == nil || *ev.UserID != 42 {
		t.Fatalf("user=%v want 42", ev.UserID)
	}
	if ev.SessionKey == nil || *ev.SessionKey != "session-abc" {
		t.Fatalf("session=%v want session-abc", ev.SessionKey)
	}
	if ev.Referrer == nil || *ev.Referrer != "https://example.com/" {
		t.Fatalf("referrer=%v", ev.Referrer)
	}
	if ev.DeviceType == nil || *ev.DeviceType != models.DeviceMobile {
		t.Fatalf("device=%v want mobile", ev.DeviceType)
	}
}

func TestRecorder_AnonymousRequestHasNullIdentity(t *testing.T) {
	s := store.NewMemoryVisitStore()
	r := newTestRecorder(t, config.TrackingConfig{}, s)
	router := newRouter(r)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	ev := allVisits(t, s)[0]
	if ev.UserID != nil || ev.SessionKey != nil || ev.Referrer != nil || ev.UserAgent != nil || ev.DeviceType != nil {
		t.Fatalf("expected null identity fields, got %+v", ev)
	}
}

func TestRecorder_TruncatesLongHeaders(t *testing.T) {
	s := store.NewMemoryVisitStore()
	r := newTestRecorder(t, config.TrackingConfig{}, s)
	router := newRouter(r)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", strings.Repeat("a", 300)+" Mobile")
	req.Header.Set("Referer", "https://example.com/"+strings.Repeat("r", 600))
	router.ServeHTTP(httptest.NewRecorder(), req)

	ev := allVisits(t, s)[0]
	if len(*ev.UserAgent) != maxUserAgentLen {
		t.Fatalf("user agent len=%d want %d", len(*ev.UserAgent), maxUserAgentLen)
	}
	if len(*ev.Referrer) != maxReferrerLen {
		t.Fatalf("referrer len=%d want %d", len(*ev.Referrer), maxReferrerLen)
	}
	// The marker was cut off, so the stored agent classifies as desktop.
	if *ev.DeviceType != *ClassifyDevice(*ev.UserAgent) {
		t.Fatalf("device=%s does not match stored user agent", *ev.DeviceType)
	}
}

func TestRecorder_StoreFailureDoesNotAffectResponse(t *testing.T) {
	s := &failingStore{}
	r := newTestRecorder(t, config.TrackingConfig{}, s)
	router := newRouter(r)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/contact/", nil))

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	if s.calls != 1 {
		t.Fatalf("append calls=%d want 1", s.calls)
	}
}

func TestRecorder_StorePanicDoesNotAffectResponse(t *testing.T) {
	r := newTestRecorder(t, config.TrackingConfig{}, panickingStore{})
	router := newRouter(r)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestRecorder_AsyncDrainsOnClose(t *testing.T) {
	s := store.NewMemoryVisitStore()
	r := NewRecorder(config.TrackingConfig{Async: true, QueueSize: 64, Workers: 2}, s, zap.NewNop())
	router := newRouter(r)

	for i := 0; i < 20; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/gallery/", nil))
	}
	r.Close()

	n, err := s.CountVisits(context.Background(), models.Window{})
	if err != nil {
		t.Fatal(err)
	}
	if n+r.Dropped() != 20 {
		t.Fatalf("stored=%d dropped=%d want 20 total", n, r.Dropped())
	}
	if r.Dropped() != 0 {
		t.Fatalf("dropped=%d want 0", r.Dropped())
	}
}

func TestRecorder_FirstRequestHasNoSessionKey(t *testing.T) {
	s := store.NewMemoryVisitStore()
	r := newTestRecorder(t, config.TrackingConfig{}, s)
	router := newRouter(r, middleware.Sessions(zap.NewNop()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var issued *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			issued = c
		}
	}
	if issued == nil {
		t.Fatal("expected a session cookie to be issued")
	}

	req := httptest.NewRequest(http.MethodGet, "/about/", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: issued.Value})
	router.ServeHTTP(httptest.NewRecorder(), req)

	events := allVisits(t, s)
	if len(events) != 2 {
		t.Fatalf("got %d events want 2", len(events))
	}
	for _, ev := range events {
		switch ev.Path {
		case "/":
			if ev.SessionKey != nil {
				t.Fatalf("first request session=%q want nil", *ev.SessionKey)
			}
		case "/about/":
			if ev.SessionKey == nil || *ev.SessionKey != issued.Value {
				t.Fatalf("second request session=%v want %s", ev.SessionKey, issued.Value)
			}
		}
	}
}

// atomicBatchStore rejects a whole batch when any row is refused, the way a
// single-transaction insert does.
type atomicBatchStore struct {
	*store.MemoryVisitStore
	rejectPrefix string
}

func (s *atomicBatchStore) Append(ctx context.Context, event *models.VisitEvent) (string, error) {
	if strings.HasPrefix(event.Path, s.rejectPrefix) {
		return "", errors.New(`pq: invalid byte sequence for encoding "UTF8"`)
	}
	return s.MemoryVisitStore.Append(ctx, event)
}

func (s *atomicBatchStore) AppendBatch(ctx context.Context, events []*models.VisitEvent) error {
	for _, event := range events {
		if strings.HasPrefix(event.Path, s.rejectPrefix) {
			return errors.New(`pq: invalid byte sequence for encoding "UTF8"`)
		}
	}
	return s.MemoryVisitStore.AppendBatch(ctx, events)
}

func TestRecorder_RejectedRowDoesNotLoseItsBatch(t *testing.T) {
	s := &atomicBatchStore{MemoryVisitStore: store.NewMemoryVisitStore(), rejectPrefix: "/rejected"}
	r := newTestRecorder(t, config.TrackingConfig{}, s)

	batch := []*models.VisitEvent{{Path: "/"}, {Path: "/rejected"}}
	for i := 0; i < 5; i++ {
		batch = append(batch, &models.VisitEvent{Path: "/services/"})
	}
	for _, ev := range batch {
		ev.Timestamp = fixedNow
	}

	r.persist(context.Background(), batch)

	n, err := s.CountVisits(context.Background(), models.Window{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Fatalf("stored=%d want 6 of 7 (one rejected)", n)
	}
}

func TestRecorder_InvalidUTF8IsSanitized(t *testing.T) {
	s := store.NewMemoryVisitStore()
	r := newTestRecorder(t, config.TrackingConfig{}, s)
	router := newRouter(r)

	req := httptest.NewRequest(http.MethodGet, "/%ff", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 \xff Mobile")
	req.Header.Set("Referer", "https://example.com/\xfe")
	router.ServeHTTP(httptest.NewRecorder(), req)

	ev := allVisits(t, s)[0]
	for name, v := range map[string]string{"path": ev.Path, "user_agent": *ev.UserAgent, "referrer": *ev.Referrer} {
		if !utf8.ValidString(v) {
			t.Fatalf("%s is not valid UTF-8: %q", name, v)
		}
	}
	if ev.Path != "/�" {
		t.Fatalf("path=%q", ev.Path)
	}
	if *ev.DeviceType != models.DeviceMobile {
		t.Fatalf("device=%s; text after the bad byte must survive", *ev.DeviceType)
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"abé", 3, "ab"},
		{"a\xffbc", 10, "a�bc"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.limit); got != tc.want {
			t.Fatalf("truncate(%q, %d)=%q want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}
