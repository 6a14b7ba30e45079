package tracking

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"salonsite/api/config"
	"salonsite/api/middleware"
	"salonsite/api/models"
	"salonsite/api/store"
)

const (
	maxUserAgentLen = 255
	maxReferrerLen  = 500
	maxBatchSize    = 100
)

// Recorder turns trackable inbound requests into visit events. It never
// fails or alters the request it instruments.
type Recorder struct {
	cfg    config.TrackingConfig
	store  store.VisitStore
	logger *zap.Logger
	now    func() time.Time

	queue   chan *models.VisitEvent
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

func NewRecorder(cfg config.TrackingConfig, s store.VisitStore, logger *zap.Logger) *Recorder {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	r := &Recorder{
		cfg:    cfg,
		store:  s,
		logger: logger,
		now:    time.Now,
	}

	if cfg.Async {
		if cfg.QueueSize <= 0 {
			cfg.QueueSize = 1024
		}
		if cfg.Workers <= 0 {
			cfg.Workers = 1
		}
		r.cfg = cfg
		r.queue = make(chan *models.VisitEvent, cfg.QueueSize)
		for i := 0; i < cfg.Workers; i++ {
			r.wg.Add(1)
			go r.worker()
		}
	}

	logger.Info("Visit recorder started",
		zap.Bool("async", cfg.Async),
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Strings("excluded_prefixes", cfg.ExcludedPrefixes),
	)
	return r
}

// Middleware must run after the authentication and session stages.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		r.Track(c)
		c.Next()
	}
}

// Excluded reports whether path starts with any configured prefix.
func (r *Recorder) Excluded(path string) bool {
	for _, prefix := range r.cfg.ExcludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Track records the request unless it is excluded. Errors and panics are
// logged and swallowed.
func (r *Recorder) Track(c *gin.Context) {
	path := c.Request.URL.Path
	if r.Excluded(path) {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic while recording visit", zap.String("path", path), zap.Any("panic", rec))
		}
	}()

	event := r.Capture(c)

	if r.queue == nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), r.cfg.WriteTimeout)
		defer cancel()
		r.persist(ctx, []*models.VisitEvent{event})
		return
	}
	r.enqueue(event)
}

// Capture builds the visit event for a request without persisting it.
func (r *Recorder) Capture(c *gin.Context) *models.VisitEvent {
	req := c.Request

	event := &models.VisitEvent{
		ID:         uuid.New().String(),
		Path:       strings.ToValidUTF8(req.URL.Path, "\uFFFD"),
		Timestamp:  r.now().UTC(),
		IPAddress:  ClientIP(req.Header.Get(ForwardedForHeader), req.RemoteAddr),
		UserID:     middleware.UserIDFromContext(c),
		SessionKey: middleware.SessionKeyFromContext(c),
		Referrer:   optional(truncate(req.Referer(), maxReferrerLen)),
		UserAgent:  optional(truncate(req.UserAgent(), maxUserAgentLen)),
	}

	// Classify the stored value so the device type can be recomputed from the row.
	if event.UserAgent != nil {
		event.DeviceType = ClassifyDevice(*event.UserAgent)
	}
	return event
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.queue != nil && !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("Visit recorder stopped", zap.Uint64("dropped", r.Dropped()))
}

func (r *Recorder) enqueue(event *models.VisitEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.queue <- event:
	default:
		r.dropped.Add(1)
		r.logger.Warn("Visit queue full, dropping event", zap.String("path", event.Path))
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]*models.VisitEvent, 0, maxBatchSize)
	for event := range r.queue {
		batch = append(batch[:0], event)

	drain:
		for len(batch) < maxBatchSize {
			select {
			case next, ok := <-r.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
		r.persist(ctx, batch)
		cancel()
	}
}

func (r *Recorder) persist(ctx context.Context, events []*models.VisitEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic while persisting visits", zap.Int("count", len(events)), zap.Any("panic", rec))
		}
	}()

	if batcher, ok := r.store.(store.BatchAppender); ok && len(events) > 1 {
		err := batcher.AppendBatch(ctx, events)
		if err == nil {
			return
		}
		// A rejected row fails the whole batch; retry one by one so only it is lost.
		r.logger.Warn("Visit batch failed, retrying individually", zap.Int("count", len(events)), zap.Error(err))
	}

	for _, event := range events {
		if _, err := r.store.Append(ctx, event); err != nil {
			r.logger.Error("Error logging visit", zap.String("path", event.Path), zap.Error(err))
		}
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// truncate replaces invalid UTF-8 and cuts s to at most limit bytes without
// splitting a rune.
func truncate(s string, limit int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "")
}
