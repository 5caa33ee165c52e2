package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"royaltyd/cache"
	"royaltyd/notify"
	"royaltyd/observability"
	"royaltyd/schedule"
)

// ErrOracleUnavailable marks an oracle failure that aborts the current scan;
// the next tick retries from scratch.
var ErrOracleUnavailable = errors.New("detect: oracle unavailable")

// Default detection policy.
const (
	DefaultBatchSize     = 25
	DefaultMatchLimit    = 10
	DefaultOracleTimeout = 10 * time.Second
	DefaultOracleDelay   = 200 * time.Millisecond
	DedupTTL             = 6 * time.Hour
	RetentionPeriod      = 30 * 24 * time.Hour
)

// Thresholds holds the per-monitor trigger levels.
type Thresholds struct {
	Similarity float64
	Quality    float64
	Affinity   float64
	Trend      float64
	Engagement float64
}

// DefaultThresholds returns the standard trigger levels.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Similarity: 0.4,
		Quality:    0.7,
		Affinity:   0.6,
		Trend:      2.0,
		Engagement: 1.5,
	}
}

// Notifier is the slice of the dispatcher the detector needs.
type Notifier interface {
	Send(ctx context.Context, author string, payload notify.Payload) (*notify.Receipt, error)
}

// Detector runs the background content monitors. Each monitor fetches a
// bounded batch of recent works, analyses them through the oracle with a
// fixed inter-call delay, records events past the trigger threshold, and
// notifies the affected author.
type Detector struct {
	oracle     Oracle
	events     EventRepository
	notifier   Notifier
	dedup      cache.Store[float64]
	throttle   *rate.Limiter
	thresholds Thresholds
	batch      int
	matchLimit int
	timeout    time.Duration
	retention  time.Duration
	metrics    *observability.DetectMetrics
	logger     *slog.Logger
	now        func() time.Time
}

// DetectorOption customises the detector instance.
type DetectorOption func(*Detector)

// WithNotifier wires the notification dispatcher.
func WithNotifier(n Notifier) DetectorOption {
	return func(d *Detector) { d.notifier = n }
}

// WithThresholds overrides the trigger levels.
func WithThresholds(t Thresholds) DetectorOption {
	return func(d *Detector) { d.thresholds = t }
}

// WithBatchSize bounds how many recent works one tick analyses.
func WithBatchSize(n int) DetectorOption {
	return func(d *Detector) {
		if n > 0 {
			d.batch = n
		}
	}
}

// WithOracleDelay overrides the fixed delay between oracle calls.
func WithOracleDelay(delay time.Duration) DetectorOption {
	return func(d *Detector) {
		if delay > 0 {
			d.throttle = rate.NewLimiter(rate.Every(delay), 1)
		}
	}
}

// WithOracleTimeout overrides the per-call oracle timeout.
func WithOracleTimeout(timeout time.Duration) DetectorOption {
	return func(d *Detector) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithDedupCache overrides the analysis dedup cache backend.
func WithDedupCache(store cache.Store[float64]) DetectorOption {
	return func(d *Detector) {
		if store != nil {
			d.dedup = store
		}
	}
}

// WithRetention overrides how long events are kept before the purge drops
// them.
func WithRetention(retention time.Duration) DetectorOption {
	return func(d *Detector) {
		if retention > 0 {
			d.retention = retention
		}
	}
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.DetectMetrics) DetectorOption {
	return func(d *Detector) { d.metrics = m }
}

// WithLogger overrides the detector's logger.
func WithLogger(logger *slog.Logger) DetectorOption {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) DetectorOption {
	return func(d *Detector) {
		if clock != nil {
			d.now = clock
		}
	}
}

// NewDetector constructs a detector over the given oracle and event store.
func NewDetector(oracle Oracle, events EventRepository, opts ...DetectorOption) (*Detector, error) {
	if oracle == nil {
		return nil, fmt.Errorf("detect: oracle required")
	}
	if events == nil {
		return nil, fmt.Errorf("detect: event repository required")
	}
	d := &Detector{
		oracle:     oracle,
		events:     events,
		dedup:      cache.NewMemory[float64](DedupTTL),
		throttle:   rate.NewLimiter(rate.Every(DefaultOracleDelay), 1),
		thresholds: DefaultThresholds(),
		batch:      DefaultBatchSize,
		matchLimit: DefaultMatchLimit,
		timeout:    DefaultOracleTimeout,
		retention:  RetentionPeriod,
		metrics:    observability.Detect(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// RegisterWith adds the periodic monitors plus the daily retention purge to
// the runner.
func (d *Detector) RegisterWith(runner *schedule.Runner, scanInterval time.Duration) error {
	monitors := []struct {
		name string
		scan func(ctx context.Context) error
	}{
		{"detect.derivative", d.ScanDerivatives},
		{"detect.quality", d.ScanQuality},
		{"detect.collaboration", d.ScanCollaboration},
		{"detect.trend", d.ScanTrends},
		{"detect.engagement", d.ScanEngagement},
	}
	for _, monitor := range monitors {
		scan := monitor.scan
		name := monitor.name
		err := runner.Register(name, scanInterval, func(ctx context.Context) {
			if err := scan(ctx); err != nil {
				d.logger.Warn("scan aborted", "monitor", name, "err", err)
			}
		})
		if err != nil {
			return err
		}
	}
	return runner.Register("detect.purge", 24*time.Hour, func(ctx context.Context) {
		purged, err := d.Purge(ctx)
		if err != nil {
			d.logger.Warn("event purge failed", "err", err)
			return
		}
		if purged > 0 {
			d.logger.Info("purged expired detection events", "count", purged)
		}
	})
}

// MonitorContentUpload analyses a freshly published work synchronously and
// returns any derivative events it produced. Re-analysing the same subject
// within the dedup window returns without touching the oracle.
func (d *Detector) MonitorContentUpload(ctx context.Context, author, subjectID string) ([]*Event, error) {
	author = strings.TrimSpace(author)
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("detect: subject id required")
	}
	return d.analyzeDerivative(ctx, Work{SubjectID: subjectID, Author: author})
}

// EventsForAuthor returns the author's recorded detections newest-first.
func (d *Detector) EventsForAuthor(ctx context.Context, author string, filter EventFilter) ([]*Event, error) {
	return d.events.ListForAuthor(ctx, strings.TrimSpace(author), filter)
}

// Purge drops events older than the retention period.
func (d *Detector) Purge(ctx context.Context) (int, error) {
	return d.events.PurgeOlderThan(ctx, d.now().Add(-d.retention))
}

// ScanDerivatives checks recent uploads for resemblance to existing works.
func (d *Detector) ScanDerivatives(ctx context.Context) error {
	return d.scanBatch(ctx, "derivative", func(ctx context.Context, work Work) error {
		_, err := d.analyzeDerivative(ctx, work)
		return err
	})
}

// ScanQuality checks recent works for quality milestones.
func (d *Detector) ScanQuality(ctx context.Context) error {
	return d.scanBatch(ctx, "quality", func(ctx context.Context, work Work) error {
		score, hit, err := d.scoreOnce(ctx, "quality", work.SubjectID, d.oracle.QualityScore)
		if err != nil || hit {
			return err
		}
		if score < d.thresholds.Quality {
			return nil
		}
		return d.record(ctx, &Event{
			Type:       EventQuality,
			Author:     work.Author,
			SubjectID:  work.SubjectID,
			Confidence: score,
		}, notify.QualityPayload{SubjectID: work.SubjectID, Score: score})
	})
}

// ScanCollaboration pairs authors of recent works by audience affinity.
func (d *Detector) ScanCollaboration(ctx context.Context) error {
	works, err := d.recentWorks(ctx, "collaboration")
	if err != nil || works == nil {
		return err
	}
	authors := distinctAuthors(works)
	outcome := "ok"
	for i := 0; i < len(authors); i++ {
		for j := i + 1; j < len(authors); j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := d.analyzePair(ctx, authors[i], authors[j]); err != nil {
				outcome = "partial"
				d.logger.Warn("affinity analysis failed",
					"author", authors[i], "candidate", authors[j], "err", err)
			}
		}
	}
	d.metrics.RecordScan("collaboration", outcome)
	return nil
}

// ScanTrends checks recent works for unusual reading momentum.
func (d *Detector) ScanTrends(ctx context.Context) error {
	return d.scanBatch(ctx, "trend", func(ctx context.Context, work Work) error {
		score, hit, err := d.scoreOnce(ctx, "trend", work.SubjectID, d.oracle.Momentum)
		if err != nil || hit {
			return err
		}
		if score < d.thresholds.Trend {
			return nil
		}
		return d.record(ctx, &Event{
			Type:       EventTrend,
			Author:     work.Author,
			SubjectID:  work.SubjectID,
			Confidence: score,
		}, notify.TrendPayload{SubjectID: work.SubjectID, Momentum: score})
	})
}

// ScanEngagement checks recent works for engagement spikes.
func (d *Detector) ScanEngagement(ctx context.Context) error {
	return d.scanBatch(ctx, "engagement", func(ctx context.Context, work Work) error {
		score, hit, err := d.scoreOnce(ctx, "engagement", work.SubjectID, d.oracle.EngagementDelta)
		if err != nil || hit {
			return err
		}
		if score < d.thresholds.Engagement {
			return nil
		}
		return d.record(ctx, &Event{
			Type:       EventEngagement,
			Author:     work.Author,
			SubjectID:  work.SubjectID,
			Confidence: score,
		}, notify.EngagementPayload{SubjectID: work.SubjectID, Velocity: score})
	})
}

// scanBatch runs one monitor tick: fetch the batch, analyse each work,
// swallow per-work failures so one bad candidate does not abort the rest.
func (d *Detector) scanBatch(ctx context.Context, monitor string, analyze func(ctx context.Context, work Work) error) error {
	works, err := d.recentWorks(ctx, monitor)
	if err != nil || works == nil {
		return err
	}
	outcome := "ok"
	for _, work := range works {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := analyze(ctx, work); err != nil {
			outcome = "partial"
			d.logger.Warn("candidate analysis failed",
				"monitor", monitor, "subject", work.SubjectID, "err", err)
		}
	}
	d.metrics.RecordScan(monitor, outcome)
	return nil
}

func (d *Detector) recentWorks(ctx context.Context, monitor string) ([]Work, error) {
	works, err := d.callRecentWorks(ctx)
	if err != nil {
		d.metrics.RecordScan(monitor, "oracle_error")
		d.metrics.RecordOracleError()
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if len(works) == 0 {
		d.metrics.RecordScan(monitor, "empty")
		return nil, nil
	}
	return works, nil
}

func (d *Detector) analyzeDerivative(ctx context.Context, work Work) ([]*Event, error) {
	key := "derivative|" + work.SubjectID
	if _, fresh, err := d.dedup.Get(ctx, key); err == nil && fresh {
		d.metrics.RecordCacheLookup("derivative", true)
		return nil, nil
	}
	d.metrics.RecordCacheLookup("derivative", false)

	if err := d.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	matches, err := d.oracle.SimilarWorks(callCtx, work.SubjectID, d.matchLimit)
	cancel()
	if err != nil {
		d.metrics.RecordOracleError()
		return nil, fmt.Errorf("detect: similarity lookup: %w", err)
	}

	var produced []*Event
	best := 0.0
	for _, match := range matches {
		if match.Similarity > best {
			best = match.Similarity
		}
		if match.Similarity < d.thresholds.Similarity || match.SubjectID == work.SubjectID {
			continue
		}
		event := &Event{
			Type:           EventDerivative,
			Author:         match.Author,
			SubjectID:      match.SubjectID,
			Confidence:     match.Similarity,
			RelatedSubject: work.SubjectID,
			RelatedAuthor:  work.Author,
			ActionRequired: true,
		}
		if err := d.record(ctx, event, notify.DerivativePayload{
			SubjectID:    match.SubjectID,
			DerivativeID: work.SubjectID,
			Similarity:   match.Similarity,
		}); err != nil {
			return produced, err
		}
		produced = append(produced, event)
	}
	if err := d.dedup.Set(ctx, key, best); err != nil {
		d.logger.Warn("cache derivative result", "subject", work.SubjectID, "err", err)
	}
	return produced, nil
}

func (d *Detector) analyzePair(ctx context.Context, authorA, authorB string) error {
	key := pairKey(authorA, authorB)
	if _, fresh, err := d.dedup.Get(ctx, key); err == nil && fresh {
		d.metrics.RecordCacheLookup("collaboration", true)
		return nil
	}
	d.metrics.RecordCacheLookup("collaboration", false)

	if err := d.throttle.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	affinity, err := d.oracle.Affinity(callCtx, authorA, authorB)
	cancel()
	if err != nil {
		d.metrics.RecordOracleError()
		return fmt.Errorf("detect: affinity lookup: %w", err)
	}
	if err := d.dedup.Set(ctx, key, affinity); err != nil {
		d.logger.Warn("cache affinity result", "key", key, "err", err)
	}
	if affinity < d.thresholds.Affinity {
		return nil
	}
	// Both authors learn about the match.
	if err := d.record(ctx, &Event{
		Type:          EventCollaboration,
		Author:        authorA,
		Confidence:    affinity,
		RelatedAuthor: authorB,
	}, notify.CollaborationPayload{Partner: authorB, Affinity: affinity}); err != nil {
		return err
	}
	return d.record(ctx, &Event{
		Type:          EventCollaboration,
		Author:        authorB,
		Confidence:    affinity,
		RelatedAuthor: authorA,
	}, notify.CollaborationPayload{Partner: authorA, Affinity: affinity})
}

// scoreOnce runs one throttled, deduplicated scalar oracle call. The hit
// flag reports a dedup short-circuit; the score is only meaningful when hit
// is false.
func (d *Detector) scoreOnce(ctx context.Context, monitor, subjectID string, call func(ctx context.Context, subjectID string) (float64, error)) (float64, bool, error) {
	key := monitor + "|" + subjectID
	if _, fresh, err := d.dedup.Get(ctx, key); err == nil && fresh {
		d.metrics.RecordCacheLookup(monitor, true)
		return 0, true, nil
	}
	d.metrics.RecordCacheLookup(monitor, false)

	if err := d.throttle.Wait(ctx); err != nil {
		return 0, false, err
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	score, err := call(callCtx, subjectID)
	cancel()
	if err != nil {
		d.metrics.RecordOracleError()
		return 0, false, fmt.Errorf("detect: %s lookup: %w", monitor, err)
	}
	if err := d.dedup.Set(ctx, key, score); err != nil {
		d.logger.Warn("cache analysis result", "key", key, "err", err)
	}
	return score, false, nil
}

func (d *Detector) record(ctx context.Context, event *Event, payload notify.Payload) error {
	event.ID = uuid.NewString()
	event.Timestamp = d.now()
	if err := d.events.Append(ctx, event); err != nil {
		return fmt.Errorf("detect: record event: %w", err)
	}
	d.metrics.RecordEvent(string(event.Type))
	if d.notifier == nil || event.Author == "" {
		return nil
	}
	receipt, err := d.notifier.Send(ctx, event.Author, payload)
	if err != nil {
		d.logger.Warn("event notification not delivered",
			"type", event.Type, "author", event.Author, "err", err)
		return nil
	}
	if receipt != nil && receipt.Success && !receipt.Skipped {
		event.NotificationSent = true
		if err := d.events.MarkNotified(ctx, event.ID); err != nil {
			d.logger.Warn("mark event notified", "id", event.ID, "err", err)
		}
	}
	return nil
}

func (d *Detector) callRecentWorks(ctx context.Context) ([]Work, error) {
	if err := d.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.oracle.RecentWorks(callCtx, d.batch)
}

func distinctAuthors(works []Work) []string {
	seen := make(map[string]struct{}, len(works))
	authors := make([]string, 0, len(works))
	for _, work := range works {
		author := strings.TrimSpace(work.Author)
		if author == "" {
			continue
		}
		if _, ok := seen[author]; ok {
			continue
		}
		seen[author] = struct{}{}
		authors = append(authors, author)
	}
	return authors
}

func pairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "collab|" + pair[0] + "|" + pair[1]
}
