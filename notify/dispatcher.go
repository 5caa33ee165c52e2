package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"royaltyd/observability"
	"royaltyd/ratelimit"
)

var (
	// ErrRateLimited reports that the author exhausted the notification
	// budget for this type in the current window.
	ErrRateLimited = errors.New("notify: rate limited")
	// ErrAuthorRequired reports a missing author address.
	ErrAuthorRequired = errors.New("notify: author address required")
)

// DefaultLimitPerHour bounds notifications per (author, type) pair.
const DefaultLimitPerHour = 20

// typeChannelDefaults lists the channels each category may use before
// intersecting with the author's preference. Financial and system alerts are
// always eligible for email; discovery signals stay on in-app and push.
var typeChannelDefaults = map[Type][]Channel{
	TypeClaimSuccess:  {ChannelInApp, ChannelEmail, ChannelPush, ChannelWebhook},
	TypeClaimFailed:   {ChannelInApp, ChannelEmail, ChannelPush, ChannelWebhook},
	TypeLargePayment:  {ChannelInApp, ChannelEmail, ChannelPush, ChannelWebhook},
	TypeSystem:        {ChannelInApp, ChannelEmail, ChannelWebhook},
	TypeDerivative:    {ChannelInApp, ChannelPush, ChannelWebhook},
	TypeQuality:       {ChannelInApp, ChannelPush, ChannelWebhook},
	TypeCollaboration: {ChannelInApp, ChannelPush, ChannelWebhook},
	TypeTrend:         {ChannelInApp, ChannelPush, ChannelWebhook},
	TypeEngagement:    {ChannelInApp, ChannelPush, ChannelWebhook},
}

// Receipt is the outcome of one Send call.
type Receipt struct {
	Success        bool      `json:"success"`
	Skipped        bool      `json:"skipped"`
	NotificationID string    `json:"notificationId,omitempty"`
	Attempted      []Channel `json:"deliveryChannels,omitempty"`
	Delivered      []Channel `json:"deliveredChannels,omitempty"`
}

// MarkResult reports the outcome of a MarkRead call.
type MarkResult struct {
	Marked   int      `json:"marked"`
	NotFound []string `json:"notFound"`
}

// ChannelStats aggregates delivery attempts per channel.
type ChannelStats struct {
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
}

// Stats snapshots dispatcher activity for the admin surface.
type Stats struct {
	Sent      int64                    `json:"sent"`
	Throttled int64                    `json:"throttled"`
	Skipped   int64                    `json:"skipped"`
	Channels  map[Channel]ChannelStats `json:"channels"`
}

// Dispatcher renders, stores, and fans out notifications according to each
// author's preferences.
type Dispatcher struct {
	store      Store
	limiter    *ratelimit.Limiter
	deliverers map[Channel]Deliverer
	limit      int
	metrics    *observability.NotifyMetrics
	logger     *slog.Logger
	now        func() time.Time

	statsMu sync.Mutex
	stats   Stats
}

// DispatcherOption customises the dispatcher instance.
type DispatcherOption func(*Dispatcher)

// WithDeliverer registers a delivery channel implementation.
func WithDeliverer(d Deliverer) DispatcherOption {
	return func(disp *Dispatcher) {
		if d != nil {
			disp.deliverers[d.Channel()] = d
		}
	}
}

// WithLimit overrides the per-(author,type) hourly budget.
func WithLimit(limit int) DispatcherOption {
	return func(disp *Dispatcher) {
		if limit > 0 {
			disp.limit = limit
		}
	}
}

// WithLimiter overrides the rate limiter, mainly to shrink windows in tests.
func WithLimiter(limiter *ratelimit.Limiter) DispatcherOption {
	return func(disp *Dispatcher) {
		if limiter != nil {
			disp.limiter = limiter
		}
	}
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) DispatcherOption {
	return func(disp *Dispatcher) {
		if clock != nil {
			disp.now = clock
		}
	}
}

// WithLogger overrides the dispatcher's logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(disp *Dispatcher) {
		if logger != nil {
			disp.logger = logger
		}
	}
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.NotifyMetrics) DispatcherOption {
	return func(disp *Dispatcher) { disp.metrics = m }
}

// NewDispatcher constructs a dispatcher backed by the supplied store. The
// in-app channel is always registered.
func NewDispatcher(store Store, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("notify: store required")
	}
	disp := &Dispatcher{
		store:      store,
		limiter:    ratelimit.New(ratelimit.WithWindow(time.Hour)),
		deliverers: map[Channel]Deliverer{ChannelInApp: InAppDeliverer{}},
		limit:      DefaultLimitPerHour,
		metrics:    observability.Notify(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	disp.stats.Channels = make(map[Channel]ChannelStats)
	for _, opt := range opts {
		opt(disp)
	}
	return disp, nil
}

// Send renders and delivers one notification. Rate-limited sends return
// ErrRateLimited; unsubscribed or below-threshold sends succeed without
// delivering anything.
func (d *Dispatcher) Send(ctx context.Context, author string, payload Payload) (*Receipt, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return nil, ErrAuthorRequired
	}
	if payload == nil {
		return nil, fmt.Errorf("notify: payload required")
	}
	notificationType := payload.NotificationType()
	now := d.now()

	limitKey := author + "|" + string(notificationType)
	if !d.limiter.Check(limitKey, d.limit, now) {
		d.metrics.RecordThrottle()
		d.bumpThrottled()
		return &Receipt{Success: false}, fmt.Errorf("%w: type %s for %s resets at %s",
			ErrRateLimited, notificationType, author, d.limiter.ResetAt(limitKey, now).Format(time.RFC3339))
	}

	pref, err := d.preference(ctx, author)
	if err != nil {
		return nil, err
	}
	if !pref.Types[notificationType] {
		d.metrics.RecordSkip()
		d.bumpSkipped()
		return &Receipt{Success: true, Skipped: true}, nil
	}
	if amount := payload.Amount(); amount != nil && pref.MinAmount != nil && pref.MinAmount.Sign() > 0 {
		if amount.Cmp(pref.MinAmount) < 0 {
			d.metrics.RecordSkip()
			d.bumpSkipped()
			return &Receipt{Success: true, Skipped: true}, nil
		}
	}

	// The event counts against the budget from here on, delivered or not.
	d.limiter.Allow(limitKey, d.limit, now)

	title, message, priority := Render(payload)
	notification := &Notification{
		ID:        uuid.NewString(),
		Author:    author,
		Type:      notificationType,
		Title:     title,
		Message:   message,
		Amount:    cloneAmount(payload.Amount()),
		Metadata:  payload.Fields(),
		CreatedAt: now,
		Priority:  priority,
	}
	if err := d.store.Append(ctx, notification); err != nil {
		return nil, fmt.Errorf("notify: append notification: %w", err)
	}
	d.metrics.RecordSent(string(notificationType))
	d.bumpSent()

	channels := d.channelsFor(notificationType, pref)
	delivered := d.fanOut(ctx, channels, notification)

	receipt := &Receipt{
		Success:        len(delivered) > 0,
		NotificationID: notification.ID,
		Attempted:      channels,
		Delivered:      delivered,
	}
	if !receipt.Success {
		d.logger.Warn("notification delivery failed on every channel",
			"author", author, "type", notificationType, "channels", len(channels))
	}
	return receipt, nil
}

// fanOut delivers to all channels concurrently. Every channel settles
// independently; the slice of successful channels comes back once all
// attempts finish.
func (d *Dispatcher) fanOut(ctx context.Context, channels []Channel, n *Notification) []Channel {
	results := make([]bool, len(channels))
	var wg sync.WaitGroup
	for i, channel := range channels {
		deliverer, ok := d.deliverers[channel]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(i int, deliverer Deliverer) {
			defer wg.Done()
			err := deliverer.Deliver(ctx, n.Clone())
			results[i] = err == nil
			d.metrics.RecordDelivery(string(deliverer.Channel()), err == nil)
			d.bumpChannel(deliverer.Channel(), err == nil)
			if err != nil {
				d.logger.Warn("channel delivery failed",
					"channel", deliverer.Channel(), "notification", n.ID, "err", err)
			}
		}(i, deliverer)
	}
	wg.Wait()
	delivered := make([]Channel, 0, len(channels))
	for i, ok := range results {
		if ok {
			delivered = append(delivered, channels[i])
		}
	}
	return delivered
}

// channelsFor intersects the author's enabled channels with the category's
// defaults. Push requires the immediate frequency; digests batch it away.
func (d *Dispatcher) channelsFor(notificationType Type, pref *Preference) []Channel {
	eligible := typeChannelDefaults[notificationType]
	out := make([]Channel, 0, len(eligible))
	for _, channel := range eligible {
		if !pref.Channels[channel] {
			continue
		}
		if channel == ChannelPush && pref.Frequency != FrequencyImmediate {
			continue
		}
		if _, registered := d.deliverers[channel]; !registered {
			continue
		}
		out = append(out, channel)
	}
	return out
}

// Notifications lists the author's history newest-first.
func (d *Dispatcher) Notifications(ctx context.Context, author string, filter Filter) ([]*Notification, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return nil, ErrAuthorRequired
	}
	return d.store.List(ctx, author, filter)
}

// MarkRead marks notifications read. Marking an already-read notification
// again is a no-op, never a double count.
func (d *Dispatcher) MarkRead(ctx context.Context, author string, ids []string) (*MarkResult, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return nil, ErrAuthorRequired
	}
	marked, notFound, err := d.store.MarkRead(ctx, author, ids)
	if err != nil {
		return nil, err
	}
	return &MarkResult{Marked: marked, NotFound: notFound}, nil
}

// Preferences returns the author's settings, creating defaults on first
// access.
func (d *Dispatcher) Preferences(ctx context.Context, author string) (*Preference, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return nil, ErrAuthorRequired
	}
	return d.preference(ctx, author)
}

// PreferenceUpdate carries a partial preference change; nil fields keep the
// stored value.
type PreferenceUpdate struct {
	Channels  map[Channel]bool
	Types     map[Type]bool
	MinAmount *big.Int
	Frequency *Frequency
}

// UpdatePreferences applies the update on top of the stored (or default)
// preference and persists the result.
func (d *Dispatcher) UpdatePreferences(ctx context.Context, author string, update PreferenceUpdate) (*Preference, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return nil, ErrAuthorRequired
	}
	pref, err := d.preference(ctx, author)
	if err != nil {
		return nil, err
	}
	for channel, enabled := range update.Channels {
		pref.Channels[channel] = enabled
	}
	for notificationType, enabled := range update.Types {
		pref.Types[notificationType] = enabled
	}
	if update.MinAmount != nil {
		if update.MinAmount.Sign() < 0 {
			return nil, fmt.Errorf("notify: minimum amount threshold must be non-negative")
		}
		pref.MinAmount = new(big.Int).Set(update.MinAmount)
	}
	if update.Frequency != nil {
		switch *update.Frequency {
		case FrequencyImmediate, FrequencyDaily, FrequencyWeekly:
			pref.Frequency = *update.Frequency
		default:
			return nil, fmt.Errorf("notify: unknown frequency %q", *update.Frequency)
		}
	}
	pref.UpdatedAt = d.now()
	if err := d.store.SavePreference(ctx, pref); err != nil {
		return nil, fmt.Errorf("notify: save preference: %w", err)
	}
	return pref.Clone(), nil
}

// Stats returns a snapshot of dispatcher activity.
func (d *Dispatcher) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	snapshot := Stats{
		Sent:      d.stats.Sent,
		Throttled: d.stats.Throttled,
		Skipped:   d.stats.Skipped,
		Channels:  make(map[Channel]ChannelStats, len(d.stats.Channels)),
	}
	for channel, stats := range d.stats.Channels {
		snapshot.Channels[channel] = stats
	}
	return snapshot
}

func (d *Dispatcher) preference(ctx context.Context, author string) (*Preference, error) {
	pref, ok, err := d.store.Preference(ctx, author)
	if err != nil {
		return nil, fmt.Errorf("notify: load preference: %w", err)
	}
	if ok {
		return pref, nil
	}
	pref = DefaultPreference(author)
	pref.UpdatedAt = d.now()
	if err := d.store.SavePreference(ctx, pref); err != nil {
		return nil, fmt.Errorf("notify: save default preference: %w", err)
	}
	return pref, nil
}

func (d *Dispatcher) bumpSent() {
	d.statsMu.Lock()
	d.stats.Sent++
	d.statsMu.Unlock()
}

func (d *Dispatcher) bumpThrottled() {
	d.statsMu.Lock()
	d.stats.Throttled++
	d.statsMu.Unlock()
}

func (d *Dispatcher) bumpSkipped() {
	d.statsMu.Lock()
	d.stats.Skipped++
	d.statsMu.Unlock()
}

func (d *Dispatcher) bumpChannel(channel Channel, ok bool) {
	d.statsMu.Lock()
	stats := d.stats.Channels[channel]
	stats.Attempts++
	if ok {
		stats.Successes++
	}
	d.stats.Channels[channel] = stats
	d.statsMu.Unlock()
}

func cloneAmount(in *big.Int) *big.Int {
	if in == nil {
		return nil
	}
	return new(big.Int).Set(in)
}
