package detect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"royaltyd/notify"
)

const (
	originalAuthor = "0x3333333333333333333333333333333333333333"
	uploadAuthor   = "0x4444444444444444444444444444444444444444"
)

type capturedSend struct {
	author  string
	payload notify.Payload
}

type funcNotifier struct {
	mu      sync.Mutex
	sends   []capturedSend
	receipt notify.Receipt
}

func (n *funcNotifier) Send(_ context.Context, author string, payload notify.Payload) (*notify.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, capturedSend{author: author, payload: payload})
	receipt := n.receipt
	return &receipt, nil
}

func (n *funcNotifier) sent() []capturedSend {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]capturedSend, len(n.sends))
	copy(out, n.sends)
	return out
}

func newTestDetector(t *testing.T, oracle Oracle, opts ...DetectorOption) (*Detector, *MemoryEvents, *funcNotifier) {
	t.Helper()
	events := NewMemoryEvents()
	notifier := &funcNotifier{receipt: notify.Receipt{Success: true}}
	base := []DetectorOption{
		WithNotifier(notifier),
		WithOracleDelay(time.Nanosecond),
		WithMetrics(nil),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	}
	detector, err := NewDetector(oracle, events, append(base, opts...)...)
	require.NoError(t, err)
	return detector, events, notifier
}

func TestMonitorContentUploadDetectsDerivative(t *testing.T) {
	var oracleCalls atomic.Int64
	oracle := FuncOracle{
		SimilarWorksFunc: func(_ context.Context, subjectID string, _ int) ([]Match, error) {
			oracleCalls.Add(1)
			return []Match{
				{SubjectID: "original-1", Author: originalAuthor, Similarity: 0.85},
				{SubjectID: "original-2", Author: originalAuthor, Similarity: 0.2},
			}, nil
		},
	}
	detector, events, notifier := newTestDetector(t, oracle)
	ctx := context.Background()

	produced, err := detector.MonitorContentUpload(ctx, uploadAuthor, "upload-1")
	require.NoError(t, err)
	require.Len(t, produced, 1, "only the match past the threshold becomes an event")
	require.Equal(t, EventDerivative, produced[0].Type)
	require.Equal(t, originalAuthor, produced[0].Author)
	require.Equal(t, "upload-1", produced[0].RelatedSubject)
	require.True(t, produced[0].ActionRequired)
	require.InDelta(t, 0.85, produced[0].Confidence, 1e-9)

	stored, err := events.ListForAuthor(ctx, originalAuthor, EventFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.True(t, stored[0].NotificationSent)

	sends := notifier.sent()
	require.Len(t, sends, 1)
	require.Equal(t, notify.TypeDerivative, sends[0].payload.NotificationType())

	// Re-scanning the same subject within the dedup window hits the cache
	// and makes no oracle calls.
	again, err := detector.MonitorContentUpload(ctx, uploadAuthor, "upload-1")
	require.NoError(t, err)
	require.Empty(t, again)
	require.Equal(t, int64(1), oracleCalls.Load())
}

func TestScanDerivativesSwallowsPerCandidateFailures(t *testing.T) {
	oracle := FuncOracle{
		RecentWorksFunc: func(context.Context, int) ([]Work, error) {
			return []Work{
				{SubjectID: "bad", Author: uploadAuthor},
				{SubjectID: "good", Author: uploadAuthor},
			}, nil
		},
		SimilarWorksFunc: func(_ context.Context, subjectID string, _ int) ([]Match, error) {
			if subjectID == "bad" {
				return nil, errors.New("analysis backend down")
			}
			return []Match{{SubjectID: "original-1", Author: originalAuthor, Similarity: 0.9}}, nil
		},
	}
	detector, events, _ := newTestDetector(t, oracle)
	ctx := context.Background()

	require.NoError(t, detector.ScanDerivatives(ctx), "one bad candidate must not abort the batch")
	stored, err := events.ListForAuthor(ctx, originalAuthor, EventFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestScanAbortsWhenRecentWorksUnavailable(t *testing.T) {
	oracle := FuncOracle{
		RecentWorksFunc: func(context.Context, int) ([]Work, error) {
			return nil, errors.New("listing down")
		},
	}
	detector, _, _ := newTestDetector(t, oracle)

	err := detector.ScanQuality(context.Background())
	require.ErrorIs(t, err, ErrOracleUnavailable)
}

func TestScanQualityMilestone(t *testing.T) {
	var scoreCalls atomic.Int64
	oracle := FuncOracle{
		RecentWorksFunc: func(context.Context, int) ([]Work, error) {
			return []Work{
				{SubjectID: "strong", Author: originalAuthor},
				{SubjectID: "weak", Author: originalAuthor},
			}, nil
		},
		QualityScoreFunc: func(_ context.Context, subjectID string) (float64, error) {
			scoreCalls.Add(1)
			if subjectID == "strong" {
				return 0.92, nil
			}
			return 0.3, nil
		},
	}
	detector, events, notifier := newTestDetector(t, oracle)
	ctx := context.Background()

	require.NoError(t, detector.ScanQuality(ctx))
	stored, err := events.ListForAuthor(ctx, originalAuthor, EventFilter{Types: []EventType{EventQuality}})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "strong", stored[0].SubjectID)
	require.Len(t, notifier.sent(), 1)

	// Both subjects are cached, so a second tick scores nothing anew.
	require.NoError(t, detector.ScanQuality(ctx))
	require.Equal(t, int64(2), scoreCalls.Load())
}

func TestScanCollaborationNotifiesBothAuthors(t *testing.T) {
	var affinityCalls atomic.Int64
	oracle := FuncOracle{
		RecentWorksFunc: func(context.Context, int) ([]Work, error) {
			return []Work{
				{SubjectID: "work-a", Author: originalAuthor},
				{SubjectID: "work-b", Author: uploadAuthor},
			}, nil
		},
		AffinityFunc: func(context.Context, string, string) (float64, error) {
			affinityCalls.Add(1)
			return 0.75, nil
		},
	}
	detector, events, notifier := newTestDetector(t, oracle)
	ctx := context.Background()

	require.NoError(t, detector.ScanCollaboration(ctx))
	require.Equal(t, int64(1), affinityCalls.Load(), "one call per author pair")

	forA, err := events.ListForAuthor(ctx, originalAuthor, EventFilter{})
	require.NoError(t, err)
	require.Len(t, forA, 1)
	require.Equal(t, uploadAuthor, forA[0].RelatedAuthor)
	forB, err := events.ListForAuthor(ctx, uploadAuthor, EventFilter{})
	require.NoError(t, err)
	require.Len(t, forB, 1)
	require.Len(t, notifier.sent(), 2)

	// The pair key is order-independent, so the rescan is a pure cache hit.
	require.NoError(t, detector.ScanCollaboration(ctx))
	require.Equal(t, int64(1), affinityCalls.Load())
}

func TestScanCollaborationDedupesAuthors(t *testing.T) {
	var affinityCalls atomic.Int64
	oracle := FuncOracle{
		RecentWorksFunc: func(context.Context, int) ([]Work, error) {
			return []Work{
				{SubjectID: "work-a1", Author: originalAuthor},
				{SubjectID: "work-a2", Author: originalAuthor},
				{SubjectID: "work-anon", Author: "  "},
				{SubjectID: "work-b", Author: uploadAuthor},
			}, nil
		},
		AffinityFunc: func(context.Context, string, string) (float64, error) {
			affinityCalls.Add(1)
			return 0.75, nil
		},
	}
	detector, events, _ := newTestDetector(t, oracle)
	ctx := context.Background()

	// Two distinct authors across four works: exactly one pair to score.
	require.NoError(t, detector.ScanCollaboration(ctx))
	require.Equal(t, int64(1), affinityCalls.Load())

	forA, err := events.ListForAuthor(ctx, originalAuthor, EventFilter{})
	require.NoError(t, err)
	require.Len(t, forA, 1)
}

func TestScanTrendThreshold(t *testing.T) {
	oracle := FuncOracle{
		RecentWorksFunc: func(context.Context, int) ([]Work, error) {
			return []Work{{SubjectID: "hot", Author: originalAuthor}}, nil
		},
		MomentumFunc: func(context.Context, string) (float64, error) {
			return 3.4, nil
		},
	}
	detector, events, _ := newTestDetector(t, oracle)
	ctx := context.Background()

	require.NoError(t, detector.ScanTrends(ctx))
	stored, err := events.ListForAuthor(ctx, originalAuthor, EventFilter{Types: []EventType{EventTrend}})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.InDelta(t, 3.4, stored[0].Confidence, 1e-9)
}

func TestSkippedNotificationLeavesEventUnprocessed(t *testing.T) {
	oracle := FuncOracle{
		RecentWorksFunc: func(context.Context, int) ([]Work, error) {
			return []Work{{SubjectID: "spiking", Author: originalAuthor}}, nil
		},
		EngagementDeltaFunc: func(context.Context, string) (float64, error) {
			return 2.8, nil
		},
	}
	detector, events, notifier := newTestDetector(t, oracle)
	notifier.receipt = notify.Receipt{Success: true, Skipped: true}
	ctx := context.Background()

	require.NoError(t, detector.ScanEngagement(ctx))
	stored, err := events.ListForAuthor(ctx, originalAuthor, EventFilter{UnprocessedOnly: true})
	require.NoError(t, err)
	require.Len(t, stored, 1, "a skipped notification keeps the event queryable as unprocessed")
	require.False(t, stored[0].NotificationSent)
}

func TestPurgeDropsExpiredEvents(t *testing.T) {
	now := time.Unix(1700000000, 0)
	events := NewMemoryEvents()
	ctx := context.Background()
	require.NoError(t, events.Append(ctx, &Event{
		ID: "old", Type: EventTrend, Author: originalAuthor,
		Timestamp: now.Add(-31 * 24 * time.Hour),
	}))
	require.NoError(t, events.Append(ctx, &Event{
		ID: "fresh", Type: EventTrend, Author: originalAuthor,
		Timestamp: now.Add(-time.Hour),
	}))

	detector, err := NewDetector(FuncOracle{}, events,
		WithMetrics(nil),
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	purged, err := detector.Purge(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	remaining, err := events.ListForAuthor(ctx, originalAuthor, EventFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "fresh", remaining[0].ID)
}

func TestEventsForAuthorFilters(t *testing.T) {
	now := time.Unix(1700000000, 0)
	events := NewMemoryEvents()
	ctx := context.Background()
	require.NoError(t, events.Append(ctx, &Event{
		ID: "a", Type: EventTrend, Author: originalAuthor, Timestamp: now,
	}))
	require.NoError(t, events.Append(ctx, &Event{
		ID: "b", Type: EventQuality, Author: originalAuthor, Timestamp: now.Add(time.Minute),
	}))
	require.NoError(t, events.Append(ctx, &Event{
		ID: "c", Type: EventTrend, Author: uploadAuthor, Timestamp: now,
	}))

	detector, err := NewDetector(FuncOracle{}, events, WithMetrics(nil))
	require.NoError(t, err)

	all, err := detector.EventsForAuthor(ctx, originalAuthor, EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "b", all[0].ID, "newest first")

	trends, err := detector.EventsForAuthor(ctx, originalAuthor, EventFilter{Types: []EventType{EventTrend}})
	require.NoError(t, err)
	require.Len(t, trends, 1)
	require.Equal(t, "a", trends[0].ID)
}
