package detect

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// EventType labels what a background monitor observed.
type EventType string

// Known event types.
const (
	EventDerivative    EventType = "derivative"
	EventQuality       EventType = "quality"
	EventCollaboration EventType = "collaboration"
	EventTrend         EventType = "trend"
	EventEngagement    EventType = "engagement"
)

// Event is one recorded detection. RelatedSubject and RelatedAuthor carry
// the counterpart of the observation where one exists: the derivative work
// for a derivative event, the suggested partner for a collaboration event.
type Event struct {
	ID               string    `json:"id"`
	Type             EventType `json:"type"`
	Author           string    `json:"authorAddress"`
	SubjectID        string    `json:"subjectId"`
	Confidence       float64   `json:"confidence"`
	RelatedSubject   string    `json:"relatedSubjectId,omitempty"`
	RelatedAuthor    string    `json:"relatedAuthorAddress,omitempty"`
	NotificationSent bool      `json:"notificationSent"`
	ActionRequired   bool      `json:"actionRequired"`
	Timestamp        time.Time `json:"timestamp"`
}

// Clone returns a copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// EventFilter narrows an event listing.
type EventFilter struct {
	Types           []EventType
	Since           time.Time
	Limit           int
	UnprocessedOnly bool
}

// EventRepository owns recorded detections. Implementations must be safe for
// concurrent use.
type EventRepository interface {
	// Append stores a new event.
	Append(ctx context.Context, event *Event) error
	// ListForAuthor returns the author's events newest-first.
	ListForAuthor(ctx context.Context, author string, filter EventFilter) ([]*Event, error)
	// MarkNotified flips the notification flag on an event.
	MarkNotified(ctx context.Context, id string) error
	// PurgeOlderThan removes events recorded before the cutoff and reports
	// how many were dropped.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryEvents is the in-process EventRepository used for tests and
// single-instance deployments.
type MemoryEvents struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemoryEvents constructs an empty repository.
func NewMemoryEvents() *MemoryEvents {
	return &MemoryEvents{}
}

// Append implements EventRepository.
func (m *MemoryEvents) Append(_ context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event.Clone())
	return nil
}

// ListForAuthor implements EventRepository.
func (m *MemoryEvents) ListForAuthor(_ context.Context, author string, filter EventFilter) ([]*Event, error) {
	author = strings.TrimSpace(author)
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]*Event, 0)
	for _, event := range m.events {
		if event.Author != author {
			continue
		}
		if !eventMatches(event, filter) {
			continue
		}
		matched = append(matched, event.Clone())
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// MarkNotified implements EventRepository.
func (m *MemoryEvents) MarkNotified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, event := range m.events {
		if event.ID == id {
			event.NotificationSent = true
			return nil
		}
	}
	return nil
}

// PurgeOlderThan implements EventRepository.
func (m *MemoryEvents) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	purged := 0
	for _, event := range m.events {
		if event.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, event)
	}
	m.events = kept
	return purged, nil
}

func eventMatches(event *Event, filter EventFilter) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, eventType := range filter.Types {
			if event.Type == eventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !filter.Since.IsZero() && event.Timestamp.Before(filter.Since) {
		return false
	}
	if filter.UnprocessedOnly && event.NotificationSent {
		return false
	}
	return true
}
