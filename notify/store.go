package notify

import (
	"context"
	"strings"
	"sync"
	"time"
)

// QueueCap bounds each author's notification history; the oldest entry is
// evicted when the queue is full.
const QueueCap = 100

// Filter narrows a notification listing.
type Filter struct {
	UnreadOnly bool
	Limit      int
	Types      []Type
	Since      time.Time
}

// Store owns the per-author notification queues and preferences.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds a notification to the owner's queue, evicting the oldest
	// entry beyond QueueCap.
	Append(ctx context.Context, n *Notification) error
	// List returns the author's notifications newest-first after filtering.
	List(ctx context.Context, author string, filter Filter) ([]*Notification, error)
	// MarkRead marks the given notifications read. It returns how many
	// transitioned from unread to read and the ids that were not found;
	// already-read entries count as found but not marked.
	MarkRead(ctx context.Context, author string, ids []string) (int, []string, error)
	// Preference fetches the author's stored preference, if any.
	Preference(ctx context.Context, author string) (*Preference, bool, error)
	// SavePreference stores the preference, replacing any previous value.
	SavePreference(ctx context.Context, pref *Preference) error
}

// MemoryStore is the in-process Store used for tests and single-instance
// deployments.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string][]*Notification
	prefs  map[string]*Preference
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues: make(map[string][]*Notification),
		prefs:  make(map[string]*Preference),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, n *Notification) error {
	if n == nil {
		return nil
	}
	author := strings.TrimSpace(n.Author)
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := append([]*Notification{n.Clone()}, s.queues[author]...)
	if len(queue) > QueueCap {
		queue = queue[:QueueCap]
	}
	s.queues[author] = queue
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, author string, filter Filter) ([]*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var wanted map[Type]struct{}
	if len(filter.Types) > 0 {
		wanted = make(map[Type]struct{}, len(filter.Types))
		for _, t := range filter.Types {
			wanted[t] = struct{}{}
		}
	}
	out := make([]*Notification, 0)
	for _, n := range s.queues[strings.TrimSpace(author)] {
		if filter.UnreadOnly && n.Read {
			continue
		}
		if wanted != nil {
			if _, ok := wanted[n.Type]; !ok {
				continue
			}
		}
		if !filter.Since.IsZero() && n.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, n.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// MarkRead implements Store.
func (s *MemoryStore) MarkRead(_ context.Context, author string, ids []string) (int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.queues[strings.TrimSpace(author)]
	byID := make(map[string]*Notification, len(queue))
	for _, n := range queue {
		byID[n.ID] = n
	}
	marked := 0
	notFound := make([]string, 0)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		n, ok := byID[id]
		if !ok {
			notFound = append(notFound, id)
			continue
		}
		if !n.Read {
			n.Read = true
			marked++
		}
	}
	return marked, notFound, nil
}

// Preference implements Store.
func (s *MemoryStore) Preference(_ context.Context, author string) (*Preference, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pref, ok := s.prefs[strings.TrimSpace(author)]
	if !ok {
		return nil, false, nil
	}
	return pref.Clone(), true, nil
}

// SavePreference implements Store.
func (s *MemoryStore) SavePreference(_ context.Context, pref *Preference) error {
	if pref == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[strings.TrimSpace(pref.Author)] = pref.Clone()
	return nil
}
