package claims

import (
	"context"
	"math/big"
	"strings"
	"sync"
)

// HistoryRepository owns the persisted claim attempts per author. Entries
// come back newest-first. Implementations must be safe for concurrent use.
type HistoryRepository interface {
	// Append stores a new attempt.
	Append(ctx context.Context, entry *HistoryEntry) error
	// List returns the filtered page for an author plus the total number
	// of entries matching the filter before paging.
	List(ctx context.Context, author string, filter HistoryFilter) ([]*HistoryEntry, int, error)
	// Summarize aggregates the author's full history.
	Summarize(ctx context.Context, author string) (*HistorySummary, error)
}

// MemoryHistory is the in-process HistoryRepository used for tests and
// single-instance deployments.
type MemoryHistory struct {
	mu      sync.Mutex
	entries map[string][]*HistoryEntry
}

// NewMemoryHistory constructs an empty repository.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{entries: make(map[string][]*HistoryEntry)}
}

// Append implements HistoryRepository.
func (h *MemoryHistory) Append(_ context.Context, entry *HistoryEntry) error {
	if entry == nil {
		return nil
	}
	author := strings.TrimSpace(entry.Author)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[author] = append([]*HistoryEntry{entry.Clone()}, h.entries[author]...)
	return nil
}

// List implements HistoryRepository.
func (h *MemoryHistory) List(_ context.Context, author string, filter HistoryFilter) ([]*HistoryEntry, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	matched := make([]*HistoryEntry, 0)
	for _, entry := range h.entries[strings.TrimSpace(author)] {
		if !matches(entry, filter) {
			continue
		}
		matched = append(matched, entry)
	}
	total := len(matched)
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	start := (page - 1) * limit
	if start >= total {
		return []*HistoryEntry{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	out := make([]*HistoryEntry, 0, end-start)
	for _, entry := range matched[start:end] {
		out = append(out, entry.Clone())
	}
	return out, total, nil
}

// Summarize implements HistoryRepository.
func (h *MemoryHistory) Summarize(_ context.Context, author string) (*HistorySummary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	summary := &HistorySummary{
		TotalClaimed: big.NewInt(0),
		TotalFees:    big.NewInt(0),
	}
	for _, entry := range h.entries[strings.TrimSpace(author)] {
		switch entry.Status {
		case StatusCompleted:
			summary.Completed++
			if entry.Claimed != nil {
				summary.TotalClaimed.Add(summary.TotalClaimed, entry.Claimed)
			}
			if entry.PlatformFee != nil {
				summary.TotalFees.Add(summary.TotalFees, entry.PlatformFee)
			}
		case StatusFailed:
			summary.Failed++
		}
	}
	return summary, nil
}

func matches(entry *HistoryEntry, filter HistoryFilter) bool {
	if filter.Status != "" && entry.Status != filter.Status {
		return false
	}
	if filter.Tier != "" && entry.Tier != filter.Tier {
		return false
	}
	if !filter.Start.IsZero() && entry.CreatedAt.Before(filter.Start) {
		return false
	}
	if !filter.End.IsZero() && entry.CreatedAt.After(filter.End) {
		return false
	}
	return true
}
