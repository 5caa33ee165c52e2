package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"royaltyd/detect"
)

// EventStore is the gorm-backed detect.EventRepository.
type EventStore struct {
	db *gorm.DB
}

// NewEventStore constructs the repository over an already-migrated DB.
func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// Append implements detect.EventRepository.
func (s *EventStore) Append(ctx context.Context, event *detect.Event) error {
	if event == nil {
		return nil
	}
	record := EventRecord{
		ID:               event.ID,
		Type:             string(event.Type),
		Author:           strings.TrimSpace(event.Author),
		SubjectID:        event.SubjectID,
		Confidence:       event.Confidence,
		RelatedSubject:   event.RelatedSubject,
		RelatedAuthor:    event.RelatedAuthor,
		NotificationSent: event.NotificationSent,
		ActionRequired:   event.ActionRequired,
		CreatedAt:        event.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("storage: append event: %w", err)
	}
	return nil
}

// ListForAuthor implements detect.EventRepository.
func (s *EventStore) ListForAuthor(ctx context.Context, author string, filter detect.EventFilter) ([]*detect.Event, error) {
	query := s.db.WithContext(ctx).Model(&EventRecord{}).
		Where("author = ?", strings.TrimSpace(author))
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		query = query.Where("type IN ?", types)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}
	if filter.UnprocessedOnly {
		query = query.Where("notification_sent = ?", false)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var records []EventRecord
	if err := query.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("storage: list events: %w", err)
	}
	events := make([]*detect.Event, 0, len(records))
	for i := range records {
		events = append(events, recordToEvent(&records[i]))
	}
	return events, nil
}

// MarkNotified implements detect.EventRepository.
func (s *EventStore) MarkNotified(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&EventRecord{}).
		Where("id = ?", id).
		Update("notification_sent", true).Error
	if err != nil {
		return fmt.Errorf("storage: mark event notified: %w", err)
	}
	return nil
}

// PurgeOlderThan implements detect.EventRepository.
func (s *EventStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&EventRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("storage: purge events: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func recordToEvent(record *EventRecord) *detect.Event {
	return &detect.Event{
		ID:               record.ID,
		Type:             detect.EventType(record.Type),
		Author:           record.Author,
		SubjectID:        record.SubjectID,
		Confidence:       record.Confidence,
		RelatedSubject:   record.RelatedSubject,
		RelatedAuthor:    record.RelatedAuthor,
		NotificationSent: record.NotificationSent,
		ActionRequired:   record.ActionRequired,
		Timestamp:        record.CreatedAt.UTC(),
	}
}
