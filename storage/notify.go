package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"royaltyd/notify"
)

// NotificationStore is the gorm-backed notify.Store.
type NotificationStore struct {
	db *gorm.DB
}

// NewNotificationStore constructs the store over an already-migrated DB.
func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// Append implements notify.Store. The per-author queue is trimmed back to
// the cap inside the same transaction as the insert.
func (s *NotificationStore) Append(ctx context.Context, n *notify.Notification) error {
	if n == nil {
		return nil
	}
	record := NotificationRecord{
		ID:        n.ID,
		Author:    strings.TrimSpace(n.Author),
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Amount:    bigString(n.Amount),
		Priority:  string(n.Priority),
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
	if len(n.Metadata) > 0 {
		raw, err := json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("storage: encode notification metadata: %w", err)
		}
		record.Metadata = string(raw)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("storage: append notification: %w", err)
		}
		var count int64
		if err := tx.Model(&NotificationRecord{}).
			Where("author = ?", record.Author).
			Count(&count).Error; err != nil {
			return fmt.Errorf("storage: count notifications: %w", err)
		}
		if count <= notify.QueueCap {
			return nil
		}
		var stale []NotificationRecord
		if err := tx.Where("author = ?", record.Author).
			Order("created_at ASC").
			Limit(int(count) - notify.QueueCap).
			Find(&stale).Error; err != nil {
			return fmt.Errorf("storage: find stale notifications: %w", err)
		}
		ids := make([]string, 0, len(stale))
		for i := range stale {
			ids = append(ids, stale[i].ID)
		}
		if err := tx.Delete(&NotificationRecord{}, "id IN ?", ids).Error; err != nil {
			return fmt.Errorf("storage: evict notifications: %w", err)
		}
		return nil
	})
}

// List implements notify.Store.
func (s *NotificationStore) List(ctx context.Context, author string, filter notify.Filter) ([]*notify.Notification, error) {
	query := s.db.WithContext(ctx).Model(&NotificationRecord{}).
		Where("author = ?", strings.TrimSpace(author))
	if filter.UnreadOnly {
		query = query.Where("read = ?", false)
	}
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
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var records []NotificationRecord
	if err := query.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("storage: list notifications: %w", err)
	}
	out := make([]*notify.Notification, 0, len(records))
	for i := range records {
		n, err := recordToNotification(&records[i])
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// MarkRead implements notify.Store.
func (s *NotificationStore) MarkRead(ctx context.Context, author string, ids []string) (int, []string, error) {
	author = strings.TrimSpace(author)
	marked := 0
	notFound := make([]string, 0)
	seen := make(map[string]struct{}, len(ids))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			var record NotificationRecord
			err := tx.Where("author = ? AND id = ?", author, id).First(&record).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				notFound = append(notFound, id)
				continue
			}
			if err != nil {
				return fmt.Errorf("storage: load notification %s: %w", id, err)
			}
			if record.Read {
				continue
			}
			if err := tx.Model(&record).Update("read", true).Error; err != nil {
				return fmt.Errorf("storage: mark notification %s: %w", id, err)
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return marked, notFound, nil
}

// Preference implements notify.Store.
func (s *NotificationStore) Preference(ctx context.Context, author string) (*notify.Preference, bool, error) {
	var record PreferenceRecord
	err := s.db.WithContext(ctx).
		Where("author = ?", strings.TrimSpace(author)).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: load preference: %w", err)
	}
	pref, err := recordToPreference(&record)
	if err != nil {
		return nil, false, err
	}
	return pref, true, nil
}

// SavePreference implements notify.Store.
func (s *NotificationStore) SavePreference(ctx context.Context, pref *notify.Preference) error {
	if pref == nil {
		return nil
	}
	channels, err := json.Marshal(pref.Channels)
	if err != nil {
		return fmt.Errorf("storage: encode channels: %w", err)
	}
	types, err := json.Marshal(pref.Types)
	if err != nil {
		return fmt.Errorf("storage: encode types: %w", err)
	}
	record := PreferenceRecord{
		Author:    strings.TrimSpace(pref.Author),
		Channels:  string(channels),
		Types:     string(types),
		MinAmount: bigString(pref.MinAmount),
		Frequency: string(pref.Frequency),
		UpdatedAt: pref.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return fmt.Errorf("storage: save preference: %w", err)
	}
	return nil
}

func recordToNotification(record *NotificationRecord) (*notify.Notification, error) {
	n := &notify.Notification{
		ID:        record.ID,
		Author:    record.Author,
		Type:      notify.Type(record.Type),
		Title:     record.Title,
		Message:   record.Message,
		Priority:  notify.Priority(record.Priority),
		Read:      record.Read,
		CreatedAt: record.CreatedAt.UTC(),
	}
	if record.Amount != "" && record.Amount != "0" {
		n.Amount = parseBig(record.Amount)
	}
	if record.Metadata != "" {
		if err := json.Unmarshal([]byte(record.Metadata), &n.Metadata); err != nil {
			return nil, fmt.Errorf("storage: decode notification metadata: %w", err)
		}
	}
	return n, nil
}

func recordToPreference(record *PreferenceRecord) (*notify.Preference, error) {
	pref := &notify.Preference{
		Author:    record.Author,
		MinAmount: parseBig(record.MinAmount),
		Frequency: notify.Frequency(record.Frequency),
		UpdatedAt: record.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(record.Channels), &pref.Channels); err != nil {
		return nil, fmt.Errorf("storage: decode channels: %w", err)
	}
	if err := json.Unmarshal([]byte(record.Types), &pref.Types); err != nil {
		return nil, fmt.Errorf("storage: decode types: %w", err)
	}
	return pref, nil
}
