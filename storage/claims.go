package storage

import (
	"context"
	"fmt"
	"math/big"

	"gorm.io/gorm"

	"royaltyd/claims"
	"royaltyd/native/royalty"
)

// ClaimHistory is the gorm-backed claims.HistoryRepository.
type ClaimHistory struct {
	db *gorm.DB
}

// NewClaimHistory constructs the repository over an already-migrated DB.
func NewClaimHistory(db *gorm.DB) *ClaimHistory {
	return &ClaimHistory{db: db}
}

// Append implements claims.HistoryRepository.
func (r *ClaimHistory) Append(ctx context.Context, entry *claims.HistoryEntry) error {
	if entry == nil {
		return nil
	}
	record := ClaimRecord{
		ID:             entry.ID,
		Author:         entry.Author,
		ChapterID:      entry.ChapterID,
		Tier:           string(entry.Tier),
		Status:         string(entry.Status),
		Claimed:        bigString(entry.Claimed),
		PlatformFee:    bigString(entry.PlatformFee),
		Net:            bigString(entry.Net),
		TransferRef:    entry.TransferRef,
		FeeTransferRef: entry.FeeTransferRef,
		ErrorCode:      entry.ErrorCode,
		ErrorMessage:   entry.ErrorMessage,
		CreatedAt:      entry.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("storage: append claim record: %w", err)
	}
	return nil
}

// List implements claims.HistoryRepository.
func (r *ClaimHistory) List(ctx context.Context, author string, filter claims.HistoryFilter) ([]*claims.HistoryEntry, int, error) {
	query := r.db.WithContext(ctx).Model(&ClaimRecord{}).Where("author = ?", author)
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Tier != "" {
		query = query.Where("tier = ?", string(filter.Tier))
	}
	if !filter.Start.IsZero() {
		query = query.Where("created_at >= ?", filter.Start)
	}
	if !filter.End.IsZero() {
		query = query.Where("created_at <= ?", filter.End)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("storage: count claim records: %w", err)
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	var records []ClaimRecord
	err := query.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list claim records: %w", err)
	}
	entries := make([]*claims.HistoryEntry, 0, len(records))
	for i := range records {
		entries = append(entries, recordToEntry(&records[i]))
	}
	return entries, int(total), nil
}

// Summarize implements claims.HistoryRepository.
func (r *ClaimHistory) Summarize(ctx context.Context, author string) (*claims.HistorySummary, error) {
	var records []ClaimRecord
	err := r.db.WithContext(ctx).
		Where("author = ? AND status IN ?", author, []string{
			string(claims.StatusCompleted), string(claims.StatusFailed),
		}).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("storage: summarize claim records: %w", err)
	}
	summary := &claims.HistorySummary{
		TotalClaimed: big.NewInt(0),
		TotalFees:    big.NewInt(0),
	}
	for i := range records {
		switch claims.Status(records[i].Status) {
		case claims.StatusCompleted:
			summary.Completed++
			summary.TotalClaimed.Add(summary.TotalClaimed, parseBig(records[i].Claimed))
			summary.TotalFees.Add(summary.TotalFees, parseBig(records[i].PlatformFee))
		case claims.StatusFailed:
			summary.Failed++
		}
	}
	return summary, nil
}

func recordToEntry(record *ClaimRecord) *claims.HistoryEntry {
	return &claims.HistoryEntry{
		ID:             record.ID,
		Author:         record.Author,
		ChapterID:      record.ChapterID,
		Tier:           royalty.Tier(record.Tier),
		Status:         claims.Status(record.Status),
		Claimed:        parseBig(record.Claimed),
		PlatformFee:    parseBig(record.PlatformFee),
		Net:            parseBig(record.Net),
		TransferRef:    record.TransferRef,
		FeeTransferRef: record.FeeTransferRef,
		ErrorCode:      record.ErrorCode,
		ErrorMessage:   record.ErrorMessage,
		CreatedAt:      record.CreatedAt.UTC(),
	}
}

func bigString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

func parseBig(raw string) *big.Int {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return big.NewInt(0)
	}
	return value
}
