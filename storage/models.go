package storage

import (
	"time"

	"gorm.io/gorm"
)

// ClaimRecord persists one claim attempt. Monetary amounts are stored as
// base-10 strings to keep 18-decimal precision intact.
type ClaimRecord struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	Author         string `gorm:"size:64;index:idx_claims_author_created"`
	ChapterID      string `gorm:"size:128;index"`
	Tier           string `gorm:"size:16;index"`
	Status         string `gorm:"size:16;index"`
	Claimed        string `gorm:"size:80"`
	PlatformFee    string `gorm:"size:80"`
	Net            string `gorm:"size:80"`
	TransferRef    string `gorm:"size:128"`
	FeeTransferRef string `gorm:"size:128"`
	ErrorCode      string `gorm:"size:64"`
	ErrorMessage   string
	CreatedAt      time.Time `gorm:"index:idx_claims_author_created"`
}

// NotificationRecord persists one queued notification.
type NotificationRecord struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Author    string `gorm:"size:64;index:idx_notifications_author_created"`
	Type      string `gorm:"size:32;index"`
	Title     string `gorm:"size:256"`
	Message   string
	Amount    string    `gorm:"size:80"`
	Metadata  string    // JSON map of template fields
	Priority  string    `gorm:"size:16"`
	Read      bool      `gorm:"index"`
	CreatedAt time.Time `gorm:"index:idx_notifications_author_created"`
}

// PreferenceRecord persists one author's notification preference.
type PreferenceRecord struct {
	Author    string `gorm:"size:64;primaryKey"`
	Channels  string // JSON map channel -> enabled
	Types     string // JSON map type -> subscribed
	MinAmount string `gorm:"size:80"`
	Frequency string `gorm:"size:16"`
	UpdatedAt time.Time
}

// EventRecord persists one detection event.
type EventRecord struct {
	ID               string  `gorm:"type:uuid;primaryKey"`
	Type             string  `gorm:"size:32;index"`
	Author           string  `gorm:"size:64;index:idx_events_author_created"`
	SubjectID        string  `gorm:"size:128;index"`
	Confidence       float64 `gorm:"not null"`
	RelatedSubject   string  `gorm:"size:128"`
	RelatedAuthor    string  `gorm:"size:64"`
	NotificationSent bool    `gorm:"index"`
	ActionRequired   bool
	CreatedAt        time.Time `gorm:"index:idx_events_author_created"`
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ClaimRecord{},
		&NotificationRecord{},
		&PreferenceRecord{},
		&EventRecord{},
	)
}
