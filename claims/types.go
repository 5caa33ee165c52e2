package claims

import (
	"math/big"
	"time"

	"royaltyd/native/royalty"
)

// Status tracks a claim attempt through its lifecycle.
type Status string

// Claim lifecycle states. Entries never change after reaching a terminal
// state apart from the pending transition.
const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Request is one incoming royalty claim.
type Request struct {
	ChapterID      string   `json:"chapterId"`
	Author         string   `json:"authorAddress"`
	LicenseTermsID string   `json:"licenseTermsId,omitempty"`
	Expected       *big.Int `json:"expectedAmount,omitempty"`
}

// Result is the terminal state of one claim attempt. A fee-transfer failure
// leaves Success true: the author was paid, and the shortfall is recorded
// rather than rolled back.
type Result struct {
	Success        bool         `json:"success"`
	ChapterID      string       `json:"chapterId"`
	Author         string       `json:"authorAddress"`
	Tier           royalty.Tier `json:"licenseTier"`
	Claimed        *big.Int     `json:"claimedAmount"`
	PlatformFee    *big.Int     `json:"platformFee"`
	Net            *big.Int     `json:"netAmount"`
	TransferRef    string       `json:"transferReference,omitempty"`
	FeeTransferRef string       `json:"feeTransferReference,omitempty"`
	FeeError       string       `json:"feeTransferError,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// HistoryEntry is the persisted record of one claim attempt.
type HistoryEntry struct {
	ID             string       `json:"id"`
	Author         string       `json:"authorAddress"`
	ChapterID      string       `json:"chapterId"`
	Tier           royalty.Tier `json:"licenseTier"`
	Status         Status       `json:"status"`
	Claimed        *big.Int     `json:"claimedAmount"`
	PlatformFee    *big.Int     `json:"platformFee"`
	Net            *big.Int     `json:"netAmount"`
	TransferRef    string       `json:"transferReference,omitempty"`
	FeeTransferRef string       `json:"feeTransferReference,omitempty"`
	ErrorCode      string       `json:"errorCode,omitempty"`
	ErrorMessage   string       `json:"errorMessage,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// Clone returns a deep copy of the entry.
func (e *HistoryEntry) Clone() *HistoryEntry {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Claimed != nil {
		clone.Claimed = new(big.Int).Set(e.Claimed)
	}
	if e.PlatformFee != nil {
		clone.PlatformFee = new(big.Int).Set(e.PlatformFee)
	}
	if e.Net != nil {
		clone.Net = new(big.Int).Set(e.Net)
	}
	return &clone
}

// HistoryFilter narrows and pages a history listing. Page is 1-based.
type HistoryFilter struct {
	Status Status
	Tier   royalty.Tier
	Start  time.Time
	End    time.Time
	Page   int
	Limit  int
}

// HistorySummary aggregates an author's claim history.
type HistorySummary struct {
	TotalClaimed *big.Int `json:"totalClaimed"`
	TotalFees    *big.Int `json:"totalFees"`
	Completed    int      `json:"completed"`
	Failed       int      `json:"failed"`
}

// ClaimableCheck reports the accrued royalty for a chapter and author.
type ClaimableCheck struct {
	ChapterID string    `json:"chapterId"`
	Author    string    `json:"authorAddress"`
	Amount    *big.Int  `json:"claimableAmount"`
	Cached    bool      `json:"cached"`
	CheckedAt time.Time `json:"checkedAt"`
}
