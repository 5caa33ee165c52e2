package notify

import (
	"math/big"
	"strconv"
	"time"

	"royaltyd/native/royalty"
)

// Type identifies one notification category. The type keys the message
// template, the subscription check, and the rate-limit bucket.
type Type string

// Notification categories.
const (
	TypeClaimSuccess  Type = "claim_success"
	TypeClaimFailed   Type = "claim_failed"
	TypeLargePayment  Type = "large_payment"
	TypeDerivative    Type = "derivative_detected"
	TypeQuality       Type = "quality_milestone"
	TypeCollaboration Type = "collaboration_opportunity"
	TypeTrend         Type = "trend_alert"
	TypeEngagement    Type = "engagement_spike"
	TypeSystem        Type = "system_alert"
)

// Types lists every notification category.
func Types() []Type {
	return []Type{
		TypeClaimSuccess,
		TypeClaimFailed,
		TypeLargePayment,
		TypeDerivative,
		TypeQuality,
		TypeCollaboration,
		TypeTrend,
		TypeEngagement,
		TypeSystem,
	}
}

// Channel is a delivery mechanism for a notification.
type Channel string

// Supported delivery channels.
const (
	ChannelInApp   Channel = "inapp"
	ChannelEmail   Channel = "email"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
)

// Priority ranks notifications for client-side ordering.
type Priority string

// Notification priorities.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Frequency controls how aggressively an author wants to be contacted.
type Frequency string

// Delivery frequencies.
const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

// Notification is one rendered alert in an author's bounded history.
type Notification struct {
	ID        string            `json:"id"`
	Author    string            `json:"authorAddress"`
	Type      Type              `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Amount    *big.Int          `json:"amount,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"timestamp"`
	Read      bool              `json:"read"`
	Priority  Priority          `json:"priority"`
}

// Clone returns a deep copy of the notification.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	clone := *n
	if n.Amount != nil {
		clone.Amount = new(big.Int).Set(n.Amount)
	}
	if n.Metadata != nil {
		clone.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// Preference holds one author's notification settings. Created lazily with
// defaults on first access.
type Preference struct {
	Author    string           `json:"authorAddress"`
	Channels  map[Channel]bool `json:"channels"`
	Types     map[Type]bool    `json:"subscribedTypes"`
	MinAmount *big.Int         `json:"minimumAmountThreshold"`
	Frequency Frequency        `json:"frequency"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// DefaultPreference subscribes the author to every category on the in-app,
// email, and push channels. Webhook delivery is opt-in.
func DefaultPreference(author string) *Preference {
	channels := map[Channel]bool{
		ChannelInApp:   true,
		ChannelEmail:   true,
		ChannelPush:    true,
		ChannelWebhook: false,
	}
	types := make(map[Type]bool, len(Types()))
	for _, t := range Types() {
		types[t] = true
	}
	return &Preference{
		Author:    author,
		Channels:  channels,
		Types:     types,
		MinAmount: big.NewInt(0),
		Frequency: FrequencyImmediate,
	}
}

// Clone returns a deep copy of the preference.
func (p *Preference) Clone() *Preference {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Channels = make(map[Channel]bool, len(p.Channels))
	for k, v := range p.Channels {
		clone.Channels[k] = v
	}
	clone.Types = make(map[Type]bool, len(p.Types))
	for k, v := range p.Types {
		clone.Types[k] = v
	}
	if p.MinAmount != nil {
		clone.MinAmount = new(big.Int).Set(p.MinAmount)
	}
	return &clone
}

// Payload is the typed content of one notification. Each category has its
// own variant so the shape is checked at compile time instead of at render
// time.
type Payload interface {
	// NotificationType keys the template and subscription lookup.
	NotificationType() Type
	// Fields supplies the named template placeholders.
	Fields() map[string]string
	// Amount returns the monetary value of the event, or nil for
	// non-financial notifications. Compared against the author's minimum
	// amount threshold.
	Amount() *big.Int
}

// ClaimSuccessPayload announces a completed royalty claim.
type ClaimSuccessPayload struct {
	ChapterID   string
	Claimed     *big.Int
	Net         *big.Int
	TransferRef string
}

// NotificationType implements Payload.
func (p ClaimSuccessPayload) NotificationType() Type { return TypeClaimSuccess }

// Amount implements Payload.
func (p ClaimSuccessPayload) Amount() *big.Int { return p.Net }

// Fields implements Payload.
func (p ClaimSuccessPayload) Fields() map[string]string {
	return map[string]string{
		"chapterId": p.ChapterID,
		"claimed":   royalty.FormatTokens(p.Claimed),
		"net":       royalty.FormatTokens(p.Net),
		"reference": p.TransferRef,
	}
}

// ClaimFailedPayload announces a failed royalty claim.
type ClaimFailedPayload struct {
	ChapterID string
	Reason    string
}

// NotificationType implements Payload.
func (p ClaimFailedPayload) NotificationType() Type { return TypeClaimFailed }

// Amount implements Payload.
func (p ClaimFailedPayload) Amount() *big.Int { return nil }

// Fields implements Payload.
func (p ClaimFailedPayload) Fields() map[string]string {
	return map[string]string{
		"chapterId": p.ChapterID,
		"reason":    p.Reason,
	}
}

// LargePaymentPayload flags an unusually large payout.
type LargePaymentPayload struct {
	ChapterID string
	Value     *big.Int
}

// NotificationType implements Payload.
func (p LargePaymentPayload) NotificationType() Type { return TypeLargePayment }

// Amount implements Payload.
func (p LargePaymentPayload) Amount() *big.Int { return p.Value }

// Fields implements Payload.
func (p LargePaymentPayload) Fields() map[string]string {
	return map[string]string{
		"chapterId": p.ChapterID,
		"amount":    royalty.FormatTokens(p.Value),
	}
}

// DerivativePayload reports likely derivative content.
type DerivativePayload struct {
	SubjectID    string
	DerivativeID string
	Similarity   float64
}

// NotificationType implements Payload.
func (p DerivativePayload) NotificationType() Type { return TypeDerivative }

// Amount implements Payload.
func (p DerivativePayload) Amount() *big.Int { return nil }

// Fields implements Payload.
func (p DerivativePayload) Fields() map[string]string {
	return map[string]string{
		"subjectId":    p.SubjectID,
		"derivativeId": p.DerivativeID,
		"similarity":   formatScore(p.Similarity),
	}
}

// QualityPayload reports a quality-score milestone.
type QualityPayload struct {
	SubjectID string
	Score     float64
}

// NotificationType implements Payload.
func (p QualityPayload) NotificationType() Type { return TypeQuality }

// Amount implements Payload.
func (p QualityPayload) Amount() *big.Int { return nil }

// Fields implements Payload.
func (p QualityPayload) Fields() map[string]string {
	return map[string]string{
		"subjectId": p.SubjectID,
		"score":     formatScore(p.Score),
	}
}

// CollaborationPayload reports a suggested collaboration partner.
type CollaborationPayload struct {
	Partner  string
	Affinity float64
}

// NotificationType implements Payload.
func (p CollaborationPayload) NotificationType() Type { return TypeCollaboration }

// Amount implements Payload.
func (p CollaborationPayload) Amount() *big.Int { return nil }

// Fields implements Payload.
func (p CollaborationPayload) Fields() map[string]string {
	return map[string]string{
		"partner":  p.Partner,
		"affinity": formatScore(p.Affinity),
	}
}

// TrendPayload reports content that is trending.
type TrendPayload struct {
	SubjectID string
	Momentum  float64
}

// NotificationType implements Payload.
func (p TrendPayload) NotificationType() Type { return TypeTrend }

// Amount implements Payload.
func (p TrendPayload) Amount() *big.Int { return nil }

// Fields implements Payload.
func (p TrendPayload) Fields() map[string]string {
	return map[string]string{
		"subjectId": p.SubjectID,
		"momentum":  formatScore(p.Momentum),
	}
}

// EngagementPayload reports a spike in reader engagement.
type EngagementPayload struct {
	SubjectID string
	Velocity  float64
}

// NotificationType implements Payload.
func (p EngagementPayload) NotificationType() Type { return TypeEngagement }

// Amount implements Payload.
func (p EngagementPayload) Amount() *big.Int { return nil }

// Fields implements Payload.
func (p EngagementPayload) Fields() map[string]string {
	return map[string]string{
		"subjectId": p.SubjectID,
		"velocity":  formatScore(p.Velocity),
	}
}

// SystemPayload carries operator-facing announcements.
type SystemPayload struct {
	Detail string
}

// NotificationType implements Payload.
func (p SystemPayload) NotificationType() Type { return TypeSystem }

// Amount implements Payload.
func (p SystemPayload) Amount() *big.Int { return nil }

// Fields implements Payload.
func (p SystemPayload) Fields() map[string]string {
	return map[string]string{"detail": p.Detail}
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 2, 64)
}
