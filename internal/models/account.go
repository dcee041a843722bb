package models

import "time"

type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierBusiness   Tier = "business"
	TierEnterprise Tier = "enterprise"
)

// Monthly webhook quotas per tier. Zero means unlimited.
var WebhookQuotas = map[Tier]int64{
	TierFree:       1000,
	TierStarter:    10000,
	TierBusiness:   50000,
	TierEnterprise: 0,
}

// Delivery record retention per tier, in days.
var RetentionDays = map[Tier]int{
	TierFree:       3,
	TierStarter:    30,
	TierBusiness:   90,
	TierEnterprise: 365,
}

func QuotaFor(tier Tier) int64 {
	if q, ok := WebhookQuotas[tier]; ok {
		return q
	}
	return WebhookQuotas[TierFree]
}

func RetentionFor(tier Tier) int {
	if d, ok := RetentionDays[tier]; ok {
		return d
	}
	return RetentionDays[TierFree]
}

type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	APIKey       string    `json:"api_key,omitempty"`
	Tier         Tier      `json:"tier"`
	WebhookQuota int64     `json:"webhook_quota"`
	WebhookUsage int64     `json:"webhook_usage"`
	UsageResetAt time.Time `json:"usage_reset_at"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasQuotaRemaining reports whether the account may admit another webhook this
// month. A zero quota means unlimited.
func (a *Account) HasQuotaRemaining() bool {
	if a.WebhookQuota <= 0 {
		return true
	}
	return a.WebhookUsage < a.WebhookQuota
}

// NextUsageReset is the first day of the month after t.
func NextUsageReset(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
