package storage

import (
	"context"
	"time"

	"github.com/richytech/webhookrelay/internal/models"
)

// RecordFilter narrows ListDeliveryRecords. Zero values are ignored.
type RecordFilter struct {
	EndpointID string
	Status     models.DeliveryStatus
	StartDate  *time.Time
	EndDate    *time.Time
	Page       int
	Limit      int
}

type AccountStats struct {
	TotalRecords    int64   `json:"total_records"`
	SuccessCount    int64   `json:"success_count"`
	FailedCount     int64   `json:"failed_count"`
	PendingCount    int64   `json:"pending_count"`
	SuccessRate     float64 `json:"success_rate"`
	TotalEndpoints  int64   `json:"total_endpoints"`
	ActiveEndpoints int64   `json:"active_endpoints"`
	WebhookQuota    int64   `json:"webhook_quota"`
	WebhookUsage    int64   `json:"webhook_usage"`
}

// Store is the durable record of accounts, endpoints, delivery records and
// attempts. Lookups return (nil, nil) when the row does not exist.
type Store interface {
	// Accounts (identity and quota)
	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	UpdateAccountAPIKey(ctx context.Context, id, newKey string) error
	IncrementUsage(ctx context.Context, accountID string) error
	ResetUsage(ctx context.Context, accountID string, nextReset time.Time) error

	// Endpoints
	CreateEndpoint(ctx context.Context, ep *models.Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error)
	ListEndpoints(ctx context.Context, accountID string) ([]models.Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	ToggleEndpoint(ctx context.Context, id string, active bool) error
	RotateEndpointSecret(ctx context.Context, id, secret string) error
	// RecordEndpointStats folds one attempt into the endpoint counters and the
	// running response-time mean. The update is a single statement so
	// concurrent workers never lose increments.
	RecordEndpointStats(ctx context.Context, endpointID string, success bool, latencyMs int64) error

	// Delivery records
	CreateDeliveryRecord(ctx context.Context, d *models.DeliveryRecord) error
	GetDeliveryRecord(ctx context.Context, id string) (*models.DeliveryRecord, error)
	ListDeliveryRecords(ctx context.Context, accountID string, f RecordFilter) ([]models.DeliveryRecord, int64, error)
	UpdateDeliveryRecord(ctx context.Context, d *models.DeliveryRecord) error

	// Attempts (append-only, ordered by attempt_number)
	AppendAttempt(ctx context.Context, a *models.Attempt) error
	GetAttempts(ctx context.Context, recordID string) ([]models.Attempt, error)

	// PurgeExpired deletes delivery records whose expires_at is at or before
	// now. This is the only cleanup mechanism.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)

	GetAccountStats(ctx context.Context, accountID string) (*AccountStats, error)

	Migrate(ctx context.Context) error
	Close() error
}
