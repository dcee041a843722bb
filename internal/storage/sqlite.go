package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/richytech/webhookrelay/internal/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			api_key TEXT NOT NULL UNIQUE,
			tier TEXT NOT NULL DEFAULT 'free',
			webhook_quota INTEGER NOT NULL DEFAULT 0,
			webhook_usage INTEGER NOT NULL DEFAULT 0,
			usage_reset_at DATETIME NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS endpoints (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			custom_headers TEXT NOT NULL DEFAULT '[]',
			retry_policy TEXT NOT NULL DEFAULT '{}',
			stats_total INTEGER NOT NULL DEFAULT 0,
			stats_success INTEGER NOT NULL DEFAULT 0,
			stats_failed INTEGER NOT NULL DEFAULT 0,
			stats_last_request_at DATETIME,
			stats_avg_response_ms INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_records (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			endpoint_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			incoming_headers TEXT NOT NULL DEFAULT '[]',
			received_at DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_attempt_at DATETIME,
			next_retry_at DATETIME,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			record_id TEXT NOT NULL REFERENCES delivery_records(id) ON DELETE CASCADE,
			attempt_number INTEGER NOT NULL,
			attempted_at DATETIME NOT NULL,
			request_headers TEXT NOT NULL DEFAULT '[]',
			status_code INTEGER NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_api_key ON accounts(api_key)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_account ON endpoints(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_records_account ON delivery_records(account_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_records_endpoint ON delivery_records(endpoint_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_records_status ON delivery_records(account_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_records_expiry ON delivery_records(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_record ON attempts(record_id, attempt_number)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Accounts ---

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *models.Account) error {
	active := 0
	if a.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, name, api_key, tier, webhook_quota, webhook_usage, usage_reset_at, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.Name, a.APIKey, a.Tier, a.WebhookQuota, a.WebhookUsage, a.UsageResetAt, active, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) scanAccount(row interface{ Scan(...interface{}) error }) (*models.Account, error) {
	var a models.Account
	var active int
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.APIKey, &a.Tier, &a.WebhookQuota, &a.WebhookUsage, &a.UsageResetAt, &active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Active = active == 1
	return &a, nil
}

const accountColumns = `id, email, name, api_key, tier, webhook_quota, webhook_usage, usage_reset_at, active, created_at, updated_at`

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := s.scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStore) GetAccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE api_key = ?`, apiKey)
	a, err := s.scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) UpdateAccountAPIKey(ctx context.Context, id, newKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET api_key = ?, updated_at = ? WHERE id = ?`,
		newKey, time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStore) IncrementUsage(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET webhook_usage = webhook_usage + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), accountID,
	)
	return err
}

func (s *SQLiteStore) ResetUsage(ctx context.Context, accountID string, nextReset time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET webhook_usage = 0, usage_reset_at = ?, updated_at = ? WHERE id = ?`,
		nextReset, time.Now().UTC(), accountID,
	)
	return err
}

// --- Endpoints ---

const endpointColumns = `id, account_id, name, description, url, secret, custom_headers, retry_policy,
	stats_total, stats_success, stats_failed, stats_last_request_at, stats_avg_response_ms,
	active, created_at, updated_at`

func (s *SQLiteStore) CreateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	headers, _ := json.Marshal(ep.CustomHeaders)
	policy, _ := json.Marshal(ep.RetryPolicy)
	active := 0
	if ep.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO endpoints (id, account_id, name, description, url, secret, custom_headers, retry_policy, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.AccountID, ep.Name, ep.Description, ep.URL, ep.Secret, string(headers), string(policy), active, ep.CreatedAt, ep.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) scanEndpoint(row interface{ Scan(...interface{}) error }) (*models.Endpoint, error) {
	var ep models.Endpoint
	var headers, policy string
	var lastRequestAt sql.NullTime
	var active int
	err := row.Scan(&ep.ID, &ep.AccountID, &ep.Name, &ep.Description, &ep.URL, &ep.Secret, &headers, &policy,
		&ep.Stats.TotalRequests, &ep.Stats.SuccessfulRequests, &ep.Stats.FailedRequests, &lastRequestAt, &ep.Stats.AverageResponseTimeMs,
		&active, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(headers), &ep.CustomHeaders)
	json.Unmarshal([]byte(policy), &ep.RetryPolicy)
	if lastRequestAt.Valid {
		t := lastRequestAt.Time
		ep.Stats.LastRequestAt = &t
	}
	ep.Active = active == 1
	return &ep, nil
}

func (s *SQLiteStore) GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE id = ?`, id)
	ep, err := s.scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ep, err
}

func (s *SQLiteStore) ListEndpoints(ctx context.Context, accountID string) ([]models.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointColumns+` FROM endpoints WHERE account_id = ? ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []models.Endpoint
	for rows.Next() {
		ep, err := s.scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints, rows.Err()
}

func (s *SQLiteStore) UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	headers, _ := json.Marshal(ep.CustomHeaders)
	policy, _ := json.Marshal(ep.RetryPolicy)
	active := 0
	if ep.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET name = ?, description = ?, url = ?, custom_headers = ?, retry_policy = ?, active = ?, updated_at = ? WHERE id = ?`,
		ep.Name, ep.Description, ep.URL, string(headers), string(policy), active, time.Now().UTC(), ep.ID,
	)
	return err
}

func (s *SQLiteStore) DeleteEndpoint(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) ToggleEndpoint(ctx context.Context, id string, active bool) error {
	a := 0
	if active {
		a = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE endpoints SET active = ?, updated_at = ? WHERE id = ?`, a, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) RotateEndpointSecret(ctx context.Context, id, secret string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE endpoints SET secret = ?, updated_at = ? WHERE id = ?`, secret, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) RecordEndpointStats(ctx context.Context, endpointID string, success bool, latencyMs int64) error {
	succ, fail := 0, 0
	if success {
		succ = 1
	} else {
		fail = 1
	}
	// Running mean over attempted deliveries: (avg*(n-1)+sample)/n where n is
	// the post-update total. All right-hand sides read the pre-update row, so
	// one statement is enough for atomicity.
	_, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET
			stats_total = stats_total + 1,
			stats_success = stats_success + ?,
			stats_failed = stats_failed + ?,
			stats_last_request_at = ?,
			stats_avg_response_ms = CASE WHEN ? > 0
				THEN CAST(ROUND((stats_avg_response_ms * stats_total + ?) / (stats_total + 1.0)) AS INTEGER)
				ELSE stats_avg_response_ms END,
			updated_at = ?
		 WHERE id = ?`,
		succ, fail, time.Now().UTC(), latencyMs, latencyMs, time.Now().UTC(), endpointID,
	)
	return err
}

// --- Delivery records ---

const recordColumns = `id, account_id, endpoint_id, payload, incoming_headers, received_at, status,
	retry_count, last_attempt_at, next_retry_at, expires_at, created_at, updated_at`

func (s *SQLiteStore) CreateDeliveryRecord(ctx context.Context, d *models.DeliveryRecord) error {
	headers, _ := json.Marshal(d.IncomingHeaders)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_records (id, account_id, endpoint_id, payload, incoming_headers, received_at, status, retry_count, last_attempt_at, next_retry_at, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AccountID, d.EndpointID, string(d.Payload), string(headers), d.ReceivedAt, d.Status, d.RetryCount,
		nullTime(d.LastAttemptAt), nullTime(d.NextRetryAt), d.ExpiresAt, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) scanRecord(row interface{ Scan(...interface{}) error }) (*models.DeliveryRecord, error) {
	var d models.DeliveryRecord
	var payload, headers string
	var lastAttemptAt, nextRetryAt sql.NullTime
	err := row.Scan(&d.ID, &d.AccountID, &d.EndpointID, &payload, &headers, &d.ReceivedAt, &d.Status,
		&d.RetryCount, &lastAttemptAt, &nextRetryAt, &d.ExpiresAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Payload = json.RawMessage(payload)
	json.Unmarshal([]byte(headers), &d.IncomingHeaders)
	if lastAttemptAt.Valid {
		t := lastAttemptAt.Time
		d.LastAttemptAt = &t
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		d.NextRetryAt = &t
	}
	return &d, nil
}

func (s *SQLiteStore) GetDeliveryRecord(ctx context.Context, id string) (*models.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM delivery_records WHERE id = ?`, id)
	d, err := s.scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStore) ListDeliveryRecords(ctx context.Context, accountID string, f RecordFilter) ([]models.DeliveryRecord, int64, error) {
	where := `WHERE account_id = ?`
	args := []interface{}{accountID}
	if f.EndpointID != "" {
		where += ` AND endpoint_id = ?`
		args = append(args, f.EndpointID)
	}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.StartDate != nil {
		where += ` AND created_at >= ?`
		args = append(args, f.StartDate.UTC())
	}
	if f.EndDate != nil {
		where += ` AND created_at <= ?`
		args = append(args, f.EndDate.UTC())
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_records `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM delivery_records `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []models.DeliveryRecord
	for rows.Next() {
		d, err := s.scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, *d)
	}
	return records, total, rows.Err()
}

func (s *SQLiteStore) UpdateDeliveryRecord(ctx context.Context, d *models.DeliveryRecord) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE delivery_records SET status = ?, retry_count = ?, last_attempt_at = ?, next_retry_at = ?, updated_at = ? WHERE id = ?`,
		d.Status, d.RetryCount, nullTime(d.LastAttemptAt), nullTime(d.NextRetryAt), time.Now().UTC(), d.ID,
	)
	return err
}

// --- Attempts ---

func (s *SQLiteStore) AppendAttempt(ctx context.Context, a *models.Attempt) error {
	headers, _ := json.Marshal(a.RequestHeaders)
	success := 0
	if a.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, record_id, attempt_number, attempted_at, request_headers, status_code, response_body, latency_ms, error, success)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RecordID, a.AttemptNumber, a.AttemptedAt, string(headers), a.StatusCode, a.ResponseBody, a.LatencyMs, a.Error, success,
	)
	return err
}

func (s *SQLiteStore) GetAttempts(ctx context.Context, recordID string) ([]models.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, record_id, attempt_number, attempted_at, request_headers, status_code, response_body, latency_ms, error, success
		 FROM attempts WHERE record_id = ? ORDER BY attempt_number`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		var a models.Attempt
		var headers string
		var success int
		if err := rows.Scan(&a.ID, &a.RecordID, &a.AttemptNumber, &a.AttemptedAt, &headers, &a.StatusCode, &a.ResponseBody, &a.LatencyMs, &a.Error, &success); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(headers), &a.RequestHeaders)
		a.Success = success == 1
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// --- Retention ---

func (s *SQLiteStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM delivery_records WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Stats ---

func (s *SQLiteStore) GetAccountStats(ctx context.Context, accountID string) (*AccountStats, error) {
	stats := &AccountStats{}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_records WHERE account_id = ?`, accountID).Scan(&stats.TotalRecords)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_records WHERE account_id = ? AND status = 'success'`, accountID).Scan(&stats.SuccessCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_records WHERE account_id = ? AND status = 'failed'`, accountID).Scan(&stats.FailedCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_records WHERE account_id = ? AND status IN ('pending', 'retrying')`, accountID).Scan(&stats.PendingCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM endpoints WHERE account_id = ?`, accountID).Scan(&stats.TotalEndpoints)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM endpoints WHERE account_id = ? AND active = 1`, accountID).Scan(&stats.ActiveEndpoints)
	s.db.QueryRowContext(ctx, `SELECT webhook_quota, webhook_usage FROM accounts WHERE id = ?`, accountID).Scan(&stats.WebhookQuota, &stats.WebhookUsage)

	if stats.TotalRecords > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalRecords) * 100
	}

	return stats, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
