package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Connect flow events
	EventCredentialExchanged EventType = "CREDENTIAL_EXCHANGED"
	EventExchangeFailed      EventType = "EXCHANGE_FAILED"

	// Webhook events
	EventAccountCredentialed EventType = "ACCOUNT_CREDENTIALED"
	EventCredentialRetry     EventType = "CREDENTIAL_RETRY_REQUESTED"
	EventTokenDeauthorized   EventType = "TOKEN_DEAUTHORIZED"
	EventWebhookIgnored      EventType = "WEBHOOK_IGNORED"
	EventSignatureRejected   EventType = "SIGNATURE_REJECTED"

	// Self-service revocation events
	EventRevocationRequested EventType = "REVOCATION_REQUESTED"
	EventRevocationFailed    EventType = "REVOCATION_FAILED"
)

// EventSeverity represents the severity level of an audit event
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "INFO"
	SeverityWarning  EventSeverity = "WARNING"
	SeverityError    EventSeverity = "ERROR"
	SeverityCritical EventSeverity = "CRITICAL"
)

// AuditDetails stores additional event-specific information as JSON
type AuditDetails map[string]any

// Value implements the driver.Valuer interface for database storage
func (a AuditDetails) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil //nolint:nilnil // nil driver.Value represents SQL NULL, which is valid here
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database retrieval
func (a *AuditDetails) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal AuditDetails value: %v", value)
	}

	result := make(AuditDetails)
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}

	*a = result
	return nil
}

// AuditLog is an immutable record of something that happened to a
// partner account's Checkr authorization
type AuditLog struct {
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`

	// Event information
	EventType EventType     `gorm:"type:varchar(50);index;not null" json:"event_type"`
	EventTime time.Time     `gorm:"index;not null"                  json:"event_time"`
	Severity  EventSeverity `gorm:"type:varchar(20);not null"       json:"severity"`

	// Subject
	PartnerAccountID string `gorm:"type:varchar(255);index" json:"partner_account_id,omitempty"`
	CheckrAccountID  string `gorm:"type:varchar(255);index" json:"checkr_account_id,omitempty"`

	// Operation details
	Action       string       `gorm:"type:varchar(255);not null" json:"action"`
	Details      AuditDetails `gorm:"type:text"                  json:"details,omitempty"`
	Success      bool         `gorm:"index;not null"             json:"success"`
	ErrorMessage string       `gorm:"type:text"                  json:"error_message,omitempty"`

	// Request metadata
	ActorIP     string `gorm:"type:varchar(45)"  json:"actor_ip,omitempty"` // Support IPv6
	RequestPath string `gorm:"type:varchar(500)" json:"request_path,omitempty"`

	// Timestamps (no UpdatedAt - immutable logs)
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "audit_logs"
}
