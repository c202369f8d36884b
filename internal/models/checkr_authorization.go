package models

import (
	"errors"
	"fmt"
	"time"
)

// AuthorizationState is the lifecycle state of a Checkr authorization
type AuthorizationState string

const (
	// StateUncredentialed means a token was issued but Checkr has not finished credentialing
	StateUncredentialed AuthorizationState = "uncredentialed"
	// StateCredentialed means the token may be used to order background checks
	StateCredentialed AuthorizationState = "credentialed"
	// StateDisconnected is terminal until a fresh exchange replaces the record
	StateDisconnected AuthorizationState = "disconnected"
)

// ErrInvalidAuthorization is returned when a record violates its state invariants
var ErrInvalidAuthorization = errors.New("invalid checkr authorization")

// CheckrAuthorization links one partner Account to a Checkr account.
// The access token is only ever stored encrypted.
type CheckrAuthorization struct {
	PartnerAccountID string `gorm:"primaryKey"`
	CheckrAccountID  string `gorm:"index"`

	// Token storage (ciphertext + keyed lookup hash, never plaintext)
	EncryptedAccessToken string `gorm:"type:text"`
	AccessTokenHash      string `gorm:"index"`

	State   AuthorizationState `gorm:"not null;default:'uncredentialed'"`
	Version int64              `gorm:"not null;default:0"`

	CredentialedAt *time.Time
	DisconnectedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the table name used by CheckrAuthorization to `checkr_authorizations`
func (CheckrAuthorization) TableName() string {
	return "checkr_authorizations"
}

// IsCredentialed returns true if Checkr has finished credentialing the account
func (a *CheckrAuthorization) IsCredentialed() bool {
	return a.State == StateCredentialed
}

// IsDisconnected returns true if the token has been deauthorized
func (a *CheckrAuthorization) IsDisconnected() bool {
	return a.State == StateDisconnected
}

// MarkCredentialed moves an uncredentialed record to credentialed.
// It reports whether the record changed.
func (a *CheckrAuthorization) MarkCredentialed(now time.Time) bool {
	if a.State != StateUncredentialed {
		return false
	}
	a.State = StateCredentialed
	a.CredentialedAt = &now
	return true
}

// MarkDisconnected clears the credential and Checkr account ID.
// It reports whether the record changed.
func (a *CheckrAuthorization) MarkDisconnected(now time.Time) bool {
	if a.State == StateDisconnected {
		return false
	}
	a.State = StateDisconnected
	a.CheckrAccountID = ""
	a.EncryptedAccessToken = ""
	a.AccessTokenHash = ""
	a.DisconnectedAt = &now
	return true
}

// Validate checks the state invariants before a write
func (a *CheckrAuthorization) Validate() error {
	if a.PartnerAccountID == "" {
		return fmt.Errorf("%w: partner account id is required", ErrInvalidAuthorization)
	}

	switch a.State {
	case StateUncredentialed, StateCredentialed:
		if a.EncryptedAccessToken == "" || a.CheckrAccountID == "" {
			return fmt.Errorf(
				"%w: %s record requires an access token and checkr account id",
				ErrInvalidAuthorization,
				a.State,
			)
		}
	case StateDisconnected:
		if a.EncryptedAccessToken != "" || a.CheckrAccountID != "" || a.AccessTokenHash != "" {
			return fmt.Errorf(
				"%w: disconnected record must not carry credentials",
				ErrInvalidAuthorization,
			)
		}
	default:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidAuthorization, a.State)
	}
	return nil
}
