package models

import (
	"time"
)

// Account is a partner-owned account. Its ID is assigned by the partner
// application and travels through the Checkr connect flow as the OAuth state.
type Account struct {
	ID string `gorm:"primaryKey"`

	Authorization *CheckrAuthorization `gorm:"foreignKey:PartnerAccountID;references:ID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the table name used by Account to `accounts`
func (Account) TableName() string {
	return "accounts"
}
