package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-authgate/checkrgate/internal/models"

	"gorm.io/gorm"
)

// Store persists partner accounts and their Checkr authorizations.
// Writes to one authorization are serialized per partner account id.
type Store struct {
	db    *gorm.DB
	locks *keyedMutex
}

// New opens the database, applies migrations and returns a Store
func New(ctx context.Context, driver, dsn string) (*Store, error) {
	dialector, err := GetDialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(),
	})
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		// One connection: :memory: databases are per connection and
		// SQLite allows a single writer anyway.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.WithContext(ctx).AutoMigrate(
		&models.Account{},
		&models.CheckrAuthorization{},
		&models.AuditLog{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db, locks: newKeyedMutex()}, nil
}

// GetAccount returns a partner account with its authorization preloaded
func (s *Store) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).
		Preload("Authorization").
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &account, nil
}

// FindByPartnerAccountID returns the authorization owned by a partner account
func (s *Store) FindByPartnerAccountID(
	ctx context.Context,
	partnerAccountID string,
) (*models.CheckrAuthorization, error) {
	var auth models.CheckrAuthorization
	err := s.db.WithContext(ctx).
		Where("partner_account_id = ?", partnerAccountID).
		First(&auth).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &auth, nil
}

// FindByCheckrAccountID returns the live authorization for a Checkr account.
// Disconnected records never match because their account id is cleared.
func (s *Store) FindByCheckrAccountID(
	ctx context.Context,
	checkrAccountID string,
) (*models.CheckrAuthorization, error) {
	if checkrAccountID == "" {
		return nil, ErrRecordNotFound
	}

	var auth models.CheckrAuthorization
	err := s.db.WithContext(ctx).
		Where("checkr_account_id = ?", checkrAccountID).
		Order("updated_at DESC").
		First(&auth).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &auth, nil
}

// FindByAccessTokenHash returns candidate records for a token lookup hash.
// Callers must confirm each candidate by decrypting its stored token.
func (s *Store) FindByAccessTokenHash(
	ctx context.Context,
	hash string,
) ([]models.CheckrAuthorization, error) {
	if hash == "" {
		return nil, nil
	}

	var auths []models.CheckrAuthorization
	err := s.db.WithContext(ctx).
		Where("access_token_hash = ?", hash).
		Find(&auths).Error
	if err != nil {
		return nil, err
	}
	return auths, nil
}

// ReplaceAuthorization stores auth as the partner account's only record,
// creating the account row if needed. Any previous record is overwritten.
func (s *Store) ReplaceAuthorization(ctx context.Context, auth *models.CheckrAuthorization) error {
	if err := auth.Validate(); err != nil {
		return err
	}

	unlock := s.locks.Lock(auth.PartnerAccountID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account := models.Account{ID: auth.PartnerAccountID}
		if err := tx.Where("id = ?", account.ID).FirstOrCreate(&account).Error; err != nil {
			return fmt.Errorf("failed to ensure account: %w", err)
		}

		var existing models.CheckrAuthorization
		err := tx.Where("partner_account_id = ?", auth.PartnerAccountID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			auth.Version = 1
			return tx.Create(auth).Error
		case err != nil:
			return err
		}

		auth.CreatedAt = existing.CreatedAt
		return writeVersioned(tx, auth, existing.Version)
	})
}

// UpdateAuthorization runs fn against a freshly read record and writes the
// result back if the version is unchanged. fn may return ErrNoChange to skip
// the write. The returned record reflects what is stored.
func (s *Store) UpdateAuthorization(
	ctx context.Context,
	partnerAccountID string,
	fn func(auth *models.CheckrAuthorization) error,
) (*models.CheckrAuthorization, error) {
	unlock := s.locks.Lock(partnerAccountID)
	defer unlock()

	var updated models.CheckrAuthorization
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.CheckrAuthorization
		if err := tx.Where("partner_account_id = ?", partnerAccountID).
			First(&current).Error; err != nil {
			return translateError(err)
		}

		updated = current
		if err := fn(&updated); err != nil {
			if errors.Is(err, ErrNoChange) {
				updated = current
				return nil
			}
			return err
		}

		if updated.PartnerAccountID != current.PartnerAccountID {
			return fmt.Errorf("%w: partner account id is immutable", models.ErrInvalidAuthorization)
		}
		if err := updated.Validate(); err != nil {
			return err
		}

		return writeVersioned(tx, &updated, current.Version)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// CountAuthorizationsByState returns record counts keyed by state
func (s *Store) CountAuthorizationsByState(
	ctx context.Context,
) (map[models.AuthorizationState]int64, error) {
	var rows []struct {
		State models.AuthorizationState
		Count int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.CheckrAuthorization{}).
		Select("state, COUNT(*) AS count").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[models.AuthorizationState]int64{
		models.StateUncredentialed: 0,
		models.StateCredentialed:   0,
		models.StateDisconnected:   0,
	}
	for _, row := range rows {
		counts[row.State] = row.Count
	}
	return counts, nil
}

// Health checks the database connection
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB returns the underlying GORM database connection (for transactions)
func (s *Store) DB() *gorm.DB {
	return s.db
}

// writeVersioned writes auth only if the stored version is still
// readVersion, then records the bumped version on auth.
func writeVersioned(tx *gorm.DB, auth *models.CheckrAuthorization, readVersion int64) error {
	auth.Version = readVersion + 1
	auth.UpdatedAt = time.Now()

	result := tx.Model(&models.CheckrAuthorization{}).
		Where("partner_account_id = ? AND version = ?", auth.PartnerAccountID, readVersion).
		Updates(authorizationColumns(auth))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// authorizationColumns lists every mutable column. A map is used so that
// cleared strings and nil timestamps are written too.
func authorizationColumns(auth *models.CheckrAuthorization) map[string]any {
	return map[string]any{
		"checkr_account_id":      auth.CheckrAccountID,
		"encrypted_access_token": auth.EncryptedAccessToken,
		"access_token_hash":      auth.AccessTokenHash,
		"state":                  auth.State,
		"version":                auth.Version,
		"credentialed_at":        auth.CredentialedAt,
		"disconnected_at":        auth.DisconnectedAt,
		"updated_at":             auth.UpdatedAt,
	}
}

func translateError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}
