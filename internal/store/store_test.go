package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-authgate/checkrgate/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreWithSQLite tests store operations with SQLite
func TestStoreWithSQLite(t *testing.T) {
	testAuthorizationOperations(t, "sqlite", nil)
}

// TestStoreWithPostgres tests store operations with PostgreSQL
func TestStoreWithPostgres(t *testing.T) {
	// Skip if running short tests or Docker is not available
	if testing.Short() {
		t.Skip("Skipping PostgreSQL integration test in short mode")
	}

	// Recover from panic if Docker is not available
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("Skipping PostgreSQL test: Docker not available (panic: %v)", r)
		}
	}()

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: Docker not available (%v)", err)
		return
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	testAuthorizationOperations(t, "postgres", pgContainer)
}

// createFreshStore creates a new store instance for test isolation
// For SQLite, each call creates a fresh :memory: database
// For PostgreSQL, each call creates a uniquely-named database in the container
func createFreshStore(t *testing.T, driver string, pgContainer *postgres.PostgresContainer) *Store {
	t.Helper()

	var dsn string
	switch driver {
	case "sqlite":
		dsn = ":memory:"
	case "postgres":
		dbName := "test_" + uuid.New().String()[:8]
		ctx := context.Background()

		_, _, err := pgContainer.Exec(
			ctx,
			[]string{"psql", "-U", "testuser", "-d", "testdb", "-c", "CREATE DATABASE " + dbName},
		)
		require.NoError(t, err)

		host, err := pgContainer.Host(ctx)
		require.NoError(t, err)
		port, err := pgContainer.MappedPort(ctx, "5432")
		require.NoError(t, err)
		dsn = fmt.Sprintf(
			"host=%s port=%s user=testuser password=testpass dbname=%s sslmode=disable",
			host, port.Port(), dbName,
		)
	default:
		t.Fatalf("unsupported driver: %s", driver)
	}

	store, err := New(context.Background(), driver, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func newAuthorization(partnerID, checkrID, token string) *models.CheckrAuthorization {
	return &models.CheckrAuthorization{
		PartnerAccountID:     partnerID,
		CheckrAccountID:      checkrID,
		EncryptedAccessToken: "enc:" + token,
		AccessTokenHash:      "hash:" + token,
		State:                models.StateUncredentialed,
	}
}

func newAuditLog(partnerID string, at time.Time) *models.AuditLog {
	return &models.AuditLog{
		ID:               uuid.New().String(),
		EventType:        models.EventCredentialExchanged,
		EventTime:        at,
		Severity:         models.SeverityInfo,
		PartnerAccountID: partnerID,
		Action:           "checkr credential exchanged",
		Details:          models.AuditDetails{"checkr_account_id": "X1"},
		Success:          true,
		CreatedAt:        at,
	}
}

// testAuthorizationOperations runs the store contract against one driver
// Each subtest creates a fresh store instance for isolation
func testAuthorizationOperations(
	t *testing.T,
	driver string,
	pgContainer *postgres.PostgresContainer,
) {
	ctx := context.Background()

	t.Run("ReplaceCreatesAccountAndRecord", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P1", "X1", "abc")))

		account, err := store.GetAccount(ctx, "P1")
		require.NoError(t, err)
		require.NotNil(t, account.Authorization)
		assert.Equal(t, "X1", account.Authorization.CheckrAccountID)
		assert.Equal(t, models.StateUncredentialed, account.Authorization.State)
		assert.Equal(t, int64(1), account.Authorization.Version)
	})

	t.Run("ReplaceOverwritesPriorRecord", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P1", "X1", "abc")))
		_, err := store.UpdateAuthorization(ctx, "P1", func(a *models.CheckrAuthorization) error {
			a.MarkDisconnected(time.Now())
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P1", "X2", "def")))

		auth, err := store.FindByPartnerAccountID(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, "X2", auth.CheckrAccountID)
		assert.Equal(t, "enc:def", auth.EncryptedAccessToken)
		assert.Equal(t, models.StateUncredentialed, auth.State)
		assert.Nil(t, auth.DisconnectedAt)
		assert.Equal(t, int64(3), auth.Version)
	})

	t.Run("ReplaceRejectsInvalidRecord", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		invalid := newAuthorization("P1", "", "abc")
		err := store.ReplaceAuthorization(ctx, invalid)
		assert.ErrorIs(t, err, models.ErrInvalidAuthorization)

		_, err = store.FindByPartnerAccountID(ctx, "P1")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("FindByCheckrAccountID", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P1", "X1", "abc")))

		auth, err := store.FindByCheckrAccountID(ctx, "X1")
		require.NoError(t, err)
		assert.Equal(t, "P1", auth.PartnerAccountID)

		_, err = store.FindByCheckrAccountID(ctx, "unknown")
		assert.ErrorIs(t, err, ErrRecordNotFound)

		_, err = store.FindByCheckrAccountID(ctx, "")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("FindByAccessTokenHash", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P1", "X1", "abc")))
		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P2", "X2", "def")))

		auths, err := store.FindByAccessTokenHash(ctx, "hash:abc")
		require.NoError(t, err)
		require.Len(t, auths, 1)
		assert.Equal(t, "P1", auths[0].PartnerAccountID)

		auths, err = store.FindByAccessTokenHash(ctx, "hash:zzz")
		require.NoError(t, err)
		assert.Empty(t, auths)

		auths, err = store.FindByAccessTokenHash(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, auths)
	})

	t.Run("UpdateAuthorizationBumpsVersion", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P1", "X1", "abc")))

		updated, err := store.UpdateAuthorization(ctx, "P1", func(a *models.CheckrAuthorization) error {
			a.MarkCredentialed(time.Now())
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, models.StateCredentialed, updated.State)
		assert.Equal(t, int64(2), updated.Version)

		stored, err := store.FindByPartnerAccountID(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, models.StateCredentialed, stored.State)
		assert.NotNil(t, stored.CredentialedAt)
		assert.Equal(t, int64(2), stored.Version)
	})

	t.Run("UpdateAuthorizationClearsCredential", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P1", "X1", "abc")))

		_, err := store.UpdateAuthorization(ctx, "P1", func(a *models.CheckrAuthorization) error {
			a.MarkDisconnected(time.Now())
			return nil
		})
		require.NoError(t, err)

		stored, err := store.FindByPartnerAccountID(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, models.StateDisconnected, stored.State)
		assert.Empty(t, stored.CheckrAccountID)
		assert.Empty(t, stored.EncryptedAccessToken)
		assert.Empty(t, stored.AccessTokenHash)

		_, err = store.FindByCheckrAccountID(ctx, "X1")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("UpdateAuthorizationNoChangeSkipsWrite", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P1", "X1", "abc")))

		got, err := store.UpdateAuthorization(ctx, "P1", func(a *models.CheckrAuthorization) error {
			a.CheckrAccountID = "mutated-but-discarded"
			return ErrNoChange
		})
		require.NoError(t, err)
		assert.Equal(t, "X1", got.CheckrAccountID)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("UpdateAuthorizationPropagatesCallbackError", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P1", "X1", "abc")))

		boom := errors.New("boom")
		_, err := store.UpdateAuthorization(ctx, "P1", func(a *models.CheckrAuthorization) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("UpdateAuthorizationValidates", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P1", "X1", "abc")))

		_, err := store.UpdateAuthorization(ctx, "P1", func(a *models.CheckrAuthorization) error {
			a.EncryptedAccessToken = ""
			return nil
		})
		assert.ErrorIs(t, err, models.ErrInvalidAuthorization)

		_, err = store.UpdateAuthorization(ctx, "P1", func(a *models.CheckrAuthorization) error {
			a.PartnerAccountID = "P2"
			return nil
		})
		assert.ErrorIs(t, err, models.ErrInvalidAuthorization)
	})

	t.Run("UpdateAuthorizationNotFound", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)

		called := false
		_, err := store.UpdateAuthorization(ctx, "missing", func(a *models.CheckrAuthorization) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ErrRecordNotFound)
		assert.False(t, called)
	})

	t.Run("StaleVersionIsRejected", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P1", "X1", "abc")))

		// Another process already moved the record past version 1
		stale, err := store.FindByPartnerAccountID(ctx, "P1")
		require.NoError(t, err)
		_, err = store.UpdateAuthorization(ctx, "P1", func(a *models.CheckrAuthorization) error {
			a.MarkCredentialed(time.Now())
			return nil
		})
		require.NoError(t, err)

		stale.MarkDisconnected(time.Now())
		err = writeVersioned(store.DB().WithContext(ctx), stale, 1)
		assert.ErrorIs(t, err, ErrConcurrentUpdate)

		stored, err := store.FindByPartnerAccountID(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, models.StateCredentialed, stored.State)
		assert.Equal(t, int64(2), stored.Version)
	})

	t.Run("ConcurrentUpdatesDoNotLoseWrites", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P1", "X1", "abc")))

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.UpdateAuthorization(ctx, "P1", func(a *models.CheckrAuthorization) error {
					if !a.MarkCredentialed(time.Now()) {
						return ErrNoChange
					}
					return nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}

		stored, err := store.FindByPartnerAccountID(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, models.StateCredentialed, stored.State)
		assert.Equal(t, int64(2), stored.Version, "only the first update writes")
		assert.Zero(t, store.locks.size(), "locks are released")
	})

	t.Run("CountAuthorizationsByState", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P1", "X1", "a")))
		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P2", "X2", "b")))
		require.NoError(t, store.ReplaceAuthorization(ctx, newAuthorization("P3", "X3", "c")))
		_, err := store.UpdateAuthorization(ctx, "P2", func(a *models.CheckrAuthorization) error {
			a.MarkCredentialed(time.Now())
			return nil
		})
		require.NoError(t, err)

		counts, err := store.CountAuthorizationsByState(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts[models.StateUncredentialed])
		assert.Equal(t, int64(1), counts[models.StateCredentialed])
		assert.Equal(t, int64(0), counts[models.StateDisconnected])
	})

	t.Run("AuditLogBatchAndList", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		base := time.Now().Add(-time.Hour)

		var entries []*models.AuditLog
		for i := range 5 {
			entries = append(entries, newAuditLog("P1", base.Add(time.Duration(i)*time.Minute)))
		}
		entries = append(entries, newAuditLog("P2", base))
		require.NoError(t, store.CreateAuditLogBatch(ctx, entries))
		require.NoError(t, store.CreateAuditLogBatch(ctx, nil))

		logs, page, err := store.ListAuditLogs(ctx, "P1", NewPaginationParams(1, 2))
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, int64(5), page.Total)
		assert.Equal(t, 3, page.TotalPages)
		assert.True(t, page.HasNext)
		assert.False(t, page.HasPrev)
		assert.True(t, logs[0].EventTime.After(logs[1].EventTime), "newest first")
		assert.Equal(t, "X1", logs[0].Details["checkr_account_id"])

		logs, page, err = store.ListAuditLogs(ctx, "P1", NewPaginationParams(3, 2))
		require.NoError(t, err)
		assert.Len(t, logs, 1)
		assert.False(t, page.HasNext)
	})

	t.Run("DeleteOldAuditLogs", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		require.NoError(t, store.CreateAuditLog(ctx, newAuditLog("P1", time.Now().Add(-48*time.Hour))))
		require.NoError(t, store.CreateAuditLog(ctx, newAuditLog("P1", time.Now())))

		deleted, err := store.DeleteOldAuditLogs(ctx, time.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		logs, _, err := store.ListAuditLogs(ctx, "P1", NewPaginationParams(1, 10))
		require.NoError(t, err)
		assert.Len(t, logs, 1)
	})

	t.Run("Health", func(t *testing.T) {
		store := createFreshStore(t, driver, pgContainer)
		assert.NoError(t, store.Health(ctx))
	})
}

func TestDriverFactory(t *testing.T) {
	tests := []struct {
		name        string
		driver      string
		dsn         string
		expectError bool
	}{
		{name: "SQLite valid", driver: "sqlite", dsn: ":memory:"},
		{name: "Postgres valid", driver: "postgres", dsn: "host=localhost dbname=x"},
		{
			name:        "Unsupported driver",
			driver:      "mysql",
			dsn:         "user:pass@tcp(localhost:3306)/dbname",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialector, err := GetDialector(tt.driver, tt.dsn)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, dialector)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, dialector)
			}
		})
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("A")
	unlockB := k.Lock("B") // different keys do not block
	assert.Equal(t, 2, k.size())

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("A")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired A while it was locked")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()

	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestNewPaginationParams(t *testing.T) {
	assert.Equal(t, PaginationParams{Page: 1, PageSize: defaultPageSize}, NewPaginationParams(0, 0))
	assert.Equal(t, PaginationParams{Page: 2, PageSize: maxPageSize}, NewPaginationParams(2, 1000))
	assert.Equal(t, 20, NewPaginationParams(3, 10).offset())
}
