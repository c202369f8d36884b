package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-authgate/checkrgate/internal/checkr"
	"github.com/go-authgate/checkrgate/internal/core"
	"github.com/go-authgate/checkrgate/internal/logger"
	"github.com/go-authgate/checkrgate/internal/metrics"
	"github.com/go-authgate/checkrgate/internal/models"
	"github.com/go-authgate/checkrgate/internal/store"
	"github.com/go-authgate/checkrgate/internal/util"
	"github.com/go-authgate/checkrgate/internal/webhook"

	"go.uber.org/zap"
)

var (
	// ErrRecordNotFoundRetryable asks the provider to redeliver a notification
	// that arrived before the exchange finished.
	ErrRecordNotFoundRetryable = errors.New("authorization record not found")

	// ErrInvalidCredential is returned when a stored credential cannot be decrypted
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrInvalidConnectRequest is returned when the callback lacks code or state
	ErrInvalidConnectRequest = errors.New("invalid connect request")
)

// errMatchLost means the record changed between lookup and lock
var errMatchLost = errors.New("authorization no longer matches notification")

// NotificationOutcome is the result of dispatching one notification
type NotificationOutcome string

const (
	OutcomeCredentialed NotificationOutcome = "credentialed"
	OutcomeDeauthorized NotificationOutcome = "deauthorized"
	OutcomeIgnored      NotificationOutcome = "ignored"
)

// noPriorState labels transitions out of a missing record
const noPriorState = "none"

// CheckrClient is the subset of the Checkr API the service calls
type CheckrClient interface {
	ConnectURL(state string) string
	Exchange(ctx context.Context, code string) (*checkr.Credential, error)
	Revoke(ctx context.Context, token string) error
	Account(ctx context.Context, token string) (*checkr.Account, error)
}

// AuthorizationStatus is the public view of an authorization record.
// It never includes the credential.
type AuthorizationStatus struct {
	PartnerAccountID string                    `json:"partner_account_id"`
	State            models.AuthorizationState `json:"state"`
	CheckrAccountID  string                    `json:"checkr_account_id,omitempty"`
	CredentialedAt   *time.Time                `json:"credentialed_at,omitempty"`
	DisconnectedAt   *time.Time                `json:"disconnected_at,omitempty"`
	UpdatedAt        time.Time                 `json:"updated_at"`
	CheckrAccount    *checkr.Account           `json:"checkr_account,omitempty"`
}

// AuthorizationService runs the connect flow, applies verified Checkr
// notifications and initiates self-service revocation.
type AuthorizationService struct {
	store        *store.Store
	checkr       CheckrClient
	cipher       *util.Cipher
	auditService *AuditService
	metrics      core.Recorder
	log          *zap.Logger
	now          func() time.Time

	accountCache    core.Cache[checkr.Account]
	accountCacheTTL time.Duration
}

// AuthorizationOption customizes an AuthorizationService
type AuthorizationOption func(*AuthorizationService)

// WithAccountCache caches Checkr account lookups made by Status for ttl.
// A nil cache or non-positive ttl leaves lookups uncached.
func WithAccountCache(c core.Cache[checkr.Account], ttl time.Duration) AuthorizationOption {
	return func(s *AuthorizationService) {
		if c != nil && ttl > 0 {
			s.accountCache = c
			s.accountCacheTTL = ttl
		}
	}
}

func NewAuthorizationService(
	s *store.Store,
	client CheckrClient,
	cipher *util.Cipher,
	auditService *AuditService,
	m core.Recorder,
	opts ...AuthorizationOption,
) *AuthorizationService {
	svc := &AuthorizationService{
		store:        s,
		checkr:       client,
		cipher:       cipher,
		auditService: auditService,
		metrics:      m,
		log:          logger.L().With(zap.String("component", "authorization")),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ConnectURL returns where to send a partner account to start the OAuth flow
func (s *AuthorizationService) ConnectURL(partnerAccountID string) (string, error) {
	partnerAccountID = strings.TrimSpace(partnerAccountID)
	if partnerAccountID == "" {
		return "", fmt.Errorf("%w: account id is required", ErrInvalidConnectRequest)
	}
	return s.checkr.ConnectURL(partnerAccountID), nil
}

// Connect exchanges code for a credential and replaces the partner account's
// authorization with a fresh uncredentialed record.
func (s *AuthorizationService) Connect(
	ctx context.Context,
	partnerAccountID, code string,
) (*models.CheckrAuthorization, error) {
	partnerAccountID = strings.TrimSpace(partnerAccountID)
	code = strings.TrimSpace(code)
	if partnerAccountID == "" || code == "" {
		return nil, fmt.Errorf("%w: code and state are required", ErrInvalidConnectRequest)
	}

	start := time.Now()
	cred, err := s.checkr.Exchange(ctx, code)
	s.metrics.RecordCheckrAPICall(checkr.OpExchange, time.Since(start))
	if err != nil {
		s.metrics.RecordOAuthExchange(providerResult(err))
		s.log.Warn("checkr.exchange_failed",
			zap.String("partner_account_id", partnerAccountID),
			zap.Error(err),
		)
		s.auditService.Log(ctx, AuditLogEntry{
			EventType:        models.EventExchangeFailed,
			Severity:         models.SeverityWarning,
			PartnerAccountID: partnerAccountID,
			Action:           "checkr code exchange failed",
			Details:          providerDetails(err),
			Success:          false,
			ErrorMessage:     err.Error(),
		})
		return nil, err
	}

	encrypted, err := s.cipher.Encrypt(cred.AccessToken)
	if err != nil {
		s.metrics.RecordOAuthExchange(metrics.ResultError)
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	from := noPriorState
	if existing, err := s.store.FindByPartnerAccountID(ctx, partnerAccountID); err == nil {
		from = string(existing.State)
		s.forgetAccount(ctx, existing.CheckrAccountID)
	}

	auth := &models.CheckrAuthorization{
		PartnerAccountID:     partnerAccountID,
		CheckrAccountID:      cred.CheckrAccountID,
		EncryptedAccessToken: encrypted,
		AccessTokenHash:      s.cipher.LookupHash(cred.AccessToken),
		State:                models.StateUncredentialed,
	}
	if err := s.store.ReplaceAuthorization(ctx, auth); err != nil {
		s.metrics.RecordOAuthExchange(metrics.ResultError)
		s.metrics.RecordDatabaseQueryError("replace_authorization")
		return nil, fmt.Errorf("failed to store authorization: %w", err)
	}

	s.metrics.RecordOAuthExchange(metrics.ResultSuccess)
	s.metrics.RecordAuthorizationTransition(from, string(models.StateUncredentialed))
	s.log.Info("checkr.connected",
		zap.String("partner_account_id", partnerAccountID),
		zap.String("checkr_account_id", cred.CheckrAccountID),
		zap.String("previous_state", from),
	)
	s.auditService.Log(ctx, AuditLogEntry{
		EventType:        models.EventCredentialExchanged,
		Severity:         models.SeverityInfo,
		PartnerAccountID: partnerAccountID,
		CheckrAccountID:  cred.CheckrAccountID,
		Action:           "checkr credential exchanged",
		Details:          models.AuditDetails{"previous_state": from},
		Success:          true,
	})

	return auth, nil
}

// HandleNotification applies a verified notification to the matching record
func (s *AuthorizationService) HandleNotification(
	ctx context.Context,
	n webhook.Notification,
) (NotificationOutcome, error) {
	var (
		outcome NotificationOutcome
		err     error
	)

	switch v := n.(type) {
	case webhook.AccountCredentialed:
		outcome, err = s.handleCredentialed(ctx, v)
	case webhook.TokenDeauthorized:
		outcome, err = s.handleDeauthorized(ctx, v)
	default:
		outcome = s.handleIgnored(ctx, n)
	}

	label := string(outcome)
	switch {
	case errors.Is(err, ErrRecordNotFoundRetryable):
		label = "not_found"
	case err != nil:
		label = metrics.ResultError
	}
	s.metrics.RecordWebhook(n.NotificationType(), label)

	return outcome, err
}

func (s *AuthorizationService) handleCredentialed(
	ctx context.Context,
	n webhook.AccountCredentialed,
) (NotificationOutcome, error) {
	log := s.log.With(
		zap.String("notification_id", n.ID),
		zap.String("checkr_account_id", n.CheckrAccountID),
	)

	auth, err := s.store.FindByCheckrAccountID(ctx, n.CheckrAccountID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return "", s.credentialRetry(ctx, log, n)
	}
	if err != nil {
		s.metrics.RecordDatabaseQueryError("find_by_checkr_account_id")
		return "", err
	}

	changed := false
	updated, err := s.store.UpdateAuthorization(ctx, auth.PartnerAccountID,
		func(a *models.CheckrAuthorization) error {
			if a.CheckrAccountID != n.CheckrAccountID {
				return errMatchLost
			}
			if !a.MarkCredentialed(s.now()) {
				return store.ErrNoChange
			}
			changed = true
			return nil
		},
	)
	switch {
	case errors.Is(err, errMatchLost), errors.Is(err, store.ErrRecordNotFound):
		return "", s.credentialRetry(ctx, log, n)
	case err != nil:
		s.metrics.RecordDatabaseQueryError("update_authorization")
		return "", err
	}

	if !changed {
		log.Info("webhook.credentialed_noop",
			zap.String("partner_account_id", updated.PartnerAccountID),
			zap.String("state", string(updated.State)),
		)
		return OutcomeCredentialed, nil
	}

	s.metrics.RecordAuthorizationTransition(
		string(models.StateUncredentialed),
		string(models.StateCredentialed),
	)
	log.Info("webhook.credentialed", zap.String("partner_account_id", updated.PartnerAccountID))
	s.auditService.Log(ctx, AuditLogEntry{
		EventType:        models.EventAccountCredentialed,
		Severity:         models.SeverityInfo,
		PartnerAccountID: updated.PartnerAccountID,
		CheckrAccountID:  updated.CheckrAccountID,
		Action:           "checkr account credentialed",
		Details:          models.AuditDetails{"notification_id": n.ID},
		Success:          true,
	})
	return OutcomeCredentialed, nil
}

func (s *AuthorizationService) credentialRetry(
	ctx context.Context,
	log *zap.Logger,
	n webhook.AccountCredentialed,
) error {
	log.Warn("webhook.credentialed_unmatched")
	s.auditService.Log(ctx, AuditLogEntry{
		EventType:       models.EventCredentialRetry,
		Severity:        models.SeverityWarning,
		CheckrAccountID: n.CheckrAccountID,
		Action:          "credentialed notification for unknown checkr account",
		Details:         models.AuditDetails{"notification_id": n.ID},
		Success:         false,
	})
	return fmt.Errorf("%w: checkr account %s", ErrRecordNotFoundRetryable, n.CheckrAccountID)
}

func (s *AuthorizationService) handleDeauthorized(
	ctx context.Context,
	n webhook.TokenDeauthorized,
) (NotificationOutcome, error) {
	log := s.log.With(zap.String("notification_id", n.ID))

	match, err := s.findByCredential(ctx, n.AccessCode)
	if err != nil {
		s.metrics.RecordDatabaseQueryError("find_by_access_token_hash")
		return "", err
	}
	if match == nil {
		log.Info("webhook.deauthorized_unmatched")
		return OutcomeDeauthorized, nil
	}

	var from models.AuthorizationState
	changed := false
	_, err = s.store.UpdateAuthorization(ctx, match.PartnerAccountID,
		func(a *models.CheckrAuthorization) error {
			// A newer exchange may have replaced the token since the lookup
			if a.EncryptedAccessToken != match.EncryptedAccessToken {
				return store.ErrNoChange
			}
			from = a.State
			if !a.MarkDisconnected(s.now()) {
				return store.ErrNoChange
			}
			changed = true
			return nil
		},
	)
	switch {
	case errors.Is(err, store.ErrRecordNotFound):
		return OutcomeDeauthorized, nil
	case err != nil:
		s.metrics.RecordDatabaseQueryError("update_authorization")
		return "", err
	}

	if !changed {
		log.Info("webhook.deauthorized_noop", zap.String("partner_account_id", match.PartnerAccountID))
		return OutcomeDeauthorized, nil
	}

	s.forgetAccount(ctx, match.CheckrAccountID)
	s.metrics.RecordAuthorizationTransition(string(from), string(models.StateDisconnected))
	log.Info("webhook.deauthorized",
		zap.String("partner_account_id", match.PartnerAccountID),
		zap.String("previous_state", string(from)),
	)
	s.auditService.Log(ctx, AuditLogEntry{
		EventType:        models.EventTokenDeauthorized,
		Severity:         models.SeverityInfo,
		PartnerAccountID: match.PartnerAccountID,
		CheckrAccountID:  match.CheckrAccountID,
		Action:           "checkr token deauthorized",
		Details: models.AuditDetails{
			"notification_id": n.ID,
			"previous_state":  string(from),
		},
		Success: true,
	})
	return OutcomeDeauthorized, nil
}

func (s *AuthorizationService) handleIgnored(
	ctx context.Context,
	n webhook.Notification,
) NotificationOutcome {
	s.log.Info("webhook.ignored",
		zap.String("type", n.NotificationType()),
		zap.String("notification_id", n.NotificationID()),
	)
	s.auditService.Log(ctx, AuditLogEntry{
		EventType: models.EventWebhookIgnored,
		Severity:  models.SeverityInfo,
		Action:    "unhandled notification type",
		Details: models.AuditDetails{
			"type":            n.NotificationType(),
			"notification_id": n.NotificationID(),
		},
		Success: true,
	})
	return OutcomeIgnored
}

// RecordSignatureRejected adds an audit entry for a webhook delivery that
// failed signature verification. Nothing from the body is recorded.
func (s *AuthorizationService) RecordSignatureRejected(ctx context.Context, reason string) {
	s.auditService.Log(ctx, AuditLogEntry{
		EventType: models.EventSignatureRejected,
		Severity:  models.SeverityWarning,
		Action:    "webhook signature rejected",
		Details:   models.AuditDetails{"reason": reason},
		Success:   false,
	})
}

// findByCredential returns the record whose stored token equals token, or nil.
// The hash only narrows candidates; the match is confirmed on the plaintext.
func (s *AuthorizationService) findByCredential(
	ctx context.Context,
	token string,
) (*models.CheckrAuthorization, error) {
	if token == "" {
		return nil, nil //nolint:nilnil // no credential means no match
	}

	candidates, err := s.store.FindByAccessTokenHash(ctx, s.cipher.LookupHash(token))
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		plain, err := s.cipher.Decrypt(candidates[i].EncryptedAccessToken)
		if err != nil {
			s.log.Warn("authorization.decrypt_failed",
				zap.String("partner_account_id", candidates[i].PartnerAccountID),
				zap.Error(err),
			)
			continue
		}
		if subtle.ConstantTimeCompare([]byte(plain), []byte(token)) == 1 {
			return &candidates[i], nil
		}
	}
	return nil, nil //nolint:nilnil // no candidate matched
}

// Revoke asks Checkr to deauthorize the stored credential. Local state is
// left alone until the token.deauthorized notification arrives.
func (s *AuthorizationService) Revoke(ctx context.Context, encryptedToken string) error {
	token, err := s.cipher.Decrypt(encryptedToken)
	if err != nil {
		s.metrics.RecordRevocation(metrics.ResultInvalid)
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	// Attribution only; the provider call does not depend on it.
	var partnerAccountID, checkrAccountID string
	if match, err := s.findByCredential(ctx, token); err == nil && match != nil {
		partnerAccountID = match.PartnerAccountID
		checkrAccountID = match.CheckrAccountID
	}

	start := time.Now()
	err = s.checkr.Revoke(ctx, token)
	s.metrics.RecordCheckrAPICall(checkr.OpDeauthorize, time.Since(start))

	result := providerResult(err)
	s.metrics.RecordRevocation(result)

	if err != nil {
		s.log.Warn("checkr.revoke_failed",
			zap.String("partner_account_id", partnerAccountID),
			zap.Error(err),
		)
		s.auditService.Log(ctx, AuditLogEntry{
			EventType:        models.EventRevocationFailed,
			Severity:         models.SeverityWarning,
			PartnerAccountID: partnerAccountID,
			CheckrAccountID:  checkrAccountID,
			Action:           "checkr revocation failed",
			Details:          providerDetails(err),
			Success:          false,
			ErrorMessage:     err.Error(),
		})
		return err
	}

	s.log.Info("checkr.revoke_requested", zap.String("partner_account_id", partnerAccountID))
	s.auditService.Log(ctx, AuditLogEntry{
		EventType:        models.EventRevocationRequested,
		Severity:         models.SeverityInfo,
		PartnerAccountID: partnerAccountID,
		CheckrAccountID:  checkrAccountID,
		Action:           "checkr revocation requested",
		Success:          true,
	})
	return nil
}

// Status returns the record for a partner account. With refresh set on a
// credentialed record the Checkr account is fetched too; nothing is written.
func (s *AuthorizationService) Status(
	ctx context.Context,
	partnerAccountID string,
	refresh bool,
) (*AuthorizationStatus, error) {
	auth, err := s.store.FindByPartnerAccountID(ctx, partnerAccountID)
	if err != nil {
		return nil, err
	}

	status := &AuthorizationStatus{
		PartnerAccountID: auth.PartnerAccountID,
		State:            auth.State,
		CheckrAccountID:  auth.CheckrAccountID,
		CredentialedAt:   auth.CredentialedAt,
		DisconnectedAt:   auth.DisconnectedAt,
		UpdatedAt:        auth.UpdatedAt,
	}

	if !refresh || !auth.IsCredentialed() {
		return status, nil
	}

	token, err := s.cipher.Decrypt(auth.EncryptedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	account, err := s.lookupAccount(ctx, auth.CheckrAccountID, token)
	if err != nil {
		return nil, err
	}

	status.CheckrAccount = account
	return status, nil
}

// lookupAccount fetches the Checkr account, going through the account cache when set
func (s *AuthorizationService) lookupAccount(
	ctx context.Context,
	checkrAccountID, token string,
) (*checkr.Account, error) {
	fetch := func(ctx context.Context, _ string) (checkr.Account, error) {
		start := time.Now()
		account, err := s.checkr.Account(ctx, token)
		s.metrics.RecordCheckrAPICall(checkr.OpAccount, time.Since(start))
		if err != nil {
			return checkr.Account{}, err
		}
		return *account, nil
	}

	if s.accountCache == nil {
		account, err := fetch(ctx, checkrAccountID)
		if err != nil {
			return nil, err
		}
		return &account, nil
	}

	account, err := s.accountCache.GetWithFetch(ctx, checkrAccountID, s.accountCacheTTL, fetch)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// forgetAccount drops a cached Checkr account; failures only cost a stale read until TTL
func (s *AuthorizationService) forgetAccount(ctx context.Context, checkrAccountID string) {
	if s.accountCache == nil || checkrAccountID == "" {
		return
	}
	if err := s.accountCache.Delete(ctx, checkrAccountID); err != nil {
		s.log.Warn("account_cache.delete_failed",
			zap.String("checkr_account_id", checkrAccountID),
			zap.Error(err),
		)
	}
}

// UpdateGauges publishes record counts by state
func (s *AuthorizationService) UpdateGauges(ctx context.Context) error {
	counts, err := s.store.CountAuthorizationsByState(ctx)
	if err != nil {
		s.metrics.RecordDatabaseQueryError("count_authorizations")
		return err
	}
	for state, count := range counts {
		s.metrics.SetAuthorizationsCount(string(state), count)
	}
	return nil
}

// providerResult maps a Checkr call error onto a metric label
func providerResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, checkr.ErrProviderRejected):
		return metrics.ResultRejected
	case errors.Is(err, checkr.ErrProviderUnavailable):
		return metrics.ResultUnavailable
	case errors.Is(err, checkr.ErrProviderInvalidResponse):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}

func providerDetails(err error) models.AuditDetails {
	var providerErr *checkr.ProviderError
	if errors.As(err, &providerErr) {
		return models.AuditDetails{
			"operation":   providerErr.Op,
			"status_code": providerErr.StatusCode,
		}
	}
	return models.AuditDetails{"result": providerResult(err)}
}
