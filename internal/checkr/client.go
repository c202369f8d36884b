// Package checkr talks to the Checkr OAuth and REST endpoints.
package checkr

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-authgate/checkrgate/internal/logger"

	httpclient "github.com/appleboy/go-httpclient"
	retry "github.com/appleboy/go-httpretry"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Operation names used in ProviderError and metrics
const (
	OpExchange    = "exchange"
	OpDeauthorize = "deauthorize"
	OpAccount     = "account"
)

// maxBodySize bounds how much of a provider response is read
const maxBodySize = 1 << 20

// Config holds the Checkr application credentials and endpoints
type Config struct {
	ClientID       string
	ClientSecret   string
	OAuthBaseURL   string
	APIBaseURL     string
	PartnerBaseURL string

	Timeout            time.Duration
	InsecureSkipVerify bool

	// Retry settings for idempotent reads
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Credential is the result of a successful token exchange
type Credential struct {
	AccessToken     string
	CheckrAccountID string
}

// Account is the subset of GET /v1/account exposed by the status endpoint
type Account struct {
	ID          string `json:"id"`
	Object      string `json:"object,omitempty"`
	Name        string `json:"name,omitempty"`
	URI         string `json:"uri,omitempty"`
	Authorized  bool   `json:"authorized"`
	CreatedAt   string `json:"created_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// Client performs the outbound Checkr calls. Exchange and Revoke are sent
// exactly once; only Account goes through the retry client.
type Client struct {
	cfg        Config
	oauth      *oauth2.Config
	httpClient *http.Client
	api        *retry.Client
}

// NewClient builds a Client with a pooled transport and the configured timeout
func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("checkr: client id and secret are required")
	}
	cfg.OAuthBaseURL = strings.TrimRight(cfg.OAuthBaseURL, "/")
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.PartnerBaseURL = strings.TrimRight(cfg.PartnerBaseURL, "/")

	if cfg.InsecureSkipVerify {
		logger.L().Warn("checkr.tls_verification_disabled",
			zap.String("component", "checkr.client"))
	}

	httpClient, err := httpclient.NewClient(
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithTransport(newTransport(cfg.InsecureSkipVerify)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkr http client: %w", err)
	}

	api, err := retry.NewRealtimeClient(
		retry.WithHTTPClient(httpClient),
		retry.WithMaxRetries(cfg.MaxRetries),
		retry.WithInitialRetryDelay(cfg.RetryDelay),
		retry.WithMaxRetryDelay(cfg.MaxRetryDelay),
		retry.WithPerAttemptTimeout(cfg.Timeout),
		retry.WithRespectRetryAfter(true),
		retry.WithOnRetry(logRetry),
		retry.WithLogger(retryLogger{}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkr retry client: %w", err)
	}

	return &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.OAuthBaseURL + "/oauth/tokens",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		api:        api,
	}, nil
}

// newTransport returns a transport with connection pool settings
func newTransport(insecureSkipVerify bool) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// #nosec G402 -- InsecureSkipVerify is user-configurable for development/testing
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: insecureSkipVerify,
		},
	}
}

func logRetry(info retry.RetryInfo) {
	fields := []zap.Field{
		zap.String("component", "checkr.client"),
		zap.Int("attempt", info.Attempt),
		zap.Duration("delay", info.Delay),
	}
	if info.Err != nil {
		fields = append(fields, zap.Error(info.Err))
	}
	if info.StatusCode != 0 {
		fields = append(fields, zap.Int("status", info.StatusCode))
	}
	if info.RetryAfter > 0 {
		fields = append(fields, zap.Duration("retry_after", info.RetryAfter))
	}
	logger.L().Warn("checkr.api_retry", fields...)
}

// retryLogger routes the retry client's own logs through zap. Per-retry
// warnings are already emitted by logRetry, so they drop to debug here.
type retryLogger struct{}

func (retryLogger) sugar() *zap.SugaredLogger {
	return logger.L().With(zap.String("component", "checkr.retry")).Sugar()
}

func (l retryLogger) Debug(msg string, args ...any) { l.sugar().Debugw(msg, args...) }
func (l retryLogger) Info(msg string, args ...any)  { l.sugar().Debugw(msg, args...) }
func (l retryLogger) Warn(msg string, args ...any)  { l.sugar().Debugw(msg, args...) }
func (l retryLogger) Error(msg string, args ...any) { l.sugar().Warnw(msg, args...) }

// ConnectURL returns the partner signup URL that starts the OAuth flow.
// state carries the partner account id back to the callback.
func (c *Client) ConnectURL(state string) string {
	return fmt.Sprintf("%s/authorize/%s/signup?state=%s",
		c.cfg.PartnerBaseURL,
		url.PathEscape(c.cfg.ClientID),
		url.QueryEscape(state),
	)
}

// Exchange trades an authorization code for an access token and Checkr account id
func (c *Client) Exchange(ctx context.Context, code string) (*Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			return nil, &ProviderError{
				Op:         OpExchange,
				StatusCode: status,
				Body:       retrieveErr.Body,
			}
		}
		if isTransportError(ctx, err) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderInvalidResponse, err)
	}

	accountID, _ := token.Extra("checkr_account_id").(string)
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("%w: missing checkr_account_id", ErrProviderInvalidResponse)
	}

	return &Credential{
		AccessToken:     token.AccessToken,
		CheckrAccountID: accountID,
	}, nil
}

// Revoke asks Checkr to deauthorize token. The token is the only credential sent.
func (c *Client) Revoke(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.cfg.OAuthBaseURL+"/oauth/deauthorize",
		http.NoBody,
	)
	if err != nil {
		return fmt.Errorf("failed to build deauthorize request: %w", err)
	}
	req.SetBasicAuth(token, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProviderError{Op: OpDeauthorize, StatusCode: resp.StatusCode, Body: body}
	}
	return nil
}

// Account fetches the Checkr account behind token. It is retried on transport
// errors, 5xx and 429, honouring Retry-After.
func (c *Client) Account(ctx context.Context, token string) (*Account, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.cfg.APIBaseURL+"/v1/account",
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build account request: %w", err)
	}
	req.SetBasicAuth(token, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.api.DoWithContext(ctx, req)
	if err != nil && !exhaustedOnStatus(resp, err) {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{Op: OpAccount, StatusCode: resp.StatusCode, Body: body}
	}

	var account Account
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderInvalidResponse, err)
	}
	if account.ID == "" {
		return nil, fmt.Errorf("%w: account id missing", ErrProviderInvalidResponse)
	}
	return &account, nil
}

// exhaustedOnStatus reports whether err only says the retry budget ran out on
// a retryable status. The final response is then reported as a ProviderError.
func exhaustedOnStatus(resp *http.Response, err error) bool {
	var retryErr *retry.RetryError
	return resp != nil && errors.As(err, &retryErr) && retryErr.LastErr == nil
}

func isTransportError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
