package bootstrap

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/go-authgate/checkrgate/internal/config"
)

// validateAllConfiguration validates all configuration settings
func validateAllConfiguration(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validateCheckrEndpoints(cfg); err != nil {
		return fmt.Errorf("invalid checkr configuration: %w", err)
	}
	return nil
}

// validateCheckrEndpoints checks that every Checkr base URL is absolute and,
// in production, uses TLS.
func validateCheckrEndpoints(cfg *config.Config) error {
	endpoints := []struct {
		key   string
		value string
	}{
		{"CHECKR_OAUTH_BASE_URL", cfg.CheckrOAuthBaseURL},
		{"CHECKR_API_BASE_URL", cfg.CheckrAPIBaseURL},
		{"CHECKR_PARTNER_BASE_URL", cfg.CheckrPartnerBaseURL},
	}

	var errs []error
	for _, ep := range endpoints {
		u, err := url.Parse(ep.value)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("%s must be an absolute http(s) URL: %q", ep.key, ep.value))
			continue
		}
		if cfg.IsProduction && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("%s must use https in production", ep.key))
		}
	}

	if cfg.IsProduction && cfg.CheckrInsecureSkipVerify {
		errs = append(errs, errors.New("CHECKR_INSECURE_SKIP_VERIFY is not allowed in production"))
	}

	return errors.Join(errs...)
}
