package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secrets
	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}
	if len(c.JWT.RefreshSecret) < 32 {
		errs = append(errs, "JWT_REFRESH_SECRET must be at least 32 characters")
	}
	if c.JWT.AccessSecret != "" && c.JWT.RefreshSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Device salt: anonymous identities are hashed with this before storage
	if c.Credit.DeviceSalt == "" {
		errs = append(errs, "CREDIT_DEVICE_SALT is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Credit limits
	if c.Credit.MaxSessionSeconds <= 0 {
		errs = append(errs, "CREDIT_MAX_SESSION_SECONDS must be positive")
	}
	if c.Credit.WeeklyAllowanceSeconds < 0 {
		errs = append(errs, "CREDIT_WEEKLY_ALLOWANCE_SECONDS must not be negative")
	}

	// Purchase verification key: warn only, purchases are rejected without it
	if c.Credit.PurchaseRootKey == "" {
		slog.Warn("CREDIT_PURCHASE_ROOT_KEY is empty: purchase verification disabled, all purchases will be rejected")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
