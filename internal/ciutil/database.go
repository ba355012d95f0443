package ciutil

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Connection defaults provisioned by the CI postgres service.
const (
	StandardCIUser     = "postgres"
	StandardCIPassword = "postgres"
	StandardCIPort     = "5432"
	StandardCIDatabase = "assay_test"
	StandardCIOptions  = "sslmode=disable"
)

// TestDatabaseURL returns the postgres URL integration tests should use, or
// "" when none is configured. In CI the credentials, database name and
// options are normalized to the service defaults.
func TestDatabaseURL(logger *slog.Logger) string {
	dbURL := GetEnvWithFallbacks(
		[]string{EnvAssayTestDBURL, EnvDatabaseURL, EnvAssayDatabaseURL}, "", logger)
	if dbURL == "" || !IsCI() {
		return dbURL
	}

	standardized, err := StandardizeDatabaseURL(dbURL)
	if err != nil {
		if logger != nil {
			logger.Error("failed to standardize database URL",
				"error", err,
				"url", MaskSensitiveValue(dbURL),
			)
		}
		return dbURL
	}
	if standardized != dbURL && logger != nil {
		logger.Info("standardized database URL for CI",
			"original", MaskSensitiveValue(dbURL),
			"standardized", MaskSensitiveValue(standardized),
		)
	}
	return standardized
}

// StandardizeDatabaseURL rewrites a postgres URL to the CI credentials and
// fills in the default port, database and options when they are missing.
// Non-postgres URLs are returned unchanged.
func StandardizeDatabaseURL(dbURL string) (string, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return dbURL, nil
	}

	u.User = url.UserPassword(StandardCIUser, StandardCIPassword)
	if u.Port() == "" {
		host := u.Hostname()
		if host == "" {
			host = "localhost"
		}
		u.Host = host + ":" + StandardCIPort
	}
	if strings.TrimPrefix(u.Path, "/") == "" {
		u.Path = "/" + StandardCIDatabase
	}
	if u.RawQuery == "" {
		u.RawQuery = StandardCIOptions
	}
	return u.String(), nil
}
