// Package config resolves the process-wide service configuration from
// environment variables. Both deployment profiles resolve from the same
// variable names with different values, so behavioral differences between
// profiles are attributable to values only.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names shared by every profile.
const (
	EnvProfile          = "TICKETCORE_PROFILE"
	EnvListenPort       = "TICKETCORE_LISTEN_PORT"
	EnvWorkerCount      = "TICKETCORE_WORKER_COUNT"
	EnvStoreDriver      = "TICKETCORE_STORE_DRIVER"
	EnvStoreDSN         = "TICKETCORE_STORE_DSN"
	EnvStoreCredentials = "TICKETCORE_STORE_CREDENTIALS"
	EnvRequestTimeout   = "TICKETCORE_REQUEST_TIMEOUT"
)

// DefaultRequestTimeout bounds one request's handling time when
// TICKETCORE_REQUEST_TIMEOUT is unset.
const DefaultRequestTimeout = 30 * time.Second

// ServiceConfig is resolved once at startup, held for the process lifetime,
// and never mutated.
type ServiceConfig struct {
	Profile          string
	ListenPort       int
	WorkerCount      int
	StoreDriver      string
	StoreDSN         string
	StoreCredentials string
	RequestTimeout   time.Duration
}

// Addr returns the listen address derived from the configured port.
func (c ServiceConfig) Addr() string {
	return fmt.Sprintf(":%d", c.ListenPort)
}

// ConfigError is fatal at startup; the process must abort before binding a
// port. It never triggers a retry.
type ConfigError struct {
	Variable string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Variable, e.Reason)
}

// Lookup reads one variable from an environment source, reporting presence.
type Lookup func(name string) (string, bool)

// FromEnv resolves the configuration from the process environment.
func FromEnv() (ServiceConfig, error) {
	return Resolve(os.LookupEnv)
}

// Resolve builds an immutable ServiceConfig from the lookup source, failing
// with *ConfigError when a required variable is absent or out of range.
func Resolve(lookup Lookup) (ServiceConfig, error) {
	cfg := ServiceConfig{
		StoreDriver:    "sqlite",
		RequestTimeout: DefaultRequestTimeout,
	}

	profile, ok := lookup(EnvProfile)
	if !ok || strings.TrimSpace(profile) == "" {
		return ServiceConfig{}, &ConfigError{Variable: EnvProfile, Reason: "required"}
	}
	cfg.Profile = strings.TrimSpace(profile)

	port, err := requiredInt(lookup, EnvListenPort)
	if err != nil {
		return ServiceConfig{}, err
	}
	if port < 1 || port > 65535 {
		return ServiceConfig{}, &ConfigError{Variable: EnvListenPort, Reason: fmt.Sprintf("%d outside valid TCP port range", port)}
	}
	cfg.ListenPort = port

	workers, err := requiredInt(lookup, EnvWorkerCount)
	if err != nil {
		return ServiceConfig{}, err
	}
	if workers < 1 {
		return ServiceConfig{}, &ConfigError{Variable: EnvWorkerCount, Reason: "must be a positive integer"}
	}
	cfg.WorkerCount = workers

	if driver, ok := lookup(EnvStoreDriver); ok && driver != "" {
		switch driver {
		case "memory", "sqlite", "postgres":
			cfg.StoreDriver = driver
		default:
			return ServiceConfig{}, &ConfigError{Variable: EnvStoreDriver, Reason: fmt.Sprintf("unknown driver %q", driver)}
		}
	}

	dsn, ok := lookup(EnvStoreDSN)
	if !ok || dsn == "" {
		return ServiceConfig{}, &ConfigError{Variable: EnvStoreDSN, Reason: "required"}
	}
	cfg.StoreDSN = dsn

	if creds, ok := lookup(EnvStoreCredentials); ok {
		cfg.StoreCredentials = creds
	}

	if raw, ok := lookup(EnvRequestTimeout); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return ServiceConfig{}, &ConfigError{Variable: EnvRequestTimeout, Reason: fmt.Sprintf("invalid duration %q", raw)}
		}
		if d <= 0 {
			return ServiceConfig{}, &ConfigError{Variable: EnvRequestTimeout, Reason: "must be positive"}
		}
		cfg.RequestTimeout = d
	}

	return cfg, nil
}

// StoreEndpoint merges credentials into the DSN for URL-shaped endpoints.
// Credentials take the form user:password; a DSN that already carries user
// info wins so operators can keep everything in one variable.
func (c ServiceConfig) StoreEndpoint() string {
	if c.StoreCredentials == "" {
		return c.StoreDSN
	}
	u, err := url.Parse(c.StoreDSN)
	if err != nil || u.Scheme == "" || u.User != nil {
		return c.StoreDSN
	}
	user, pass, found := strings.Cut(c.StoreCredentials, ":")
	if found {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

func requiredInt(lookup Lookup, name string) (int, error) {
	raw, ok := lookup(name)
	if !ok || raw == "" {
		return 0, &ConfigError{Variable: name, Reason: "required"}
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigError{Variable: name, Reason: fmt.Sprintf("not an integer: %q", raw)}
	}
	return v, nil
}
