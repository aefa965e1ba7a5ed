package app

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/alavret/sync-deps-from-hub-v2/internal/ldap"
	"github.com/alavret/sync-deps-from-hub-v2/internal/transport"
	"github.com/alavret/sync-deps-from-hub-v2/internal/y360"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/errors"
)

// Config holds the application configuration loaded from various sources
// including environment variables, .env files and flags.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Source directory (LDAP)
	LDAPHost          string
	LDAPPort          int
	LDAPUseSSL        bool
	LDAPInsecure      bool
	LDAPBindDN        string
	LDAPPassword      string
	LDAPBaseDN        string
	LDAPRootGroupDN   string
	LDAPMemberKeyAttr string
	LDAPPageSize      int

	// Target directory (Yandex 360)
	OrgID   string
	Token   string
	BaseURL string
	PerPage int

	// Sync behavior
	DryRun          bool
	RetainUnmanaged bool
	DumpFile        string
	ReportFile      string
	UserCacheTTL    time.Duration
	RetryCount      int
	RetryBackoff    time.Duration
	RunTimeout      time.Duration

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// LoadConfig loads configuration from all sources in order of precedence:
// 1. Command-line flags (handled by cobra)
// 2. Environment variables
// 3. .env files
// 4. Defaults
func LoadConfig() (*Config, error) {
	// Load .env files first (before Viper env binding)
	loadEnvFiles()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	setDefaults()

	config := &Config{
		Verbose: viper.GetBool("verbose"),
		Quiet:   viper.GetBool("quiet"),
		NoColor: viper.GetBool("no_color"),
		Format:  viper.GetString("format"),

		LDAPHost:          viper.GetString("ldap_host"),
		LDAPPort:          viper.GetInt("ldap_port"),
		LDAPUseSSL:        viper.GetBool("ldap_use_ssl"),
		LDAPInsecure:      viper.GetBool("ldap_insecure"),
		LDAPBindDN:        viper.GetString("ldap_bind_dn"),
		LDAPPassword:      viper.GetString("ldap_password"),
		LDAPBaseDN:        viper.GetString("ldap_base_dn"),
		LDAPRootGroupDN:   viper.GetString("ldap_root_group_dn"),
		LDAPMemberKeyAttr: viper.GetString("ldap_member_key_attr"),
		LDAPPageSize:      viper.GetInt("ldap_page_size"),

		OrgID:   viper.GetString("org_id"),
		Token:   viper.GetString("oauth_token"),
		BaseURL: viper.GetString("api_base_url"),
		PerPage: viper.GetInt("api_per_page"),

		DryRun:          viper.GetBool("dry_run"),
		RetainUnmanaged: viper.GetBool("retain_unmanaged"),
		DumpFile:        viper.GetString("dump_file"),
		ReportFile:      viper.GetString("report_file"),
		UserCacheTTL:    viper.GetDuration("user_cache_ttl"),
		RetryCount:      viper.GetInt("retry_count"),
		RetryBackoff:    viper.GetDuration("retry_backoff"),
		RunTimeout:      viper.GetDuration("run_timeout"),

		LogLevel:  viper.GetString("log_level"),
		LogFormat: viper.GetString("log_format"),
		LogOutput: viper.GetString("log_output"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects setting values no run could operate with.
func (c *Config) Validate() error {
	if c.LDAPPort <= 0 || c.LDAPPort > 65535 {
		return errors.NewValidationError("ldap_port", c.LDAPPort, "must be a valid TCP port")
	}
	if c.PerPage <= 0 {
		return errors.NewValidationError("api_per_page", c.PerPage, "must be positive")
	}
	if c.RetryCount < 0 {
		return errors.NewValidationError("retry_count", c.RetryCount, "must not be negative")
	}
	if c.UserCacheTTL < 0 {
		return errors.NewValidationError("user_cache_ttl", c.UserCacheTTL.String(), "must not be negative")
	}
	if c.RunTimeout <= 0 {
		return errors.NewValidationError("run_timeout", c.RunTimeout.String(), "must be positive")
	}
	return nil
}

// setDefaults registers the default values for every setting.
func setDefaults() {
	viper.SetDefault("ldap_port", 389)
	viper.SetDefault("ldap_member_key_attr", ldap.DefaultMemberKeyAttribute)
	viper.SetDefault("ldap_page_size", ldap.DefaultPageSize)

	viper.SetDefault("api_base_url", y360.DefaultBaseURL)
	viper.SetDefault("api_per_page", y360.DefaultPerPage)

	viper.SetDefault("user_cache_ttl", y360.DefaultUserCacheTTL)
	viper.SetDefault("retry_count", transport.DefaultMaxRetries)
	viper.SetDefault("retry_backoff", transport.DefaultBackoffStep)
	viper.SetDefault("run_timeout", 30*time.Minute)

	viper.SetDefault("log_format", "auto")
	viper.SetDefault("log_output", "stderr")
}

// UpdateFromFlags updates config values from parsed command flags.
// This should be called after cobra parses flags to ensure flag
// values take precedence over env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// LDAPConfig maps the settings onto the source client configuration.
func (c *Config) LDAPConfig() ldap.Config {
	return ldap.Config{
		Host:               c.LDAPHost,
		Port:               c.LDAPPort,
		UseSSL:             c.LDAPUseSSL,
		Insecure:           c.LDAPInsecure,
		BindDN:             c.LDAPBindDN,
		Password:           c.LDAPPassword,
		BaseDN:             c.LDAPBaseDN,
		RootGroupDN:        c.LDAPRootGroupDN,
		MemberKeyAttribute: c.LDAPMemberKeyAttr,
		PageSize:           uint32(c.LDAPPageSize),
	}
}

// loadEnvFiles loads environment variables from .env files.
// .env.local overrides .env.
func loadEnvFiles() {
	envFiles := []string{
		".env",
		".env.local",
	}
	for _, envFile := range envFiles {
		_ = godotenv.Overload(envFile)
	}
}
