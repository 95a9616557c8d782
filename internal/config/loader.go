package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/fortunamind/persistgate/pkg/mcp"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for persistgate.yaml/.yml
// in standard locations. The search requires an explicit YAML extension so
// the binary itself (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file in any standard location. Set name/type without
		// search paths so ReadInConfig returns ConfigFileNotFoundError,
		// which callers handle gracefully.
		viper.SetConfigName("persistgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: PERSISTGATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("PERSISTGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
	bindBareEnvAliases()
}

// findConfigFile searches standard locations for a persistgate config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".persistgate"),
		"/etc/persistgate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "persistgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// Example: PERSISTGATE_SERVER_HTTP_ADDR overrides server.http_addr
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.mode")
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.host")
	_ = viper.BindEnv("server.port")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.tls_cert_file")
	_ = viper.BindEnv("server.tls_key_file")
	// Note: server.allowed_origins is an array; use the config file.

	_ = viper.BindEnv("database.url")
	_ = viper.BindEnv("database.auto_migrate")
	_ = viper.BindEnv("database.cleanup_interval")

	_ = viper.BindEnv("identity.namespace")

	_ = viper.BindEnv("subscription.registry_url")
	_ = viper.BindEnv("subscription.positive_cache_ttl")
	_ = viper.BindEnv("subscription.negative_cache_ttl")

	_ = viper.BindEnv("rate_limit.per_minute")
	_ = viper.BindEnv("rate_limit.cleanup_interval")
	_ = viper.BindEnv("rate_limit.idle_ttl")

	_ = viper.BindEnv("security.profile")
	_ = viper.BindEnv("security.jwt_secret")

	_ = viper.BindEnv("upstream.base_url")
	_ = viper.BindEnv("upstream.timeout")

	_ = viper.BindEnv("bridge.endpoint")
	_ = viper.BindEnv("bridge.timeout")

	_ = viper.BindEnv("dev_mode")
}

// bindBareEnvAliases accepts a handful of conventional unprefixed names so
// the binary drops into standard hosting environments without a mapping
// layer. Prefixed names win when both are set.
func bindBareEnvAliases() {
	_ = viper.BindEnv("database.url", "PERSISTGATE_DATABASE_URL", "DATABASE_URL")
	_ = viper.BindEnv("server.mode", "PERSISTGATE_SERVER_MODE", "SERVER_MODE")
	_ = viper.BindEnv("server.http_addr", "PERSISTGATE_SERVER_HTTP_ADDR", "HTTP_ADDR")
	_ = viper.BindEnv("server.host", "PERSISTGATE_SERVER_HOST", "SERVER_HOST")
	_ = viper.BindEnv("server.port", "PERSISTGATE_SERVER_PORT", "SERVER_PORT")
	_ = viper.BindEnv("server.log_level", "PERSISTGATE_SERVER_LOG_LEVEL", "LOG_LEVEL")
	_ = viper.BindEnv("identity.namespace", "PERSISTGATE_IDENTITY_NAMESPACE", "IDENTITY_NAMESPACE")
	_ = viper.BindEnv("subscription.registry_url", "PERSISTGATE_SUBSCRIPTION_REGISTRY_URL", "SUBSCRIPTION_REGISTRY_URL")
	_ = viper.BindEnv("subscription.positive_cache_ttl", "PERSISTGATE_SUBSCRIPTION_POSITIVE_CACHE_TTL", "SUBSCRIPTION_CACHE_TTL_SECONDS")
	_ = viper.BindEnv("rate_limit.per_minute", "PERSISTGATE_RATE_LIMIT_PER_MINUTE", "RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("security.profile", "PERSISTGATE_SECURITY_PROFILE", "SECURITY_PROFILE")
	_ = viper.BindEnv("security.jwt_secret", "PERSISTGATE_SECURITY_JWT_SECRET", "JWT_SECRET")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates. Missing config file is not an error: the
// gateway runs on environment variables alone.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or an
// empty string in env-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// CredentialsFromEnv reads session credentials for stdio and bridge modes.
// These come from the environment only, never from config files.
func CredentialsFromEnv() mcp.Credentials {
	return mcp.Credentials{
		Email:             os.Getenv("PERSISTGATE_USER_EMAIL"),
		SubscriptionKey:   os.Getenv("PERSISTGATE_SUBSCRIPTION_KEY"),
		UpstreamAPIKey:    os.Getenv("PERSISTGATE_UPSTREAM_API_KEY"),
		UpstreamAPISecret: os.Getenv("PERSISTGATE_UPSTREAM_API_SECRET"),
	}
}
