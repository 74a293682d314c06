package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "GUARDIAN"

// nestedKeys lists every config key so environment overrides work even when
// no config file mentions them. Viper only binds env vars for keys it has
// seen, so each one is bound explicitly.
var nestedKeys = []string{
	"server.addr",
	"server.log_level",
	"server.admin_key_hash",
	"server.evaluate_persists_approvals",
	"database.url",
	"redis.url",
	"streams.intent",
	"streams.decision",
	"streams.approval_request",
	"streams.approval_decision",
	"consumer.group",
	"consumer.name",
	"llm.base_url",
	"llm.model",
	"llm.api_key",
	"llm.timeout",
	"telemetry.enabled",
}

// InitViper configures viper for Guardian: explicit config file if given,
// otherwise a search through the standard locations, plus GUARDIAN_ env
// overrides (GUARDIAN_REDIS_URL -> redis.url).
func InitViper(configFile string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	bindNestedEnvKeys()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		return nil
	}

	found := findConfigFile()
	if found != "" {
		viper.SetConfigFile(found)
		return nil
	}

	// No file anywhere: defaults plus environment still produce a runnable
	// config, so set up the search for a later write and move on.
	viper.SetConfigName("guardian")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	return nil
}

// findConfigFile searches the standard locations for a guardian config file.
// Order: working directory, ~/.guardian/, /etc/guardian/.
func findConfigFile() string {
	candidates := []string{
		"guardian.yaml",
		"guardian.yml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".guardian", "guardian.yaml"),
			filepath.Join(home, ".guardian", "guardian.yml"),
		)
	}
	candidates = append(candidates,
		"/etc/guardian/guardian.yaml",
		"/etc/guardian/guardian.yml",
	)

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

func bindNestedEnvKeys() {
	for _, key := range nestedKeys {
		envKey := envPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		// BindEnv only errors on zero arguments.
		_ = viper.BindEnv(key, envKey)
	}
}

// LoadConfig reads, unmarshals, defaults, and validates the configuration.
// A missing config file is fine; a malformed one is not.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
