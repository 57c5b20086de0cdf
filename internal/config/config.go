// Package config loads kbadmin settings: built-in defaults, then an optional
// YAML file, then KBADMIN_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/felixgeelhaar/kbadmin/internal/errors"
	"github.com/felixgeelhaar/kbadmin/internal/log"
)

// EnvPrefix prefixes every environment override: KBADMIN_PROVIDER_URL sets
// provider.url.
const EnvPrefix = "KBADMIN_"

// Config is the complete client configuration.
type Config struct {
	Provider ProviderConfig `koanf:"provider"`
	Storage  StorageConfig  `koanf:"storage"`
	Policy   PolicyConfig   `koanf:"policy"`
	Log      LogConfig      `koanf:"log"`
}

// ProviderConfig describes the identity provider / admin backend.
type ProviderConfig struct {
	URL              string        `koanf:"url"`
	Timeout          time.Duration `koanf:"timeout"`
	ValidateContract bool          `koanf:"validate_contract"`
	StrictContract   bool          `koanf:"strict_contract"`
	// ExpireOnForbidden treats 403 like 401. The backend also answers 403
	// for role denials, which then log the user out.
	ExpireOnForbidden bool `koanf:"expire_on_forbidden"`
}

// StorageConfig locates the session tiers.
type StorageConfig struct {
	DurableDir   string `koanf:"durable_dir"`
	EphemeralDir string `koanf:"ephemeral_dir"`
	Scope        string `koanf:"scope"`
	// Passphrase seals durable records at rest when set.
	Passphrase string `koanf:"passphrase"`
}

// PolicyConfig optionally replaces the built-in role table.
type PolicyConfig struct {
	File string `koanf:"file"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

var defaults = map[string]any{
	"provider.url":                 "http://127.0.0.1:8000",
	"provider.timeout":             "30s",
	"provider.validate_contract":   true,
	"provider.strict_contract":     false,
	"provider.expire_on_forbidden": true,
	"storage.durable_dir":          "",
	"storage.ephemeral_dir":        "",
	"storage.scope":                "",
	"storage.passphrase":           "",
	"policy.file":                  "",
	"log.level":                    "warn",
	"log.format":                   "text",
}

// DefaultPath returns ~/.config/kbadmin/config.yaml (or the platform
// equivalent).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kbadmin", "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := load("", nil)
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Load reads the configuration. An explicit path must exist; the default
// path is used only when present.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	if explicit {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigLoad, "config file not found: "+path, err)
		}
	}
	return load(path, os.Environ())
}

func load(path string, environ []string) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigLoad, "setting defaults", err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigLoad, "failed to read "+path, err).
				WithSuggestion("Check the YAML syntax of the config file")
		}
	}

	if environ != nil {
		if err := k.Load(env.Provider(".", env.Opt{
			Prefix:        EnvPrefix,
			TransformFunc: envKey,
			EnvironFunc:   func() []string { return environ },
		}), nil); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigLoad, "load env variables failed", err)
		}
	}

	cfg := new(Config)
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to decode configuration", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps KBADMIN_PROVIDER_EXPIRE_ON_FORBIDDEN to
// provider.expire_on_forbidden. Variables without a section are ignored.
func envKey(k, v string) (string, any) {
	name := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	section, key, ok := strings.Cut(name, "_")
	if !ok || key == "" {
		return "", nil
	}
	if _, known := defaults[section+"."+key]; !known {
		return "", nil
	}
	return section + "." + key, v
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Provider.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.NewConfigInvalidError("provider.url", fmt.Sprintf("%q is not an http(s) URL", c.Provider.URL))
	}
	if c.Provider.Timeout <= 0 {
		return errors.NewConfigInvalidError("provider.timeout", "must be positive")
	}
	if c.Provider.StrictContract && !c.Provider.ValidateContract {
		return errors.NewConfigInvalidError("provider.strict_contract", "requires provider.validate_contract")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.NewConfigInvalidError("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.NewConfigInvalidError("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}
	return nil
}

// LoggerConfig converts the log section for log.New.
func (c *Config) LoggerConfig() log.Config {
	lc := log.DefaultConfig()
	lc.Level = log.ParseLevel(c.Log.Level)
	lc.Format = log.ParseFormat(c.Log.Format)
	return lc
}
