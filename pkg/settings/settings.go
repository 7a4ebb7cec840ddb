// Package settings loads the service configuration from flags, environment
// and an optional YAML file through viper.
package settings

import (
	"os"
	"strings"

	"github.com/go-go-golems/conflict-sim/pkg/providers"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "CONFLICT_SIM"
	ConfigName = "conflict-sim"

	Development = "development"
	Production  = "production"
)

// keys that are also read from their historical unprefixed variables
var unprefixedEnv = map[string]string{
	"openai-api-key":  "OPENAI_API_KEY",
	"mistral-api-key": "MISTRAL_API_KEY",
	"google-api-key":  "GOOGLE_API_KEY",
	"environment":     "ENVIRONMENT",
	"port":            "PORT",
	"host":            "HOST",
	"log-level":       "LOG_LEVEL",
}

type Settings struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`

	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	LogFile    string `yaml:"log_file"`
	WithCaller bool   `yaml:"with_caller"`

	DefaultProvider   string  `yaml:"default_provider"`
	OpenAIAPIKey      string  `yaml:"openai_api_key"`
	MistralAPIKey     string  `yaml:"mistral_api_key"`
	GoogleAPIKey      string  `yaml:"google_api_key"`
	MoodModel         string  `yaml:"mood_model"`
	ObserverModel     string  `yaml:"observer_model"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// SetDefaults registers every known key so environment overrides are picked
// up even without a flag or config entry.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", Development)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("log-level", "")
	v.SetDefault("log-format", "text")
	v.SetDefault("log-file", "")
	v.SetDefault("with-caller", false)
	v.SetDefault("default-provider", providers.OpenAI)
	v.SetDefault("openai-api-key", "")
	v.SetDefault("mistral-api-key", "")
	v.SetDefault("google-api-key", "")
	v.SetDefault("mood-model", "gpt-4o-mini")
	v.SetDefault("observer-model", "gpt-4o")
	v.SetDefault("requests-per-second", 0)
}

// AddFlags registers one flag per setting. Flag defaults match SetDefaults
// so an unset flag never shadows the environment.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file (default ./conflict-sim.yaml or ~/.conflict-sim/conflict-sim.yaml)")
	fs.String("environment", Development, "Environment (development, production)")
	fs.String("host", "0.0.0.0", "Address to listen on")
	fs.Int("port", 8000, "Port to listen on")

	fs.String("log-level", "", "Log level (trace, debug, info, warn, error, fatal), defaults by environment")
	fs.String("log-format", "text", "Log format (json, text)")
	fs.String("log-file", "", "Log file (default: stderr)")
	fs.Bool("with-caller", false, "Log caller")

	fs.String("default-provider", providers.OpenAI, "Provider used when an agent names none (openai, mistral, google, scripted)")
	fs.String("openai-api-key", "", "OpenAI API key")
	fs.String("mistral-api-key", "", "Mistral API key")
	fs.String("google-api-key", "", "Google API key")
	fs.String("mood-model", "gpt-4o-mini", "Model used to classify the mood of user-written turns")
	fs.String("observer-model", "gpt-4o", "Model used for conversation analysis")
	fs.Float64("requests-per-second", 0, "Per-provider request rate limit, 0 disables it")
}

// New returns a viper instance wired to the environment and, if flags is
// set, to the given flag set.
func New(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, env := range unprefixedEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, err
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// ReadConfig reads path, or looks for conflict-sim.yaml in the working
// directory and in ~/.conflict-sim. A missing default file is not an error.
func ReadConfig(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.conflict-sim")
		}
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "could not read config file")
	}
	return nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		Environment:       strings.ToLower(v.GetString("environment")),
		Host:              v.GetString("host"),
		Port:              v.GetInt("port"),
		LogLevel:          strings.ToLower(v.GetString("log-level")),
		LogFormat:         v.GetString("log-format"),
		LogFile:           v.GetString("log-file"),
		WithCaller:        v.GetBool("with-caller"),
		DefaultProvider:   strings.ToLower(v.GetString("default-provider")),
		OpenAIAPIKey:      v.GetString("openai-api-key"),
		MistralAPIKey:     v.GetString("mistral-api-key"),
		GoogleAPIKey:      v.GetString("google-api-key"),
		MoodModel:         v.GetString("mood-model"),
		ObserverModel:     v.GetString("observer-model"),
		RequestsPerSecond: v.GetFloat64("requests-per-second"),
	}

	if s.LogLevel == "" {
		s.LogLevel = "debug"
		if s.IsProduction() {
			s.LogLevel = "info"
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) IsProduction() bool {
	return s.Environment == Production
}

func (s *Settings) Validate() error {
	switch s.Environment {
	case Development, Production:
	default:
		return errors.Errorf("environment must be %q or %q, got %q", Development, Production, s.Environment)
	}

	switch s.DefaultProvider {
	case providers.OpenAI, providers.Mistral, providers.Google, providers.Scripted:
	default:
		return &providers.UnknownProviderError{Name: s.DefaultProvider}
	}

	if s.Port <= 0 || s.Port > 65535 {
		return errors.Errorf("invalid port %d", s.Port)
	}

	switch s.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return errors.Errorf("invalid log level %q", s.LogLevel)
	}

	if s.RequestsPerSecond < 0 {
		return errors.Errorf("requests-per-second must not be negative")
	}

	// only openai is registered without a key
	switch {
	case s.DefaultProvider == providers.Mistral && s.MistralAPIKey == "":
		return errors.New("MISTRAL_API_KEY must be set when mistral is the default provider")
	case s.DefaultProvider == providers.Google && s.GoogleAPIKey == "":
		return errors.New("GOOGLE_API_KEY must be set when google is the default provider")
	}

	if s.IsProduction() && s.DefaultProvider != providers.Scripted && s.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY must be set in production")
	}
	return nil
}

// ProviderConfigs returns one endpoint config per provider that can be
// reached with the configured keys. OpenAI is always listed so a missing key
// degrades into fallback replies instead of an unknown provider.
func (s *Settings) ProviderConfigs() []providers.Config {
	ret := []providers.Config{{
		Name:              providers.OpenAI,
		APIKey:            s.OpenAIAPIKey,
		MoodModel:         s.MoodModel,
		RequestsPerSecond: s.RequestsPerSecond,
	}}
	if s.MistralAPIKey != "" {
		ret = append(ret, providers.Config{
			Name:              providers.Mistral,
			APIKey:            s.MistralAPIKey,
			RequestsPerSecond: s.RequestsPerSecond,
		})
	}
	if s.GoogleAPIKey != "" {
		ret = append(ret, providers.Config{
			Name:              providers.Google,
			APIKey:            s.GoogleAPIKey,
			RequestsPerSecond: s.RequestsPerSecond,
		})
	}
	return ret
}
