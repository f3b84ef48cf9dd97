package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/catalog-chat/pkg/localmode"
	"github.com/go-go-golems/catalog-chat/pkg/threadstore"
	"github.com/go-go-golems/catalog-chat/pkg/turnbus"
	"github.com/go-go-golems/catalog-chat/pkg/upstream"
)

const (
	KeyOpenAIAPIKey   = "openai-api-key"
	KeyAssistantID    = "assistant-id"
	KeyOpenAIBaseURL  = "openai-base-url"
	KeyPort           = "port"
	KeyStaticDir      = "static-dir"
	KeyLocalFallback  = "local-fallback"
	KeyLocalCadence   = "local-cadence"
	KeyLocalResponses = "local-responses"
	KeyThreadStoreDSN = "thread-store-dsn"
	KeyThreadStoreDB  = "thread-store-db"
	KeyRedisEnabled   = "redis-enabled"
	KeyRedisAddr      = "redis-addr"
	KeyRedisGroup     = "redis-group"
	KeyRedisConsumer  = "redis-consumer"
	KeyLogLevel       = "log-level"
	KeyLogFormat      = "log-format"
)

const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

var defaults = map[string]any{
	KeyOpenAIAPIKey:   "",
	KeyAssistantID:    "",
	KeyOpenAIBaseURL:  DefaultOpenAIBaseURL,
	KeyPort:           3000,
	KeyStaticDir:      "frontend",
	KeyLocalFallback:  true,
	KeyLocalCadence:   localmode.DefaultCadence,
	KeyLocalResponses: "",
	KeyThreadStoreDSN: "",
	KeyThreadStoreDB:  "",
	KeyRedisEnabled:   false,
	KeyRedisAddr:      "localhost:6379",
	KeyRedisGroup:     "turn-audit",
	KeyRedisConsumer:  "relay-1",
	KeyLogLevel:       "info",
	KeyLogFormat:      "auto",
}

// Settings is the resolved relay configuration.
type Settings struct {
	OpenAIAPIKey   string
	AssistantID    string
	OpenAIBaseURL  string
	Port           int
	StaticDir      string
	LocalFallback  bool
	LocalCadence   time.Duration
	LocalResponses string
	ThreadStoreDSN string
	ThreadStoreDB  string
	Redis          turnbus.Settings
	LogLevel       string
	LogFormat      string
}

// New returns a viper instance with defaults set and every key bound to its
// upper-snake environment variable.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
		_ = v.BindEnv(k, envName(k))
	}
	return v
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// BindFlags binds every flag of fs that names a known key. Only the root
// flags go through viper; the serve flags are glazed fields.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if _, ok := defaults[f.Name]; !ok || err != nil {
			return
		}
		err = v.BindPFlag(f.Name, f)
	})
	return errors.Wrap(err, "bind flags")
}

// Load reads configFile when given and resolves the settings.
func Load(v *viper.Viper, configFile string) (Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, errors.Wrapf(err, "read config %s", configFile)
		}
	}
	s := Settings{
		OpenAIAPIKey:   strings.TrimSpace(v.GetString(KeyOpenAIAPIKey)),
		AssistantID:    strings.TrimSpace(v.GetString(KeyAssistantID)),
		OpenAIBaseURL:  strings.TrimSpace(v.GetString(KeyOpenAIBaseURL)),
		Port:           v.GetInt(KeyPort),
		StaticDir:      v.GetString(KeyStaticDir),
		LocalFallback:  v.GetBool(KeyLocalFallback),
		LocalCadence:   v.GetDuration(KeyLocalCadence),
		LocalResponses: v.GetString(KeyLocalResponses),
		ThreadStoreDSN: v.GetString(KeyThreadStoreDSN),
		ThreadStoreDB:  v.GetString(KeyThreadStoreDB),
		Redis: turnbus.Settings{
			Enabled:  v.GetBool(KeyRedisEnabled),
			Addr:     v.GetString(KeyRedisAddr),
			Group:    v.GetString(KeyRedisGroup),
			Consumer: v.GetString(KeyRedisConsumer),
		},
		LogLevel:  v.GetString(KeyLogLevel),
		LogFormat: v.GetString(KeyLogFormat),
	}
	return s, s.Validate()
}

func (s Settings) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return errors.Errorf("port %d out of range", s.Port)
	}
	if s.LocalCadence < 0 {
		return errors.Errorf("local cadence %s is negative", s.LocalCadence)
	}
	if s.ThreadStoreDSN != "" && s.ThreadStoreDB != "" {
		return errors.New("thread-store-dsn and thread-store-db are mutually exclusive")
	}
	return nil
}

func (s Settings) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

func (s Settings) Upstream() upstream.Settings {
	return upstream.Settings{
		APIKey:      s.OpenAIAPIKey,
		AssistantID: s.AssistantID,
		BaseURL:     s.OpenAIBaseURL,
	}
}

// LocalModeOptions returns the generator options, loading the response file
// when one is configured.
func (s Settings) LocalModeOptions() ([]localmode.Option, error) {
	opts := []localmode.Option{localmode.WithCadence(s.LocalCadence)}
	if s.LocalResponses != "" {
		rs, err := localmode.LoadResponses(s.LocalResponses)
		if err != nil {
			return nil, err
		}
		opts = append(opts, localmode.WithResponses(rs))
	}
	return opts, nil
}

// StoreDSN returns the SQLite DSN, or "" for the in-memory store.
func (s Settings) StoreDSN() (string, error) {
	if s.ThreadStoreDSN != "" {
		return s.ThreadStoreDSN, nil
	}
	if s.ThreadStoreDB != "" {
		return threadstore.DSNForFile(s.ThreadStoreDB)
	}
	return "", nil
}
