package config

import (
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/catalog-chat/pkg/turnbus"
)

// ServeSlug is the glazed section holding the relay settings.
const ServeSlug = "serve"

// ServeSettings is the serve section as glazed decodes it.
type ServeSettings struct {
	OpenAIAPIKey   string `glazed:"openai-api-key"`
	AssistantID    string `glazed:"assistant-id"`
	OpenAIBaseURL  string `glazed:"openai-base-url"`
	Port           int    `glazed:"port"`
	StaticDir      string `glazed:"static-dir"`
	LocalFallback  bool   `glazed:"local-fallback"`
	LocalCadence   string `glazed:"local-cadence"`
	LocalResponses string `glazed:"local-responses"`
	ThreadStoreDSN string `glazed:"thread-store-dsn"`
	ThreadStoreDB  string `glazed:"thread-store-db"`
}

// NewServeSection returns the relay section. Defaults come from v, so values
// resolved from the environment and the config file show up as flag defaults.
func NewServeSection(v *viper.Viper) (schema.Section, error) {
	return schema.NewSection(
		ServeSlug,
		"Relay settings",
		schema.WithFields(
			fields.New(KeyOpenAIAPIKey, fields.TypeString,
				fields.WithDefault(v.GetString(KeyOpenAIAPIKey)),
				fields.WithHelp("OpenAI API key (empty runs local-only)")),
			fields.New(KeyAssistantID, fields.TypeString,
				fields.WithDefault(v.GetString(KeyAssistantID)),
				fields.WithHelp("OpenAI assistant id (empty runs local-only)")),
			fields.New(KeyOpenAIBaseURL, fields.TypeString,
				fields.WithDefault(v.GetString(KeyOpenAIBaseURL)),
				fields.WithHelp("OpenAI API base URL")),
			fields.New(KeyPort, fields.TypeInteger,
				fields.WithDefault(v.GetInt(KeyPort)),
				fields.WithHelp("Port to listen on")),
			fields.New(KeyStaticDir, fields.TypeString,
				fields.WithDefault(v.GetString(KeyStaticDir)),
				fields.WithHelp("Directory with the static chat UI (embedded page if missing)")),
			fields.New(KeyLocalFallback, fields.TypeBool,
				fields.WithDefault(v.GetBool(KeyLocalFallback)),
				fields.WithHelp("Substitute local answers when the upstream fails")),
			fields.New(KeyLocalCadence, fields.TypeString,
				fields.WithDefault(v.GetDuration(KeyLocalCadence).String()),
				fields.WithHelp("Delay between local answer deltas, e.g. 50ms")),
			fields.New(KeyLocalResponses, fields.TypeString,
				fields.WithDefault(v.GetString(KeyLocalResponses)),
				fields.WithHelp("YAML file with canned local answers")),
			fields.New(KeyThreadStoreDSN, fields.TypeString,
				fields.WithDefault(v.GetString(KeyThreadStoreDSN)),
				fields.WithHelp("SQLite DSN for local threads (memory if empty, preferred over thread-store-db)")),
			fields.New(KeyThreadStoreDB, fields.TypeString,
				fields.WithDefault(v.GetString(KeyThreadStoreDB)),
				fields.WithHelp("SQLite file for local threads (DSN derived with WAL/busy_timeout)")),
		),
	)
}

// RedisDefaults returns the turn bus settings resolved by v, used as the
// redis section defaults.
func RedisDefaults(v *viper.Viper) turnbus.Settings {
	return turnbus.Settings{
		Enabled:  v.GetBool(KeyRedisEnabled),
		Addr:     v.GetString(KeyRedisAddr),
		Group:    v.GetString(KeyRedisGroup),
		Consumer: v.GetString(KeyRedisConsumer),
	}
}

// FromValues decodes the serve and redis sections into validated settings.
func FromValues(parsed *values.Values) (Settings, error) {
	ss := &ServeSettings{}
	if err := parsed.DecodeSectionInto(ServeSlug, ss); err != nil {
		return Settings{}, errors.Wrap(err, "decode serve settings")
	}
	rs := turnbus.Settings{}
	if err := parsed.DecodeSectionInto(turnbus.RedisSlug, &rs); err != nil {
		return Settings{}, errors.Wrap(err, "decode redis settings")
	}
	return ss.Resolve(rs)
}

// Resolve converts the decoded sections into Settings.
func (ss ServeSettings) Resolve(redis turnbus.Settings) (Settings, error) {
	cadence, err := time.ParseDuration(strings.TrimSpace(ss.LocalCadence))
	if err != nil {
		return Settings{}, errors.Wrapf(err, "invalid %s %q", KeyLocalCadence, ss.LocalCadence)
	}
	s := Settings{
		OpenAIAPIKey:   strings.TrimSpace(ss.OpenAIAPIKey),
		AssistantID:    strings.TrimSpace(ss.AssistantID),
		OpenAIBaseURL:  strings.TrimSpace(ss.OpenAIBaseURL),
		Port:           ss.Port,
		StaticDir:      ss.StaticDir,
		LocalFallback:  ss.LocalFallback,
		LocalCadence:   cadence,
		LocalResponses: ss.LocalResponses,
		ThreadStoreDSN: ss.ThreadStoreDSN,
		ThreadStoreDB:  ss.ThreadStoreDB,
		Redis:          redis,
	}
	return s, s.Validate()
}
