package turnbus

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

// RedisSlug is the glazed section holding the Redis Streams settings.
const RedisSlug = "redis"

// Settings selects the turn bus transport. When Enabled is false the bus runs
// in-process on a watermill GoChannel.
type Settings struct {
	Enabled  bool   `glazed:"redis-enabled"`
	Addr     string `glazed:"redis-addr"`
	Group    string `glazed:"redis-group"`
	Consumer string `glazed:"redis-consumer"`
}

const (
	DefaultRedisAddr = "localhost:6379"
	DefaultGroup     = "turn-audit"
	DefaultConsumer  = "relay-1"
)

func (s Settings) withDefaults() Settings {
	if s.Addr == "" {
		s.Addr = DefaultRedisAddr
	}
	if s.Group == "" {
		s.Group = DefaultGroup
	}
	if s.Consumer == "" {
		s.Consumer = DefaultConsumer
	}
	return s
}

// NewRedisSection returns the section for the turn bus transport, with d as
// the field defaults.
func NewRedisSection(d Settings) (schema.Section, error) {
	d = d.withDefaults()
	return schema.NewSection(
		RedisSlug,
		"Redis Streams transport for the turn bus",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool,
				fields.WithDefault(d.Enabled),
				fields.WithHelp("Publish turn events to Redis Streams")),
			fields.New("redis-addr", fields.TypeString,
				fields.WithDefault(d.Addr),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString,
				fields.WithDefault(d.Group),
				fields.WithHelp("Redis consumer group of the turn auditor")),
			fields.New("redis-consumer", fields.TypeString,
				fields.WithDefault(d.Consumer),
				fields.WithHelp("Redis consumer name")),
		),
	)
}
