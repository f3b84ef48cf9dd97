package cmds

import (
	"context"
	"embed"
	"io"
	"io/fs"
	"os"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/go-go-golems/catalog-chat/pkg/config"
	"github.com/go-go-golems/catalog-chat/pkg/localmode"
	"github.com/go-go-golems/catalog-chat/pkg/relay"
	"github.com/go-go-golems/catalog-chat/pkg/threadstore"
	"github.com/go-go-golems/catalog-chat/pkg/turnbus"
	"github.com/go-go-golems/catalog-chat/pkg/upstream"
)

//go:embed static
var staticFS embed.FS

type ServeCommand struct {
	*cmds.CommandDescription
	run func(ctx context.Context, s config.Settings) error
}

var _ cmds.BareCommand = &ServeCommand{}

// NewServeCommand builds the serve command. v supplies the defaults resolved
// from the environment and the config file.
func NewServeCommand(v *viper.Viper) (*ServeCommand, error) {
	serveSection, err := config.NewServeSection(v)
	if err != nil {
		return nil, err
	}
	redisSection, err := turnbus.NewRedisSection(config.RedisDefaults(v))
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"serve",
		cmds.WithShort("Run the chat relay"),
		cmds.WithLong("Serve the thread API, the run stream and the chat page. Without OPENAI_API_KEY and ASSISTANT_ID every turn is answered locally."),
		cmds.WithSections(serveSection, redisSection),
	)
	return &ServeCommand{CommandDescription: desc, run: runServer}, nil
}

func (c *ServeCommand) Run(ctx context.Context, parsedLayers *values.Values) error {
	s, err := config.FromValues(parsedLayers)
	if err != nil {
		return err
	}
	return c.run(ctx, s)
}

func runServer(ctx context.Context, s config.Settings) error {
	srv, err := BuildServer(s)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// BuildServer wires the relay from resolved settings.
func BuildServer(s config.Settings) (*relay.Server, error) {
	var closers []io.Closer
	fail := func(err error) (*relay.Server, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}

	lmOpts, err := s.LocalModeOptions()
	if err != nil {
		return nil, err
	}
	gen, err := localmode.NewGenerator(lmOpts...)
	if err != nil {
		return nil, err
	}

	store, err := openStore(s)
	if err != nil {
		return nil, err
	}
	closers = append(closers, store)

	bus, err := turnbus.New(s.Redis)
	if err != nil {
		return fail(err)
	}
	auditor := turnbus.NewAuditor(bus, nil)

	opts := []relay.ServiceOption{
		relay.WithLocalMode(gen),
		relay.WithThreadStore(store),
		relay.WithTurnPublisher(bus),
		relay.WithLocalFallback(s.LocalFallback),
	}
	if up := s.Upstream(); up.Configured() {
		a, err := upstream.NewOpenAIAssistant(up)
		if err != nil {
			_ = bus.Close()
			return fail(err)
		}
		opts = append(opts, relay.WithUpstream(a))
	} else {
		log.Warn().Msg("OPENAI_API_KEY or ASSISTANT_ID not set, serving local answers only")
	}
	svc, err := relay.NewService(opts...)
	if err != nil {
		_ = bus.Close()
		return fail(err)
	}

	router, err := relay.NewRouter(svc, staticOption(s.StaticDir))
	if err != nil {
		_ = bus.Close()
		return fail(err)
	}
	serverOpts := []relay.ServerOption{relay.WithTurnBus(bus, auditor)}
	for _, c := range closers {
		serverOpts = append(serverOpts, relay.WithCloser(c))
	}
	srv, err := relay.NewServer(s.Addr(), router, serverOpts...)
	if err != nil {
		_ = bus.Close()
		return fail(err)
	}
	return srv, nil
}

func openStore(s config.Settings) (threadstore.Store, error) {
	dsn, err := s.StoreDSN()
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return threadstore.NewInMemoryStore(), nil
	}
	st, err := threadstore.NewSQLiteStore(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open thread store")
	}
	return st, nil
}

// staticOption serves dir when it exists and the embedded page otherwise.
func staticOption(dir string) relay.RouterOption {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return relay.WithStaticDir(dir)
		}
		log.Debug().Str("dir", dir).Msg("static dir not found, using embedded page")
	}
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return relay.WithStaticDir(dir)
	}
	return relay.WithStaticFS(sub)
}
