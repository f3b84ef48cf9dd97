package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/catalog-chat/pkg/config"
	"github.com/go-go-golems/catalog-chat/pkg/threadstore"
)

// NewThreadsCommand groups the read-only commands over the local thread store.
func NewThreadsCommand(v *viper.Viper) (*cobra.Command, error) {
	threadsCmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect threads kept by a local-only relay",
	}
	messagesCmd, err := NewThreadMessagesCommand(v)
	if err != nil {
		return nil, err
	}
	cobraMessagesCmd, err := BuildCobraCommand(messagesCmd)
	if err != nil {
		return nil, err
	}
	threadsCmd.AddCommand(cobraMessagesCmd)
	return threadsCmd, nil
}

type ThreadMessagesCommand struct {
	*cmds.CommandDescription
}

type ThreadMessagesSettings struct {
	ThreadID       string `glazed:"thread-id"`
	ThreadStoreDSN string `glazed:"thread-store-dsn"`
	ThreadStoreDB  string `glazed:"thread-store-db"`
}

func NewThreadMessagesCommand(v *viper.Viper) (*ThreadMessagesCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"messages",
		cmds.WithShort("List the messages of a local thread"),
		cmds.WithLong("List the messages of a thread from the SQLite thread store, oldest first."),
		cmds.WithFlags(
			fields.New(
				config.KeyThreadStoreDSN,
				fields.TypeString,
				fields.WithDefault(v.GetString(config.KeyThreadStoreDSN)),
				fields.WithHelp("SQLite DSN of the thread store (preferred over thread-store-db)"),
			),
			fields.New(
				config.KeyThreadStoreDB,
				fields.TypeString,
				fields.WithDefault(v.GetString(config.KeyThreadStoreDB)),
				fields.WithHelp("SQLite file of the thread store"),
			),
		),
		cmds.WithArguments(
			fields.New(
				"thread-id",
				fields.TypeString,
				fields.WithHelp("Thread id, e.g. local_..."),
				fields.WithRequired(true),
			),
		),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)
	return &ThreadMessagesCommand{CommandDescription: desc}, nil
}

func (c *ThreadMessagesCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &ThreadMessagesSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	dsn, err := config.Settings{ThreadStoreDSN: s.ThreadStoreDSN, ThreadStoreDB: s.ThreadStoreDB}.StoreDSN()
	if err != nil {
		return err
	}
	if dsn == "" {
		return errors.New("thread store not configured (set --thread-store-dsn or --thread-store-db)")
	}
	store, err := threadstore.NewSQLiteStore(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	msgs, err := store.ListMessages(ctx, s.ThreadID)
	if err != nil {
		return errors.Wrapf(err, "list messages of %s", s.ThreadID)
	}
	for _, m := range msgs {
		row := types.NewRow(
			types.MRP("message_id", m.ID),
			types.MRP("role", string(m.Role)),
			types.MRP("text", m.Text),
			types.MRP("created_at_ms", m.CreatedAtMs),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

var _ cmds.GlazeCommand = &ThreadMessagesCommand{}
