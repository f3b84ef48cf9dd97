package cmds

import (
	"io"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/catalog-chat/pkg/chatclient"
	"github.com/go-go-golems/catalog-chat/pkg/config"
	"github.com/go-go-golems/catalog-chat/pkg/logging"
	"github.com/go-go-golems/catalog-chat/pkg/ui"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the catalog assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			relayURL, _ := cmd.Flags().GetString("relay-url")
			logFile, _ := cmd.Flags().GetString("log-file")

			// the terminal belongs to the UI; logs go to a file or nowhere
			var w io.Writer = io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return errors.Wrap(err, "open log file")
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			v, err := LoadViper(cmd)
			if err != nil {
				return err
			}
			if err := logging.Init(v.GetString(config.KeyLogLevel), logging.FormatJSON, w); err != nil {
				return err
			}

			model, err := ui.New(cmd.Context(), chatclient.NewHTTPRelay(relayURL, &http.Client{}))
			if err != nil {
				return err
			}
			_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().String("relay-url", chatclient.DefaultRelayURL, "Base URL of the relay API")
	cmd.Flags().String("log-file", "", "Write logs to this file")
	return cmd
}
