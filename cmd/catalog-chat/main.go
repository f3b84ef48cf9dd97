package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/catalog-chat/cmd/catalog-chat/cmds"
	"github.com/go-go-golems/catalog-chat/pkg/config"
	"github.com/go-go-golems/catalog-chat/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "catalog-chat",
	Short: "Catalog assistant relay and terminal chat client",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// the logger is reinitialized once --log-level and co are parsed
		v, err := cmds.LoadViper(cmd)
		if err != nil {
			return err
		}
		if err := logging.Init(v.GetString(config.KeyLogLevel), v.GetString(config.KeyLogFormat), os.Stderr); err != nil {
			return err
		}
		if withCaller, _ := cmd.Flags().GetBool("with-caller"); withCaller {
			log.Logger = log.Logger.With().Caller().Logger()
		}
		return nil
	},
	SilenceUsage: true,
}

func main() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "YAML config file")
	pf.String(config.KeyLogLevel, "info", "Log level (trace, debug, info, warn, error)")
	pf.String(config.KeyLogFormat, logging.FormatAuto, "Log format (auto, console, json)")
	pf.Bool("with-caller", false, "Add caller information to log lines")

	v, err := cmds.PreloadViper(os.Args[1:])
	cobra.CheckErr(err)

	serveCmd, err := cmds.NewServeCommand(v)
	cobra.CheckErr(err)
	cobraServeCmd, err := cmds.BuildCobraCommand(serveCmd)
	cobra.CheckErr(err)

	threadsCmd, err := cmds.NewThreadsCommand(v)
	cobra.CheckErr(err)

	rootCmd.AddCommand(cobraServeCmd, threadsCmd, cmds.NewChatCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(rootCmd.ExecuteContext(ctx))
}
