package cmds

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/catalog-chat/pkg/config"
)

// LoadViper builds the configuration layers for cmd: defaults, environment,
// the optional --config file, then flags.
func LoadViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	if err := readConfig(v, path); err != nil {
		return nil, err
	}
	return v, nil
}

// PreloadViper resolves defaults, environment and the --config file named in
// args before cobra parses them. Glazed commands take their field defaults
// from it, so it has to exist when the command tree is built.
func PreloadViper(args []string) (*viper.Viper, error) {
	v := config.New()
	if err := readConfig(v, configFlag(args)); err != nil {
		return nil, err
	}
	return v, nil
}

func readConfig(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	return nil
}

// configFlag finds --config in raw arguments.
func configFlag(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
	}
	return ""
}
