package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/ultrawork/internal/cli"
	"github.com/zjrosen/ultrawork/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and bootstrap configuration",
}

var configInitPath string

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config file",
	Args:  cobra.NoArgs,
	RunE: run("config.init", func(ctx context.Context, rt *runtime, args []string) error {
		path := configInitPath
		if path == "" {
			var err error
			path, err = config.DefaultConfigPath()
			if err != nil {
				return err
			}
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		return confirm(rt.printer, map[string]string{"path": path}, "config written to %s", path)
	}),
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration after file, env, and flag merging",
	Args:  cobra.NoArgs,
	RunE: run("config.show", func(ctx context.Context, rt *runtime, args []string) error {
		settings := viper.AllSettings()
		if rt.printer.Format() == cli.FormatJSON {
			return rt.printer.JSON(settings)
		}
		out, err := yaml.Marshal(settings)
		if err != nil {
			return err
		}
		_, err = rt.printer.Out().Write(out)
		return err
	}),
}

func init() {
	configInitCmd.Flags().StringVar(&configInitPath, "path", "", "target file (default: ~/.config/ultrawork/config.yaml)")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
