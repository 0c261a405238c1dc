package main

import (
	"fmt"
	"sync"

	"stereochecker/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// commandContext - общий для команд конфиг: viper + лениво собранный Config
type commandContext struct {
	v          *viper.Viper
	configFlag string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(c.v, c.configFlag)
		if err != nil {
			c.configErr = err
			return
		}
		if err := config.ConfigureLogging(cfg.Log); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// bindFlag привязывает флаг команды к ключу конфига (флаг > env > файл > default)
func (c *commandContext) bindFlag(flags *pflag.FlagSet, key, name string) {
	if err := c.v.BindPFlag(key, flags.Lookup(name)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{v: config.New()}

	rootCmd := &cobra.Command{
		Use:           "stereochecker",
		Short:         "Detect fake stereo and switch playback between stereo and mono",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")
	ctx.bindFlag(flags, "log.level", "log-level")
	ctx.bindFlag(flags, "log.format", "log-format")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newAnalyzeCommand(ctx))
	rootCmd.AddCommand(newDownmixCommand(ctx))
	rootCmd.AddCommand(newDevicesCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}

// shouldSkipConfig - команды, которым конфиг не нужен (help, config init)
func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations["skipConfig"] == "true" {
			return true
		}
	}
	return cmd.Name() == "help"
}
