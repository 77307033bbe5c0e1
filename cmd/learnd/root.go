package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/learnhub/courses/internal/config"
	"github.com/learnhub/courses/internal/logger"
)

func newRootCmd() *cobra.Command {
	v := config.New()

	root := &cobra.Command{
		Use:               "learnd",
		Short:             "Serve the learnhub video course site",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return logger.Init(v.GetString(config.KeyLogLevel), v.GetBool(config.KeyLogDev))
		},
	}

	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-dev", false, "Human readable console logs")
	mustBind(v, config.KeyLogLevel, root.PersistentFlags().Lookup("log-level"))
	mustBind(v, config.KeyLogDev, root.PersistentFlags().Lookup("log-dev"))

	serve := newServeCmd(v)
	root.AddCommand(serve, newMigrateCmd(v), newWatchEventsCmd(v))
	root.RunE = serve.RunE
	return root
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
