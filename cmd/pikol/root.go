package main

import (
	"fmt"
	"os"
	"strings"

	"Pikol/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "PIKOL"

func Execute() {
	root := newRootCmd(viper.New())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pikol",
		Short:         "Pikol the wizard cat, a roleplay bot backed by a local Ollama server",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Config file path (optional).")
	flags.String("ollama-host", config.DefaultOllamaHost, "Ollama host")
	flags.Int("ollama-port", config.DefaultOllamaPort, "Ollama port")
	flags.String("ollama-model", config.DefaultOllamaModel, "Ollama model (format: model:version)")
	flags.String("log-level", "info", "Log level (debug|info|warn|error)")

	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("ollama.host", flags.Lookup("ollama-host"))
	_ = v.BindPFlag("ollama.port", flags.Lookup("ollama-port"))
	_ = v.BindPFlag("ollama.model", flags.Lookup("ollama-model"))
	_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))

	cmd.AddCommand(newRunCmd(v))
	cmd.AddCommand(newConsoleCmd(v))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func initConfig(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	config.SetDefaults(v)

	cfgFile := strings.TrimSpace(v.GetString("config"))
	if cfgFile == "" {
		return nil
	}

	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}
