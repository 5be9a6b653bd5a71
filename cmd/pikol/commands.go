package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Pikol/internal/config"
	"Pikol/internal/gateway"
	"Pikol/internal/telemetry"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the chat bridge and serve roleplay sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if cfg.Gateway.URL == "" {
				return fmt.Errorf("gateway.url must not be empty")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gw := gateway.NewWebSocket(cfg.Gateway.URL, nil)
			return serve(ctx, cfg, gw)
		},
	}

	cmd.Flags().String("gateway-url", "", "Chat bridge websocket URL")
	cmd.Flags().String("status-addr", "", "Status API listen address (empty disables)")
	_ = v.BindPFlag("gateway.url", cmd.Flags().Lookup("gateway-url"))
	_ = v.BindPFlag("status.addr", cmd.Flags().Lookup("status-addr"))
	return cmd
}

func newConsoleCmd(v *viper.Viper) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Roleplay with Pikol in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			cfg.Status.Addr = ""

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gw := gateway.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout(), name)
			return serve(ctx, cfg, gw)
		},
	}

	cmd.Flags().StringVar(&name, "name", os.Getenv("USER"), "Speaker name used for your messages")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), telemetry.Version)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, gw chatGateway) error {
	a, err := newApp(ctx, cfg, gw)
	if err != nil {
		return err
	}
	return a.run(ctx)
}
