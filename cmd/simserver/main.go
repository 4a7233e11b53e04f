// cmd/simserver serves strategy backtests and streamed simulations over
// HTTP, SSE and WebSocket.
//
// Usage:
//
//	go run ./cmd/simserver --config=stratsim.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"stratsim/internal/app"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:          "simserver",
		Short:        "Strategy simulation server",
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			a := fx.New(
				app.Module(configPath),
				fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
					return &fxevent.ZapLogger{Logger: l.Named("fx")}
				}),
			)
			if err := a.Err(); err != nil {
				return err
			}
			a.Run()
			return nil
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "config file (yaml/json/toml); STRATSIM_* env vars override")
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "[simserver]", err)
		os.Exit(1)
	}
}
