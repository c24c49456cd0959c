package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	ServiceName = "crlctl"
)

var version = "0.0.0"

// Run is the crlctl binary's entry point.
func Run() error {
	app := &cli.App{
		Name: ServiceName,
		Usage: "connection resilience layer",
		Version: version,
		Commands: []*cli.Command{
			serverCmd(),
			dashboardCmd(),
			sendCmd(),
		},
	}
	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name: "server",
		Aliases: []string{"s"},
		Usage: "run the resilience layer and its telemetry endpoint",
		Action: func(c *cli.Context) error {
			fxApp := NewApp()

			startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := fxApp.Start(startCtx); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("SHUTTING_DOWN")
			stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return fxApp.Stop(stopCtx)
		},
	}
}
