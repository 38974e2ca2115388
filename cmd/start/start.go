package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/dyet92k/morph/api"
	"github.com/dyet92k/morph/internal/app"
	"github.com/dyet92k/morph/internal/metrics"
	"github.com/dyet92k/morph/pkg/env"
	"github.com/dyet92k/morph/pkg/log"
	"github.com/spf13/cobra"
)

const (
	usage   = "start"
	short   = "Start a morph API server"
	long    = "This command migrates the database and serves the morph API until interrupted"
	example = "morph start"
)

// shutdownTimeout bounds how long in-flight requests may take
// once a shutdown signal arrives.
const shutdownTimeout = 10 * time.Second

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "serve"},
		Example:    example,
		RunE:       start,
	}
)

func start(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	vars := env.Variables()

	log.Info("building services")
	a, err := app.Build(ctx, vars)
	if err != nil {
		return err
	}
	defer a.Close()

	metrics.Register()

	server := api.New(api.Deps{
		Store:  a.Store,
		Runner: a.Runner,
		Sink:   a.Sink,
		Bus:    a.Bus,
	})

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("gracefully shutting down", "signal", s.String())
				shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
				if err := server.Shutdown(shutdownCtx); err != nil {
					log.Error("api shutdown failure", "error", err)
				}
				done()
				return
			}
		}
	}()

	log.Info("spinning up api", "port", vars.Port)
	return server.Start(vars.Port)
}
