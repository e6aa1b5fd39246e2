package cliapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

// Lifecycle represents a long-running service started by a CLI command.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stopped() bool
}

// LifeCycleAction instantiates a Lifecycle based on a CLI context.
type LifeCycleAction func(ctx *cli.Context) (Lifecycle, error)

// LifecycleCmd turns a LifeCycleAction into a cli action: it builds the
// service, starts it, blocks until an interrupt signal arrives and then
// stops it. A second interrupt aborts the graceful stop.
func LifecycleCmd(fn LifeCycleAction) cli.ActionFunc {
	return func(cliCtx *cli.Context) error {
		ctx, cancel := context.WithCancel(cliCtx.Context)
		defer cancel()
		cliCtx.Context = ctx

		appLifecycle, err := fn(cliCtx)
		if err != nil {
			return errors.Join(fmt.Errorf("failed to setup: %w", err), ctx.Err())
		}

		if err := appLifecycle.Start(ctx); err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(interrupt)

		select {
		case sig := <-interrupt:
			log.Info("received signal, stopping", "signal", sig)
		case <-ctx.Done():
		}

		stopCtx, stopCancel := context.WithCancel(context.Background())
		defer stopCancel()
		go func() {
			select {
			case <-interrupt:
				log.Warn("second interrupt, aborting graceful stop")
				stopCancel()
			case <-stopCtx.Done():
			}
		}()

		if err := appLifecycle.Stop(stopCtx); err != nil {
			return fmt.Errorf("failed to stop: %w", err)
		}
		return nil
	}
}
