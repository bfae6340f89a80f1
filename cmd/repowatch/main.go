package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"repowatch/internal/app"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		opts     app.Options
		interval int
		once     bool
	)
	cmd := &cobra.Command{
		Use:           "repowatch",
		Short:         "Watch svn and git repositories and notify about new commits",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval < 0 {
				return fmt.Errorf("--interval must be >= 0")
			}
			opts.Interval = time.Duration(interval) * time.Second
			err := run(cmd.Context(), opts, once)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "fatal:", err)
			}
			return err
		},
	}
	cmd.SetVersionTemplate("repowatch {{.Version}}\n")

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (default: search ./ and the user config dir)")
	f.IntVarP(&interval, "interval", "i", 0, "poll interval in seconds; overrides watch.schedule and watch.interval")
	f.BoolVar(&once, "once", false, "run a single pass over every repository and exit")
	f.BoolVar(&opts.DryRun, "dry-run", false, "keep watermarks in memory and only log notifications")
	return cmd
}

func run(parent context.Context, opts app.Options, once bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(opts)
	if err != nil {
		return err
	}

	if once {
		done := make(chan error, 1)
		go func() { done <- a.RunOnce(ctx) }()
		var runErr error
		reason := app.StopOnceDone
		select {
		case runErr = <-done:
		case sig := <-sigs:
			reason = stopReason(sig)
			cancel()
			runErr = <-done
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, reason)
		return runErr
	}

	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		reason = stopReason(sig)
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func stopReason(sig os.Signal) app.StopReason {
	switch sig {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	default:
		return app.StopUnknown
	}
}
