// Command conduit-dial resolves and connects a transport endpoint to a
// peer, reconnecting with exponential backoff when the connection is lost
// or cannot be established.
//
// Usage:
//
//	conduit-dial [flags] <address>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conduitmesh/conduit/pkg/endpoint"
	"github.com/conduitmesh/conduit/pkg/epbase"
	"github.com/conduitmesh/conduit/pkg/log"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	logFile     string
	console     bool
	interactive bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "conduit-dial <address>",
		Short:        "Resolve, connect, and maintain a transport endpoint to a peer",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runDial,
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "YAML options file (overrides the option defaults)")
	cmd.Flags().StringVar(&logFile, "log", "", "write protocol events to this CBOR log file")
	cmd.Flags().BoolVar(&console, "console", true, "print protocol events to the console")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "drop into an interactive status prompt instead of blocking on a signal")

	viper.BindPFlag("log", cmd.Flags().Lookup("log"))
	viper.BindPFlag("console", cmd.Flags().Lookup("console"))
	viper.SetEnvPrefix("conduit_dial")
	viper.AutomaticEnv()

	return cmd
}

func runDial(cmd *cobra.Command, args []string) error {
	address := args[0]

	opts := epbase.DefaultOptions()
	if cfgFile != "" {
		var err error
		opts, err = epbase.LoadOptionsFile(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}

	logger, closeLogger, err := buildLogger(viper.GetString("log"), viper.GetBool("console"))
	if err != nil {
		return err
	}
	defer closeLogger()

	c, err := endpoint.NewConnected(address, opts, logger)
	if err != nil {
		return fmt.Errorf("creating connected endpoint: %w", err)
	}

	stopped := make(chan struct{})
	c.Base().SetStoppedHook(func() { close(stopped) })
	c.Start()
	defer c.Destroy()

	if interactive {
		runInteractive(c)
		c.Stop()
		<-stopped
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	fmt.Fprintln(os.Stderr, "shutting down...")
	c.Stop()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		fmt.Fprintln(os.Stderr, "timed out waiting for clean shutdown")
	}
	return nil
}

func buildLogger(path string, console bool) (log.Logger, func(), error) {
	var loggers []log.Logger
	closeFn := func() {}

	if path != "" {
		fl, err := log.NewFileLogger(path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		loggers = append(loggers, fl)
		closeFn = func() { fl.Close() }
	}
	if console {
		zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
		loggers = append(loggers, log.NewZerologAdapter(zl))
	}

	switch len(loggers) {
	case 0:
		return log.NoopLogger{}, closeFn, nil
	case 1:
		return loggers[0], closeFn, nil
	default:
		return log.NewMultiLogger(loggers...), closeFn, nil
	}
}
