package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goliatone/go-fulfillment/adapters/gocommand"
	fulfillmentcommand "github.com/goliatone/go-fulfillment/command"
	"github.com/goliatone/go-fulfillment/core"
	"github.com/spf13/cobra"
)

var Version = "dev"

type cliOptions struct {
	configPath string
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	lookupEnv  func(string) (string, bool)
}

func main() {
	opts := &cliOptions{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr, lookupEnv: os.LookupEnv}
	if err := newRootCmd(opts).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "fulfillmentd",
		Short:         "Payment-event fulfillment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a config file (.yaml, .json or .toml)")

	root.AddCommand(serveCmd(opts))
	root.AddCommand(migrateCmd(opts))
	root.AddCommand(dispatchCmd(opts))
	root.AddCommand(sealCmd(opts))
	return root
}

func (o *cliOptions) load(ctx context.Context) (appConfig, slogProvider, error) {
	cfg, err := loadConfig(ctx, o.configPath, o.lookupEnv)
	if err != nil {
		return appConfig{}, slogProvider{}, err
	}
	return cfg, slogProvider{root: newSlogLogger(o.stderr, cfg.Log)}, nil
}

func serveCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Migrate the schema, then serve HTTP and drain the notification outbox",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cfg, provider, err := opts.load(ctx)
			if err != nil {
				return err
			}
			app, err := buildApplication(ctx, cfg, provider, buildOptions{worker: true})
			if err != nil {
				return err
			}
			defer app.close()
			return app.serve(ctx)
		},
	}
}

func migrateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, provider, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.close()
			if err := db.migrate(cmd.Context()); err != nil {
				return err
			}
			provider.GetLogger("fulfillment").Info("schema migrated", "dialect", db.dialect)
			return nil
		},
	}
}

func dispatchCmd(opts *cliOptions) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one notification outbox dispatch pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, provider, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			app, err := buildApplication(cmd.Context(), cfg, provider, buildOptions{})
			if err != nil {
				return err
			}
			defer app.close()

			stats, err := app.dispatchOnce(cmd.Context(), batch)
			fmt.Fprintf(opts.stdout, "claimed=%d delivered=%d retried=%d dead_lettered=%d\n",
				stats.Claimed, stats.Delivered, stats.Retried, stats.DeadLettered)
			return err
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "maximum tasks to claim (0 uses notifications.batch_size)")
	return cmd
}

func sealCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seal [value]",
		Short: "Seal a secret under security.app_key for use in the config file",
		Long:  "Seal a secret under security.app_key. The value is read from stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), opts.configPath, opts.lookupEnv)
			if err != nil {
				return err
			}
			ring, err := secretKeyRing(cfg.Security)
			if err != nil {
				return err
			}
			if ring == nil {
				return fmt.Errorf("fulfillmentd: seal needs security.app_key")
			}

			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				if opts.stdin == nil {
					return fmt.Errorf("fulfillmentd: no value to seal")
				}
				raw, err := io.ReadAll(opts.stdin)
				if err != nil {
					return fmt.Errorf("fulfillmentd: read value: %w", err)
				}
				value = strings.TrimRight(string(raw), "\r\n")
			}
			if value == "" {
				return fmt.Errorf("fulfillmentd: no value to seal")
			}
			sealed, err := ring.Primary().Seal(cmd.Context(), value)
			if err != nil {
				return err
			}
			fmt.Fprintln(opts.stdout, sealed)
			return nil
		},
	}
}

func (a *application) dispatchOnce(ctx context.Context, batch int) (core.DispatchStats, error) {
	return gocommand.DispatchWithResult[fulfillmentcommand.DispatchNotificationsMessage, core.DispatchStats](
		ctx,
		fulfillmentcommand.DispatchNotificationsMessage{BatchSize: batch},
	)
}

func (a *application) serve(ctx context.Context) error {
	handler, err := a.router()
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:         a.config.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  a.config.HTTP.ReadTimeout,
		WriteTimeout: a.config.HTTP.WriteTimeout,
	}

	if err := a.worker.Start(ctx); err != nil {
		return fmt.Errorf("fulfillmentd: start notification worker: %w", err)
	}
	// Pick up tasks left behind by a previous process.
	a.outbox.Wake()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		err = errors.Join(err, shutdownErr)
	}
	if stopErr := a.worker.Stop(shutdownCtx); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	a.logger.Info("fulfillment service stopped")
	return err
}
