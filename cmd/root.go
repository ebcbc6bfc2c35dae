// Package cmd defines the CLI commands for the registry-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-crawler/internal/config"
	"github.com/JakeFAU/registry-crawler/internal/search"
	"github.com/JakeFAU/registry-crawler/internal/server"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface commands use. Tests inject a fake.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Service() *search.Service
}

// newApp is the application factory, replaceable in tests.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var app App
	cmd := &cobra.Command{
		Use:   "registry-crawler",
		Short: "Search a public company registry and cache the results.",
		Long: `registry-crawler scrapes company records from a public registry.
It serves a search and job API, and can run a one-off search from the
command line.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, err = newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, app))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())

	cobra.OnFinalize(func() {
		if app != nil {
			if err := app.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "shutdown failed: %v\n", err)
			}
			app = nil
		}
	})
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		os.Exit(1)
	}
}
