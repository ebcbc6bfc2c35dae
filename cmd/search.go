package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type searchOptions struct {
	jurisdiction string
	noCache      bool
	normalized   bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Run one registry search and print companies as JSON lines",
		Long: `Searches the registry for the query and prints one JSON object per
company as soon as it is extracted. Uses the configured store as a cache
unless --no-cache is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearchCommand(cmd, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringVar(&opts.jurisdiction, "jurisdiction", "", "registry jurisdiction code, e.g. us_de")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "ignore cached results and scrape fresh")
	cmd.Flags().BoolVar(&opts.normalized, "normalized", false, "emit canonical field names")
	return cmd
}

func runSearchCommand(cmd *cobra.Command, query string, opts searchOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	stream, err := appInstance.Service().Search(cmd.Context(), query, opts.jurisdiction, !opts.noCache)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	count := 0
	for entity, err := range stream.Entities {
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		var line any = entity
		if opts.normalized {
			line = entity.Normalized()
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		count++
	}
	appInstance.Logger().Info("search finished",
		zap.String("query", query),
		zap.Bool("cached", stream.Cached),
		zap.Int("companies", count),
	)
	return nil
}
